package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/timmy/lookbook/internal/logger"
)

// publicReadPolicy lets browsers load mirrored images straight from the bucket.
const publicReadPolicy = `{
	"Version": "2012-10-17",
	"Statement": [{
		"Effect": "Allow",
		"Principal": {"AWS": ["*"]},
		"Action": ["s3:GetObject"],
		"Resource": ["arn:aws:s3:::%s/artifacts/*"]
	}]
}`

// MinIOStorage stores artifacts in a MinIO bucket.
type MinIOStorage struct {
	client    *minio.Client
	bucket    string
	region    string
	publicURL string
}

// NewMinIOStorage creates a MinIO client for cfg.
func NewMinIOStorage(cfg Config) (*MinIOStorage, error) {
	host := normalizeEndpoint(cfg.Endpoint)
	region := cfg.Region
	if region == "auto" {
		region = ""
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	publicURL := strings.TrimSuffix(cfg.PublicURL, "/")
	if publicURL == "" {
		publicURL = cfg.scheme() + "://" + host + "/" + cfg.Bucket
	}
	return &MinIOStorage{
		client:    client,
		bucket:    cfg.Bucket,
		region:    region,
		publicURL: publicURL,
	}, nil
}

// EnsureBucket creates the bucket with a public-read policy on artifacts/.
func (s *MinIOStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	if err := s.client.SetBucketPolicy(ctx, s.bucket, fmt.Sprintf(publicReadPolicy, s.bucket)); err != nil {
		// The bucket exists; URLs just will not be public.
		logger.FromContext(ctx).WithError(err).Warn("Failed to set bucket policy")
	}
	return nil
}

// Upload writes an object.
func (s *MinIOStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Download opens an object.
func (s *MinIOStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	return obj, nil
}

// GetURL returns the public URL of key.
func (s *MinIOStorage) GetURL(key string) string {
	return s.publicURL + "/" + key
}

// Delete removes an object.
func (s *MinIOStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key is stored.
func (s *MinIOStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", key, err)
}
