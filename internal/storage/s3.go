package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Storage stores artifacts in an S3-compatible bucket (AWS S3, Cloudflare R2,
// or any service speaking the S3 API with path-style addressing).
type S3Storage struct {
	client    *s3.Client
	bucket    string
	storeType StorageType
	publicURL string
}

// NewS3Storage creates an S3 client for cfg.
func NewS3Storage(ctx context.Context, cfg Config) (*S3Storage, error) {
	host := normalizeEndpoint(cfg.Endpoint)
	region := cfg.Region
	if region == "" || (region == "auto" && cfg.Type != StorageTypeR2) {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if host != "" {
			o.BaseEndpoint = aws.String(cfg.scheme() + "://" + host)
		}
		o.UsePathStyle = cfg.Type != StorageTypeS3
	})

	publicURL := strings.TrimSuffix(cfg.PublicURL, "/")
	if publicURL == "" && host != "" {
		publicURL = cfg.scheme() + "://" + host + "/" + cfg.Bucket
	}

	return &S3Storage{
		client:    client,
		bucket:    cfg.Bucket,
		storeType: cfg.Type,
		publicURL: publicURL,
	}, nil
}

// EnsureBucket creates the bucket if it is missing. R2 buckets must be created in
// the dashboard.
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}
	if s.storeType == StorageTypeR2 {
		return fmt.Errorf("bucket %s does not exist, create it in the R2 dashboard", s.bucket)
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload writes an object.
func (s *S3Storage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          reader,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Download opens an object.
func (s *S3Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	return out.Body, nil
}

// GetURL returns the public URL of key.
func (s *S3Storage) GetURL(key string) string {
	return s.publicURL + "/" + key
}

// Delete removes an object. Deleting a missing key is not an error.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key is stored.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", key, err)
}

// normalizeEndpoint strips scheme and path from an endpoint.
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	if idx := strings.Index(endpoint, "/"); idx != -1 {
		endpoint = endpoint[:idx]
	}
	return endpoint
}
