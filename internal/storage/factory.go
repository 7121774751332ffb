package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/timmy/lookbook/internal/config"
)

// StorageType selects the storage backend.
type StorageType string

const (
	StorageTypeR2           StorageType = "r2"
	StorageTypeS3           StorageType = "s3"
	StorageTypeS3Compatible StorageType = "s3compatible"
	StorageTypeMinIO        StorageType = "minio"
	StorageTypeMemory       StorageType = "memory"
)

// Config holds the connection settings shared by all backends.
type Config struct {
	Type      StorageType
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
	PublicURL string // Public URL prefix, e.g. an R2.dev domain or CDN
}

// FromAppConfig converts the storage section of the application config.
func FromAppConfig(c config.StorageConfig) Config {
	return Config{
		Type:      StorageType(strings.ToLower(c.Type)),
		Endpoint:  c.Endpoint,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		UseSSL:    c.UseSSL || strings.HasPrefix(c.Endpoint, "https://"),
		Bucket:    c.Bucket,
		Region:    c.Region,
		PublicURL: c.PublicURL,
	}
}

func (c Config) scheme() string {
	if c.UseSSL {
		return "https"
	}
	return "http"
}

// NewStorage creates the ObjectStorage for cfg. An empty type is detected from
// the endpoint.
func NewStorage(ctx context.Context, cfg Config) (ObjectStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: bucket is required")
	}
	if cfg.Type == "" {
		cfg.Type = detectStorageType(cfg.Endpoint)
	}

	switch cfg.Type {
	case StorageTypeMemory:
		return NewMemoryStorage(cfg.PublicURL), nil
	case StorageTypeMinIO:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("storage: endpoint is required for minio")
		}
		return NewMinIOStorage(cfg)
	case StorageTypeS3, StorageTypeR2, StorageTypeS3Compatible:
		if cfg.Type != StorageTypeS3 && cfg.Endpoint == "" {
			return nil, fmt.Errorf("storage: endpoint is required for %s", cfg.Type)
		}
		return NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("storage: unknown type %q", cfg.Type)
	}
}

// detectStorageType guesses the backend from the endpoint host.
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"), endpoint == "":
		return StorageTypeS3
	case strings.Contains(endpoint, ":9000"), strings.Contains(endpoint, "minio"):
		return StorageTypeMinIO
	default:
		return StorageTypeS3Compatible
	}
}
