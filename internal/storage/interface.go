package storage

import (
	"context"
	"io"
	"path"
	"strings"
)

// ObjectStorage stores mirrored artifact images.
type ObjectStorage interface {
	// Upload writes an object under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens the object under key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the public URL of key. It does not check existence.
	GetURL(key string) string

	// Delete removes the object under key.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// EnsureBucket creates the bucket when the backend allows it.
	EnsureBucket(ctx context.Context) error
}

// ArtifactKey is the object key for an artifact image:
// artifacts/{workspace}/{id}.{ext}.
func ArtifactKey(workspaceID, artifactID, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	return path.Join("artifacts", sanitizeSegment(workspaceID), sanitizeSegment(artifactID)+"."+ext)
}

// sanitizeSegment keeps a key segment from escaping its prefix.
func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
