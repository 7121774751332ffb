package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/timmy/lookbook/internal/logger"
	"github.com/timmy/lookbook/internal/media"
	"github.com/timmy/lookbook/internal/storage"
)

// Fetcher loads a job result.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, string, error)
}

// MirroredImage is a job result as kept by the studio.
type MirroredImage struct {
	Locator    string
	StorageKey string
	MimeType   string
	Width      int
	Height     int
	Size       int64
}

// Mirror copies job results into object storage so artifacts outlive the
// provider's temporary URLs.
type Mirror struct {
	storage storage.ObjectStorage
	fetch   Fetcher
}

// NewMirror creates a Mirror. A nil store disables mirroring: remote results are
// referenced in place and inline results are refused.
func NewMirror(store storage.ObjectStorage, fetch Fetcher) *Mirror {
	return &Mirror{storage: store, fetch: fetch}
}

// Enabled reports whether results are copied to storage.
func (m *Mirror) Enabled() bool {
	return m.storage != nil
}

// Mirror stores result under the artifact key of (workspaceID, artifactID).
func (m *Mirror) Mirror(ctx context.Context, workspaceID, artifactID, result string) (MirroredImage, error) {
	if !m.Enabled() {
		if media.IsDataURL(result) {
			return MirroredImage{}, fmt.Errorf("%w: inline result cannot be referenced", ErrStorageDisabled)
		}
		return MirroredImage{Locator: result}, nil
	}

	start := time.Now()
	data, declared, err := m.fetch.Fetch(ctx, result)
	if err != nil {
		return MirroredImage{}, fmt.Errorf("fetch result: %w", err)
	}
	info, err := media.Probe(data)
	if err != nil {
		return MirroredImage{}, fmt.Errorf("inspect result (declared %q): %w", declared, err)
	}

	key := storage.ArtifactKey(workspaceID, artifactID, info.Extension)
	if err := m.storage.Upload(ctx, key, bytes.NewReader(data), info.Size, info.MimeType); err != nil {
		return MirroredImage{}, fmt.Errorf("store result: %w", err)
	}

	logger.With(logger.Fields{
		logger.FieldArtifactID: artifactID,
		logger.FieldSize:       info.Size,
		"key":                  key,
	}).WithDuration(time.Since(start)).Debug(ctx, "Result mirrored")

	return MirroredImage{
		Locator:    m.storage.GetURL(key),
		StorageKey: key,
		MimeType:   info.MimeType,
		Width:      info.Width,
		Height:     info.Height,
		Size:       info.Size,
	}, nil
}

// Remove deletes a mirrored object. Missing objects and disabled storage are not
// errors.
func (m *Mirror) Remove(ctx context.Context, key string) error {
	if !m.Enabled() || key == "" {
		return nil
	}
	return m.storage.Delete(ctx, key)
}
