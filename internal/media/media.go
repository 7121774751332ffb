// Package media reads image payloads from provider results: data URLs, remote
// URLs, and the metadata of the bytes themselves.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	_ "golang.org/x/image/webp"
)

// ErrNotImage is returned when a payload is not a decodable image.
var ErrNotImage = errors.New("payload is not an image")

// Info describes an image payload.
type Info struct {
	MimeType  string
	Extension string
	Width     int
	Height    int
	Size      int64
}

// IsDataURL reports whether s is a data: URL.
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// EncodeDataURL returns data as a base64 data URL.
func EncodeDataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL parses a data URL into its media type and bytes.
func DecodeDataURL(s string) (string, []byte, error) {
	if !IsDataURL(s) {
		return "", nil, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URL: missing payload")
	}
	mediaType := meta
	isBase64 := false
	if strings.HasSuffix(meta, ";base64") {
		mediaType = strings.TrimSuffix(meta, ";base64")
		isBase64 = true
	}
	if mediaType == "" {
		mediaType = "text/plain"
	}

	if !isBase64 {
		raw, err := url.PathUnescape(payload)
		if err != nil {
			return "", nil, fmt.Errorf("malformed data URL: %w", err)
		}
		return mediaType, []byte(raw), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some providers omit padding.
		if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return "", nil, fmt.Errorf("malformed data URL: %w", err)
		}
	}
	return mediaType, data, nil
}

// Fetcher downloads remote payloads.
type Fetcher struct {
	client  *resty.Client
	maxSize int64
}

// NewFetcher creates a Fetcher. maxSize <= 0 disables the size check.
func NewFetcher(timeout time.Duration, maxSize int64) *Fetcher {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "image/*")
	return &Fetcher{client: client, maxSize: maxSize}
}

// Fetch returns the bytes behind locator, which is either a data URL or an
// http(s) URL, together with the content type the source declared.
func (f *Fetcher) Fetch(ctx context.Context, locator string) ([]byte, string, error) {
	if IsDataURL(locator) {
		mediaType, data, err := DecodeDataURL(locator)
		if err != nil {
			return nil, "", err
		}
		return data, mediaType, f.checkSize(int64(len(data)))
	}

	u, err := url.Parse(locator)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", fmt.Errorf("unsupported locator %q", locator)
	}

	resp, err := f.client.R().SetContext(ctx).Get(locator)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", u.Host, err)
	}
	if resp.StatusCode() != 200 {
		return nil, "", fmt.Errorf("download %s: status %d", u.Host, resp.StatusCode())
	}
	data := resp.Body()
	if err := f.checkSize(int64(len(data))); err != nil {
		return nil, "", err
	}
	return data, resp.Header().Get("Content-Type"), nil
}

func (f *Fetcher) checkSize(n int64) error {
	if f.maxSize > 0 && n > f.maxSize {
		return fmt.Errorf("payload of %d bytes exceeds limit of %d", n, f.maxSize)
	}
	return nil
}

// Probe sniffs the content type of data and reads its pixel dimensions.
func Probe(data []byte) (Info, error) {
	mt := mimetype.Detect(data)
	info := Info{
		MimeType:  mt.String(),
		Extension: strings.TrimPrefix(mt.Extension(), "."),
		Size:      int64(len(data)),
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return info, fmt.Errorf("%w: detected %s", ErrNotImage, mt.String())
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		// Formats without a registered decoder (avif, heic) keep zero dimensions.
		return info, nil
	}
	info.Width = cfg.Width
	info.Height = cfg.Height
	return info, nil
}
