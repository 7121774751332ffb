package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDataURLRoundTrip(t *testing.T) {
	data := pngBytes(t, 3, 2)
	u := EncodeDataURL("", data)
	if !IsDataURL(u) {
		t.Fatalf("not a data URL: %.40s", u)
	}

	mediaType, got, err := DecodeDataURL(u)
	if err != nil {
		t.Fatalf("DecodeDataURL: %v", err)
	}
	if mediaType != "image/png" {
		t.Fatalf("media type = %q, want image/png", mediaType)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("decoded bytes differ")
	}
}

func TestDecodeDataURL(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		wantType string
		wantData string
		wantErr  bool
	}{
		{name: "plain text", input: "data:,hello%20world", wantType: "text/plain", wantData: "hello world"},
		{name: "base64", input: "data:text/plain;base64,aGk=", wantType: "text/plain", wantData: "hi"},
		{name: "unpadded base64", input: "data:text/plain;base64,aGk", wantType: "text/plain", wantData: "hi"},
		{name: "missing comma", input: "data:image/png;base64", wantErr: true},
		{name: "not data", input: "https://example.com/a.png", wantErr: true},
		{name: "bad base64", input: "data:image/png;base64,@@@", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mediaType, data, err := DecodeDataURL(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if mediaType != tc.wantType || string(data) != tc.wantData {
				t.Fatalf("got %q %q, want %q %q", mediaType, data, tc.wantType, tc.wantData)
			}
		})
	}
}

func TestProbe(t *testing.T) {
	info, err := Probe(pngBytes(t, 64, 48))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.MimeType != "image/png" || info.Extension != "png" {
		t.Fatalf("type = %q ext = %q", info.MimeType, info.Extension)
	}
	if info.Width != 64 || info.Height != 48 {
		t.Fatalf("dimensions = %dx%d, want 64x48", info.Width, info.Height)
	}

	if _, err := Probe([]byte("{\"not\": \"an image\"}")); !errors.Is(err, ErrNotImage) {
		t.Fatalf("got %v, want ErrNotImage", err)
	}
}

func TestFetcher(t *testing.T) {
	payload := pngBytes(t, 4, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(payload)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, 0)
	ctx := context.Background()

	data, contentType, err := f.Fetch(ctx, srv.URL+"/ok.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if contentType != "image/png" || !bytes.Equal(data, payload) {
		t.Fatalf("unexpected fetch result %q (%d bytes)", contentType, len(data))
	}

	if _, _, err := f.Fetch(ctx, srv.URL+"/missing.png"); err == nil {
		t.Fatal("expected error for 404")
	}
	if _, _, err := f.Fetch(ctx, "ftp://example.com/a.png"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}

	small := NewFetcher(5*time.Second, 10)
	if _, _, err := small.Fetch(ctx, srv.URL+"/ok.png"); err == nil {
		t.Fatal("expected size limit error")
	}
	if _, _, err := small.Fetch(ctx, EncodeDataURL("image/png", payload)); err == nil {
		t.Fatal("expected size limit error for data URL")
	}
}
