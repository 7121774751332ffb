package provider

import (
	"context"
	"testing"

	"github.com/timmy/lookbook/internal/config"
	"github.com/timmy/lookbook/internal/logger"
)

func TestBuild(t *testing.T) {
	cfg := &config.Config{
		DefaultProvider: "gemini",
		Providers: []config.ProviderConfig{
			{Name: "replicate", Type: config.ProviderTypeREST, BaseURL: "http://localhost:1", Version: "v"},
			// No key: skipped.
			{Name: "gemini", Type: config.ProviderTypeGemini, Model: "gemini-2.5-flash-image"},
		},
	}

	r, err := Build(context.Background(), cfg, logger.Discard())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	if r.Default() != "replicate" {
		t.Fatalf("Default = %q, want fallback to replicate", r.Default())
	}

	tr, err := r.Resolve("")
	if err != nil || tr.Name() != "replicate" {
		t.Fatalf("Resolve(\"\") = %v, %v", tr, err)
	}
	if _, err := r.Resolve("midjourney"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestBuild_NoUsableProviders(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.ProviderConfig{{Name: "gemini", Type: config.ProviderTypeGemini, Model: "m"}},
	}
	if _, err := Build(context.Background(), cfg, logger.Discard()); err == nil {
		t.Fatal("expected error")
	}
}
