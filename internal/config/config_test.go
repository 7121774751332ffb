package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REPLICATE_API_TOKEN", "r8_test")
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Poller.Interval != time.Second || cfg.Poller.MaxAttempts != 60 {
		t.Errorf("poller = %+v, want 1s x 60", cfg.Poller)
	}
	if cfg.Graph.DeletePolicy != "orphan" {
		t.Errorf("delete policy = %q", cfg.Graph.DeletePolicy)
	}
	if cfg.DefaultProvider != "replicate" {
		t.Errorf("default provider = %q", cfg.DefaultProvider)
	}
	p, ok := cfg.Provider("replicate")
	if !ok {
		t.Fatal("replicate provider missing")
	}
	if p.APIKey != "r8_test" {
		t.Errorf("api key not resolved from env: %q", p.APIKey)
	}
	if p.StatusPath != "/predictions/{id}" || p.AuthScheme != "Bearer" {
		t.Errorf("defaults not applied: %+v", p)
	}
}

func TestLoad_Providers(t *testing.T) {
	body := `
default_provider: studio
poller:
  interval: 250ms
  max_attempts: 8
providers:
  - name: studio
    type: rest
    base_url: http://localhost:9000
    version: abc123
    status_path: /jobs/{id}
  - name: gemini
    type: gemini
    model: gemini-2.5-flash-image
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("providers = %d", len(cfg.Providers))
	}
	if cfg.Poller.Interval != 250*time.Millisecond || cfg.Poller.MaxAttempts != 8 {
		t.Errorf("poller = %+v", cfg.Poller)
	}
	studio, _ := cfg.Provider("studio")
	if studio.StatusPath != "/jobs/{id}" || studio.SubmitPath != "/predictions" {
		t.Errorf("paths = %q %q", studio.SubmitPath, studio.StatusPath)
	}
}

func TestLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "unknown driver",
			body:    "database:\n  driver: mysql\n",
			wantErr: "unknown driver",
		},
		{
			name:    "unknown delete policy",
			body:    "graph:\n  delete_policy: shred\n",
			wantErr: "delete_policy",
		},
		{
			name:    "unknown provider type",
			body:    "providers:\n  - name: x\n    type: grpc\n",
			wantErr: "unknown type",
		},
		{
			name:    "missing default provider",
			body:    "default_provider: nope\n",
			wantErr: "not defined",
		},
		{
			name:    "duplicate provider",
			body:    "providers:\n  - {name: g, type: gemini, model: m}\n  - {name: g, type: gemini, model: m}\n",
			wantErr: "defined twice",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("got %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}
