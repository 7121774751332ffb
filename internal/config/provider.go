package config

import (
	"fmt"
	"os"
	"time"
)

// Provider types.
const (
	ProviderTypeREST   = "rest"
	ProviderTypeGemini = "gemini"
)

// ProviderConfig defines one external image service.
type ProviderConfig struct {
	Name       string        `mapstructure:"name"`        // Unique identifier used in requests
	Type       string        `mapstructure:"type"`        // "rest" or "gemini"
	BaseURL    string        `mapstructure:"base_url"`    // Root of the REST API
	APIKey     string        `mapstructure:"api_key"`     // API key (can be set directly or via env var)
	APIKeyEnv  string        `mapstructure:"api_key_env"` // Environment variable name for API key
	AuthScheme string        `mapstructure:"auth_scheme"` // Authorization scheme, "Bearer" by default
	Model      string        `mapstructure:"model"`       // Model name (gemini) or owner/name (rest)
	Version    string        `mapstructure:"version"`     // Model version hash for versioned REST APIs
	SubmitPath string        `mapstructure:"submit_path"` // Relative path for job creation
	StatusPath string        `mapstructure:"status_path"` // Relative path for status, {id} is replaced
	Timeout    time.Duration `mapstructure:"timeout"`     // Per-request HTTP timeout
	CacheSize  int           `mapstructure:"cache_size"`  // Completed jobs kept by synchronous providers
}

// ResolveEnvVars loads the API key from APIKeyEnv when it is not set directly.
func (c *ProviderConfig) ResolveEnvVars() {
	if c.APIKeyEnv != "" && c.APIKey == "" {
		if val := os.Getenv(c.APIKeyEnv); val != "" {
			c.APIKey = val
		}
	}
}

// ApplyDefaults fills the optional fields.
func (c *ProviderConfig) ApplyDefaults() {
	if c.AuthScheme == "" {
		c.AuthScheme = "Bearer"
	}
	if c.SubmitPath == "" {
		c.SubmitPath = "/predictions"
	}
	if c.StatusPath == "" {
		c.StatusPath = "/predictions/{id}"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 256
	}
}

// Validate checks that the provider configuration has all required fields.
// The API key is not required here; a provider without one fails at submit time.
func (c *ProviderConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("provider config: name is required")
	}
	switch c.Type {
	case ProviderTypeREST:
		if c.BaseURL == "" {
			return fmt.Errorf("provider %q: base_url is required", c.Name)
		}
		if c.Version == "" && c.Model == "" {
			return fmt.Errorf("provider %q: version or model is required", c.Name)
		}
	case ProviderTypeGemini:
		if c.Model == "" {
			return fmt.Errorf("provider %q: model is required", c.Name)
		}
	default:
		return fmt.Errorf("provider %q: unknown type %q", c.Name, c.Type)
	}
	return nil
}
