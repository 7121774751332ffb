package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server          ServerConfig     `mapstructure:"server"`
	Database        DatabaseConfig   `mapstructure:"database"`
	Storage         StorageConfig    `mapstructure:"storage"`
	Providers       []ProviderConfig `mapstructure:"providers"`
	DefaultProvider string           `mapstructure:"default_provider"`
	Poller          PollerConfig     `mapstructure:"poller"`
	Graph           GraphConfig      `mapstructure:"graph"`
	Generation      GenerationConfig `mapstructure:"generation"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`   // sqlite file
	URL             string        `mapstructure:"url"`    // postgres DSN
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // s3, r2, s3compatible, minio
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	MaxSize   int64  `mapstructure:"max_size"` // largest result mirrored, in bytes
}

type PollerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type GraphConfig struct {
	DeletePolicy          string  `mapstructure:"delete_policy"`
	CrossWorkspaceParents bool    `mapstructure:"cross_workspace_parents"`
	CacheSize             int     `mapstructure:"cache_size"`
	ColumnWidth           float64 `mapstructure:"column_width"`
	RowHeight             float64 `mapstructure:"row_height"`
}

type GenerationConfig struct {
	BatchConcurrency int `mapstructure:"batch_concurrency"`
	MaxBatchSize     int `mapstructure:"max_batch_size"`
}

// Load reads configuration from the YAML file at configPath (or ./configs/config.yaml),
// then applies environment overrides.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.bucket", "S3_BUCKET")
	v.BindEnv("storage.region", "S3_REGION")
	v.BindEnv("storage.public_url", "S3_PUBLIC_URL")
	v.BindEnv("default_provider", "DEFAULT_PROVIDER")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = defaultProviders()
	}
	for i := range cfg.Providers {
		cfg.Providers[i].ResolveEnvVars()
		cfg.Providers[i].ApplyDefaults()
	}
	if cfg.DefaultProvider == "" && len(cfg.Providers) > 0 {
		cfg.DefaultProvider = cfg.Providers[0].Name
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/lookbook.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "lookbook")
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.max_size", 32<<20)
	v.SetDefault("poller.interval", time.Second)
	v.SetDefault("poller.max_attempts", 60)
	v.SetDefault("graph.delete_policy", "orphan")
	v.SetDefault("graph.cross_workspace_parents", false)
	v.SetDefault("graph.cache_size", 128)
	v.SetDefault("graph.column_width", 320.0)
	v.SetDefault("graph.row_height", 240.0)
	v.SetDefault("generation.batch_concurrency", 4)
	v.SetDefault("generation.max_batch_size", 16)
}

// defaultProviders is used when the config file lists none.
func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			Name:      "replicate",
			Type:      ProviderTypeREST,
			BaseURL:   "https://api.replicate.com/v1",
			APIKeyEnv: "REPLICATE_API_TOKEN",
			Model:     "black-forest-labs/flux-kontext-pro",
		},
		{
			Name:      "gemini",
			Type:      ProviderTypeGemini,
			APIKeyEnv: "GEMINI_API_KEY",
			Model:     "gemini-2.5-flash-image",
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database: unknown driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("database: url is required for postgres")
	}
	if c.Poller.Interval <= 0 || c.Poller.MaxAttempts <= 0 {
		return fmt.Errorf("poller: interval and max_attempts must be positive")
	}
	switch c.Graph.DeletePolicy {
	case "cascade", "orphan", "reparent":
	default:
		return fmt.Errorf("graph: unknown delete_policy %q", c.Graph.DeletePolicy)
	}

	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %q: defined twice", p.Name)
		}
		seen[p.Name] = true
	}
	if c.DefaultProvider != "" && !seen[c.DefaultProvider] {
		return fmt.Errorf("default_provider %q is not defined", c.DefaultProvider)
	}
	return nil
}

// Provider returns the named provider configuration.
func (c *Config) Provider(name string) (*ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}
