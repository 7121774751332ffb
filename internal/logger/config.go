package logger

import (
	"io"
	"os"
	"strconv"
)

// EnvConfig holds logger configuration read from LOG_* environment variables.
type EnvConfig struct {
	Level       string
	Format      string
	Output      io.Writer // overrides every other output setting
	ServiceName string
	Environment string // local, dev, prod

	LogFile     string
	LogFileOnly bool

	// Rotation, see lumberjack.Logger.
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// LoadFromEnv reads EnvConfig from the environment.
func LoadFromEnv() *EnvConfig {
	return &EnvConfig{
		Level:       envString("LOG_LEVEL", "info"),
		Format:      envString("LOG_FORMAT", "json"),
		ServiceName: envString("SERVICE_NAME", "lookbook"),
		Environment: envString("APP_ENV", "local"),
		LogFile:     envString("LOG_FILE", "/var/log/lookbook/app.log"),
		LogFileOnly: envBool("LOG_FILE_ONLY", false),
		MaxSize:     envInt("LOG_MAX_SIZE", 100),
		MaxBackups:  envInt("LOG_MAX_BACKUPS", 7),
		MaxAge:      envInt("LOG_MAX_AGE", 30),
		Compress:    envBool("LOG_COMPRESS", true),
	}
}

func envString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return i
}
