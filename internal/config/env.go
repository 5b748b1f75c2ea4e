package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

func applyEnv(cfg *Config) {
	cfg.Addr = stringEnv("HYPERFEED_ADDR", cfg.Addr)
	cfg.DatabaseDSN = stringEnv("HYPERFEED_DATABASE", cfg.DatabaseDSN)
	cfg.ArchiveDSN = stringEnv("HYPERFEED_ARCHIVE", cfg.ArchiveDSN)
	cfg.JWTSecret = stringEnv("HYPERFEED_JWT_SECRET", cfg.JWTSecret)
	cfg.TokenTTL = durationEnv("HYPERFEED_TOKEN_TTL", cfg.TokenTTL)
	cfg.RenderLimit = intEnv("HYPERFEED_RENDER_LIMIT", cfg.RenderLimit)
	cfg.Scrap = boolEnv("HYPERFEED_SCRAP", cfg.Scrap)
	cfg.FetchTimeout = durationEnv("HYPERFEED_FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.PollInterval = durationEnv("HYPERFEED_POLL_INTERVAL", cfg.PollInterval)
	cfg.LogLevel = stringEnv("HYPERFEED_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = stringEnv("HYPERFEED_LOG_FORMAT", cfg.LogFormat)
	cfg.S3.Region = stringEnv("HYPERFEED_S3_REGION", cfg.S3.Region)
	cfg.S3.Endpoint = stringEnv("HYPERFEED_S3_ENDPOINT", cfg.S3.Endpoint)
	cfg.S3.AccessKey = stringEnv("HYPERFEED_S3_ACCESS_KEY", cfg.S3.AccessKey)
	cfg.S3.SecretKey = stringEnv("HYPERFEED_S3_SECRET_KEY", cfg.S3.SecretKey)
	cfg.S3.UsePathStyle = boolEnv("HYPERFEED_S3_PATH_STYLE", cfg.S3.UsePathStyle)
}

func stringEnv(name, fallback string) string {
	if raw := strings.TrimSpace(os.Getenv(name)); raw != "" {
		return raw
	}
	return fallback
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback)
		return fallback
	}
	return value
}
