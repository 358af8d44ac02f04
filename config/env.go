package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultCORSOrigins are the dev-server origins allowed when none are set
var DefaultCORSOrigins = []string{"http://localhost:3000", "http://localhost:5173", "http://localhost:5174"}

// GetArtifactDir returns where finished artifacts are written
func GetArtifactDir() string {
	// First check environment variable for custom location
	if customPath := os.Getenv("FETCHRELAY_ARTIFACTS"); customPath != "" {
		return customPath
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if can't get home dir
		return filepath.Join(".", "artifacts")
	}
	return filepath.Join(homeDir, ".fetchrelay", "artifacts")
}

// applyEnv overrides cfg with any environment variables that are set
func applyEnv(cfg *Config) error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT value: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("GIN_MODE"); v != "" {
		cfg.Server.Mode = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}

	if v := os.Getenv("FETCHRELAY_ARTIFACTS"); v != "" {
		cfg.Storage.ArtifactDir = v
	}
	if v := os.Getenv("FETCHRELAY_DATABASE"); v != "" {
		cfg.Storage.DatabasePath = v
	}

	if v := os.Getenv("FETCHRELAY_YTDLP"); v != "" {
		cfg.Fetcher.Binary = v
	}
	if v := os.Getenv("FETCHRELAY_FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid FETCHRELAY_FETCH_TIMEOUT value: %w", err)
		}
		cfg.Fetcher.Timeout = d
	}
	if v := os.Getenv("FETCHRELAY_PLAYER_CLIENT"); v != "" {
		cfg.Fetcher.PlayerClient = v
	}
	if v := os.Getenv("FETCHRELAY_ALLOWED_DOMAINS"); v != "" {
		cfg.Fetcher.AllowedDomains = splitList(v)
	}

	if v := os.Getenv("FETCHRELAY_UPLOAD_ENDPOINT"); v != "" {
		cfg.Upload.DefaultEndpoint = v
	}
	if v := os.Getenv("FETCHRELAY_RECLAIM_THRESHOLD"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid FETCHRELAY_RECLAIM_THRESHOLD value: %w", err)
		}
		cfg.Reclaim.ThresholdBytes = n
	}
	if v := os.Getenv("FETCHRELAY_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FETCHRELAY_WORKERS value: %w", err)
		}
		cfg.Queue.Workers = n
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB value: %w", err)
		}
		cfg.Redis.DB = n
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
