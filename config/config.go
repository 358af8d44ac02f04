package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the server configuration
type Config struct {
	Server struct {
		Port        int      `yaml:"port"`
		Mode        string   `yaml:"mode"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`

	Storage struct {
		ArtifactDir  string `yaml:"artifact_dir"`
		DatabasePath string `yaml:"database"`
	} `yaml:"storage"`

	Fetcher struct {
		Binary         string        `yaml:"binary"`
		Timeout        time.Duration `yaml:"timeout"`
		ProbeTimeout   time.Duration `yaml:"probe_timeout"`
		PlayerClient   string        `yaml:"player_client"`
		AllowedDomains []string      `yaml:"allowed_domains"`
	} `yaml:"fetcher"`

	Upload struct {
		DefaultEndpoint string `yaml:"default_endpoint"`
		ChunkSize       int64  `yaml:"chunk_size"`
	} `yaml:"upload"`

	Reclaim struct {
		ThresholdBytes uint64 `yaml:"threshold_bytes"`
	} `yaml:"reclaim"`

	Queue struct {
		Workers int `yaml:"workers"`
		Buffer  int `yaml:"buffer"`
	} `yaml:"queue"`

	Redis struct {
		Addr      string        `yaml:"addr"`
		DB        int           `yaml:"db"`
		RateLimit int           `yaml:"rate_limit"`
		Window    time.Duration `yaml:"window"`
	} `yaml:"redis"`

	Events struct {
		ProgressCacheSize int `yaml:"progress_cache_size"`
	} `yaml:"events"`
}

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.Mode = "release"
	cfg.Server.CORSOrigins = DefaultCORSOrigins

	cfg.Storage.ArtifactDir = GetArtifactDir()
	cfg.Storage.DatabasePath = "fetchrelay.db"

	cfg.Fetcher.Binary = "yt-dlp"
	cfg.Fetcher.Timeout = 2 * time.Hour
	cfg.Fetcher.ProbeTimeout = 45 * time.Second
	cfg.Fetcher.AllowedDomains = []string{"youtube.com", "youtu.be"}

	cfg.Upload.ChunkSize = 5 << 20
	cfg.Reclaim.ThresholdBytes = 5_000_000_000

	cfg.Queue.Workers = 2
	cfg.Queue.Buffer = 100

	cfg.Redis.RateLimit = 10
	cfg.Redis.Window = time.Minute

	cfg.Events.ProgressCacheSize = 1024
	return cfg
}

// Load builds the configuration from defaults, the YAML file at path (when it
// exists), a .env file and the process environment, in that order
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			log.Printf("Config file %s not found, using defaults", path)
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found. Falling back to OS environment variables.")
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Storage.ArtifactDir == "" {
		return fmt.Errorf("storage artifact_dir is required")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue workers must be positive, got %d", c.Queue.Workers)
	}
	if c.Upload.ChunkSize <= 0 {
		return fmt.Errorf("upload chunk_size must be positive, got %d", c.Upload.ChunkSize)
	}
	return nil
}
