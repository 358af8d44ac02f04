package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FETCHRELAY_ARTIFACTS", "/srv/artifacts")

	cfg, err := Load("missing.yaml")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DefaultCORSOrigins, cfg.Server.CORSOrigins)
	assert.Equal(t, "/srv/artifacts", cfg.Storage.ArtifactDir)
	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Equal(t, uint64(5_000_000_000), cfg.Reclaim.ThresholdBytes)
	assert.Equal(t, 2*time.Hour, cfg.Fetcher.Timeout)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "fetchrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  cors_origins: ["https://app.example.com"]
storage:
  artifact_dir: /data/artifacts
fetcher:
  timeout: 30m
  player_client: web_safari
upload:
  default_endpoint: https://uploads.example.com/files
queue:
  workers: 4
`), 0644))

	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("FETCHRELAY_ALLOWED_DOMAINS", "youtube.com, vimeo.com")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "environment wins over the file")
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "/data/artifacts", cfg.Storage.ArtifactDir)
	assert.Equal(t, 30*time.Minute, cfg.Fetcher.Timeout)
	assert.Equal(t, "web_safari", cfg.Fetcher.PlayerClient)
	assert.Equal(t, []string{"youtube.com", "vimeo.com"}, cfg.Fetcher.AllowedDomains)
	assert.Equal(t, "https://uploads.example.com/files", cfg.Upload.DefaultEndpoint)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, int64(5<<20), cfg.Upload.ChunkSize, "unset keys keep their defaults")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FETCHRELAY_WORKERS=6\n"), 0644))
	t.Setenv("FETCHRELAY_WORKERS", "")
	os.Unsetenv("FETCHRELAY_WORKERS")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Queue.Workers)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("SERVER_PORT", "http")
	_, err := Load("")
	assert.Error(t, err)

	t.Setenv("SERVER_PORT", "70000")
	_, err = Load("")
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
