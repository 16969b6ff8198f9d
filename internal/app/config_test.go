package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/weblink-backend/internal/platform/gcp"
)

func memoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MEMORY_BACKENDS", "true")
	t.Setenv("QDRANT_URL", "")
	t.Setenv("INGEST_CONFIG_FILE", "")
}

func TestLoadConfigDefaults(t *testing.T) {
	memoryEnv(t)
	t.Setenv("LINK_MAX_RETRIES", "2")
	t.Setenv("USER_RETRY_BACKOFF", "5s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.MemoryBackends)
	assert.Equal(t, 20, cfg.Ingest.Pipeline.UserRetryCeiling)
	assert.Equal(t, 12000, cfg.Ingest.Pipeline.ReadTokenBudget)
	assert.Equal(t, 2, cfg.Ingest.Pipeline.Retry.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Ingest.Pipeline.UserRetryBackoff)
	assert.False(t, cfg.Qdrant.Enabled())
}

func TestLoadConfigOverlay(t *testing.T) {
	memoryEnv(t)
	path := filepath.Join(t.TempDir(), "ingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  retry:
    max_retries: 4
    backoff: 1m
chunk:
  target_tokens: 300
  max_tokens: 400
  min_tokens: 50
cache_size: 10
`), 0o600))
	t.Setenv("INGEST_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Ingest.Pipeline.Retry.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Ingest.Pipeline.Retry.Backoff)
	assert.Equal(t, 300, cfg.Ingest.Chunk.TargetTokens)
	assert.Equal(t, 10, cfg.Ingest.CacheSize)
	// Untouched keys keep their environment values.
	assert.Equal(t, 20, cfg.Ingest.Pipeline.UserRetryCeiling)
}

func TestLoadConfigRejectsBadOverlay(t *testing.T) {
	memoryEnv(t)
	path := filepath.Join(t.TempDir(), "ingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk:\n  target_tokens: 10\n  min_tokens: 50\n  max_tokens: 60\n"), 0o600))
	t.Setenv("INGEST_CONFIG_FILE", path)

	_, err := LoadConfig()
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "ingest.chunk", cerr.Field)

	require.NoError(t, os.WriteFile(path, []byte("unknown_key: 1\n"), 0o600))
	_, err = LoadConfig()
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "INGEST_CONFIG_FILE", cerr.Field)
}

func TestLoadConfigStorageError(t *testing.T) {
	t.Setenv("MEMORY_BACKENDS", "false")
	t.Setenv("QDRANT_URL", "")
	t.Setenv("INGEST_CONFIG_FILE", "")
	t.Setenv("OBJECT_STORAGE_MODE", "gcs")
	t.Setenv("WEBLINK_GCS_BUCKET_NAME", "")

	_, err := LoadConfig()
	var gerr *gcp.ConfigError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, gcp.ConfigErrMissingBucket, gerr.Code)
}
