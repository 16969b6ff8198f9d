package app

import (
	"errors"
	"fmt"

	"github.com/yungbote/weblink-backend/internal/ingestion/artifact"
	"github.com/yungbote/weblink-backend/internal/platform/gcp"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

var newBucketService = gcp.NewBucketService

// StorageBootstrapError reports why the artifact bucket could not be opened. Code
// is the gcp config error code, or "connect_failed" when the config was valid.
type StorageBootstrapError struct {
	Code   string
	Mode   gcp.StorageMode
	Bucket string
	Cause  error
}

const storageConnectFailed = "connect_failed"

func (e *StorageBootstrapError) Error() string {
	return fmt.Sprintf("artifact storage bootstrap failed (code=%s mode=%q bucket=%q): %v", e.Code, e.Mode, e.Bucket, e.Cause)
}

func (e *StorageBootstrapError) Unwrap() error { return e.Cause }

// resolveArtifactStore returns the store pipeline artifacts are written to and a
// close func for it. MemoryBackends selects an in-process store.
func resolveArtifactStore(log *logger.Logger, cfg Config) (artifact.Store, func() error, error) {
	if cfg.MemoryBackends {
		log.Warn("Using in-memory artifact store; artifacts are lost on restart")
		return artifact.NewMemoryStore(), func() error { return nil }, nil
	}
	bucket, err := newBucketService(log, cfg.Storage)
	if err != nil {
		berr := newStorageBootstrapError(cfg.Storage, err)
		log.Error("Artifact storage bootstrap failed", "mode", cfg.Storage.Mode, "bucket", cfg.Storage.Bucket, "error_code", berr.Code, "error", berr.Cause)
		return nil, nil, berr
	}
	return artifact.NewBucketStore(bucket, cfg.Ingest.MaxArtifactBytes), bucket.Close, nil
}

func newStorageBootstrapError(cfg gcp.StorageConfig, err error) *StorageBootstrapError {
	code := storageConnectFailed
	var cfgErr *gcp.ConfigError
	if errors.As(err, &cfgErr) {
		code = string(cfgErr.Code)
	}
	return &StorageBootstrapError{Code: code, Mode: cfg.Mode, Bucket: cfg.Bucket, Cause: err}
}
