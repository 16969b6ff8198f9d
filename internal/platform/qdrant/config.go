package qdrant

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/weblink-backend/internal/platform/envutil"
)

const (
	DefaultCollection      = "weblink_chunks"
	DefaultNamespacePrefix = "wl"
	DefaultVectorDim       = 1536
	DefaultTimeout         = 10 * time.Second
)

// Config points the per-user chunk index at one Qdrant collection. VectorDim must
// match the embedding model.
type Config struct {
	URL             string
	APIKey          string
	Collection      string
	NamespacePrefix string
	VectorDim       int
	Timeout         time.Duration
	// CreateCollection makes New create a missing collection instead of failing.
	CreateCollection bool
}

// Enabled reports whether a Qdrant endpoint was configured at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

type ConfigErrorCode string

const (
	ConfigErrInvalidURL        ConfigErrorCode = "invalid_url"
	ConfigErrMissingCollection ConfigErrorCode = "missing_collection"
	ConfigErrInvalidVectorDim  ConfigErrorCode = "invalid_vector_dim"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	switch e.Code {
	case ConfigErrInvalidURL:
		return fmt.Sprintf("invalid QDRANT_URL=%q; expected an absolute URL like http://qdrant:6333", e.Value)
	case ConfigErrMissingCollection:
		return "QDRANT_COLLECTION is required"
	case ConfigErrInvalidVectorDim:
		return fmt.Sprintf("invalid QDRANT_VECTOR_DIM=%q; expected a positive integer", e.Value)
	}
	return "invalid qdrant config"
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// ConfigFromEnv reads QDRANT_* variables. An unset QDRANT_URL yields a disabled
// config without error. Once a URL is set the rest must be valid.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:              strings.TrimRight(envutil.String("QDRANT_URL", ""), "/"),
		APIKey:           envutil.String("QDRANT_API_KEY", ""),
		Collection:       envutil.String("QDRANT_COLLECTION", DefaultCollection),
		NamespacePrefix:  envutil.String("QDRANT_NAMESPACE_PREFIX", DefaultNamespacePrefix),
		VectorDim:        DefaultVectorDim,
		Timeout:          envutil.Duration("QDRANT_TIMEOUT", DefaultTimeout),
		CreateCollection: envutil.Bool("QDRANT_CREATE_COLLECTION", true),
	}
	if raw := envutil.String("QDRANT_VECTOR_DIM", ""); raw != "" {
		dim, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, &ConfigError{Code: ConfigErrInvalidVectorDim, Value: raw, Cause: err}
		}
		cfg.VectorDim = dim
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Code: ConfigErrInvalidURL, Value: c.URL, Cause: err}
	}
	if strings.TrimSpace(c.Collection) == "" {
		return &ConfigError{Code: ConfigErrMissingCollection}
	}
	if c.VectorDim <= 0 {
		return &ConfigError{Code: ConfigErrInvalidVectorDim, Value: strconv.Itoa(c.VectorDim)}
	}
	return nil
}
