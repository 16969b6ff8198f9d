package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/weblink-backend/internal/db"
	"github.com/yungbote/weblink-backend/internal/ingestion/cache"
	"github.com/yungbote/weblink-backend/internal/ingestion/extractor"
	"github.com/yungbote/weblink-backend/internal/ingestion/lock"
	"github.com/yungbote/weblink-backend/internal/jobs/worker"
	"github.com/yungbote/weblink-backend/internal/observability"
	"github.com/yungbote/weblink-backend/internal/platform/envutil"
	"github.com/yungbote/weblink-backend/internal/platform/gcp"
	"github.com/yungbote/weblink-backend/internal/platform/openai"
	"github.com/yungbote/weblink-backend/internal/platform/qdrant"
	"github.com/yungbote/weblink-backend/internal/platform/redisx"
	"github.com/yungbote/weblink-backend/internal/services/contentflow"
	weblinksvc "github.com/yungbote/weblink-backend/internal/services/weblink"
)

type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
}

type LockConfig struct {
	Lease  time.Duration
	Prefix string
}

// IngestConfig is the pipeline tuning that the INGEST_CONFIG_FILE overlay may change.
type IngestConfig struct {
	Pipeline   weblinksvc.Config          `yaml:"pipeline"`
	Reader     extractor.HTTPReaderConfig `yaml:"reader"`
	Chunk      extractor.ChunkConfig      `yaml:"chunk"`
	CacheSize  int                        `yaml:"cache_size"`
	EmbedBatch int                        `yaml:"embed_batch"`
	// MaxArtifactBytes caps a single artifact download.
	MaxArtifactBytes int64 `yaml:"max_artifact_bytes"`
}

type Config struct {
	Env     string
	Version string
	LogMode string

	HTTP    HTTPConfig
	DB      db.Config
	Redis   redisx.Config
	Storage gcp.StorageConfig
	Locks   LockConfig
	Ingest  IngestConfig
	Worker  worker.Config
	OpenAI  openai.Config
	Qdrant  qdrant.Config
	Otel    observability.OtelConfig

	ContentFlowChannel string
	// MemoryBackends swaps Redis locks and GCS artifacts for in-process versions.
	MemoryBackends bool
}

// ConfigError reports an unusable configuration value.
type ConfigError struct {
	Field string
	Cause error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// LoadConfig reads .env (when present), the environment, and then the YAML file named by
// INGEST_CONFIG_FILE, whose keys override the matching environment values.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, &ConfigError{Field: ".env", Cause: err}
	}

	cfg := Config{
		Env:     envutil.String("APP_ENV", "development"),
		Version: envutil.String("APP_VERSION", "dev"),
		LogMode: envutil.String("LOG_MODE", "development"),
		HTTP: HTTPConfig{
			Addr:           envutil.String("HTTP_ADDR", ":8080"),
			AllowedOrigins: envutil.List("CORS_ALLOWED_ORIGINS"),
		},
		DB:    db.ConfigFromEnv(),
		Redis: redisx.ConfigFromEnv(),
		Locks: LockConfig{
			Lease:  envutil.Duration("LOCK_LEASE", lock.DefaultLease),
			Prefix: envutil.String("LOCK_PREFIX", ""),
		},
		Ingest: IngestConfig{
			Pipeline: weblinksvc.Config{
				ParserVersion:    extractor.Version,
				UserRetryCeiling: envutil.Int("USER_RETRY_CEILING", weblinksvc.DefaultUserRetryCeiling),
				UserRetryBackoff: envutil.Duration("USER_RETRY_BACKOFF", weblinksvc.DefaultUserRetryBackoff),
				ReadTokenBudget:  envutil.Int("READ_TOKEN_BUDGET", weblinksvc.DefaultReadTokenBudget),
				Retry: weblinksvc.LinkRetryPolicy{
					MaxRetries:    envutil.Int("LINK_MAX_RETRIES", 0),
					Backoff:       envutil.Duration("LINK_RETRY_BACKOFF", 30*time.Second),
					SweepInterval: envutil.Duration("LINK_SWEEP_INTERVAL", 0),
					SweepBatch:    envutil.Int("LINK_SWEEP_BATCH", 100),
				},
			},
			Reader:     extractor.DefaultHTTPReaderConfig(),
			Chunk:      extractor.DefaultChunkConfig(),
			CacheSize:  envutil.Int("CONTENT_CACHE_SIZE", cache.DefaultCapacity),
			EmbedBatch: envutil.Int("EMBED_BATCH", 64),

			MaxArtifactBytes: int64(envutil.Int("MAX_ARTIFACT_BYTES", 64<<20)),
		},
		Worker: worker.ConfigFromEnv(),
		OpenAI: openai.ConfigFromEnv(),
		Otel:   observability.OtelConfigFromEnv(),
		ContentFlowChannel: envutil.String("CONTENT_FLOW_CHANNEL", contentflow.DefaultChannel),
		MemoryBackends:     envutil.Bool("MEMORY_BACKENDS", false),
	}

	if !cfg.MemoryBackends {
		storage, err := gcp.StorageConfigFromEnv()
		if err != nil {
			return Config{}, &ConfigError{Field: "storage", Cause: err}
		}
		cfg.Storage = storage
	}

	qcfg, err := qdrant.ConfigFromEnv()
	if err != nil {
		return Config{}, &ConfigError{Field: "qdrant", Cause: err}
	}
	cfg.Qdrant = qcfg

	if path := envutil.String("INGEST_CONFIG_FILE", ""); path != "" {
		if err := loadIngestOverlay(path, &cfg.Ingest); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Ingest.Chunk.Validate(); err != nil {
		return Config{}, &ConfigError{Field: "ingest.chunk", Cause: err}
	}
	return cfg, nil
}

func loadIngestOverlay(path string, into *IngestConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Field: "INGEST_CONFIG_FILE", Cause: err}
	}
	if strings.TrimSpace(string(raw)) == "" {
		return nil
	}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(into); err != nil {
		return &ConfigError{Field: "INGEST_CONFIG_FILE", Cause: fmt.Errorf("%s: %w", path, err)}
	}
	return nil
}
