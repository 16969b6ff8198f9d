package gcp

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/weblink-backend/internal/platform/envutil"
)

type StorageMode string

const (
	StorageModeGCS      StorageMode = "gcs"
	StorageModeEmulator StorageMode = "gcs_emulator"
)

// StorageConfig selects the bucket weblink artifacts live in.
type StorageConfig struct {
	Mode         StorageMode
	Bucket       string
	EmulatorHost string
	// KeyPrefix is prepended to every object key so several environments can
	// share one bucket.
	KeyPrefix string
	// Credentials is inline service account JSON or a path to it. Empty means
	// application default credentials.
	Credentials string
}

type ConfigErrorCode string

const (
	ConfigErrInvalidMode         ConfigErrorCode = "invalid_mode"
	ConfigErrMissingBucket       ConfigErrorCode = "missing_bucket"
	ConfigErrMissingEmulatorHost ConfigErrorCode = "missing_emulator_host"
	ConfigErrInvalidEmulatorHost ConfigErrorCode = "invalid_emulator_host"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	switch e.Code {
	case ConfigErrInvalidMode:
		return fmt.Sprintf("invalid OBJECT_STORAGE_MODE=%q (allowed: %q, %q)", e.Value, StorageModeGCS, StorageModeEmulator)
	case ConfigErrMissingBucket:
		return "WEBLINK_GCS_BUCKET_NAME is required"
	case ConfigErrMissingEmulatorHost:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST", StorageModeEmulator)
	case ConfigErrInvalidEmulatorHost:
		return fmt.Sprintf("invalid STORAGE_EMULATOR_HOST=%q; expected an absolute URL like http://fake-gcs:4443", e.Value)
	}
	return "invalid object storage config"
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// StorageConfigFromEnv reads OBJECT_STORAGE_MODE, WEBLINK_GCS_BUCKET_NAME,
// STORAGE_EMULATOR_HOST, STORAGE_KEY_PREFIX and the Google credential variables.
// With no mode set, a configured emulator host selects emulator mode.
func StorageConfigFromEnv() (StorageConfig, error) {
	cfg := StorageConfig{
		Mode:         StorageMode(strings.ToLower(envutil.String("OBJECT_STORAGE_MODE", ""))),
		Bucket:       envutil.String("WEBLINK_GCS_BUCKET_NAME", ""),
		EmulatorHost: strings.TrimRight(envutil.String("STORAGE_EMULATOR_HOST", ""), "/"),
		KeyPrefix:    strings.Trim(envutil.String("STORAGE_KEY_PREFIX", ""), "/"),
		Credentials:  envutil.String("GOOGLE_APPLICATION_CREDENTIALS_JSON", envutil.String("GOOGLE_APPLICATION_CREDENTIALS", "")),
	}
	if cfg.Mode == "" {
		cfg.Mode = StorageModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode = StorageModeEmulator
		}
	}
	return cfg, cfg.Validate()
}

func (c StorageConfig) Validate() error {
	switch c.Mode {
	case StorageModeGCS, StorageModeEmulator:
	default:
		return &ConfigError{Code: ConfigErrInvalidMode, Value: string(c.Mode)}
	}
	if c.Bucket == "" {
		return &ConfigError{Code: ConfigErrMissingBucket}
	}
	if c.Mode != StorageModeEmulator {
		return nil
	}
	if c.EmulatorHost == "" {
		return &ConfigError{Code: ConfigErrMissingEmulatorHost}
	}
	u, err := url.Parse(c.EmulatorHost)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Code: ConfigErrInvalidEmulatorHost, Value: c.EmulatorHost, Cause: err}
	}
	return nil
}

func (c StorageConfig) clientOptions() []option.ClientOption {
	if c.Mode == StorageModeEmulator {
		return []option.ClientOption{
			option.WithEndpoint(c.EmulatorHost + "/storage/v1/"),
			option.WithoutAuthentication(),
		}
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	switch creds := strings.TrimSpace(c.Credentials); {
	case creds == "":
	case strings.HasPrefix(creds, "{"):
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	default:
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}

// objectName maps an artifact key to its name in the bucket.
func (c StorageConfig) objectName(key string) string {
	if c.KeyPrefix == "" {
		return key
	}
	return path.Join(c.KeyPrefix, key)
}
