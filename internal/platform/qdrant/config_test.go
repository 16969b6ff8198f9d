package qdrant

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnvValid(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://qdrant:6333/")
	t.Setenv("QDRANT_COLLECTION", "links")
	t.Setenv("QDRANT_NAMESPACE_PREFIX", "")
	t.Setenv("QDRANT_VECTOR_DIM", "3072")
	t.Setenv("QDRANT_TIMEOUT", "3s")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.Enabled())
	assert.Equal(t, "http://qdrant:6333", cfg.URL)
	assert.Equal(t, "links", cfg.Collection)
	assert.Equal(t, DefaultNamespacePrefix, cfg.NamespacePrefix)
	assert.Equal(t, 3072, cfg.VectorDim)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
}

func TestConfigFromEnvDisabledWithoutURL(t *testing.T) {
	t.Setenv("QDRANT_URL", "")
	t.Setenv("QDRANT_VECTOR_DIM", "")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.Enabled())
	assert.Equal(t, DefaultVectorDim, cfg.VectorDim)
}

func TestConfigFromEnvErrors(t *testing.T) {
	cases := []struct {
		name, url, dim string
		want           ConfigErrorCode
	}{
		{"invalid url", "qdrant:6333", "8", ConfigErrInvalidURL},
		{"non numeric dim", "http://qdrant:6333", "abc", ConfigErrInvalidVectorDim},
		{"zero dim", "http://qdrant:6333", "0", ConfigErrInvalidVectorDim},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("QDRANT_URL", tc.url)
			t.Setenv("QDRANT_COLLECTION", "links")
			t.Setenv("QDRANT_VECTOR_DIM", tc.dim)

			_, err := ConfigFromEnv()
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %T (%v)", err, err)
			assert.Equal(t, tc.want, cfgErr.Code)
		})
	}
}

func TestValidateMissingCollection(t *testing.T) {
	err := Config{URL: "http://qdrant:6333", VectorDim: 3}.Validate()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ConfigErrMissingCollection, cfgErr.Code)
}
