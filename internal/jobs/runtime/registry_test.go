package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedHandler string

func (h namedHandler) Type() string       { return string(h) }
func (h namedHandler) Run(*Context) error { return nil }

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(namedHandler("process_link_by_user"), namedHandler("process_link")))

	assert.Equal(t, []string{"process_link", "process_link_by_user"}, r.Types())
	h, ok := r.Get("process_link")
	require.True(t, ok)
	assert.Equal(t, "process_link", h.Type())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryRejectsBadHandlers(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(namedHandler("process_link")))

	assert.Error(t, r.Register(namedHandler("process_link")))
	assert.Error(t, r.Register(namedHandler("")))
	assert.Error(t, r.Register(nil))
}
