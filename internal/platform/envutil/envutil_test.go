package envutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParsersFallBackOnBadInput(t *testing.T) {
	t.Setenv("WL_INT", "x")
	t.Setenv("WL_FLOAT", "0.25")
	t.Setenv("WL_BOOL", "maybe")
	t.Setenv("WL_DUR", "45")
	t.Setenv("WL_LIST", " a, ,b ")

	assert.Equal(t, 7, Int("WL_INT", 7))
	assert.Equal(t, 0.25, Float("WL_FLOAT", 1))
	assert.True(t, Bool("WL_BOOL", true))
	assert.Equal(t, 45*time.Second, Duration("WL_DUR", time.Second))
	assert.Equal(t, []string{"a", "b"}, List("WL_LIST"))
	assert.Equal(t, "def", String("WL_UNSET_FOR_TEST", "def"))
}
