package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

func TestEveryRuns(t *testing.T) {
	s := New(logger.Nop())
	var n int32
	require.NoError(t, s.Every("tick", time.Second, func(ctx context.Context) error {
		atomic.AddInt32(&n, 1)
		return nil
	}))
	s.Start()
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool { return atomic.LoadInt32(&n) >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestEveryReplacesByName(t *testing.T) {
	s := New(logger.Nop())
	noop := func(ctx context.Context) error { return nil }
	require.NoError(t, s.Every("sweep", time.Minute, noop))
	require.NoError(t, s.Every("sweep", 2*time.Minute, noop))
	require.Equal(t, 1, s.Len())
	require.Error(t, s.Every("bad", 0, noop))
	require.Error(t, s.Add("bad", "not a spec", noop))
}
