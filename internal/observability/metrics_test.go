package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.CacheHit()
	m.CacheMiss()
	m.ObserveFetch("success", time.Second)
	m.ObserveJob("process_link", "succeeded", time.Second)
	m.ObserveStep("parse", "finish", time.Second)
	m.LockContended("parse")
	m.JobEnqueued("process_link", true)
	m.SetQueueDepth(map[string]int64{"queued": 1})
	require.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 503, rec.Code)
}

func TestMetricsRecordAndExpose(t *testing.T) {
	m := NewMetrics()
	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()
	m.LockContended("index")
	m.ObserveStep("parse", "failed", 0)
	m.JobEnqueued("process_link_by_user", true)
	m.SetQueueDepth(map[string]int64{"queued": 3, "": 1})

	require.Equal(t, 2.0, promtest.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	require.Equal(t, 1.0, promtest.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	require.Equal(t, 1.0, promtest.ToFloat64(m.lockContention.WithLabelValues("index")))
	require.Equal(t, 1.0, promtest.ToFloat64(m.stepOutcomes.WithLabelValues("parse", "failed")))
	require.Equal(t, 1.0, promtest.ToFloat64(m.jobsEnqueued.WithLabelValues("process_link_by_user", "true")))
	require.Equal(t, 3.0, promtest.ToFloat64(m.queueDepth.WithLabelValues("queued")))
	require.Equal(t, 1.0, promtest.ToFloat64(m.queueDepth.WithLabelValues("unknown")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "wl_content_cache_lookups_total"))
}
