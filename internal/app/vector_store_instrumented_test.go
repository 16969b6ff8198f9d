package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yungbote/weblink-backend/internal/observability"
	"github.com/yungbote/weblink-backend/internal/platform/qdrant"
)

type stubVectorWriter struct {
	upserts int
	err     error
}

func (s *stubVectorWriter) Upsert(context.Context, string, []qdrant.Point) error {
	s.upserts++
	return s.err
}

func (s *stubVectorWriter) DeleteWhere(context.Context, string, string, any) error {
	return s.err
}

func TestInstrumentVectorStoreNilInner(t *testing.T) {
	if got := instrumentVectorStore("qdrant", nil, nil); got != nil {
		t.Fatalf("expected nil writer for nil inner, got=%T", got)
	}
}

func TestInstrumentVectorStoreRecordsOperations(t *testing.T) {
	m := observability.NewMetrics()
	inner := &stubVectorWriter{}
	vs := instrumentVectorStore("qdrant", inner, m)

	if err := vs.Upsert(context.Background(), "user:u1", nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	inner.err = errors.New("unavailable")
	if err := vs.DeleteWhere(context.Background(), "user:u1", "url", "https://a.com/"); err == nil {
		t.Fatalf("expected delete error")
	}
	if inner.upserts != 1 {
		t.Fatalf("upserts: want=1 got=%d", inner.upserts)
	}

	expected := `
# HELP wl_vector_store_operations_total Vector store calls by provider/operation/status.
# TYPE wl_vector_store_operations_total counter
wl_vector_store_operations_total{operation="delete_where",provider="qdrant",status="error"} 1
wl_vector_store_operations_total{operation="upsert",provider="qdrant",status="success"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "wl_vector_store_operations_total"); err != nil {
		t.Fatalf("metrics: %v", err)
	}
}
