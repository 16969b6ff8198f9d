package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/weblink-backend/internal/observability"
	"github.com/yungbote/weblink-backend/internal/platform/qdrant"
	"github.com/yungbote/weblink-backend/internal/services/userindex"
)

// tracedVectorWriter records a span and a metric sample for every call the user
// index makes to the vector store.
type tracedVectorWriter struct {
	provider string
	inner    userindex.VectorWriter
	metrics  *observability.Metrics
}

// instrumentVectorStore returns nil when inner is nil so callers can keep treating
// a nil writer as "vector indexing disabled".
func instrumentVectorStore(provider string, inner userindex.VectorWriter, metrics *observability.Metrics) userindex.VectorWriter {
	if inner == nil {
		return nil
	}
	return &tracedVectorWriter{provider: provider, inner: inner, metrics: metrics}
}

func (w *tracedVectorWriter) Upsert(ctx context.Context, namespace string, points []qdrant.Point) (err error) {
	ctx, done := w.begin(ctx, "upsert", namespace, attribute.Int("vector.points", len(points)))
	defer func() { done(err) }()
	return w.inner.Upsert(ctx, namespace, points)
}

func (w *tracedVectorWriter) DeleteWhere(ctx context.Context, namespace, key string, value any) (err error) {
	ctx, done := w.begin(ctx, "delete_where", namespace, attribute.String("vector.filter_key", key))
	defer func() { done(err) }()
	return w.inner.DeleteWhere(ctx, namespace, key, value)
}

func (w *tracedVectorWriter) begin(ctx context.Context, op, namespace string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	attrs = append(attrs,
		attribute.String("vector.provider", w.provider),
		attribute.String("vector.namespace", namespace),
	)
	ctx, span := observability.StartSpan(ctx, "vector."+op, attrs...)
	return ctx, func(err error) {
		status := "success"
		if err != nil {
			status = "error"
		}
		w.metrics.ObserveVectorStoreOperation(w.provider, op, status, time.Since(start))
		observability.EndSpan(span, err)
	}
}
