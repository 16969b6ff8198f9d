package ctxutil

import "context"

type traceDataKey struct{}

// TraceData carries request correlation ids through handlers, jobs and logs.
type TraceData struct {
	TraceID   string
	RequestID string
	JobID     string
	UserID    string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}

// LogFields returns the non-empty correlation ids as logger key/value pairs.
func LogFields(ctx context.Context) []interface{} {
	td := GetTraceData(ctx)
	if td == nil {
		return nil
	}
	var kv []interface{}
	if td.TraceID != "" {
		kv = append(kv, "trace_id", td.TraceID)
	}
	if td.RequestID != "" {
		kv = append(kv, "request_id", td.RequestID)
	}
	if td.JobID != "" {
		kv = append(kv, "job_id", td.JobID)
	}
	if td.UserID != "" {
		kv = append(kv, "user_id", td.UserID)
	}
	return kv
}
