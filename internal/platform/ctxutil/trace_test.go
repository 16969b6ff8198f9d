package ctxutil

import (
	"context"
	"testing"
)

func TestLogFields(t *testing.T) {
	if kv := LogFields(context.Background()); kv != nil {
		t.Fatalf("empty ctx: want nil got=%v", kv)
	}
	ctx := WithTraceData(context.Background(), &TraceData{RequestID: "r1", JobID: "j1"})
	kv := LogFields(ctx)
	if len(kv) != 4 || kv[0] != "request_id" || kv[1] != "r1" || kv[2] != "job_id" || kv[3] != "j1" {
		t.Fatalf("fields: got=%v", kv)
	}
	ctx = WithTraceData(context.Background(), &TraceData{TraceID: "t1", UserID: "u1"})
	kv = LogFields(ctx)
	if len(kv) != 4 || kv[0] != "trace_id" || kv[2] != "user_id" || kv[3] != "u1" {
		t.Fatalf("user fields: got=%v", kv)
	}
	if Default(nil) == nil {
		t.Fatalf("Default(nil) returned nil")
	}
}
