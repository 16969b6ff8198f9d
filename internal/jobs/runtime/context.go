package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/weblink-backend/internal/data/repos"
	types "github.com/yungbote/weblink-backend/internal/domain/jobs"
	"github.com/yungbote/weblink-backend/internal/platform/ctxutil"
	"github.com/yungbote/weblink-backend/internal/platform/dbctx"
)

/*
Context is the handle a handler gets for one claimed job run.
Handlers never write job_run directly; they finish through Succeed or Fail.
If a handler returns without doing either, the worker calls Succeed (nil error)
or Fail (non-nil error) on its behalf.
*/
type Context struct {
	Ctx  context.Context
	Job  *types.JobRun
	Repo repos.JobRunRepo

	finished bool
}

func NewContext(ctx context.Context, job *types.JobRun, repo repos.JobRunRepo) *Context {
	c := &Context{
		Ctx:  ctx,
		Job:  job,
		Repo: repo,
	}
	c.applyTraceData()
	return c
}

func (c *Context) applyTraceData() {
	if c == nil || c.Ctx == nil || c.Job == nil {
		return
	}
	var ids struct {
		TraceID   string `json:"trace_id"`
		RequestID string `json:"request_id"`
	}
	if len(c.Job.Payload) > 0 {
		_ = json.Unmarshal(c.Job.Payload, &ids)
	}
	c.Ctx = ctxutil.WithTraceData(c.Ctx, &ctxutil.TraceData{
		TraceID:   strings.TrimSpace(ids.TraceID),
		RequestID: strings.TrimSpace(ids.RequestID),
		JobID:     c.Job.ID.String(),
	})
}

// Decode unmarshals the job payload into v.
func (c *Context) Decode(v any) error {
	if c == nil || c.Job == nil {
		return fmt.Errorf("no job")
	}
	if len(c.Job.Payload) == 0 {
		return fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(c.Job.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", c.Job.JobType, err)
	}
	return nil
}

// Finished reports whether Succeed or Fail already ran.
func (c *Context) Finished() bool {
	return c != nil && c.finished
}

func (c *Context) ctx() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(c.Ctx)
}

// Heartbeat keeps a long-running job from being reclaimed as stale.
func (c *Context) Heartbeat() error {
	if c == nil || c.Repo == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return nil
	}
	return c.Repo.Heartbeat(dbctx.Of(c.ctx()), c.Job.ID)
}

// Fail marks this run failed with err recorded under stage. The worker may
// claim it again once the retry delay passes while attempts remain.
func (c *Context) Fail(stage string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if stage != "" {
		msg = stage + ": " + msg
	}
	now := time.Now().UTC()
	c.finish(types.StatusFailed, msg, map[string]interface{}{"last_error_at": now}, func(j *types.JobRun) {
		j.LastErrorAt = &now
	})
}

// Succeed marks this run terminally succeeded.
func (c *Context) Succeed() {
	now := time.Now().UTC()
	c.finish(types.StatusSucceeded, "", map[string]interface{}{"heartbeat_at": now}, func(j *types.JobRun) {
		j.HeartbeatAt = &now
	})
}

// finish persists a terminal status and mirrors it onto c.Job. A row that already
// succeeded is left untouched, and so is the in-memory copy.
func (c *Context) finish(status, msg string, extra map[string]interface{}, mirror func(*types.JobRun)) {
	if c == nil {
		return
	}
	c.finished = true
	if c.Job == nil {
		return
	}
	now := time.Now().UTC()
	if c.Repo != nil && c.Job.ID != uuid.Nil {
		fields := map[string]interface{}{
			"status":     status,
			"error":      msg,
			"locked_at":  nil,
			"updated_at": now,
		}
		for k, v := range extra {
			fields[k] = v
		}
		ok, err := c.Repo.UpdateFieldsUnlessStatus(dbctx.Of(c.ctx()), c.Job.ID, []string{types.StatusSucceeded}, fields)
		if err != nil || !ok {
			return
		}
	}
	c.Job.Status = status
	c.Job.Error = msg
	c.Job.LockedAt = nil
	c.Job.UpdatedAt = now
	mirror(c.Job)
}
