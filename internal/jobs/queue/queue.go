package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/weblink-backend/internal/data/repos"
	types "github.com/yungbote/weblink-backend/internal/domain/jobs"
	"github.com/yungbote/weblink-backend/internal/platform/ctxutil"
	"github.com/yungbote/weblink-backend/internal/platform/dbctx"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

// Queue accepts work for named channels. Delivery is at least once.
type Queue interface {
	Enqueue(ctx context.Context, channel string, payload any) error
	EnqueueDelayed(ctx context.Context, channel string, payload any, delay time.Duration) error
}

// Keyed payloads expose the entity they act on so duplicate work can be found.
type Keyed interface {
	QueueKey() string
}

type DBQueue struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.JobRunRepo
	obs  Observer
}

// Observer receives one call per accepted job.
type Observer interface {
	JobEnqueued(channel string, delayed bool)
}

func NewDBQueue(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, obs Observer) *DBQueue {
	return &DBQueue{
		db:   db,
		log:  baseLog.With("service", "JobQueue"),
		repo: repo,
		obs:  obs,
	}
}

func (q *DBQueue) Enqueue(ctx context.Context, channel string, payload any) error {
	return q.EnqueueDelayed(ctx, channel, payload, 0)
}

func (q *DBQueue) EnqueueDelayed(ctx context.Context, channel string, payload any, delay time.Duration) error {
	_, err := q.EnqueueTx(dbctx.Of(ctx), channel, payload, delay)
	return err
}

// EnqueueTx writes the job row through dbc, so it commits with the caller's transaction.
func (q *DBQueue) EnqueueTx(dbc dbctx.Context, channel string, payload any, delay time.Duration) (*types.JobRun, error) {
	if channel == "" {
		return nil, fmt.Errorf("missing channel")
	}
	body, err := encodePayload(dbc.Ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", channel, err)
	}
	now := time.Now().UTC()
	if delay < 0 {
		delay = 0
	}
	job := &types.JobRun{
		JobType:   channel,
		Status:    types.StatusQueued,
		RunAfter:  now.Add(delay),
		Payload:   body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if k, ok := payload.(Keyed); ok {
		job.EntityKey = k.QueueKey()
	}
	if _, err := q.repo.Create(dbc, []*types.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if q.obs != nil {
		q.obs.JobEnqueued(channel, delay > 0)
	}
	q.log.Debug("Job enqueued", "job_id", job.ID, "job_type", channel, "entity_key", job.EntityKey, "delay", delay.String())
	return job, nil
}

// Pending reports whether a queued or running job already exists for key on channel.
func (q *DBQueue) Pending(ctx context.Context, channel, key string) (bool, error) {
	return q.repo.ExistsRunnable(dbctx.Of(ctx), channel, key)
}

// CountByStatus reports job rows per status across every channel.
func (q *DBQueue) CountByStatus(ctx context.Context) (map[string]int64, error) {
	return q.repo.CountByStatus(dbctx.Of(ctx), "")
}

// encodePayload marshals payload and stamps the caller's correlation ids next to its fields.
func encodePayload(ctx context.Context, payload any) (datatypes.JSON, error) {
	if payload == nil {
		return datatypes.JSON([]byte(`{}`)), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	td := ctxutil.GetTraceData(ctx)
	if td == nil || (td.TraceID == "" && td.RequestID == "") {
		return datatypes.JSON(b), nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		// Not an object; store as is.
		return datatypes.JSON(b), nil
	}
	if td.TraceID != "" {
		if _, ok := m["trace_id"]; !ok {
			m["trace_id"] = td.TraceID
		}
	}
	if td.RequestID != "" {
		if _, ok := m["request_id"]; !ok {
			m["request_id"] = td.RequestID
		}
	}
	out, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(out), nil
}
