package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/weblink-backend/internal/domain/jobs"
	"github.com/yungbote/weblink-backend/internal/platform/dbctx"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

type ClaimOptions struct {
	JobTypes     []string
	MaxAttempts  int
	RetryDelay   time.Duration
	StaleRunning time.Duration
}

type JobRunRepo interface {
	Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.JobRun, error)
	ClaimNextRunnable(dbc dbctx.Context, opts ClaimOptions) (*types.JobRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	ExistsRunnable(dbc dbctx.Context, jobType string, entityKey string) (bool, error)
	CountByStatus(dbc dbctx.Context, jobType string) (map[string]int64, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{
		db:  db,
		log: baseLog.With("repo", "JobRunRepo"),
	}
}

func (r *jobRunRepo) Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error) {
	if len(jobs) == 0 {
		return []*types.JobRun{}, nil
	}
	now := time.Now().UTC()
	for _, j := range jobs {
		if j.ID == uuid.Nil {
			j.ID = uuid.New()
		}
		if j.Status == "" {
			j.Status = types.StatusQueued
		}
		if j.RunAfter.IsZero() {
			j.RunAfter = now
		}
		if j.CreatedAt.IsZero() {
			j.CreatedAt = now
		}
		if j.UpdatedAt.IsZero() {
			j.UpdatedAt = now
		}
	}
	if err := dbc.DB(r.db).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRunRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.JobRun, error) {
	out := []*types.JobRun{}
	if len(ids) == 0 {
		return out, nil
	}
	err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

// runnable matches rows a worker may take now: queued past run_after, failed with
// attempts left once the retry delay has passed, or running with a stale heartbeat
// and attempts left.
func runnable(q *gorm.DB, now time.Time, opts ClaimOptions) *gorm.DB {
	q = q.Where(
		q.Session(&gorm.Session{NewDB: true}).
			Where("status = ? AND run_after <= ?", types.StatusQueued, now).
			Or("status = ? AND attempts < ? AND (last_error_at IS NULL OR last_error_at < ?)",
				types.StatusFailed, opts.MaxAttempts, now.Add(-opts.RetryDelay)).
			Or("status = ? AND attempts < ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?",
				types.StatusRunning, opts.MaxAttempts, now.Add(-opts.StaleRunning)),
	)
	if len(opts.JobTypes) > 0 {
		q = q.Where("job_type IN ?", opts.JobTypes)
	}
	return q
}

// ClaimNextRunnable marks the oldest runnable row running and returns it, or nil
// when nothing is due. Concurrent workers skip rows another claim holds.
func (r *jobRunRepo) ClaimNextRunnable(dbc dbctx.Context, opts ClaimOptions) (*types.JobRun, error) {
	now := time.Now().UTC()
	var claimed *types.JobRun
	err := dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		if err := abandonExhausted(tx, now, opts); err != nil {
			return err
		}
		var job types.JobRun
		err := runnable(tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}), now, opts).
			Order("run_after ASC").
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&types.JobRun{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":       types.StatusRunning,
			"attempts":     gorm.Expr("attempts + 1"),
			"locked_at":    now,
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error; err != nil {
			return err
		}
		job.Status = types.StatusRunning
		job.Attempts++
		job.LockedAt, job.HeartbeatAt = &now, &now
		claimed = &job
		return nil
	})
	return claimed, err
}

// abandonExhausted fails running rows whose heartbeat went stale on their last
// allowed attempt.
func abandonExhausted(tx *gorm.DB, now time.Time, opts ClaimOptions) error {
	q := tx.Model(&types.JobRun{}).
		Where("status = ? AND attempts >= ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?",
			types.StatusRunning, opts.MaxAttempts, now.Add(-opts.StaleRunning))
	if len(opts.JobTypes) > 0 {
		q = q.Where("job_type IN ?", opts.JobTypes)
	}
	return q.Updates(map[string]interface{}{
		"status":        types.StatusFailed,
		"error":         "abandoned: worker stopped heartbeating on the last attempt",
		"last_error_at": now,
		"updated_at":    now,
	}).Error
}

func stamped(updates map[string]interface{}) map[string]interface{} {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return updates
}

func (r *jobRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).Model(&types.JobRun{}).Where("id = ?", id).Updates(stamped(updates)).Error
}

// UpdateFieldsUnlessStatus applies updates only while the row is in none of the
// given statuses and reports whether a row changed.
func (r *jobRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	q := dbc.DB(r.db).Model(&types.JobRun{}).Where("id = ?", id)
	if len(disallowedStatuses) > 0 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(stamped(updates))
	return res.Error == nil && res.RowsAffected > 0, res.Error
}

func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	return dbc.DB(r.db).
		Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, types.StatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *jobRunRepo) ExistsRunnable(dbc dbctx.Context, jobType string, entityKey string) (bool, error) {
	if jobType == "" || entityKey == "" {
		return false, nil
	}
	var count int64
	err := dbc.DB(r.db).
		Model(&types.JobRun{}).
		Where("job_type = ? AND entity_key = ? AND status IN ?",
			jobType, entityKey, []string{types.StatusQueued, types.StatusRunning},
		).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *jobRunRepo) CountByStatus(dbc dbctx.Context, jobType string) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	q := dbc.DB(r.db).Model(&types.JobRun{}).Select("status, COUNT(*) AS n")
	if jobType != "" {
		q = q.Where("job_type = ?", jobType)
	}
	if err := q.Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, rr := range rows {
		out[rr.Status] = rr.N
	}
	return out, nil
}
