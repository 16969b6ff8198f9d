package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/weblink-backend/internal/data/repos"
	jobsrepo "github.com/yungbote/weblink-backend/internal/data/repos/jobs"
	types "github.com/yungbote/weblink-backend/internal/domain/jobs"
	"github.com/yungbote/weblink-backend/internal/jobs/runtime"
	"github.com/yungbote/weblink-backend/internal/observability"
	"github.com/yungbote/weblink-backend/internal/platform/dbctx"
	"github.com/yungbote/weblink-backend/internal/platform/envutil"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

type Config struct {
	Concurrency       int
	PollInterval      time.Duration
	MaxAttempts       int
	RetryDelay        time.Duration
	StaleRunning      time.Duration
	HeartbeatInterval time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Concurrency:       envutil.Int("WORKER_CONCURRENCY", 4),
		PollInterval:      envutil.Duration("JOB_POLL_INTERVAL", time.Second),
		MaxAttempts:       envutil.Int("JOB_MAX_ATTEMPTS", 5),
		RetryDelay:        envutil.Duration("JOB_RETRY_DELAY", 30*time.Second),
		StaleRunning:      envutil.Duration("JOB_STALE_AFTER", 2*time.Minute),
		HeartbeatInterval: envutil.Duration("JOB_HEARTBEAT_INTERVAL", 20*time.Second),
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 2 * time.Minute
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.StaleRunning {
		c.HeartbeatInterval = c.StaleRunning / 3
	}
	return c
}

// JobObserver records finished jobs.
type JobObserver interface {
	ObserveJob(channel, outcome string, dur time.Duration)
}

type Worker struct {
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *runtime.Registry
	obs      JobObserver
	cfg      Config
	wg       sync.WaitGroup
}

func NewWorker(baseLog *logger.Logger, repo repos.JobRunRepo, registry *runtime.Registry, obs JobObserver, cfg Config) *Worker {
	return &Worker{
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		obs:      obs,
		cfg:      cfg.withDefaults(),
	}
}

// Start launches the worker pool. It returns immediately; Wait blocks until every loop
// has observed ctx cancellation.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency, "job_types", w.registry.Types())
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx, workerID)
		}()
	}
}

func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			// Drain while there is work so a backlog is not paced by the ticker.
			for ctx.Err() == nil {
				ran, err := w.RunOnce(ctx)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
					break
				}
				if !ran {
					break
				}
			}
		}
	}
}

// RunOnce claims at most one due job and runs it to completion. It reports whether a
// job was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.repo.ClaimNextRunnable(dbctx.Of(ctx), jobsrepo.ClaimOptions{
		JobTypes:     w.registry.Types(),
		MaxAttempts:  w.cfg.MaxAttempts,
		RetryDelay:   w.cfg.RetryDelay,
		StaleRunning: w.cfg.StaleRunning,
	})
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.run(ctx, job)
	return true, nil
}

func (w *Worker) run(ctx context.Context, job *types.JobRun) {
	start := time.Now()
	spanCtx, span := observability.StartSpan(ctx, "job."+job.JobType,
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.type", job.JobType),
		attribute.Int("job.attempt", job.Attempts),
	)
	jc := runtime.NewContext(spanCtx, job, w.repo)

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		w.log.Warn("No handler registered for job_type", "job_type", job.JobType, "job_id", job.ID)
		herr := &missingHandlerError{JobType: job.JobType}
		jc.Fail("dispatch", herr)
		w.finish(job, "failed", start)
		observability.EndSpan(span, herr)
		return
	}

	stopHeartbeat := w.startHeartbeat(spanCtx, jc)
	runErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Job handler panic",
					"job_id", job.ID,
					"job_type", job.JobType,
					"panic", r,
				)
				err = errFromRecover(r)
			}
		}()
		return h.Run(jc)
	}()
	stopHeartbeat()

	outcome := "succeeded"
	switch {
	case runErr != nil:
		jc.Fail("run", runErr)
		outcome = "failed"
	case !jc.Finished():
		jc.Succeed()
	case job.Status == types.StatusFailed:
		outcome = "failed"
	}
	if runErr != nil {
		w.log.Warn("Job failed", "job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts, "error", runErr)
	}
	w.finish(job, outcome, start)
	observability.EndSpan(span, runErr)
}

func (w *Worker) startHeartbeat(ctx context.Context, jc *runtime.Context) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := jc.Heartbeat(); err != nil {
					w.log.Warn("Job heartbeat failed", "job_id", jc.Job.ID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (w *Worker) finish(job *types.JobRun, outcome string, start time.Time) {
	if w.obs != nil {
		w.obs.ObserveJob(job.JobType, outcome, time.Since(start))
	}
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
