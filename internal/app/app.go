package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/weblink-backend/internal/data/repos"
	"github.com/yungbote/weblink-backend/internal/db"
	apphttp "github.com/yungbote/weblink-backend/internal/http"
	httpH "github.com/yungbote/weblink-backend/internal/http/handlers"
	"github.com/yungbote/weblink-backend/internal/ingestion/artifact"
	"github.com/yungbote/weblink-backend/internal/ingestion/cache"
	"github.com/yungbote/weblink-backend/internal/ingestion/extractor"
	"github.com/yungbote/weblink-backend/internal/ingestion/lock"
	"github.com/yungbote/weblink-backend/internal/jobs/pipeline/process_link"
	"github.com/yungbote/weblink-backend/internal/jobs/pipeline/process_link_by_user"
	"github.com/yungbote/weblink-backend/internal/jobs/pipeline/requeue_failed_links"
	"github.com/yungbote/weblink-backend/internal/jobs/queue"
	"github.com/yungbote/weblink-backend/internal/jobs/runtime"
	"github.com/yungbote/weblink-backend/internal/jobs/scheduler"
	"github.com/yungbote/weblink-backend/internal/jobs/worker"
	"github.com/yungbote/weblink-backend/internal/observability"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
	"github.com/yungbote/weblink-backend/internal/platform/openai"
	"github.com/yungbote/weblink-backend/internal/platform/qdrant"
	"github.com/yungbote/weblink-backend/internal/platform/redisx"
	"github.com/yungbote/weblink-backend/internal/services/contentflow"
	"github.com/yungbote/weblink-backend/internal/services/enrich"
	"github.com/yungbote/weblink-backend/internal/services/userindex"
	weblinksvc "github.com/yungbote/weblink-backend/internal/services/weblink"
)

type App struct {
	Log     *logger.Logger
	Cfg     Config
	DB      *gorm.DB
	Redis   *goredis.Client
	Repos   repos.Repos
	Metrics *observability.Metrics

	Queue     *queue.DBQueue
	Artifacts artifact.Store
	Weblinks  *weblinksvc.Service
	Registry  *runtime.Registry
	Worker    *worker.Worker
	Scheduler *scheduler.Scheduler
	Server    *apphttp.Server

	closers      []func() error
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

// NewLogger builds the process logger from LOG_MODE.
func NewLogger(mode string) (*logger.Logger, error) {
	if mode == "" {
		mode = "development"
	}
	log, err := logger.New(mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}

// New connects every backend and wires the ingestion pipeline. Close releases what
// New opened, including on partial failure.
func New(ctx context.Context, log *logger.Logger, cfg Config) (_ *App, err error) {
	a := &App{Log: log, Cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.otelShutdown = observability.InitOTel(ctx, log, cfg.Otel)
	a.Metrics = observability.Init(log)

	pg, err := db.NewPostgresService(log, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	a.closers = append(a.closers, pg.Close)
	if err := pg.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	a.DB = pg.DB()
	a.Repos = repos.New(a.DB, log)
	a.Queue = queue.NewDBQueue(a.DB, log, a.Repos.JobRuns, a.Metrics)

	locks, flow, err := a.wireRedis(ctx)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := resolveArtifactStore(log, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)
	a.Artifacts = store

	deps, err := a.wireIngestion(ctx)
	if err != nil {
		return nil, err
	}
	deps.Locks = locks
	deps.ContentFlow = flow
	a.Weblinks = weblinksvc.New(log, cfg.Ingest.Pipeline, deps)

	if err := a.wireJobs(); err != nil {
		return nil, err
	}
	a.wireHTTP()
	return a, nil
}

// wireRedis returns Redis-backed locks and content-flow events when REDIS_ADDR is
// set, and in-process versions otherwise.
func (a *App) wireRedis(ctx context.Context) (lock.Manager, weblinksvc.ContentFlow, error) {
	if a.Cfg.MemoryBackends || a.Cfg.Redis.Addr == "" {
		a.Log.Warn("Redis not configured; using in-process locks, which only exclude within this process")
		return lock.NewMemoryManager(a.Cfg.Locks.Lease), contentflow.NewLogPublisher(a.Log), nil
	}
	rdb, err := redisx.New(ctx, a.Log, a.Cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("init redis: %w", err)
	}
	a.Redis = rdb
	a.closers = append(a.closers, rdb.Close)

	pub, err := contentflow.NewRedisPublisher(a.Log, rdb, a.Cfg.ContentFlowChannel)
	if err != nil {
		return nil, nil, fmt.Errorf("init content flow: %w", err)
	}
	return lock.NewRedisManager(rdb, a.Cfg.Locks.Lease, a.Cfg.Locks.Prefix), pub, nil
}

func (a *App) wireIngestion(ctx context.Context) (weblinksvc.Deps, error) {
	cfg := a.Cfg
	converter := extractor.NewConverter()
	engine := extractor.NewEngine(a.Log, extractor.NewHTTPReader(cfg.Ingest.Reader, converter), converter, a.Metrics)
	chunker, err := extractor.NewChunker(cfg.Ingest.Chunk)
	if err != nil {
		return weblinksvc.Deps{}, fmt.Errorf("init chunker: %w", err)
	}

	deps := weblinksvc.Deps{
		Weblinks:     a.Repos.Weblinks,
		UserWeblinks: a.Repos.UserWeblinks,
		UserMarks:    a.Repos.UserMarks,
		Artifacts:    a.Artifacts,
		Cache:        cache.NewContentCache(cfg.Ingest.CacheSize, a.Metrics),
		Queue:        a.Queue,
		Fetcher:      engine,
		Chunker:      chunker,
		Metrics:      a.Metrics,
	}

	if cfg.OpenAI.APIKey != "" {
		ai, err := openai.NewClient(a.Log, cfg.OpenAI, a.Metrics)
		if err != nil {
			return weblinksvc.Deps{}, fmt.Errorf("init openai client: %w", err)
		}
		deps.Embedder = enrich.NewEmbedder(ai, cfg.Ingest.EmbedBatch)
		deps.Classifier = enrich.NewClassifier(ai)
	} else {
		a.Log.Warn("OPENAI_API_KEY not set; chunks are stored without embeddings and content meta is skipped")
	}

	var vectors userindex.VectorWriter
	if cfg.Qdrant.Enabled() {
		store, err := qdrant.New(ctx, a.Log, cfg.Qdrant, nil)
		if err != nil {
			return weblinksvc.Deps{}, fmt.Errorf("init qdrant: %w", err)
		}
		vectors = instrumentVectorStore("qdrant", store, a.Metrics)
	} else {
		a.Log.Warn("QDRANT_URL not set; per-user vector index disabled")
	}
	deps.UserIndex = userindex.New(a.Log, a.Repos.Weblinks, a.Artifacts, vectors)
	return deps, nil
}

func (a *App) wireJobs() error {
	a.Registry = runtime.NewRegistry()
	err := a.Registry.Register(
		process_link.New(a.Log, a.Weblinks),
		process_link_by_user.New(a.Log, a.Weblinks),
		requeue_failed_links.New(a.Log, a.Weblinks),
	)
	if err != nil {
		return fmt.Errorf("register job handlers: %w", err)
	}
	a.Worker = worker.NewWorker(a.Log, a.Repos.JobRuns, a.Registry, a.Metrics, a.Cfg.Worker)

	a.Scheduler = scheduler.New(a.Log)
	if sweep := a.Cfg.Ingest.Pipeline.Retry.SweepInterval; sweep > 0 {
		err := a.Scheduler.Every(requeue_failed_links.JobType, sweep, func(ctx context.Context) error {
			return a.Queue.Enqueue(ctx, requeue_failed_links.JobType, requeue_failed_links.Payload{})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *App) wireHTTP() {
	checks := map[string]httpH.Pinger{
		"postgres": httpH.PingFunc(func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
	}
	if a.Redis != nil {
		checks["redis"] = httpH.PingFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		})
	}
	a.Server = apphttp.NewServer(apphttp.RouterConfig{
		Log:            a.Log,
		Metrics:        a.Metrics,
		ServiceName:    a.Cfg.Otel.ServiceName,
		AllowedOrigins: a.Cfg.HTTP.AllowedOrigins,
		WeblinkHandler: httpH.NewWeblinkHandler(a.Weblinks),
		HealthHandler:  httpH.NewHealthHandler(checks),
	})
}

// StartBackground launches the job worker pool, the scheduler and the queue depth
// collector. They stop when Close is called.
func (a *App) StartBackground() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.Worker.Start(ctx)
	a.Scheduler.Start()
	a.Metrics.StartJobQueueCollector(ctx, a.Log, a.Queue)
}

// RunHTTP serves the API until ctx is cancelled, then shuts the server down.
func (a *App) RunHTTP(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTP.Addr)
		errCh <- a.Server.Run(a.Cfg.HTTP.Addr)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Server.Shutdown(sctx)
	}
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
		a.Worker.Wait()
	}
	if a.Scheduler != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		a.Scheduler.Stop(sctx)
		cancel()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.otelShutdown != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(sctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if err := errors.Join(errs...); err != nil && a.Log != nil {
		a.Log.Warn("Errors while closing app", "error", err)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

// Migrate creates or updates the schema without starting anything else.
func Migrate(log *logger.Logger, cfg Config) error {
	pg, err := db.NewPostgresService(log, cfg.DB)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	defer pg.Close()
	return pg.AutoMigrateAll()
}
