// Package weblink is the ingestion orchestrator: it turns submitted links into parsed,
// chunked and classified records and links them to the users who visited them.
package weblink

import (
	"context"
	"errors"
	"time"

	"github.com/yungbote/weblink-backend/internal/data/repos"
	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/ingestion/artifact"
	"github.com/yungbote/weblink-backend/internal/ingestion/cache"
	"github.com/yungbote/weblink-backend/internal/ingestion/extractor"
	"github.com/yungbote/weblink-backend/internal/ingestion/lock"
	"github.com/yungbote/weblink-backend/internal/jobs/queue"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
	"github.com/yungbote/weblink-backend/internal/services/contentflow"
)

var ErrNotFound = errors.New("weblink not found")

// Page selects one page of a user's history.
type Page = repos.Page

const (
	DefaultUserRetryCeiling = 20
	DefaultUserRetryBackoff = 2 * time.Second
	DefaultReadTokenBudget  = 12000
)

// Step outcomes reported to the StepObserver.
const (
	outcomeSuccess   = "success"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
	outcomeContended = "contended"
	outcomeDiscarded = "discarded"
)

type Fetcher interface {
	FetchAndParse(ctx context.Context, url string) (*types.Data, error)
	ParseUploaded(url, title, rawHTML string) *types.Data
}

type Chunker interface {
	Chunk(doc *types.Document) []types.Chunk
}

type Embedder interface {
	EmbedChunks(ctx context.Context, chunks []types.Chunk) error
}

type Classifier interface {
	Classify(ctx context.Context, doc *types.Document) (*types.ContentMeta, error)
}

type UserIndexer interface {
	SaveChunkEmbeddingsForUser(ctx context.Context, userID string, urls []string) error
}

type ContentFlow interface {
	Publish(ctx context.Context, ev contentflow.Event) error
}

// StepObserver receives per-step outcomes. *observability.Metrics implements it.
type StepObserver interface {
	ObserveStep(step, outcome string, dur time.Duration)
	LockContended(step string)
}

// pendingChecker is implemented by queues that can tell whether work for a key is
// already waiting.
type pendingChecker interface {
	Pending(ctx context.Context, channel, key string) (bool, error)
}

// LinkRetryPolicy controls automatic retries of plain ingestion. The zero value
// never retries: a failed link stays failed until it is submitted again.
type LinkRetryPolicy struct {
	MaxRetries    int           `yaml:"max_retries"`
	Backoff       time.Duration `yaml:"backoff"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepBatch    int           `yaml:"sweep_batch"`
}

// delay is Backoff doubled once per previous attempt.
func (p LinkRetryPolicy) delay(attempt int) time.Duration {
	d := p.Backoff
	if d <= 0 {
		d = 30 * time.Second
	}
	for i := 0; i < attempt && d < 6*time.Hour; i++ {
		d *= 2
	}
	return d
}

type Config struct {
	ParserVersion    string          `yaml:"parser_version"`
	UserRetryCeiling int             `yaml:"user_retry_ceiling"`
	UserRetryBackoff time.Duration   `yaml:"user_retry_backoff"`
	ReadTokenBudget  int             `yaml:"read_token_budget"`
	Retry            LinkRetryPolicy `yaml:"retry"`
}

func DefaultConfig() Config {
	return Config{
		ParserVersion:    extractor.Version,
		UserRetryCeiling: DefaultUserRetryCeiling,
		UserRetryBackoff: DefaultUserRetryBackoff,
		ReadTokenBudget:  DefaultReadTokenBudget,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ParserVersion == "" {
		c.ParserVersion = d.ParserVersion
	}
	if c.UserRetryCeiling <= 0 {
		c.UserRetryCeiling = d.UserRetryCeiling
	}
	if c.UserRetryBackoff <= 0 {
		c.UserRetryBackoff = d.UserRetryBackoff
	}
	if c.ReadTokenBudget <= 0 {
		c.ReadTokenBudget = d.ReadTokenBudget
	}
	return c
}

// Deps are the collaborators of the orchestrator. Embedder, Classifier, UserIndex,
// ContentFlow and Metrics are optional.
type Deps struct {
	Weblinks     repos.WeblinkRepo
	UserWeblinks repos.UserWeblinkRepo
	UserMarks    repos.UserMarkRepo
	Artifacts    artifact.Store
	Locks        lock.Manager
	Cache        *cache.ContentCache
	Queue        queue.Queue
	Fetcher      Fetcher
	Chunker      Chunker
	Embedder     Embedder
	Classifier   Classifier
	UserIndex    UserIndexer
	ContentFlow  ContentFlow
	Metrics      StepObserver
}

type Service struct {
	log *logger.Logger
	cfg Config
	Deps
}

func New(baseLog *logger.Logger, cfg Config, deps Deps) *Service {
	return &Service{
		log:  baseLog.With("service", "WeblinkService"),
		cfg:  cfg.withDefaults(),
		Deps: deps,
	}
}

func (s *Service) Config() Config { return s.cfg }

func (s *Service) observe(step, outcome string, start time.Time) {
	if s.Metrics == nil {
		return
	}
	var dur time.Duration
	if outcome == outcomeSuccess || outcome == outcomeFailed {
		dur = time.Since(start)
	}
	s.Metrics.ObserveStep(step, outcome, dur)
}

func (s *Service) contended(step lock.Step, url string) {
	s.log.Info("Lock held elsewhere, skipping step", "step", string(step), "url", url)
	if s.Metrics != nil {
		s.Metrics.LockContended(string(step))
		s.Metrics.ObserveStep(string(step), outcomeContended, 0)
	}
}
