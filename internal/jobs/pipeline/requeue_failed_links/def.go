package requeue_failed_links

import (
	"context"

	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

const JobType = "requeue_failed_links"

// Payload is optional; a zero Limit uses the configured sweep batch.
type Payload struct {
	Limit int `json:"limit,omitempty"`
}

// QueueKey collapses pending sweeps into one.
func (Payload) QueueKey() string { return JobType }

type Requeuer interface {
	RequeueFailedLinks(ctx context.Context, limit int) (int, error)
}

type Pipeline struct {
	log *logger.Logger
	svc Requeuer
}

func New(baseLog *logger.Logger, svc Requeuer) *Pipeline {
	return &Pipeline{
		log: baseLog.With("job", JobType),
		svc: svc,
	}
}

func (p *Pipeline) Type() string { return JobType }
