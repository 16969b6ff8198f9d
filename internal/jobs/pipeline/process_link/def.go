package process_link

import (
	"context"

	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

// Processor is the part of the weblink service this job drives.
type Processor interface {
	ProcessLink(ctx context.Context, job types.IngestionJob) (*types.Weblink, error)
}

type Pipeline struct {
	log  *logger.Logger
	proc Processor
}

func New(baseLog *logger.Logger, proc Processor) *Pipeline {
	return &Pipeline{
		log:  baseLog.With("job", types.ChannelProcessLink),
		proc: proc,
	}
}

func (p *Pipeline) Type() string { return types.ChannelProcessLink }
