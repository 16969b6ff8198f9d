package process_link_by_user

import (
	"context"

	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

type Processor interface {
	ProcessLinkByUser(ctx context.Context, job types.IngestionJob)
}

type Pipeline struct {
	log  *logger.Logger
	proc Processor
}

func New(baseLog *logger.Logger, proc Processor) *Pipeline {
	return &Pipeline{
		log:  baseLog.With("job", types.ChannelProcessLinkByUser),
		proc: proc,
	}
}

func (p *Pipeline) Type() string { return types.ChannelProcessLinkByUser }
