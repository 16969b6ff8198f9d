package weblink

import (
	"context"
	"fmt"
	"time"

	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/platform/dbctx"
)

func (s *Service) EnqueueProcessTask(ctx context.Context, job types.IngestionJob) error {
	if err := s.Queue.Enqueue(ctx, types.ChannelProcessLink, job); err != nil {
		return fmt.Errorf("enqueue %s: %w", types.ChannelProcessLink, err)
	}
	return nil
}

func (s *Service) EnqueueProcessByUserTask(ctx context.Context, job types.IngestionJob) error {
	if err := s.Queue.Enqueue(ctx, types.ChannelProcessLinkByUser, job); err != nil {
		return fmt.Errorf("enqueue %s: %w", types.ChannelProcessLinkByUser, err)
	}
	return nil
}

// RequeueFailedLinks puts up to limit failed links back on the plain ingestion
// channel. Links that already have a queued job, or that failed less than
// Retry.Backoff ago, are left alone.
func (s *Service) RequeueFailedLinks(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = s.cfg.Retry.SweepBatch
	}
	if limit <= 0 {
		limit = 100
	}
	olderThan := time.Now().UTC().Add(-s.cfg.Retry.delay(0))
	failed, err := s.Weblinks.ListFailed(dbctx.Of(ctx), limit, olderThan)
	if err != nil {
		return 0, fmt.Errorf("list failed weblinks: %w", err)
	}

	pc, _ := s.Queue.(pendingChecker)
	requeued := 0
	for _, w := range failed {
		if pc != nil {
			pending, err := pc.Pending(ctx, types.ChannelProcessLink, w.URL)
			if err != nil {
				return requeued, err
			}
			if pending {
				continue
			}
		}
		if err := s.EnqueueProcessTask(ctx, types.IngestionJob{URL: w.URL}); err != nil {
			return requeued, err
		}
		// Touch the row so the next sweep waits another backoff period.
		if err := s.Weblinks.UpdateFields(dbctx.Of(ctx), w.ID, map[string]interface{}{"last_parse_time": time.Now().UTC()}); err != nil {
			s.log.Warn("Touch requeued weblink failed", "url", w.URL, "error", err)
		}
		requeued++
	}
	if requeued > 0 {
		s.log.Info("Requeued failed weblinks", "count", requeued, "scanned", len(failed))
	}
	return requeued, nil
}
