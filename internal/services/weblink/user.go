package weblink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/weblink-backend/internal/data/repos"
	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/normalization"
	"github.com/yungbote/weblink-backend/internal/observability"
	"github.com/yungbote/weblink-backend/internal/platform/dbctx"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
	"github.com/yungbote/weblink-backend/internal/services/contentflow"
)

// ProcessLinkByUser links a user's visit to its weblink once the weblink is ready.
// Until then it pushes the link through plain ingestion and retries itself after
// UserRetryBackoff, giving up after UserRetryCeiling attempts. Jobs without a user
// are dropped. Queue and database failures are logged and take the same delayed
// retry path, so nothing is returned to the consumer.
func (s *Service) ProcessLinkByUser(ctx context.Context, job types.IngestionJob) {
	log := s.log.With("url", job.URL, "user_id", job.UserID, "retry_times", job.RetryTimes)
	if job.UserID == "" {
		log.Warn("Drop job due to missing user id")
		return
	}
	if job.RetryTimes >= s.cfg.UserRetryCeiling {
		log.Error("Retry times exceed limit, dropping job", "limit", s.cfg.UserRetryCeiling)
		return
	}
	url, nerr := normalization.NormalizeURL(job.URL)
	if nerr != nil {
		log.Warn("Drop job with invalid url", "error", nerr)
		return
	}
	job.URL = url

	ctx, span := observability.StartSpan(ctx, "weblink.process_link_by_user",
		attribute.String("weblink.url", url), attribute.Int("weblink.retry_times", job.RetryTimes))
	err := s.linkVisit(ctx, job, log)
	observability.EndSpan(span, err)
	if err == nil {
		return
	}
	log.Error("Process link by user failed", "error", err)
	if rerr := s.requeueByUser(context.WithoutCancel(ctx), job); rerr != nil {
		log.Error("Requeue user link failed, dropping job", "error", rerr)
		return
	}
	log.Info("Requeued user link after failure", "backoff", s.cfg.UserRetryBackoff.String())
}

func (s *Service) linkVisit(ctx context.Context, job types.IngestionJob, log *logger.Logger) error {
	url := job.URL
	w, err := s.Weblinks.GetByURL(dbctx.Of(ctx), url)
	if err != nil {
		return fmt.Errorf("load weblink: %w", err)
	}
	if !types.IsReady(w, s.cfg.ParserVersion) {
		if err := s.EnqueueProcessTask(ctx, job); err != nil {
			return err
		}
		if err := s.requeueByUser(ctx, job); err != nil {
			return err
		}
		log.Debug("Weblink not ready, requeued", "backoff", s.cfg.UserRetryBackoff.String())
		return nil
	}

	data, rerr := s.readContent(ctx, url)
	if rerr != nil || data == nil || data.Doc == nil {
		log.Warn("Doc is empty, skipping", "error", rerr)
		return nil
	}

	visit := &types.UserWeblink{
		UserID:                job.UserID,
		URL:                   url,
		WeblinkID:             w.ID,
		Origin:                job.Origin,
		OriginPageURL:         job.OriginPageURL,
		OriginPageTitle:       job.OriginPageTitle,
		OriginPageDescription: job.OriginPageDescription,
		LastVisitTime:         job.VisitedAt(time.Now().UTC()),
	}
	visits := job.VisitCount
	if visits <= 0 {
		visits = 1
	}
	if err := s.UserWeblinks.RecordVisit(dbctx.Of(ctx), visit, visits, job.ReadTime); err != nil {
		return fmt.Errorf("record visit: %w", err)
	}
	if stored, gerr := s.UserWeblinks.GetByUserURL(dbctx.Of(ctx), job.UserID, url); gerr == nil && stored != nil {
		visit = stored
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		if s.UserIndex == nil {
			return nil
		}
		if err := s.UserIndex.SaveChunkEmbeddingsForUser(ctx, job.UserID, []string{url}); err != nil {
			return fmt.Errorf("save chunk embeddings: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if s.ContentFlow == nil {
			return nil
		}
		if err := s.ContentFlow.Publish(ctx, contentflow.NewEvent(ctx, visit, w, data.Doc)); err != nil {
			return fmt.Errorf("run content flow: %w", err)
		}
		return nil
	})
	if derr := g.Wait(); derr != nil {
		log.Error("Downstream user processing failed", "error", derr)
	}
	return nil
}

// requeueByUser schedules the next per-user attempt after UserRetryBackoff.
func (s *Service) requeueByUser(ctx context.Context, job types.IngestionJob) error {
	job.RetryTimes++
	if err := s.Queue.EnqueueDelayed(ctx, types.ChannelProcessLinkByUser, job, s.cfg.UserRetryBackoff); err != nil {
		return fmt.Errorf("enqueue user retry: %w", err)
	}
	return nil
}

// StoreLinks queues one per-user job per canonical URL. When a URL appears more
// than once the entry with the latest lastVisitTime wins, ties going to the later
// entry. Invalid URLs are skipped. It returns how many jobs were queued.
func (s *Service) StoreLinks(ctx context.Context, userID string, links []types.IngestionJob) (int, error) {
	if len(links) == 0 {
		return 0, nil
	}
	var order []string
	latest := make(map[string]types.IngestionJob, len(links))
	for _, link := range links {
		url, err := normalization.NormalizeURL(link.URL)
		if err != nil {
			s.log.Warn("Skipping invalid link", "url", link.URL, "error", err)
			continue
		}
		link.URL = url
		link.UserID = userID
		link.RetryTimes = 0
		prev, seen := latest[url]
		if !seen {
			order = append(order, url)
		}
		if !seen || link.LastVisitTime >= prev.LastVisitTime {
			latest[url] = link
		}
	}

	var errs []error
	queued := 0
	for _, url := range order {
		if err := s.EnqueueProcessByUserTask(ctx, latest[url]); err != nil {
			errs = append(errs, err)
			continue
		}
		queued++
	}
	s.log.Info("Stored links", "user_id", userID, "submitted", len(links), "queued", queued)
	return queued, errors.Join(errs...)
}

func (s *Service) GetUserHistory(ctx context.Context, userID string, page repos.Page) ([]*types.UserWeblink, int64, error) {
	if userID == "" {
		return nil, 0, fmt.Errorf("user id required")
	}
	return s.UserWeblinks.ListByUser(dbctx.Of(ctx), userID, page)
}

// SaveWeblinkUserMarks stores every selection of sources whose page is known. It
// returns how many marks were written.
func (s *Service) SaveWeblinkUserMarks(ctx context.Context, userID string, sources []types.Source, extensionVersion string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("user id required")
	}
	byURL := map[string][]types.Selection{}
	var urls []string
	for _, src := range sources {
		if len(src.Selections) == 0 {
			continue
		}
		url, err := normalization.NormalizeURL(src.Metadata.Source)
		if err != nil {
			s.log.Warn("Skipping marks for invalid url", "url", src.Metadata.Source, "error", err)
			continue
		}
		if _, ok := byURL[url]; !ok {
			urls = append(urls, url)
		}
		byURL[url] = append(byURL[url], src.Selections...)
	}
	if len(urls) == 0 {
		return 0, nil
	}

	links, err := s.Weblinks.ListByURLs(dbctx.Of(ctx), urls)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	var marks []*types.UserMark
	for _, w := range links {
		host := normalization.Host(w.URL)
		for _, sel := range byURL[w.URL] {
			marks = append(marks, &types.UserMark{
				ID:               uuid.New(),
				UserID:           userID,
				WeblinkID:        w.ID,
				LinkHost:         host,
				Selector:         sel.XPath,
				ExtensionVersion: extensionVersion,
				CreatedAt:        now,
			})
		}
	}
	if len(marks) == 0 {
		return 0, nil
	}
	if _, err := s.UserMarks.CreateMany(dbctx.Of(ctx), marks); err != nil {
		return 0, err
	}
	return len(marks), nil
}
