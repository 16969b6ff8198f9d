package weblink

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/ingestion/artifact"
	"github.com/yungbote/weblink-backend/internal/ingestion/lock"
	"github.com/yungbote/weblink-backend/internal/normalization"
	"github.com/yungbote/weblink-backend/internal/observability"
	"github.com/yungbote/weblink-backend/internal/platform/ctxutil"
	"github.com/yungbote/weblink-backend/internal/platform/dbctx"
)

// ProcessLink ingests one canonical URL: it makes sure the record exists, obtains
// the document unless the link is already ready, stores it, then chunks and
// classifies it. Pipeline failures, panics included, end as failed statuses on the
// record; the only returned error is an unusable URL.
func (s *Service) ProcessLink(ctx context.Context, job types.IngestionJob) (out *types.Weblink, err error) {
	url, err := normalization.NormalizeURL(job.URL)
	if err != nil {
		return nil, err
	}
	job.URL = url

	ctx, span := observability.StartSpan(ctx, "weblink.process_link", attribute.String("weblink.url", url))
	defer func() { observability.EndSpan(span, err) }()

	log := s.log.With(ctxutil.LogFields(ctx)...).With("url", url)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Process link panic", "panic", r, "stack", string(debug.Stack()))
			s.markFailedByURL(ctx, url)
			out, err = nil, nil
			if w, gerr := s.Weblinks.GetByURL(dbctx.Of(context.WithoutCancel(ctx)), url); gerr == nil {
				out = w
			}
		}
	}()
	log.Debug("Process link", "retry_times", job.RetryTimes, "has_storage_key", job.StorageKey != "")

	w, uerr := s.Weblinks.UpsertByURL(dbctx.Of(ctx), url)
	if uerr != nil {
		log.Error("Upsert weblink failed", "error", uerr)
		s.markFailedByURL(ctx, url)
		return nil, nil
	}

	if types.IsReady(w, s.cfg.ParserVersion) {
		log.Debug("Weblink already ready, skipping")
		return w, nil
	}

	data := s.obtainData(ctx, job)
	if data == nil || data.Doc == nil {
		log.Warn("Cannot parse weblink content, marking failed")
		s.markFailed(ctx, w)
		s.scheduleRetry(ctx, job)
		return s.reload(ctx, w), nil
	}
	doc := data.Doc

	meta, merr := json.Marshal(doc.Metadata)
	if merr != nil {
		meta = []byte("{}")
	}
	var parsed *types.Weblink
	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.guarded("page_meta", url, func() error {
		now := time.Now().UTC()
		return s.Weblinks.UpdateFields(dbctx.Of(gctx), w.ID, map[string]interface{}{
			"page_meta":       datatypes.JSON(meta),
			"last_parse_time": now,
		})
	}))
	g.Go(s.guarded(string(lock.StepParse), url, func() error {
		parsed = s.UpdateWeblinkStorageKey(gctx, w, job, *data)
		return nil
	}))
	if gerr := g.Wait(); gerr != nil {
		log.Error("Persist weblink failed", "error", gerr)
		s.markFailed(ctx, w)
		return s.reload(ctx, w), nil
	}

	if parsed.ParseStatus == types.StatusFailed {
		return s.reload(ctx, w), nil
	}

	steps := new(errgroup.Group)
	steps.Go(s.guarded(string(lock.StepIndex), url, func() error {
		s.GenWeblinkChunkEmbedding(ctx, parsed, doc)
		return nil
	}))
	steps.Go(s.guarded(string(lock.StepContentMeta), url, func() error {
		s.ExtractWeblinkContentMeta(ctx, parsed, doc)
		return nil
	}))
	if serr := steps.Wait(); serr != nil {
		log.Error("Weblink step aborted", "error", serr)
		if cur := s.reload(ctx, w); cur.ChunkStatus != types.StatusFinish {
			s.setStatus(ctx, w, map[string]interface{}{"chunk_status": types.StatusFailed})
		}
	}

	return s.reload(ctx, w), nil
}

// obtainData looks for the document in the cache, then in the uploaded HTML the
// job points at, then through ReadWebLinkContent. It returns nil when nothing
// produced a document.
func (s *Service) obtainData(ctx context.Context, job types.IngestionJob) *types.Data {
	if data, ok := s.Cache.Get(job.URL); ok {
		return &data
	}
	if job.StorageKey != "" {
		raw, err := s.Artifacts.Download(ctx, job.StorageKey)
		if err != nil {
			s.log.Error("Download uploaded html failed", "url", job.URL, "storage_key", job.StorageKey, "error", err)
			return nil
		}
		data := s.Fetcher.ParseUploaded(job.URL, job.Title, string(raw))
		if data != nil {
			s.Cache.Put(job.URL, *data)
		}
		return data
	}
	data, err := s.readContent(ctx, job.URL)
	if err != nil {
		s.log.Warn("Read weblink content failed", "url", job.URL, "error", err)
		return nil
	}
	return data
}

// UpdateWeblinkStorageKey uploads the parsed document (and raw HTML when there is
// no stored copy yet) and records the keys with parse_status=finish. It returns w
// unchanged when the work is already done or another worker holds the parse lock.
func (s *Service) UpdateWeblinkStorageKey(ctx context.Context, w *types.Weblink, job types.IngestionJob, data types.Data) *types.Weblink {
	const step = lock.StepParse
	start := time.Now()
	if s.parseDone(w, data) {
		s.observe(string(step), outcomeSkipped, start)
		return w
	}
	if data.Doc == nil {
		return w
	}

	out := *w
	acquired, err := lock.WithLock(ctx, s.Locks, lock.Key(step, w.URL), s.guardedCtx(string(step), w.URL, func(ctx context.Context) error {
		if fresh := s.reload(ctx, w); s.parseDone(fresh, data) {
			out = *fresh
			return nil
		}
		docKey := artifact.DocKey(w.URL)
		if _, err := s.Artifacts.Upload(ctx, docKey, []byte(data.Doc.PageContent)); err != nil {
			return err
		}
		storageKey := w.StorageKey
		switch {
		case job.StorageKey != "":
			storageKey = job.StorageKey
		case storageKey == "" && data.HTML != "":
			htmlKey := artifact.HTMLKey(w.URL)
			if _, err := s.Artifacts.Upload(ctx, htmlKey, []byte(data.HTML)); err != nil {
				s.log.Warn("Upload raw html failed", "url", w.URL, "error", err)
			} else {
				storageKey = htmlKey
			}
		}
		updates := map[string]interface{}{
			"parsed_doc_storage_key": docKey,
			"parse_status":           types.StatusFinish,
			"parse_source":           job.ParseSource(),
		}
		if storageKey != "" {
			updates["storage_key"] = storageKey
		}
		if err := s.Weblinks.UpdateFields(dbctx.Of(ctx), w.ID, updates); err != nil {
			return err
		}
		out.ParsedDocStorageKey = docKey
		out.ParseStatus = types.StatusFinish
		out.ParseSource = job.ParseSource()
		out.StorageKey = storageKey
		return nil
	}))
	if !acquired && err == nil {
		s.contended(step, w.URL)
		return w
	}
	if err != nil {
		s.log.Error("Store parsed document failed", "url", w.URL, "error", err)
		s.setStatus(ctx, w, map[string]interface{}{"parse_status": types.StatusFailed})
		out.ParseStatus = types.StatusFailed
		s.observe(string(step), outcomeFailed, start)
		return &out
	}
	s.observe(string(step), outcomeSuccess, start)
	return &out
}

func (s *Service) parseDone(w *types.Weblink, data types.Data) bool {
	return w != nil && w.State(s.cfg.ParserVersion).Parsed() && (w.StorageKey != "" || data.HTML == "")
}

// GenWeblinkChunkEmbedding chunks and embeds doc, uploads the chunk set under the
// current parser version and records chunk_status=finish. Links already indexed
// at this version are left alone.
func (s *Service) GenWeblinkChunkEmbedding(ctx context.Context, w *types.Weblink, doc *types.Document) *types.Weblink {
	const step = lock.StepIndex
	start := time.Now()
	if w.State(s.cfg.ParserVersion).Indexed() {
		s.observe(string(step), outcomeSkipped, start)
		return w
	}

	out := *w
	version := s.cfg.ParserVersion
	acquired, err := lock.WithLock(ctx, s.Locks, lock.Key(step, w.URL), s.guardedCtx(string(step), w.URL, func(ctx context.Context) error {
		if fresh := s.reload(ctx, w); fresh.State(version).Indexed() {
			out = *fresh
			return nil
		}
		chunks := s.Chunker.Chunk(doc)
		if s.Embedder != nil && len(chunks) > 0 {
			if err := s.Embedder.EmbedChunks(ctx, chunks); err != nil {
				return err
			}
		}
		set := types.ChunkSet{
			URL:           w.URL,
			ParserVersion: version,
			Title:         doc.Metadata.Title,
			Chunks:        chunks,
			CreatedAt:     time.Now().UTC(),
		}
		raw, err := json.Marshal(set)
		if err != nil {
			return err
		}
		key := artifact.ChunkKey(w.URL, version)
		if _, err := s.Artifacts.Upload(ctx, key, raw); err != nil {
			return err
		}
		if err := s.Weblinks.UpdateFields(dbctx.Of(ctx), w.ID, map[string]interface{}{
			"chunk_storage_key": key,
			"parser_version":    version,
			"chunk_status":      types.StatusFinish,
		}); err != nil {
			return err
		}
		out.ChunkStorageKey = key
		out.ParserVersion = version
		out.ChunkStatus = types.StatusFinish
		s.log.Info("Weblink indexed", "url", w.URL, "chunks", len(chunks), "key", key)
		return nil
	}))
	if !acquired && err == nil {
		s.contended(step, w.URL)
		return w
	}
	if err != nil {
		s.log.Error("Index weblink failed", "url", w.URL, "error", err)
		s.setStatus(ctx, w, map[string]interface{}{"chunk_status": types.StatusFailed})
		out.ChunkStatus = types.StatusFailed
		s.observe(string(step), outcomeFailed, start)
		return &out
	}
	s.observe(string(step), outcomeSuccess, start)
	return &out
}

// ExtractWeblinkContentMeta classifies doc once per link. Results without a
// usable first topic are dropped and the record is left as it was.
func (s *Service) ExtractWeblinkContentMeta(ctx context.Context, w *types.Weblink, doc *types.Document) *types.Weblink {
	const step = lock.StepContentMeta
	start := time.Now()
	if w.HasContentMeta() || s.Classifier == nil {
		s.observe(string(step), outcomeSkipped, start)
		return w
	}

	out := *w
	outcome := outcomeSuccess
	acquired, err := lock.WithLock(ctx, s.Locks, lock.Key(step, w.URL), s.guardedCtx(string(step), w.URL, func(ctx context.Context) error {
		if fresh := s.reload(ctx, w); fresh.HasContentMeta() {
			out = *fresh
			outcome = outcomeSkipped
			return nil
		}
		meta, err := s.Classifier.Classify(ctx, doc)
		if err != nil {
			return fmt.Errorf("classify: %w", err)
		}
		if !meta.Valid() {
			s.log.Info("Discarding invalid content meta", "url", w.URL)
			outcome = outcomeDiscarded
			return nil
		}
		raw, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := s.Weblinks.UpdateFields(dbctx.Of(ctx), w.ID, map[string]interface{}{
			"content_meta": datatypes.JSON(raw),
		}); err != nil {
			return err
		}
		out.ContentMeta = datatypes.JSON(raw)
		return nil
	}))
	if err != nil {
		s.log.Error("Extract content meta failed", "url", w.URL, "error", err)
		s.observe(string(step), outcomeFailed, start)
		return w
	}
	if !acquired {
		s.contended(step, w.URL)
		return w
	}
	s.observe(string(step), outcome, start)
	return &out
}

// guarded runs fn and reports a panic inside it as an error.
func (s *Service) guarded(step, url string, fn func() error) func() error {
	return func() (err error) {
		defer s.recoverStep(step, url, &err)
		return fn()
	}
}

func (s *Service) guardedCtx(step, url string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) (err error) {
		defer s.recoverStep(step, url, &err)
		return fn(ctx)
	}
}

func (s *Service) recoverStep(step, url string, err *error) {
	if r := recover(); r != nil {
		s.log.Error("Weblink step panic", "step", step, "url", url, "panic", r, "stack", string(debug.Stack()))
		*err = fmt.Errorf("%s step panicked: %v", step, r)
	}
}

func (s *Service) markFailed(ctx context.Context, w *types.Weblink) {
	s.setStatus(ctx, w, map[string]interface{}{
		"parse_status": types.StatusFailed,
		"chunk_status": types.StatusFailed,
	})
}

func (s *Service) markFailedByURL(ctx context.Context, url string) {
	err := s.Weblinks.UpdateFieldsByURL(dbctx.Of(context.WithoutCancel(ctx)), url, map[string]interface{}{
		"parse_status": types.StatusFailed,
		"chunk_status": types.StatusFailed,
	})
	if err != nil {
		s.log.Error("Mark weblink failed", "url", url, "error", err)
	}
}

// setStatus writes status columns even when ctx was cancelled, so an interrupted
// step never leaves the record claiming to be processing.
func (s *Service) setStatus(ctx context.Context, w *types.Weblink, updates map[string]interface{}) {
	if err := s.Weblinks.UpdateFields(dbctx.Of(context.WithoutCancel(ctx)), w.ID, updates); err != nil {
		s.log.Error("Update weblink status failed", "url", w.URL, "error", err)
	}
}

// reload returns the stored row, or w when it cannot be read.
func (s *Service) reload(ctx context.Context, w *types.Weblink) *types.Weblink {
	fresh, err := s.Weblinks.GetByURL(dbctx.Of(context.WithoutCancel(ctx)), w.URL)
	if err != nil || fresh == nil {
		return w
	}
	return fresh
}

// scheduleRetry queues another plain ingestion attempt when the retry policy allows it.
func (s *Service) scheduleRetry(ctx context.Context, job types.IngestionJob) {
	p := s.cfg.Retry
	if p.MaxRetries <= 0 || job.RetryTimes >= p.MaxRetries {
		return
	}
	delay := p.delay(job.RetryTimes)
	job.RetryTimes++
	if err := s.Queue.EnqueueDelayed(ctx, types.ChannelProcessLink, job, delay); err != nil {
		s.log.Error("Schedule link retry failed", "url", job.URL, "error", err)
		return
	}
	s.log.Info("Scheduled link retry", "url", job.URL, "retry_times", job.RetryTimes, "delay", delay.String())
}
