package weblink

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/weblink-backend/internal/data/repos"
	"github.com/yungbote/weblink-backend/internal/data/repos/testutil"
	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/ingestion/artifact"
	"github.com/yungbote/weblink-backend/internal/ingestion/cache"
	"github.com/yungbote/weblink-backend/internal/ingestion/extractor"
	"github.com/yungbote/weblink-backend/internal/ingestion/lock"
	"github.com/yungbote/weblink-backend/internal/jobs/queue"
	"github.com/yungbote/weblink-backend/internal/platform/dbctx"
	"github.com/yungbote/weblink-backend/internal/services/contentflow"
)

type stubFetcher struct {
	mu      sync.Mutex
	fetches int
	pages   map[string]string
	err     error
}

func (f *stubFetcher) FetchAndParse(_ context.Context, url string) (*types.Data, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	content, ok := f.pages[url]
	if !ok {
		content = "# Page\n\nContent of " + url
	}
	return &types.Data{
		HTML: "<html><body>" + content + "</body></html>",
		Doc:  &types.Document{PageContent: content, Metadata: types.PageMeta{Title: "Title " + url, Source: url}},
	}, nil
}

func (f *stubFetcher) ParseUploaded(url, title, rawHTML string) *types.Data {
	if rawHTML == "" {
		return nil
	}
	return &types.Data{
		HTML: rawHTML,
		Doc:  &types.Document{PageContent: "uploaded " + title, Metadata: types.PageMeta{Title: title, Source: url}},
	}
}

func (f *stubFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type stubEmbedder struct {
	err   error
	panic bool
}

func (e *stubEmbedder) EmbedChunks(_ context.Context, chunks []types.Chunk) error {
	if e.panic {
		panic("embedder exploded")
	}
	if e.err != nil {
		return e.err
	}
	for i := range chunks {
		chunks[i].Embedding = []float32{float32(i), 1}
	}
	return nil
}

type stubClassifier struct {
	meta  *types.ContentMeta
	err   error
	calls atomic.Int32
}

func (c *stubClassifier) Classify(context.Context, *types.Document) (*types.ContentMeta, error) {
	c.calls.Add(1)
	return c.meta, c.err
}

type stubUserIndex struct {
	mu    sync.Mutex
	saved map[string][]string
}

func (u *stubUserIndex) SaveChunkEmbeddingsForUser(_ context.Context, userID string, urls []string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.saved == nil {
		u.saved = map[string][]string{}
	}
	u.saved[userID] = append(u.saved[userID], urls...)
	return nil
}

type stubFlow struct {
	mu     sync.Mutex
	events []contentflow.Event
}

func (f *stubFlow) Publish(_ context.Context, ev contentflow.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

type stubMetrics struct {
	mu        sync.Mutex
	outcomes  map[string]int
	contended map[string]int
}

func (m *stubMetrics) ObserveStep(step, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[step+":"+outcome]++
}

func (m *stubMetrics) LockContended(step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contended == nil {
		m.contended = map[string]int{}
	}
	m.contended[step]++
}

type harness struct {
	svc        *Service
	db         *gorm.DB
	repos      repos.Repos
	store      *artifact.MemoryStore
	locks      *lock.MemoryManager
	cache      *cache.ContentCache
	queue      *queue.MemoryQueue
	fetcher    *stubFetcher
	classifier *stubClassifier
	embedder   *stubEmbedder
	userIndex  *stubUserIndex
	flow       *stubFlow
	metrics    *stubMetrics
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	chunker, err := extractor.NewChunker(extractor.DefaultChunkConfig())
	require.NoError(t, err)

	h := &harness{
		db:      db,
		repos:   repos.New(db, log),
		store:   artifact.NewMemoryStore(),
		locks:   lock.NewMemoryManager(time.Minute),
		cache:   cache.NewContentCache(16, nil),
		queue:   queue.NewMemoryQueue(),
		fetcher: &stubFetcher{pages: map[string]string{}},
		classifier: &stubClassifier{meta: &types.ContentMeta{Topics: []types.Topic{
			{Key: "golang", Name: "Go"},
		}}},
		embedder:  &stubEmbedder{},
		userIndex: &stubUserIndex{},
		flow:      &stubFlow{},
		metrics:   &stubMetrics{},
	}
	h.svc = New(log, cfg, Deps{
		Weblinks:     h.repos.Weblinks,
		UserWeblinks: h.repos.UserWeblinks,
		UserMarks:    h.repos.UserMarks,
		Artifacts:    h.store,
		Locks:        h.locks,
		Cache:        h.cache,
		Queue:        h.queue,
		Fetcher:      h.fetcher,
		Chunker:      chunker,
		Embedder:     h.embedder,
		Classifier:   h.classifier,
		UserIndex:    h.userIndex,
		ContentFlow:  h.flow,
		Metrics:      h.metrics,
	})
	return h
}

// testURL returns a canonical URL on a host unique to this test run, so tests can
// share a Postgres database.
func testURL(path string) string {
	return "https://" + uuid.NewString()[:8] + ".example.com/" + strings.TrimPrefix(path, "/")
}

func (h *harness) weblink(t *testing.T, url string) *types.Weblink {
	t.Helper()
	w, err := h.repos.Weblinks.GetByURL(dbctx.Of(context.Background()), url)
	require.NoError(t, err)
	require.NotNil(t, w)
	return w
}

func (h *harness) seedReady(t *testing.T, url, content string) *types.Weblink {
	t.Helper()
	ctx := context.Background()
	w, err := h.repos.Weblinks.UpsertByURL(dbctx.Of(ctx), url)
	require.NoError(t, err)
	_, err = h.store.Upload(ctx, artifact.DocKey(url), []byte(content))
	require.NoError(t, err)
	require.NoError(t, h.repos.Weblinks.UpdateFields(dbctx.Of(ctx), w.ID, map[string]interface{}{
		"parsed_doc_storage_key": artifact.DocKey(url),
		"parse_status":           types.StatusFinish,
		"chunk_status":           types.StatusFinish,
		"chunk_storage_key":      artifact.ChunkKey(url, h.svc.cfg.ParserVersion),
		"parser_version":         h.svc.cfg.ParserVersion,
		"page_meta":              datatypes.JSON(`{"title":"Stored"}`),
	}))
	return h.weblink(t, url)
}

func TestProcessLinkFetchesStoresAndIndexes(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	url := testURL("post")

	w, err := h.svc.ProcessLink(ctx, types.IngestionJob{URL: url + "?utm_source=feed#top"})
	require.NoError(t, err)
	require.Equal(t, url, w.URL)
	require.True(t, types.IsReady(w, extractor.Version))
	require.Equal(t, types.StatusFinish, w.ChunkStatus)
	require.Equal(t, types.ParseSourceServerCrawl, w.ParseSource)
	require.Equal(t, artifact.HTMLKey(url), w.StorageKey)
	require.Equal(t, artifact.ChunkKey(url, extractor.Version), w.ChunkStorageKey)
	require.True(t, w.HasContentMeta())

	var meta types.PageMeta
	require.NoError(t, json.Unmarshal(w.PageMeta, &meta))
	require.Equal(t, "Title "+url, meta.Title)

	raw, err := h.store.Download(ctx, w.ChunkStorageKey)
	require.NoError(t, err)
	var set types.ChunkSet
	require.NoError(t, json.Unmarshal(raw, &set))
	require.NotEmpty(t, set.Chunks)
	require.NotEmpty(t, set.Chunks[0].Embedding)

	_, cached := h.cache.Get(url)
	require.True(t, cached)
	require.Equal(t, 1, h.metrics.outcomes["parse:success"])
	require.Equal(t, 1, h.metrics.outcomes["index:success"])
}

func TestProcessLinkIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	url := testURL("")

	first, err := h.svc.ProcessLink(ctx, types.IngestionJob{URL: url})
	require.NoError(t, err)
	second, err := h.svc.ProcessLink(ctx, types.IngestionJob{URL: url})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.ParseStatus, second.ParseStatus)
	require.Equal(t, first.ChunkStatus, second.ChunkStatus)
	require.Equal(t, 1, h.fetcher.count())
	require.Equal(t, 1, h.store.Uploads(artifact.DocKey(url)))
	require.Equal(t, 1, h.store.Uploads(artifact.ChunkKey(url, extractor.Version)))
	require.Equal(t, int32(1), h.classifier.calls.Load())
}

func TestProcessLinkConcurrentSameURL(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	url := testURL("hot")

	errs := make([]error, 8)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.ProcessLink(ctx, types.IngestionJob{URL: url})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	var rows int64
	require.NoError(t, h.db.Model(&types.Weblink{}).Where("url = ?", url).Count(&rows).Error)
	require.Equal(t, int64(1), rows)
	require.Equal(t, 1, h.store.Uploads(artifact.DocKey(url)))
	require.Equal(t, 1, h.store.Uploads(artifact.ChunkKey(url, extractor.Version)))
	require.True(t, types.IsReady(h.weblink(t, url), extractor.Version))
}

func TestProcessLinkInvalidURL(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.svc.ProcessLink(context.Background(), types.IngestionJob{URL: "ftp://a.com/x"})
	require.Error(t, err)
}

func TestProcessLinkFetchFailureMarksFailed(t *testing.T) {
	h := newHarness(t, Config{})
	h.fetcher.err = errors.New("connection refused")
	url := testURL("down")

	w, err := h.svc.ProcessLink(context.Background(), types.IngestionJob{URL: url})
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, w.ParseStatus)
	require.Equal(t, types.StatusFailed, w.ChunkStatus)
	require.Empty(t, h.queue.Entries())
}

func TestProcessLinkFailureRetriesUnderPolicy(t *testing.T) {
	h := newHarness(t, Config{Retry: LinkRetryPolicy{MaxRetries: 2, Backoff: time.Minute}})
	h.fetcher.err = errors.New("timeout")
	url := testURL("")

	_, err := h.svc.ProcessLink(context.Background(), types.IngestionJob{URL: url, RetryTimes: 1})
	require.NoError(t, err)

	entries := h.queue.Channel(types.ChannelProcessLink)
	require.Len(t, entries, 1)
	require.Equal(t, 2*time.Minute, entries[0].Delay)
	var job types.IngestionJob
	require.NoError(t, entries[0].Decode(&job))
	require.Equal(t, 2, job.RetryTimes)

	h.queue.Reset()
	_, err = h.svc.ProcessLink(context.Background(), types.IngestionJob{URL: url, RetryTimes: 2})
	require.NoError(t, err)
	require.Empty(t, h.queue.Entries())
}

func TestProcessLinkUsesUploadedHTML(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	url := testURL("uploaded")
	_, err := h.store.Upload(ctx, "uploads/page.html", []byte("<html><body>hi</body></html>"))
	require.NoError(t, err)

	w, err := h.svc.ProcessLink(ctx, types.IngestionJob{URL: url, Title: "Mine", StorageKey: "uploads/page.html"})
	require.NoError(t, err)
	require.Equal(t, 0, h.fetcher.count())
	require.Equal(t, types.ParseSourceClientUpload, w.ParseSource)
	require.Equal(t, "uploads/page.html", w.StorageKey)
	require.Equal(t, 0, h.store.Uploads(artifact.HTMLKey(url)))

	doc, err := h.store.Download(ctx, artifact.DocKey(url))
	require.NoError(t, err)
	require.Equal(t, "uploaded Mine", string(doc))
}

func TestChunkStepReindexesStaleVersion(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	url := testURL("")
	w := h.seedReady(t, url, "# Old\n\nbody")
	require.NoError(t, h.repos.Weblinks.UpdateFields(dbctx.Of(ctx), w.ID, map[string]interface{}{"parser_version": "md-0"}))
	w = h.weblink(t, url)
	require.Equal(t, types.StatusFinish, w.ChunkStatus)

	doc := &types.Document{PageContent: "# New\n\nbody text", Metadata: types.PageMeta{Title: "T"}}
	out := h.svc.GenWeblinkChunkEmbedding(ctx, w, doc)
	require.Equal(t, extractor.Version, out.ParserVersion)
	require.Equal(t, 1, h.store.Uploads(artifact.ChunkKey(url, extractor.Version)))
	require.Equal(t, extractor.Version, h.weblink(t, url).ParserVersion)

	again := h.svc.GenWeblinkChunkEmbedding(ctx, out, doc)
	require.Equal(t, out.ChunkStorageKey, again.ChunkStorageKey)
	require.Equal(t, 1, h.store.Uploads(artifact.ChunkKey(url, extractor.Version)))
}

func TestChunkStepFailureRecordsStatusAndReleasesLock(t *testing.T) {
	h := newHarness(t, Config{})
	h.embedder.err = errors.New("quota")
	ctx := context.Background()
	url := testURL("")
	w, err := h.repos.Weblinks.UpsertByURL(dbctx.Of(ctx), url)
	require.NoError(t, err)

	out := h.svc.GenWeblinkChunkEmbedding(ctx, w, &types.Document{PageContent: "some text"})
	require.Equal(t, types.StatusFailed, out.ChunkStatus)
	require.Equal(t, types.StatusFailed, h.weblink(t, url).ChunkStatus)
	require.False(t, h.locks.Held(lock.Key(lock.StepIndex, url)))
	require.Equal(t, 1, h.metrics.outcomes["index:failed"])
}

func TestChunkStepPanicRecordsFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.embedder.panic = true
	ctx := context.Background()
	url := testURL("")
	w, err := h.repos.Weblinks.UpsertByURL(dbctx.Of(ctx), url)
	require.NoError(t, err)

	var out *types.Weblink
	require.NotPanics(t, func() {
		out = h.svc.GenWeblinkChunkEmbedding(ctx, w, &types.Document{PageContent: "some text"})
	})
	require.Equal(t, types.StatusFailed, out.ChunkStatus)
	require.Equal(t, types.StatusFailed, h.weblink(t, url).ChunkStatus)
	require.False(t, h.locks.Held(lock.Key(lock.StepIndex, url)))
	require.Equal(t, 1, h.metrics.outcomes["index:failed"])
}

func TestProcessLinkContainsStepPanic(t *testing.T) {
	h := newHarness(t, Config{})
	h.embedder.panic = true
	ctx := context.Background()
	url := testURL("panics")

	var (
		w   *types.Weblink
		err error
	)
	require.NotPanics(t, func() {
		w, err = h.svc.ProcessLink(ctx, types.IngestionJob{URL: url})
	})
	require.NoError(t, err)
	require.NotNil(t, w)
	require.Equal(t, types.StatusFinish, w.ParseStatus)
	require.Equal(t, types.StatusFailed, w.ChunkStatus)
	require.NotEqual(t, types.StatusProcessing, h.weblink(t, url).ChunkStatus)
}

func TestStepsSkipWhenLockHeldElsewhere(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	url := testURL("")
	w, err := h.repos.Weblinks.UpsertByURL(dbctx.Of(ctx), url)
	require.NoError(t, err)

	held, err := h.locks.Acquire(ctx, lock.Key(lock.StepParse, url))
	require.NoError(t, err)
	defer held.Release(ctx)

	data := types.Data{Doc: &types.Document{PageContent: "x"}}
	out := h.svc.UpdateWeblinkStorageKey(ctx, w, types.IngestionJob{URL: url}, data)
	require.Equal(t, w, out)
	require.Equal(t, 0, h.store.Uploads(artifact.DocKey(url)))
	require.Equal(t, 1, h.metrics.contended["parse"])
	require.Equal(t, types.StatusProcessing, h.weblink(t, url).ParseStatus)
}

func TestExtractContentMetaDiscardsInvalidResult(t *testing.T) {
	h := newHarness(t, Config{})
	h.classifier.meta = &types.ContentMeta{Topics: []types.Topic{{Key: "", Name: "nameless"}}}
	ctx := context.Background()
	url := testURL("")
	w, err := h.repos.Weblinks.UpsertByURL(dbctx.Of(ctx), url)
	require.NoError(t, err)

	out := h.svc.ExtractWeblinkContentMeta(ctx, w, &types.Document{PageContent: "x"})
	require.False(t, out.HasContentMeta())
	require.False(t, h.weblink(t, url).HasContentMeta())
	require.Equal(t, 1, h.metrics.outcomes["content_meta:discarded"])
}

func TestProcessLinkByUserDropsWithoutUser(t *testing.T) {
	h := newHarness(t, Config{})
	h.svc.ProcessLinkByUser(context.Background(), types.IngestionJob{URL: testURL("")})
	require.Empty(t, h.queue.Entries())
}

func TestProcessLinkByUserRetryCeiling(t *testing.T) {
	h := newHarness(t, Config{})
	h.svc.ProcessLinkByUser(context.Background(), types.IngestionJob{URL: testURL(""), UserID: "u1", RetryTimes: 20})
	require.Empty(t, h.queue.Entries())
}

func TestProcessLinkByUserRequeuesUntilReady(t *testing.T) {
	h := newHarness(t, Config{})
	url := testURL("")

	h.svc.ProcessLinkByUser(context.Background(), types.IngestionJob{URL: url, UserID: "u1", RetryTimes: 3})

	plain := h.queue.Channel(types.ChannelProcessLink)
	require.Len(t, plain, 1)
	require.Zero(t, plain[0].Delay)

	byUser := h.queue.Channel(types.ChannelProcessLinkByUser)
	require.Len(t, byUser, 1)
	require.Equal(t, DefaultUserRetryBackoff, byUser[0].Delay)
	var job types.IngestionJob
	require.NoError(t, byUser[0].Decode(&job))
	require.Equal(t, 4, job.RetryTimes)
	require.Equal(t, "u1", job.UserID)
}

func TestProcessLinkByUserAggregatesVisits(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	url := testURL("read")
	h.seedReady(t, url, "# Stored\n\nbody")

	for i, readTime := range []int64{5, 10, 15} {
		h.svc.ProcessLinkByUser(ctx, types.IngestionJob{
			URL:           url,
			UserID:        "u1",
			ReadTime:      readTime,
			LastVisitTime: int64(1_700_000_000_000 + i),
			Origin:        "chrome",
		})
	}

	visit, err := h.repos.UserWeblinks.GetByUserURL(dbctx.Of(ctx), "u1", url)
	require.NoError(t, err)
	require.Equal(t, 3, visit.VisitTimes)
	require.Equal(t, int64(30), visit.TotalReadTime)
	require.True(t, time.UnixMilli(1_700_000_000_002).Equal(visit.LastVisitTime))
	require.Equal(t, "chrome", visit.Origin)

	require.Equal(t, []string{url, url, url}, h.userIndex.saved["u1"])
	require.Len(t, h.flow.events, 3)
	require.Equal(t, 3, h.flow.events[2].VisitTimes)
	require.Empty(t, h.queue.Entries())
	require.Equal(t, 0, h.fetcher.count())
}

type failingVisits struct {
	repos.UserWeblinkRepo
	err error
}

func (f failingVisits) RecordVisit(dbctx.Context, *types.UserWeblink, int, int64) error {
	return f.err
}

func TestProcessLinkByUserRequeuesOnStoreFailure(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	url := testURL("read")
	h.seedReady(t, url, "# Stored\n\nbody")
	h.svc.UserWeblinks = failingVisits{UserWeblinkRepo: h.repos.UserWeblinks, err: errors.New("db down")}

	h.svc.ProcessLinkByUser(ctx, types.IngestionJob{URL: url, UserID: "u1", RetryTimes: 2})

	byUser := h.queue.Channel(types.ChannelProcessLinkByUser)
	require.Len(t, byUser, 1)
	require.Equal(t, DefaultUserRetryBackoff, byUser[0].Delay)
	var job types.IngestionJob
	require.NoError(t, byUser[0].Decode(&job))
	require.Equal(t, 3, job.RetryTimes)
	require.Empty(t, h.queue.Channel(types.ChannelProcessLink))
}

func TestProcessLinkByUserDropsWhenQueueDown(t *testing.T) {
	h := newHarness(t, Config{})
	h.queue.FailWith(errors.New("queue down"))

	require.NotPanics(t, func() {
		h.svc.ProcessLinkByUser(context.Background(), types.IngestionJob{URL: testURL(""), UserID: "u1"})
	})
	require.Empty(t, h.queue.Entries())
}

func TestStoreLinksKeepsLatestSubmission(t *testing.T) {
	h := newHarness(t, Config{})
	n, err := h.svc.StoreLinks(context.Background(), "u1", []types.IngestionJob{
		{URL: "https://a.com/?utm=1", LastVisitTime: 1, Title: "first"},
		{URL: "https://a.com", LastVisitTime: 2, Title: "second"},
		{URL: "not a url"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	entries := h.queue.Channel(types.ChannelProcessLinkByUser)
	require.Len(t, entries, 1)
	var job types.IngestionJob
	require.NoError(t, entries[0].Decode(&job))
	require.Equal(t, "https://a.com/", job.URL)
	require.Equal(t, "second", job.Title)
	require.Equal(t, "u1", job.UserID)
	require.Zero(t, job.RetryTimes)
}

func TestStoreLinksReportsQueueFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.queue.FailWith(errors.New("db down"))
	n, err := h.svc.StoreLinks(context.Background(), "u1", []types.IngestionJob{{URL: "https://a.com/"}})
	require.Error(t, err)
	require.Zero(t, n)
}

func TestReadWebLinkContentFallsBackToStoredDocument(t *testing.T) {
	h := newHarness(t, Config{})
	h.fetcher.err = errors.New("offline")
	ctx := context.Background()
	url := testURL("")
	h.seedReady(t, url, "stored body")

	data, err := h.svc.ReadWebLinkContent(ctx, url)
	require.NoError(t, err)
	require.Equal(t, "stored body", data.Doc.PageContent)
	require.Equal(t, "Stored", data.Doc.Metadata.Title)
	require.Equal(t, url, data.Doc.Metadata.Source)

	// Served from cache once the artifact is gone.
	h.store = artifact.NewMemoryStore()
	h.svc.Artifacts = h.store
	data, err = h.svc.ReadWebLinkContent(ctx, url)
	require.NoError(t, err)
	require.Equal(t, "stored body", data.Doc.PageContent)
	require.Equal(t, 0, h.fetcher.count())
}

func TestReadWebLinkContentFetchesUnknownURL(t *testing.T) {
	h := newHarness(t, Config{})
	url := testURL("new")
	h.fetcher.pages[url] = "fresh"

	data, err := h.svc.ReadWebLinkContent(context.Background(), url)
	require.NoError(t, err)
	require.Equal(t, "fresh", data.Doc.PageContent)
	require.Equal(t, 1, h.fetcher.count())
	require.Equal(t, 1, h.cache.Len())
}

func TestReadMultiWeblinksSplitsBudget(t *testing.T) {
	h := newHarness(t, Config{})
	long := strings.Repeat("word ", 10000)
	var sources []types.Source
	for i := 0; i < 3; i++ {
		url := testURL("doc")
		h.fetcher.pages[url] = long
		sources = append(sources, types.Source{Metadata: types.PageMeta{Source: url}})
	}
	sources = append(sources, types.Source{
		Metadata:   types.PageMeta{Source: "https://sel.example.com/"},
		Selections: []types.Selection{{Content: "picked one"}, {Content: "picked two"}},
	})

	docs, err := h.svc.ReadMultiWeblinks(context.Background(), sources)
	require.NoError(t, err)
	require.Len(t, docs, 5)
	for _, d := range docs[:3] {
		tokens := extractor.EstimateTokens(d.PageContent)
		require.LessOrEqual(t, tokens, 3000)
		require.Greater(t, tokens, 2900)
	}
	require.Equal(t, "picked one", docs[3].PageContent)
	require.Equal(t, "https://sel.example.com/", docs[4].Metadata.Source)
}

func TestReadMultiWeblinksThreeSourcesGetAThirdEach(t *testing.T) {
	h := newHarness(t, Config{})
	long := strings.Repeat("abcd ", 20000)
	var sources []types.Source
	for i := 0; i < 3; i++ {
		url := testURL("")
		h.fetcher.pages[url] = long
		sources = append(sources, types.Source{Metadata: types.PageMeta{Source: url}})
	}
	docs, err := h.svc.ReadMultiWeblinks(context.Background(), sources)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for _, d := range docs {
		require.LessOrEqual(t, extractor.EstimateTokens(d.PageContent), 4000)
		require.Greater(t, extractor.EstimateTokens(d.PageContent), 3900)
	}
}

func TestSaveWeblinkUserMarks(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	url := testURL("marked")
	w := h.seedReady(t, url, "body")

	n, err := h.svc.SaveWeblinkUserMarks(ctx, "u1", []types.Source{
		{Metadata: types.PageMeta{Source: url}, Selections: []types.Selection{{XPath: "/p[1]"}, {XPath: "/p[2]"}}},
		{Metadata: types.PageMeta{Source: testURL("unknown")}, Selections: []types.Selection{{XPath: "/p"}}},
		{Metadata: types.PageMeta{Source: url}},
	}, "1.2.3")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	marks, err := h.repos.UserMarks.ListByUserWeblink(dbctx.Of(ctx), "u1", w.ID)
	require.NoError(t, err)
	require.Len(t, marks, 2)
	require.Equal(t, "1.2.3", marks[0].ExtensionVersion)
	require.True(t, strings.HasSuffix(marks[0].LinkHost, ".example.com"))
}

func TestFindAndSummarizeWeblink(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	url := testURL("")
	w := h.seedReady(t, url, "body")

	byLink, err := h.svc.FindWeblink(ctx, "", w.LinkID)
	require.NoError(t, err)
	require.Equal(t, w.ID, byLink.ID)

	_, err = h.svc.FindWeblink(ctx, testURL("missing"), "")
	require.ErrorIs(t, err, ErrNotFound)
	require.True(t, IsNotFound(err))

	require.NoError(t, h.svc.UpdateWeblinkSummary(ctx, url, "short answer", []string{"why?"}))
	got := h.weblink(t, url)
	require.Equal(t, "short answer", got.Summary)
	require.JSONEq(t, `["why?"]`, string(got.RelatedQuestions))
}

func TestRequeueFailedLinks(t *testing.T) {
	h := newHarness(t, Config{Retry: LinkRetryPolicy{Backoff: time.Millisecond}})
	ctx := context.Background()
	url := testURL("failed")
	w, err := h.repos.Weblinks.UpsertByURL(dbctx.Of(ctx), url)
	require.NoError(t, err)
	require.NoError(t, h.repos.Weblinks.UpdateFields(dbctx.Of(ctx), w.ID, map[string]interface{}{"parse_status": types.StatusFailed}))
	time.Sleep(5 * time.Millisecond)

	n, err := h.svc.RequeueFailedLinks(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	entries := h.queue.Channel(types.ChannelProcessLink)
	require.Len(t, entries, 1)
	var job types.IngestionJob
	require.NoError(t, entries[0].Decode(&job))
	require.Equal(t, url, job.URL)
}
