package userindex

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/weblink-backend/internal/data/repos/testutil"
	weblinkrepo "github.com/yungbote/weblink-backend/internal/data/repos/weblink"
	"github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/ingestion/artifact"
	"github.com/yungbote/weblink-backend/internal/platform/qdrant"
)

type fakeVectors struct {
	mu      sync.Mutex
	upserts map[string][]qdrant.Point
	deletes []string
}

func (f *fakeVectors) Upsert(_ context.Context, ns string, points []qdrant.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upserts == nil {
		f.upserts = map[string][]qdrant.Point{}
	}
	f.upserts[ns] = append(f.upserts[ns], points...)
	return nil
}

func (f *fakeVectors) DeleteWhere(_ context.Context, ns, key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, ns+"|"+key+"="+value.(string))
	return nil
}

func TestSaveChunkEmbeddingsForUser(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	url := "https://a.com/"
	key := artifact.ChunkKey(url, "v1")
	indexed := testutil.SeedWeblink(t, ctx, db, url, testutil.Chunked(key))
	unindexed := testutil.SeedWeblink(t, ctx, db, "https://b.com/")

	store := artifact.NewMemoryStore()
	raw, err := json.Marshal(weblink.ChunkSet{
		URL:           indexed.URL,
		ParserVersion: "v1",
		Chunks: []weblink.Chunk{
			{Index: 0, Content: "one", Embedding: []float32{1, 0}},
			{Index: 1, Content: "two"},
			{Index: 2, Content: "three", Embedding: []float32{0, 1}},
		},
	})
	require.NoError(t, err)
	_, err = store.Upload(ctx, key, raw)
	require.NoError(t, err)

	repo := weblinkrepo.NewWeblinkRepo(db, log)

	vectors := &fakeVectors{}
	svc := New(log, repo, store, vectors)
	require.NoError(t, svc.SaveChunkEmbeddingsForUser(ctx, "u1", []string{indexed.URL, unindexed.URL}))

	points := vectors.upserts[Namespace("u1")]
	require.Len(t, points, 2)
	require.Equal(t, indexed.LinkID+"#0", points[0].ID)
	require.Equal(t, indexed.LinkID+"#2", points[1].ID)
	require.Equal(t, "three", points[1].Payload["content"])
	require.Equal(t, []string{"user:u1|url=" + indexed.URL}, vectors.deletes)
}

func TestSaveChunkEmbeddingsMissingArtifact(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	w := testutil.SeedWeblink(t, ctx, db, "https://a.com/", testutil.Chunked("chunks/missing.json"))

	svc := New(log, weblinkrepo.NewWeblinkRepo(db, log), artifact.NewMemoryStore(), &fakeVectors{})
	err := svc.SaveChunkEmbeddingsForUser(ctx, "u1", []string{w.URL})
	require.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestSaveChunkEmbeddingsDisabled(t *testing.T) {
	svc := New(testutil.Logger(t), nil, nil, nil)
	require.False(t, svc.Enabled())
	require.NoError(t, svc.SaveChunkEmbeddingsForUser(context.Background(), "u1", []string{"https://a.com/"}))
}
