// Package userindex copies a weblink's chunk embeddings into the vector namespace of
// each user who visited it.
package userindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/weblink-backend/internal/data/repos"
	"github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/ingestion/artifact"
	"github.com/yungbote/weblink-backend/internal/platform/dbctx"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
	"github.com/yungbote/weblink-backend/internal/platform/qdrant"
)

// VectorWriter is the part of the vector store the index writes through.
type VectorWriter interface {
	Upsert(ctx context.Context, namespace string, points []qdrant.Point) error
	DeleteWhere(ctx context.Context, namespace, key string, value any) error
}

// Namespace is the per-user vector namespace.
func Namespace(userID string) string {
	return "user:" + userID
}

type Service struct {
	log         *logger.Logger
	weblinks    repos.WeblinkRepo
	store       artifact.Store
	vectors     VectorWriter
	concurrency int
}

// New returns a Service. A nil vectors writer disables saving; calls then only log.
func New(log *logger.Logger, weblinks repos.WeblinkRepo, store artifact.Store, vectors VectorWriter) *Service {
	return &Service{
		log:         log.With("service", "UserIndexService"),
		weblinks:    weblinks,
		store:       store,
		vectors:     vectors,
		concurrency: 4,
	}
}

func (s *Service) Enabled() bool {
	return s != nil && s.vectors != nil
}

// SaveChunkEmbeddingsForUser loads the chunk sets of urls and writes their embedded
// chunks into the user's namespace, replacing whatever that user had for each url.
// Links without a chunk set are logged and skipped.
func (s *Service) SaveChunkEmbeddingsForUser(ctx context.Context, userID string, urls []string) error {
	if !s.Enabled() {
		s.log.Debug("User vector index disabled, skipping", "user_id", userID, "urls", len(urls))
		return nil
	}
	if userID == "" || len(urls) == 0 {
		return nil
	}
	links, err := s.weblinks.ListByURLs(dbctx.Of(ctx), urls)
	if err != nil {
		return fmt.Errorf("load weblinks: %w", err)
	}

	ns := Namespace(userID)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	saved := make([]string, len(links))
	for i, w := range links {
		if w.ChunkStorageKey == "" {
			s.log.Error("Chunk storage key is empty", "url", w.URL)
			continue
		}
		g.Go(func() error {
			if err := s.saveOne(gctx, ns, w); err != nil {
				return fmt.Errorf("%s: %w", w.URL, err)
			}
			saved[i] = w.URL
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var done []string
	for _, u := range saved {
		if u != "" {
			done = append(done, u)
		}
	}
	s.log.Info("Saved chunk embeddings for user", "user_id", userID, "urls", done)
	return nil
}

func (s *Service) saveOne(ctx context.Context, ns string, w *weblink.Weblink) error {
	raw, err := s.store.Download(ctx, w.ChunkStorageKey)
	if err != nil {
		return fmt.Errorf("download chunks: %w", err)
	}
	var set weblink.ChunkSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return fmt.Errorf("decode chunks %s: %w", w.ChunkStorageKey, err)
	}

	points := make([]qdrant.Point, 0, len(set.Chunks))
	for _, c := range set.Chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		points = append(points, qdrant.Point{
			ID:     w.LinkID + "#" + strconv.Itoa(c.Index),
			Vector: c.Embedding,
			Payload: map[string]any{
				"url":            w.URL,
				"link_id":        w.LinkID,
				"title":          set.Title,
				"parser_version": set.ParserVersion,
				"chunk_index":    c.Index,
				"heading":        c.Heading,
				"content":        c.Content,
				"saved_at":       time.Now().UTC().Format(time.RFC3339),
			},
		})
	}
	if len(points) == 0 {
		s.log.Warn("Chunk set has no embeddings", "url", w.URL, "key", w.ChunkStorageKey)
		return nil
	}
	if err := s.vectors.DeleteWhere(ctx, ns, "url", w.URL); err != nil {
		return fmt.Errorf("clear previous vectors: %w", err)
	}
	return s.vectors.Upsert(ctx, ns, points)
}
