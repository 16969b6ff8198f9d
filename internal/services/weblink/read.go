package weblink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/ingestion/artifact"
	"github.com/yungbote/weblink-backend/internal/ingestion/extractor"
	"github.com/yungbote/weblink-backend/internal/normalization"
	"github.com/yungbote/weblink-backend/internal/platform/dbctx"
)

// ReadWebLinkContent returns the parsed page for url from the cache, the stored
// artifacts, or the network, in that order. Whatever is found is cached.
func (s *Service) ReadWebLinkContent(ctx context.Context, rawURL string) (*types.Data, error) {
	url, err := normalization.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	return s.readContent(ctx, url)
}

func (s *Service) readContent(ctx context.Context, url string) (*types.Data, error) {
	if data, ok := s.Cache.Get(url); ok {
		s.log.Debug("In-memory cache hit", "url", url)
		return &data, nil
	}

	if data, err := s.readStored(ctx, url); err != nil {
		s.log.Warn("Read stored document failed, fetching", "url", url, "error", err)
	} else if data != nil {
		s.Cache.Put(url, *data)
		return data, nil
	}

	data, err := s.Fetcher.FetchAndParse(ctx, url)
	if err != nil {
		return nil, err
	}
	s.Cache.Put(url, *data)
	return data, nil
}

// readStored rebuilds the page from the docs/ artifact and page_meta. Raw HTML is
// attached when its download succeeds. It returns nil, nil when nothing is stored.
func (s *Service) readStored(ctx context.Context, url string) (*types.Data, error) {
	w, err := s.Weblinks.GetByURL(dbctx.Of(ctx), url)
	if err != nil || w == nil || w.ParsedDocStorageKey == "" {
		return nil, err
	}

	var html, content []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := s.Artifacts.Download(gctx, w.ParsedDocStorageKey)
		content = b
		return err
	})
	if w.StorageKey != "" {
		g.Go(func() error {
			b, err := s.Artifacts.Download(gctx, w.StorageKey)
			if err != nil {
				s.log.Warn("Download stored html failed", "url", url, "key", w.StorageKey, "error", err)
				return nil
			}
			html = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var meta types.PageMeta
	if len(w.PageMeta) > 0 {
		if err := json.Unmarshal(w.PageMeta, &meta); err != nil {
			s.log.Warn("Bad page meta", "url", url, "error", err)
		}
	}
	if meta.Source == "" {
		meta.Source = url
	}
	return &types.Data{
		HTML: string(html),
		Doc:  &types.Document{PageContent: string(content), Metadata: meta},
	}, nil
}

// ReadMultiWeblinks returns one document per source, or one per selection when a
// source carries selections. Whole pages share ReadTokenBudget evenly. Sources
// that cannot be read are left out.
func (s *Service) ReadMultiWeblinks(ctx context.Context, sources []types.Source) ([]*types.Document, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	perSource := s.cfg.ReadTokenBudget / len(sources)

	results := make([][]*types.Document, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, src := range sources {
		if len(src.Selections) > 0 {
			docs := make([]*types.Document, 0, len(src.Selections))
			for _, sel := range src.Selections {
				docs = append(docs, &types.Document{PageContent: sel.Content, Metadata: src.Metadata})
			}
			results[i] = docs
			continue
		}
		g.Go(func() error {
			data, err := s.ReadWebLinkContent(gctx, src.Metadata.Source)
			if err != nil || data == nil || data.Doc == nil {
				s.log.Warn("Read weblink for multi read failed", "url", src.Metadata.Source, "error", err)
				return nil
			}
			results[i] = []*types.Document{{
				PageContent: extractor.TrimToTokens(data.Doc.PageContent, perSource),
				Metadata:    data.Doc.Metadata,
			}}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*types.Document
	for _, docs := range results {
		out = append(out, docs...)
	}
	return out, nil
}

// FindWeblink looks a record up by link id, or by URL when linkID is empty.
func (s *Service) FindWeblink(ctx context.Context, rawURL, linkID string) (*types.Weblink, error) {
	dbc := dbctx.Of(ctx)
	var (
		w   *types.Weblink
		err error
	)
	if linkID = strings.TrimSpace(linkID); linkID != "" {
		w, err = s.Weblinks.GetByLinkID(dbc, linkID)
	} else {
		url, nerr := normalization.NormalizeURL(rawURL)
		if nerr != nil {
			return nil, nerr
		}
		w, err = s.Weblinks.GetByURL(dbc, url)
	}
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrNotFound
	}
	return w, nil
}

// UpdateWeblinkSummary stores a generated summary and its follow-up questions.
func (s *Service) UpdateWeblinkSummary(ctx context.Context, rawURL, answer string, relatedQuestions []string) error {
	url, err := normalization.NormalizeURL(rawURL)
	if err != nil {
		return err
	}
	w, err := s.Weblinks.GetByURL(dbctx.Of(ctx), url)
	if err != nil {
		return err
	}
	if w == nil {
		return ErrNotFound
	}
	if relatedQuestions == nil {
		relatedQuestions = []string{}
	}
	rq, err := json.Marshal(relatedQuestions)
	if err != nil {
		return fmt.Errorf("encode related questions: %w", err)
	}
	return s.Weblinks.UpdateFields(dbctx.Of(ctx), w.ID, map[string]interface{}{
		"summary":           answer,
		"related_questions": datatypes.JSON(rq),
	})
}

// IsNotFound reports whether err means the weblink or one of its artifacts is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, artifact.ErrNotFound)
}
