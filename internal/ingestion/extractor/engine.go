// Package extractor turns web pages into parsed documents, either by fetching them
// or by converting HTML a client already uploaded.
package extractor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

// FetchObserver records remote fetch outcomes.
type FetchObserver interface {
	ObserveFetch(outcome string, d time.Duration)
}

type Engine struct {
	log       *logger.Logger
	reader    RemoteReader
	converter *Converter
	obs       FetchObserver
}

func NewEngine(log *logger.Logger, reader RemoteReader, converter *Converter, obs FetchObserver) *Engine {
	if converter == nil {
		converter = NewConverter()
	}
	return &Engine{
		log:       log.With("service", "ExtractorEngine"),
		reader:    reader,
		converter: converter,
		obs:       obs,
	}
}

// FetchAndParse reads url through the remote reader. It fails when the reader
// errors or returns no content.
func (e *Engine) FetchAndParse(ctx context.Context, url string) (*weblink.Data, error) {
	start := time.Now()
	rc, err := e.reader.Read(ctx, url)
	if err == nil && (rc == nil || strings.TrimSpace(rc.Content) == "") {
		err = fmt.Errorf("%s: %w", url, ErrNoContent)
	}
	if e.obs != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		e.obs.ObserveFetch(outcome, time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	return &weblink.Data{
		HTML: rc.HTML,
		Doc: &weblink.Document{
			PageContent: rc.Content,
			Metadata: weblink.PageMeta{
				Title:         rc.Title,
				Source:        url,
				PublishedTime: rc.PublishedTime,
			},
		},
	}, nil
}

// ParseUploaded converts client-supplied HTML. It returns nil when conversion fails
// or yields nothing; the failure is logged, not returned.
func (e *Engine) ParseUploaded(url, title, rawHTML string) *weblink.Data {
	if strings.TrimSpace(rawHTML) == "" {
		e.log.Warn("Uploaded html is empty", "url", url)
		return nil
	}
	conv, err := e.converter.Convert(rawHTML)
	if err != nil {
		e.log.Error("Convert uploaded html failed", "url", url, "error", err)
		return nil
	}
	if conv.Markdown == "" {
		e.log.Warn("Uploaded html has no content", "url", url)
		return nil
	}
	if t := collapseWhitespace(title); t != "" {
		conv.Title = t
	}
	return &weblink.Data{
		HTML: rawHTML,
		Doc: &weblink.Document{
			PageContent: conv.Markdown,
			Metadata: weblink.PageMeta{
				Title:         conv.Title,
				Source:        url,
				PublishedTime: conv.PublishedTime,
			},
		},
	}
}
