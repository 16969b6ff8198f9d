package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/time/rate"

	"github.com/yungbote/weblink-backend/internal/platform/httpx"
)

// ErrNoContent means the page produced no extractable text.
var ErrNoContent = errors.New("no extractable content")

// RemoteContent is what a remote reader returns for one URL.
type RemoteContent struct {
	Content       string
	Title         string
	PublishedTime *time.Time
	HTML          string
}

// RemoteReader fetches a URL and extracts its readable content as markdown.
type RemoteReader interface {
	Read(ctx context.Context, url string) (*RemoteContent, error)
}

type HTTPReaderConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	UserAgent      string        `yaml:"user_agent"`
	MaxBytes       int64         `yaml:"max_bytes"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
	Burst          int           `yaml:"burst"`
}

func DefaultHTTPReaderConfig() HTTPReaderConfig {
	return HTTPReaderConfig{
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (compatible; WeblinkIngest/1.0)",
		MaxBytes:       10 << 20,
		RequestsPerSec: 5,
		Burst:          10,
	}
}

// HTTPReader downloads pages directly and runs readability extraction on them.
type HTTPReader struct {
	client    *http.Client
	cfg       HTTPReaderConfig
	limiter   *rate.Limiter
	converter *Converter
}

func NewHTTPReader(cfg HTTPReaderConfig, converter *Converter) *HTTPReader {
	def := DefaultHTTPReaderConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	if converter == nil {
		converter = NewConverter()
	}
	return &HTTPReader{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (max 5)")
				}
				return nil
			},
		},
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		converter: converter,
	}
}

func (r *HTTPReader) Read(ctx context.Context, pageURL string) (*RemoteContent, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	body, err := r.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	meta, err := r.converter.Convert(body)
	if err != nil {
		return nil, err
	}
	out := &RemoteContent{Title: meta.Title, PublishedTime: meta.PublishedTime, HTML: body}

	article, rerr := readability.FromReader(strings.NewReader(body), parsed)
	if rerr == nil && strings.TrimSpace(article.Content) != "" {
		if title := collapseWhitespace(article.Title); title != "" {
			out.Title = title
		}
		markdown, cerr := r.converter.ConvertFragment(article.Content)
		if cerr == nil && markdown != "" {
			out.Content = markdown
		} else {
			out.Content = cleanMarkdown(article.TextContent)
		}
	}
	if out.Content == "" {
		out.Content = meta.Markdown
	}
	if strings.TrimSpace(out.Content) == "" {
		return nil, fmt.Errorf("%s: %w", pageURL, ErrNoContent)
	}
	return out, nil
}

func (r *HTTPReader) fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", &httpx.StatusError{URL: pageURL, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); ct != "" &&
		!strings.Contains(ct, "html") && !strings.Contains(ct, "xml") && !strings.HasPrefix(ct, "text/") {
		return "", fmt.Errorf("fetch %s: unsupported content type %q", pageURL, ct)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, r.cfg.MaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pageURL, err)
	}
	if n > r.cfg.MaxBytes {
		return "", fmt.Errorf("read %s: body exceeds %d bytes", pageURL, r.cfg.MaxBytes)
	}
	return buf.String(), nil
}
