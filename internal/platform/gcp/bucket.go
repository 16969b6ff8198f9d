package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/yungbote/weblink-backend/internal/platform/httpx"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

// ErrObjectNotFound is returned by reads of a missing key.
var ErrObjectNotFound = errors.New("object not found")

const (
	uploadTimeout   = 2 * time.Minute
	downloadTimeout = 2 * time.Minute
)

// BucketService is the weblink artifact bucket.
type BucketService interface {
	UploadFile(ctx context.Context, key string, file io.Reader) (*ObjectAttrs, error)
	DownloadFile(ctx context.Context, key string) (io.ReadCloser, error)
	Close() error
}

type ObjectAttrs struct {
	Key         string
	Size        int64
	ContentType string
	Updated     time.Time
	ETag        string
}

type bucketService struct {
	log        *logger.Logger
	client     *storage.Client
	bucket     *storage.BucketHandle
	cfg        StorageConfig
	httpClient *http.Client
}

// NewBucketService opens the bucket described by cfg.
func NewBucketService(log *logger.Logger, cfg StorageConfig) (BucketService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := storage.NewClient(context.Background(), cfg.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	bs := &bucketService{
		log:        log.With("service", "BucketService", "bucket", cfg.Bucket),
		client:     client,
		bucket:     client.Bucket(cfg.Bucket),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: downloadTimeout},
	}
	bs.log.Info("Object storage initialized", "mode", cfg.Mode, "emulator_host", cfg.EmulatorHost, "key_prefix", cfg.KeyPrefix)
	return bs, nil
}

func (bs *bucketService) Close() error {
	if bs == nil || bs.client == nil {
		return nil
	}
	return bs.client.Close()
}

func (bs *bucketService) UploadFile(ctx context.Context, key string, file io.Reader) (*ObjectAttrs, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := bs.bucket.Object(bs.cfg.objectName(key)).NewWriter(ctx)
	w.ContentType = ContentTypeForKey(key)
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize %s: %w", key, err)
	}
	out := &ObjectAttrs{Key: key}
	if a := w.Attrs(); a != nil {
		out.Size, out.ContentType, out.Updated, out.ETag = a.Size, a.ContentType, a.Updated, a.Etag
	}
	return out, nil
}

// ContentTypeForKey maps artifact extensions to content types.
func ContentTypeForKey(key string) string {
	s, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(key)), "?")
	switch {
	case strings.HasSuffix(s, ".html"), strings.HasSuffix(s, ".htm"):
		return "text/html; charset=utf-8"
	case strings.HasSuffix(s, ".md"):
		return "text/markdown; charset=utf-8"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	case strings.HasSuffix(s, ".txt"):
		return "text/plain; charset=utf-8"
	}
	return ""
}

// DownloadFile streams key. The download timeout ends when the reader is closed.
func (bs *bucketService) DownloadFile(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	var (
		rc  io.ReadCloser
		err error
	)
	if bs.cfg.Mode == StorageModeEmulator {
		rc, err = bs.emulatorReader(ctx, key)
	} else {
		rc, err = bs.bucket.Object(bs.cfg.objectName(key)).NewReader(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			err = fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelOnClose{ReadCloser: rc, cancel: cancel}, nil
}

// emulatorReader reads through the emulator's plain media endpoint.
func (bs *bucketService) emulatorReader(ctx context.Context, key string) (io.ReadCloser, error) {
	mediaURL := fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media",
		bs.cfg.EmulatorHost, url.PathEscape(bs.cfg.Bucket), url.PathEscape(bs.cfg.objectName(key)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := bs.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("emulator download %s: %w", key, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	return nil, &httpx.StatusError{URL: key, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnClose) Close() error {
	defer r.cancel()
	return r.ReadCloser.Close()
}
