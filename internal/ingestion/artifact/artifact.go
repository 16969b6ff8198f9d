// Package artifact stores pipeline outputs under content-addressed keys.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/yungbote/weblink-backend/internal/normalization"
	"github.com/yungbote/weblink-backend/internal/platform/gcp"
)

const (
	PrefixHTML   = "html/"
	PrefixDocs   = "docs/"
	PrefixChunks = "chunks/"
)

// ErrNotFound is returned by Download for a missing key.
var ErrNotFound = errors.New("artifact not found")

// HTMLKey is the raw HTML key for a canonical URL.
func HTMLKey(url string) string {
	return PrefixHTML + normalization.URLHash(url) + ".html"
}

// DocKey is the parsed markdown key for a canonical URL.
func DocKey(url string) string {
	return PrefixDocs + normalization.URLHash(url) + ".md"
}

// ChunkKey is the chunk-set key for a canonical URL at a parser version.
func ChunkKey(url, parserVersion string) string {
	return PrefixChunks + normalization.URLHash(url) + "-" + parserVersion + ".json"
}

type Receipt struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
	ETag string `json:"etag,omitempty"`
}

type Store interface {
	Upload(ctx context.Context, key string, data []byte) (Receipt, error)
	Download(ctx context.Context, key string) ([]byte, error)
}

// BucketStore adapts the GCS bucket service to Store.
type BucketStore struct {
	bucket  gcp.BucketService
	maxRead int64
}

func NewBucketStore(bucket gcp.BucketService, maxRead int64) *BucketStore {
	if maxRead <= 0 {
		maxRead = 64 << 20
	}
	return &BucketStore{bucket: bucket, maxRead: maxRead}
}

func (s *BucketStore) Upload(ctx context.Context, key string, data []byte) (Receipt, error) {
	attrs, err := s.bucket.UploadFile(ctx, key, bytes.NewReader(data))
	if err != nil {
		return Receipt{}, fmt.Errorf("upload %s: %w", key, err)
	}
	r := Receipt{Key: key, Size: int64(len(data))}
	if attrs != nil {
		r.ETag = attrs.ETag
		if attrs.Size > 0 {
			r.Size = attrs.Size
		}
	}
	return r, nil
}

func (s *BucketStore) Download(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.bucket.DownloadFile(ctx, key)
	if err != nil {
		if errors.Is(err, gcp.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, s.maxRead+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if int64(len(data)) > s.maxRead {
		return nil, fmt.Errorf("read %s: object exceeds %d bytes", key, s.maxRead)
	}
	return data, nil
}
