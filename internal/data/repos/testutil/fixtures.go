package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
)

// SeedOption adjusts a weblink before SeedWeblink inserts it.
type SeedOption func(*types.Weblink)

// Parsed marks the page as parsed at version with its document stored under docKey.
func Parsed(version, docKey string) SeedOption {
	return func(w *types.Weblink) {
		w.ParseStatus = types.StatusFinish
		w.ParserVersion = version
		w.ParsedDocStorageKey = docKey
	}
}

// Chunked marks the chunk step finished with the chunk set stored under chunkKey.
func Chunked(chunkKey string) SeedOption {
	return func(w *types.Weblink) {
		w.ChunkStatus = types.StatusFinish
		w.ChunkStorageKey = chunkKey
	}
}

// UpdatedAt backdates the row, for sweeps that only look at stale records.
func UpdatedAt(t time.Time) SeedOption {
	return func(w *types.Weblink) { w.UpdatedAt = t }
}

func SeedWeblink(tb testing.TB, ctx context.Context, tx *gorm.DB, url string, opts ...SeedOption) *types.Weblink {
	tb.Helper()
	now := time.Now().UTC()
	w := &types.Weblink{
		ID:        uuid.New(),
		URL:       url,
		LinkID:    "wl-" + uuid.NewString()[:8],
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := tx.WithContext(ctx).Create(w).Error; err != nil {
		tb.Fatalf("seed weblink %s: %v", url, err)
	}
	return w
}

func PtrTime(v time.Time) *time.Time { return &v }
