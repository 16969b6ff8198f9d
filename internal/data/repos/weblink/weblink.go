package weblink

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/platform/dbctx"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

type WeblinkRepo interface {
	UpsertByURL(dbc dbctx.Context, url string) (*types.Weblink, error)
	GetByURL(dbc dbctx.Context, url string) (*types.Weblink, error)
	GetByLinkID(dbc dbctx.Context, linkID string) (*types.Weblink, error)
	ListByURLs(dbc dbctx.Context, urls []string) ([]*types.Weblink, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsByURL(dbc dbctx.Context, url string, updates map[string]interface{}) error
	ListFailed(dbc dbctx.Context, limit int, olderThan time.Time) ([]*types.Weblink, error)
}

type weblinkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWeblinkRepo(db *gorm.DB, baseLog *logger.Logger) WeblinkRepo {
	return &weblinkRepo{
		db:  db,
		log: baseLog.With("repo", "WeblinkRepo"),
	}
}

// UpsertByURL inserts a row for url unless one exists and returns the stored row.
// Concurrent callers converge on the same row.
func (r *weblinkRepo) UpsertByURL(dbc dbctx.Context, url string) (*types.Weblink, error) {
	if url == "" {
		return nil, errors.New("weblink url is required")
	}
	transaction := dbc.DB(r.db)
	now := time.Now().UTC()
	row := &types.Weblink{
		ID:            uuid.New(),
		URL:           url,
		LinkID:        NewLinkID(),
		ParseStatus:   types.StatusProcessing,
		ChunkStatus:   types.StatusProcessing,
		PageMeta:      datatypes.JSON("{}"),
		ContentMeta:   datatypes.JSON("{}"),
		LastParseTime: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := transaction.
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "url"}}, DoNothing: true}).
		Create(row).Error; err != nil {
		return nil, err
	}
	out, err := r.GetByURL(dbc, url)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return out, nil
}

func (r *weblinkRepo) GetByURL(dbc dbctx.Context, url string) (*types.Weblink, error) {
	if url == "" {
		return nil, nil
	}
	var row types.Weblink
	err := dbc.DB(r.db).Where("url = ?", url).Limit(1).Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *weblinkRepo) GetByLinkID(dbc dbctx.Context, linkID string) (*types.Weblink, error) {
	if linkID == "" {
		return nil, nil
	}
	var row types.Weblink
	err := dbc.DB(r.db).Where("link_id = ?", linkID).Limit(1).Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *weblinkRepo) ListByURLs(dbc dbctx.Context, urls []string) ([]*types.Weblink, error) {
	var out []*types.Weblink
	if len(urls) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("url IN ?", urls).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *weblinkRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.DB(r.db).
		Model(&types.Weblink{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *weblinkRepo) UpdateFieldsByURL(dbc dbctx.Context, url string, updates map[string]interface{}) error {
	if url == "" || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.DB(r.db).
		Model(&types.Weblink{}).
		Where("url = ?", url).
		Updates(updates).Error
}

// ListFailed returns links whose parse or chunk step failed and that have not been
// touched since olderThan, oldest first.
func (r *weblinkRepo) ListFailed(dbc dbctx.Context, limit int, olderThan time.Time) ([]*types.Weblink, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*types.Weblink
	err := dbc.DB(r.db).
		Where("(parse_status = ? OR chunk_status = ?) AND updated_at < ?", types.StatusFailed, types.StatusFailed, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NewLinkID returns a public identifier of the form "wl-<16 hex>".
func NewLinkID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		id := uuid.New()
		return "wl-" + hex.EncodeToString(id[:8])
	}
	return "wl-" + hex.EncodeToString(b[:])
}
