package weblink

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/platform/dbctx"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

type UserMarkRepo interface {
	CreateMany(dbc dbctx.Context, marks []*types.UserMark) ([]*types.UserMark, error)
	ListByUserWeblink(dbc dbctx.Context, userID string, weblinkID uuid.UUID) ([]*types.UserMark, error)
}

type userMarkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserMarkRepo(db *gorm.DB, baseLog *logger.Logger) UserMarkRepo {
	return &userMarkRepo{
		db:  db,
		log: baseLog.With("repo", "UserMarkRepo"),
	}
}

func (r *userMarkRepo) CreateMany(dbc dbctx.Context, marks []*types.UserMark) ([]*types.UserMark, error) {
	if len(marks) == 0 {
		return []*types.UserMark{}, nil
	}
	now := time.Now().UTC()
	for _, m := range marks {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
	}
	if err := dbc.DB(r.db).Create(&marks).Error; err != nil {
		return nil, err
	}
	return marks, nil
}

func (r *userMarkRepo) ListByUserWeblink(dbc dbctx.Context, userID string, weblinkID uuid.UUID) ([]*types.UserMark, error) {
	var out []*types.UserMark
	if userID == "" || weblinkID == uuid.Nil {
		return out, nil
	}
	err := dbc.DB(r.db).
		Where("user_id = ? AND weblink_id = ?", userID, weblinkID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
