package weblink

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/platform/dbctx"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

type Page struct {
	Page     int
	PageSize int
}

func (p Page) normalize() (limit, offset int) {
	size := p.PageSize
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	page := p.Page
	if page < 1 {
		page = 1
	}
	return size, (page - 1) * size
}

type UserWeblinkRepo interface {
	RecordVisit(dbc dbctx.Context, visit *types.UserWeblink, visitIncrement int, readTimeIncrement int64) error
	GetByUserURL(dbc dbctx.Context, userID, url string) (*types.UserWeblink, error)
	ListByUser(dbc dbctx.Context, userID string, page Page) ([]*types.UserWeblink, int64, error)
}

type userWeblinkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserWeblinkRepo(db *gorm.DB, baseLog *logger.Logger) UserWeblinkRepo {
	return &userWeblinkRepo{
		db:  db,
		log: baseLog.With("repo", "UserWeblinkRepo"),
	}
}

// RecordVisit bumps the counters of an existing (user_id, url) row in one statement, or
// inserts visit with the given increments as its initial values. The increments are
// applied in SQL so concurrent visits never lose an update.
func (r *userWeblinkRepo) RecordVisit(dbc dbctx.Context, visit *types.UserWeblink, visitIncrement int, readTimeIncrement int64) error {
	if visit == nil || visit.UserID == "" || visit.URL == "" {
		return nil
	}
	if visit.LastVisitTime.IsZero() {
		visit.LastVisitTime = time.Now().UTC()
	}

	// Two rounds cover the insert race: a concurrent insert makes ours a no-op and the
	// second update then lands on that row.
	for attempt := 0; attempt < 2; attempt++ {
		updated, err := r.incrementVisit(dbc, visit, visitIncrement, readTimeIncrement)
		if err != nil {
			return err
		}
		if updated {
			return nil
		}
		if attempt > 0 {
			break
		}
		inserted, err := r.insertVisit(dbc, visit, visitIncrement, readTimeIncrement)
		if err != nil {
			return err
		}
		if inserted {
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *userWeblinkRepo) incrementVisit(dbc dbctx.Context, visit *types.UserWeblink, visitIncrement int, readTimeIncrement int64) (bool, error) {
	updates := map[string]interface{}{
		"visit_times":     gorm.Expr("visit_times + ?", visitIncrement),
		"total_read_time": gorm.Expr("total_read_time + ?", readTimeIncrement),
		"last_visit_time": visit.LastVisitTime,
		"weblink_id":      visit.WeblinkID,
		"updated_at":      time.Now().UTC(),
	}
	if visit.Origin != "" {
		updates["origin"] = visit.Origin
	}
	if visit.OriginPageURL != "" {
		updates["origin_page_url"] = visit.OriginPageURL
	}
	if visit.OriginPageTitle != "" {
		updates["origin_page_title"] = visit.OriginPageTitle
	}
	if visit.OriginPageDescription != "" {
		updates["origin_page_description"] = visit.OriginPageDescription
	}
	res := dbc.DB(r.db).
		Model(&types.UserWeblink{}).
		Where("user_id = ? AND url = ?", visit.UserID, visit.URL).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *userWeblinkRepo) insertVisit(dbc dbctx.Context, visit *types.UserWeblink, visitIncrement int, readTimeIncrement int64) (bool, error) {
	now := time.Now().UTC()
	row := *visit
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.VisitTimes = visitIncrement
	row.TotalReadTime = readTimeIncrement
	row.CreatedAt = now
	row.UpdatedAt = now
	res := dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "url"}},
			DoNothing: true,
		}).
		Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *userWeblinkRepo) GetByUserURL(dbc dbctx.Context, userID, url string) (*types.UserWeblink, error) {
	if userID == "" || url == "" {
		return nil, nil
	}
	var row types.UserWeblink
	err := dbc.DB(r.db).
		Where("user_id = ? AND url = ?", userID, url).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

// ListByUser returns one page of a user's visits, most recent first, with the total count.
func (r *userWeblinkRepo) ListByUser(dbc dbctx.Context, userID string, page Page) ([]*types.UserWeblink, int64, error) {
	var out []*types.UserWeblink
	if userID == "" {
		return out, 0, nil
	}
	limit, offset := page.normalize()
	var total int64
	if err := dbc.DB(r.db).
		Model(&types.UserWeblink{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := dbc.DB(r.db).
		Where("user_id = ?", userID).
		Order("last_visit_time DESC").
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
