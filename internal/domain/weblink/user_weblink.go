package weblink

import (
	"time"

	"github.com/google/uuid"
)

// UserWeblink records one user's visits to one canonical URL. Counters only grow.
type UserWeblink struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID                string    `gorm:"column:user_id;not null;uniqueIndex:idx_user_weblink_user_url,priority:1" json:"user_id"`
	URL                   string    `gorm:"column:url;not null;uniqueIndex:idx_user_weblink_user_url,priority:2" json:"url"`
	WeblinkID             uuid.UUID `gorm:"type:uuid;column:weblink_id;not null;index" json:"weblink_id"`
	Origin                string    `gorm:"column:origin" json:"origin,omitempty"`
	OriginPageURL         string    `gorm:"column:origin_page_url" json:"origin_page_url,omitempty"`
	OriginPageTitle       string    `gorm:"column:origin_page_title" json:"origin_page_title,omitempty"`
	OriginPageDescription string    `gorm:"column:origin_page_description" json:"origin_page_description,omitempty"`
	LastVisitTime         time.Time `gorm:"column:last_visit_time;not null;index" json:"last_visit_time"`
	VisitTimes            int       `gorm:"column:visit_times;not null;default:0" json:"visit_times"`
	TotalReadTime         int64     `gorm:"column:total_read_time;not null;default:0" json:"total_read_time"`
	CreatedAt             time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time `gorm:"not null" json:"updated_at"`
}

func (UserWeblink) TableName() string { return "user_weblink" }

// UserMark is a text selection a user made on a weblink.
type UserMark struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           string    `gorm:"column:user_id;not null;index" json:"user_id"`
	WeblinkID        uuid.UUID `gorm:"type:uuid;column:weblink_id;not null;index" json:"weblink_id"`
	LinkHost         string    `gorm:"column:link_host;index" json:"link_host"`
	Selector         string    `gorm:"column:selector" json:"selector"`
	MarkType         string    `gorm:"column:mark_type" json:"mark_type"`
	ExtensionVersion string    `gorm:"column:extension_version" json:"extension_version"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
}

func (UserMark) TableName() string { return "weblink_user_mark" }
