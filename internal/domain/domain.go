package domain

import (
	"github.com/yungbote/weblink-backend/internal/domain/jobs"
	"github.com/yungbote/weblink-backend/internal/domain/weblink"
)

// Models lists every persisted type for AutoMigrate.
func Models() []interface{} {
	return []interface{}{
		&weblink.Weblink{},
		&weblink.UserWeblink{},
		&weblink.UserMark{},
		&jobs.JobRun{},
	}
}
