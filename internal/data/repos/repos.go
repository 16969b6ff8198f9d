package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/weblink-backend/internal/data/repos/jobs"
	"github.com/yungbote/weblink-backend/internal/data/repos/weblink"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

type JobRunRepo = jobs.JobRunRepo
type WeblinkRepo = weblink.WeblinkRepo
type UserWeblinkRepo = weblink.UserWeblinkRepo
type UserMarkRepo = weblink.UserMarkRepo

type Page = weblink.Page

type Repos struct {
	JobRuns      JobRunRepo
	Weblinks     WeblinkRepo
	UserWeblinks UserWeblinkRepo
	UserMarks    UserMarkRepo
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		JobRuns:      jobs.NewJobRunRepo(db, log),
		Weblinks:     weblink.NewWeblinkRepo(db, log),
		UserWeblinks: weblink.NewUserWeblinkRepo(db, log),
		UserMarks:    weblink.NewUserMarkRepo(db, log),
	}
}
