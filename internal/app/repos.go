package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/arfor-backend/internal/data/repos"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

func wireRepos(db *gorm.DB, log *logger.Logger) repos.Repos {
	log.Info("Wiring repos...")
	return repos.New(db, log)
}
