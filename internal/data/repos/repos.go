package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/arfor-backend/internal/data/repos/analysis"
	"github.com/yungbote/arfor-backend/internal/data/repos/billing"
	"github.com/yungbote/arfor-backend/internal/ledger"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

type AnalysisRepo = analysis.AnalysisRepo
type ProfileRepo = billing.ProfileRepo

type Repos struct {
	Analyses AnalysisRepo
	Profiles ProfileRepo
	Ledger   ledger.Store
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Analyses: analysis.NewAnalysisRepo(db, log),
		Profiles: billing.NewProfileRepo(db, log),
		Ledger:   billing.NewLedgerStore(db, log),
	}
}
