package domain

import (
	"github.com/yungbote/arfor-backend/internal/domain/analysis"
	"github.com/yungbote/arfor-backend/internal/domain/billing"
)

const (
	AnalysisStatusRunning   = analysis.StatusRunning
	AnalysisStatusComplete  = analysis.StatusComplete
	AnalysisStatusError     = analysis.StatusError
	AnalysisStatusCancelled = analysis.StatusCancelled
)

type Analysis = analysis.Analysis

type Profile = billing.Profile
type LedgerEntry = billing.LedgerEntry

// Models lists every table owned by this service, in migration order.
func Models() []any {
	return []any{
		&Profile{},
		&LedgerEntry{},
		&Analysis{},
	}
}
