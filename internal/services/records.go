package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/arfor-backend/internal/data/repos"
	types "github.com/yungbote/arfor-backend/internal/domain"
	"github.com/yungbote/arfor-backend/internal/orchestrator"
	"github.com/yungbote/arfor-backend/internal/platform/dbctx"
)

type analysisRecords struct {
	repo repos.AnalysisRepo
}

// NewRecordStore backs the runner's record updates with the analyses table.
func NewRecordStore(repo repos.AnalysisRepo) orchestrator.RecordStore {
	return &analysisRecords{repo: repo}
}

func (r *analysisRecords) CreateRecord(ctx context.Context, userID uuid.UUID, ticker, status, runID string) (uuid.UUID, error) {
	row, err := r.repo.Create(dbctx.New(ctx), &types.Analysis{
		UserID: userID,
		RunID:  runID,
		Ticker: ticker,
		Status: status,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("create analysis record: %w", err)
	}
	return row.ID, nil
}

func (r *analysisRecords) UpdateRecord(ctx context.Context, id uuid.UUID, status string, result any) error {
	var raw datatypes.JSON
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode analysis result: %w", err)
		}
		raw = datatypes.JSON(b)
	}
	return r.repo.UpdateStatus(dbctx.New(ctx), id, status, raw)
}
