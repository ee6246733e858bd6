package analysis

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/arfor-backend/internal/domain"
	"github.com/yungbote/arfor-backend/internal/platform/dbctx"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

type AnalysisRepo interface {
	Create(dbc dbctx.Context, row *types.Analysis) (*types.Analysis, error)
	UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string, result datatypes.JSON) error
	GetForUser(dbc dbctx.Context, userID, id uuid.UUID) (*types.Analysis, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, offset, limit int) ([]*types.Analysis, error)
	CountByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error)
}

type analysisRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisRepo(db *gorm.DB, baseLog *logger.Logger) AnalysisRepo {
	return &analysisRepo{db: db, log: baseLog.With("repo", "AnalysisRepo")}
}

func (r *analysisRepo) Create(dbc dbctx.Context, row *types.Analysis) (*types.Analysis, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if row == nil {
		return nil, errors.New("analysis row required")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if err := t.WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *analysisRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string, result datatypes.JSON) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	updates := map[string]any{"status": status}
	if len(result) > 0 {
		updates["result"] = result
	}
	res := t.WithContext(dbc.Ctx).
		Model(&types.Analysis{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *analysisRepo) GetForUser(dbc dbctx.Context, userID, id uuid.UUID) (*types.Analysis, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var row types.Analysis
	err := t.WithContext(dbc.Ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *analysisRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, offset, limit int) ([]*types.Analysis, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.Analysis
	if err := t.WithContext(dbc.Ctx).
		Select("id", "user_id", "run_id", "ticker", "status", "cost_usd", "created_at", "updated_at").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *analysisRepo) CountByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var n int64
	if err := t.WithContext(dbc.Ctx).
		Model(&types.Analysis{}).
		Where("user_id = ?", userID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
