package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/arfor-backend/internal/domain"
	"github.com/yungbote/arfor-backend/internal/ledger"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

type ledgerStore struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewLedgerStore backs the usage ledger with the profiles and credit_ledger
// tables. Balance updates are conditional on the row version so concurrent
// writers in different processes cannot both win.
func NewLedgerStore(db *gorm.DB, baseLog *logger.Logger) ledger.Store {
	return &ledgerStore{db: db, log: baseLog.With("repo", "LedgerStore")}
}

func (s *ledgerStore) ReadBalance(ctx context.Context, userID uuid.UUID) (ledger.Balance, error) {
	var p types.Profile
	err := s.db.WithContext(ctx).
		Where("id = ?", userID).
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Balance{}, ledger.ErrNoAccount
	}
	if err != nil {
		return ledger.Balance{}, err
	}
	return ledger.Balance{
		Credits: p.CreditsRemaining,
		Tier:    p.Tier,
		ResetAt: p.CreditsResetAt,
		Version: p.Version,
	}, nil
}

func (s *ledgerStore) CompareAndSetBalance(ctx context.Context, userID uuid.UUID, expected, next ledger.Balance) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&types.Profile{}).
		Where("id = ? AND version = ?", userID, expected.Version).
		Updates(map[string]any{
			"credits_remaining": next.Credits,
			"tier":              next.Tier,
			"credits_reset_at":  next.ResetAt,
			"version":           gorm.Expr("version + 1"),
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *ledgerStore) AppendAuditEntry(ctx context.Context, e ledger.Entry) error {
	row := &types.LedgerEntry{
		ID:            uuid.New(),
		UserID:        e.UserID,
		Delta:         e.Delta,
		Reason:        string(e.Reason),
		CorrelationID: e.CorrelationID,
		CreatedAt:     e.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Create(row).Error
	if isUniqueViolation(err) {
		return ledger.ErrDuplicateKey
	}
	return err
}

func (s *ledgerStore) EnsureAccount(ctx context.Context, userID uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&types.Profile{ID: userID, Tier: ledger.TierFree})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
