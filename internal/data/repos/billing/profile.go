package billing

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/arfor-backend/internal/domain"
	"github.com/yungbote/arfor-backend/internal/platform/dbctx"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

type ProfileRepo interface {
	Get(dbc dbctx.Context, userID uuid.UUID) (*types.Profile, error)
	SetPaymentCustomerID(dbc dbctx.Context, userID uuid.UUID, customerID string) error
	ListEntries(dbc dbctx.Context, userID uuid.UUID) ([]*types.LedgerEntry, error)
	// DeleteAccount removes the profile, its ledger and analyses.
	DeleteAccount(dbc dbctx.Context, userID uuid.UUID) error
}

type profileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProfileRepo(db *gorm.DB, baseLog *logger.Logger) ProfileRepo {
	return &profileRepo{db: db, log: baseLog.With("repo", "ProfileRepo")}
}

func (r *profileRepo) Get(dbc dbctx.Context, userID uuid.UUID) (*types.Profile, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var p types.Profile
	err := t.WithContext(dbc.Ctx).Where("id = ?", userID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepo) SetPaymentCustomerID(dbc dbctx.Context, userID uuid.UUID, customerID string) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx).
		Model(&types.Profile{}).
		Where("id = ?", userID).
		Update("payment_customer_id", customerID).Error
}

func (r *profileRepo) ListEntries(dbc dbctx.Context, userID uuid.UUID) ([]*types.LedgerEntry, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.LedgerEntry
	if err := t.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *profileRepo) DeleteAccount(dbc dbctx.Context, userID uuid.UUID) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&types.Analysis{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&types.LedgerEntry{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", userID).Delete(&types.Profile{}).Error
	})
}
