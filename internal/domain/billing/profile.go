package billing

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the per-user account row. ID is the auth subject. Version is
// bumped by every balance compare-and-set.
type Profile struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Tier              string     `gorm:"not null;default:'free';column:tier" json:"tier"`
	CreditsRemaining  int        `gorm:"not null;default:0;column:credits_remaining" json:"credits_remaining"`
	CreditsResetAt    *time.Time `gorm:"column:credits_reset_at" json:"credits_reset_at"`
	Version           int64      `gorm:"not null;default:0;column:version" json:"-"`
	PaymentCustomerID string     `gorm:"column:payment_customer_id" json:"-"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }
