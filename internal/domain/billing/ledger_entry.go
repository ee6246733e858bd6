package billing

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntry rows are append-only. (reason, correlation_id) doubles as the
// idempotency key for refunds and purchases.
type LedgerEntry struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	Delta         int       `gorm:"not null;column:delta" json:"delta"`
	Reason        string    `gorm:"not null;column:reason;uniqueIndex:idx_credit_ledger_reason_correlation" json:"reason"`
	CorrelationID *string   `gorm:"column:correlation_id;uniqueIndex:idx_credit_ledger_reason_correlation" json:"correlation_id,omitempty"`
	CreatedAt     time.Time `gorm:"not null;index;autoCreateTime" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "credit_ledger" }
