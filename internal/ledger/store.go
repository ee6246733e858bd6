package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Reason string

const (
	ReasonAnalysis    Reason = "analysis"
	ReasonRefund      Reason = "refund"
	ReasonPurchase    Reason = "purchase"
	ReasonWeeklyReset Reason = "weekly_reset"
)

const TierFree = "free"

var (
	ErrNoAccount    = errors.New("ledger account not found")
	ErrDuplicateKey = errors.New("ledger entry already recorded")
	ErrInsufficient = errors.New("insufficient credits")
	ErrContention   = errors.New("ledger balance contention")
)

// Balance is a point-in-time view of an account. Version increases on every
// successful compare-and-set and is what the CAS compares.
type Balance struct {
	Credits int
	Tier    string
	ResetAt *time.Time
	Version int64
}

// Entry is one immutable audit row. (Reason, CorrelationID) is unique when
// CorrelationID is set.
type Entry struct {
	UserID        uuid.UUID
	Delta         int
	Reason        Reason
	CorrelationID *string
	CreatedAt     time.Time
}

// Store is the shared backing store. Implementations must make
// CompareAndSetBalance atomic across processes.
type Store interface {
	ReadBalance(ctx context.Context, userID uuid.UUID) (Balance, error)
	CompareAndSetBalance(ctx context.Context, userID uuid.UUID, expected, next Balance) (bool, error)
	AppendAuditEntry(ctx context.Context, entry Entry) error
	EnsureAccount(ctx context.Context, userID uuid.UUID) (bool, error)
}
