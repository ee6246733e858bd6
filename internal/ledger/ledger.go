package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/arfor-backend/internal/platform/httpx"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

const (
	DefaultFreeCredits    = 3
	DefaultRefillInterval = 7 * 24 * time.Hour
	DefaultAttempts       = 3
	DefaultRetryPause     = 25 * time.Millisecond
)

// errUnchanged lets a transform short-circuit Mutate without a write.
var errUnchanged = errors.New("balance unchanged")

// Observer receives one call per ledger operation outcome.
type Observer interface {
	ObserveLedger(op, outcome string)
}

type Options struct {
	FreeCredits    int
	RefillInterval time.Duration
	Attempts       int
	RetryPause     time.Duration
	Observer       Observer
}

type Ledger struct {
	store Store
	log   *logger.Logger
	opts  Options
	now   func() time.Time
}

type Usage struct {
	Balance
	NextReset *time.Time
}

func New(store Store, log *logger.Logger, opts Options) *Ledger {
	if opts.FreeCredits <= 0 {
		opts.FreeCredits = DefaultFreeCredits
	}
	if opts.RefillInterval <= 0 {
		opts.RefillInterval = DefaultRefillInterval
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.RetryPause <= 0 {
		opts.RetryPause = DefaultRetryPause
	}
	return &Ledger{
		store: store,
		log:   log.With("service", "Ledger"),
		opts:  opts,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) observe(op string, err error) {
	if l.opts.Observer == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficient):
		outcome = "insufficient"
	case errors.Is(err, ErrContention):
		outcome = "contention"
	case errors.Is(err, ErrDuplicateKey):
		outcome = "duplicate"
	default:
		outcome = "error"
	}
	l.opts.Observer.ObserveLedger(op, outcome)
}

// Mutate reads the balance, applies transform and compare-and-sets the
// result, retrying on a lost race. transform may run more than once.
func (l *Ledger) Mutate(ctx context.Context, userID uuid.UUID, transform func(Balance) (Balance, error)) (Balance, error) {
	for attempt := 0; attempt < l.opts.Attempts; attempt++ {
		if attempt > 0 {
			if err := httpx.Sleep(ctx, httpx.JitterSleep(l.opts.RetryPause*time.Duration(attempt))); err != nil {
				return Balance{}, err
			}
		}
		cur, err := l.store.ReadBalance(ctx, userID)
		if err != nil {
			return Balance{}, err
		}
		next, err := transform(copyBalance(cur))
		if errors.Is(err, errUnchanged) {
			return cur, nil
		}
		if err != nil {
			return Balance{}, err
		}
		if next.Credits < 0 {
			return Balance{}, ErrInsufficient
		}
		ok, err := l.store.CompareAndSetBalance(ctx, userID, cur, next)
		if err != nil {
			return Balance{}, err
		}
		if ok {
			next.Version = cur.Version + 1
			return next, nil
		}
		l.log.Debug("Ledger CAS lost, retrying", "user_id", userID, "attempt", attempt+1)
	}
	return Balance{}, ErrContention
}

func (l *Ledger) refillDue(b Balance, now time.Time) bool {
	if b.Tier != TierFree {
		return false
	}
	return b.ResetAt == nil || now.Sub(*b.ResetAt) >= l.opts.RefillInterval
}

// applyRefill returns the refilled balance and the credits it granted.
func (l *Ledger) applyRefill(b Balance, now time.Time) (Balance, int) {
	if !l.refillDue(b, now) {
		return b, 0
	}
	delta := 0
	if b.Credits < l.opts.FreeCredits {
		delta = l.opts.FreeCredits - b.Credits
		b.Credits = l.opts.FreeCredits
	}
	t := now
	b.ResetAt = &t
	return b, delta
}

func (l *Ledger) recordRefill(ctx context.Context, userID uuid.UUID, delta int, at time.Time) {
	if delta <= 0 {
		return
	}
	if err := l.store.AppendAuditEntry(ctx, Entry{UserID: userID, Delta: delta, Reason: ReasonWeeklyReset, CreatedAt: at}); err != nil {
		l.log.Error("Failed to record allowance refill", "user_id", userID, "delta", delta, "error", err)
	}
}

func (l *Ledger) ensure(ctx context.Context, userID uuid.UUID) error {
	if _, err := l.store.EnsureAccount(ctx, userID); err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

// Refill applies the periodic allowance if it is due.
func (l *Ledger) Refill(ctx context.Context, userID uuid.UUID) (Balance, error) {
	now := l.now()
	var granted int
	b, err := l.Mutate(ctx, userID, func(cur Balance) (Balance, error) {
		if !l.refillDue(cur, now) {
			return cur, errUnchanged
		}
		next, delta := l.applyRefill(cur, now)
		granted = delta
		return next, nil
	})
	if err != nil {
		return Balance{}, err
	}
	l.recordRefill(ctx, userID, granted, now)
	return b, nil
}

// Debit takes one credit for runID. It fails closed: any store error leaves
// the run unstarted.
func (l *Ledger) Debit(ctx context.Context, userID uuid.UUID, runID string) (b Balance, err error) {
	defer func() { l.observe("debit", err) }()

	if err := l.ensure(ctx, userID); err != nil {
		return Balance{}, err
	}
	now := l.now()
	var granted int
	b, err = l.Mutate(ctx, userID, func(cur Balance) (Balance, error) {
		next, delta := l.applyRefill(cur, now)
		granted = delta
		if next.Credits < 1 {
			return Balance{}, ErrInsufficient
		}
		next.Credits--
		return next, nil
	})
	if err != nil {
		return Balance{}, err
	}
	l.recordRefill(ctx, userID, granted, now)

	rid := runID
	entryErr := l.store.AppendAuditEntry(ctx, Entry{UserID: userID, Delta: -1, Reason: ReasonAnalysis, CorrelationID: &rid, CreatedAt: now})
	if entryErr == nil {
		return b, nil
	}

	// Without its audit row the debit must not stand.
	if _, cerr := l.Mutate(context.WithoutCancel(ctx), userID, func(cur Balance) (Balance, error) {
		cur.Credits++
		return cur, nil
	}); cerr != nil {
		l.log.Error("Failed to reverse unrecorded debit; needs reconciliation", "user_id", userID, "run_id", runID, "error", cerr)
	}
	return Balance{}, fmt.Errorf("record debit: %w", entryErr)
}

// Credit adds amount under reason. With a correlation id the audit row is
// written first so a replay fails with ErrDuplicateKey before touching the
// balance.
func (l *Ledger) Credit(ctx context.Context, userID uuid.UUID, amount int, reason Reason, correlationID *string) (b Balance, err error) {
	defer func() { l.observe("credit", err) }()
	if amount <= 0 {
		return Balance{}, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	if err := l.ensure(ctx, userID); err != nil {
		return Balance{}, err
	}
	return l.creditOnce(ctx, userID, amount, reason, correlationID)
}

func (l *Ledger) creditOnce(ctx context.Context, userID uuid.UUID, amount int, reason Reason, correlationID *string) (Balance, error) {
	now := l.now()
	if err := l.store.AppendAuditEntry(ctx, Entry{UserID: userID, Delta: amount, Reason: reason, CorrelationID: correlationID, CreatedAt: now}); err != nil {
		return Balance{}, err
	}
	b, err := l.Mutate(context.WithoutCancel(ctx), userID, func(cur Balance) (Balance, error) {
		cur.Credits += amount
		return cur, nil
	})
	if err != nil {
		key := ""
		if correlationID != nil {
			key = *correlationID
		}
		l.log.Error("Audit row written but balance not updated; needs reconciliation",
			"user_id", userID, "reason", string(reason), "amount", amount, "correlation_id", key, "error", err)
		return Balance{}, err
	}
	return b, nil
}

// Refund returns the credit taken for runID. Only the first call per run
// applies; later calls report applied=false with the current balance.
func (l *Ledger) Refund(ctx context.Context, userID uuid.UUID, runID string) (applied bool, b Balance, err error) {
	defer func() { l.observe("refund", err) }()

	rid := runID
	b, err = l.creditOnce(ctx, userID, 1, ReasonRefund, &rid)
	if errors.Is(err, ErrDuplicateKey) {
		cur, rerr := l.store.ReadBalance(ctx, userID)
		if rerr != nil {
			return false, Balance{}, rerr
		}
		return false, cur, nil
	}
	if err != nil {
		return false, Balance{}, err
	}
	l.log.Info("Refunded credit", "user_id", userID, "run_id", runID, "credits", b.Credits)
	return true, b, nil
}

// TopUp credits a purchase keyed by the payment's idempotency key.
func (l *Ledger) TopUp(ctx context.Context, userID uuid.UUID, amount int, idempotencyKey string) (applied bool, err error) {
	defer func() { l.observe("topup", err) }()
	if amount <= 0 {
		return false, fmt.Errorf("top-up amount must be positive, got %d", amount)
	}
	if err := l.ensure(ctx, userID); err != nil {
		return false, err
	}
	key := idempotencyKey
	b, err := l.creditOnce(ctx, userID, amount, ReasonPurchase, &key)
	if errors.Is(err, ErrDuplicateKey) {
		l.log.Info("Duplicate purchase, skipping", "payment_session", idempotencyKey)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	l.log.Info("Added purchased credits", "user_id", userID, "amount", amount, "credits", b.Credits)
	return true, nil
}

// Usage ensures the account exists, applies any due refill and reports the
// balance with the next refill time.
func (l *Ledger) Usage(ctx context.Context, userID uuid.UUID) (Usage, error) {
	if err := l.ensure(ctx, userID); err != nil {
		return Usage{}, err
	}
	b, err := l.Refill(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	u := Usage{Balance: b}
	if b.ResetAt != nil {
		next := b.ResetAt.Add(l.opts.RefillInterval)
		u.NextReset = &next
	}
	return u, nil
}
