package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

func newTestLedger(t *testing.T) (*Ledger, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return New(store, logger.Nop(), Options{Attempts: 50, RetryPause: time.Millisecond}), store
}

func sumDeltas(entries []Entry) int {
	total := 0
	for _, e := range entries {
		total += e.Delta
	}
	return total
}

func requireBalanced(t *testing.T, store *MemoryStore, user uuid.UUID) {
	t.Helper()
	b, err := store.ReadBalance(context.Background(), user)
	require.NoError(t, err)
	require.GreaterOrEqual(t, b.Credits, 0)
	require.Equal(t, b.Credits, sumDeltas(store.Entries(user)), "ledger sum must equal balance")
}

func TestDebitGrantsAllowanceOnFirstUse(t *testing.T) {
	l, store := newTestLedger(t)
	user := uuid.New()

	b, err := l.Debit(context.Background(), user, "run-1")
	require.NoError(t, err)
	require.Equal(t, 2, b.Credits)
	require.NotNil(t, b.ResetAt)

	entries := store.Entries(user)
	require.Len(t, entries, 2)
	require.Equal(t, ReasonWeeklyReset, entries[0].Reason)
	require.Equal(t, ReasonAnalysis, entries[1].Reason)
	require.Equal(t, "run-1", *entries[1].CorrelationID)
	requireBalanced(t, store, user)
}

func TestDebitFailsClosedWhenEmpty(t *testing.T) {
	l, store := newTestLedger(t)
	user := uuid.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Debit(ctx, user, fmt.Sprintf("run-%d", i))
		require.NoError(t, err)
	}
	_, err := l.Debit(ctx, user, "run-3")
	require.ErrorIs(t, err, ErrInsufficient)
	requireBalanced(t, store, user)
}

func TestConcurrentDebitsOnLastCredit(t *testing.T) {
	l, store := newTestLedger(t)
	user := uuid.New()
	ctx := context.Background()

	// Leave exactly one credit.
	_, err := l.Debit(ctx, user, "a")
	require.NoError(t, err)
	_, err = l.Debit(ctx, user, "b")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = l.Debit(ctx, user, fmt.Sprintf("race-%d", i))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrInsufficient), errors.Is(err, ErrContention):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, wins)
	requireBalanced(t, store, user)
}

func TestRefundAppliesOncePerRun(t *testing.T) {
	l, store := newTestLedger(t)
	user := uuid.New()
	ctx := context.Background()

	_, err := l.Debit(ctx, user, "run-x")
	require.NoError(t, err)

	applied, b, err := l.Refund(ctx, user, "run-x")
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, 3, b.Credits)

	applied, b, err = l.Refund(ctx, user, "run-x")
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, 3, b.Credits)
	requireBalanced(t, store, user)
}

func TestConcurrentRefundsSameRun(t *testing.T) {
	l, store := newTestLedger(t)
	user := uuid.New()
	ctx := context.Background()
	_, err := l.Debit(ctx, user, "run-y")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	appliedCount := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, _, err := l.Refund(ctx, user, "run-y")
			if err != nil {
				t.Errorf("Refund: %v", err)
				return
			}
			if applied {
				mu.Lock()
				appliedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, appliedCount)
	requireBalanced(t, store, user)
}

func TestTopUpReplayIsIgnored(t *testing.T) {
	l, store := newTestLedger(t)
	user := uuid.New()
	ctx := context.Background()

	applied, err := l.TopUp(ctx, user, 30, "cs_test_1")
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = l.TopUp(ctx, user, 30, "cs_test_1")
	require.NoError(t, err)
	require.False(t, applied)

	b, err := store.ReadBalance(ctx, user)
	require.NoError(t, err)
	require.Equal(t, 30, b.Credits)
	requireBalanced(t, store, user)
}

func TestRefillRaisesToFloorAfterInterval(t *testing.T) {
	l, store := newTestLedger(t)
	user := uuid.New()
	ctx := context.Background()

	base := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	for i := 0; i < 3; i++ {
		_, err := l.Debit(ctx, user, fmt.Sprintf("r%d", i))
		require.NoError(t, err)
	}

	l.now = func() time.Time { return base.Add(6 * 24 * time.Hour) }
	u, err := l.Usage(ctx, user)
	require.NoError(t, err)
	require.Equal(t, 0, u.Credits)
	require.Equal(t, base.Add(7*24*time.Hour), *u.NextReset)

	later := base.Add(7 * 24 * time.Hour)
	l.now = func() time.Time { return later }
	u, err = l.Usage(ctx, user)
	require.NoError(t, err)
	require.Equal(t, 3, u.Credits)
	require.Equal(t, later, *u.ResetAt)
	requireBalanced(t, store, user)
}

func TestRefillNeverLowersPurchasedCredits(t *testing.T) {
	l, store := newTestLedger(t)
	user := uuid.New()
	ctx := context.Background()

	base := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	_, err := l.Usage(ctx, user)
	require.NoError(t, err)
	_, err = l.TopUp(ctx, user, 10, "cs_big")
	require.NoError(t, err)

	l.now = func() time.Time { return base.Add(8 * 24 * time.Hour) }
	u, err := l.Usage(ctx, user)
	require.NoError(t, err)
	require.Equal(t, 13, u.Credits)
	requireBalanced(t, store, user)
}

type contendedStore struct {
	*MemoryStore
}

func (s contendedStore) CompareAndSetBalance(ctx context.Context, user uuid.UUID, expected, next Balance) (bool, error) {
	return false, nil
}

func TestMutateReportsContention(t *testing.T) {
	mem := NewMemoryStore()
	l := New(contendedStore{mem}, logger.Nop(), Options{RetryPause: time.Millisecond})
	user := uuid.New()
	_, err := mem.EnsureAccount(context.Background(), user)
	require.NoError(t, err)

	_, err = l.Mutate(context.Background(), user, func(b Balance) (Balance, error) {
		b.Credits++
		return b, nil
	})
	require.ErrorIs(t, err, ErrContention)
}

type failingEntryStore struct {
	*MemoryStore
}

func (s failingEntryStore) AppendAuditEntry(ctx context.Context, e Entry) error {
	if e.Reason == ReasonAnalysis {
		return errors.New("disk full")
	}
	return s.MemoryStore.AppendAuditEntry(ctx, e)
}

func TestDebitReversedWhenAuditFails(t *testing.T) {
	mem := NewMemoryStore()
	l := New(failingEntryStore{mem}, logger.Nop(), Options{})
	user := uuid.New()

	_, err := l.Debit(context.Background(), user, "run-z")
	require.Error(t, err)
	b, err := mem.ReadBalance(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, 3, b.Credits)
	requireBalanced(t, mem, user)
}
