package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/arfor-backend/internal/data/repos/testutil"
	"github.com/yungbote/arfor-backend/internal/ledger"
	"github.com/yungbote/arfor-backend/internal/platform/dbctx"
)

func TestLedgerStoreCompareAndSet(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	store := NewLedgerStore(tx, testutil.Logger(t))
	ctx := context.Background()
	user := uuid.New()

	if _, err := store.ReadBalance(ctx, user); !errors.Is(err, ledger.ErrNoAccount) {
		t.Fatalf("ReadBalance (missing): want ErrNoAccount got %v", err)
	}

	created, err := store.EnsureAccount(ctx, user)
	if err != nil || !created {
		t.Fatalf("EnsureAccount: created=%v err=%v", created, err)
	}
	created, err = store.EnsureAccount(ctx, user)
	if err != nil || created {
		t.Fatalf("EnsureAccount (again): created=%v err=%v", created, err)
	}

	cur, err := store.ReadBalance(ctx, user)
	if err != nil {
		t.Fatalf("ReadBalance: %v", err)
	}
	if cur.Credits != 0 || cur.Tier != ledger.TierFree || cur.ResetAt != nil {
		t.Fatalf("new account: %+v", cur)
	}

	now := time.Now().UTC().Truncate(time.Second)
	next := cur
	next.Credits = 3
	next.ResetAt = &now
	ok, err := store.CompareAndSetBalance(ctx, user, cur, next)
	if err != nil || !ok {
		t.Fatalf("CompareAndSetBalance: ok=%v err=%v", ok, err)
	}

	// A writer holding the old version loses.
	stale := cur
	stale.Credits = 99
	ok, err = store.CompareAndSetBalance(ctx, user, cur, stale)
	if err != nil {
		t.Fatalf("CompareAndSetBalance (stale): %v", err)
	}
	if ok {
		t.Fatalf("stale compare-and-set must not apply")
	}

	got, err := store.ReadBalance(ctx, user)
	if err != nil {
		t.Fatalf("ReadBalance: %v", err)
	}
	if got.Credits != 3 || got.Version != cur.Version+1 || got.ResetAt == nil {
		t.Fatalf("after CAS: %+v", got)
	}
}

func TestLedgerStoreDuplicateKey(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	store := NewLedgerStore(tx, testutil.Logger(t))
	ctx := context.Background()
	user := uuid.New()

	key := "cs_test_123"
	if err := store.AppendAuditEntry(ctx, ledger.Entry{UserID: user, Delta: 10, Reason: ledger.ReasonPurchase, CorrelationID: &key}); err != nil {
		t.Fatalf("AppendAuditEntry: %v", err)
	}
	err := store.AppendAuditEntry(ctx, ledger.Entry{UserID: user, Delta: 10, Reason: ledger.ReasonPurchase, CorrelationID: &key})
	if !errors.Is(err, ledger.ErrDuplicateKey) {
		t.Fatalf("AppendAuditEntry (dup): want ErrDuplicateKey got %v", err)
	}
	// Same key under a different reason is a different entry.
	if err := store.AppendAuditEntry(ctx, ledger.Entry{UserID: user, Delta: 1, Reason: ledger.ReasonRefund, CorrelationID: &key}); err != nil {
		t.Fatalf("AppendAuditEntry (other reason): %v", err)
	}
	// Entries without a correlation id never collide.
	for i := 0; i < 2; i++ {
		if err := store.AppendAuditEntry(ctx, ledger.Entry{UserID: user, Delta: 3, Reason: ledger.ReasonWeeklyReset}); err != nil {
			t.Fatalf("AppendAuditEntry (uncorrelated #%d): %v", i, err)
		}
	}
}

func TestLedgerOverGormStoreStaysBalanced(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	l := ledger.New(NewLedgerStore(tx, log), log, ledger.Options{})
	profiles := NewProfileRepo(tx, log)
	ctx := context.Background()
	user := uuid.New()

	if _, err := l.Debit(ctx, user, "run-1"); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if applied, _, err := l.Refund(ctx, user, "run-1"); err != nil || !applied {
		t.Fatalf("Refund: applied=%v err=%v", applied, err)
	}
	if applied, _, err := l.Refund(ctx, user, "run-1"); err != nil || applied {
		t.Fatalf("Refund (replay): applied=%v err=%v", applied, err)
	}
	if applied, err := l.TopUp(ctx, user, 10, "cs_1"); err != nil || !applied {
		t.Fatalf("TopUp: applied=%v err=%v", applied, err)
	}
	if applied, err := l.TopUp(ctx, user, 10, "cs_1"); err != nil || applied {
		t.Fatalf("TopUp (replay): applied=%v err=%v", applied, err)
	}

	p, err := profiles.Get(dbctx.Context{Ctx: ctx}, user)
	if err != nil || p == nil {
		t.Fatalf("Get: p=%v err=%v", p, err)
	}
	entries, err := profiles.ListEntries(dbctx.Context{Ctx: ctx}, user)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	sum := 0
	for _, e := range entries {
		sum += e.Delta
	}
	if p.CreditsRemaining != 13 || sum != p.CreditsRemaining {
		t.Fatalf("balance=%d sum=%d entries=%d", p.CreditsRemaining, sum, len(entries))
	}
}

func TestProfileRepoDeleteAccount(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewProfileRepo(tx, testutil.Logger(t))
	ctx := context.Background()

	p := testutil.SeedProfile(t, ctx, tx, 3)
	testutil.SeedAnalysis(t, ctx, tx, p.ID, "AAPL", "complete")

	if err := repo.SetPaymentCustomerID(dbctx.Context{Ctx: ctx}, p.ID, "cus_123"); err != nil {
		t.Fatalf("SetPaymentCustomerID: %v", err)
	}
	if err := repo.DeleteAccount(dbctx.Context{Ctx: ctx}, p.ID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	got, err := repo.Get(dbctx.Context{Ctx: ctx}, p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("profile still present after delete")
	}
	var n int64
	if err := tx.WithContext(ctx).Table("analyses").Where("user_id = ?", p.ID).Count(&n).Error; err != nil {
		t.Fatalf("count analyses: %v", err)
	}
	if n != 0 {
		t.Fatalf("analyses left after delete: %d", n)
	}
}
