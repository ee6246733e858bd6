package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/arfor-backend/internal/ledger"
	"github.com/yungbote/arfor-backend/internal/pipeline"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
	"github.com/yungbote/arfor-backend/internal/realtime"
	"github.com/yungbote/arfor-backend/internal/session"
)

type recordUpdate struct {
	status string
	result any
}

type memRecords struct {
	mu      sync.Mutex
	updates map[uuid.UUID][]recordUpdate
	failing bool

	// holdStatus blocks UpdateRecord for that status until release closes.
	holdStatus string
	held       chan struct{}
	release    chan struct{}
}

func newMemRecords() *memRecords {
	return &memRecords{updates: map[uuid.UUID][]recordUpdate{}}
}

func (m *memRecords) CreateRecord(ctx context.Context, userID uuid.UUID, ticker, status, runID string) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (m *memRecords) UpdateRecord(ctx context.Context, id uuid.UUID, status string, result any) error {
	if m.holdStatus != "" && status == m.holdStatus {
		close(m.held)
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("db down")
	}
	m.updates[id] = append(m.updates[id], recordUpdate{status: status, result: result})
	return nil
}

func (m *memRecords) last(id uuid.UUID) recordUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.updates[id]
	if len(u) == 0 {
		return recordUpdate{}
	}
	return u[len(u)-1]
}

type runnerFixture struct {
	reg     *session.Registry
	ledger  *ledger.Ledger
	store   *ledger.MemoryStore
	records *memRecords
	runner  *Runner
	user    uuid.UUID
}

func newRunnerFixture(t *testing.T, inv *scriptedInvoker, globalTimeout time.Duration) *runnerFixture {
	t.Helper()
	cfg := testConfig()
	if globalTimeout > 0 {
		cfg.GlobalTimeout = globalTimeout
	}
	store := ledger.NewMemoryStore()
	f := &runnerFixture{
		reg:     session.NewRegistry(logger.Nop(), session.Options{ShutdownGrace: 2 * time.Second}),
		ledger:  ledger.New(store, logger.Nop(), ledger.Options{RetryPause: time.Millisecond}),
		store:   store,
		records: newMemRecords(),
		user:    uuid.New(),
	}
	f.runner = NewRunner(logger.Nop(), newOrchestrator(inv, cfg), f.records, f.ledger)
	return f
}

// start debits, creates the session and launches it the way the service does.
func (f *runnerFixture) start(t *testing.T, input string) *session.Session {
	t.Helper()
	user := f.user
	s := f.reg.Create("AAPL", &user)
	_, err := f.ledger.Debit(context.Background(), user, s.ID)
	require.NoError(t, err)
	rid := uuid.New()
	s.RecordID = &rid
	require.NoError(t, f.runner.Start(context.Background(), s, Request{Input: input}))
	return s
}

func (f *runnerFixture) credits(t *testing.T) int {
	t.Helper()
	b, err := f.store.ReadBalance(context.Background(), f.user)
	require.NoError(t, err)
	return b.Credits
}

func waitDone(t *testing.T, s *session.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session task did not finish")
	}
}

func terminalEvents(s *session.Session) []realtime.Event {
	var out []realtime.Event
	for _, e := range s.Events().History() {
		if e.IsTerminal() {
			out = append(out, e)
		}
	}
	return out
}

func TestRunnerCompletesAndKeepsCredit(t *testing.T) {
	f := newRunnerFixture(t, newScripted(), 0)
	s := f.start(t, "AAPL")
	waitDone(t, s)

	require.Equal(t, session.StateComplete, s.State())
	terms := terminalEvents(s)
	require.Len(t, terms, 1)
	require.Equal(t, realtime.EventComplete, terms[0].Type)
	require.Equal(t, 2, f.credits(t))
	require.Equal(t, "complete", f.records.last(*s.RecordID).status)
}

func TestRunnerRefundsOnFailure(t *testing.T) {
	f := newRunnerFixture(t, newScripted("R1", "R2", "R3", "R4", "R5"), 0)
	s := f.start(t, "AAPL")
	waitDone(t, s)

	require.Equal(t, session.StateError, s.State())
	terms := terminalEvents(s)
	require.Len(t, terms, 1)
	require.Contains(t, terms[0].Detail, "research lanes succeeded")
	require.Equal(t, 3, f.credits(t))

	last := f.records.last(*s.RecordID)
	require.Equal(t, "error", last.status)
	require.Contains(t, last.result.(map[string]any)["error"], "research lanes succeeded")
}

func TestRunnerTimeoutMessage(t *testing.T) {
	inv := newScripted()
	inv.delay = time.Second
	f := newRunnerFixture(t, inv, 50*time.Millisecond)
	s := f.start(t, "AAPL")
	waitDone(t, s)

	terms := terminalEvents(s)
	require.Len(t, terms, 1)
	require.Equal(t, TimeoutMessage, terms[0].Detail)
	require.Equal(t, 3, f.credits(t))
	require.Equal(t, map[string]any{"error": timeoutRecordError}, f.records.last(*s.RecordID).result)
}

func TestRunnerCancelRefundsOnce(t *testing.T) {
	inv := newScripted()
	inv.delay = time.Second
	f := newRunnerFixture(t, inv, 0)
	s := f.start(t, "AAPL")

	require.Equal(t, session.CancelAccepted, s.RequestCancel())
	require.Equal(t, session.CancelAlreadyComplete, func() session.CancelResult {
		waitDone(t, s)
		return s.RequestCancel()
	}())

	require.Equal(t, session.StateCancelled, s.State())
	terms := terminalEvents(s)
	require.Len(t, terms, 1)
	require.Equal(t, session.CancelledMessage, terms[0].Detail)
	require.Equal(t, 3, f.credits(t))
	require.Equal(t, "cancelled", f.records.last(*s.RecordID).status)

	refunds := 0
	for _, e := range f.store.Entries(f.user) {
		if e.Reason == ledger.ReasonRefund {
			refunds++
		}
	}
	require.Equal(t, 1, refunds)
}

func TestRunnerCancelAfterResultRefunds(t *testing.T) {
	f := newRunnerFixture(t, newScripted(), 0)
	user := f.user
	s := f.reg.Create("AAPL", &user)
	_, err := f.ledger.Debit(context.Background(), user, s.ID)
	require.NoError(t, err)
	rid := uuid.New()
	s.RecordID = &rid

	resultReady := make(chan struct{})
	var state session.State
	require.NoError(t, s.Launch(context.Background(), func(ctx context.Context) {
		<-resultReady
		state = f.runner.finish(ctx, s, pipeline.Ok(Report{Ticker: "AAPL", Markdown: "# AAPL"}))
	}))

	require.Equal(t, session.CancelAccepted, s.RequestCancel())
	close(resultReady)
	waitDone(t, s)

	require.Equal(t, session.StateCancelled, state)
	require.Equal(t, session.StateCancelled, s.State())
	require.Equal(t, session.CancelAlreadyComplete, s.RequestCancel())
	terms := terminalEvents(s)
	require.Len(t, terms, 1)
	require.Equal(t, realtime.EventFailure, terms[0].Type)
	require.Equal(t, 3, f.credits(t))
	require.Equal(t, "cancelled", f.records.last(rid).status)
}

func TestRunnerCancelDuringRecordWriteIsTooLate(t *testing.T) {
	f := newRunnerFixture(t, newScripted(), 0)
	f.records.holdStatus = "complete"
	f.records.held = make(chan struct{})
	f.records.release = make(chan struct{})
	s := f.start(t, "AAPL")

	select {
	case <-f.records.held:
	case <-time.After(5 * time.Second):
		t.Fatal("record write never started")
	}
	require.Equal(t, session.CancelAlreadyComplete, s.RequestCancel())
	close(f.records.release)
	waitDone(t, s)

	require.Equal(t, session.StateComplete, s.State())
	require.Len(t, terminalEvents(s), 1)
	require.Equal(t, 2, f.credits(t))
	require.Equal(t, "complete", f.records.last(*s.RecordID).status)
}

func TestRunnerShutdownRefunds(t *testing.T) {
	inv := newScripted()
	inv.delay = time.Second
	f := newRunnerFixture(t, inv, 0)
	s := f.start(t, "AAPL")

	const msg = "Server is restarting. Please retry your analysis."
	require.Equal(t, 1, f.reg.Shutdown(context.Background(), msg))
	waitDone(t, s)

	terms := terminalEvents(s)
	require.Len(t, terms, 1)
	require.Equal(t, msg, terms[0].Detail)
	require.Equal(t, 3, f.credits(t))
	require.Equal(t, "error", f.records.last(*s.RecordID).status)
}

func TestRunnerDemoSkipsLedgerAndRecord(t *testing.T) {
	f := newRunnerFixture(t, newScripted("R1", "R2", "R3", "R4"), 0)
	s := f.reg.Create("AAPL", nil)
	require.NoError(t, f.runner.Start(context.Background(), s, Request{Input: "AAPL"}))
	waitDone(t, s)

	require.Equal(t, session.StateError, s.State())
	_, err := f.store.ReadBalance(context.Background(), f.user)
	require.ErrorIs(t, err, ledger.ErrNoAccount)
}

func TestRunnerSurvivesRecordFailures(t *testing.T) {
	f := newRunnerFixture(t, newScripted(), 0)
	f.records.failing = true
	s := f.start(t, "AAPL")
	waitDone(t, s)
	require.Equal(t, session.StateComplete, s.State())
}
