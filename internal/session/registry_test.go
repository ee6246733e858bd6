package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/yungbote/arfor-backend/internal/platform/logger"
	"github.com/yungbote/arfor-backend/internal/realtime"
)

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	return NewRegistry(logger.Nop(), opts)
}

func drain(t *testing.T, r *realtime.Reader) []realtime.Event {
	t.Helper()
	var out []realtime.Event
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		e, err := r.Read(ctx, 0)
		cancel()
		if errors.Is(err, realtime.ErrClosed) {
			return out
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		out = append(out, e)
	}
}

func TestSessionIDsAreUniqueHex(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		s := reg.Create("AAPL", nil)
		if len(s.ID) != 32 {
			t.Fatalf("id length: %q", s.ID)
		}
		if seen[s.ID] {
			t.Fatalf("duplicate id %s", s.ID)
		}
		seen[s.ID] = true
	}
	if reg.Len() != 100 || reg.Active() != 100 {
		t.Fatalf("len=%d active=%d", reg.Len(), reg.Active())
	}
}

func TestFirstTerminalTransitionWins(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	s := reg.Create("MSFT", nil)
	r := s.Subscribe()

	s.EmitStage("Stage 1", realtime.StatusRunning, "")
	if !s.Complete(map[string]any{"ok": true}) {
		t.Fatalf("Complete should win")
	}
	if s.Fail("late") || s.MarkCancelled() {
		t.Fatalf("later terminal transitions must be no-ops")
	}
	s.EmitStage("Stage 2", realtime.StatusRunning, "")

	evs := drain(t, r)
	if len(evs) != 2 {
		t.Fatalf("events: got %d want 2", len(evs))
	}
	if evs[1].Type != realtime.EventComplete {
		t.Fatalf("terminal event: %s", evs[1].Type)
	}
	if s.State() != StateComplete || !s.Terminal() {
		t.Fatalf("state=%s terminal=%v", s.State(), s.Terminal())
	}
	if got := s.RequestCancel(); got != CancelAlreadyComplete {
		t.Fatalf("cancel after complete: %s", got)
	}
}

func TestTerminalEventVisibleBeforeFlag(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	for i := 0; i < 200; i++ {
		s := reg.Create("X", nil)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Fail("boom")
		}()
		for !s.Terminal() {
		}
		h := s.Events().History()
		if len(h) == 0 || h[len(h)-1].Type != realtime.EventFailure {
			t.Fatalf("terminal flag observed before failure event was appended")
		}
		wg.Wait()
	}
}

func TestRequestCancelCancelsTaskOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	reg := newTestRegistry(t, Options{})
	s := reg.Create("NVDA", nil)
	started := make(chan struct{})
	var cancelledRuns int32
	err := s.Launch(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		if s.MarkCancelled() {
			atomic.AddInt32(&cancelledRuns, 1)
		}
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := s.Launch(context.Background(), func(context.Context) {}); !errors.Is(err, ErrAlreadyLaunched) {
		t.Fatalf("second Launch: %v", err)
	}
	<-started

	if got := s.RequestCancel(); got != CancelAccepted {
		t.Fatalf("first cancel: %s", got)
	}
	<-s.Done()
	if got := s.RequestCancel(); got != CancelAlreadyComplete {
		t.Fatalf("second cancel: %s", got)
	}
	if s.State() != StateCancelled || atomic.LoadInt32(&cancelledRuns) != 1 {
		t.Fatalf("state=%s runs=%d", s.State(), cancelledRuns)
	}
}

func TestCompleteLosesToAcceptedCancel(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	s := reg.Create("TSLA", nil)
	release := make(chan struct{})
	if err := s.Launch(context.Background(), func(ctx context.Context) {
		<-release
		if s.Complete(map[string]any{"ticker": "TSLA"}) {
			t.Errorf("Complete succeeded after cancel was accepted")
		}
		s.MarkCancelled()
	}); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	if got := s.RequestCancel(); got != CancelAccepted {
		t.Fatalf("cancel: %s", got)
	}
	close(release)
	<-s.Done()
	if s.State() != StateCancelled || s.Result() != nil {
		t.Fatalf("state=%s result=%v", s.State(), s.Result())
	}
}

func TestCancelBeforeLaunch(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	s := reg.Create("AMD", nil)
	if got := s.RequestCancel(); got != CancelAccepted {
		t.Fatalf("cancel: %s", got)
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("done should be closed for an unlaunched cancelled session")
	}
	if err := s.Launch(context.Background(), func(context.Context) {}); !errors.Is(err, ErrTerminal) && !errors.Is(err, ErrAlreadyLaunched) {
		t.Fatalf("Launch after cancel: %v", err)
	}
}

func TestSweepEvictsOnlyStaleTerminal(t *testing.T) {
	reg := newTestRegistry(t, Options{TTL: time.Minute})
	base := time.Unix(1_700_000_000, 0)
	clock := base
	reg.now = func() time.Time { return clock }

	done := reg.Create("A", nil)
	running := reg.Create("B", nil)
	done.Complete(nil)

	clock = base.Add(30 * time.Second)
	if n := reg.Sweep(); n != 0 {
		t.Fatalf("swept %d before ttl", n)
	}
	clock = base.Add(2 * time.Minute)
	if n := reg.Sweep(); n != 1 {
		t.Fatalf("swept %d want 1", n)
	}
	if _, ok := reg.Get(done.ID); ok {
		t.Fatalf("terminal session should be evicted")
	}
	if _, ok := reg.Get(running.ID); !ok {
		t.Fatalf("running session must never be swept")
	}
}

func TestSweeperStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	reg := newTestRegistry(t, Options{SweepInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	reg.StartSweeper(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
}

func TestShutdownNotifiesRunningSessions(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	reg := newTestRegistry(t, Options{ShutdownGrace: time.Second})
	finished := reg.Create("DONE", nil)
	finished.Complete(nil)

	s := reg.Create("RUN", nil)
	r := s.Subscribe()
	var taskSawCancel atomic.Bool
	if err := s.Launch(context.Background(), func(ctx context.Context) {
		<-ctx.Done()
		taskSawCancel.Store(true)
	}); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	const msg = "Server is restarting. Please retry your analysis."
	if n := reg.Shutdown(context.Background(), msg); n != 1 {
		t.Fatalf("notified %d want 1", n)
	}
	if !taskSawCancel.Load() {
		t.Fatalf("task was not cancelled")
	}
	evs := drain(t, r)
	last := evs[len(evs)-1]
	if last.Type != realtime.EventFailure || last.Detail != msg {
		t.Fatalf("last event: %+v", last)
	}
	if finished.State() != StateComplete {
		t.Fatalf("completed session changed state: %s", finished.State())
	}
}
