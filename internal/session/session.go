package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/arfor-backend/internal/realtime"
)

type State string

const (
	StateRunning   State = "running"
	StateComplete  State = "complete"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

func (s State) String() string { return string(s) }

type CancelResult string

const (
	CancelAccepted        CancelResult = "cancelled"
	CancelAlreadyComplete CancelResult = "already_complete"
)

const CancelledMessage = "Analysis cancelled."

var (
	ErrAlreadyLaunched = errors.New("session task already launched")
	ErrTerminal        = errors.New("session already terminal")
	ErrDuplicateID     = errors.New("session id already registered")
)

// Session is one analysis run as seen by stream and status readers. Terminal
// transitions append their event before the terminal flag flips, so a
// reader that observes Terminal() has the final event in the channel.
type Session struct {
	ID        string
	Ticker    string
	UserID    *uuid.UUID
	RecordID  *uuid.UUID
	CreatedAt time.Time

	events *realtime.Channel
	now    func() time.Time

	mu              sync.Mutex
	completedAt     *time.Time
	terminal        bool
	cancelRequested bool
	state           State
	result          any
	errMsg          string
	launched        bool
	cancel          context.CancelFunc
	done            chan struct{}
}

func newSession(id, ticker string, userID *uuid.UUID, events *realtime.Channel, now func() time.Time) *Session {
	return &Session{
		ID:        id,
		Ticker:    ticker,
		UserID:    userID,
		CreatedAt: now(),
		events:    events,
		now:       now,
		state:     StateRunning,
		done:      make(chan struct{}),
	}
}

func (s *Session) Events() *realtime.Channel { return s.events }

func (s *Session) Subscribe() *realtime.Reader { return s.events.Subscribe() }

// Launch starts fn in its own goroutine with a context cancelled by
// RequestCancel or registry shutdown.
func (s *Session) Launch(parent context.Context, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.launched {
		return ErrAlreadyLaunched
	}
	if s.terminal {
		return ErrTerminal
	}
	ctx, cancel := context.WithCancel(parent)
	s.launched = true
	s.cancel = cancel
	if s.cancelRequested {
		cancel()
	}
	go func() {
		defer close(s.done)
		defer cancel()
		fn(ctx)
	}()
	return nil
}

// Done is closed when the launched task returns. A session that was never
// launched reports done once it is terminal.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// EmitStage records a progress event. Ignored once the session is terminal
// or a cancel has been requested.
func (s *Session) EmitStage(stage string, status realtime.StageStatus, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal || s.cancelRequested {
		return
	}
	_ = s.events.Append(realtime.StageEvent(stage, status, detail))
}

// Complete, Fail and MarkCancelled report whether this call performed the
// terminal transition.
// Complete reports false when a cancel was already accepted; the caller then
// owes the cancellation path.
func (s *Session) Complete(result any) bool {
	return s.finish(StateComplete, realtime.CompleteEvent(result), func() { s.result = result })
}

func (s *Session) Fail(msg string) bool {
	return s.finish(StateError, realtime.FailureEvent(msg), func() { s.errMsg = msg })
}

func (s *Session) MarkCancelled() bool {
	return s.finish(StateCancelled, realtime.FailureEvent(CancelledMessage), func() { s.errMsg = CancelledMessage })
}

func (s *Session) finish(state State, ev realtime.Event, apply func()) bool {
	s.mu.Lock()
	if s.terminal || (state == StateComplete && s.cancelRequested) {
		s.mu.Unlock()
		return false
	}
	_ = s.events.Append(ev)
	apply()
	now := s.now()
	s.completedAt = &now
	s.state = state
	s.terminal = true
	launched := s.launched
	s.mu.Unlock()

	s.events.Close()
	if !launched {
		s.closeDoneOnce()
	}
	return true
}

func (s *Session) closeDoneOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.launched {
		return
	}
	// Mark as launched so a later Launch is rejected and done is closed once.
	s.launched = true
	close(s.done)
}

// RequestCancel flags the session and cancels its task. A session whose task
// was never launched is marked cancelled directly.
func (s *Session) RequestCancel() CancelResult {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return CancelAlreadyComplete
	}
	s.cancelRequested = true
	cancel := s.cancel
	launched := s.launched
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !launched {
		s.MarkCancelled()
	}
	return CancelAccepted
}

func (s *Session) abort() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

func (s *Session) CancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRequested
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Result() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

type Snapshot struct {
	ID              string     `json:"analysis_id"`
	Ticker          string     `json:"ticker"`
	State           State      `json:"status"`
	Terminal        bool       `json:"is_complete"`
	CancelRequested bool       `json:"is_cancelled"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Elapsed         float64    `json:"elapsed"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := s.now()
	if s.completedAt != nil {
		end = *s.completedAt
	}
	return Snapshot{
		ID:              s.ID,
		Ticker:          s.Ticker,
		State:           s.state,
		Terminal:        s.terminal,
		CancelRequested: s.cancelRequested,
		Error:           s.errMsg,
		CreatedAt:       s.CreatedAt,
		CompletedAt:     s.completedAt,
		Elapsed:         end.Sub(s.CreatedAt).Seconds(),
	}
}

func (s *Session) completedBefore(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal && s.completedAt != nil && s.completedAt.Before(cutoff)
}
