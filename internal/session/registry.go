package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/arfor-backend/internal/platform/logger"
	"github.com/yungbote/arfor-backend/internal/realtime"
)

const (
	DefaultTTL           = 600 * time.Second
	DefaultSweepInterval = 60 * time.Second
	DefaultShutdownGrace = 10 * time.Second
)

type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	HistoryCap    int
	HistoryKeep   int
	ShutdownGrace time.Duration
}

// Registry owns every in-flight session of this process. Terminal sessions
// stay readable for TTL so late subscribers can replay the outcome.
type Registry struct {
	log  *logger.Logger
	opts Options
	now  func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(log *logger.Logger, opts Options) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	return &Registry{
		log:      log.With("service", "SessionRegistry"),
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// NewID returns a fresh session id: a v4 UUID in hex without dashes.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Create sweeps stale sessions and registers a new one.
func (r *Registry) Create(ticker string, userID *uuid.UUID) *Session {
	for {
		s, err := r.CreateWithID(NewID(), ticker, userID)
		if err == nil {
			return s
		}
	}
}

// CreateWithID registers a session under a caller-chosen id, used when the
// id was already spent as a ledger correlation key.
func (r *Registry) CreateWithID(id, ticker string, userID *uuid.UUID) (*Session, error) {
	r.Sweep()

	ch := realtime.NewChannel(r.opts.HistoryCap, r.opts.HistoryKeep)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[id] != nil {
		return nil, ErrDuplicateID
	}
	s := newSession(id, ticker, userID, ch, r.now)
	r.sessions[id] = s
	return s, nil
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Active counts non-terminal sessions.
func (r *Registry) Active() int {
	n := 0
	for _, s := range r.snapshot() {
		if !s.Terminal() {
			n++
		}
	}
	return n
}

// Cancel resolves id and requests cancellation. ok is false when this
// process does not own the session.
func (r *Registry) Cancel(id string) (CancelResult, bool) {
	s, ok := r.Get(id)
	if !ok {
		return "", false
	}
	return s.RequestCancel(), true
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Sweep evicts sessions that have been terminal for longer than TTL.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.opts.TTL)
	var stale []string
	for _, s := range r.snapshot() {
		if s.completedBefore(cutoff) {
			stale = append(stale, s.ID)
		}
	}
	if len(stale) == 0 {
		return 0
	}
	r.mu.Lock()
	for _, id := range stale {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	r.log.Debug("Swept stale sessions", "count", len(stale))
	return len(stale)
}

func (r *Registry) StartSweeper(ctx context.Context) {
	go func() {
		t := time.NewTicker(r.opts.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.Sweep()
			}
		}
	}()
}

// Shutdown fails every running session with message, cancels its task and
// waits up to the shutdown grace (or ctx) for the tasks to return. It
// reports how many sessions were notified.
func (r *Registry) Shutdown(ctx context.Context, message string) int {
	var waiting []*Session
	for _, s := range r.snapshot() {
		if !s.Fail(message) {
			continue
		}
		s.abort()
		waiting = append(waiting, s)
	}
	if len(waiting) == 0 {
		return 0
	}
	r.log.Info("Notified running sessions of shutdown", "count", len(waiting))

	grace := time.NewTimer(r.opts.ShutdownGrace)
	defer grace.Stop()
	for _, s := range waiting {
		select {
		case <-s.Done():
		case <-grace.C:
			r.log.Warn("Shutdown grace elapsed with tasks still running")
			return len(waiting)
		case <-ctx.Done():
			return len(waiting)
		}
	}
	return len(waiting)
}
