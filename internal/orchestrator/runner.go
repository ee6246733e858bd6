package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/arfor-backend/internal/domain"
	"github.com/yungbote/arfor-backend/internal/ledger"
	"github.com/yungbote/arfor-backend/internal/observability"
	"github.com/yungbote/arfor-backend/internal/pipeline"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
	"github.com/yungbote/arfor-backend/internal/realtime"
	"github.com/yungbote/arfor-backend/internal/session"
)

const (
	TimeoutMessage      = "Analysis timed out. Your credit has been refunded."
	timeoutRecordError  = "Analysis timed out after 10 minutes"
	defaultWriteTimeout = 10 * time.Second
)

// RecordStore persists the per-run analysis record. Failures are logged by
// the caller and never change the run's outcome.
type RecordStore interface {
	CreateRecord(ctx context.Context, userID uuid.UUID, ticker, status, runID string) (uuid.UUID, error)
	UpdateRecord(ctx context.Context, id uuid.UUID, status string, result any) error
}

type Refunder interface {
	Refund(ctx context.Context, userID uuid.UUID, runID string) (bool, ledger.Balance, error)
}

// Runner executes the orchestrator inside a session task and turns its
// outcome into exactly one terminal event, a record update and, for any
// non-success, a refund.
type Runner struct {
	log          *logger.Logger
	orch         *Orchestrator
	records      RecordStore
	refunder     Refunder
	writeTimeout time.Duration
}

func NewRunner(log *logger.Logger, orch *Orchestrator, records RecordStore, refunder Refunder) *Runner {
	return &Runner{
		log:          log.With("service", "AnalysisRunner"),
		orch:         orch,
		records:      records,
		refunder:     refunder,
		writeTimeout: defaultWriteTimeout,
	}
}

type sessionReporter struct{ s *session.Session }

func (r sessionReporter) Report(stage string, status realtime.StageStatus, detail string) {
	r.s.EmitStage(stage, status, detail)
}

// Start launches req on s. The session's ID is the run id the debit was
// correlated with.
func (r *Runner) Start(parent context.Context, s *session.Session, req Request) error {
	return s.Launch(parent, func(ctx context.Context) {
		r.execute(ctx, s, req)
	})
}

func (r *Runner) execute(ctx context.Context, s *session.Session, req Request) {
	start := time.Now()
	log := r.log.With("session_id", s.ID, "ticker", s.Ticker)
	defer func() {
		if p := recover(); p != nil {
			log.Error("Runner panicked", "panic", p)
			r.refund(ctx, s)
			r.updateRecord(ctx, s, domain.AnalysisStatusError, map[string]any{"error": "internal error"})
			s.Fail("Analysis failed: internal error")
			observability.Current().ObserveRun(string(session.StateError), time.Since(start))
		}
	}()

	out := r.orch.Run(ctx, req, sessionReporter{s: s})
	state := r.finish(ctx, s, out)
	log.Info("Analysis finished", "state", state, "kind", out.Kind.String(), "elapsed_s", time.Since(start).Seconds())
	observability.Current().ObserveRun(string(state), time.Since(start))
}

func (r *Runner) finish(ctx context.Context, s *session.Session, out pipeline.Outcome[Report]) session.State {
	switch {
	case out.OK():
		data := out.Value.ResultData()
		if s.Complete(data) {
			r.updateRecord(ctx, s, domain.AnalysisStatusComplete, data)
			return session.StateComplete
		}
		return r.abandon(ctx, s)

	case out.Kind == pipeline.KindCancelled || s.Terminal():
		return r.abandon(ctx, s)

	case out.Kind == pipeline.KindTimedOut:
		r.updateRecord(ctx, s, domain.AnalysisStatusError, map[string]any{"error": timeoutRecordError})
		r.refund(ctx, s)
		s.Fail(TimeoutMessage)
		return s.State()

	default:
		msg := "Analysis failed"
		if out.Err != nil {
			msg = out.Err.Error()
		}
		r.updateRecord(ctx, s, domain.AnalysisStatusError, map[string]any{"error": msg})
		r.refund(ctx, s)
		s.Fail(msg)
		return s.State()
	}
}

// abandon settles a run whose result will never be delivered: a cancel won
// the race or shutdown already failed the session.
func (r *Runner) abandon(ctx context.Context, s *session.Session) session.State {
	r.refund(ctx, s)
	s.MarkCancelled()
	if s.State() == session.StateCancelled {
		r.updateRecord(ctx, s, domain.AnalysisStatusCancelled, nil)
	} else {
		r.updateRecord(ctx, s, string(s.State()), map[string]any{"error": "interrupted by shutdown"})
	}
	return s.State()
}

func (r *Runner) writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
}

func (r *Runner) refund(ctx context.Context, s *session.Session) {
	if s.UserID == nil || r.refunder == nil {
		return
	}
	wctx, cancel := r.writeCtx(ctx)
	defer cancel()
	applied, b, err := r.refunder.Refund(wctx, *s.UserID, s.ID)
	if err != nil {
		r.log.Error("Refund failed; needs reconciliation", "session_id", s.ID, "user_id", *s.UserID, "error", err)
		return
	}
	r.log.Info("Refund processed", "session_id", s.ID, "applied", applied, "credits", b.Credits)
}

func (r *Runner) updateRecord(ctx context.Context, s *session.Session, status string, result any) {
	if s.UserID == nil || s.RecordID == nil || r.records == nil {
		return
	}
	wctx, cancel := r.writeCtx(ctx)
	defer cancel()
	if err := r.records.UpdateRecord(wctx, *s.RecordID, status, result); err != nil {
		r.log.Error("Failed to update analysis record", "session_id", s.ID, "record_id", *s.RecordID, "status", status, "error", fmt.Errorf("update record: %w", err))
	}
}
