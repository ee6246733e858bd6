package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/arfor-backend/internal/ledger"
	"github.com/yungbote/arfor-backend/internal/orchestrator"
	"github.com/yungbote/arfor-backend/internal/pipeline"
	"github.com/yungbote/arfor-backend/internal/platform/apierr"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
	"github.com/yungbote/arfor-backend/internal/realtime/bus"
	"github.com/yungbote/arfor-backend/internal/session"
)

const (
	ShutdownMessage = "Server is restarting. Please retry your analysis."

	// CancelForwarded means the session is not owned by this process and the
	// request went out on the control bus.
	CancelForwarded session.CancelResult = "cancel_requested"
)

// Debiter is the part of the ledger the start path needs.
type Debiter interface {
	Debit(ctx context.Context, userID uuid.UUID, runID string) (ledger.Balance, error)
	Refund(ctx context.Context, userID uuid.UUID, runID string) (bool, ledger.Balance, error)
}

type StartResult struct {
	AnalysisID       string `json:"analysis_id"`
	Ticker           string `json:"ticker"`
	CreditsRemaining *int   `json:"credits_remaining,omitempty"`
	Demo             bool   `json:"demo,omitempty"`
}

type AnalysisService interface {
	Start(ctx context.Context, userID uuid.UUID, ticker string) (*StartResult, error)
	StartDemo(ctx context.Context, clientIP, ticker string) (*StartResult, error)
	Cancel(ctx context.Context, id string) (session.CancelResult, error)
	Status(id string) (session.Snapshot, error)
	Session(id string) (*session.Session, error)
	// StartControl subscribes to cross-process cancel requests.
	StartControl(ctx context.Context) error
	Shutdown(ctx context.Context) int
}

type AnalysisServiceDeps struct {
	Registry    *session.Registry
	Runner      *orchestrator.Runner
	Ledger      Debiter
	Records     orchestrator.RecordStore
	Bus         bus.Bus
	StartLimit  Limiter
	DemoLimit   Limiter
	InstanceID  string
	BaseContext context.Context
}

type analysisService struct {
	log        *logger.Logger
	registry   *session.Registry
	runner     *orchestrator.Runner
	ledger     Debiter
	records    orchestrator.RecordStore
	bus        bus.Bus
	startLimit Limiter
	demoLimit  Limiter
	instanceID string
	// base parents every session task so request contexts ending does not
	// cancel the run.
	base context.Context

	// starts is read-held from admission until launch; Shutdown takes the
	// write side so no session slips in after the restart notice.
	starts  sync.RWMutex
	closing bool
}

func NewAnalysisService(log *logger.Logger, deps AnalysisServiceDeps) AnalysisService {
	base := deps.BaseContext
	if base == nil {
		base = context.Background()
	}
	id := deps.InstanceID
	if id == "" {
		id = uuid.NewString()
	}
	return &analysisService{
		log:        log.With("service", "AnalysisService"),
		registry:   deps.Registry,
		runner:     deps.Runner,
		ledger:     deps.Ledger,
		records:    deps.Records,
		bus:        deps.Bus,
		startLimit: deps.StartLimit,
		demoLimit:  deps.DemoLimit,
		instanceID: id,
		base:       base,
	}
}

func invalidTicker(err error) *apierr.Error {
	msg := strings.TrimPrefix(err.Error(), pipeline.ErrInvalidInput.Error()+": ")
	return apierr.BadRequest("invalid_ticker", msg)
}

func (s *analysisService) checkLimit(ctx context.Context, lim Limiter, key, code, msg string) error {
	if lim == nil {
		return nil
	}
	ok, wait, err := lim.Allow(ctx, key)
	if err != nil {
		// A broken limiter must not block paying users.
		s.log.Warn("Rate limiter unavailable, allowing request", "code", code, "error", err)
		return nil
	}
	if ok {
		return nil
	}
	secs := int((wait + time.Second - 1) / time.Second)
	return apierr.New(http.StatusTooManyRequests, code, errors.New(msg)).With("retry_after", secs)
}

// Start validates, debits one credit correlated by the new run id, creates
// the record and only then the session. Any failure after the debit
// refunds it.
func (s *analysisService) admit() error {
	s.starts.RLock()
	if s.closing {
		s.starts.RUnlock()
		return apierr.New(http.StatusServiceUnavailable, "shutting_down", errors.New(ShutdownMessage))
	}
	return nil
}

func (s *analysisService) Start(ctx context.Context, userID uuid.UUID, raw string) (*StartResult, error) {
	ticker, err := pipeline.ValidateTicker(raw)
	if err != nil {
		return nil, invalidTicker(err)
	}
	if err := s.admit(); err != nil {
		return nil, err
	}
	defer s.starts.RUnlock()
	if err := s.checkLimit(ctx, s.startLimit, userID.String(), "rate_limited", "Too many analyses started. Please wait before trying again."); err != nil {
		return nil, err
	}

	runID := session.NewID()
	bal, err := s.ledger.Debit(ctx, userID, runID)
	switch {
	case errors.Is(err, ledger.ErrInsufficient):
		return nil, apierr.New(http.StatusPaymentRequired, "insufficient_credits",
			errors.New("No credits remaining. Purchase more credits or wait for your weekly reset.")).With("credits_remaining", 0)
	case errors.Is(err, ledger.ErrContention):
		return nil, apierr.New(http.StatusConflict, "ledger_busy", errors.New("Your balance is being updated. Please retry."))
	case err != nil:
		s.log.Error("Debit failed", "user_id", userID, "error", err)
		return nil, apierr.New(http.StatusServiceUnavailable, "ledger_unavailable", fmt.Errorf("debit: %w", err))
	}

	var recordID *uuid.UUID
	if s.records != nil {
		id, err := s.records.CreateRecord(ctx, userID, ticker, session.StateRunning.String(), runID)
		if err != nil {
			s.refundAfterAbort(ctx, userID, runID, "record")
			return nil, apierr.New(http.StatusInternalServerError, "record_failed", err)
		}
		recordID = &id
	}

	uid := userID
	sess, err := s.registry.CreateWithID(runID, ticker, &uid)
	if err != nil {
		s.refundAfterAbort(ctx, userID, runID, "session")
		return nil, apierr.New(http.StatusInternalServerError, "session_failed", err)
	}
	sess.RecordID = recordID
	if err := s.runner.Start(s.base, sess, orchestrator.Request{Input: ticker}); err != nil {
		s.refundAfterAbort(ctx, userID, runID, "launch")
		s.registry.Remove(runID)
		return nil, apierr.New(http.StatusInternalServerError, "launch_failed", err)
	}
	s.log.Info("Analysis started", "session_id", runID, "user_id", userID, "ticker", ticker, "credits", bal.Credits)

	credits := bal.Credits
	return &StartResult{AnalysisID: runID, Ticker: ticker, CreditsRemaining: &credits}, nil
}

func (s *analysisService) refundAfterAbort(ctx context.Context, userID uuid.UUID, runID, step string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, _, err := s.ledger.Refund(rctx, userID, runID); err != nil {
		s.log.Error("Refund after aborted start failed; needs reconciliation", "user_id", userID, "run_id", runID, "step", step, "error", err)
	}
}

func (s *analysisService) StartDemo(ctx context.Context, clientIP, raw string) (*StartResult, error) {
	ticker, err := pipeline.ValidateTicker(raw)
	if err != nil {
		return nil, invalidTicker(err)
	}
	if err := s.admit(); err != nil {
		return nil, err
	}
	defer s.starts.RUnlock()
	if err := s.checkLimit(ctx, s.demoLimit, clientIP, "demo_limited", "Demo limit reached. Sign up for free analyses."); err != nil {
		var ae *apierr.Error
		if errors.As(err, &ae) {
			ae.With("demo_limited", true)
		}
		return nil, err
	}
	sess := s.registry.Create(ticker, nil)
	if err := s.runner.Start(s.base, sess, orchestrator.Request{Input: ticker}); err != nil {
		s.registry.Remove(sess.ID)
		return nil, apierr.New(http.StatusInternalServerError, "launch_failed", err)
	}
	s.log.Info("Demo analysis started", "session_id", sess.ID, "ticker", ticker)
	return &StartResult{AnalysisID: sess.ID, Ticker: ticker, Demo: true}, nil
}

func notFound() *apierr.Error {
	return apierr.NotFound("analysis_not_found", "Analysis not found")
}

func (s *analysisService) Session(id string) (*session.Session, error) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return nil, notFound()
	}
	return sess, nil
}

func (s *analysisService) Status(id string) (session.Snapshot, error) {
	sess, err := s.Session(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

func (s *analysisService) Cancel(ctx context.Context, id string) (session.CancelResult, error) {
	if res, ok := s.registry.Cancel(id); ok {
		s.log.Info("Cancel requested", "session_id", id, "result", string(res))
		return res, nil
	}
	if s.bus == nil {
		return "", notFound()
	}
	if err := s.bus.Publish(ctx, bus.ControlMessage{Kind: bus.KindCancel, SessionID: id, Origin: s.instanceID}); err != nil {
		s.log.Warn("Failed to forward cancel", "session_id", id, "error", err)
		return "", notFound()
	}
	return CancelForwarded, nil
}

func (s *analysisService) StartControl(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	return s.bus.StartForwarder(ctx, func(m bus.ControlMessage) {
		if m.Kind != bus.KindCancel || m.Origin == s.instanceID {
			return
		}
		if res, ok := s.registry.Cancel(m.SessionID); ok {
			s.log.Info("Cancel received from peer", "session_id", m.SessionID, "origin", m.Origin, "result", string(res))
		}
	})
}

func (s *analysisService) Shutdown(ctx context.Context) int {
	s.starts.Lock()
	s.closing = true
	s.starts.Unlock()
	return s.registry.Shutdown(ctx, ShutdownMessage)
}
