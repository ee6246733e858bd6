package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/arfor-backend/internal/data/repos"
	types "github.com/yungbote/arfor-backend/internal/domain"
	"github.com/yungbote/arfor-backend/internal/ledger"
	"github.com/yungbote/arfor-backend/internal/platform/apierr"
	"github.com/yungbote/arfor-backend/internal/platform/dbctx"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Profile struct {
	UserID           uuid.UUID  `json:"user_id"`
	CreditsRemaining int        `json:"credits_remaining"`
	Tier             string     `json:"tier"`
	CreditsResetAt   *time.Time `json:"credits_reset_at"`
	NextReset        *time.Time `json:"next_reset"`
	MemberSince      *time.Time `json:"member_since"`
	TotalAnalyses    int64      `json:"total_analyses"`
}

type AnalysisSummary struct {
	ID        uuid.UUID `json:"id"`
	Ticker    string    `json:"ticker"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type AnalysisDetail struct {
	AnalysisSummary
	Result json.RawMessage `json:"result,omitempty"`
}

type AnalysisPage struct {
	Analyses []AnalysisSummary `json:"analyses"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
	Total    int64             `json:"total"`
}

type UsageService interface {
	Profile(ctx context.Context, userID uuid.UUID) (*Profile, error)
	ListAnalyses(ctx context.Context, userID uuid.UUID, page, limit int) (*AnalysisPage, error)
	GetAnalysis(ctx context.Context, userID, id uuid.UUID) (*AnalysisDetail, error)
	DeleteAccount(ctx context.Context, userID uuid.UUID) error
}

type usageService struct {
	log      *logger.Logger
	ledger   *ledger.Ledger
	analyses repos.AnalysisRepo
	profiles repos.ProfileRepo
}

func NewUsageService(log *logger.Logger, l *ledger.Ledger, analyses repos.AnalysisRepo, profiles repos.ProfileRepo) UsageService {
	return &usageService{
		log:      log.With("service", "UsageService"),
		ledger:   l,
		analyses: analyses,
		profiles: profiles,
	}
}

// Profile applies any due refill before reporting, so the first visit of
// the week shows the new allowance.
func (s *usageService) Profile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	u, err := s.ledger.Usage(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("usage: %w", err)
	}
	out := &Profile{
		UserID:           userID,
		CreditsRemaining: u.Credits,
		Tier:             u.Tier,
		CreditsResetAt:   u.ResetAt,
		NextReset:        u.NextReset,
	}
	dbc := dbctx.New(ctx)
	if p, err := s.profiles.Get(dbc, userID); err != nil {
		s.log.Warn("Profile lookup failed", "user_id", userID, "error", err)
	} else if p != nil {
		created := p.CreatedAt
		out.MemberSince = &created
	}
	n, err := s.analyses.CountByUser(dbc, userID)
	if err != nil {
		return nil, fmt.Errorf("count analyses: %w", err)
	}
	out.TotalAnalyses = n
	return out, nil
}

func summarize(a *types.Analysis) AnalysisSummary {
	return AnalysisSummary{ID: a.ID, Ticker: a.Ticker, Status: a.Status, CreatedAt: a.CreatedAt}
}

func (s *usageService) ListAnalyses(ctx context.Context, userID uuid.UUID, page, limit int) (*AnalysisPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	dbc := dbctx.New(ctx)
	rows, err := s.analyses.ListByUser(dbc, userID, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	total, err := s.analyses.CountByUser(dbc, userID)
	if err != nil {
		return nil, fmt.Errorf("count analyses: %w", err)
	}
	out := &AnalysisPage{Analyses: make([]AnalysisSummary, 0, len(rows)), Page: page, Limit: limit, Total: total}
	for _, a := range rows {
		out.Analyses = append(out.Analyses, summarize(a))
	}
	return out, nil
}

func (s *usageService) GetAnalysis(ctx context.Context, userID, id uuid.UUID) (*AnalysisDetail, error) {
	a, err := s.analyses.GetForUser(dbctx.New(ctx), userID, id)
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	if a == nil {
		return nil, notFound()
	}
	d := &AnalysisDetail{AnalysisSummary: summarize(a)}
	if len(a.Result) > 0 {
		d.Result = json.RawMessage(a.Result)
	}
	return d, nil
}

func (s *usageService) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	if err := s.profiles.DeleteAccount(dbctx.New(ctx), userID); err != nil {
		return apierr.New(http.StatusInternalServerError, "delete_failed", fmt.Errorf("delete account: %w", err))
	}
	s.log.Info("Account deleted", "user_id", userID)
	return nil
}
