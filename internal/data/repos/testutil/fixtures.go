package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/arfor-backend/internal/domain"
)

func SeedProfile(tb testing.TB, ctx context.Context, tx *gorm.DB, credits int) *types.Profile {
	tb.Helper()
	now := time.Now().UTC()
	p := &types.Profile{
		ID:               uuid.New(),
		Tier:             "free",
		CreditsRemaining: credits,
		CreditsResetAt:   &now,
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed profile: %v", err)
	}
	return p
}

func SeedAnalysis(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, ticker, status string) *types.Analysis {
	tb.Helper()
	a := &types.Analysis{
		ID:     uuid.New(),
		UserID: userID,
		RunID:  uuid.NewString(),
		Ticker: ticker,
		Status: status,
	}
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed analysis: %v", err)
	}
	return a
}
