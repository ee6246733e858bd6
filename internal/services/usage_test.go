package services

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/arfor-backend/internal/data/repos"
	"github.com/yungbote/arfor-backend/internal/data/repos/testutil"
	"github.com/yungbote/arfor-backend/internal/ledger"
)

func newUsage(t *testing.T) (UsageService, repos.Repos) {
	t.Helper()
	log := testutil.Logger(t)
	rs := repos.New(testutil.DB(t), log)
	l := ledger.New(rs.Ledger, log, ledger.Options{})
	return NewUsageService(log, l, rs.Analyses, rs.Profiles), rs
}

func TestProfileGrantsAllowanceOnFirstVisit(t *testing.T) {
	svc, rs := newUsage(t)
	ctx := context.Background()
	user := uuid.New()

	records := NewRecordStore(rs.Analyses)
	_, err := records.CreateRecord(ctx, user, "AAPL", "complete", "run-a")
	require.NoError(t, err)

	p, err := svc.Profile(ctx, user)
	require.NoError(t, err)
	require.Equal(t, user, p.UserID)
	require.Equal(t, ledger.DefaultFreeCredits, p.CreditsRemaining)
	require.Equal(t, ledger.TierFree, p.Tier)
	require.NotNil(t, p.CreditsResetAt)
	require.NotNil(t, p.NextReset)
	require.NotNil(t, p.MemberSince)
	require.EqualValues(t, 1, p.TotalAnalyses)
}

func TestListAnalysesPages(t *testing.T) {
	svc, rs := newUsage(t)
	ctx := context.Background()
	user := uuid.New()
	records := NewRecordStore(rs.Analyses)
	for i := 0; i < 5; i++ {
		_, err := records.CreateRecord(ctx, user, "MSFT", "running", fmt.Sprintf("run-%d", i))
		require.NoError(t, err)
	}
	_, err := records.CreateRecord(ctx, uuid.New(), "TSLA", "running", "someone-else")
	require.NoError(t, err)

	page, err := svc.ListAnalyses(ctx, user, 1, 2)
	require.NoError(t, err)
	require.Len(t, page.Analyses, 2)
	require.EqualValues(t, 5, page.Total)

	page, err = svc.ListAnalyses(ctx, user, 3, 2)
	require.NoError(t, err)
	require.Len(t, page.Analyses, 1)

	page, err = svc.ListAnalyses(ctx, user, 0, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, page.Page)
	require.Equal(t, MaxPageSize, page.Limit)
}

func TestGetAnalysisScopedToOwner(t *testing.T) {
	svc, rs := newUsage(t)
	ctx := context.Background()
	owner := uuid.New()
	records := NewRecordStore(rs.Analyses)

	id, err := records.CreateRecord(ctx, owner, "NVDA", "running", "run-n")
	require.NoError(t, err)
	require.NoError(t, records.UpdateRecord(ctx, id, "complete", map[string]any{"ticker": "NVDA"}))

	d, err := svc.GetAnalysis(ctx, owner, id)
	require.NoError(t, err)
	require.Equal(t, "complete", d.Status)
	require.JSONEq(t, `{"ticker":"NVDA"}`, string(d.Result))

	_, err = svc.GetAnalysis(ctx, uuid.New(), id)
	status, code := apiCode(t, err)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "analysis_not_found", code)
}

func TestDeleteAccountRemovesHistory(t *testing.T) {
	svc, rs := newUsage(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := svc.Profile(ctx, user)
	require.NoError(t, err)
	_, err = NewRecordStore(rs.Analyses).CreateRecord(ctx, user, "AMD", "complete", "run-d")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAccount(ctx, user))

	page, err := svc.ListAnalyses(ctx, user, 1, 10)
	require.NoError(t, err)
	require.Zero(t, page.Total)
}
