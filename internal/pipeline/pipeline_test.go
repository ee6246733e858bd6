package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yungbote/arfor-backend/internal/config"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
	"github.com/yungbote/arfor-backend/internal/realtime"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		GlobalTimeout: 5 * time.Second,
		RetryDelay:    time.Millisecond,
		MaxRetries:    1,
		Research: config.ResearchConfig{
			Model: "research", Tool: "web_search_preview",
			LaneTimeout: time.Second, MergeTimeout: time.Second, PhaseTimeout: 2 * time.Second,
			Quorum: 3,
			Lanes: []config.Lane{
				{ID: "R1", Label: "One"}, {ID: "R2", Label: "Two"}, {ID: "R3", Label: "Three"},
				{ID: "R4", Label: "Four"}, {ID: "R5", Label: "Five"}, {ID: "R6", Label: "Six"},
			},
		},
		Sections: config.SectionsConfig{
			Model: "sections", Timeout: time.Second,
			Groups: []config.SectionGroup{
				{ID: "A", Sections: []int{1, 2, 3}}, {ID: "B", Sections: []int{4, 5, 6}},
				{ID: "C", Sections: []int{7, 8, 9}}, {ID: "D", Sections: []int{10, 11}},
			},
		},
		Capstone: config.CapstoneConfig{Model: "capstone", Timeout: time.Second, Sections: []int{0, 12, 13}, FallbackChars: 20},
		Evaluation: config.EvaluationConfig{
			Model: "eval", Timeout: time.Second,
			Viewpoints: []config.Viewpoint{
				{ID: "eleanor", Name: "Eleanor Grant"}, {ID: "daniel", Name: "Daniel Cho"}, {ID: "victor", Name: "Victor Alvarez"},
			},
		},
		Arbitration: config.ArbitrationConfig{Model: "arb", Timeout: time.Second, MinViewpoints: 2},
	}
}

// fakeInvoker answers by unit; units listed in fail always error.
type fakeInvoker struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls map[string]int
	specs []CallSpec
	delay time.Duration
}

func newFake(fail ...string) *fakeInvoker {
	f := &fakeInvoker{fail: map[string]bool{}, calls: map[string]int{}}
	for _, u := range fail {
		f.fail[u] = true
	}
	return f
}

func (f *fakeInvoker) Invoke(ctx context.Context, spec CallSpec) (string, error) {
	f.mu.Lock()
	f.calls[spec.Unit]++
	f.specs = append(f.specs, spec)
	fail := f.fail[spec.Unit]
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if fail {
		return "", errors.New("upstream 500")
	}
	return "out:" + spec.Unit, nil
}

func (f *fakeInvoker) count(unit string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[unit]
}

func (f *fakeInvoker) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Report(stage string, status realtime.StageStatus, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, stage+"|"+string(status)+"|"+detail)
}

func (r *recorder) contains(sub string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if strings.Contains(e, sub) {
			return true
		}
	}
	return false
}

func newExec(inv Invoker) *Executor {
	return NewExecutor(logger.Nop(), inv, NewDefaultPrompts(), testConfig())
}

var subj = Subject{Ticker: "AAPL", Company: "Apple Inc."}

func TestCallRetriesOnceThenFails(t *testing.T) {
	f := newFake("x")
	var retried int
	o := Call(context.Background(), f, CallSpec{Unit: "x"}, RetryPolicy{MaxRetries: 1, Delay: time.Millisecond, OnRetry: func(int, error) { retried++ }})
	require.Equal(t, KindFailed, o.Kind)
	require.Equal(t, 2, f.count("x"))
	require.Equal(t, 1, retried)
}

func TestCallTreatsEmptyOutputAsFailure(t *testing.T) {
	inv := InvokerFunc(func(ctx context.Context, spec CallSpec) (string, error) { return "  ", nil })
	o := Call(context.Background(), inv, CallSpec{}, RetryPolicy{})
	require.Equal(t, KindFailed, o.Kind)
	require.ErrorIs(t, o.Err, ErrEmptyOutput)
}

func TestCallPerCallTimeout(t *testing.T) {
	f := newFake()
	f.delay = time.Second
	o := Call(context.Background(), f, CallSpec{Unit: "slow", Timeout: 10 * time.Millisecond}, RetryPolicy{MaxRetries: 1, Delay: time.Millisecond})
	require.Equal(t, KindTimedOut, o.Kind)
	require.Equal(t, 2, f.count("slow"))
}

func TestCallDoesNotRetryWhenParentCancelled(t *testing.T) {
	f := newFake()
	f.delay = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	o := Call(ctx, f, CallSpec{Unit: "p"}, RetryPolicy{MaxRetries: 3, Delay: time.Millisecond})
	require.Equal(t, KindCancelled, o.Kind)
	require.Equal(t, 1, f.count("p"))
}

func TestClassify(t *testing.T) {
	require.Equal(t, KindOk, Classify(nil))
	require.Equal(t, KindCancelled, Classify(fmt.Errorf("x: %w", context.Canceled)))
	require.Equal(t, KindTimedOut, Classify(context.DeadlineExceeded))
	require.Equal(t, KindFailed, Classify(errors.New("boom")))
}

func TestResearchQuorumMissAbortsBeforeSections(t *testing.T) {
	f := newFake("R1", "R2", "R3", "R4")
	e := newExec(f)
	res, err := e.Research(context.Background(), subj, NopReporter)
	require.ErrorIs(t, err, ErrQuorum)
	require.Equal(t, 2, res.Succeeded)
	require.Zero(t, f.count("merge"))
	require.Contains(t, err.Error(), "only 2/6 research lanes succeeded")
}

func TestResearchMergeFailureFallsBackToLanes(t *testing.T) {
	f := newFake("R2", "merge")
	e := newExec(f)
	rep := &recorder{}
	res, err := e.Research(context.Background(), subj, rep)
	require.NoError(t, err)
	require.False(t, res.Merged)
	require.Equal(t, 5, res.Succeeded)
	require.True(t, strings.HasPrefix(res.Brief, "### Lane R1: One\n\nout:R1"))
	require.NotContains(t, res.Brief, "Lane R2")
	require.True(t, rep.contains("Merge failed"))
}

func TestResearchUsesWebSearchOnLanesOnly(t *testing.T) {
	f := newFake()
	e := newExec(f)
	res, err := e.Research(context.Background(), subj, NopReporter)
	require.NoError(t, err)
	require.True(t, res.Merged)
	require.Equal(t, "out:merge", res.Brief)
	for _, s := range f.specs {
		if s.Unit == "merge" {
			require.Empty(t, s.Tool)
		} else {
			require.Equal(t, "web_search_preview", s.Tool)
		}
	}
}

func TestSectionsDropFailedGroupsInOrder(t *testing.T) {
	f := newFake("B")
	e := newExec(f)
	res, err := e.WriteSections(context.Background(), subj, "brief", NopReporter)
	require.NoError(t, err)
	require.Equal(t, "out:A\n\nout:C\n\nout:D", res.Text)
	require.Len(t, res.Missing(), 1)
	require.Equal(t, "B", res.Missing()[0].ID)
}

func TestCapstoneFallback(t *testing.T) {
	f := newFake("capstone")
	e := newExec(f)
	c, err := e.WriteCapstone(context.Background(), subj, "0123456789abcdefghijKLMNOP", "prior", NopReporter)
	require.NoError(t, err)
	require.True(t, c.Fallback)
	require.True(t, strings.HasPrefix(c.Text, "## Section 0: Executive Summary"))
	require.Contains(t, c.Text, "0123456789abcdefghij\n")
	require.NotContains(t, c.Text, "KLMNOP")
}

func TestComposeDeepDiveOrdersSections(t *testing.T) {
	capstone := "## Section 0: Summary\nlead\n## Section 12: Verdict\nbuy\n## Section 13: Unknowns\nmany"
	got := ComposeDeepDive(capstone, "## Section 1: Business\nbody")
	want := "## Section 0: Summary\nlead\n\n---\n\n## Section 1: Business\nbody\n\n---\n\n## Section 12: Verdict\nbuy\n## Section 13: Unknowns\nmany"
	require.Equal(t, want, got)
}

func TestEvaluationMarksUnavailable(t *testing.T) {
	f := newFake("daniel")
	e := newExec(f)
	views, err := e.Evaluate(context.Background(), "deep", NopReporter)
	require.NoError(t, err)
	require.Len(t, views, 3)
	require.True(t, views[0].Available)
	require.False(t, views[1].Available)
	require.Equal(t, 2, AvailableCount(views))
}

func TestArbitrationSkippedBelowMinimum(t *testing.T) {
	f := newFake()
	e := newExec(f)
	views := []ViewpointResult{{Available: true, Text: "x"}, {Available: false}, {Available: false}}
	a, err := e.Arbitrate(context.Background(), "summary", views, NopReporter)
	require.NoError(t, err)
	require.False(t, a.Attempted)
	require.False(t, a.Available())
	require.Zero(t, f.count("arbitration"))
}

func TestArbitrationInputListsOnlyAvailable(t *testing.T) {
	views := []ViewpointResult{
		{Viewpoint: config.Viewpoint{Name: "Eleanor Grant"}, Available: true, Text: "E"},
		{Viewpoint: config.Viewpoint{Name: "Daniel Cho"}},
	}
	in := ArbitrationInput("S", views)
	require.Contains(t, in, "## Eleanor Grant\n\nE")
	require.NotContains(t, in, "Daniel Cho")
}

func TestCancellationReachesEveryLane(t *testing.T) {
	var inflight atomic.Int32
	started := make(chan struct{}, 6)
	inv := InvokerFunc(func(ctx context.Context, spec CallSpec) (string, error) {
		inflight.Add(1)
		defer inflight.Add(-1)
		started <- struct{}{}
		<-ctx.Done()
		return "", ctx.Err()
	})
	e := newExec(inv)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.Research(ctx, subj, NopReporter)
		done <- err
	}()
	for i := 0; i < 6; i++ {
		<-started
	}
	cancel()
	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, inflight.Load())
}

func TestSanitize(t *testing.T) {
	cases := []struct {
		in, want string
		bad      bool
	}{
		{"  aapl ", "aapl", false},
		{"**Meta**   Platforms", "Meta Platforms", false},
		{"AT&T; DROP", "AT&T DROP", false},
		{"BRK.B", "BRK.B", false},
		{"", "", true},
		{"#$%", "", true},
		{strings.Repeat("a", 101), "", true},
	}
	for _, tc := range cases {
		got, err := Sanitize(tc.in)
		if tc.bad {
			require.ErrorIs(t, err, ErrInvalidInput, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestValidateTicker(t *testing.T) {
	for _, ok := range []string{"aapl", "BRK.B", "X", "0700"} {
		_, err := ValidateTicker(ok)
		require.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "TOOLONGTICKER", "BRK.BB", "A B", "$AAPL"} {
		_, err := ValidateTicker(bad)
		require.ErrorIs(t, err, ErrInvalidInput, bad)
	}
}

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver()
	require.Equal(t, Subject{Ticker: "AAPL", Company: "Apple Inc."}, r.Resolve(context.Background(), "aapl"))
	require.Equal(t, "META", r.Resolve(context.Background(), "meta platforms").Ticker)
	got := r.Resolve(context.Background(), "Zzyzx Corp")
	require.Equal(t, "ZZYZX CORP", got.Ticker)
	require.Equal(t, "Zzyzx Corp", got.Company)
	require.Equal(t, "Apple Inc. (AAPL)", Subject{Ticker: "AAPL", Company: "Apple Inc."}.Display())
}

func TestParseTemplateSections(t *testing.T) {
	tpl := "intro\n## Section 0: Exec\nzero\n## Section 1: Biz\none\n"
	got := ParseTemplateSections(tpl)
	require.Equal(t, "## Section 0: Exec\nzero", got[0])
	require.Equal(t, "## Section 1: Biz\none", got[1])
}
