package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/arfor-backend/internal/config"
	"github.com/yungbote/arfor-backend/internal/realtime"
)

var (
	// ErrQuorum aborts the run before any section is written.
	ErrQuorum = errors.New("research quorum not met")
	// ErrPhaseTimeout marks a phase that hit its outer deadline without
	// producing a usable result.
	ErrPhaseTimeout = errors.New("phase timed out")
)

type LaneResult struct {
	Lane    config.Lane
	Text    string
	Kind    Kind
	Err     error
	Latency time.Duration
}

type ResearchResult struct {
	Brief     string
	Lanes     []LaneResult
	Succeeded int
	// Merged is false when the brief is the raw lane concatenation.
	Merged bool
}

// Research fans the lanes out under the phase timeout, enforces the quorum
// and merges what came back into one brief.
func (e *Executor) Research(ctx context.Context, subj Subject, rep Reporter) (ResearchResult, error) {
	rc := e.cfg.Research
	company := subj.Display()
	rep.Report(StageDeepDive, realtime.StatusRunning, fmt.Sprintf("Phase 1/3: Researching (%d parallel lanes)...", len(rc.Lanes)))

	phaseCtx, cancel := context.WithTimeout(ctx, rc.PhaseTimeout)
	defer cancel()

	results := make([]LaneResult, len(rc.Lanes))
	g, gctx := errgroup.WithContext(phaseCtx)
	for i, lane := range rc.Lanes {
		g.Go(func() error {
			results[i] = e.runLane(gctx, lane, company, rep)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return ResearchResult{}, err
	}

	out := ResearchResult{Lanes: results}
	for _, r := range results {
		if r.Kind == KindOk {
			out.Succeeded++
		}
	}
	rep.Report(StageDeepDive, realtime.StatusRunning, fmt.Sprintf("Research lanes complete: %d/%d succeeded", out.Succeeded, len(rc.Lanes)))

	if out.Succeeded < rc.Quorum {
		if errors.Is(phaseCtx.Err(), context.DeadlineExceeded) {
			return out, fmt.Errorf("%w: research phase exceeded %s outer timeout (%d/%d lanes finished)",
				ErrPhaseTimeout, rc.PhaseTimeout, out.Succeeded, len(rc.Lanes))
		}
		return out, fmt.Errorf("%w: only %d/%d research lanes succeeded (minimum %d required)",
			ErrQuorum, out.Succeeded, len(rc.Lanes), rc.Quorum)
	}

	laneText := LaneConcatenation(results)
	brief, merged, err := e.merge(ctx, company, laneText, rep)
	if err != nil {
		return out, err
	}
	out.Brief, out.Merged = brief, merged
	rep.Report(StageDeepDive, realtime.StatusRunning, fmt.Sprintf("Research complete (%d chars)", len(brief)))
	return out, nil
}

func (e *Executor) runLane(ctx context.Context, lane config.Lane, company string, rep Reporter) LaneResult {
	rc := e.cfg.Research
	instructions, input := e.prompts.Lane(lane, company)
	spec := CallSpec{
		Unit:            lane.ID,
		Model:           rc.Model,
		Instructions:    instructions,
		Input:           input,
		MaxOutputTokens: rc.LaneMaxTokens,
		Timeout:         rc.LaneTimeout,
		Tool:            rc.Tool,
	}
	o := Call(ctx, e.invoker, spec, e.retry(func(attempt int, err error) {
		rep.Report(StageDeepDive, realtime.StatusRunning, fmt.Sprintf("Lane %s (%s) attempt %d failed: %v. Retrying...", lane.ID, lane.Label, attempt, err))
	}))
	e.observe("research", lane.ID, o.Kind)
	if o.OK() {
		rep.Report(StageDeepDive, realtime.StatusRunning, fmt.Sprintf("Research lane %s (%s) complete (%d chars)", lane.ID, lane.Label, len(o.Value)))
	} else if o.Kind != KindCancelled {
		e.log.Warn("Research lane failed", "lane", lane.ID, "kind", o.Kind.String(), "error", o.Err)
		rep.Report(StageDeepDive, realtime.StatusRunning, fmt.Sprintf("WARNING: Lane %s (%s) failed: %v", lane.ID, lane.Label, o.Err))
	}
	return LaneResult{Lane: lane, Text: o.Value, Kind: o.Kind, Err: o.Err, Latency: o.Latency}
}

// LaneConcatenation labels each successful lane and joins them in lane
// order. It doubles as the merge fallback.
func LaneConcatenation(results []LaneResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Kind != KindOk || strings.TrimSpace(r.Text) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("### Lane %s: %s\n\n%s", r.Lane.ID, r.Lane.Label, r.Text))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// merge never fails the phase on its own; only a done ctx is returned as
// an error.
func (e *Executor) merge(ctx context.Context, company, laneText string, rep Reporter) (string, bool, error) {
	rc := e.cfg.Research
	instructions, input := e.prompts.Merge(company, laneText)
	o := Call(ctx, e.invoker, CallSpec{
		Unit:            "merge",
		Model:           rc.Model,
		Instructions:    instructions,
		Input:           input,
		MaxOutputTokens: rc.MergeMaxTokens,
		Timeout:         rc.MergeTimeout,
	}, e.retry(nil))
	e.observe("research", "merge", o.Kind)
	if o.OK() {
		rep.Report(StageDeepDive, realtime.StatusRunning, fmt.Sprintf("Research merge complete (%d chars)", len(o.Value)))
		return o.Value, true, nil
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	e.log.Warn("Research merge failed, using lane concatenation", "kind", o.Kind.String(), "error", o.Err)
	rep.Report(StageDeepDive, realtime.StatusRunning, fmt.Sprintf("WARNING: Merge failed (%v), using raw concatenation fallback", o.Err))
	return laneText, false, nil
}
