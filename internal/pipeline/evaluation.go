package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/arfor-backend/internal/config"
	"github.com/yungbote/arfor-backend/internal/realtime"
)

type ViewpointResult struct {
	Viewpoint config.Viewpoint
	Text      string
	Available bool
	Kind      Kind
	Err       error
	Latency   time.Duration
}

func AvailableCount(views []ViewpointResult) int {
	n := 0
	for _, v := range views {
		if v.Available {
			n++
		}
	}
	return n
}

// Evaluate runs every viewpoint over the deep dive concurrently. A failed
// viewpoint is marked unavailable; only a done ctx is an error.
func (e *Executor) Evaluate(ctx context.Context, deepDive string, rep Reporter) ([]ViewpointResult, error) {
	ec := e.cfg.Evaluation
	rep.Report(StageEvaluation, realtime.StatusRunning, fmt.Sprintf("Launching %d persona evaluations in parallel...", len(ec.Viewpoints)))

	results := make([]ViewpointResult, len(ec.Viewpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, v := range ec.Viewpoints {
		g.Go(func() error {
			results[i] = e.runViewpoint(gctx, v, deepDive, rep)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Executor) runViewpoint(ctx context.Context, v config.Viewpoint, deepDive string, rep Reporter) ViewpointResult {
	ec := e.cfg.Evaluation
	rep.Report(StageEvaluation, realtime.StatusRunning, fmt.Sprintf("Starting %s evaluation...", v.Name))
	o := Call(ctx, e.invoker, CallSpec{
		Unit:            v.ID,
		Model:           ec.Model,
		Instructions:    e.prompts.Viewpoint(v),
		Input:           deepDive,
		MaxOutputTokens: ec.MaxTokens,
		Timeout:         ec.Timeout,
	}, e.retry(func(attempt int, err error) {
		rep.Report(StageEvaluation, realtime.StatusRunning, fmt.Sprintf("%s attempt %d failed: %v. Retrying...", v.Name, attempt, err))
	}))
	e.observe("evaluation", v.ID, o.Kind)
	switch {
	case o.OK():
		rep.Report(StageEvaluation, realtime.StatusRunning, fmt.Sprintf("%s complete (%d chars)", v.Name, len(o.Value)))
	case o.Kind != KindCancelled:
		e.log.Warn("Viewpoint evaluation failed", "viewpoint", v.ID, "kind", o.Kind.String(), "error", o.Err)
		rep.Report(StageEvaluation, realtime.StatusRunning, fmt.Sprintf("ERROR: %s failed: %v", v.Name, o.Err))
	}
	return ViewpointResult{Viewpoint: v, Text: o.Value, Available: o.OK(), Kind: o.Kind, Err: o.Err, Latency: o.Latency}
}
