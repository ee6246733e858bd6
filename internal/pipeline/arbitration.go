package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/arfor-backend/internal/observability"
	"github.com/yungbote/arfor-backend/internal/realtime"
)

type Arbitration struct {
	Text string
	// Attempted is false when too few viewpoints were available to call.
	Attempted bool
	Kind      Kind
	Err       error
}

func (a Arbitration) Available() bool { return a.Attempted && a.Kind == KindOk }

// Arbitrate reconciles the available viewpoints against the executive
// summary. With fewer than the configured minimum it makes no call.
func (e *Executor) Arbitrate(ctx context.Context, summary string, views []ViewpointResult, rep Reporter) (Arbitration, error) {
	ac := e.cfg.Arbitration
	if AvailableCount(views) < ac.MinViewpoints {
		rep.Report(StageArbitration, realtime.StatusRunning, fmt.Sprintf("Skipping synthesis: fewer than %d personas available", ac.MinViewpoints))
		observability.Current().ObserveCallOutcome("arbitration", "arbitration", "skipped")
		return Arbitration{}, nil
	}
	rep.Report(StageArbitration, realtime.StatusRunning, "Starting synthesis...")

	o := Call(ctx, e.invoker, CallSpec{
		Unit:            "arbitration",
		Model:           ac.Model,
		Instructions:    e.prompts.Arbitration(),
		Input:           ArbitrationInput(summary, views),
		MaxOutputTokens: ac.MaxTokens,
		Timeout:         ac.Timeout,
	}, e.retry(func(attempt int, err error) {
		rep.Report(StageArbitration, realtime.StatusRunning, fmt.Sprintf("Attempt %d failed: %v. Retrying...", attempt, err))
	}))
	e.observe("arbitration", "arbitration", o.Kind)
	if err := ctx.Err(); err != nil {
		return Arbitration{}, err
	}
	if !o.OK() {
		e.log.Warn("Arbitration failed", "kind", o.Kind.String(), "error", o.Err)
		rep.Report(StageArbitration, realtime.StatusRunning, fmt.Sprintf("ERROR: Synthesis failed: %v", o.Err))
	} else {
		rep.Report(StageArbitration, realtime.StatusRunning, fmt.Sprintf("Synthesis complete (%d chars)", len(o.Value)))
	}
	return Arbitration{Text: o.Value, Attempted: true, Kind: o.Kind, Err: o.Err}, nil
}

func ArbitrationInput(summary string, views []ViewpointResult) string {
	var b strings.Builder
	b.WriteString("# Executive Summary (from deep dive report)\n\n")
	b.WriteString(summary)
	b.WriteString("\n\n---\n\n# Persona Evaluations\n")
	for _, v := range views {
		if !v.Available {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n%s\n\n---\n", v.Viewpoint.Name, v.Text)
	}
	return b.String()
}
