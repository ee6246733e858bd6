package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/arfor-backend/internal/config"
	"github.com/yungbote/arfor-backend/internal/realtime"
)

type GroupResult struct {
	Group   config.SectionGroup
	Text    string
	Kind    Kind
	Err     error
	Latency time.Duration
}

type SectionsResult struct {
	Groups []GroupResult
	// Text joins the successful groups in configured order.
	Text string
}

func (r SectionsResult) Missing() []config.SectionGroup {
	var out []config.SectionGroup
	for _, g := range r.Groups {
		if g.Kind != KindOk {
			out = append(out, g.Group)
		}
	}
	return out
}

// WriteSections writes every group concurrently from the brief. A failed
// group is dropped; only a done ctx is an error.
func (e *Executor) WriteSections(ctx context.Context, subj Subject, brief string, rep Reporter) (SectionsResult, error) {
	sc := e.cfg.Sections
	company := subj.Display()
	rep.Report(StageDeepDive, realtime.StatusRunning, fmt.Sprintf("Phase 2/3: Writing sections in parallel (%d groups)...", len(sc.Groups)))

	results := make([]GroupResult, len(sc.Groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, group := range sc.Groups {
		g.Go(func() error {
			results[i] = e.runGroup(gctx, group, company, brief, rep)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return SectionsResult{}, err
	}

	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Kind == KindOk && strings.TrimSpace(r.Text) != "" {
			parts = append(parts, r.Text)
		}
	}
	return SectionsResult{Groups: results, Text: strings.Join(parts, "\n\n")}, nil
}

func (e *Executor) runGroup(ctx context.Context, group config.SectionGroup, company, brief string, rep Reporter) GroupResult {
	sc := e.cfg.Sections
	instructions, input := e.prompts.SectionGroup(company, brief, group)
	o := Call(ctx, e.invoker, CallSpec{
		Unit:            group.ID,
		Model:           sc.Model,
		Instructions:    instructions,
		Input:           input,
		MaxOutputTokens: sc.MaxTokens,
		Timeout:         sc.Timeout,
	}, e.retry(func(attempt int, err error) {
		rep.Report(StageDeepDive, realtime.StatusRunning, fmt.Sprintf("Group %s (%s) attempt %d failed: %v. Retrying...", group.ID, group.Label, attempt, err))
	}))
	e.observe("section_write", group.ID, o.Kind)
	switch {
	case o.OK():
		rep.Report(StageDeepDive, realtime.StatusRunning, fmt.Sprintf("Phase 2/3: Group %s complete (Sections %s)", group.ID, sectionRange(group.Sections)))
	case o.Kind != KindCancelled:
		e.log.Warn("Section group failed", "group", group.ID, "kind", o.Kind.String(), "error", o.Err)
		rep.Report(StageDeepDive, realtime.StatusRunning, fmt.Sprintf("WARNING: Group %s (%s) failed: %v", group.ID, group.Label, o.Err))
	}
	return GroupResult{Group: group, Text: o.Value, Kind: o.Kind, Err: o.Err, Latency: o.Latency}
}

func sectionRange(sections []int) string {
	if len(sections) == 0 {
		return ""
	}
	lo, hi := sections[0], sections[0]
	for _, s := range sections[1:] {
		lo, hi = min(lo, s), max(hi, s)
	}
	if lo == hi {
		return fmt.Sprint(lo)
	}
	return fmt.Sprintf("%d-%d", lo, hi)
}
