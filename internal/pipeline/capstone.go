package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/yungbote/arfor-backend/internal/realtime"
)

const FallbackNotice = "*Auto-generated fallback: capstone generation failed.*"

var (
	sectionZeroStart  = regexp.MustCompile(`(?m)^## Section 0:`)
	closingSectionsAt = regexp.MustCompile(`(?m)^## Section 1[23]:`)
	sectionTwelveAt   = regexp.MustCompile(`(?m)^## Section 12:`)
)

type Capstone struct {
	Text     string
	Fallback bool
}

// WriteCapstone writes the lead, verdict and open-questions sections. On
// final failure it substitutes a minimal summary cut from the brief.
func (e *Executor) WriteCapstone(ctx context.Context, subj Subject, brief, prior string, rep Reporter) (Capstone, error) {
	cc := e.cfg.Capstone
	rep.Report(StageDeepDive, realtime.StatusRunning, "Phase 3/3: Writing executive summary and verdict...")

	instructions, input := e.prompts.Capstone(subj.Display(), brief, prior, cc.Sections)
	o := Call(ctx, e.invoker, CallSpec{
		Unit:            "capstone",
		Model:           cc.Model,
		Instructions:    instructions,
		Input:           input,
		MaxOutputTokens: cc.MaxTokens,
		Timeout:         cc.Timeout,
	}, e.retry(func(attempt int, err error) {
		rep.Report(StageDeepDive, realtime.StatusRunning, fmt.Sprintf("Capstone attempt %d failed: %v. Retrying...", attempt, err))
	}))
	e.observe("capstone", "capstone", o.Kind)
	if o.OK() {
		rep.Report(StageDeepDive, realtime.StatusRunning, fmt.Sprintf("Capstone complete (%d chars)", len(o.Value)))
		return Capstone{Text: o.Value}, nil
	}
	if err := ctx.Err(); err != nil {
		return Capstone{}, err
	}
	e.log.Warn("Capstone failed, using fallback", "kind", o.Kind.String(), "error", o.Err)
	rep.Report(StageDeepDive, realtime.StatusRunning, fmt.Sprintf("WARNING: Capstone failed: %v. Using minimal fallback.", o.Err))
	return Capstone{Text: CapstoneFallback(brief, cc.FallbackChars), Fallback: true}, nil
}

func CapstoneFallback(brief string, limit int) string {
	return fmt.Sprintf("## Section 0: Executive Summary\n\n%s\n\n%s\n", FallbackNotice, truncateRunes(brief, limit))
}

// ComposeDeepDive orders the report as Section 0, the written sections,
// then Sections 12-13, separated by horizontal rules.
func ComposeDeepDive(capstone, sections string) string {
	lead, closing := splitCapstone(capstone)
	parts := make([]string, 0, 3)
	for _, p := range []string{lead, sections, closing} {
		if p = strings.TrimRight(p, " \n\t"); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func splitCapstone(text string) (lead, closing string) {
	if loc := sectionZeroStart.FindStringIndex(text); loc != nil {
		rest := text[loc[0]:]
		if end := closingSectionsAt.FindStringIndex(rest); end != nil {
			lead = rest[:end[0]]
		} else {
			lead = rest
		}
	}
	if loc := sectionTwelveAt.FindStringIndex(text); loc != nil {
		closing = text[loc[0]:]
	}
	return lead, closing
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
