package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/arfor-backend/internal/observability"
	"github.com/yungbote/arfor-backend/internal/pipeline"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
	"github.com/yungbote/arfor-backend/internal/realtime"
)

const (
	PhaseIntake       = "intake"
	PhaseResearch     = "research"
	PhaseSectionWrite = "section_write"
	PhaseCapstone     = "capstone"
	PhaseEvaluation   = "evaluation"
	PhaseArbitration  = "arbitration"
	PhaseAssembly     = "assembly"
)

// Request names what to analyze. A pre-resolved Subject skips intake
// resolution; Input is still what the user typed.
type Request struct {
	Input   string
	Subject *pipeline.Subject
}

type Orchestrator struct {
	log      *logger.Logger
	exec     *pipeline.Executor
	resolver pipeline.TickerResolver
	now      func() time.Time
}

func New(log *logger.Logger, exec *pipeline.Executor, resolver pipeline.TickerResolver) *Orchestrator {
	if resolver == nil {
		resolver = pipeline.NewStaticResolver()
	}
	return &Orchestrator{
		log:      log.With("service", "Orchestrator"),
		exec:     exec,
		resolver: resolver,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// run carries per-run state between phases.
type run struct {
	subject  pipeline.Subject
	research pipeline.ResearchResult
	sections pipeline.SectionsResult
	capstone pipeline.Capstone
	deepDive string
	views    []pipeline.ViewpointResult
	arb      pipeline.Arbitration
	notices  []string
	report   Report
}

// Run drives one analysis through every phase under the global deadline.
// The returned outcome is TimedOut only when that deadline fired, and
// Cancelled when the caller's ctx was cancelled.
func (o *Orchestrator) Run(parent context.Context, req Request, rep pipeline.Reporter) (out pipeline.Outcome[Report]) {
	if rep == nil {
		rep = pipeline.NopReporter
	}
	start := time.Now()
	cfg := o.exec.Config()

	ctx, cancel := context.WithTimeout(parent, cfg.GlobalTimeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "orchestrator.run", attribute.String("input", req.Input))
	stage := pipeline.StageIntake

	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Pipeline panicked", "panic", r, "stack", string(debug.Stack()))
			out = pipeline.Failed[Report](fmt.Errorf("internal error: %v", r))
		}
		if out.Kind == pipeline.KindFailed && out.Err != nil {
			rep.Report(stage, realtime.StatusError, out.Err.Error())
		}
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Kind.String())
		}
		span.End()
		out.Latency = time.Since(start)
	}()

	st := &run{}
	steps := []struct {
		phase string
		stage string
		fn    func(context.Context, *run, pipeline.Reporter) error
	}{
		{PhaseIntake, pipeline.StageIntake, func(ctx context.Context, st *run, rep pipeline.Reporter) error {
			return o.intake(ctx, req, st, rep)
		}},
		{PhaseResearch, pipeline.StageDeepDive, o.research},
		{PhaseSectionWrite, pipeline.StageDeepDive, o.writeSections},
		{PhaseCapstone, pipeline.StageDeepDive, o.writeCapstone},
		{PhaseEvaluation, pipeline.StageEvaluation, o.evaluate},
		{PhaseArbitration, pipeline.StageArbitration, o.arbitrate},
		{PhaseAssembly, pipeline.StageAssembly, o.assemble},
	}
	for _, s := range steps {
		stage = s.stage
		if err := o.phase(ctx, s.phase, func(pctx context.Context) error { return s.fn(pctx, st, rep) }); err != nil {
			return o.failure(parent, ctx, s.phase, err)
		}
	}
	span.SetAttributes(attribute.String("ticker", st.subject.Ticker), attribute.Int("notices", len(st.report.Notices)))
	return pipeline.Ok(st.report)
}

// phase checks for cancellation at the boundary, then runs fn in its own
// span and records its latency.
func (o *Orchestrator) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pctx, span := observability.StartSpan(ctx, "orchestrator."+name)
	defer span.End()
	start := time.Now()
	err := fn(pctx)
	observability.Current().ObservePhase(name, pipeline.Classify(err).String(), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (o *Orchestrator) failure(parent, ctx context.Context, phase string, err error) pipeline.Outcome[Report] {
	switch {
	case parent.Err() != nil:
		o.log.Info("Pipeline cancelled", "phase", phase)
		return pipeline.Outcome[Report]{Kind: pipeline.KindCancelled, Err: parent.Err()}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		o.log.Warn("Pipeline hit global deadline", "phase", phase)
		return pipeline.Outcome[Report]{Kind: pipeline.KindTimedOut, Err: fmt.Errorf("%s: %w", phase, context.DeadlineExceeded)}
	default:
		o.log.Warn("Pipeline failed", "phase", phase, "error", err)
		// A phase-local deadline is a failure of that phase, not of the run.
		return pipeline.Outcome[Report]{Kind: pipeline.KindFailed, Err: err}
	}
}

func (o *Orchestrator) intake(ctx context.Context, req Request, st *run, rep pipeline.Reporter) error {
	rep.Report(pipeline.StageIntake, realtime.StatusRunning, "Validating input...")
	if req.Subject != nil {
		st.subject = *req.Subject
	} else {
		subj, err := pipeline.Intake(ctx, req.Input, o.resolver)
		if err != nil {
			return err
		}
		st.subject = subj
	}
	rep.Report(pipeline.StageIntake, realtime.StatusComplete, fmt.Sprintf("Resolved: %s", st.subject.Display()))
	return nil
}

func (o *Orchestrator) research(ctx context.Context, st *run, rep pipeline.Reporter) error {
	rep.Report(pipeline.StageDeepDive, realtime.StatusRunning, fmt.Sprintf("Starting deep dive for %s...", st.subject.Display()))
	res, err := o.exec.Research(ctx, st.subject, rep)
	if err != nil {
		return err
	}
	st.research = res
	if failed := len(res.Lanes) - res.Succeeded; failed > 0 {
		st.notices = append(st.notices, fmt.Sprintf("Research: %d of %d lanes failed", failed, len(res.Lanes)))
	}
	if !res.Merged {
		st.notices = append(st.notices, "Research merge failed: brief is the unmerged lane output")
	}
	return nil
}

func (o *Orchestrator) writeSections(ctx context.Context, st *run, rep pipeline.Reporter) error {
	res, err := o.exec.WriteSections(ctx, st.subject, st.research.Brief, rep)
	if err != nil {
		return err
	}
	st.sections = res
	for _, g := range res.Missing() {
		st.notices = append(st.notices, fmt.Sprintf("Section group %s (%s) failed and was omitted", g.ID, g.Label))
	}
	return nil
}

func (o *Orchestrator) writeCapstone(ctx context.Context, st *run, rep pipeline.Reporter) error {
	cs, err := o.exec.WriteCapstone(ctx, st.subject, st.research.Brief, st.sections.Text, rep)
	if err != nil {
		return err
	}
	st.capstone = cs
	if cs.Fallback {
		st.notices = append(st.notices, "Capstone generation failed: executive summary is a minimal fallback")
	}
	st.deepDive = pipeline.ComposeDeepDive(cs.Text, st.sections.Text)
	rep.Report(pipeline.StageDeepDive, realtime.StatusComplete, fmt.Sprintf("Deep dive complete (%d chars)", len(st.deepDive)))
	return nil
}

func (o *Orchestrator) evaluate(ctx context.Context, st *run, rep pipeline.Reporter) error {
	views, err := o.exec.Evaluate(ctx, st.deepDive, rep)
	if err != nil {
		return err
	}
	st.views = views
	rep.Report(pipeline.StageEvaluation, realtime.StatusComplete,
		fmt.Sprintf("%d/%d personas complete", pipeline.AvailableCount(views), len(views)))
	return nil
}

func (o *Orchestrator) arbitrate(ctx context.Context, st *run, rep pipeline.Reporter) error {
	arb, err := o.exec.Arbitrate(ctx, ExecutiveSummary(st.deepDive), st.views, rep)
	if err != nil {
		return err
	}
	st.arb = arb
	switch {
	case !arb.Attempted:
		rep.Report(pipeline.StageArbitration, realtime.StatusComplete, "Synthesis skipped")
	case arb.Available():
		rep.Report(pipeline.StageArbitration, realtime.StatusComplete, "Synthesis complete")
	default:
		rep.Report(pipeline.StageArbitration, realtime.StatusError, fmt.Sprintf("Synthesis failed: %v", arb.Err))
	}
	return nil
}

func (o *Orchestrator) assemble(ctx context.Context, st *run, rep pipeline.Reporter) error {
	rep.Report(pipeline.StageAssembly, realtime.StatusRunning, "Assembling final report...")
	cfg := o.exec.Config()
	st.report = assemble(assemblyInput{
		Subject:     st.subject,
		DeepDive:    st.deepDive,
		Viewpoints:  st.views,
		Arbitration: st.arb,
		Models: Models{
			Research:    cfg.Research.Model,
			Sections:    cfg.Sections.Model,
			Capstone:    cfg.Capstone.Model,
			Evaluation:  cfg.Evaluation.Model,
			Arbitration: cfg.Arbitration.Model,
		},
		TemplateHash: o.exec.Prompts().TemplateHash(),
		GeneratedAt:  o.now(),
		Upstream:     st.notices,
	})
	rep.Report(pipeline.StageAssembly, realtime.StatusComplete, fmt.Sprintf("Report ready (%d chars)", len(st.report.Markdown)))
	return ctx.Err()
}
