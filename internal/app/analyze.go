package app

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/yungbote/arfor-backend/internal/config"
	"github.com/yungbote/arfor-backend/internal/ledger"
	"github.com/yungbote/arfor-backend/internal/orchestrator"
	"github.com/yungbote/arfor-backend/internal/pipeline"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
	"github.com/yungbote/arfor-backend/internal/realtime"
)

// LocalRun is one analysis executed in process without HTTP or a database.
type LocalRun struct {
	Log      *logger.Logger
	Pipeline config.PipelineConfig
	Billing  config.BillingConfig
	Invoker  pipeline.Invoker
	Prompts  pipeline.Prompts
	// Progress receives one line per stage update; nil discards them.
	Progress io.Writer
}

// Analyze debits a throwaway local account, runs the pipeline and refunds
// the credit unless the run completed, the same accounting the server does.
func (lr LocalRun) Analyze(ctx context.Context, ticker string) (orchestrator.Report, error) {
	t, err := pipeline.ValidateTicker(ticker)
	if err != nil {
		return orchestrator.Report{}, err
	}

	l := ledger.New(ledger.NewMemoryStore(), lr.Log, ledger.Options{
		FreeCredits:    lr.Billing.FreeCredits,
		RefillInterval: lr.Billing.RefillInterval,
	})
	user := uuid.New()
	runID := uuid.NewString()
	if _, err := l.Debit(ctx, user, runID); err != nil {
		return orchestrator.Report{}, fmt.Errorf("debit: %w", err)
	}

	prompts := lr.Prompts
	if prompts == nil {
		prompts = pipeline.NewDefaultPrompts()
	}
	exec := pipeline.NewExecutor(lr.Log, lr.Invoker, prompts, lr.Pipeline)
	orch := orchestrator.New(lr.Log, exec, nil)

	out := orch.Run(ctx, orchestrator.Request{Input: t}, lr.reporter())
	if out.OK() {
		return out.Value, nil
	}
	if _, _, rerr := l.Refund(context.WithoutCancel(ctx), user, runID); rerr != nil {
		lr.Log.Warn("Local refund failed", "run_id", runID, "error", rerr)
	}
	return orchestrator.Report{}, fmt.Errorf("analysis %s: %w", out.Kind, out.Err)
}

func (lr LocalRun) reporter() pipeline.Reporter {
	if lr.Progress == nil {
		return pipeline.NopReporter
	}
	w := lr.Progress
	return pipeline.ReporterFunc(func(stage string, status realtime.StageStatus, detail string) {
		if detail == "" {
			fmt.Fprintf(w, "[%s] %s\n", stage, status)
			return
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", stage, status, detail)
	})
}
