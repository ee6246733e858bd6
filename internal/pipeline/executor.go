package pipeline

import (
	"sort"

	"github.com/yungbote/arfor-backend/internal/config"
	"github.com/yungbote/arfor-backend/internal/observability"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

// Executor runs the individual pipeline phases. It holds no per-run state
// and is safe to share across sessions.
type Executor struct {
	log     *logger.Logger
	invoker Invoker
	prompts Prompts
	cfg     config.PipelineConfig
}

func NewExecutor(log *logger.Logger, invoker Invoker, prompts Prompts, cfg config.PipelineConfig) *Executor {
	if prompts == nil {
		prompts = NewDefaultPrompts()
	}
	return &Executor{
		log:     log.With("service", "PipelineExecutor"),
		invoker: invoker,
		prompts: prompts,
		cfg:     cfg,
	}
}

func (e *Executor) Config() config.PipelineConfig { return e.cfg }

func (e *Executor) Prompts() Prompts { return e.prompts }

func (e *Executor) retry(onRetry func(attempt int, err error)) RetryPolicy {
	return RetryPolicy{MaxRetries: e.cfg.MaxRetries, Delay: e.cfg.RetryDelay, OnRetry: onRetry}
}

func (e *Executor) observe(phase, unit string, k Kind) {
	observability.Current().ObserveCallOutcome(phase, unit, k.String())
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
