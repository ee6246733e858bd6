package app

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/arfor-backend/internal/config"
	"github.com/yungbote/arfor-backend/internal/pipeline"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

func localPipeline() config.PipelineConfig {
	return config.PipelineConfig{
		GlobalTimeout: 5 * time.Second,
		RetryDelay:    time.Millisecond,
		Research: config.ResearchConfig{
			LaneTimeout: time.Second, MergeTimeout: time.Second, PhaseTimeout: 2 * time.Second, Quorum: 1,
			Lanes: []config.Lane{{ID: "R1", Label: "Only"}},
		},
		Sections:    config.SectionsConfig{Timeout: time.Second, Groups: []config.SectionGroup{{ID: "A", Sections: []int{1}}}},
		Capstone:    config.CapstoneConfig{Timeout: time.Second, Sections: []int{0, 12, 13}, FallbackChars: 100},
		Evaluation:  config.EvaluationConfig{Timeout: time.Second, Viewpoints: []config.Viewpoint{{ID: "eleanor", Name: "Eleanor"}}},
		Arbitration: config.ArbitrationConfig{Timeout: time.Second, MinViewpoints: 2},
	}
}

func TestLocalAnalyzeProducesReport(t *testing.T) {
	var progress bytes.Buffer
	lr := LocalRun{
		Log:      logger.Nop(),
		Pipeline: localPipeline(),
		Invoker: pipeline.InvokerFunc(func(ctx context.Context, spec pipeline.CallSpec) (string, error) {
			return "text for " + spec.Unit, nil
		}),
		Progress: &progress,
	}

	report, err := lr.Analyze(context.Background(), "msft")
	require.NoError(t, err)
	require.Equal(t, "MSFT", report.Ticker)
	require.NotEmpty(t, report.Markdown)
	require.Contains(t, progress.String(), "[Stage 1]")
}

func TestLocalAnalyzeRejectsBadTicker(t *testing.T) {
	lr := LocalRun{Log: logger.Nop(), Pipeline: localPipeline(), Invoker: NewInvoker(nil)}
	_, err := lr.Analyze(context.Background(), "not a ticker!")
	require.ErrorIs(t, err, pipeline.ErrInvalidInput)
}

func TestLocalAnalyzeWithoutModelFails(t *testing.T) {
	lr := LocalRun{Log: logger.Nop(), Pipeline: localPipeline(), Invoker: NewInvoker(nil)}
	_, err := lr.Analyze(context.Background(), "AAPL")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed")
}

func TestInvokerRequiresConfiguredClient(t *testing.T) {
	_, err := NewInvoker(nil).Invoke(context.Background(), pipeline.CallSpec{Unit: "R1"})
	require.True(t, errors.Is(err, errLLMNotConfigured))
}
