package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/yungbote/arfor-backend/internal/platform/httpx"
)

var ErrEmptyOutput = errors.New("model returned empty output")

// CallSpec describes one generative call. Unit names the producer (lane,
// group or viewpoint id) for logs and metrics.
type CallSpec struct {
	Unit            string
	Model           string
	Instructions    string
	Input           string
	MaxOutputTokens int
	Timeout         time.Duration
	Tool            string
}

type Invoker interface {
	Invoke(ctx context.Context, spec CallSpec) (string, error)
}

type InvokerFunc func(ctx context.Context, spec CallSpec) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, spec CallSpec) (string, error) {
	return f(ctx, spec)
}

type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	// OnRetry is called before each retry with the failed attempt number.
	OnRetry func(attempt int, err error)
}

// Call issues spec with its own timeout and retries on error, timeout or
// empty output. It never retries once ctx itself is done.
func Call(ctx context.Context, inv Invoker, spec CallSpec, retry RetryPolicy) Outcome[string] {
	start := time.Now()
	var last error
	for attempt := 0; attempt <= retry.MaxRetries; attempt++ {
		if attempt > 0 {
			if retry.OnRetry != nil {
				retry.OnRetry(attempt, last)
			}
			if err := httpx.Sleep(ctx, retry.Delay); err != nil {
				return Outcome[string]{Kind: Classify(err), Err: err, Latency: time.Since(start)}
			}
		}
		text, err := invokeOnce(ctx, inv, spec)
		if err == nil && strings.TrimSpace(text) == "" {
			err = ErrEmptyOutput
		}
		if err == nil {
			return Outcome[string]{Kind: KindOk, Value: text, Latency: time.Since(start)}
		}
		if cerr := ctx.Err(); cerr != nil {
			return Outcome[string]{Kind: Classify(cerr), Err: cerr, Latency: time.Since(start)}
		}
		last = err
	}
	return Outcome[string]{Kind: Classify(last), Err: last, Latency: time.Since(start)}
}

func invokeOnce(ctx context.Context, inv Invoker, spec CallSpec) (string, error) {
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}
	text, err := inv.Invoke(ctx, spec)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		// Some transports hide the deadline behind their own error type.
		return "", errors.Join(err, ctx.Err())
	}
	return text, err
}
