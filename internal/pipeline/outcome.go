package pipeline

import (
	"context"
	"errors"
	"time"
)

// Kind is how a stage call ended.
type Kind int

const (
	KindOk Kind = iota
	KindTimedOut
	KindCancelled
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindOk:
		return "ok"
	case KindTimedOut:
		return "timed_out"
	case KindCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Outcome carries a stage result as data so callers branch on Kind rather
// than on error identity.
type Outcome[T any] struct {
	Kind    Kind
	Value   T
	Err     error
	Latency time.Duration
}

func (o Outcome[T]) OK() bool { return o.Kind == KindOk }

func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Kind: KindOk, Value: v}
}

// Failed builds a non-ok outcome, classifying err.
func Failed[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: Classify(err), Err: err}
}

// Classify maps an error onto an outcome kind. nil is KindOk.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindOk
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimedOut
	default:
		return KindFailed
	}
}
