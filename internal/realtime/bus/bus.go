package bus

import (
	"context"
	"sync"
)

type Kind string

const KindCancel Kind = "cancel"

// ControlMessage asks whichever process owns SessionID to act on it.
type ControlMessage struct {
	Kind      Kind   `json:"kind"`
	SessionID string `json:"session_id"`
	Origin    string `json:"origin,omitempty"`
}

type Bus interface {
	Publish(ctx context.Context, msg ControlMessage) error
	StartForwarder(ctx context.Context, onMsg func(m ControlMessage)) error
	Close() error
}

// memoryBus delivers to forwarders in the same process. Used when Redis is
// not configured and in tests.
type memoryBus struct {
	mu   sync.RWMutex
	subs []func(ControlMessage)
}

func NewMemoryBus() Bus {
	return &memoryBus{}
}

func (b *memoryBus) Publish(ctx context.Context, msg ControlMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	subs := make([]func(ControlMessage), len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(msg)
	}
	return nil
}

func (b *memoryBus) StartForwarder(ctx context.Context, onMsg func(m ControlMessage)) error {
	if onMsg == nil {
		return errOnMsgRequired
	}
	b.mu.Lock()
	b.subs = append(b.subs, onMsg)
	b.mu.Unlock()
	return nil
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	b.subs = nil
	b.mu.Unlock()
	return nil
}
