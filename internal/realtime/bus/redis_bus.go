package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

var errOnMsgRequired = errors.New("onMsg callback required")

type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
	owned   bool
}

// NewRedisBus dials addr and verifies the connection.
func NewRedisBus(log *logger.Logger, addr, channel string) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	b := NewRedisBusFromClient(log, rdb, channel).(*redisBus)
	b.owned = true
	return b, nil
}

// NewRedisBusFromClient shares an existing client; Close leaves it open.
func NewRedisBusFromClient(log *logger.Logger, rdb *goredis.Client, channel string) Bus {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = "arfor:control"
	}
	return &redisBus{
		log:     log.With("service", "RedisControlBus"),
		rdb:     rdb,
		channel: channel,
	}
}

func (b *redisBus) Publish(ctx context.Context, msg ControlMessage) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis control bus not initialized")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m ControlMessage)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis control bus not initialized")
	}
	if onMsg == nil {
		return errOnMsgRequired
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var msg ControlMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.log.Warn("bad control payload", "error", err)
					continue
				}
				onMsg(msg)
			}
		}
	}()

	return nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil || !b.owned {
		return nil
	}
	return b.rdb.Close()
}
