package realtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	DefaultHistoryCap  = 500
	DefaultHistoryKeep = 400
)

// ErrClosed is returned by Read once the channel has ended and the reader
// has drained everything queued for it. Append returns it after Close.
var ErrClosed = errors.New("event channel closed")

// Channel is the per-session event log. Producers never block: every live
// reader owns an unbounded queue, and history is only used to seed new
// readers.
type Channel struct {
	mu          sync.Mutex
	history     []Event
	readers     map[*Reader]struct{}
	closed      bool
	lastElapsed float64
	started     time.Time
	historyCap  int
	historyKeep int
	now         func() time.Time
}

func NewChannel(historyCap, historyKeep int) *Channel {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	if historyKeep <= 0 || historyKeep > historyCap {
		historyKeep = DefaultHistoryKeep
		if historyKeep > historyCap {
			historyKeep = historyCap
		}
	}
	c := &Channel{
		readers:     make(map[*Reader]struct{}),
		historyCap:  historyCap,
		historyKeep: historyKeep,
		now:         time.Now,
	}
	c.started = c.now()
	return c
}

// Append stamps the event, records it and hands it to every live reader.
func (c *Channel) Append(e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	now := c.now()
	if e.Elapsed == 0 {
		e.Elapsed = now.Sub(c.started).Seconds()
	}
	if e.Elapsed < c.lastElapsed {
		e.Elapsed = c.lastElapsed
	}
	c.lastElapsed = e.Elapsed
	if e.Timestamp == 0 {
		e.Timestamp = unixSeconds(now)
	}

	c.history = append(c.history, e)
	if len(c.history) > c.historyCap {
		kept := make([]Event, c.historyKeep)
		copy(kept, c.history[len(c.history)-c.historyKeep:])
		c.history = kept
	}

	for r := range c.readers {
		r.push(e)
	}
	return nil
}

// Subscribe returns a reader whose queue starts with the current history and
// continues with every later Append, in emission order.
func (c *Channel) Subscribe() *Reader {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := &Reader{
		ch:     c,
		queue:  append([]Event(nil), c.history...),
		notify: make(chan struct{}, 1),
	}
	if c.closed {
		r.ended = true
		return r
	}
	c.readers[r] = struct{}{}
	return r
}

// Close ends the stream. Readers still drain what was queued before.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for r := range c.readers {
		r.end()
	}
	c.readers = make(map[*Reader]struct{})
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) History() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.history...)
}

func (c *Channel) Readers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.readers)
}

func (c *Channel) detach(r *Reader) {
	c.mu.Lock()
	delete(c.readers, r)
	c.mu.Unlock()
}

type Reader struct {
	ch     *Channel
	mu     sync.Mutex
	queue  []Event
	ended  bool
	notify chan struct{}
}

func (r *Reader) push(e Event) {
	r.mu.Lock()
	r.queue = append(r.queue, e)
	r.mu.Unlock()
	r.signal()
}

func (r *Reader) end() {
	r.mu.Lock()
	r.ended = true
	r.mu.Unlock()
	r.signal()
}

func (r *Reader) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Read returns the next event. When nothing arrives within timeout a
// keepalive event is returned instead; a non-positive timeout waits
// indefinitely.
func (r *Reader) Read(ctx context.Context, timeout time.Duration) (Event, error) {
	var timer *time.Timer
	var expired <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			e := r.queue[0]
			r.queue[0] = Event{}
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return e, nil
		}
		ended := r.ended
		r.mu.Unlock()
		if ended {
			return Event{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-r.notify:
		case <-expired:
			return KeepaliveEvent(), nil
		}
	}
}

// Pending reports how many events are queued and unread.
func (r *Reader) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Reader) Close() {
	r.ch.detach(r)
	r.mu.Lock()
	r.ended = true
	r.queue = nil
	r.mu.Unlock()
	r.signal()
}
