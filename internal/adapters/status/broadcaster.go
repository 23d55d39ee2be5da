package status

import (
	"sync"

	"github.com/mikey/workauth-assistant/internal/core"
	"go.uber.org/zap"
)

// DefaultBuffer is the per-subscriber queue length
const DefaultBuffer = 64

// Subscription is one observer of the status stream. Lines arrives closed
// when the subscriber is dropped or the broadcaster is closed.
type Subscription struct {
	id    uint64
	Lines <-chan string
	ch    chan string
}

// Broadcaster fans status lines out to every live subscriber without
// ever blocking the sender
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
	logger *zap.Logger
}

// NewBroadcaster creates a broadcaster. A buffer below one uses DefaultBuffer.
func NewBroadcaster(buffer int, logger *zap.Logger) *Broadcaster {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new observer
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan string, b.buffer)
	sub := &Subscription{id: b.nextID, Lines: ch, ch: ch}
	b.nextID++
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.id] = sub
	b.logger.Debug("Status subscriber added", zap.Uint64("subscriber", sub.id), zap.Int("subscribers", len(b.subs)))
	return sub
}

// Unsubscribe removes an observer and closes its channel. It is safe to
// call more than once.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub.id)
}

// Broadcast queues line for every subscriber. Subscribers that cannot keep
// up are dropped.
func (b *Broadcaster) Broadcast(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Debug("Broadcasting status line", zap.String("line", line), zap.Int("subscribers", len(b.subs)))
	for id, sub := range b.subs {
		select {
		case sub.ch <- line:
		default:
			b.logger.Warn("Status subscriber is not keeping up, dropping it", zap.Uint64("subscriber", id))
			b.removeLocked(id)
		}
	}
}

// Count returns the number of live subscribers
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops every subscriber. Later subscriptions are closed immediately.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id := range b.subs {
		b.removeLocked(id)
	}
}

func (b *Broadcaster) removeLocked(id uint64) {
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
}

var _ core.StatusSink = (*Broadcaster)(nil)
