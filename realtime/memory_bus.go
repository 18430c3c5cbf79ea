package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 64

// MemoryBus is an in-process Bus. It is the default for single-process
// deployments and for tests.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Message]struct{}
	closed      bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscribers: make(map[string]map[chan Message]struct{}),
	}
}

// Publish delivers msg to every current subscriber of group. Subscribers
// whose buffers are full are skipped so one stalled client cannot hold
// back the rest of the group.
func (b *MemoryBus) Publish(_ context.Context, group string, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	for sub := range b.subscribers[group] {
		select {
		case sub <- msg:
		default:
			log.Warn().Str("group", group).Str("type", msg.Type).Msg("subscriber buffer full, dropping message")
		}
	}
	return nil
}

// Subscribe registers a new subscriber for group. The returned channel is
// closed and removed when ctx is canceled or the bus closes.
func (b *MemoryBus) Subscribe(ctx context.Context, group string) (<-chan Message, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	if b.subscribers[group] == nil {
		b.subscribers[group] = make(map[chan Message]struct{})
	}
	ch := make(chan Message, subscriberBuffer)
	b.subscribers[group][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.removeSubscriber(group, ch)
	}()

	return ch, nil
}

func (b *MemoryBus) removeSubscriber(group string, ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[group]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, group)
	}
}

// Close shuts the bus down and closes every subscriber channel.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for group, subs := range b.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(b.subscribers, group)
	}
	return nil
}
