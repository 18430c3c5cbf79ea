package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBus implements Bus over Redis Pub/Sub so multiple API processes can
// share one set of dashboard groups. One Redis subscription is held per
// group and fanned out locally to all of that group's subscribers.
type RedisBus struct {
	client        *redis.Client
	subscriptions map[string]*redis.PubSub
	subscribers   map[string]map[chan Message]struct{}
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
}

func NewRedisBus(client *redis.Client) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBus{
		client:        client,
		subscriptions: make(map[string]*redis.PubSub),
		subscribers:   make(map[string]map[chan Message]struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (b *RedisBus) Publish(ctx context.Context, group string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := b.client.Publish(ctx, group, data).Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, group string) (<-chan Message, error) {
	b.mu.Lock()
	if _, exists := b.subscriptions[group]; !exists {
		pubsub := b.client.Subscribe(b.ctx, group)
		b.subscriptions[group] = pubsub
		go b.receiveMessages(group, pubsub)
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

// receiveMessages drains one group's Redis subscription and fans messages
// out to the local subscribers of that group.
func (b *RedisBus) receiveMessages(group string, pubsub *redis.PubSub) {
	defer b.cleanupGroup(group)

	ch := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				log.Warn().Err(err).Str("group", group).Msg("dropping undecodable bus message")
				continue
			}
			b.mu.RLock()
			for sub := range b.subscribers[group] {
				select {
				case sub <- msg:
				default:
					log.Warn().Str("group", group).Str("type", msg.Type).Msg("subscriber buffer full, dropping message")
				}
			}
			b.mu.RUnlock()
		}
	}
}

func (b *RedisBus) removeSubscriber(group string, ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, exists := b.subscribers[group]
	if !exists {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, group)
		if pubsub, ok := b.subscriptions[group]; ok {
			_ = pubsub.Close()
			delete(b.subscriptions, group)
		}
	}
}

func (b *RedisBus) cleanupGroup(group string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, exists := b.subscribers[group]; exists {
		for sub := range subs {
			close(sub)
		}
		delete(b.subscribers, group)
	}
	if pubsub, ok := b.subscriptions[group]; ok {
		if err := pubsub.Close(); err != nil {
			log.Warn().Err(err).Str("group", group).Msg("failed to close redis subscription")
		}
		delete(b.subscriptions, group)
	}
}

// Close tears down every subscription and subscriber channel.
func (b *RedisBus) Close() error {
	b.cancel()

	b.mu.RLock()
	groups := make([]string, 0, len(b.subscriptions))
	for group := range b.subscriptions {
		groups = append(groups, group)
	}
	b.mu.RUnlock()

	for _, group := range groups {
		b.cleanupGroup(group)
	}
	return nil
}
