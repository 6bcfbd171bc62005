package scope

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// InvalidationMessage is published to trigger scope cache invalidation for a group across all proxy instances.
type InvalidationMessage struct {
	GroupID string `json:"group_id"`
}

// Publisher sends scope invalidation messages via Valkey pub/sub.
type Publisher struct {
	client *redis.Client
}

// NewPublisher creates a new invalidation publisher.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Invalidate publishes an invalidation for a group's cached scope.
func (p *Publisher) Invalidate(ctx context.Context, groupID string) error {
	data, err := json.Marshal(InvalidationMessage{GroupID: groupID})
	if err != nil {
		return fmt.Errorf("marshal scope invalidation: %w", err)
	}
	return p.client.Publish(ctx, InvalidateChannel, data).Err()
}

// Subscriber listens for scope invalidation messages and removes the corresponding cache entries. This lets a
// group's scope be evicted on every proxy instance, not just the one that triggered the refresh.
type Subscriber struct {
	Cache  Cache
	client *redis.Client
}

// NewSubscriber creates a new invalidation subscriber.
func NewSubscriber(cache Cache, client *redis.Client) *Subscriber {
	return &Subscriber{Cache: cache, client: client}
}

// Run subscribes to the invalidation channel and processes messages until the context is cancelled. This method
// blocks and should be called in a goroutine.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, InvalidateChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handleMessage(ctx, msg.Payload)
		}
	}
}

func (s *Subscriber) handleMessage(ctx context.Context, payload string) {
	var msg InvalidationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		log.Warn().Err(err).Str("payload", payload).Msg("Invalid scope invalidation message")
		return
	}
	if msg.GroupID == "" {
		return
	}
	if err := s.Cache.Remove(ctx, msg.GroupID); err != nil {
		log.Warn().Err(err).Str("group_id", msg.GroupID).Msg("Scope cache invalidation failed")
	}
}
