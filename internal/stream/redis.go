package stream

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"famlocator.app/internal/ids"
	"famlocator.app/internal/obs"
)

// DefaultChannel is the Redis pub/sub channel shared by all API instances.
const DefaultChannel = "famlocator:chat-events"

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisBridge publishes events to the local hub and to Redis, and relays
// events published by other instances into the local hub.
type RedisBridge struct {
	hub     *Hub
	client  redis.UniversalClient
	channel string
	origin  string
}

// NewRedisBridge wires hub to client on DefaultChannel.
func NewRedisBridge(hub *Hub, client redis.UniversalClient) *RedisBridge {
	return &RedisBridge{hub: hub, client: client, channel: DefaultChannel, origin: ids.New()}
}

// Publish delivers locally first; a Redis failure is logged and does not
// affect local subscribers.
func (b *RedisBridge) Publish(ctx context.Context, evt Event) {
	b.hub.Publish(ctx, evt)

	payload, err := json.Marshal(envelope{Origin: b.origin, Event: evt})
	if err != nil {
		obs.Logger().Error("stream: encode event", zap.Error(err))
		return
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		obs.Logger().Warn("stream: redis publish failed", zap.String("chat_id", evt.ChatID), zap.Error(err))
	}
}

// Run relays remote events until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("stream: redis subscription closed")
			}
			b.relay(ctx, msg.Payload)
		}
	}
}

func (b *RedisBridge) relay(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		obs.Logger().Warn("stream: drop malformed event", zap.Error(err))
		return
	}
	if env.Origin == b.origin {
		return
	}
	b.hub.Publish(ctx, env.Event)
}
