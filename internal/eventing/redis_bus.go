package eventing

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"hydroponics-cloud/internal/observability/metrics"
)

// RedisBus fans events out through a redis pub/sub channel so every instance sees every change.
// Local handlers are registered on an in-memory bus and fed by Run.
type RedisBus struct {
	client   *redis.Client
	channel  string
	registry *Registry
	local    *InMemoryBus
	source   string
	logger   *zap.Logger
}

// NewRedisBus constructs a redis-backed bus.
func NewRedisBus(client *redis.Client, channel string, registry *Registry, logger *zap.Logger) (*RedisBus, error) {
	if client == nil {
		return nil, errors.New("redis bus: nil client")
	}
	if channel == "" {
		return nil, errors.New("redis bus: empty channel")
	}
	if registry == nil {
		return nil, errors.New("redis bus: nil registry")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{
		client:   client,
		channel:  channel,
		registry: registry,
		local:    NewInMemoryBus(),
		source:   NewEventID(),
		logger:   logger,
	}, nil
}

// Publish writes the event envelope to the redis channel.
func (b *RedisBus) Publish(ctx context.Context, event any) error {
	env, err := BuildEnvelope(event, Meta{Source: b.source})
	if err != nil {
		metrics.IncBusPublish(metrics.ResultError)
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		metrics.IncBusPublish(metrics.ResultError)
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		metrics.IncBusPublish(metrics.ResultError)
		return err
	}
	return nil
}

// Subscribe registers a local handler.
func (b *RedisBus) Subscribe(eventType string, handler EventHandler) Unsubscribe {
	return b.local.Subscribe(eventType, handler)
}

// Run receives channel messages until ctx is cancelled.
func (b *RedisBus) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	b.logger.Info("redis bus subscribed", zap.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := b.deliver(ctx, msg.Payload); err != nil {
				b.logger.Warn("redis bus delivery failed", zap.Error(err))
			}
		}
	}
}

func (b *RedisBus) deliver(ctx context.Context, payload string) error {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return err
	}
	event, err := b.registry.DecodePayload(env)
	if err != nil {
		return err
	}
	return b.local.Publish(WithEnvelope(ctx, env), event)
}
