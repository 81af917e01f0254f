package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"go-realtime/internal/realtime"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deliverer is the part of the engine the bridge needs.
type Deliverer interface {
	Deliver(ctx context.Context, envelope realtime.Envelope, channelName string) (realtime.DeliveryReport, error)
}

// BridgeMessage is published on Redis by producers living outside this
// process. The message must already be persisted.
type BridgeMessage struct {
	Envelope    realtime.Envelope `json:"message"`
	ChannelName string            `json:"channelName" validate:"required"`
}

// DecodeBridgeMessage parses and validates one pub/sub payload.
func DecodeBridgeMessage(payload []byte) (BridgeMessage, error) {
	var msg BridgeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return BridgeMessage{}, fmt.Errorf("decode bridge message: %w", err)
	}
	if err := validate.Struct(msg); err != nil {
		return BridgeMessage{}, fmt.Errorf("invalid bridge message: %w", err)
	}
	return msg, nil
}

// Bridge feeds messages persisted by other producers into the engine.
type Bridge struct {
	redis     *redis.Client
	channel   string
	deliverer Deliverer
	log       *zap.Logger
}

func NewBridge(client *redis.Client, channel string, deliverer Deliverer, log *zap.Logger) *Bridge {
	return &Bridge{
		redis:     client,
		channel:   channel,
		deliverer: deliverer,
		log:       log.With(zap.String("component", "redis-bridge"), zap.String("channel", channel)),
	}
}

// Run subscribes and delivers until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.redis.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Wait for the subscription confirmation so failures surface here.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.log.Info("bridge subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (b *Bridge) handle(ctx context.Context, payload []byte) {
	msg, err := DecodeBridgeMessage(payload)
	if err != nil {
		b.log.Warn("bridge message dropped", zap.Error(err))
		return
	}
	report, err := b.deliverer.Deliver(ctx, msg.Envelope, msg.ChannelName)
	if err != nil {
		b.log.Warn("bridge delivery failed", zap.String("message_id", msg.Envelope.MessageID), zap.Error(err))
		return
	}
	b.log.Debug("bridge message delivered",
		zap.String("message_id", msg.Envelope.MessageID),
		zap.Int("channel_targets", len(report.Channel.Delivered)),
		zap.Int("project_targets", len(report.Project.Delivered)))
}
