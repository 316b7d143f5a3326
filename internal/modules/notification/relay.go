package notification

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PatternSubscriber is the part of *redis.Client the relay uses.
type PatternSubscriber interface {
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Relay forwards notifications published on Redis to this instance's
// websocket clients.
type Relay struct {
	client PatternSubscriber
	sink   Sink
	logger *zap.Logger
}

func NewRelay(client PatternSubscriber, sink Sink, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{client: client, sink: sink, logger: logger}
}

// Run subscribes to notifications:* and blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reporting readiness.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	r.logger.Info("notification relay subscribed", zap.String("pattern", channelPrefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.forward(msg)
		}
	}
}

func (r *Relay) forward(msg *redis.Message) {
	userID, err := uuid.Parse(strings.TrimPrefix(msg.Channel, channelPrefix))
	if err != nil {
		r.logger.Warn("ignoring message on unexpected channel", zap.String("channel", msg.Channel))
		return
	}
	delivered := r.sink.SendToUser(userID, []byte(msg.Payload))
	r.logger.Debug("notification relayed",
		zap.String("recipient_id", userID.String()),
		zap.Int("connections", delivered))
}
