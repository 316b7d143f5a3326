package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Broadcaster pushes a stored notification to the recipient's live sessions.
type Broadcaster interface {
	Broadcast(ctx context.Context, n *Notification) error
}

// RedisBroadcaster publishes on notifications:<recipient>, so every API
// instance's relay sees the message.
type RedisBroadcaster struct {
	client redis.Cmdable
}

func NewRedisBroadcaster(client redis.Cmdable) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return b.client.Publish(ctx, Channel(n.RecipientID), data).Err()
}

// Sink receives raw messages for a user. The realtime hub implements it.
type Sink interface {
	SendToUser(userID uuid.UUID, message []byte) int
}

// LocalBroadcaster hands notifications straight to an in-process sink,
// for single-instance runs without Redis.
type LocalBroadcaster struct {
	sink Sink
}

func NewLocalBroadcaster(sink Sink) *LocalBroadcaster { return &LocalBroadcaster{sink: sink} }

func (b *LocalBroadcaster) Broadcast(_ context.Context, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	b.sink.SendToUser(n.RecipientID, data)
	return nil
}

// Deliverer is the last hop: it stores a notification once and pushes it
// to connected clients. It implements Publisher for the direct transport.
type Deliverer struct {
	store       Store
	broadcaster Broadcaster
	logger      *zap.Logger
}

func NewDeliverer(store Store, broadcaster Broadcaster, logger *zap.Logger) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deliverer{store: store, broadcaster: broadcaster, logger: logger}
}

// Publish delivers n. A notification already stored is acknowledged
// without being pushed again.
func (d *Deliverer) Publish(ctx context.Context, n *Notification) error {
	ctx, span := tracer.Start(ctx, "notification.Deliver")
	defer span.End()
	span.SetAttributes(attribute.String("notification.id", n.ID.String()))

	inserted, err := d.store.Save(ctx, n)
	if err != nil {
		return err
	}
	if !inserted {
		d.logger.Debug("duplicate notification ignored", zap.String("notification_id", n.ID.String()))
		return nil
	}
	if d.broadcaster == nil {
		return nil
	}
	// The record is durable; a missed push is recovered by the inbox listing.
	if err := d.broadcaster.Broadcast(ctx, n); err != nil {
		d.logger.Warn("notification push failed",
			zap.String("notification_id", n.ID.String()),
			zap.String("recipient_id", n.RecipientID.String()),
			zap.Error(err))
	}
	return nil
}
