package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgemunganga/medassist-backend/internal/platform/kafka"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher writes notifications to the notifications topic, keyed by
// recipient so one user's messages stay ordered within a partition.
type KafkaPublisher struct {
	producer kafka.Producer
}

func NewKafkaPublisher(producer kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return p.producer.WriteMessage(ctx, kafkago.Message{
		Key:   []byte(n.RecipientID.String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(n.Kind)},
		},
	})
}

// Consumer reads the notifications topic and hands each message to a
// Publisher, normally the Deliverer.
type Consumer struct {
	consumer  kafka.Consumer
	deliverer Publisher
	logger    *zap.Logger
	attempts  int
	backoff   time.Duration
}

func NewConsumer(consumer kafka.Consumer, deliverer Publisher, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		consumer:  consumer,
		deliverer: deliverer,
		logger:    logger,
		attempts:  3,
		backoff:   200 * time.Millisecond,
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation and
// the read error otherwise.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to read notification: %w", err)
		}
		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg *kafkago.Message) {
	var n Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		c.logger.Error("skipping malformed notification",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return
	}

	delay := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.deliverer.Publish(ctx, &n)
		if err == nil {
			return
		}
		if attempt >= c.attempts || ctx.Err() != nil {
			c.logger.Error("notification delivery failed",
				zap.String("notification_id", n.ID.String()),
				zap.Int64("offset", msg.Offset),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return
		}
		select {
		case <-ctx.Done():
		case <-time.After(delay):
			delay *= 2
		}
	}
}
