package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind names the trigger behind a notification.
type Kind string

const (
	KindOrderPlaced       Kind = "order_placed"
	KindStatusChanged     Kind = "status_changed"
	KindDeliveryAvailable Kind = "delivery_available"
	KindDeliveryAssigned  Kind = "delivery_assigned"
	KindStockLow          Kind = "stock_low"
)

// Notification is one message for one recipient. The ID is assigned when the
// fan-out builds it, so redelivery through Kafka stores it at most once.
type Notification struct {
	ID          uuid.UUID       `json:"id"`
	RecipientID uuid.UUID       `json:"recipient_id"`
	Kind        Kind            `json:"kind"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Read        bool            `json:"read"`
	ReadAt      *time.Time      `json:"read_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
}

// Channel is the Redis pub/sub channel a recipient's notifications go out on.
func Channel(recipientID uuid.UUID) string { return channelPrefix + recipientID.String() }

const channelPrefix = "notifications:"
