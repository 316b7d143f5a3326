package order

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of an order.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusProcessing     Status = "processing"
	StatusPacked         Status = "packed"
	StatusInTransit      Status = "in_transit"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// validTransitions defines the allowed status state machine. Only the next
// forward step or cancellation is legal; delivered and cancelled are terminal.
var validTransitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusProcessing, StatusCancelled},
	StatusProcessing:     {StatusPacked, StatusCancelled},
	StatusPacked:         {StatusInTransit, StatusCancelled},
	StatusInTransit:      {StatusOutForDelivery, StatusCancelled},
	StatusOutForDelivery: {StatusDelivered, StatusCancelled},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

// statusSynonyms maps the names older clients send onto the canonical status.
var statusSynonyms = map[string]Status{
	"ready":            StatusPacked,
	"ready_for_pickup": StatusPacked,
	"preparing":        StatusProcessing,
	"out-for-delivery": StatusOutForDelivery,
	"accepted":         StatusInTransit,
	"completed":        StatusDelivered,
	"canceled":         StatusCancelled,
}

// ParseStatus normalises a client-supplied status name.
func ParseStatus(s string) (Status, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, " ", "_")
	if st, ok := statusSynonyms[name]; ok {
		return st, nil
	}
	st := Status(name)
	if _, ok := validTransitions[st]; !ok {
		return "", apperr.Invalid("status", "unknown status "+s)
	}
	return st, nil
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool { return len(validTransitions[s]) == 0 }

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order represents a customer's purchase from one pharmacy.
type Order struct {
	ID                uuid.UUID            `json:"id"`
	OrderNumber       string               `json:"order_number"`
	CustomerID        uuid.UUID            `json:"customer_id"`
	PharmacyID        uuid.UUID            `json:"pharmacy_id"`
	DeliveryPartnerID *uuid.UUID           `json:"delivery_partner_id,omitempty"`
	Status            Status               `json:"status"`
	StatusTimestamps  map[Status]time.Time `json:"status_timestamps"`
	Items             []*LineItem          `json:"items"`
	TotalPrice        decimal.Decimal      `json:"total_price"`
	Currency          string               `json:"currency"`
	Notes             string               `json:"notes,omitempty"`
	DeliveryAddress   json.RawMessage      `json:"delivery_address,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// LineItem is a single medicine within an order. StockPharmacyID is the
// pharmacy whose stock record was decremented; it only differs from the
// order's pharmacy when relaxed stock matching picked another record.
type LineItem struct {
	ID              uuid.UUID       `json:"id"`
	MedicineID      uuid.UUID       `json:"medicine_id"`
	StockPharmacyID uuid.UUID       `json:"stock_pharmacy_id"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	LineTotal       decimal.Decimal `json:"line_total"`
}

// LineItemRequest is one entry of the checkout cart.
type LineItemRequest struct {
	MedicineID string `json:"medicine_id"`
	Quantity   int    `json:"quantity"`
}

// CreateOrderRequest is the payload for placing an order.
type CreateOrderRequest struct {
	PharmacyID      string            `json:"pharmacy_id"`
	Items           []LineItemRequest `json:"items"`
	Notes           string            `json:"notes,omitempty"`
	DeliveryAddress json.RawMessage   `json:"delivery_address,omitempty"`
}

// UpdateStatusRequest is the payload for advancing an order's status.
type UpdateStatusRequest struct {
	Status            string `json:"status"`
	DeliveryPartnerID string `json:"delivery_partner_id,omitempty"`
}

// Copy returns a deep copy so callers can't mutate stored state.
func (o *Order) Copy() *Order {
	cp := *o
	if o.DeliveryPartnerID != nil {
		id := *o.DeliveryPartnerID
		cp.DeliveryPartnerID = &id
	}
	cp.StatusTimestamps = make(map[Status]time.Time, len(o.StatusTimestamps))
	for k, v := range o.StatusTimestamps {
		cp.StatusTimestamps[k] = v
	}
	cp.Items = make([]*LineItem, len(o.Items))
	for i, it := range o.Items {
		item := *it
		cp.Items[i] = &item
	}
	if o.DeliveryAddress != nil {
		cp.DeliveryAddress = append(json.RawMessage(nil), o.DeliveryAddress...)
	}
	return &cp
}
