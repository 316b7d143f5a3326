package order

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Transition describes one compare-and-set status change.
type Transition struct {
	OrderID uuid.UUID
	From    Status
	To      Status
	// DeliveryPartnerID, when set, is assigned in the same write and the
	// write additionally requires the order to be unassigned.
	DeliveryPartnerID *uuid.UUID
	// RequireUnassigned makes the write fail when a partner is already set,
	// even though none is being assigned.
	RequireUnassigned bool
	At                time.Time
}

// Repository defines data access for orders.
type Repository interface {
	// CreateOrder persists a new order and its items atomically in a transaction.
	CreateOrder(ctx context.Context, o *Order) error

	// GetOrderByID retrieves an order with its items.
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)

	// GetOrderByNumber retrieves an order by its human-readable order number.
	GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error)

	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*Order, error)

	// ListByPharmacy returns a pharmacy's orders, optionally filtered by status.
	ListByPharmacy(ctx context.Context, pharmacyID uuid.UUID, status Status) ([]*Order, error)

	// ListAvailableDeliveries returns packed orders with no delivery partner.
	ListAvailableDeliveries(ctx context.Context) ([]*Order, error)

	ListByDeliveryPartner(ctx context.Context, partnerID uuid.UUID) ([]*Order, error)

	// Transition applies t atomically and returns the updated order, or
	// ErrStale when the order is no longer in t.From (or is already assigned).
	Transition(ctx context.Context, t Transition) (*Order, error)
}
