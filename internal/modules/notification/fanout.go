package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/georgemunganga/medassist-backend/internal/modules/inventory"
	"github.com/georgemunganga/medassist-backend/internal/modules/order"
	"github.com/georgemunganga/medassist-backend/internal/modules/user"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("medassist/notification")

// StaffDirectory lists the users working at a pharmacy.
type StaffDirectory interface {
	StaffUserIDs(ctx context.Context, pharmacyID uuid.UUID) ([]uuid.UUID, error)
}

// UserDirectory lists users by role.
type UserDirectory interface {
	IDsByRole(ctx context.Context, role user.Role) ([]uuid.UUID, error)
}

// Fanout turns order and stock triggers into one notification per
// recipient and queues them on the outbox. It never returns an error:
// a directory lookup that fails is logged and the remaining recipients
// are still notified.
type Fanout struct {
	staff  StaffDirectory
	users  UserDirectory
	outbox *Outbox
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ order.Notifier          = (*Fanout)(nil)
	_ inventory.StockNotifier = (*Fanout)(nil)
)

func NewFanout(staff StaffDirectory, users UserDirectory, outbox *Outbox, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{
		staff:  staff,
		users:  users,
		outbox: outbox,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type orderPayload struct {
	OrderID           uuid.UUID    `json:"order_id"`
	OrderNumber       string       `json:"order_number"`
	PharmacyID        uuid.UUID    `json:"pharmacy_id"`
	Status            order.Status `json:"status"`
	PreviousStatus    order.Status `json:"previous_status,omitempty"`
	DeliveryPartnerID *uuid.UUID   `json:"delivery_partner_id,omitempty"`
	TotalPrice        string       `json:"total_price,omitempty"`
	Currency          string       `json:"currency,omitempty"`
}

func newOrderPayload(o *order.Order) orderPayload {
	return orderPayload{
		OrderID:           o.ID,
		OrderNumber:       o.OrderNumber,
		PharmacyID:        o.PharmacyID,
		Status:            o.Status,
		DeliveryPartnerID: o.DeliveryPartnerID,
		TotalPrice:        o.TotalPrice.StringFixed(2),
		Currency:          o.Currency,
	}
}

// OrderCreated notifies the pharmacy's staff and the customer.
func (f *Fanout) OrderCreated(ctx context.Context, o *order.Order) {
	ctx, span := tracer.Start(ctx, "notification.OrderCreated")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", o.ID.String()))

	payload := newOrderPayload(o)
	staff := f.pharmacyStaff(ctx, o.PharmacyID)
	f.send(staff, KindOrderPlaced, "New order received",
		fmt.Sprintf("Order %s was placed (%s %s).", o.OrderNumber, payload.TotalPrice, o.Currency), payload)
	f.send([]uuid.UUID{o.CustomerID}, KindOrderPlaced, "Order placed",
		fmt.Sprintf("Your order %s has been placed.", o.OrderNumber), payload)
}

// StatusChanged notifies the customer of every move out of pending,
// broadcasts packed orders to delivery partners and tells the customer
// when a partner is assigned.
func (f *Fanout) StatusChanged(ctx context.Context, o *order.Order, from order.Status, assigned bool) {
	ctx, span := tracer.Start(ctx, "notification.StatusChanged")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", o.ID.String()),
		attribute.String("order.status", string(o.Status)),
		attribute.Bool("order.assigned", assigned),
	)

	payload := newOrderPayload(o)
	payload.PreviousStatus = from

	if o.Status != order.StatusPending {
		f.send([]uuid.UUID{o.CustomerID}, KindStatusChanged, "Order update",
			fmt.Sprintf("Your order %s is now %s.", o.OrderNumber, humanize(o.Status)), payload)
	}

	if o.Status == order.StatusPacked {
		f.send(f.deliveryPartners(ctx, o.ID), KindDeliveryAvailable, "Delivery available",
			fmt.Sprintf("Order %s is packed and ready for pickup.", o.OrderNumber), payload)
	}

	if assigned {
		f.send([]uuid.UUID{o.CustomerID}, KindDeliveryAssigned, "Delivery partner assigned",
			fmt.Sprintf("A delivery partner has accepted your order %s.", o.OrderNumber), payload)
	}
}

type stockPayload struct {
	PharmacyID uuid.UUID `json:"pharmacy_id"`
	MedicineID uuid.UUID `json:"medicine_id"`
	Remaining  int       `json:"remaining"`
	Threshold  int       `json:"threshold"`
}

// StockLow notifies the staff of the pharmacy holding the record.
func (f *Fanout) StockLow(ctx context.Context, ev inventory.StockLowEvent) {
	ctx, span := tracer.Start(ctx, "notification.StockLow")
	defer span.End()

	staff := f.pharmacyStaff(ctx, ev.PharmacyID)
	f.send(staff, KindStockLow, "Low stock",
		fmt.Sprintf("Only %d units of medicine %s left (threshold %d).", ev.Remaining, ev.MedicineID, ev.Threshold),
		stockPayload{PharmacyID: ev.PharmacyID, MedicineID: ev.MedicineID, Remaining: ev.Remaining, Threshold: ev.Threshold})
}

func (f *Fanout) pharmacyStaff(ctx context.Context, pharmacyID uuid.UUID) []uuid.UUID {
	ids, err := f.staff.StaffUserIDs(ctx, pharmacyID)
	if err != nil {
		f.logger.Error("failed to list pharmacy staff",
			zap.String("pharmacy_id", pharmacyID.String()), zap.Error(err))
		return nil
	}
	return ids
}

// deliveryPartners returns nil when the directory fails; a partial list is
// not trusted.
func (f *Fanout) deliveryPartners(ctx context.Context, orderID uuid.UUID) []uuid.UUID {
	ids, err := f.users.IDsByRole(ctx, user.RoleDeliveryPartner)
	if err != nil {
		f.logger.Error("failed to list delivery partners",
			zap.String("order_id", orderID.String()), zap.Error(err))
		return nil
	}
	return ids
}

func (f *Fanout) send(recipients []uuid.UUID, kind Kind, title, message string, payload interface{}) {
	if len(recipients) == 0 {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		f.logger.Error("failed to encode notification payload", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	now := f.now()
	seen := make(map[uuid.UUID]bool, len(recipients))
	for _, id := range recipients {
		if seen[id] {
			continue
		}
		seen[id] = true
		f.outbox.Enqueue(&Notification{
			ID:          uuid.New(),
			RecipientID: id,
			Kind:        kind,
			Title:       title,
			Message:     message,
			Payload:     raw,
			CreatedAt:   now,
		})
	}
}

func humanize(s order.Status) string { return strings.ReplaceAll(string(s), "_", " ") }
