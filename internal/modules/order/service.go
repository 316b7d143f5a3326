package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/georgemunganga/medassist-backend/internal/modules/catalog"
	"github.com/georgemunganga/medassist-backend/internal/modules/inventory"
	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("medassist/order")

// Service defines the order lifecycle.
type Service interface {
	// CreateOrder reserves every line item and persists the order as pending.
	// It is all-or-nothing: on any failure every reservation made by the
	// call is released before the error is returned.
	CreateOrder(ctx context.Context, customerID uuid.UUID, req CreateOrderRequest) (*Order, error)

	// UpdateStatus moves an order one step along the state machine, optionally
	// assigning a delivery partner in the same write. Cancelling releases the
	// reserved stock exactly once.
	UpdateStatus(ctx context.Context, id uuid.UUID, newStatus Status, deliveryPartnerID *uuid.UUID) (*Order, error)

	// CancelUnassigned cancels an order only while no delivery partner holds
	// it, checked in the same write. It fails with ErrAlreadyAssigned otherwise.
	CancelUnassigned(ctx context.Context, id uuid.UUID) (*Order, error)

	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error)
	ListCustomerOrders(ctx context.Context, customerID uuid.UUID) ([]*Order, error)
	ListPharmacyOrders(ctx context.Context, pharmacyID uuid.UUID, status Status) ([]*Order, error)
	ListAvailableDeliveries(ctx context.Context) ([]*Order, error)
	ListPartnerDeliveries(ctx context.Context, partnerID uuid.UUID) ([]*Order, error)
}

// StockLedger is the slice of the inventory service the lifecycle needs.
type StockLedger interface {
	Reserve(ctx context.Context, pharmacyID, medicineID uuid.UUID, qty int) (inventory.Reservation, error)
	Compensate(ctx context.Context, res inventory.Reservation, reason string)
}

// PriceCatalog supplies the unit price captured at order time.
type PriceCatalog interface {
	GetMedicine(ctx context.Context, id uuid.UUID) (*catalog.Medicine, error)
}

// Notifier receives lifecycle triggers. Calls must not block on delivery;
// failures are the notifier's to log.
type Notifier interface {
	OrderCreated(ctx context.Context, o *Order)
	StatusChanged(ctx context.Context, o *Order, from Status, assigned bool)
}

type service struct {
	repo     Repository
	ledger   StockLedger
	catalog  PriceCatalog
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a new order service. notifier may be nil.
func NewService(repo Repository, ledger StockLedger, prices PriceCatalog, notifier Notifier, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		repo:     repo,
		ledger:   ledger,
		catalog:  prices,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type pricedItem struct {
	medicineID uuid.UUID
	quantity   int
	unitPrice  decimal.Decimal
	currency   string
}

func (s *service) CreateOrder(ctx context.Context, customerID uuid.UUID, req CreateOrderRequest) (*Order, error) {
	ctx, span := tracer.Start(ctx, "order.CreateOrder")
	defer span.End()

	o, err := s.createOrder(ctx, span, customerID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		return nil, err
	}
	return o, nil
}

func (s *service) createOrder(ctx context.Context, span trace.Span, customerID uuid.UUID, req CreateOrderRequest) (*Order, error) {
	pharmacyID, items, err := validateCreate(customerID, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("customer.id", customerID.String()),
		attribute.String("pharmacy.id", pharmacyID.String()),
		attribute.Int("order.items", len(items)),
	)

	// ── Capture prices before touching stock ──────────────────────────────────
	priced := make([]pricedItem, 0, len(items))
	for _, it := range items {
		m, err := s.catalog.GetMedicine(ctx, it.medicineID)
		if err != nil {
			return nil, err
		}
		if !m.IsActive {
			return nil, apperr.Invalid("items", fmt.Sprintf("medicine %s is not available", m.ID))
		}
		priced = append(priced, pricedItem{
			medicineID: it.medicineID,
			quantity:   it.quantity,
			unitPrice:  m.Price,
			currency:   m.Currency,
		})
	}

	// ── Reserve every line item, compensating on the first failure ──────────
	reservations := make([]inventory.Reservation, 0, len(priced))
	for _, it := range priced {
		res, err := s.ledger.Reserve(ctx, pharmacyID, it.medicineID, it.quantity)
		if err != nil {
			s.compensate(ctx, reservations, "order creation failed")
			return nil, stockError(it, err)
		}
		reservations = append(reservations, res)
	}

	// ── Build order ───────────────────────────────────────────────────────────
	now := s.now()
	o := &Order{
		ID:               uuid.New(),
		OrderNumber:      generateOrderNumber(now),
		CustomerID:       customerID,
		PharmacyID:       pharmacyID,
		Status:           StatusPending,
		StatusTimestamps: map[Status]time.Time{StatusPending: now},
		Currency:         "ZMW",
		Notes:            strings.TrimSpace(req.Notes),
		DeliveryAddress:  req.DeliveryAddress,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	total := decimal.Zero
	for i, it := range priced {
		lineTotal := it.unitPrice.Mul(decimal.NewFromInt(int64(it.quantity)))
		total = total.Add(lineTotal)
		o.Items = append(o.Items, &LineItem{
			ID:              uuid.New(),
			MedicineID:      it.medicineID,
			StockPharmacyID: reservations[i].PharmacyID,
			Quantity:        it.quantity,
			UnitPrice:       it.unitPrice,
			LineTotal:       lineTotal,
		})
		if it.currency != "" {
			o.Currency = it.currency
		}
	}
	o.TotalPrice = total

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		s.compensate(ctx, reservations, "order persistence failed")
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	span.SetAttributes(attribute.String("order.id", o.ID.String()))
	s.logger.Info("order created",
		zap.String("order_id", o.ID.String()),
		zap.String("order_number", o.OrderNumber),
		zap.String("pharmacy_id", pharmacyID.String()),
		zap.String("total", o.TotalPrice.StringFixed(2)))

	if s.notifier != nil {
		s.notifier.OrderCreated(ctx, o.Copy())
	}
	return o, nil
}

type cartLine struct {
	medicineID uuid.UUID
	quantity   int
}

// validateCreate checks the request and merges duplicate medicines, keeping
// the order in which they first appear.
func validateCreate(customerID uuid.UUID, req CreateOrderRequest) (uuid.UUID, []cartLine, error) {
	if customerID == uuid.Nil {
		return uuid.Nil, nil, apperr.Invalid("customer_id", "is required")
	}
	if req.PharmacyID == "" {
		return uuid.Nil, nil, apperr.Invalid("pharmacy_id", "is required")
	}
	pharmacyID, err := uuid.Parse(req.PharmacyID)
	if err != nil {
		return uuid.Nil, nil, apperr.Invalid("pharmacy_id", "must be a UUID")
	}
	if len(req.Items) == 0 {
		return uuid.Nil, nil, apperr.Invalid("items", "must contain at least one item")
	}

	var lines []cartLine
	index := make(map[uuid.UUID]int)
	for _, it := range req.Items {
		medicineID, err := uuid.Parse(it.MedicineID)
		if err != nil {
			return uuid.Nil, nil, apperr.Invalid("medicine_id", fmt.Sprintf("%q must be a UUID", it.MedicineID))
		}
		if it.Quantity <= 0 {
			return uuid.Nil, nil, apperr.Invalid("quantity", fmt.Sprintf("must be > 0 for medicine %s", medicineID))
		}
		if i, ok := index[medicineID]; ok {
			lines[i].quantity += it.Quantity
			continue
		}
		index[medicineID] = len(lines)
		lines = append(lines, cartLine{medicineID: medicineID, quantity: it.Quantity})
	}
	return pharmacyID, lines, nil
}

func stockError(it pricedItem, err error) error {
	var insufficient *inventory.InsufficientStockError
	if errors.As(err, &insufficient) {
		return &StockUnavailableError{
			MedicineID: it.medicineID,
			Requested:  it.quantity,
			Available:  insufficient.Available,
		}
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("no stock for medicine %s: %w", it.medicineID, err)
	}
	return fmt.Errorf("reserve medicine %s: %w", it.medicineID, err)
}

// compensate releases reservations newest first.
func (s *service) compensate(ctx context.Context, reservations []inventory.Reservation, reason string) {
	for i := len(reservations) - 1; i >= 0; i-- {
		s.ledger.Compensate(ctx, reservations[i], reason)
	}
}

func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus Status, deliveryPartnerID *uuid.UUID) (*Order, error) {
	return s.changeStatus(ctx, "order.UpdateStatus", Transition{OrderID: id, To: newStatus, DeliveryPartnerID: deliveryPartnerID})
}

func (s *service) CancelUnassigned(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.changeStatus(ctx, "order.CancelUnassigned", Transition{OrderID: id, To: StatusCancelled, RequireUnassigned: true})
}

// changeStatus applies req (From and At are filled in here), then logs and
// notifies.
func (s *service) changeStatus(ctx context.Context, spanName string, req Transition) (*Order, error) {
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.String("order.id", req.OrderID.String()), attribute.String("order.status.to", string(req.To)))
	deliveryPartnerID := req.DeliveryPartnerID

	o, from, err := s.updateStatus(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update status failed")
		return nil, err
	}

	s.logger.Info("order status changed",
		zap.String("order_id", o.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(o.Status)),
		zap.Bool("assigned", deliveryPartnerID != nil))

	if s.notifier != nil {
		s.notifier.StatusChanged(ctx, o.Copy(), from, deliveryPartnerID != nil)
	}
	return o, nil
}

func (s *service) updateStatus(ctx context.Context, req Transition) (*Order, Status, error) {
	id, to, partnerID := req.OrderID, req.To, req.DeliveryPartnerID
	needsUnassigned := partnerID != nil || req.RequireUnassigned
	if _, ok := validTransitions[to]; !ok {
		return nil, "", apperr.Invalid("status", "unknown status "+string(to))
	}
	if partnerID != nil && *partnerID == uuid.Nil {
		return nil, "", apperr.Invalid("delivery_partner_id", "must not be empty")
	}

	current, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if needsUnassigned && current.DeliveryPartnerID != nil {
		return nil, "", ErrAlreadyAssigned
	}
	if !current.Status.CanTransitionTo(to) {
		return nil, "", &InvalidTransitionError{From: current.Status, To: to}
	}

	req.From, req.At = current.Status, s.now()
	updated, err := s.repo.Transition(ctx, req)
	if errors.Is(err, ErrStale) {
		return nil, "", s.explainLostRace(ctx, id, to, needsUnassigned)
	}
	if err != nil {
		return nil, "", err
	}

	// Only the caller whose compare-and-set won reaches this point, so the
	// release below runs once per order.
	if to == StatusCancelled {
		for _, item := range updated.Items {
			s.ledger.Compensate(ctx, inventory.Reservation{
				PharmacyID: item.StockPharmacyID,
				MedicineID: item.MedicineID,
				Quantity:   item.Quantity,
			}, "order "+updated.ID.String()+" cancelled")
		}
	}
	return updated, current.Status, nil
}

// explainLostRace re-reads an order whose compare-and-set failed and
// reports why the requested change no longer applies.
func (s *service) explainLostRace(ctx context.Context, id uuid.UUID, to Status, needsUnassigned bool) error {
	fresh, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return err
	}
	if needsUnassigned && fresh.DeliveryPartnerID != nil {
		return ErrAlreadyAssigned
	}
	return &InvalidTransitionError{From: fresh.Status, To: to}
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.GetOrderByID(ctx, id)
}

func (s *service) GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	return s.repo.GetOrderByNumber(ctx, orderNumber)
}

func (s *service) ListCustomerOrders(ctx context.Context, customerID uuid.UUID) ([]*Order, error) {
	return s.repo.ListByCustomer(ctx, customerID)
}

func (s *service) ListPharmacyOrders(ctx context.Context, pharmacyID uuid.UUID, status Status) ([]*Order, error) {
	return s.repo.ListByPharmacy(ctx, pharmacyID, status)
}

func (s *service) ListAvailableDeliveries(ctx context.Context) ([]*Order, error) {
	return s.repo.ListAvailableDeliveries(ctx)
}

func (s *service) ListPartnerDeliveries(ctx context.Context, partnerID uuid.UUID) ([]*Order, error) {
	return s.repo.ListByDeliveryPartner(ctx, partnerID)
}

// ── helpers ───────────────────────────────────────────────────────────────────

// generateOrderNumber creates a human-readable order number: ORD-YYYYMMDD-XXXXXX
func generateOrderNumber(now time.Time) string {
	date := now.Format("20060102")
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return fmt.Sprintf("ORD-%s-%s", date, suffix)
}
