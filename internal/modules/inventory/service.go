package inventory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("medassist/inventory")

// StockNotifier receives low-stock signals. Implementations must not block.
type StockNotifier interface {
	StockLow(ctx context.Context, ev StockLowEvent)
}

// Service is the stock ledger together with the pharmacy directory.
type Service interface {
	// Reserve atomically takes qty units. With relaxed matching enabled and no
	// record for the exact pair, the medicine's largest record is used instead;
	// the returned Reservation names the record actually decremented.
	Reserve(ctx context.Context, pharmacyID, medicineID uuid.UUID, qty int) (Reservation, error)

	// Release atomically returns qty units to a record.
	Release(ctx context.Context, pharmacyID, medicineID uuid.UUID, qty int) (int, error)

	// Compensate releases a reservation and never fails: a release that cannot
	// be applied now is queued for the reconciler.
	Compensate(ctx context.Context, res Reservation, reason string)

	Query(ctx context.Context, pharmacyID, medicineID uuid.UUID) (int, error)
	SetStock(ctx context.Context, pharmacyID uuid.UUID, req SetStockRequest) (*StockRecord, error)
	ListStock(ctx context.Context, pharmacyID uuid.UUID) ([]*StockRecord, error)

	CreatePharmacy(ctx context.Context, req CreatePharmacyRequest) (*Pharmacy, error)
	GetPharmacy(ctx context.Context, id uuid.UUID) (*Pharmacy, error)
	ListPharmacies(ctx context.Context) ([]*Pharmacy, error)
	AddStaff(ctx context.Context, pharmacyID, userID uuid.UUID, role string) (*PharmacyStaff, error)
	ListStaff(ctx context.Context, pharmacyID uuid.UUID) ([]*PharmacyStaff, error)
	RemoveStaff(ctx context.Context, pharmacyID, userID uuid.UUID) error
}

// Options tune the ledger behaviour.
type Options struct {
	RelaxedMatching   bool
	LowStockThreshold int
}

type service struct {
	ledger     Ledger
	pharmacies PharmacyRepository
	staff      StaffRepository
	queue      CompensationQueue
	notifier   StockNotifier
	logger     *zap.Logger
	opts       Options
}

// NewService creates the inventory service. notifier may be nil.
func NewService(ledger Ledger, pharmacies PharmacyRepository, staff StaffRepository,
	queue CompensationQueue, notifier StockNotifier, logger *zap.Logger, opts Options) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		ledger:     ledger,
		pharmacies: pharmacies,
		staff:      staff,
		queue:      queue,
		notifier:   notifier,
		logger:     logger,
		opts:       opts,
	}
}

func (s *service) Reserve(ctx context.Context, pharmacyID, medicineID uuid.UUID, qty int) (Reservation, error) {
	ctx, span := tracer.Start(ctx, "inventory.Reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("pharmacy.id", pharmacyID.String()),
		attribute.String("medicine.id", medicineID.String()),
		attribute.Int("quantity", qty),
	)

	if qty <= 0 {
		return Reservation{}, apperr.Invalid("quantity", "must be greater than zero")
	}

	source := pharmacyID
	remaining, err := s.ledger.Reserve(ctx, pharmacyID, medicineID, qty)
	if err != nil && s.opts.RelaxedMatching && errors.Is(err, apperr.ErrNotFound) {
		source, remaining, err = s.reserveAnywhere(ctx, medicineID, qty)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
		return Reservation{}, err
	}

	span.SetAttributes(attribute.String("stock.pharmacy.id", source.String()), attribute.Int("remaining", remaining))
	s.checkLowStock(ctx, source, medicineID, remaining, qty)

	return Reservation{PharmacyID: source, MedicineID: medicineID, Quantity: qty, Remaining: remaining}, nil
}

// reserveAnywhere is the relaxed path: it decrements the record holding the
// most stock of the medicine, whichever pharmacy owns it.
func (s *service) reserveAnywhere(ctx context.Context, medicineID uuid.UUID, qty int) (uuid.UUID, int, error) {
	rec, err := s.ledger.LargestForMedicine(ctx, medicineID)
	if err != nil {
		return uuid.Nil, 0, err
	}
	remaining, err := s.ledger.Reserve(ctx, rec.PharmacyID, medicineID, qty)
	if err != nil {
		return uuid.Nil, 0, err
	}
	s.logger.Info("relaxed stock match",
		zap.String("medicine_id", medicineID.String()),
		zap.String("stock_pharmacy_id", rec.PharmacyID.String()),
		zap.Int("quantity", qty))
	return rec.PharmacyID, remaining, nil
}

func (s *service) checkLowStock(ctx context.Context, pharmacyID, medicineID uuid.UUID, remaining, taken int) {
	threshold := s.opts.LowStockThreshold
	if s.notifier == nil || threshold <= 0 {
		return
	}
	// Only the reservation that crosses the threshold raises the alert.
	if remaining >= threshold || remaining+taken < threshold {
		return
	}
	s.notifier.StockLow(ctx, StockLowEvent{
		PharmacyID: pharmacyID,
		MedicineID: medicineID,
		Remaining:  remaining,
		Threshold:  threshold,
	})
}

func (s *service) Release(ctx context.Context, pharmacyID, medicineID uuid.UUID, qty int) (int, error) {
	ctx, span := tracer.Start(ctx, "inventory.Release")
	defer span.End()
	if qty <= 0 {
		return 0, apperr.Invalid("quantity", "must be greater than zero")
	}
	remaining, err := s.ledger.Release(ctx, pharmacyID, medicineID, qty)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
	}
	return remaining, err
}

func (s *service) Compensate(ctx context.Context, res Reservation, reason string) {
	// Compensation must outlive a cancelled request.
	ctx = context.WithoutCancel(ctx)

	_, err := s.Release(ctx, res.PharmacyID, res.MedicineID, res.Quantity)
	if err == nil {
		return
	}
	s.logger.Warn("compensating release failed, queueing for retry",
		zap.String("pharmacy_id", res.PharmacyID.String()),
		zap.String("medicine_id", res.MedicineID.String()),
		zap.Int("quantity", res.Quantity),
		zap.String("reason", reason),
		zap.Error(err))

	if s.queue == nil {
		s.logger.Error("compensation lost: no queue configured", zap.String("reason", reason))
		return
	}
	item := CompensationItem{
		ID:         uuid.NewString(),
		PharmacyID: res.PharmacyID,
		MedicineID: res.MedicineID,
		Quantity:   res.Quantity,
		Reason:     reason,
		Attempts:   1,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, item, time.Second); err != nil {
		s.logger.Error("compensation lost: enqueue failed",
			zap.String("pharmacy_id", res.PharmacyID.String()),
			zap.String("medicine_id", res.MedicineID.String()),
			zap.Int("quantity", res.Quantity),
			zap.Error(err))
	}
}

func (s *service) Query(ctx context.Context, pharmacyID, medicineID uuid.UUID) (int, error) {
	return s.ledger.Query(ctx, pharmacyID, medicineID)
}

func (s *service) SetStock(ctx context.Context, pharmacyID uuid.UUID, req SetStockRequest) (*StockRecord, error) {
	medicineID, err := uuid.Parse(req.MedicineID)
	if err != nil {
		return nil, apperr.Invalid("medicine_id", "must be a UUID")
	}
	if req.Quantity < 0 {
		return nil, apperr.Invalid("quantity", "must not be negative")
	}
	if _, err := s.pharmacies.GetPharmacyByID(ctx, pharmacyID); err != nil {
		return nil, err
	}
	rec := &StockRecord{PharmacyID: pharmacyID, MedicineID: medicineID, Quantity: req.Quantity}
	if err := s.ledger.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *service) ListStock(ctx context.Context, pharmacyID uuid.UUID) ([]*StockRecord, error) {
	return s.ledger.ListByPharmacy(ctx, pharmacyID)
}

func (s *service) CreatePharmacy(ctx context.Context, req CreatePharmacyRequest) (*Pharmacy, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperr.Invalid("name", "is required")
	}
	p := &Pharmacy{
		ID:       uuid.New(),
		Name:     strings.TrimSpace(req.Name),
		Address:  req.Address,
		City:     req.City,
		Phone:    req.Phone,
		Email:    req.Email,
		IsActive: true,
	}
	if req.OwnerID != "" {
		ownerID, err := uuid.Parse(req.OwnerID)
		if err != nil {
			return nil, apperr.Invalid("owner_id", "must be a UUID")
		}
		p.OwnerID = &ownerID
	}
	if err := s.pharmacies.CreatePharmacy(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *service) GetPharmacy(ctx context.Context, id uuid.UUID) (*Pharmacy, error) {
	return s.pharmacies.GetPharmacyByID(ctx, id)
}

func (s *service) ListPharmacies(ctx context.Context) ([]*Pharmacy, error) {
	return s.pharmacies.ListPharmacies(ctx, true)
}

func (s *service) AddStaff(ctx context.Context, pharmacyID, userID uuid.UUID, role string) (*PharmacyStaff, error) {
	role = strings.ToUpper(strings.TrimSpace(role))
	if role == "" {
		role = "STAFF"
	}
	staff := &PharmacyStaff{
		ID:         uuid.New(),
		PharmacyID: pharmacyID,
		UserID:     userID,
		Role:       role,
	}
	if err := s.staff.AddStaff(ctx, staff); err != nil {
		return nil, err
	}
	return staff, nil
}

func (s *service) ListStaff(ctx context.Context, pharmacyID uuid.UUID) ([]*PharmacyStaff, error) {
	return s.staff.ListStaff(ctx, pharmacyID)
}

func (s *service) RemoveStaff(ctx context.Context, pharmacyID, userID uuid.UUID) error {
	return s.staff.RemoveStaff(ctx, pharmacyID, userID)
}

// StaffDirectory resolves the users attached to a pharmacy.
type StaffDirectory struct{ staff StaffRepository }

func NewStaffDirectory(staff StaffRepository) *StaffDirectory { return &StaffDirectory{staff: staff} }

// StaffUserIDs lists the users to notify for a pharmacy.
func (d *StaffDirectory) StaffUserIDs(ctx context.Context, pharmacyID uuid.UUID) ([]uuid.UUID, error) {
	staff, err := d.staff.ListStaff(ctx, pharmacyID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(staff))
	for _, st := range staff {
		ids = append(ids, st.UserID)
	}
	return ids, nil
}
