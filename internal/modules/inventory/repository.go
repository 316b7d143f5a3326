package inventory

import (
	"context"

	"github.com/google/uuid"
)

// Ledger is the stock store. Reserve and Release are each a single atomic
// conditional update evaluated by the store itself.
type Ledger interface {
	// Reserve decrements quantity only if quantity >= qty and returns the new quantity.
	Reserve(ctx context.Context, pharmacyID, medicineID uuid.UUID, qty int) (int, error)

	// Release increments quantity and returns the new quantity.
	Release(ctx context.Context, pharmacyID, medicineID uuid.UUID, qty int) (int, error)

	// Query returns the current quantity.
	Query(ctx context.Context, pharmacyID, medicineID uuid.UUID) (int, error)

	// Upsert creates the record or overwrites its quantity.
	Upsert(ctx context.Context, rec *StockRecord) error

	// ListByPharmacy returns every record held by a pharmacy.
	ListByPharmacy(ctx context.Context, pharmacyID uuid.UUID) ([]*StockRecord, error)

	// LargestForMedicine returns the record with the most stock of a medicine at any pharmacy.
	LargestForMedicine(ctx context.Context, medicineID uuid.UUID) (*StockRecord, error)
}

type PharmacyRepository interface {
	CreatePharmacy(ctx context.Context, p *Pharmacy) error
	GetPharmacyByID(ctx context.Context, id uuid.UUID) (*Pharmacy, error)
	ListPharmacies(ctx context.Context, activeOnly bool) ([]*Pharmacy, error)
}

type StaffRepository interface {
	AddStaff(ctx context.Context, staff *PharmacyStaff) error
	ListStaff(ctx context.Context, pharmacyID uuid.UUID) ([]*PharmacyStaff, error)
	RemoveStaff(ctx context.Context, pharmacyID, userID uuid.UUID) error
}
