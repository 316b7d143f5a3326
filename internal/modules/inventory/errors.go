package inventory

import (
	"fmt"

	"github.com/google/uuid"
)

// InsufficientStockError is returned when a decrement's precondition
// (quantity >= requested) does not hold at the moment it is applied.
type InsufficientStockError struct {
	PharmacyID uuid.UUID
	MedicineID uuid.UUID
	Requested  int
	Available  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for medicine %s at pharmacy %s: requested %d, available %d",
		e.MedicineID, e.PharmacyID, e.Requested, e.Available)
}
