package order

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrAlreadyAssigned is returned when a delivery partner tries to take an
// order that already has one.
var ErrAlreadyAssigned = errors.New("order already has a delivery partner")

// ErrStale is returned by Repository.Transition when the order no longer
// matches the expected status or assignment.
var ErrStale = errors.New("order changed concurrently")

// StockUnavailableError names the line item whose reservation failed.
// Every reservation made by the same request has been released.
type StockUnavailableError struct {
	MedicineID uuid.UUID
	Requested  int
	Available  int
}

func (e *StockUnavailableError) Error() string {
	return fmt.Sprintf("stock unavailable for medicine %s: requested %d, available %d",
		e.MedicineID, e.Requested, e.Available)
}

// InvalidTransitionError is returned for a status change the state machine forbids.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}
