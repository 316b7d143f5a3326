package inventory

import (
	"time"

	"github.com/google/uuid"
)

// Pharmacy is a store that holds stock and receives orders.
type Pharmacy struct {
	ID        uuid.UUID  `json:"id"`
	OwnerID   *uuid.UUID `json:"owner_id,omitempty"`
	Name      string     `json:"name"`
	Address   string     `json:"address,omitempty"`
	City      string     `json:"city,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Email     string     `json:"email,omitempty"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// PharmacyStaff links a user to a pharmacy. Staff receive order and stock alerts.
type PharmacyStaff struct {
	ID         uuid.UUID `json:"id"`
	PharmacyID uuid.UUID `json:"pharmacy_id"`
	UserID     uuid.UUID `json:"user_id"`
	Role       string    `json:"role"` // MANAGER, PHARMACIST, STAFF
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StockRecord is the quantity of one medicine held by one pharmacy.
type StockRecord struct {
	PharmacyID uuid.UUID `json:"pharmacy_id"`
	MedicineID uuid.UUID `json:"medicine_id"`
	Quantity   int       `json:"quantity"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Reservation is the result of a successful decrement. PharmacyID is the
// record actually decremented; a release must target the same record.
type Reservation struct {
	PharmacyID uuid.UUID `json:"pharmacy_id"`
	MedicineID uuid.UUID `json:"medicine_id"`
	Quantity   int       `json:"quantity"`
	Remaining  int       `json:"remaining"`
}

// StockLowEvent is raised when a reservation takes a record below the threshold.
type StockLowEvent struct {
	PharmacyID uuid.UUID
	MedicineID uuid.UUID
	Remaining  int
	Threshold  int
}

// CreatePharmacyRequest is the payload for registering a pharmacy.
type CreatePharmacyRequest struct {
	OwnerID string `json:"owner_id,omitempty"`
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

// SetStockRequest sets the absolute quantity of a medicine at a pharmacy.
type SetStockRequest struct {
	MedicineID string `json:"medicine_id"`
	Quantity   int    `json:"quantity"`
}
