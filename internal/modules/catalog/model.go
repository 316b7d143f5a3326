package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Medicine is an entry in the catalog. Price is the unit price captured
// onto order line items at order time.
type Medicine struct {
	ID                   uuid.UUID       `json:"id"`
	Name                 string          `json:"name"`
	Description          string          `json:"description,omitempty"`
	Category             string          `json:"category"`
	Price                decimal.Decimal `json:"price"`
	Currency             string          `json:"currency"`
	RequiresPrescription bool            `json:"requires_prescription"`
	IsActive             bool            `json:"is_active"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// MedicineRequest holds the data for creating or updating a medicine.
type MedicineRequest struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	Category             string          `json:"category"`
	Price                decimal.Decimal `json:"price"`
	Currency             string          `json:"currency"`
	RequiresPrescription bool            `json:"requires_prescription"`
	IsActive             *bool           `json:"is_active,omitempty"`
}
