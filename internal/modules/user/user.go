package user

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role decides which routes a user may call and which notifications they receive.
type Role string

const (
	RoleCustomer        Role = "customer"
	RolePharmacy        Role = "pharmacy"
	RoleDeliveryPartner Role = "delivery_partner"
	RoleAdmin           Role = "admin"
)

// ParseRole normalises a role name. Legacy clients send "patient" for customers.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "customer", "patient":
		return RoleCustomer, true
	case "pharmacy":
		return RolePharmacy, true
	case "delivery_partner", "delivery-partner", "driver":
		return RoleDeliveryPartner, true
	case "admin":
		return RoleAdmin, true
	}
	return "", false
}

// User represents a user in the system.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RegisterRequest is the payload for creating an account.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Role      string `json:"role"`
}
