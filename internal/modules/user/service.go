package user

import (
	"context"
	"net/mail"
	"strings"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service defines the interface for user-related business logic.
type Service interface {
	RegisterUser(ctx context.Context, req RegisterRequest) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	IDsByRole(ctx context.Context, role Role) ([]uuid.UUID, error)
}

type service struct {
	repo Repository
}

// NewService creates a new user service.
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) RegisterUser(ctx context.Context, req RegisterRequest) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Invalid("email", "is not a valid address")
	}
	if len(req.Password) < 8 {
		return nil, apperr.Invalid("password", "must be at least 8 characters")
	}
	role, ok := ParseRole(req.Role)
	if !ok {
		return nil, apperr.Invalid("role", "is not recognised")
	}
	// Admins are provisioned out of band.
	if role == RoleAdmin {
		return nil, apperr.Invalid("role", "cannot be self-assigned")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hashedPassword),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        req.Phone,
		Role:         role,
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *service) IDsByRole(ctx context.Context, role Role) ([]uuid.UUID, error) {
	return s.repo.ListIDsByRole(ctx, role)
}
