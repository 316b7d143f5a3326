package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for medicine storage.
type Repository interface {
	Create(ctx context.Context, m *Medicine) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error)
	List(ctx context.Context, category string, activeOnly bool) ([]*Medicine, error)
	Update(ctx context.Context, m *Medicine) error
}
