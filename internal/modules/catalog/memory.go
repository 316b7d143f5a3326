package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/google/uuid"
)

type memoryRepo struct {
	mu        sync.RWMutex
	medicines map[uuid.UUID]*Medicine
}

func NewMemoryRepository() Repository {
	return &memoryRepo{medicines: make(map[uuid.UUID]*Medicine)}
}

func (r *memoryRepo) Create(_ context.Context, m *Medicine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	m.CreatedAt, m.UpdatedAt = now, now
	cp := *m
	r.medicines[m.ID] = &cp
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Medicine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.medicines[id]
	if !ok {
		return nil, apperr.NotFound("medicine", id)
	}
	cp := *m
	return &cp, nil
}

func (r *memoryRepo) List(_ context.Context, category string, activeOnly bool) ([]*Medicine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Medicine
	for _, m := range r.medicines {
		if category != "" && m.Category != category {
			continue
		}
		if activeOnly && !m.IsActive {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memoryRepo) Update(_ context.Context, m *Medicine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.medicines[m.ID]; !ok {
		return apperr.NotFound("medicine", m.ID)
	}
	m.UpdatedAt = time.Now()
	cp := *m
	r.medicines[m.ID] = &cp
	return nil
}
