package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/google/uuid"
)

// MemoryRepository keeps orders in process memory. Transition holds the
// lock across check and write, matching the Postgres conditional update.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*Order
	// FailCreate, when set, makes CreateOrder fail. Used to exercise the
	// compensation path.
	FailCreate error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[uuid.UUID]*Order)}
}

func (r *MemoryRepository) CreateOrder(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailCreate != nil {
		return r.FailCreate
	}
	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("order %s: %w", o.ID, apperr.ErrConflict)
	}
	r.orders[o.ID] = o.Copy()
	return nil
}

func (r *MemoryRepository) GetOrderByID(_ context.Context, id uuid.UUID) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, apperr.NotFound("order", id)
	}
	return o.Copy(), nil
}

func (r *MemoryRepository) GetOrderByNumber(_ context.Context, orderNumber string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.orders {
		if o.OrderNumber == orderNumber {
			return o.Copy(), nil
		}
	}
	return nil, apperr.NotFound("order", orderNumber)
}

func (r *MemoryRepository) ListByCustomer(_ context.Context, customerID uuid.UUID) ([]*Order, error) {
	return r.filter(func(o *Order) bool { return o.CustomerID == customerID }, newestFirst), nil
}

func (r *MemoryRepository) ListByPharmacy(_ context.Context, pharmacyID uuid.UUID, status Status) ([]*Order, error) {
	return r.filter(func(o *Order) bool {
		return o.PharmacyID == pharmacyID && (status == "" || o.Status == status)
	}, newestFirst), nil
}

func (r *MemoryRepository) ListAvailableDeliveries(context.Context) ([]*Order, error) {
	return r.filter(func(o *Order) bool {
		return o.Status == StatusPacked && o.DeliveryPartnerID == nil
	}, func(a, b *Order) bool { return a.UpdatedAt.Before(b.UpdatedAt) }), nil
}

func (r *MemoryRepository) ListByDeliveryPartner(_ context.Context, partnerID uuid.UUID) ([]*Order, error) {
	return r.filter(func(o *Order) bool {
		return o.DeliveryPartnerID != nil && *o.DeliveryPartnerID == partnerID
	}, func(a, b *Order) bool { return a.UpdatedAt.After(b.UpdatedAt) }), nil
}

func (r *MemoryRepository) Transition(_ context.Context, t Transition) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[t.OrderID]
	if !ok {
		return nil, apperr.NotFound("order", t.OrderID)
	}
	if o.Status != t.From {
		return nil, ErrStale
	}
	if (t.DeliveryPartnerID != nil || t.RequireUnassigned) && o.DeliveryPartnerID != nil {
		return nil, ErrStale
	}
	if t.DeliveryPartnerID != nil {
		id := *t.DeliveryPartnerID
		o.DeliveryPartnerID = &id
	}
	o.Status = t.To
	if o.StatusTimestamps == nil {
		o.StatusTimestamps = make(map[Status]time.Time)
	}
	o.StatusTimestamps[t.To] = t.At
	o.UpdatedAt = t.At
	return o.Copy(), nil
}

func newestFirst(a, b *Order) bool { return a.CreatedAt.After(b.CreatedAt) }

func (r *MemoryRepository) filter(keep func(*Order) bool, less func(a, b *Order) bool) []*Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Order
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, o.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
