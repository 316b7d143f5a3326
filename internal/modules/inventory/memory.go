package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/google/uuid"
)

type recordKey struct{ pharmacyID, medicineID uuid.UUID }

// MemoryLedger is a mutex-guarded Ledger with the same contract as the
// Postgres one. Used for STORAGE=memory and in tests.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[recordKey]*StockRecord
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[recordKey]*StockRecord), now: time.Now}
}

func (l *MemoryLedger) Reserve(_ context.Context, pharmacyID, medicineID uuid.UUID, qty int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[recordKey{pharmacyID, medicineID}]
	if !ok {
		return 0, apperr.NotFound("stock record", stockKey(pharmacyID, medicineID))
	}
	if rec.Quantity < qty {
		return 0, &InsufficientStockError{PharmacyID: pharmacyID, MedicineID: medicineID, Requested: qty, Available: rec.Quantity}
	}
	rec.Quantity -= qty
	rec.UpdatedAt = l.now()
	return rec.Quantity, nil
}

func (l *MemoryLedger) Release(_ context.Context, pharmacyID, medicineID uuid.UUID, qty int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[recordKey{pharmacyID, medicineID}]
	if !ok {
		return 0, apperr.NotFound("stock record", stockKey(pharmacyID, medicineID))
	}
	rec.Quantity += qty
	rec.UpdatedAt = l.now()
	return rec.Quantity, nil
}

func (l *MemoryLedger) Query(_ context.Context, pharmacyID, medicineID uuid.UUID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[recordKey{pharmacyID, medicineID}]
	if !ok {
		return 0, apperr.NotFound("stock record", stockKey(pharmacyID, medicineID))
	}
	return rec.Quantity, nil
}

func (l *MemoryLedger) Upsert(_ context.Context, rec *StockRecord) error {
	if rec.Quantity < 0 {
		return fmt.Errorf("negative quantity %d", rec.Quantity)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec.UpdatedAt = l.now()
	cp := *rec
	l.records[recordKey{rec.PharmacyID, rec.MedicineID}] = &cp
	return nil
}

func (l *MemoryLedger) ListByPharmacy(_ context.Context, pharmacyID uuid.UUID) ([]*StockRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*StockRecord
	for k, rec := range l.records {
		if k.pharmacyID == pharmacyID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MedicineID.String() < out[j].MedicineID.String() })
	return out, nil
}

func (l *MemoryLedger) LargestForMedicine(_ context.Context, medicineID uuid.UUID) (*StockRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var best *StockRecord
	for k, rec := range l.records {
		if k.medicineID != medicineID {
			continue
		}
		if best == nil || rec.Quantity > best.Quantity ||
			(rec.Quantity == best.Quantity && rec.PharmacyID.String() < best.PharmacyID.String()) {
			best = rec
		}
	}
	if best == nil {
		return nil, apperr.NotFound("stock for medicine", medicineID)
	}
	cp := *best
	return &cp, nil
}

// MemoryPharmacies implements PharmacyRepository and StaffRepository.
type MemoryPharmacies struct {
	mu         sync.RWMutex
	pharmacies map[uuid.UUID]*Pharmacy
	staff      map[uuid.UUID][]*PharmacyStaff
}

func NewMemoryPharmacies() *MemoryPharmacies {
	return &MemoryPharmacies{
		pharmacies: make(map[uuid.UUID]*Pharmacy),
		staff:      make(map[uuid.UUID][]*PharmacyStaff),
	}
}

func (m *MemoryPharmacies) CreatePharmacy(_ context.Context, p *Pharmacy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pharmacies[p.ID]; ok {
		return fmt.Errorf("pharmacy %s: %w", p.ID, apperr.ErrConflict)
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	m.pharmacies[p.ID] = &cp
	return nil
}

func (m *MemoryPharmacies) GetPharmacyByID(_ context.Context, id uuid.UUID) (*Pharmacy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pharmacies[id]
	if !ok {
		return nil, apperr.NotFound("pharmacy", id)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryPharmacies) ListPharmacies(_ context.Context, activeOnly bool) ([]*Pharmacy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Pharmacy
	for _, p := range m.pharmacies {
		if activeOnly && !p.IsActive {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryPharmacies) AddStaff(_ context.Context, s *PharmacyStaff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pharmacies[s.PharmacyID]; !ok {
		return apperr.NotFound("pharmacy", s.PharmacyID)
	}
	for _, existing := range m.staff[s.PharmacyID] {
		if existing.UserID == s.UserID {
			return fmt.Errorf("user %s is already staff of pharmacy %s: %w", s.UserID, s.PharmacyID, apperr.ErrConflict)
		}
	}
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	cp := *s
	m.staff[s.PharmacyID] = append(m.staff[s.PharmacyID], &cp)
	return nil
}

func (m *MemoryPharmacies) ListStaff(_ context.Context, pharmacyID uuid.UUID) ([]*PharmacyStaff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PharmacyStaff, 0, len(m.staff[pharmacyID]))
	for _, s := range m.staff[pharmacyID] {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryPharmacies) RemoveStaff(_ context.Context, pharmacyID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.staff[pharmacyID]
	for i, s := range list {
		if s.UserID == userID {
			m.staff[pharmacyID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return apperr.NotFound("pharmacy staff", userID)
}
