package inventory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CompensationItem is a release that could not be applied synchronously.
type CompensationItem struct {
	ID         string    `json:"id"`
	PharmacyID uuid.UUID `json:"pharmacy_id"`
	MedicineID uuid.UUID `json:"medicine_id"`
	Quantity   int       `json:"quantity"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// CompensationQueue is a delayed retry list of failed releases.
type CompensationQueue interface {
	Enqueue(ctx context.Context, item CompensationItem, delay time.Duration) error
	// Dequeue removes and returns one due item, or nil when none is due.
	Dequeue(ctx context.Context) (*CompensationItem, error)
	Size(ctx context.Context) (int64, error)
}

// Reconciler drains the compensation queue, retrying each release with
// exponential backoff until it succeeds.
type Reconciler struct {
	ledger    Ledger
	queue     CompensationQueue
	logger    *zap.Logger
	interval  time.Duration
	baseDelay time.Duration
	maxDelay  time.Duration
}

func NewReconciler(ledger Ledger, queue CompensationQueue, logger *zap.Logger, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		ledger:    ledger,
		queue:     queue,
		logger:    logger,
		interval:  interval,
		baseDelay: time.Second,
		maxDelay:  5 * time.Minute,
	}
}

// Run polls until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Drain(ctx)
		}
	}
}

// Drain processes every item that is currently due and returns how many
// releases were applied.
func (r *Reconciler) Drain(ctx context.Context) int {
	applied := 0
	for ctx.Err() == nil {
		item, err := r.queue.Dequeue(ctx)
		if err != nil {
			r.logger.Error("compensation dequeue failed", zap.Error(err))
			return applied
		}
		if item == nil {
			return applied
		}
		if r.apply(ctx, item) {
			applied++
		}
	}
	return applied
}

func (r *Reconciler) apply(ctx context.Context, item *CompensationItem) bool {
	remaining, err := r.ledger.Release(ctx, item.PharmacyID, item.MedicineID, item.Quantity)
	if err == nil {
		r.logger.Info("compensating release applied",
			zap.String("compensation_id", item.ID),
			zap.String("pharmacy_id", item.PharmacyID.String()),
			zap.String("medicine_id", item.MedicineID.String()),
			zap.Int("quantity", item.Quantity),
			zap.Int("remaining", remaining),
			zap.Int("attempts", item.Attempts+1))
		return true
	}
	// The stock record is gone, so no retry can succeed.
	if errors.Is(err, apperr.ErrNotFound) {
		r.logger.Error("compensation dropped: stock record not found",
			zap.String("compensation_id", item.ID),
			zap.String("pharmacy_id", item.PharmacyID.String()),
			zap.String("medicine_id", item.MedicineID.String()),
			zap.Int("quantity", item.Quantity),
			zap.Error(err))
		return false
	}

	item.Attempts++
	delay := r.backoff(item.Attempts)
	r.logger.Error("compensating release failed, rescheduling",
		zap.String("compensation_id", item.ID),
		zap.Int("attempts", item.Attempts),
		zap.Duration("retry_in", delay),
		zap.Error(err))
	if err := r.queue.Enqueue(context.WithoutCancel(ctx), *item, delay); err != nil {
		r.logger.Error("compensation lost: could not reschedule",
			zap.String("compensation_id", item.ID),
			zap.String("pharmacy_id", item.PharmacyID.String()),
			zap.String("medicine_id", item.MedicineID.String()),
			zap.Int("quantity", item.Quantity),
			zap.Error(err))
	}
	return false
}

func (r *Reconciler) backoff(attempts int) time.Duration {
	d := r.baseDelay
	for i := 1; i < attempts && d < r.maxDelay; i++ {
		d *= 2
	}
	if d > r.maxDelay {
		d = r.maxDelay
	}
	return d
}

// MemoryCompensationQueue keeps items in process memory.
type MemoryCompensationQueue struct {
	mu    sync.Mutex
	items []queuedCompensation
	now   func() time.Time
}

type queuedCompensation struct {
	item CompensationItem
	due  time.Time
}

func NewMemoryCompensationQueue() *MemoryCompensationQueue {
	return &MemoryCompensationQueue{now: time.Now}
}

func (q *MemoryCompensationQueue) Enqueue(_ context.Context, item CompensationItem, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, queuedCompensation{item: item, due: q.now().Add(delay)})
	return nil
}

func (q *MemoryCompensationQueue) Dequeue(_ context.Context) (*CompensationItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	idx := -1
	for i, qc := range q.items {
		if qc.due.After(now) {
			continue
		}
		if idx == -1 || qc.due.Before(q.items[idx].due) {
			idx = i
		}
	}
	if idx == -1 {
		return nil, nil
	}
	item := q.items[idx].item
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	return &item, nil
}

func (q *MemoryCompensationQueue) Size(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}
