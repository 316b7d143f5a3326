package notification

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Outbox is the bounded buffer between the request path and the dispatcher.
// Enqueue never blocks: when the buffer is full the notification is dropped.
type Outbox struct {
	ch      chan *Notification
	logger  *zap.Logger
	dropped atomic.Int64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewOutbox(size int, logger *zap.Logger) *Outbox {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{ch: make(chan *Notification, size), logger: logger}
}

// Enqueue reports whether n was accepted.
func (o *Outbox) Enqueue(n *Notification) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		o.drop(n, "outbox closed")
		return false
	}
	select {
	case o.ch <- n:
		return true
	default:
		o.drop(n, "outbox full")
		return false
	}
}

func (o *Outbox) drop(n *Notification, reason string) {
	o.dropped.Add(1)
	o.logger.Warn("notification dropped",
		zap.String("reason", reason),
		zap.String("notification_id", n.ID.String()),
		zap.String("recipient_id", n.RecipientID.String()),
		zap.String("kind", string(n.Kind)))
}

// Dropped is the number of notifications discarded so far.
func (o *Outbox) Dropped() int64 { return o.dropped.Load() }

// Len is the number of buffered notifications.
func (o *Outbox) Len() int { return len(o.ch) }

// Close stops accepting notifications. Buffered ones remain readable.
func (o *Outbox) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.ch)
		o.mu.Unlock()
	})
}

func (o *Outbox) events() <-chan *Notification { return o.ch }
