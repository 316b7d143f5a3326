package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/google/uuid"
)

// Store persists delivered notifications.
type Store interface {
	// Save stores n unless a notification with the same ID exists. It
	// reports whether n was new.
	Save(ctx context.Context, n *Notification) (bool, error)
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, id, recipientID uuid.UUID) (*Notification, error)
	// MarkAllRead reports how many unread notifications it changed.
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error)
	CountUnread(ctx context.Context, recipientID uuid.UUID) (int, error)
	Delete(ctx context.Context, id, recipientID uuid.UUID) error
	DeleteAll(ctx context.Context, recipientID uuid.UUID) (int64, error)
}

type postgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) Store { return &postgresStore{db: db} }

func (s *postgresStore) Save(ctx context.Context, n *Notification) (bool, error) {
	payload := n.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var deliveredAt time.Time
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (id, recipient_id, kind, title, message, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING
		RETURNING delivered_at`,
		n.ID, n.RecipientID, n.Kind, n.Title, n.Message, string(payload), n.CreatedAt).Scan(&deliveredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to save notification: %w", err)
	}
	n.DeliveredAt = &deliveredAt
	return true, nil
}

const notificationColumns = `id, recipient_id, kind, title, message, payload, read, read_at, created_at, delivered_at`

type rowScanner interface{ Scan(dest ...interface{}) error }

func scanNotification(row rowScanner) (*Notification, error) {
	n := &Notification{}
	var payload []byte
	var readAt sql.NullTime
	var deliveredAt time.Time
	if err := row.Scan(&n.ID, &n.RecipientID, &n.Kind, &n.Title, &n.Message, &payload,
		&n.Read, &readAt, &n.CreatedAt, &deliveredAt); err != nil {
		return nil, err
	}
	n.Payload = payload
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	n.DeliveredAt = &deliveredAt
	return n, nil
}

func (s *postgresStore) ListByRecipient(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit int) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id=$1`
	if unreadOnly {
		query += ` AND read = false`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *postgresStore) MarkRead(ctx context.Context, id, recipientID uuid.UUID) (*Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE notifications SET read = true, read_at = COALESCE(read_at, NOW())
		WHERE id=$1 AND recipient_id=$2
		RETURNING `+notificationColumns, id, recipientID)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("notification", id)
	}
	return n, err
}

func (s *postgresStore) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = true, read_at = NOW()
		WHERE recipient_id=$1 AND read = false`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return res.RowsAffected()
}

func (s *postgresStore) CountUnread(ctx context.Context, recipientID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id=$1 AND read = false`, recipientID).Scan(&n)
	return n, err
}

func (s *postgresStore) Delete(ctx context.Context, id, recipientID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id=$1 AND recipient_id=$2`, id, recipientID)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("notification", id)
	}
	return nil
}

func (s *postgresStore) DeleteAll(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE recipient_id=$1`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear notifications: %w", err)
	}
	return res.RowsAffected()
}

// MemoryStore keeps notifications in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Notification
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]*Notification), now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, n *Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[n.ID]; ok {
		return false, nil
	}
	at := s.now().UTC()
	n.DeliveredAt = &at
	cp := *n
	s.items[n.ID] = &cp
	return true, nil
}

func (s *MemoryStore) ListByRecipient(_ context.Context, recipientID uuid.UUID, unreadOnly bool, limit int) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Notification
	for _, n := range s.items {
		if n.RecipientID != recipientID || (unreadOnly && n.Read) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, id, recipientID uuid.UUID) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.RecipientID != recipientID {
		return nil, apperr.NotFound("notification", id)
	}
	if !n.Read {
		at := s.now().UTC()
		n.Read, n.ReadAt = true, &at
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) MarkAllRead(_ context.Context, recipientID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := s.now().UTC()
	var changed int64
	for _, n := range s.items {
		if n.RecipientID == recipientID && !n.Read {
			readAt := at
			n.Read, n.ReadAt = true, &readAt
			changed++
		}
	}
	return changed, nil
}

func (s *MemoryStore) CountUnread(_ context.Context, recipientID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.items {
		if n.RecipientID == recipientID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Delete(_ context.Context, id, recipientID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.RecipientID != recipientID {
		return apperr.NotFound("notification", id)
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) DeleteAll(_ context.Context, recipientID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, n := range s.items {
		if n.RecipientID == recipientID {
			delete(s.items, id)
			removed++
		}
	}
	return removed, nil
}
