package notification

import (
	"context"

	"github.com/google/uuid"
)

const defaultListLimit = 50

// Service is the recipient's view of their notifications.
type Service interface {
	List(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, id, recipientID uuid.UUID) (*Notification, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error)
	UnreadCount(ctx context.Context, recipientID uuid.UUID) (int, error)
	// Delete removes one notification. Another recipient's ID is reported
	// as not found.
	Delete(ctx context.Context, id, recipientID uuid.UUID) error
	Clear(ctx context.Context, recipientID uuid.UUID) (int64, error)
}

type service struct {
	store Store
}

func NewService(store Store) Service { return &service{store: store} }

func (s *service) List(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}
	list, err := s.store.ListByRecipient(ctx, recipientID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*Notification{}
	}
	return list, nil
}

func (s *service) MarkRead(ctx context.Context, id, recipientID uuid.UUID) (*Notification, error) {
	return s.store.MarkRead(ctx, id, recipientID)
}

func (s *service) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	return s.store.MarkAllRead(ctx, recipientID)
}

func (s *service) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int, error) {
	return s.store.CountUnread(ctx, recipientID)
}

func (s *service) Delete(ctx context.Context, id, recipientID uuid.UUID) error {
	return s.store.Delete(ctx, id, recipientID)
}

func (s *service) Clear(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	return s.store.DeleteAll(ctx, recipientID)
}
