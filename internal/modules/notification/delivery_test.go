package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/georgemunganga/medassist-backend/internal/platform/identity"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newNotification(recipient uuid.UUID) *Notification {
	return &Notification{
		ID:          uuid.New(),
		RecipientID: recipient,
		Kind:        KindStatusChanged,
		Title:       "Order update",
		Message:     "Your order is now confirmed.",
		Payload:     json.RawMessage(`{"status":"confirmed"}`),
		CreatedAt:   time.Now().UTC(),
	}
}

type recordingSink struct {
	mu       sync.Mutex
	messages map[uuid.UUID][][]byte
}

func (s *recordingSink) SendToUser(userID uuid.UUID, msg []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages == nil {
		s.messages = make(map[uuid.UUID][][]byte)
	}
	s.messages[userID] = append(s.messages[userID], msg)
	return 1
}

func (s *recordingSink) count(userID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[userID])
}

type failingBroadcaster struct{}

func (failingBroadcaster) Broadcast(context.Context, *Notification) error {
	return errors.New("redis unavailable")
}

func TestDelivererIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sink := &recordingSink{}
	d := NewDeliverer(store, NewLocalBroadcaster(sink), nil)
	recipient := uuid.New()
	n := newNotification(recipient)

	require.NoError(t, d.Publish(ctx, n))
	redelivered := *n
	require.NoError(t, d.Publish(ctx, &redelivered))

	list, err := store.ListByRecipient(ctx, recipient, false, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotNil(t, list[0].DeliveredAt)
	assert.Equal(t, 1, sink.count(recipient))

	var pushed Notification
	require.NoError(t, json.Unmarshal(sink.messages[recipient][0], &pushed))
	assert.Equal(t, n.ID, pushed.ID)
}

func TestDelivererKeepsRecordWhenPushFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	d := NewDeliverer(store, failingBroadcaster{}, nil)
	n := newNotification(uuid.New())

	require.NoError(t, d.Publish(ctx, n))
	list, err := store.ListByRecipient(ctx, n.RecipientID, true, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDispatcherRetriesThenDelivers(t *testing.T) {
	defer goleak.VerifyNone(t)

	outbox := NewOutbox(8, nil)
	var calls atomic.Int32
	delivered := make(chan uuid.UUID, 8)
	pub := PublisherFunc(func(_ context.Context, n *Notification) error {
		if calls.Add(1) < 3 {
			return errors.New("broker unavailable")
		}
		delivered <- n.ID
		return nil
	})
	d := NewDispatcher(outbox, pub, nil, DispatcherConfig{Workers: 2, Attempts: 3, BaseDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()

	n := newNotification(uuid.New())
	require.True(t, outbox.Enqueue(n))
	select {
	case id := <-delivered:
		assert.Equal(t, n.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
	assert.EqualValues(t, 3, calls.Load())

	cancel()
	<-done
}

func TestDispatcherGivesUpAfterAttempts(t *testing.T) {
	defer goleak.VerifyNone(t)

	outbox := NewOutbox(8, nil)
	var calls atomic.Int32
	pub := PublisherFunc(func(context.Context, *Notification) error {
		calls.Add(1)
		return errors.New("broker unavailable")
	})
	d := NewDispatcher(outbox, pub, nil, DispatcherConfig{Workers: 1, Attempts: 2, BaseDelay: time.Millisecond})

	require.True(t, outbox.Enqueue(newNotification(uuid.New())))
	require.True(t, outbox.Enqueue(newNotification(uuid.New())))
	outbox.Close()

	// A closed, drained outbox ends Run without cancellation.
	d.Run(context.Background())
	assert.EqualValues(t, 4, calls.Load())
}

type fakeKafkaConsumer struct {
	messages chan kafkago.Message
}

func (c *fakeKafkaConsumer) ReadMessage(ctx context.Context) (*kafkago.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m := <-c.messages:
		return &m, nil
	}
}

func (c *fakeKafkaConsumer) Close() error { return nil }

type fakeProducer struct {
	mu       sync.Mutex
	messages []kafkago.Message
}

func (p *fakeProducer) WriteMessage(_ context.Context, msg kafkago.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func TestKafkaRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	producer := &fakeProducer{}
	recipient := uuid.New()
	n := newNotification(recipient)
	require.NoError(t, NewKafkaPublisher(producer).Publish(ctx, n))
	require.Len(t, producer.messages, 1)
	assert.Equal(t, recipient.String(), string(producer.messages[0].Key))

	store := NewMemoryStore()
	sink := &recordingSink{}
	source := &fakeKafkaConsumer{messages: make(chan kafkago.Message, 4)}
	source.messages <- kafkago.Message{Value: []byte("not json"), Offset: 1}
	source.messages <- producer.messages[0]
	source.messages <- producer.messages[0] // redelivery

	consumer := NewConsumer(source, NewDeliverer(store, NewLocalBroadcaster(sink), nil), nil)
	errc := make(chan error, 1)
	go func() { errc <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return len(source.messages) == 0 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		list, _ := store.ListByRecipient(ctx, recipient, false, 10)
		return len(list) == 1
	}, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-errc)
	assert.Equal(t, 1, sink.count(recipient))
}

func TestConsumerReturnsReadErrors(t *testing.T) {
	boom := errors.New("group coordinator gone")
	consumer := NewConsumer(errConsumer{boom}, PublisherFunc(func(context.Context, *Notification) error { return nil }), nil)
	assert.ErrorIs(t, consumer.Run(context.Background()), boom)
}

type errConsumer struct{ err error }

func (c errConsumer) ReadMessage(context.Context) (*kafkago.Message, error) { return nil, c.err }
func (c errConsumer) Close() error                                         { return nil }

type tokenTable map[string]identity.Identity

func (tt tokenTable) ParseToken(token string) (identity.Identity, error) {
	id, ok := tt[token]
	if !ok {
		return identity.Identity{}, errors.New("unknown token")
	}
	return id, nil
}

func TestNotificationHandler(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	alice, bob := uuid.New(), uuid.New()
	first := newNotification(alice)
	second := newNotification(alice)
	second.CreatedAt = first.CreatedAt.Add(time.Minute)
	for _, n := range []*Notification{first, second, newNotification(bob)} {
		_, err := store.Save(ctx, n)
		require.NoError(t, err)
	}

	tokens := tokenTable{
		"alice": {UserID: alice, Role: "customer"},
		"bob":   {UserID: bob, Role: "customer"},
	}
	r := chi.NewRouter()
	NewHandler(NewService(store), identity.Middleware(tokens), nil).RegisterRoutes(r)

	call := func(token, method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := call("alice", http.MethodGet, "/api/v1/notifications")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*Notification
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")

	assert.Equal(t, http.StatusNotFound, call("bob", http.MethodPatch, "/api/v1/notifications/"+first.ID.String()+"/read").Code)
	assert.Equal(t, http.StatusBadRequest, call("alice", http.MethodPatch, "/api/v1/notifications/x/read").Code)

	rec = call("alice", http.MethodPatch, "/api/v1/notifications/"+first.ID.String()+"/read")
	require.Equal(t, http.StatusOK, rec.Code)
	var marked Notification
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&marked))
	assert.True(t, marked.Read)
	assert.NotNil(t, marked.ReadAt)

	rec = call("alice", http.MethodGet, "/api/v1/notifications?unread=true")
	require.Equal(t, http.StatusOK, rec.Code)
	list = nil
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)

	rec = call("carol", http.MethodGet, "/api/v1/notifications")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
