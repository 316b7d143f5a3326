package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/georgemunganga/medassist-backend/internal/modules/catalog"
	"github.com/georgemunganga/medassist-backend/internal/modules/inventory"
	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/georgemunganga/medassist-backend/internal/platform/cache"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusChange struct {
	orderID  uuid.UUID
	from, to Status
	assigned bool
}

type recordingNotifier struct {
	mu      sync.Mutex
	created []*Order
	changes []statusChange
}

func (n *recordingNotifier) OrderCreated(_ context.Context, o *Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, o)
}

func (n *recordingNotifier) StatusChanged(_ context.Context, o *Order, from Status, assigned bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, statusChange{orderID: o.ID, from: from, to: o.Status, assigned: assigned})
}

type fixture struct {
	ctx      context.Context
	ledger   *inventory.MemoryLedger
	queue    *inventory.MemoryCompensationQueue
	stock    inventory.Service
	catalog  catalog.Service
	repo     *MemoryRepository
	notifier *recordingNotifier
	svc      Service
	pharmacy uuid.UUID
	customer uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		ledger:   inventory.NewMemoryLedger(),
		queue:    inventory.NewMemoryCompensationQueue(),
		catalog:  catalog.NewService(catalog.NewMemoryRepository(), cache.Noop{}, nil),
		repo:     NewMemoryRepository(),
		notifier: &recordingNotifier{},
		pharmacy: uuid.New(),
		customer: uuid.New(),
	}
	pharmacies := inventory.NewMemoryPharmacies()
	f.stock = inventory.NewService(f.ledger, pharmacies, pharmacies, f.queue, nil, nil, inventory.Options{})
	f.svc = NewService(f.repo, f.stock, f.catalog, f.notifier, nil)
	return f
}

// medicine registers a medicine priced at price and stocks qty units of it.
func (f *fixture) medicine(t *testing.T, price string, qty int) uuid.UUID {
	t.Helper()
	m, err := f.catalog.CreateMedicine(f.ctx, catalog.MedicineRequest{
		Name:  "med-" + uuid.NewString()[:8],
		Price: decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	require.NoError(t, f.ledger.Upsert(f.ctx, &inventory.StockRecord{
		PharmacyID: f.pharmacy,
		MedicineID: m.ID,
		Quantity:   qty,
	}))
	return m.ID
}

func (f *fixture) stockOf(t *testing.T, medicineID uuid.UUID) int {
	t.Helper()
	n, err := f.ledger.Query(f.ctx, f.pharmacy, medicineID)
	require.NoError(t, err)
	return n
}

func (f *fixture) order(items ...LineItemRequest) CreateOrderRequest {
	return CreateOrderRequest{PharmacyID: f.pharmacy.String(), Items: items}
}

func line(medicineID uuid.UUID, qty int) LineItemRequest {
	return LineItemRequest{MedicineID: medicineID.String(), Quantity: qty}
}

// advance walks an order forward through each status in turn.
func (f *fixture) advance(t *testing.T, id uuid.UUID, steps ...Status) {
	t.Helper()
	for _, st := range steps {
		_, err := f.svc.UpdateStatus(f.ctx, id, st, nil)
		require.NoError(t, err, "advance to %s", st)
	}
}

func TestCreateOrderReservesAndPrices(t *testing.T) {
	f := newFixture(t)
	para := f.medicine(t, "12.50", 10)
	amox := f.medicine(t, "3.25", 4)

	o, err := f.svc.CreateOrder(f.ctx, f.customer, f.order(line(para, 2), line(amox, 4)))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, o.Status)
	assert.Contains(t, o.StatusTimestamps, StatusPending)
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-F]{6}$`, o.OrderNumber)
	assert.True(t, o.TotalPrice.Equal(decimal.RequireFromString("38")), "total %s", o.TotalPrice)
	require.Len(t, o.Items, 2)
	assert.Equal(t, f.pharmacy, o.Items[0].StockPharmacyID)
	assert.True(t, o.Items[0].LineTotal.Equal(decimal.RequireFromString("25")))

	assert.Equal(t, 8, f.stockOf(t, para))
	assert.Equal(t, 0, f.stockOf(t, amox))

	require.Len(t, f.notifier.created, 1)
	assert.Equal(t, o.ID, f.notifier.created[0].ID)
}

func TestCreateOrderMergesDuplicateLines(t *testing.T) {
	f := newFixture(t)
	med := f.medicine(t, "1.00", 5)

	o, err := f.svc.CreateOrder(f.ctx, f.customer, f.order(line(med, 2), line(med, 3)))
	require.NoError(t, err)

	require.Len(t, o.Items, 1)
	assert.Equal(t, 5, o.Items[0].Quantity)
	assert.Equal(t, 0, f.stockOf(t, med))
}

func TestReserveReleaseScenario(t *testing.T) {
	f := newFixture(t)
	med := f.medicine(t, "10.00", 5)

	first, err := f.svc.CreateOrder(f.ctx, f.customer, f.order(line(med, 2)))
	require.NoError(t, err)
	assert.Equal(t, 3, f.stockOf(t, med))

	_, err = f.svc.CreateOrder(f.ctx, f.customer, f.order(line(med, 4)))
	var unavailable *StockUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, med, unavailable.MedicineID)
	assert.Equal(t, 4, unavailable.Requested)
	assert.Equal(t, 3, unavailable.Available)
	assert.Equal(t, 3, f.stockOf(t, med))

	cancelled, err := f.svc.UpdateStatus(f.ctx, first.ID, StatusCancelled, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, 5, f.stockOf(t, med))
}

func TestCreateOrderIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	plenty := f.medicine(t, "1.00", 10)
	also := f.medicine(t, "1.00", 10)
	scarce := f.medicine(t, "1.00", 1)

	_, err := f.svc.CreateOrder(f.ctx, f.customer, f.order(line(plenty, 3), line(also, 4), line(scarce, 2)))
	var unavailable *StockUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, scarce, unavailable.MedicineID)

	assert.Equal(t, 10, f.stockOf(t, plenty))
	assert.Equal(t, 10, f.stockOf(t, also))
	assert.Equal(t, 1, f.stockOf(t, scarce))
	assert.Empty(t, f.notifier.created)

	orders, err := f.svc.ListCustomerOrders(f.ctx, f.customer)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateOrderCompensatesWhenPersistFails(t *testing.T) {
	f := newFixture(t)
	med := f.medicine(t, "2.00", 6)
	f.repo.FailCreate = errors.New("connection reset")

	_, err := f.svc.CreateOrder(f.ctx, f.customer, f.order(line(med, 4)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist order")
	assert.Equal(t, 6, f.stockOf(t, med))
	assert.Empty(t, f.notifier.created)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	med := f.medicine(t, "2.00", 6)
	inactive := false
	hidden, err := f.catalog.CreateMedicine(f.ctx, catalog.MedicineRequest{Name: "Withdrawn", IsActive: &inactive})
	require.NoError(t, err)

	cases := map[string]CreateOrderRequest{
		"no pharmacy":       {Items: []LineItemRequest{line(med, 1)}},
		"bad pharmacy":      {PharmacyID: "nope", Items: []LineItemRequest{line(med, 1)}},
		"empty cart":        f.order(),
		"zero quantity":     f.order(line(med, 0)),
		"bad medicine id":   f.order(LineItemRequest{MedicineID: "x", Quantity: 1}),
		"inactive medicine": f.order(line(hidden.ID, 1)),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(f.ctx, f.customer, req)
			assert.True(t, apperr.IsValidation(err), "got %v", err)
		})
	}
	assert.Equal(t, 6, f.stockOf(t, med))
}

func TestCreateOrderUnknownMedicine(t *testing.T) {
	f := newFixture(t)
	stocked := f.medicine(t, "1.00", 3)

	_, err := f.svc.CreateOrder(f.ctx, f.customer, f.order(line(stocked, 1), line(uuid.New(), 1)))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 3, f.stockOf(t, stocked))
}

func TestCreateOrderWithoutStockRecord(t *testing.T) {
	f := newFixture(t)
	stocked := f.medicine(t, "1.00", 3)
	m, err := f.catalog.CreateMedicine(f.ctx, catalog.MedicineRequest{Name: "Unstocked", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(f.ctx, f.customer, f.order(line(stocked, 2), line(m.ID, 1)))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 3, f.stockOf(t, stocked))
}

func TestTotalSurvivesPriceChange(t *testing.T) {
	f := newFixture(t)
	med := f.medicine(t, "4.00", 10)

	o, err := f.svc.CreateOrder(f.ctx, f.customer, f.order(line(med, 3)))
	require.NoError(t, err)

	_, err = f.catalog.UpdateMedicine(f.ctx, med, catalog.MedicineRequest{Name: "Repriced", Price: decimal.RequireFromString("9.99")})
	require.NoError(t, err)

	got, err := f.svc.GetOrder(f.ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalPrice.Equal(decimal.RequireFromString("12")), "total %s", got.TotalPrice)
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("4")))
}

func TestUpdateStatusFollowsStateMachine(t *testing.T) {
	f := newFixture(t)
	med := f.medicine(t, "1.00", 5)
	o, err := f.svc.CreateOrder(f.ctx, f.customer, f.order(line(med, 1)))
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(f.ctx, o.ID, StatusDelivered, nil)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusPending, invalid.From)
	assert.Equal(t, StatusDelivered, invalid.To)

	f.advance(t, o.ID, StatusConfirmed, StatusProcessing, StatusPacked, StatusInTransit, StatusOutForDelivery, StatusDelivered)

	got, err := f.svc.GetOrder(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status)
	for _, st := range []Status{StatusPending, StatusConfirmed, StatusPacked, StatusDelivered} {
		assert.Contains(t, got.StatusTimestamps, st)
	}

	_, err = f.svc.UpdateStatus(f.ctx, o.ID, StatusCancelled, nil)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 4, f.stockOf(t, med), "delivered orders keep their stock")

	assert.Len(t, f.notifier.changes, 6)
	assert.Equal(t, statusChange{orderID: o.ID, from: StatusOutForDelivery, to: StatusDelivered}, f.notifier.changes[5])
}

func TestUpdateStatusUnknownStatusAndOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UpdateStatus(f.ctx, uuid.New(), Status("shipped"), nil)
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.UpdateStatus(f.ctx, uuid.New(), StatusConfirmed, nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	nilPartner := uuid.Nil
	_, err = f.svc.UpdateStatus(f.ctx, uuid.New(), StatusInTransit, &nilPartner)
	assert.True(t, apperr.IsValidation(err))
}

func TestCancelReleasesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	med := f.medicine(t, "1.00", 5)
	o, err := f.svc.CreateOrder(f.ctx, f.customer, f.order(line(med, 3)))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.UpdateStatus(f.ctx, o.ID, StatusCancelled, nil); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				var invalid *InvalidTransitionError
				assert.ErrorAs(t, err, &invalid)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 5, f.stockOf(t, med))

	_, err = f.svc.UpdateStatus(f.ctx, o.ID, StatusCancelled, nil)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusCancelled, invalid.From)
	assert.Equal(t, 5, f.stockOf(t, med))
}

func TestExclusiveDeliveryAssignment(t *testing.T) {
	f := newFixture(t)
	med := f.medicine(t, "1.00", 5)
	o, err := f.svc.CreateOrder(f.ctx, f.customer, f.order(line(med, 1)))
	require.NoError(t, err)
	f.advance(t, o.ID, StatusConfirmed, StatusProcessing, StatusPacked)

	available, err := f.svc.ListAvailableDeliveries(f.ctx)
	require.NoError(t, err)
	require.Len(t, available, 1)

	const partners = 10
	var wg sync.WaitGroup
	results := make([]error, partners)
	ids := make([]uuid.UUID, partners)
	for i := 0; i < partners; i++ {
		ids[i] = uuid.New()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.UpdateStatus(f.ctx, o.ID, StatusInTransit, &ids[i])
		}(i)
	}
	wg.Wait()

	var winner uuid.UUID
	for i, err := range results {
		if err == nil {
			assert.Equal(t, uuid.Nil, winner, "more than one partner won")
			winner = ids[i]
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyAssigned)
	}
	require.NotEqual(t, uuid.Nil, winner)

	got, err := f.svc.GetOrder(f.ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DeliveryPartnerID)
	assert.Equal(t, winner, *got.DeliveryPartnerID)
	assert.Equal(t, StatusInTransit, got.Status)

	mine, err := f.svc.ListPartnerDeliveries(f.ctx, winner)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	available, err = f.svc.ListAvailableDeliveries(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, available)

	// A later reassignment attempt is rejected even on a legal transition.
	other := uuid.New()
	_, err = f.svc.UpdateStatus(f.ctx, o.ID, StatusOutForDelivery, &other)
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
}

func TestCancelQueuesFailedRelease(t *testing.T) {
	f := newFixture(t)
	med := f.medicine(t, "1.00", 5)
	o, err := f.svc.CreateOrder(f.ctx, f.customer, f.order(line(med, 2)))
	require.NoError(t, err)

	// Point the stored line item at a record that does not exist so the
	// synchronous release fails.
	f.repo.mu.Lock()
	f.repo.orders[o.ID].Items[0].StockPharmacyID = uuid.New()
	f.repo.mu.Unlock()

	_, err = f.svc.UpdateStatus(f.ctx, o.ID, StatusCancelled, nil)
	require.NoError(t, err)

	size, err := f.queue.Size(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)
}

func TestListPharmacyOrdersFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	med := f.medicine(t, "1.00", 10)
	a, err := f.svc.CreateOrder(f.ctx, f.customer, f.order(line(med, 1)))
	require.NoError(t, err)
	_, err = f.svc.CreateOrder(f.ctx, f.customer, f.order(line(med, 1)))
	require.NoError(t, err)
	f.advance(t, a.ID, StatusConfirmed)

	all, err := f.svc.ListPharmacyOrders(f.ctx, f.pharmacy, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	confirmed, err := f.svc.ListPharmacyOrders(f.ctx, f.pharmacy, StatusConfirmed)
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, a.ID, confirmed[0].ID)

	byNumber, err := f.svc.GetOrderByNumber(f.ctx, a.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, a.ID, byNumber.ID)
}

// acceptingRepo assigns a partner to the order right before the status write,
// as a partner accepting concurrently would.
type acceptingRepo struct {
	*MemoryRepository
	partner uuid.UUID
}

func (r *acceptingRepo) Transition(ctx context.Context, t Transition) (*Order, error) {
	r.mu.Lock()
	if o, ok := r.orders[t.OrderID]; ok && o.DeliveryPartnerID == nil {
		id := r.partner
		o.DeliveryPartnerID = &id
	}
	r.mu.Unlock()
	return r.MemoryRepository.Transition(ctx, t)
}

func TestCancelUnassigned(t *testing.T) {
	f := newFixture(t)
	med := f.medicine(t, "1.00", 5)

	open, err := f.svc.CreateOrder(f.ctx, f.customer, f.order(line(med, 1)))
	require.NoError(t, err)
	taken, err := f.svc.CreateOrder(f.ctx, f.customer, f.order(line(med, 2)))
	require.NoError(t, err)
	f.advance(t, taken.ID, StatusConfirmed, StatusProcessing, StatusPacked)
	driver := uuid.New()
	_, err = f.svc.UpdateStatus(f.ctx, taken.ID, StatusInTransit, &driver)
	require.NoError(t, err)
	assert.Equal(t, 2, f.stockOf(t, med))

	_, err = f.svc.CancelUnassigned(f.ctx, taken.ID)
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
	got, err := f.svc.GetOrder(f.ctx, taken.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, got.Status)
	assert.Equal(t, 2, f.stockOf(t, med))

	cancelled, err := f.svc.CancelUnassigned(f.ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, 3, f.stockOf(t, med))
}

func TestCancelUnassignedLosesToConcurrentAccept(t *testing.T) {
	f := newFixture(t)
	repo := &acceptingRepo{MemoryRepository: f.repo, partner: uuid.New()}
	svc := NewService(repo, f.stock, f.catalog, f.notifier, nil)
	med := f.medicine(t, "1.00", 5)

	o, err := svc.CreateOrder(f.ctx, f.customer, f.order(line(med, 2)))
	require.NoError(t, err)

	_, err = svc.CancelUnassigned(f.ctx, o.ID)
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
	got, err := svc.GetOrder(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 3, f.stockOf(t, med), "stock stays reserved")
}
