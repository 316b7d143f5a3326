package order

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/georgemunganga/medassist-backend/internal/modules/user"
	"github.com/georgemunganga/medassist-backend/internal/platform/identity"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokens map[string]identity.Identity

func (p tokens) ParseToken(token string) (identity.Identity, error) {
	id, ok := p[token]
	if !ok {
		return identity.Identity{}, errors.New("unknown token")
	}
	return id, nil
}

type staffMap map[uuid.UUID][]uuid.UUID

func (s staffMap) StaffUserIDs(_ context.Context, pharmacyID uuid.UUID) ([]uuid.UUID, error) {
	return s[pharmacyID], nil
}

type api struct {
	*fixture
	router http.Handler
	tokens tokens
}

func newAPI(t *testing.T) *api {
	f := newFixture(t)
	a := &api{fixture: f, tokens: tokens{}}
	staff := staffMap{}
	a.as("customer", f.customer, user.RoleCustomer)
	a.as("stranger", uuid.New(), user.RoleCustomer)
	pharmacist := a.as("pharmacist", uuid.New(), user.RolePharmacy)
	a.as("other-pharmacist", uuid.New(), user.RolePharmacy)
	a.as("driver", uuid.New(), user.RoleDeliveryPartner)
	a.as("driver2", uuid.New(), user.RoleDeliveryPartner)
	a.as("admin", uuid.New(), user.RoleAdmin)
	staff[f.pharmacy] = []uuid.UUID{pharmacist}

	r := chi.NewRouter()
	NewHandler(f.svc, staff, identity.Middleware(a.tokens), nil).RegisterRoutes(r)
	a.router = r
	return a
}

func (a *api) as(token string, id uuid.UUID, role user.Role) uuid.UUID {
	a.tokens[token] = identity.Identity{UserID: id, Role: string(role)}
	return id
}

func (a *api) do(t *testing.T, token, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

func (a *api) place(t *testing.T, med uuid.UUID, qty int) *Order {
	t.Helper()
	rec := a.do(t, "customer", http.MethodPost, "/api/v1/orders", a.order(line(med, qty)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var o Order
	decode(t, rec, &o)
	return &o
}

func TestCreateOrderHandler(t *testing.T) {
	a := newAPI(t)
	med := a.medicine(t, "5.00", 3)

	o := a.place(t, med, 2)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, a.customer, o.CustomerID)

	rec := a.do(t, "customer", http.MethodPost, "/api/v1/orders", a.order(line(med, 5)))
	assert.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, med.String(), body["medicine_id"])
	assert.EqualValues(t, 1, body["available"])

	rec = a.do(t, "customer", http.MethodPost, "/api/v1/orders", a.order())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, "driver", http.MethodPost, "/api/v1/orders", a.order(line(med, 1)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, "", http.MethodPost, "/api/v1/orders", a.order(line(med, 1)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOrderVisibility(t *testing.T) {
	a := newAPI(t)
	med := a.medicine(t, "5.00", 3)
	o := a.place(t, med, 1)
	path := "/api/v1/orders/" + o.ID.String()

	for token, want := range map[string]int{
		"customer":         http.StatusOK,
		"pharmacist":       http.StatusOK,
		"admin":            http.StatusOK,
		"stranger":         http.StatusNotFound,
		"other-pharmacist": http.StatusNotFound,
		"driver":           http.StatusNotFound,
	} {
		assert.Equal(t, want, a.do(t, token, http.MethodGet, path, nil).Code, token)
	}

	rec := a.do(t, "customer", http.MethodGet, "/api/v1/orders/number/"+o.OrderNumber, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, "customer", http.MethodGet, "/api/v1/orders/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, "admin", http.MethodGet, "/api/v1/orders/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateStatusHandlerPermissions(t *testing.T) {
	a := newAPI(t)
	med := a.medicine(t, "5.00", 5)
	o := a.place(t, med, 2)
	path := "/api/v1/orders/" + o.ID.String() + "/status"

	rec := a.do(t, "customer", http.MethodPatch, path, UpdateStatusRequest{Status: "confirmed"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, "other-pharmacist", http.MethodPatch, path, UpdateStatusRequest{Status: "confirmed"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, "driver", http.MethodPatch, path, UpdateStatusRequest{Status: "confirmed"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, "pharmacist", http.MethodPut, path, UpdateStatusRequest{Status: "delivered"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, "pharmacist", http.MethodPatch, path, UpdateStatusRequest{Status: "teleported"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, "pharmacist", http.MethodPatch, path, UpdateStatusRequest{Status: "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, "stranger", http.MethodPatch, path, UpdateStatusRequest{Status: "cancelled"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, "customer", http.MethodPatch, path, UpdateStatusRequest{Status: "canceled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 5, a.stockOf(t, med))

	rec = a.do(t, "customer", http.MethodPatch, path, UpdateStatusRequest{Status: "cancelled"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 5, a.stockOf(t, med))
}

func TestDeliveryFlow(t *testing.T) {
	a := newAPI(t)
	med := a.medicine(t, "5.00", 5)
	o := a.place(t, med, 1)
	statusPath := "/api/v1/orders/" + o.ID.String() + "/status"

	acceptPath := "/api/v1/deliveries/" + o.ID.String() + "/accept"
	assert.Equal(t, http.StatusConflict, a.do(t, "driver", http.MethodPost, acceptPath, nil).Code)

	for _, st := range []string{"confirmed", "preparing", "ready"} {
		rec := a.do(t, "pharmacist", http.MethodPatch, statusPath, UpdateStatusRequest{Status: st})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	var available []*Order
	rec := a.do(t, "driver", http.MethodGet, "/api/v1/deliveries/available", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &available)
	require.Len(t, available, 1)
	assert.Equal(t, http.StatusOK, a.do(t, "driver2", http.MethodGet, "/api/v1/orders/"+o.ID.String(), nil).Code)

	rec = a.do(t, "driver", http.MethodPost, acceptPath, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var accepted Order
	decode(t, rec, &accepted)
	assert.Equal(t, StatusInTransit, accepted.Status)
	require.NotNil(t, accepted.DeliveryPartnerID)
	assert.Equal(t, a.tokens["driver"].UserID, *accepted.DeliveryPartnerID)

	assert.Equal(t, http.StatusConflict, a.do(t, "driver2", http.MethodPost, acceptPath, nil).Code)
	assert.Equal(t, http.StatusForbidden,
		a.do(t, "driver2", http.MethodPatch, statusPath, UpdateStatusRequest{Status: "out_for_delivery"}).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, "driver2", http.MethodGet, "/api/v1/orders/"+o.ID.String(), nil).Code)

	assert.Equal(t, http.StatusForbidden,
		a.do(t, "driver", http.MethodPatch, statusPath, UpdateStatusRequest{Status: "cancelled"}).Code)
	for _, st := range []string{"out-for-delivery", "completed"} {
		rec := a.do(t, "driver", http.MethodPatch, statusPath, UpdateStatusRequest{Status: st})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	var mine []*Order
	rec = a.do(t, "driver", http.MethodGet, "/api/v1/deliveries/mine", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &mine)
	require.Len(t, mine, 1)
	assert.Equal(t, StatusDelivered, mine[0].Status)

	assert.Equal(t, http.StatusForbidden, a.do(t, "customer", http.MethodGet, "/api/v1/deliveries/available", nil).Code)
}

func TestListPharmacyOrdersHandler(t *testing.T) {
	a := newAPI(t)
	med := a.medicine(t, "5.00", 5)
	a.place(t, med, 1)
	path := "/api/v1/orders/pharmacy/" + a.pharmacy.String()

	var orders []*Order
	rec := a.do(t, "pharmacist", http.MethodGet, path+"?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &orders)
	assert.Len(t, orders, 1)

	assert.Equal(t, http.StatusBadRequest, a.do(t, "pharmacist", http.MethodGet, path+"?status=lost", nil).Code)
	assert.Equal(t, http.StatusForbidden, a.do(t, "other-pharmacist", http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusForbidden, a.do(t, "customer", http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusOK, a.do(t, "admin", http.MethodGet, path, nil).Code)

	var mine []*Order
	rec = a.do(t, "customer", http.MethodGet, "/api/v1/orders/mine", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &mine)
	assert.Len(t, mine, 1)
}

func TestCustomerCannotCancelAssignedOrder(t *testing.T) {
	a := newAPI(t)
	med := a.medicine(t, "5.00", 5)
	o := a.place(t, med, 1)
	statusPath := "/api/v1/orders/" + o.ID.String() + "/status"

	for _, st := range []string{"confirmed", "processing", "packed"} {
		rec := a.do(t, "pharmacist", http.MethodPatch, statusPath, UpdateStatusRequest{Status: st})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := a.do(t, "driver", http.MethodPost, "/api/v1/deliveries/"+o.ID.String()+"/accept", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, "customer", http.MethodPatch, statusPath, UpdateStatusRequest{Status: "cancelled"})
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Equal(t, 4, a.stockOf(t, med))

	var got Order
	rec = a.do(t, "customer", http.MethodGet, "/api/v1/orders/"+o.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &got)
	assert.Equal(t, StatusInTransit, got.Status)
}
