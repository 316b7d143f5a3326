package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/georgemunganga/medassist-backend/internal/modules/user"
	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/georgemunganga/medassist-backend/internal/platform/identity"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StaffDirectory answers which users work at a pharmacy.
type StaffDirectory interface {
	StaffUserIDs(ctx context.Context, pharmacyID uuid.UUID) ([]uuid.UUID, error)
}

// Handler exposes order HTTP endpoints.
type Handler struct {
	service Service
	staff   StaffDirectory
	auth    func(http.Handler) http.Handler
	logger  *zap.Logger
}

func NewHandler(service Service, staff StaffDirectory, authMiddleware func(http.Handler) http.Handler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, staff: staff, auth: authMiddleware, logger: logger}
}

var (
	customerOnly = identity.RequireRole(string(user.RoleCustomer))
	partnerOnly  = identity.RequireRole(string(user.RoleDeliveryPartner))
	staffOnly    = identity.RequireRole(string(user.RolePharmacy), string(user.RoleAdmin))
)

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(h.auth)
		r.With(customerOnly).Post("/", h.createOrder)
		r.With(customerOnly).Get("/mine", h.listMyOrders)
		r.Get("/{id}", h.getOrder)
		r.Get("/number/{number}", h.getOrderByNumber)
		r.Put("/{id}/status", h.updateStatus)
		r.Patch("/{id}/status", h.updateStatus)
		// ?status=packed narrows the list
		r.With(staffOnly).Get("/pharmacy/{pharmacy_id}", h.listPharmacyOrders)
	})
	r.Route("/api/v1/deliveries", func(r chi.Router) {
		r.Use(h.auth, partnerOnly)
		r.Get("/available", h.listAvailableDeliveries)
		r.Get("/mine", h.listMyDeliveries)
		r.Post("/{id}/accept", h.acceptDelivery)
	})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	o, err := h.service.CreateOrder(r.Context(), caller.UserID, req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, o)
}

func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	orders, err := h.service.ListCustomerOrders(r.Context(), caller.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, orders)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	o, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondVisible(w, r, o)
}

func (h *Handler) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetOrderByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondVisible(w, r, o)
}

func (h *Handler) respondVisible(w http.ResponseWriter, r *http.Request, o *Order) {
	allowed, err := h.canView(r.Context(), o)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !allowed {
		// Hide the existence of other people's orders.
		respond(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	respond(w, http.StatusOK, o)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var partnerID *uuid.UUID
	if req.DeliveryPartnerID != "" {
		pid, err := uuid.Parse(req.DeliveryPartnerID)
		if err != nil {
			respond(w, http.StatusBadRequest, map[string]string{"error": "invalid delivery_partner_id"})
			return
		}
		partnerID = &pid
	}

	current, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	partnerID, err = h.authorizeTransition(r.Context(), current, status, partnerID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var o *Order
	if caller, _ := identity.FromContext(r.Context()); caller.Is(string(user.RoleCustomer)) {
		// A partner may accept between the read above and this write.
		o, err = h.service.CancelUnassigned(r.Context(), id)
	} else {
		o, err = h.service.UpdateStatus(r.Context(), id, status, partnerID)
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, o)
}

func (h *Handler) listPharmacyOrders(w http.ResponseWriter, r *http.Request) {
	pharmacyID, ok := parseID(w, chi.URLParam(r, "pharmacy_id"))
	if !ok {
		return
	}
	if err := h.requireStaff(r.Context(), pharmacyID); err != nil {
		h.respondError(w, r, err)
		return
	}
	var status Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		var err error
		if status, err = ParseStatus(raw); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	orders, err := h.service.ListPharmacyOrders(r.Context(), pharmacyID, status)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, orders)
}

func (h *Handler) listAvailableDeliveries(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListAvailableDeliveries(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, orders)
}

func (h *Handler) listMyDeliveries(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	orders, err := h.service.ListPartnerDeliveries(r.Context(), caller.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, orders)
}

// acceptDelivery assigns the calling partner and moves the order to in_transit.
func (h *Handler) acceptDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	caller, _ := identity.FromContext(r.Context())
	o, err := h.service.UpdateStatus(r.Context(), id, StatusInTransit, &caller.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, o)
}

// ── authorization ─────────────────────────────────────────────────────────────

func (h *Handler) canView(ctx context.Context, o *Order) (bool, error) {
	caller, _ := identity.FromContext(ctx)
	switch user.Role(caller.Role) {
	case user.RoleAdmin:
		return true, nil
	case user.RoleCustomer:
		return o.CustomerID == caller.UserID, nil
	case user.RoleDeliveryPartner:
		if o.DeliveryPartnerID != nil {
			return *o.DeliveryPartnerID == caller.UserID, nil
		}
		return o.Status == StatusPacked, nil
	case user.RolePharmacy:
		err := h.requireStaff(ctx, o.PharmacyID)
		if errors.Is(err, apperr.ErrForbidden) {
			return false, nil
		}
		return err == nil, err
	}
	return false, nil
}

// authorizeTransition decides whether the caller may request to, and returns
// the delivery partner to assign (a partner always assigns themselves).
func (h *Handler) authorizeTransition(ctx context.Context, o *Order, to Status, partnerID *uuid.UUID) (*uuid.UUID, error) {
	caller, _ := identity.FromContext(ctx)
	switch user.Role(caller.Role) {
	case user.RoleAdmin:
		return partnerID, nil
	case user.RolePharmacy:
		return partnerID, h.requireStaff(ctx, o.PharmacyID)
	case user.RoleCustomer:
		if o.CustomerID != caller.UserID || to != StatusCancelled || partnerID != nil || o.DeliveryPartnerID != nil {
			return nil, apperr.ErrForbidden
		}
		return nil, nil
	case user.RoleDeliveryPartner:
		if to == StatusCancelled {
			return nil, apperr.ErrForbidden
		}
		if o.DeliveryPartnerID == nil {
			if o.Status != StatusPacked {
				return nil, apperr.ErrForbidden
			}
			// Taking an unassigned order always assigns the caller.
			self := caller.UserID
			return &self, nil
		}
		if *o.DeliveryPartnerID != caller.UserID || partnerID != nil {
			return nil, apperr.ErrForbidden
		}
		return nil, nil
	}
	return nil, apperr.ErrForbidden
}

func (h *Handler) requireStaff(ctx context.Context, pharmacyID uuid.UUID) error {
	caller, _ := identity.FromContext(ctx)
	if caller.Is(string(user.RoleAdmin)) {
		return nil
	}
	if h.staff == nil || !caller.Is(string(user.RolePharmacy)) {
		return apperr.ErrForbidden
	}
	ids, err := h.staff.StaffUserIDs(ctx, pharmacyID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == caller.UserID {
			return nil
		}
	}
	return apperr.ErrForbidden
}

// ── responses ─────────────────────────────────────────────────────────────────

// statusFor maps the order error kinds to HTTP codes.
func statusFor(err error) int {
	var stock *StockUnavailableError
	var transition *InvalidTransitionError
	switch {
	case errors.As(err, &stock), errors.As(err, &transition), errors.Is(err, ErrAlreadyAssigned):
		return http.StatusConflict
	}
	return apperr.HTTPStatus(err)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("order request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	body := map[string]interface{}{"error": apperr.PublicMessage(status, err)}
	var stock *StockUnavailableError
	if errors.As(err, &stock) {
		body["medicine_id"] = stock.MedicineID
		body["available"] = stock.Available
	}
	respond(w, status, body)
}

func parseID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid id " + raw})
		return uuid.Nil, false
	}
	return id, true
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
