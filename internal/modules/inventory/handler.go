package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/georgemunganga/medassist-backend/internal/platform/identity"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	roleAdmin    = "admin"
	rolePharmacy = "pharmacy"
)

// Handler exposes pharmacy, staff and stock endpoints.
type Handler struct {
	service Service
	auth    func(http.Handler) http.Handler
	logger  *zap.Logger
}

func NewHandler(service Service, authMiddleware func(http.Handler) http.Handler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, auth: authMiddleware, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	adminOnly := identity.RequireRole(roleAdmin)

	r.Route("/api/v1/pharmacies", func(r chi.Router) {
		r.Use(h.auth)
		r.Get("/", h.listPharmacies)
		r.With(adminOnly).Post("/", h.createPharmacy)
		r.Get("/{id}", h.getPharmacy)

		// ── staff ──
		r.With(adminOnly).Post("/{id}/staff", h.addStaff)
		r.Get("/{id}/staff", h.listStaff)
		r.With(adminOnly).Delete("/{id}/staff/{user_id}", h.removeStaff)

		// ── stock ──
		r.Get("/{id}/stock", h.listStock)
		r.Get("/{id}/stock/{medicine_id}", h.queryStock)
		r.Put("/{id}/stock", h.setStock)
	})
}

func (h *Handler) createPharmacy(w http.ResponseWriter, r *http.Request) {
	var req CreatePharmacyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	p, err := h.service.CreatePharmacy(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, p)
}

func (h *Handler) listPharmacies(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListPharmacies(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, list)
}

func (h *Handler) getPharmacy(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	p, err := h.service.GetPharmacy(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, p)
}

type addStaffRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *Handler) addStaff(w http.ResponseWriter, r *http.Request) {
	pharmacyID, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req addStaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	userID, ok := parseID(w, req.UserID)
	if !ok {
		return
	}
	staff, err := h.service.AddStaff(r.Context(), pharmacyID, userID, req.Role)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, staff)
}

func (h *Handler) listStaff(w http.ResponseWriter, r *http.Request) {
	pharmacyID, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := h.requireStaff(r.Context(), pharmacyID); err != nil {
		h.respondError(w, r, err)
		return
	}
	staff, err := h.service.ListStaff(r.Context(), pharmacyID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, staff)
}

func (h *Handler) removeStaff(w http.ResponseWriter, r *http.Request) {
	pharmacyID, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	userID, ok := parseID(w, chi.URLParam(r, "user_id"))
	if !ok {
		return
	}
	if err := h.service.RemoveStaff(r.Context(), pharmacyID, userID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	pharmacyID, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	records, err := h.service.ListStock(r.Context(), pharmacyID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, records)
}

func (h *Handler) queryStock(w http.ResponseWriter, r *http.Request) {
	pharmacyID, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	medicineID, ok := parseID(w, chi.URLParam(r, "medicine_id"))
	if !ok {
		return
	}
	qty, err := h.service.Query(r.Context(), pharmacyID, medicineID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, StockRecord{PharmacyID: pharmacyID, MedicineID: medicineID, Quantity: qty})
}

func (h *Handler) setStock(w http.ResponseWriter, r *http.Request) {
	pharmacyID, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := h.requireStaff(r.Context(), pharmacyID); err != nil {
		h.respondError(w, r, err)
		return
	}
	var req SetStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	rec, err := h.service.SetStock(r.Context(), pharmacyID, req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, rec)
}

// requireStaff lets admins through and pharmacy users only for their own pharmacy.
func (h *Handler) requireStaff(ctx context.Context, pharmacyID uuid.UUID) error {
	caller, _ := identity.FromContext(ctx)
	if caller.Is(roleAdmin) {
		return nil
	}
	if !caller.Is(rolePharmacy) {
		return apperr.ErrForbidden
	}
	staff, err := h.service.ListStaff(ctx, pharmacyID)
	if err != nil {
		return err
	}
	for _, s := range staff {
		if s.UserID == caller.UserID {
			return nil
		}
	}
	return apperr.ErrForbidden
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	var insufficient *InsufficientStockError
	if errors.As(err, &insufficient) {
		status = http.StatusConflict
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("inventory request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	respond(w, status, map[string]string{"error": apperr.PublicMessage(status, err)})
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
