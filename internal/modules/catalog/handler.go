package catalog

import (
	"encoding/json"
	"net/http"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handler exposes catalog HTTP endpoints.
type Handler struct {
	service Service
	auth    func(http.Handler) http.Handler
	admin   func(http.Handler) http.Handler
}

// NewHandler wires the medicine routes. Reads need any authenticated caller;
// writes go through adminOnly.
func NewHandler(service Service, authMiddleware, adminOnly func(http.Handler) http.Handler) *Handler {
	return &Handler{service: service, auth: authMiddleware, admin: adminOnly}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/medicines", func(r chi.Router) {
		r.Use(h.auth)
		r.Get("/", h.listMedicines)
		r.Get("/{id}", h.getMedicine)
		r.With(h.admin).Post("/", h.createMedicine)
		r.With(h.admin).Put("/{id}", h.updateMedicine)
	})
}

func (h *Handler) listMedicines(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	activeOnly := r.URL.Query().Get("active") != "false"
	medicines, err := h.service.ListMedicines(r.Context(), category, activeOnly)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, medicines)
}

func (h *Handler) createMedicine(w http.ResponseWriter, r *http.Request) {
	var req MedicineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	m, err := h.service.CreateMedicine(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, m)
}

func (h *Handler) getMedicine(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid medicine id"})
		return
	}
	m, err := h.service.GetMedicine(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, m)
}

func (h *Handler) updateMedicine(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid medicine id"})
		return
	}
	var req MedicineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	m, err := h.service.UpdateMedicine(r.Context(), id, req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, m)
}

func respondError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	respond(w, status, map[string]string{"error": apperr.PublicMessage(status, err)})
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
