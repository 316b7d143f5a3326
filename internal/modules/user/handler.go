package user

import (
	"encoding/json"
	"net/http"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/georgemunganga/medassist-backend/internal/platform/identity"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
	auth    func(http.Handler) http.Handler
}

// NewHandler wires the user routes. authMiddleware guards every route except registration.
func NewHandler(service Service, authMiddleware func(http.Handler) http.Handler) *Handler {
	return &Handler{service: service, auth: authMiddleware}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Post("/users/register", h.registerUser)
	router.Group(func(r chi.Router) {
		r.Use(h.auth)
		r.Get("/users/me", h.getMe)
		r.Get("/users/{id}", h.getUser)
	})
}

func (h *Handler) registerUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	user, err := h.service.RegisterUser(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, user)
}

func (h *Handler) getMe(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	user, err := h.service.GetUser(r.Context(), caller.UserID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, user)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}
	caller, _ := identity.FromContext(r.Context())
	if caller.UserID != id && !caller.Is(string(RoleAdmin)) {
		respond(w, http.StatusForbidden, map[string]string{"error": "cannot view another user"})
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, user)
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
