package notification

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/georgemunganga/medassist-backend/internal/platform/identity"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

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
	r.Route("/api/v1/notifications", func(r chi.Router) {
		r.Use(h.auth)
		r.Get("/", h.list)                // ?unread=true&limit=20
		r.Get("/unread-count", h.unreadCount)
		r.Patch("/read-all", h.markAllRead)
		r.Patch("/{id}/read", h.markRead) // PATCH /api/v1/notifications/{id}/read
		r.Delete("/{id}", h.delete)
		r.Delete("/", h.clear)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.service.List(r.Context(), caller.UserID, unread, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, list)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid notification id"})
		return
	}
	n, err := h.service.MarkRead(r.Context(), id, caller.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, n)
}

func (h *Handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	n, err := h.service.MarkAllRead(r.Context(), caller.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	n, err := h.service.UnreadCount(r.Context(), caller.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]int{"unread": n})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid notification id"})
		return
	}
	if err := h.service.Delete(r.Context(), id, caller.UserID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	n, err := h.service.Clear(r.Context(), caller.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("notification request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	respond(w, status, map[string]string{"error": apperr.PublicMessage(status, err)})
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
