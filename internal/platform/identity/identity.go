// Package identity carries the authenticated caller through a request.
package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Identity is the caller resolved from a bearer token.
type Identity struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
}

// Is reports whether the caller holds any of roles.
func (id Identity) Is(roles ...string) bool {
	for _, r := range roles {
		if id.Role == r {
			return true
		}
	}
	return false
}

// TokenParser turns a raw bearer token into an Identity.
type TokenParser interface {
	ParseToken(token string) (Identity, error)
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Middleware rejects requests without a valid Authorization bearer token.
func Middleware(parser TokenParser) func(http.Handler) http.Handler {
	return authenticate(parser, bearerToken)
}

// WebsocketMiddleware is Middleware for websocket upgrades, where browsers
// cannot set headers: it also accepts the token as ?token=.
func WebsocketMiddleware(parser TokenParser) func(http.Handler) http.Handler {
	return authenticate(parser, func(r *http.Request) string {
		if token := bearerToken(r); token != "" {
			return token
		}
		if token, ok := r.Context().Value(queryTokenKey{}).(string); ok {
			return token
		}
		return r.URL.Query().Get(queryTokenParam)
	})
}

const queryTokenParam = "token"

type queryTokenKey struct{}

// HideQueryToken moves ?token= out of the request URL into the context, so
// access logs mounted after it never see the token. Mount it first.
func HideQueryToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		token := q.Get(queryTokenParam)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		q.Del(queryTokenParam)
		r = r.WithContext(context.WithValue(r.Context(), queryTokenKey{}, token))
		u := *r.URL
		u.RawQuery = q.Encode()
		r.URL = &u
		r.RequestURI = u.RequestURI()
		next.ServeHTTP(w, r)
	})
}

func authenticate(parser TokenParser, extract func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extract(r)
			if token == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			id, err := parser.ParseToken(token)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole allows only callers holding one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				unauthorized(w, "missing identity")
				return
			}
			if !id.Is(roles...) {
				writeError(w, http.StatusForbidden, "role "+id.Role+" may not access this resource")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
