package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/playperu/livequiz/internal/auth"
)

type ctxKey int

const (
	ctxKeyIdentity ctxKey = iota
	ctxKeyLogger
)

func loggerMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), ctxKeyLogger, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authMiddleware verifies the caller's token and stores the identity in
// the request context. Requests without a token pass through anonymous;
// a token that fails verification is rejected.
func authMiddleware(tokens *auth.Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := tokenFromRequest(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			id, err := tokens.Verify(raw)
			if err != nil {
				loggerFrom(r).Debug("rejected token", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyIdentity, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := identityFrom(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "not allowed for this role")
		})
	}
}

var (
	requireIdentity    = requireRole(auth.RoleHost, auth.RoleParticipant)
	requireHost        = requireRole(auth.RoleHost)
	requireParticipant = requireRole(auth.RoleParticipant)
)

func identityFrom(r *http.Request) (auth.Identity, bool) {
	id, ok := r.Context().Value(ctxKeyIdentity).(auth.Identity)
	return id, ok
}

func loggerFrom(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(ctxKeyLogger).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
