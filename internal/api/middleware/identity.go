package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/api/shared"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/platform/logger"
)

// Identity headers set by the upstream gateway after authentication.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// IdentityMiddleware turns the identity asserted by the upstream gateway
// into a domain.Caller on the request context.
type IdentityMiddleware struct {
	logger *slog.Logger
}

// NewIdentityMiddleware creates a new IdentityMiddleware.
func NewIdentityMiddleware(log *slog.Logger) *IdentityMiddleware {
	if log == nil {
		log = slog.Default()
	}
	return &IdentityMiddleware{
		logger: log.With(slog.String("component", "identity_middleware")),
	}
}

// Identify rejects requests without a valid user ID and role with 401.
// The system role is reserved for in-process callers and is never accepted
// from a header.
func (m *IdentityMiddleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContextOrDefault(r.Context(), m.logger)

		rawID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if rawID == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Caller identity required")
			return
		}

		userID, err := uuid.Parse(rawID)
		if err != nil || userID == uuid.Nil {
			log.Warn("invalid caller user ID header", slog.String("header", HeaderUserID))
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid caller identity")
			return
		}

		role := domain.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))))
		if !role.IsValid() || role == domain.RoleSystem {
			log.Warn("invalid caller role header",
				slog.String("header", HeaderUserRole),
				slog.String("user_id", userID.String()))
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid caller role")
			return
		}

		caller := domain.Caller{UserID: userID, Role: role}
		ctx := shared.WithCaller(r.Context(), caller)
		ctx = logger.WithContext(ctx, log.With(
			slog.String("caller_id", userID.String()),
			slog.String("caller_role", string(role)),
		))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCaller extracts the caller from the request context.
// Returns the caller and a boolean indicating if it was found.
func GetCaller(r *http.Request) (domain.Caller, bool) {
	return shared.CallerFromContext(r.Context())
}
