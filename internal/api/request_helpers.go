package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/api/shared"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/platform/logger"
	"github.com/shopspring/decimal"
)

// getCallerFromContext extracts the caller placed in the context by the
// identity middleware.
func getCallerFromContext(r *http.Request) (domain.Caller, bool) {
	caller, ok := shared.CallerFromContext(r.Context())
	if !ok || caller.UserID == uuid.Nil || !caller.Role.IsValid() {
		return domain.Caller{}, false
	}
	return caller, true
}

// getPathUUID parses the named chi path parameter as a UUID.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, paramName))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// handleCallerAndPathUUID extracts the caller and a path UUID, writing an
// error response and returning false if either is missing or invalid.
func handleCallerAndPathUUID(
	w http.ResponseWriter,
	r *http.Request,
	paramName string,
	resource string,
	log *slog.Logger,
) (domain.Caller, uuid.UUID, bool) {
	if log == nil {
		log = logger.FromContextOrDefault(r.Context(), slog.Default())
	}

	caller, ok := getCallerFromContext(r)
	if !ok {
		log.Warn("caller not found or invalid in request context")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Caller identity required")
		return domain.Caller{}, uuid.Nil, false
	}

	id, ok := getPathUUID(r, paramName)
	if !ok {
		log.Debug("invalid path parameter",
			slog.String("param_name", paramName),
			slog.String("value", chi.URLParam(r, paramName)))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid "+resource+" ID")
		return domain.Caller{}, uuid.Nil, false
	}

	return caller, id, true
}

// decodeAndValidate decodes the JSON body into req and validates it. An
// empty body is accepted when optional is set. It writes a 400 response
// and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}, optional bool) bool {
	if err := shared.DecodeJSON(r, req); err != nil {
		if !(optional && errors.Is(err, shared.ErrEmptyBody)) {
			shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
			return false
		}
	}

	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return false
	}
	return true
}

// parseAmount parses a decimal amount already checked by the "numeric" tag.
func parseAmount(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(raw))
}

// parseOptionalUUID parses a UUID field already checked by the "uuid" tag.
func parseOptionalUUID(raw string) *uuid.UUID {
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}
