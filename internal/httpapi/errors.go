package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"agenthub.io/internal/auth"
	"agenthub.io/internal/credentials"
	"agenthub.io/internal/envelope"
	"agenthub.io/internal/mcpoauth"
	"agenthub.io/internal/obs"
)

// writeServiceError maps domain errors onto status codes and {error, code} bodies.
// Anything unrecognised is logged and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *auth.ValidationError
		account    *auth.AccountStateError
		permission *auth.PermissionDeniedError
		persona    *auth.PersonaDeniedError
		limited    *auth.RateLimitedError
	)
	switch {
	case errors.As(err, &validation):
		writeErrorWith(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "validation failed",
			map[string]any{"details": validation.Violations})
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid input")
	case errors.Is(err, auth.ErrMissingToken):
		w.Header().Set("WWW-Authenticate", `Bearer realm="agenthub"`)
		writeError(w, r, http.StatusUnauthorized, "MISSING_TOKEN", "authentication required")
	case errors.Is(err, auth.ErrInvalidToken):
		w.Header().Set("WWW-Authenticate", `Bearer realm="agenthub", error="invalid_token"`)
		writeError(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
	case errors.As(err, &account):
		extra := map[string]any{}
		if account.RejectionReason != "" {
			extra["rejection_reason"] = account.RejectionReason
		}
		writeErrorWith(w, r, http.StatusUnauthorized, "ACCOUNT_"+strings.ToUpper(string(account.State)),
			account.Error(), extra)
	case errors.As(err, &permission):
		writeErrorWith(w, r, http.StatusForbidden, "PERMISSION_DENIED", "insufficient permissions",
			map[string]any{"required": permission.Required, "mode": permission.Mode})
	case errors.As(err, &persona):
		writeErrorWith(w, r, http.StatusForbidden, "PERSONA_DENIED", "route not available for this persona",
			map[string]any{"allowed_personas": persona.Allowed, "persona": persona.Actual})
	case errors.Is(err, auth.ErrAccessDenied):
		writeError(w, r, http.StatusForbidden, "ACCESS_DENIED", "access denied")
	case errors.As(err, &limited):
		secs := limited.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeErrorWith(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many attempts",
			map[string]any{"retry_after": secs})
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, credentials.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, auth.ErrConflict), errors.Is(err, credentials.ErrConflict):
		writeError(w, r, http.StatusConflict, "CONFLICT", "resource already exists")
	case errors.Is(err, credentials.ErrInactive):
		writeError(w, r, http.StatusConflict, "CREDENTIAL_INACTIVE", "credential is inactive")
	case errors.Is(err, envelope.ErrDecryption):
		writeError(w, r, http.StatusInternalServerError, "DECRYPTION_FAILED", "failed to decrypt credential")
	case errors.Is(err, mcpoauth.ErrInvalidState):
		writeError(w, r, http.StatusBadRequest, "INVALID_STATE", "invalid or expired OAuth state")
	case errors.Is(err, mcpoauth.ErrUnsupported):
		writeError(w, r, http.StatusBadRequest, "UNSUPPORTED_AUTH_METHOD", "server does not support OAuth2 authorization")
	default:
		obs.Logger().Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
