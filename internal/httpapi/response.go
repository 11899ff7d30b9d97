// Package httpapi is the HTTP boundary: it translates net/http requests
// into calls against the sealed-state machine, the session/OIDC managers,
// the CA material manager, and the two issuance engines, and translates
// their typed errors back into the {typ, message, details} envelope.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/nioca/ca/internal/apierror"
	"github.com/nioca/ca/internal/logger"
)

// errorEnvelope is the wire shape of every non-2xx JSON response.
type errorEnvelope struct {
	Typ     string                 `json:"typ"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return apierror.BadRequest("request body required")
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierror.Wrap(apierror.KindBadRequest, "malformed request body", err)
	}
	return nil
}

// writeError maps a domain error's Kind onto an HTTP status code and
// writes the typed envelope. Any error that isn't *apierror.Error is
// logged at Error level and collapsed to Internal, never leaking its
// text to the client.
func writeError(w http.ResponseWriter, log logger.Logger, err error) {
	apiErr, ok := err.(*apierror.Error)
	if !ok {
		log.Error("unclassified handler error", logger.Error(err))
		apiErr = apierror.Internal(err)
	}

	status := statusFor(apiErr.Kind)
	if status >= http.StatusInternalServerError {
		log.Error("handler returned server error", logger.String("kind", string(apiErr.Kind)), logger.Error(err))
	}

	writeJSON(w, status, errorEnvelope{
		Typ:     string(apiErr.Kind),
		Message: apiErr.Message,
		Details: apiErr.Details,
	})
}

func statusFor(kind apierror.Kind) int {
	switch kind {
	case apierror.KindBadRequest:
		return http.StatusBadRequest
	case apierror.KindUnauthorized, apierror.KindInvalidToken:
		return http.StatusUnauthorized
	case apierror.KindForbidden:
		return http.StatusForbidden
	case apierror.KindNotFound:
		return http.StatusNotFound
	case apierror.KindTooManyRequests:
		return http.StatusTooManyRequests
	case apierror.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case apierror.KindConnection:
		return http.StatusBadGateway
	case apierror.KindDatabase, apierror.KindDatabaseIo:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
