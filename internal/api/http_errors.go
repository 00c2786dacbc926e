package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sriyan983/slack-triage/internal/core"
)

// errorBody is the JSON error envelope returned by every handler.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Category string                 `json:"category"`
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// statusFor maps a domain error category to its HTTP status.
func statusFor(cat core.ErrorCategory) int {
	switch cat {
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity
	case core.ErrCatNotFound:
		return http.StatusNotFound
	case core.ErrCatConflict:
		return http.StatusConflict
	case core.ErrCatUnavailable:
		return http.StatusServiceUnavailable
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a domain error as JSON with the mapped status.
// Non-domain errors collapse to an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Category: string(core.ErrCatInternal),
			Code:     "INTERNAL",
			Message:  "internal error",
		}})
		return
	}

	writeJSON(w, statusFor(domErr.Category), errorBody{Error: errorDetail{
		Category: string(domErr.Category),
		Code:     domErr.Code,
		Message:  domErr.Message,
		Details:  domErr.Details,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
