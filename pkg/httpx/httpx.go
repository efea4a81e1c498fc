// Package httpx holds the small JSON plumbing shared by the HTTP handlers:
// strict request decoding, enveloped responses, and the mapping from
// protocol error codes to HTTP statuses.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"ghostcart/pkg/aperr"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// WriteAPError maps a protocol error to its HTTP status. Unknown errors are
// reported as a generic 500 without leaking internals.
func WriteAPError(w http.ResponseWriter, err error) {
	code := aperr.CodeOf(err)
	if code == "" {
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
		return
	}
	var details any
	var apErr *aperr.Error
	if errors.As(err, &apErr) {
		details = apErr.Details
	}
	status := http.StatusInternalServerError
	switch code {
	case aperr.CodeSignatureInvalid, aperr.CodeChainInvalid, aperr.CodeExpired, aperr.CodeConstraintsViolated:
		status = http.StatusUnprocessableEntity
	case aperr.CodeCredentialsUnavailable:
		status = http.StatusConflict
	case aperr.CodePaymentDeclined:
		status = http.StatusPaymentRequired
	}
	message := err.Error()
	if apErr != nil {
		message = apErr.Message
	}
	WriteError(w, status, code, message, details)
}
