// Package aperr defines the coded error taxonomy shared by the mandate
// services. Codes follow the ap2: prefix convention so callers and audit
// logs can match on them across process boundaries.
package aperr

import (
	"errors"
	"fmt"
)

const (
	CodeSignatureInvalid       = "ap2:mandate:signature_invalid"
	CodeChainInvalid           = "ap2:mandate:chain_invalid"
	CodeExpired                = "ap2:mandate:expired"
	CodeConstraintsViolated    = "ap2:mandate:constraints_violated"
	CodeCredentialsUnavailable = "ap2:credentials:unavailable"
	CodePaymentDeclined        = "ap2:payment:declined"
)

// Error carries a protocol error code plus optional structured details.
type Error struct {
	Code    string         `json:"error_code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func WithDetails(code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// CodeOf returns the ap2 code of err, or "" when err is not an aperr.Error.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
