// Package processor defines the payment-authority collaborator. The
// processor operates on tokenized credentials only; it never sees product or
// merchant data beyond the metadata the caller chooses to attach.
package processor

import "context"

type Status string

const (
	StatusAuthorized Status = "authorized"
	StatusDeclined   Status = "declined"
)

// Result is the outcome of one authorization attempt.
type Result struct {
	Status            Status         `json:"status"`
	AuthorizationCode string         `json:"authorization_code,omitempty"`
	DeclineReason     string         `json:"decline_reason,omitempty"`
	AmountCents       int64          `json:"amount_cents"`
	Currency          string         `json:"currency"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Authorizer is the payment-authority surface.
type Authorizer interface {
	Authorize(ctx context.Context, token string, amountCents int64, currency string, metadata map[string]any) (Result, error)
}
