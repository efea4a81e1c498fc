package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Tokens that force a specific decline, for test scenarios.
var declineTokens = map[string]string{
	"tok_decline":         "insufficient_funds",
	"tok_decline_fraud":   "fraud_suspected",
	"tok_decline_expired": "card_expired",
	"tok_decline_invalid": "invalid_card",
}

var fallbackDeclineReasons = []string{"insufficient_funds", "do_not_honor", "generic_decline"}

// Mock is a deterministic stand-in for a payment processor. Outside of the
// special decline tokens it approves roughly nine in ten requests, decided
// by a hash of token, amount, and currency so reruns are reproducible.
// AlwaysApprove short-circuits that for demos.
type Mock struct {
	AlwaysApprove bool
	now           func() time.Time
}

func NewMock(alwaysApprove bool) *Mock {
	return &Mock{AlwaysApprove: alwaysApprove, now: time.Now}
}

func (m *Mock) Authorize(ctx context.Context, token string, amountCents int64, currency string, metadata map[string]any) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	processedAt := m.now().UTC()

	if !m.AlwaysApprove {
		if reason, ok := declineTokens[token]; ok {
			return Result{
				Status:        StatusDeclined,
				DeclineReason: reason,
				AmountCents:   amountCents,
				Currency:      currency,
				Metadata:      metadata,
			}, nil
		}
	}

	hashInput := token + ":" + strconv.FormatInt(amountCents, 10) + ":" + currency
	sum := sha256.Sum256([]byte(hashInput))
	hashValue, _ := strconv.ParseUint(hex.EncodeToString(sum[:])[:8], 16, 64)

	approve := m.AlwaysApprove || hashValue%10 != 0
	if !approve {
		return Result{
			Status:        StatusDeclined,
			DeclineReason: fallbackDeclineReasons[hashValue%uint64(len(fallbackDeclineReasons))],
			AmountCents:   amountCents,
			Currency:      currency,
			Metadata:      metadata,
		}, nil
	}

	codeSum := sha256.Sum256(fmt.Appendf(nil, "%s:%s", token, processedAt.Format(time.RFC3339Nano)))
	return Result{
		Status:            StatusAuthorized,
		AuthorizationCode: "auth_" + hex.EncodeToString(codeSum[:])[:12],
		AmountCents:       amountCents,
		Currency:          currency,
		Metadata:          metadata,
	}, nil
}
