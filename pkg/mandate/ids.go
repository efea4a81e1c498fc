package mandate

import (
	"strings"

	"github.com/google/uuid"
)

// Mandate ids are prefixed by kind and flow: intent_hp_* / intent_hnp_*,
// cart_hp_* / cart_hnp_*, payment_*. Transactions use txn_*.

func flowTag(s Scenario) string {
	if s == ScenarioDeferred {
		return "hnp"
	}
	return "hp"
}

func hexTail(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

func NewIntentID(s Scenario) string  { return "intent_" + flowTag(s) + "_" + hexTail(12) }
func NewCartID(s Scenario) string    { return "cart_" + flowTag(s) + "_" + hexTail(12) }
func NewPaymentID() string           { return "payment_" + hexTail(12) }
func NewTransactionID() string       { return "txn_" + hexTail(16) }
