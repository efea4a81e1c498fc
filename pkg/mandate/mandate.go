// Package mandate defines the four mandate record kinds and the monitoring
// job that drives deferred purchases. Mandates are immutable once signed;
// the monitoring job is the only mutable record in the model.
package mandate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ghostcart/pkg/signature"
)

// Scenario distinguishes the two purchase flows.
type Scenario string

const (
	// ScenarioImmediate: purchase authorized and executed in the same
	// interaction; the Cart carries the user's signature.
	ScenarioImmediate Scenario = "immediate"
	// ScenarioDeferred: purchase pre-authorized via a signed Intent and
	// executed later by the agent; the Cart carries the agent's signature.
	ScenarioDeferred Scenario = "deferred"
)

// Constraints bound what the agent may buy on the user's behalf.
// All amounts are integer minor units (cents), single currency.
type Constraints struct {
	MaxPriceCents   int64  `json:"max_price_cents"`
	MaxDeliveryDays int    `json:"max_delivery_days"`
	Currency        string `json:"currency"`
}

// LineItem is one priced row of a cart.
type LineItem struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

// Totals is the cart amount breakdown.
type Totals struct {
	SubtotalCents   int64  `json:"subtotal_cents"`
	TaxCents        int64  `json:"tax_cents"`
	ShippingCents   int64  `json:"shipping_cents"`
	GrandTotalCents int64  `json:"grand_total_cents"`
	Currency        string `json:"currency"`
}

// MerchantInfo identifies the merchant a cart was priced against.
type MerchantInfo struct {
	MerchantID   string `json:"merchant_id"`
	MerchantName string `json:"merchant_name"`
	MerchantURL  string `json:"merchant_url"`
}

// Intent is a user's purchase goal. In the deferred flow it is the
// pre-authorization record: signed once by the user, immutable thereafter,
// referenced (never mutated) by later carts.
type Intent struct {
	MandateID    string               `json:"mandate_id"`
	MandateType  string               `json:"mandate_type"`
	UserID       string               `json:"user_id"`
	Scenario     Scenario             `json:"scenario"`
	ProductQuery string               `json:"product_query"`
	Constraints  *Constraints         `json:"constraints,omitempty"`
	Expiration   *time.Time           `json:"expiration,omitempty"`
	Signature    *signature.Signature `json:"signature,omitempty"`
}

// Cart is a priced basket with exactly one signature: the user's in the
// immediate flow, the agent's in the deferred flow.
type Cart struct {
	MandateID            string              `json:"mandate_id"`
	MandateType          string              `json:"mandate_type"`
	UserID               string              `json:"user_id"`
	Items                []LineItem          `json:"items"`
	Total                Totals              `json:"total"`
	MerchantInfo         MerchantInfo        `json:"merchant_info"`
	DeliveryEstimateDays int                 `json:"delivery_estimate_days"`
	IntentMandateID      string              `json:"intent_mandate_id,omitempty"`
	Signature            signature.Signature `json:"signature"`
}

// Payment is an authorization request against a cart, always signed by the
// payment authority. Unattended marks autonomous (deferred) execution.
type Payment struct {
	MandateID       string              `json:"mandate_id"`
	MandateType     string              `json:"mandate_type"`
	CartMandateID   string              `json:"cart_mandate_id"`
	IntentMandateID string              `json:"intent_mandate_id,omitempty"`
	AmountCents     int64               `json:"amount_cents"`
	Currency        string              `json:"currency"`
	PaymentToken    string              `json:"payment_token"`
	Unattended      bool                `json:"unattended"`
	Timestamp       time.Time           `json:"timestamp"`
	Signature       signature.Signature `json:"signature"`
}

// TransactionStatus is the terminal outcome of a payment attempt.
type TransactionStatus string

const (
	StatusAuthorized TransactionStatus = "authorized"
	StatusDeclined   TransactionStatus = "declined"
	StatusExpired    TransactionStatus = "expired"
	StatusFailed     TransactionStatus = "failed"
)

// Transaction is the append-only audit anchor linking the mandate triple to
// its outcome. Created exactly once per completed attempt, never mutated.
type Transaction struct {
	TransactionID     string            `json:"transaction_id"`
	IntentMandateID   string            `json:"intent_mandate_id,omitempty"`
	CartMandateID     string            `json:"cart_mandate_id"`
	PaymentMandateID  string            `json:"payment_mandate_id"`
	UserID            string            `json:"user_id"`
	Status            TransactionStatus `json:"status"`
	AuthorizationCode string            `json:"authorization_code,omitempty"`
	DeclineReason     string            `json:"decline_reason,omitempty"`
	AmountCents       int64             `json:"amount_cents"`
	Currency          string            `json:"currency"`
	CreatedAt         time.Time         `json:"created_at"`
}

// TerminalReason tags a monitoring job's transition out of ACTIVE.
type TerminalReason string

const (
	ReasonCompleted TerminalReason = "completed"
	ReasonExpired   TerminalReason = "expired"
	ReasonCancelled TerminalReason = "cancelled"
	ReasonFailed    TerminalReason = "failed"
)

// MonitoringJob is the scheduling unit for a deferred Intent. Job id equals
// the intent id. Active and LastCheckAt change over time; everything else is
// a snapshot taken when the intent was signed. Jobs are retained after
// deactivation for audit.
type MonitoringJob struct {
	JobID          string         `json:"job_id"`
	IntentID       string         `json:"intent_mandate_id"`
	UserID         string         `json:"user_id"`
	ProductQuery   string         `json:"product_query"`
	Constraints    Constraints    `json:"constraints"`
	CheckInterval  time.Duration  `json:"check_interval"`
	Active         bool           `json:"active"`
	TerminalReason TerminalReason `json:"terminal_reason,omitempty"`
	LastCheckAt    *time.Time     `json:"last_check_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// NextDue is the earliest instant the job is eligible for evaluation.
func (j *MonitoringJob) NextDue() time.Time {
	if j.LastCheckAt == nil {
		return j.CreatedAt
	}
	return j.LastCheckAt.Add(j.CheckInterval)
}

// SigningPayload renders a mandate as the generic map form that gets
// canonicalized and signed, with the signature field stripped. Signing and
// verification must both go through here so the bytes match.
func SigningPayload(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal mandate: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal mandate: %w", err)
	}
	delete(payload, "signature")
	return payload, nil
}

const (
	minDeferredExpiration = time.Hour
	maxDeferredExpiration = 30 * 24 * time.Hour
)

// Normalize validates an Intent's structural invariants. For the deferred
// scenario the constraints, expiration, and user signature are mandatory and
// the signer identity must equal the owning user.
func (m *Intent) Normalize(now time.Time) error {
	if !strings.HasPrefix(m.MandateID, "intent_") {
		return errors.New("mandate_id must be prefixed intent_")
	}
	if m.MandateType != "intent" {
		return errors.New("mandate_type must be intent")
	}
	if strings.TrimSpace(m.UserID) == "" {
		return errors.New("user_id is required")
	}
	if strings.TrimSpace(m.ProductQuery) == "" {
		return errors.New("product_query is required")
	}
	switch m.Scenario {
	case ScenarioImmediate:
		return nil
	case ScenarioDeferred:
	default:
		return fmt.Errorf("unknown scenario %q", m.Scenario)
	}
	if m.Constraints == nil {
		return errors.New("deferred intent requires constraints")
	}
	if m.Constraints.MaxPriceCents <= 0 {
		return errors.New("max_price_cents must be positive")
	}
	if m.Constraints.MaxDeliveryDays <= 0 || m.Constraints.MaxDeliveryDays > 30 {
		return errors.New("max_delivery_days must be in 1..30")
	}
	if m.Expiration == nil {
		return errors.New("deferred intent requires expiration")
	}
	if m.Expiration.Before(now.Add(minDeferredExpiration)) {
		return errors.New("expiration must be at least 1 hour in the future")
	}
	if m.Expiration.After(now.Add(maxDeferredExpiration)) {
		return errors.New("expiration cannot exceed 30 days")
	}
	if m.Signature == nil {
		return errors.New("deferred intent requires user signature")
	}
	if m.Signature.SignerIdentity != m.UserID {
		return errors.New("deferred intent must be signed by its owning user")
	}
	return nil
}

// Normalize validates a Cart's internal arithmetic: every line total equals
// quantity times unit price, the subtotal equals the sum of line totals, and
// the grand total equals subtotal plus tax plus shipping.
func (c *Cart) Normalize() error {
	if !strings.HasPrefix(c.MandateID, "cart_") {
		return errors.New("mandate_id must be prefixed cart_")
	}
	if c.MandateType != "cart" {
		return errors.New("mandate_type must be cart")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("user_id is required")
	}
	if len(c.Items) == 0 {
		return errors.New("items are required")
	}
	var subtotal int64
	for i, it := range c.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("item %d: quantity must be positive", i)
		}
		if it.UnitPriceCents < 0 {
			return fmt.Errorf("item %d: unit price cannot be negative", i)
		}
		if expected := int64(it.Quantity) * it.UnitPriceCents; it.LineTotalCents != expected {
			return fmt.Errorf("item %d: line total %d != quantity(%d) x price(%d)",
				i, it.LineTotalCents, it.Quantity, it.UnitPriceCents)
		}
		subtotal += it.LineTotalCents
	}
	if c.Total.SubtotalCents != subtotal {
		return fmt.Errorf("subtotal %d != sum of line totals %d", c.Total.SubtotalCents, subtotal)
	}
	if expected := c.Total.SubtotalCents + c.Total.TaxCents + c.Total.ShippingCents; c.Total.GrandTotalCents != expected {
		return fmt.Errorf("grand total %d != subtotal+tax+shipping %d", c.Total.GrandTotalCents, expected)
	}
	if c.DeliveryEstimateDays < 0 {
		return errors.New("delivery_estimate_days cannot be negative")
	}
	return nil
}

// Normalize validates a Payment against its referenced cart.
func (p *Payment) Normalize(cart *Cart) error {
	if !strings.HasPrefix(p.MandateID, "payment_") {
		return errors.New("mandate_id must be prefixed payment_")
	}
	if p.MandateType != "payment" {
		return errors.New("mandate_type must be payment")
	}
	if p.CartMandateID == "" {
		return errors.New("cart_mandate_id is required")
	}
	if !strings.HasPrefix(p.PaymentToken, "tok_") {
		return errors.New("payment_token must be tokenized (tok_ prefix)")
	}
	if p.AmountCents <= 0 {
		return errors.New("amount_cents must be positive")
	}
	if cart != nil {
		if p.CartMandateID != cart.MandateID {
			return errors.New("payment does not reference the given cart")
		}
		if p.AmountCents != cart.Total.GrandTotalCents {
			return fmt.Errorf("amount %d != cart grand total %d", p.AmountCents, cart.Total.GrandTotalCents)
		}
	}
	return nil
}
