package mandate

import (
	"strings"
	"testing"
	"time"

	"ghostcart/pkg/signature"
)

func validDeferredIntent(now time.Time) *Intent {
	exp := now.Add(7 * 24 * time.Hour)
	return &Intent{
		MandateID:    "intent_hnp_0123456789ab",
		MandateType:  "intent",
		UserID:       "user_demo_001",
		Scenario:     ScenarioDeferred,
		ProductQuery: "coffee maker",
		Constraints: &Constraints{
			MaxPriceCents:   5500,
			MaxDeliveryDays: 5,
			Currency:        "USD",
		},
		Expiration: &exp,
		Signature: &signature.Signature{
			Algorithm:      signature.Algorithm,
			SignerIdentity: "user_demo_001",
			Timestamp:      now,
			SignatureValue: strings.Repeat("ab", 32),
		},
	}
}

func TestIntentNormalizeDeferred(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := validDeferredIntent(now).Normalize(now); err != nil {
		t.Fatalf("valid deferred intent rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Intent)
	}{
		{"missing constraints", func(m *Intent) { m.Constraints = nil }},
		{"zero max price", func(m *Intent) { m.Constraints.MaxPriceCents = 0 }},
		{"delivery days over 30", func(m *Intent) { m.Constraints.MaxDeliveryDays = 31 }},
		{"missing expiration", func(m *Intent) { m.Expiration = nil }},
		{"expiration under an hour out", func(m *Intent) {
			exp := now.Add(30 * time.Minute)
			m.Expiration = &exp
		}},
		{"expiration past 30 days", func(m *Intent) {
			exp := now.Add(31 * 24 * time.Hour)
			m.Expiration = &exp
		}},
		{"missing signature", func(m *Intent) { m.Signature = nil }},
		{"signer is not the owner", func(m *Intent) { m.Signature.SignerIdentity = "user_demo_002" }},
		{"wrong id prefix", func(m *Intent) { m.MandateID = "cart_hnp_0123456789ab" }},
		{"blank product query", func(m *Intent) { m.ProductQuery = "  " }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validDeferredIntent(now)
			tc.mutate(m)
			if err := m.Normalize(now); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestIntentNormalizeImmediateSkipsDeferredRules(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &Intent{
		MandateID:    "intent_hp_0123456789ab",
		MandateType:  "intent",
		UserID:       "user_demo_001",
		Scenario:     ScenarioImmediate,
		ProductQuery: "coffee maker",
	}
	if err := m.Normalize(now); err != nil {
		t.Fatalf("immediate intent without constraints rejected: %v", err)
	}
}

func validCart() *Cart {
	return &Cart{
		MandateID:   "cart_hnp_0123456789ab",
		MandateType: "cart",
		UserID:      "user_demo_001",
		Items: []LineItem{
			{ProductID: "prod_coffee_001", ProductName: "Coffee Maker", Quantity: 2, UnitPriceCents: 2000, LineTotalCents: 4000},
		},
		Total: Totals{
			SubtotalCents:   4000,
			TaxCents:        320,
			ShippingCents:   1000,
			GrandTotalCents: 5320,
			Currency:        "USD",
		},
		DeliveryEstimateDays: 2,
	}
}

func TestCartNormalizeArithmetic(t *testing.T) {
	if err := validCart().Normalize(); err != nil {
		t.Fatalf("valid cart rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Cart)
	}{
		{"line total mismatch", func(c *Cart) { c.Items[0].LineTotalCents = 4001 }},
		{"subtotal mismatch", func(c *Cart) { c.Total.SubtotalCents = 3999 }},
		{"grand total mismatch", func(c *Cart) { c.Total.GrandTotalCents = 5000 }},
		{"zero quantity", func(c *Cart) { c.Items[0].Quantity = 0 }},
		{"no items", func(c *Cart) { c.Items = nil }},
		{"negative delivery estimate", func(c *Cart) { c.DeliveryEstimateDays = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validCart()
			tc.mutate(c)
			if err := c.Normalize(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestPaymentNormalizeAgainstCart(t *testing.T) {
	cart := validCart()
	p := &Payment{
		MandateID:     "payment_0123456789ab",
		MandateType:   "payment",
		CartMandateID: cart.MandateID,
		AmountCents:   cart.Total.GrandTotalCents,
		Currency:      "USD",
		PaymentToken:  "tok_visa_4242",
		Timestamp:     time.Now().UTC(),
	}
	if err := p.Normalize(cart); err != nil {
		t.Fatalf("valid payment rejected: %v", err)
	}

	raw := *p
	raw.PaymentToken = "4242424242424242"
	if err := raw.Normalize(cart); err == nil {
		t.Error("accepted an untokenized payment credential")
	}

	wrongAmount := *p
	wrongAmount.AmountCents = cart.Total.GrandTotalCents - 1
	if err := wrongAmount.Normalize(cart); err == nil {
		t.Error("accepted an amount diverging from the cart grand total")
	}

	wrongCart := *p
	wrongCart.CartMandateID = "cart_hnp_other"
	if err := wrongCart.Normalize(cart); err == nil {
		t.Error("accepted a payment referencing a different cart")
	}
}

func TestSigningPayloadStripsSignature(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	intent := validDeferredIntent(now)
	payload, err := SigningPayload(intent)
	if err != nil {
		t.Fatalf("signing payload: %v", err)
	}
	if _, ok := payload["signature"]; ok {
		t.Error("signature field must not be part of the signed bytes")
	}
	if payload["mandate_id"] != intent.MandateID {
		t.Errorf("payload mandate_id = %v", payload["mandate_id"])
	}
}

func TestMonitoringJobNextDue(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j := &MonitoringJob{CreatedAt: created, CheckInterval: 10 * time.Second}
	if got := j.NextDue(); !got.Equal(created) {
		t.Errorf("unchecked job due at %v, want creation time", got)
	}
	checked := created.Add(time.Minute)
	j.LastCheckAt = &checked
	if got, want := j.NextDue(), checked.Add(10*time.Second); !got.Equal(want) {
		t.Errorf("next due = %v, want %v", got, want)
	}
}

func TestIDFormats(t *testing.T) {
	for _, tc := range []struct {
		id     string
		prefix string
		tail   int
	}{
		{NewIntentID(ScenarioDeferred), "intent_hnp_", 12},
		{NewIntentID(ScenarioImmediate), "intent_hp_", 12},
		{NewCartID(ScenarioDeferred), "cart_hnp_", 12},
		{NewPaymentID(), "payment_", 12},
		{NewTransactionID(), "txn_", 16},
	} {
		if !strings.HasPrefix(tc.id, tc.prefix) {
			t.Errorf("id %q missing prefix %q", tc.id, tc.prefix)
		}
		if got := len(tc.id) - len(tc.prefix); got != tc.tail {
			t.Errorf("id %q tail length = %d, want %d", tc.id, got, tc.tail)
		}
	}
}
