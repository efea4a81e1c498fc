// Package credentials defines the credential collaborator: tokenized
// payment methods per user, exactly one flagged default. Raw card data never
// enters the system; tokens use the tok_ prefix.
package credentials

import (
	"context"

	"ghostcart/pkg/aperr"
)

// Method is one tokenized payment method.
type Method struct {
	Token          string `json:"token"`
	Type           string `json:"type"`
	LastFour       string `json:"last_four"`
	ExpiryMonth    int    `json:"expiry_month"`
	ExpiryYear     int    `json:"expiry_year"`
	CardholderName string `json:"cardholder_name"`
	BillingZip     string `json:"billing_zip"`
	IsDefault      bool   `json:"is_default"`
}

// Provider is the credential collaborator surface.
type Provider interface {
	MethodsFor(ctx context.Context, userID string) ([]Method, error)
}

// DefaultMethod picks the user's default method via the provider. A user
// with no methods, or no default, is a CredentialsUnavailable error.
func DefaultMethod(ctx context.Context, p Provider, userID string) (Method, error) {
	methods, err := p.MethodsFor(ctx, userID)
	if err != nil {
		return Method{}, err
	}
	for _, m := range methods {
		if m.IsDefault {
			return m, nil
		}
	}
	return Method{}, aperr.Newf(aperr.CodeCredentialsUnavailable,
		"no default payment method for user %s", userID)
}

// StaticProvider serves a fixed registry, keyed by user id.
type StaticProvider struct {
	methods map[string][]Method
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{methods: demoMethods}
}

func (p *StaticProvider) MethodsFor(_ context.Context, userID string) ([]Method, error) {
	methods := p.methods[userID]
	if len(methods) == 0 {
		return nil, aperr.Newf(aperr.CodeCredentialsUnavailable,
			"no payment methods available for user %s", userID)
	}
	out := make([]Method, len(methods))
	copy(out, methods)
	return out, nil
}

var demoMethods = map[string][]Method{
	"user_demo_001": {
		{Token: "tok_visa_4242", Type: "visa", LastFour: "4242", ExpiryMonth: 12, ExpiryYear: 2027, CardholderName: "Jane Smith", BillingZip: "94102", IsDefault: true},
		{Token: "tok_mc_5555", Type: "mastercard", LastFour: "5555", ExpiryMonth: 8, ExpiryYear: 2026, CardholderName: "Jane Smith", BillingZip: "94102"},
	},
	"user_demo_002": {
		{Token: "tok_amex_3782", Type: "amex", LastFour: "3782", ExpiryMonth: 3, ExpiryYear: 2028, CardholderName: "Alex Johnson", BillingZip: "10001", IsDefault: true},
		{Token: "tok_visa_1111", Type: "visa", LastFour: "1111", ExpiryMonth: 6, ExpiryYear: 2025, CardholderName: "Alex Johnson", BillingZip: "10001"},
		{Token: "tok_mc_7777", Type: "mastercard", LastFour: "7777", ExpiryMonth: 11, ExpiryYear: 2027, CardholderName: "Alex Johnson", BillingZip: "10001"},
	},
	"user_demo_003": {
		{Token: "tok_visa_9999", Type: "visa", LastFour: "9999", ExpiryMonth: 4, ExpiryYear: 2026, CardholderName: "Chris Lee", BillingZip: "60601", IsDefault: true},
	},
}
