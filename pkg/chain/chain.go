// Package chain validates completed authorization chains. Validators collect
// every violation instead of short-circuiting: callers gate execution on
// Valid and write the full violation set to the audit trail.
package chain

import (
	"fmt"
	"time"

	"ghostcart/pkg/aperr"
	"ghostcart/pkg/mandate"
	"ghostcart/pkg/signature"
)

// Violation is one failed check, serializable for audit logging.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of a chain validation.
type Result struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

func (r *Result) add(code, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{Code: code, Message: fmt.Sprintf(format, args...)})
}

// Validator checks mandate chains against signature and constraint rules.
type Validator struct {
	keyring *signature.Keyring
	now     func() time.Time
}

func NewValidator(keyring *signature.Keyring) *Validator {
	return &Validator{keyring: keyring, now: time.Now}
}

// ValidateImmediate checks a human-present cart: the user signed this exact
// cart, the signer is the cart's owner, and the totals hold together.
// Totals are re-checked even when construction already enforced them.
func (v *Validator) ValidateImmediate(cart *mandate.Cart) Result {
	var res Result

	if err := cart.Normalize(); err != nil {
		res.add(aperr.CodeChainInvalid, "cart malformed: %v", err)
	}
	payload, err := mandate.SigningPayload(cart)
	if err != nil {
		res.add(aperr.CodeSignatureInvalid, "cart payload: %v", err)
	} else if !v.keyring.VerifyAs(signature.RoleUser, payload, cart.Signature) {
		res.add(aperr.CodeSignatureInvalid, "cart user signature verification failed")
	}
	if cart.Signature.SignerIdentity != cart.UserID {
		res.add(aperr.CodeSignatureInvalid, "cart signer %s != cart user %s",
			cart.Signature.SignerIdentity, cart.UserID)
	}

	res.Valid = len(res.Violations) == 0
	return res
}

// ValidateDeferred checks the full human-not-present chain: a user-signed,
// unexpired intent and an agent-signed cart that references it and respects
// its constraints. All checks run; nothing short-circuits.
func (v *Validator) ValidateDeferred(intent *mandate.Intent, cart *mandate.Cart) Result {
	var res Result
	now := v.now().UTC()

	// Intent carries a user signature attributable to its owner.
	if intent.Signature == nil {
		res.add(aperr.CodeSignatureInvalid, "deferred intent must carry a user signature")
	} else {
		if intent.Signature.SignerIdentity != intent.UserID {
			res.add(aperr.CodeSignatureInvalid, "intent signer %s != intent user %s",
				intent.Signature.SignerIdentity, intent.UserID)
		}
		payload, err := mandate.SigningPayload(intent)
		if err != nil {
			res.add(aperr.CodeSignatureInvalid, "intent payload: %v", err)
		} else if !v.keyring.VerifyAs(signature.RoleUser, payload, *intent.Signature) {
			res.add(aperr.CodeSignatureInvalid, "intent user signature verification failed")
		}
	}

	// Intent still within its authorization window.
	if intent.Expiration == nil {
		res.add(aperr.CodeExpired, "deferred intent has no expiration")
	} else if now.After(*intent.Expiration) {
		res.add(aperr.CodeExpired, "intent expired at %s", intent.Expiration.UTC().Format(time.RFC3339))
	}

	// Cart signed by the agent role. A user-signed deferred cart is itself a
	// violation: the user already authorized via the intent.
	cartPayload, err := mandate.SigningPayload(cart)
	if err != nil {
		res.add(aperr.CodeSignatureInvalid, "cart payload: %v", err)
	} else if !v.keyring.VerifyAs(signature.RoleAgent, cartPayload, cart.Signature) {
		res.add(aperr.CodeSignatureInvalid, "cart agent signature verification failed")
	}

	// Chain linkage.
	if cart.IntentMandateID != intent.MandateID {
		res.add(aperr.CodeChainInvalid, "cart references %s but intent is %s",
			cart.IntentMandateID, intent.MandateID)
	}
	if cart.UserID != intent.UserID {
		res.add(aperr.CodeChainInvalid, "user mismatch: intent %s != cart %s",
			intent.UserID, cart.UserID)
	}

	// Constraint ceilings.
	if c := intent.Constraints; c != nil {
		if c.MaxPriceCents > 0 && cart.Total.GrandTotalCents > c.MaxPriceCents {
			res.add(aperr.CodeConstraintsViolated, "cart total %d exceeds intent max price %d",
				cart.Total.GrandTotalCents, c.MaxPriceCents)
		}
		if c.MaxDeliveryDays > 0 && cart.DeliveryEstimateDays > c.MaxDeliveryDays {
			res.add(aperr.CodeConstraintsViolated, "cart delivery %dd exceeds intent max %dd",
				cart.DeliveryEstimateDays, c.MaxDeliveryDays)
		}
	}

	res.Valid = len(res.Violations) == 0
	return res
}
