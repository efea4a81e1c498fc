// Package coordinator executes purchases. For the deferred flow it turns a
// pre-authorized intent plus live catalog conditions into at most one
// transaction: candidate selection, agent-signed cart construction, chain
// re-validation, the exactly-once guard flip, and the payment call, in that
// order. Everything before the flip is retryable on the next tick;
// everything after it is terminal.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ghostcart/internal/store"
	"ghostcart/pkg/aperr"
	"ghostcart/pkg/chain"
	"ghostcart/pkg/credentials"
	"ghostcart/pkg/mandate"
	"ghostcart/pkg/merchant"
	"ghostcart/pkg/processor"
	"ghostcart/pkg/signature"
)

// AgentIdentity signs deferred carts. It is an agent-role identity, distinct
// from any user.
const AgentIdentity = "hnp_delegate_agent"

// No-match diagnostic reasons. The job stays active on all of them.
const (
	ReasonNoCandidates    = "no_candidates"
	ReasonOutOfStock      = "out_of_stock"
	ReasonPriceTooHigh    = "price_too_high"
	ReasonDeliveryTooSlow = "delivery_too_slow"
)

// Pricing holds the system-wide landed-cost constants. A candidate is
// compared against price + tax + flat shipping, not its sticker price.
type Pricing struct {
	TaxRateBps        int64
	FlatShippingCents int64
}

// LandedCostCents is the realized cart total for a candidate at priceCents.
func (p Pricing) LandedCostCents(priceCents int64) int64 {
	return priceCents + p.TaxCents(priceCents) + p.FlatShippingCents
}

func (p Pricing) TaxCents(subtotalCents int64) int64 {
	return subtotalCents * p.TaxRateBps / 10000
}

// MaxStickerPriceCents inverts the landed-cost rule: the highest product
// price whose landed cost still fits under maxLandedCents.
func (p Pricing) MaxStickerPriceCents(maxLandedCents int64) int64 {
	return (maxLandedCents - p.FlatShippingCents) * 10000 / (10000 + p.TaxRateBps)
}

// Coordinator wires the collaborators behind the purchase decision.
type Coordinator struct {
	store      store.Store
	keyring    *signature.Keyring
	validator  *chain.Validator
	catalog    merchant.Catalog
	authorizer processor.Authorizer
	creds      credentials.Provider

	pricing      Pricing
	merchantInfo mandate.MerchantInfo
	callTimeout  time.Duration
	log          *slog.Logger
	now          func() time.Time
}

func New(
	st store.Store,
	keyring *signature.Keyring,
	catalog merchant.Catalog,
	authorizer processor.Authorizer,
	creds credentials.Provider,
	pricing Pricing,
	callTimeout time.Duration,
	log *slog.Logger,
) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store:      st,
		keyring:    keyring,
		validator:  chain.NewValidator(keyring),
		catalog:    catalog,
		authorizer: authorizer,
		creds:      creds,
		pricing:    pricing,
		merchantInfo: mandate.MerchantInfo{
			MerchantID:   "merchant_ghostcart_demo",
			MerchantName: "GhostCart Demo Store",
			MerchantURL:  "https://demo.ghostcart.com",
		},
		callTimeout: callTimeout,
		log:         log.With("component", "coordinator"),
		now:         time.Now,
	}
}

// Outcome reports one evaluation of a monitoring job.
type Outcome struct {
	// Matched is true when a candidate satisfied every constraint.
	Matched bool `json:"matched"`
	// Reason explains a no-match evaluation; empty when Matched.
	Reason string `json:"reason,omitempty"`
	// GuardLost is true when another evaluation won the flip first. No side
	// effects were performed.
	GuardLost bool `json:"guard_lost,omitempty"`
	// Transaction is set once the attempt completed, authorized or declined.
	Transaction *mandate.Transaction `json:"transaction,omitempty"`
	Violations  []chain.Violation    `json:"violations,omitempty"`
}

// Evaluate runs one condition check for job. Errors returned from before the
// guard flip leave the job active; the scheduler will simply try again on
// the next tick. After the flip every path ends in a transaction and a
// terminal job reason.
func (c *Coordinator) Evaluate(ctx context.Context, job *mandate.MonitoringJob) (Outcome, error) {
	intent, err := c.store.GetIntent(ctx, job.IntentID)
	if err != nil {
		// Only a genuinely missing intent retires the job; a transient
		// store error leaves it active for the next tick.
		if errors.Is(err, store.ErrNotFound) {
			if _, derr := c.store.DeactivateJob(ctx, job.JobID, mandate.ReasonFailed); derr != nil {
				return Outcome{}, derr
			}
		}
		return Outcome{}, fmt.Errorf("intent %s: %w", job.IntentID, err)
	}

	candidates, err := c.searchCandidates(ctx, job)
	if err != nil {
		// Transient catalog failure before the guard: job stays active.
		return Outcome{}, fmt.Errorf("catalog search: %w", err)
	}

	candidate, reason := c.selectCandidate(candidates, job.Constraints)
	if reason != "" {
		c.log.Debug("conditions not met",
			"job_id", job.JobID, "reason", reason, "candidates", len(candidates))
		return Outcome{Reason: reason}, nil
	}

	c.log.Info("conditions met",
		"job_id", job.JobID,
		"product_id", candidate.ProductID,
		"price_cents", candidate.PriceCents,
		"delivery_days", candidate.DeliveryEstimateDays)

	return c.executeGuarded(ctx, job, intent, candidate)
}

func (c *Coordinator) searchCandidates(ctx context.Context, job *mandate.MonitoringJob) ([]merchant.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	maxSticker := c.pricing.MaxStickerPriceCents(job.Constraints.MaxPriceCents)
	return c.catalog.Search(ctx, job.ProductQuery, maxSticker)
}

// selectCandidate scans candidates in catalog order and returns the first
// one whose landed cost, delivery estimate, and stock status all fit the
// constraints. First match wins; the catalog's ranking is load-bearing.
// When nothing fits, the diagnostic reason is derived from the lead
// candidate.
func (c *Coordinator) selectCandidate(candidates []merchant.Product, cons mandate.Constraints) (merchant.Product, string) {
	if len(candidates) == 0 {
		return merchant.Product{}, ReasonNoCandidates
	}
	for _, p := range candidates {
		if p.StockStatus != merchant.InStock {
			continue
		}
		if c.pricing.LandedCostCents(p.PriceCents) > cons.MaxPriceCents {
			continue
		}
		if p.DeliveryEstimateDays > cons.MaxDeliveryDays {
			continue
		}
		return p, ""
	}
	lead := candidates[0]
	switch {
	case lead.StockStatus != merchant.InStock:
		return merchant.Product{}, ReasonOutOfStock
	case c.pricing.LandedCostCents(lead.PriceCents) > cons.MaxPriceCents:
		return merchant.Product{}, ReasonPriceTooHigh
	default:
		return merchant.Product{}, ReasonDeliveryTooSlow
	}
}

func (c *Coordinator) executeGuarded(ctx context.Context, job *mandate.MonitoringJob, intent *mandate.Intent, candidate merchant.Product) (Outcome, error) {
	// Build and agent-sign the cart, then re-validate the whole chain. This
	// re-checks the constraints just used for selection; a violation here
	// means the numbers diverged somewhere and the purchase must not run.
	cart, err := c.buildDeferredCart(intent, candidate)
	if err != nil {
		return Outcome{}, err
	}
	if res := c.validator.ValidateDeferred(intent, cart); !res.Valid {
		c.log.Error("deferred chain re-validation failed",
			"job_id", job.JobID, "violations", res.Violations)
		return Outcome{Violations: res.Violations},
			aperr.New(aperr.CodeConstraintsViolated, "deferred chain validation failed")
	}

	// Exactly-once guard. Flipping before the payment call is what keeps a
	// retried or overlapping evaluation from buying twice; the pessimistic
	// reason is promoted to completed only after an authorization.
	flipped, err := c.store.DeactivateJob(ctx, job.JobID, mandate.ReasonFailed)
	if err != nil {
		return Outcome{}, fmt.Errorf("guard flip: %w", err)
	}
	if !flipped {
		c.log.Warn("job already deactivated, skipping duplicate purchase", "job_id", job.JobID)
		return Outcome{Matched: true, GuardLost: true}, nil
	}

	// Past the flip: everything from here is terminal.
	if err := c.store.PutCart(ctx, cart); err != nil {
		return c.terminalFailure(ctx, job, intent, cart, "", fmt.Errorf("persist cart: %w", err))
	}

	method, err := credentials.DefaultMethod(ctx, c.creds, intent.UserID)
	if err != nil {
		return c.terminalFailure(ctx, job, intent, cart, "", err)
	}

	payment, err := c.mintPayment(cart, intent, method.Token, true)
	if err != nil {
		return c.terminalFailure(ctx, job, intent, cart, "", err)
	}
	if err := c.store.PutPayment(ctx, payment); err != nil {
		return c.terminalFailure(ctx, job, intent, cart, payment.MandateID, fmt.Errorf("persist payment: %w", err))
	}

	authCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	result, err := c.authorizer.Authorize(authCtx, method.Token, cart.Total.GrandTotalCents, cart.Total.Currency, map[string]any{
		"intent_mandate_id":  intent.MandateID,
		"cart_mandate_id":    cart.MandateID,
		"payment_mandate_id": payment.MandateID,
		"unattended":         true,
	})
	cancel()
	if err != nil {
		return c.terminalFailure(ctx, job, intent, cart, payment.MandateID, fmt.Errorf("authorize: %w", err))
	}

	txn := &mandate.Transaction{
		TransactionID:     mandate.NewTransactionID(),
		IntentMandateID:   intent.MandateID,
		CartMandateID:     cart.MandateID,
		PaymentMandateID:  payment.MandateID,
		UserID:            intent.UserID,
		AuthorizationCode: result.AuthorizationCode,
		DeclineReason:     result.DeclineReason,
		AmountCents:       cart.Total.GrandTotalCents,
		Currency:          cart.Total.Currency,
		CreatedAt:         c.now().UTC(),
	}

	if result.Status == processor.StatusAuthorized {
		txn.Status = mandate.StatusAuthorized
		if err := c.store.SetTerminalReason(ctx, job.JobID, mandate.ReasonCompleted); err != nil {
			c.log.Error("retag job after authorization", "job_id", job.JobID, "error", err)
		}
	} else {
		txn.Status = mandate.StatusDeclined
	}
	if err := c.store.AppendTransaction(ctx, txn); err != nil {
		return Outcome{Matched: true}, fmt.Errorf("persist transaction: %w", err)
	}

	c.log.Info("autonomous purchase complete",
		"job_id", job.JobID,
		"transaction_id", txn.TransactionID,
		"status", txn.Status,
		"amount_cents", txn.AmountCents)
	return Outcome{Matched: true, Transaction: txn}, nil
}

// ExecuteImmediate runs the human-present flow: the user signed this exact
// cart, so validation plus one payment call settles it synchronously. No
// monitoring job and no guard are involved.
func (c *Coordinator) ExecuteImmediate(ctx context.Context, cart *mandate.Cart) (Outcome, error) {
	if res := c.validator.ValidateImmediate(cart); !res.Valid {
		return Outcome{Violations: res.Violations},
			aperr.New(aperr.CodeChainInvalid, "immediate cart validation failed")
	}
	if err := c.store.PutCart(ctx, cart); err != nil {
		return Outcome{}, fmt.Errorf("persist cart: %w", err)
	}

	method, err := credentials.DefaultMethod(ctx, c.creds, cart.UserID)
	if err != nil {
		return Outcome{}, err
	}
	payment, err := c.mintPayment(cart, nil, method.Token, false)
	if err != nil {
		return Outcome{}, err
	}
	if err := c.store.PutPayment(ctx, payment); err != nil {
		return Outcome{}, fmt.Errorf("persist payment: %w", err)
	}

	authCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	result, err := c.authorizer.Authorize(authCtx, method.Token, cart.Total.GrandTotalCents, cart.Total.Currency, map[string]any{
		"cart_mandate_id":    cart.MandateID,
		"payment_mandate_id": payment.MandateID,
		"unattended":         false,
	})
	cancel()
	if err != nil {
		return Outcome{}, fmt.Errorf("authorize: %w", err)
	}

	txn := &mandate.Transaction{
		TransactionID:     mandate.NewTransactionID(),
		CartMandateID:     cart.MandateID,
		PaymentMandateID:  payment.MandateID,
		UserID:            cart.UserID,
		AuthorizationCode: result.AuthorizationCode,
		DeclineReason:     result.DeclineReason,
		AmountCents:       cart.Total.GrandTotalCents,
		Currency:          cart.Total.Currency,
		CreatedAt:         c.now().UTC(),
	}
	if result.Status == processor.StatusAuthorized {
		txn.Status = mandate.StatusAuthorized
	} else {
		txn.Status = mandate.StatusDeclined
	}
	if err := c.store.AppendTransaction(ctx, txn); err != nil {
		return Outcome{Matched: true}, fmt.Errorf("persist transaction: %w", err)
	}

	c.log.Info("immediate checkout complete",
		"cart_mandate_id", cart.MandateID,
		"transaction_id", txn.TransactionID,
		"status", txn.Status)
	return Outcome{Matched: true, Transaction: txn}, nil
}

// terminalFailure records a failed attempt after the guard has flipped. The
// decline is surfaced in the transaction row; no retry will happen.
func (c *Coordinator) terminalFailure(ctx context.Context, job *mandate.MonitoringJob, intent *mandate.Intent, cart *mandate.Cart, paymentID string, cause error) (Outcome, error) {
	c.log.Error("purchase failed after guard flip", "job_id", job.JobID, "error", cause)
	txn := &mandate.Transaction{
		TransactionID:    mandate.NewTransactionID(),
		IntentMandateID:  intent.MandateID,
		CartMandateID:    cart.MandateID,
		PaymentMandateID: paymentID,
		UserID:           intent.UserID,
		Status:           mandate.StatusFailed,
		DeclineReason:    cause.Error(),
		AmountCents:      cart.Total.GrandTotalCents,
		Currency:         cart.Total.Currency,
		CreatedAt:        c.now().UTC(),
	}
	if err := c.store.AppendTransaction(ctx, txn); err != nil {
		c.log.Error("persist failure transaction", "job_id", job.JobID, "error", err)
	}
	return Outcome{Matched: true, Transaction: txn}, cause
}

// buildDeferredCart prices a single-line-item cart for candidate and signs
// it with the agent role. Construction is deterministic: same candidate and
// constants, same cart body.
func (c *Coordinator) buildDeferredCart(intent *mandate.Intent, candidate merchant.Product) (*mandate.Cart, error) {
	subtotal := candidate.PriceCents
	tax := c.pricing.TaxCents(subtotal)
	shipping := c.pricing.FlatShippingCents

	cart := &mandate.Cart{
		MandateID:   mandate.NewCartID(mandate.ScenarioDeferred),
		MandateType: "cart",
		UserID:      intent.UserID,
		Items: []mandate.LineItem{{
			ProductID:      candidate.ProductID,
			ProductName:    candidate.Name,
			Quantity:       1,
			UnitPriceCents: candidate.PriceCents,
			LineTotalCents: candidate.PriceCents,
		}},
		Total: mandate.Totals{
			SubtotalCents:   subtotal,
			TaxCents:        tax,
			ShippingCents:   shipping,
			GrandTotalCents: subtotal + tax + shipping,
			Currency:        intent.Constraints.Currency,
		},
		MerchantInfo:         c.merchantInfo,
		DeliveryEstimateDays: candidate.DeliveryEstimateDays,
		IntentMandateID:      intent.MandateID,
	}
	if err := cart.Normalize(); err != nil {
		return nil, fmt.Errorf("build cart: %w", err)
	}
	payload, err := mandate.SigningPayload(cart)
	if err != nil {
		return nil, err
	}
	sig, err := c.keyring.SignAs(signature.RoleAgent, payload, AgentIdentity)
	if err != nil {
		return nil, fmt.Errorf("sign cart: %w", err)
	}
	cart.Signature = sig
	return cart, nil
}

func (c *Coordinator) mintPayment(cart *mandate.Cart, intent *mandate.Intent, token string, unattended bool) (*mandate.Payment, error) {
	payment := &mandate.Payment{
		MandateID:     mandate.NewPaymentID(),
		MandateType:   "payment",
		CartMandateID: cart.MandateID,
		AmountCents:   cart.Total.GrandTotalCents,
		Currency:      cart.Total.Currency,
		PaymentToken:  token,
		Unattended:    unattended,
		Timestamp:     c.now().UTC(),
	}
	if intent != nil {
		payment.IntentMandateID = intent.MandateID
	}
	if err := payment.Normalize(cart); err != nil {
		return nil, err
	}
	payload, err := mandate.SigningPayload(payment)
	if err != nil {
		return nil, err
	}
	sig, err := c.keyring.SignAs(signature.RolePayment, payload, signature.PaymentAuthorityIdentity)
	if err != nil {
		return nil, fmt.Errorf("sign payment: %w", err)
	}
	payment.Signature = sig
	return payment, nil
}
