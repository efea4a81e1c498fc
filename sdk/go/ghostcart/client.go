// Package ghostcart is the Go client for the ghostcart service. It covers
// the full mandate lifecycle: local signing of intents and carts with a
// user's secret, submission, monitoring job management, and the audit trail.
package ghostcart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ghostcart/pkg/mandate"
	"ghostcart/pkg/signature"
)

// Error is a decoded service error response.
type Error struct {
	StatusCode int
	ErrorCode  string
	Message    string
	RequestID  string
	Details    any
}

func (e *Error) Error() string {
	return fmt.Sprintf("ghostcart sdk error: status=%d code=%s message=%s", e.StatusCode, e.ErrorCode, e.Message)
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// IntentResponse is the server's answer to an intent submission. The
// monitoring job is present only for deferred intents.
type IntentResponse struct {
	RequestID     string                 `json:"request_id"`
	Intent        mandate.Intent         `json:"intent"`
	MonitoringJob *mandate.MonitoringJob `json:"monitoring_job,omitempty"`
}

// SubmitIntent sends a signed intent. Deferred intents come back with their
// activated monitoring job.
func (c *Client) SubmitIntent(ctx context.Context, intent *mandate.Intent) (*IntentResponse, error) {
	var out IntentResponse
	if err := c.do(ctx, http.MethodPost, "/ap2/intents", intent, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Checkout runs the immediate flow for a user-signed cart.
func (c *Client) Checkout(ctx context.Context, cart *mandate.Cart) (*mandate.Transaction, error) {
	var out struct {
		Transaction *mandate.Transaction `json:"transaction"`
	}
	if err := c.do(ctx, http.MethodPost, "/ap2/checkout", cart, &out); err != nil {
		return nil, err
	}
	return out.Transaction, nil
}

func (c *Client) ListJobs(ctx context.Context, userID string, activeOnly bool) ([]mandate.MonitoringJob, error) {
	q := url.Values{"user_id": {userID}}
	if activeOnly {
		q.Set("active", "true")
	}
	var out struct {
		Jobs []mandate.MonitoringJob `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/ap2/jobs?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *Client) GetJob(ctx context.Context, jobID string) (*mandate.MonitoringJob, error) {
	var out struct {
		Job *mandate.MonitoringJob `json:"job"`
	}
	if err := c.do(ctx, http.MethodGet, "/ap2/jobs/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return out.Job, nil
}

// CancelJob withdraws a user's standing authorization. Cancelling a job that
// already reached a terminal state is a no-op on the server.
func (c *Client) CancelJob(ctx context.Context, jobID, userID string) (*mandate.MonitoringJob, error) {
	body := map[string]string{"user_id": userID}
	var out struct {
		Job *mandate.MonitoringJob `json:"job"`
	}
	if err := c.do(ctx, http.MethodPost, "/ap2/jobs/"+url.PathEscape(jobID)+"/cancel", body, &out); err != nil {
		return nil, err
	}
	return out.Job, nil
}

func (c *Client) ListTransactions(ctx context.Context, userID string) ([]mandate.Transaction, error) {
	path := "/ap2/transactions"
	if userID != "" {
		path += "?user_id=" + url.QueryEscape(userID)
	}
	var out struct {
		Transactions []mandate.Transaction `json:"transactions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// Product mirrors the server's catalog entry.
type Product struct {
	ProductID            string `json:"product_id"`
	Name                 string `json:"name"`
	Description          string `json:"description"`
	Category             string `json:"category"`
	PriceCents           int64  `json:"price_cents"`
	StockStatus          string `json:"stock_status"`
	DeliveryEstimateDays int    `json:"delivery_estimate_days"`
}

func (c *Client) SearchProducts(ctx context.Context, query string, maxPriceCents int64) ([]Product, error) {
	q := url.Values{}
	if query != "" {
		q.Set("query", query)
	}
	if maxPriceCents > 0 {
		q.Set("max_price_cents", strconv.FormatInt(maxPriceCents, 10))
	}
	path := "/ap2/products"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var out struct {
		Products []Product `json:"products"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("content-type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	var envelope struct {
		RequestID string `json:"request_id"`
		Error     struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details any    `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Code == "" {
		return &Error{StatusCode: status, Message: strings.TrimSpace(string(raw))}
	}
	return &Error{
		StatusCode: status,
		ErrorCode:  envelope.Error.Code,
		Message:    envelope.Error.Message,
		RequestID:  envelope.RequestID,
		Details:    envelope.Error.Details,
	}
}

// Signer signs mandates client-side with one identity's secret. The demo
// deployment shares role secrets with the service; a production deployment
// would hold per-user keys.
type Signer struct {
	Identity string
	Secret   []byte
}

func NewSigner(identity, secret string) *Signer {
	return &Signer{Identity: identity, Secret: []byte(secret)}
}

// SignIntent attaches the signer's signature to intent in place.
func (s *Signer) SignIntent(intent *mandate.Intent) error {
	intent.Signature = nil
	payload, err := mandate.SigningPayload(intent)
	if err != nil {
		return err
	}
	sig, err := signature.Sign(payload, s.Identity, s.Secret)
	if err != nil {
		return err
	}
	intent.Signature = &sig
	return nil
}

// SignCart attaches the signer's signature to cart in place.
func (s *Signer) SignCart(cart *mandate.Cart) error {
	cart.Signature = signature.Signature{}
	payload, err := mandate.SigningPayload(cart)
	if err != nil {
		return err
	}
	sig, err := signature.Sign(payload, s.Identity, s.Secret)
	if err != nil {
		return err
	}
	cart.Signature = sig
	return nil
}
