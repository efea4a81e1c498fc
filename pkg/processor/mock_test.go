package processor

import (
	"context"
	"strings"
	"testing"
)

func TestDeclineTokens(t *testing.T) {
	m := NewMock(false)
	for token, reason := range declineTokens {
		res, err := m.Authorize(context.Background(), token, 5320, "USD", nil)
		if err != nil {
			t.Fatalf("authorize %s: %v", token, err)
		}
		if res.Status != StatusDeclined {
			t.Errorf("token %s: status = %s, want declined", token, res.Status)
		}
		if res.DeclineReason != reason {
			t.Errorf("token %s: reason = %q, want %q", token, res.DeclineReason, reason)
		}
	}
}

func TestAuthorizeIsDeterministicPerInput(t *testing.T) {
	m := NewMock(false)
	first, err := m.Authorize(context.Background(), "tok_visa_4242", 5320, "USD", nil)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	for i := 0; i < 5; i++ {
		res, err := m.Authorize(context.Background(), "tok_visa_4242", 5320, "USD", nil)
		if err != nil {
			t.Fatalf("authorize: %v", err)
		}
		if res.Status != first.Status {
			t.Fatalf("same input produced %s then %s", first.Status, res.Status)
		}
	}
}

func TestAlwaysApproveOverridesDeclines(t *testing.T) {
	m := NewMock(true)
	res, err := m.Authorize(context.Background(), "tok_decline", 5320, "USD", nil)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if res.Status != StatusAuthorized {
		t.Errorf("always-approve declined: %+v", res)
	}
	if !strings.HasPrefix(res.AuthorizationCode, "auth_") {
		t.Errorf("authorization code = %q, want auth_ prefix", res.AuthorizationCode)
	}
	if len(res.AuthorizationCode) != len("auth_")+12 {
		t.Errorf("authorization code length = %d", len(res.AuthorizationCode))
	}
}

func TestAuthorizeEchoesAmountAndMetadata(t *testing.T) {
	m := NewMock(true)
	meta := map[string]any{"cart_mandate_id": "cart_hnp_0123456789ab", "unattended": true}
	res, err := m.Authorize(context.Background(), "tok_visa_4242", 5320, "USD", meta)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if res.AmountCents != 5320 || res.Currency != "USD" {
		t.Errorf("echo mismatch: %+v", res)
	}
	if res.Metadata["cart_mandate_id"] != "cart_hnp_0123456789ab" {
		t.Errorf("metadata not carried through: %+v", res.Metadata)
	}
}

func TestAuthorizeHonorsContext(t *testing.T) {
	m := NewMock(true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Authorize(ctx, "tok_visa_4242", 5320, "USD", nil); err == nil {
		t.Error("cancelled context must fail the call")
	}
}
