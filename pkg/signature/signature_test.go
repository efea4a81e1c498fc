package signature

import (
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("test-secret-user")

func testPayload() map[string]any {
	return map[string]any{
		"mandate_id":    "intent_hnp_abc123",
		"mandate_type":  "intent",
		"user_id":       "user_demo_001",
		"product_query": "wireless headphones",
		"constraints": map[string]any{
			"max_price_cents":   float64(55000),
			"max_delivery_days": float64(5),
			"currency":          "USD",
		},
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	sig, err := Sign(testPayload(), "user_demo_001", testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig.Algorithm != Algorithm {
		t.Errorf("algorithm = %q, want %q", sig.Algorithm, Algorithm)
	}
	if sig.SignerIdentity != "user_demo_001" {
		t.Errorf("signer = %q", sig.SignerIdentity)
	}
	if len(sig.SignatureValue) != 64 {
		t.Errorf("signature value length = %d, want 64 hex chars", len(sig.SignatureValue))
	}
	if sig.SignatureValue != strings.ToLower(sig.SignatureValue) {
		t.Error("signature value must be lowercase hex")
	}
	if !Verify(testPayload(), sig, testSecret) {
		t.Error("verify failed on untampered payload")
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	sig, err := Sign(testPayload(), "user_demo_001", testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tampered := testPayload()
	tampered["product_query"] = "diamond ring"
	if Verify(tampered, sig, testSecret) {
		t.Error("verify accepted a modified field")
	}

	nested := testPayload()
	nested["constraints"].(map[string]any)["max_price_cents"] = float64(999999)
	if Verify(nested, sig, testSecret) {
		t.Error("verify accepted a modified nested field")
	}

	added := testPayload()
	added["extra"] = true
	if Verify(added, sig, testSecret) {
		t.Error("verify accepted an added field")
	}

	removed := testPayload()
	delete(removed, "user_id")
	if Verify(removed, sig, testSecret) {
		t.Error("verify accepted a removed field")
	}
}

func TestVerifyRejectsAlteredSignature(t *testing.T) {
	sig, err := Sign(testPayload(), "user_demo_001", testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	flipped := sig
	if flipped.SignatureValue[0] == 'a' {
		flipped.SignatureValue = "b" + flipped.SignatureValue[1:]
	} else {
		flipped.SignatureValue = "a" + flipped.SignatureValue[1:]
	}
	if Verify(testPayload(), flipped, testSecret) {
		t.Error("verify accepted an altered digest")
	}

	otherSigner := sig
	otherSigner.SignerIdentity = "user_demo_002"
	if Verify(testPayload(), otherSigner, testSecret) {
		t.Error("verify accepted a swapped signer identity")
	}

	otherTime := sig
	otherTime.Timestamp = sig.Timestamp.Add(-time.Minute)
	if Verify(testPayload(), otherTime, testSecret) {
		t.Error("verify accepted a shifted timestamp")
	}

	otherAlg := sig
	otherAlg.Algorithm = "HMAC-SHA512"
	if Verify(testPayload(), otherAlg, testSecret) {
		t.Error("verify accepted an unexpected algorithm")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	sig, err := Sign(testPayload(), "user_demo_001", testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if Verify(testPayload(), sig, []byte("test-secret-agent")) {
		t.Error("verify accepted a signature from another role's secret")
	}
	if Verify(testPayload(), sig, nil) {
		t.Error("verify accepted with empty secret")
	}
}

func TestVerifyRejectsFutureTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sig, err := signAt(testPayload(), "user_demo_001", testSecret, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if verifyAt(testPayload(), sig, testSecret, now) {
		t.Error("verify accepted a future-dated signature")
	}
	if !verifyAt(testPayload(), sig, testSecret, now.Add(3*time.Minute)) {
		t.Error("verify rejected the same signature once its timestamp passed")
	}
}

func TestVerifyRejectsMalformedDigest(t *testing.T) {
	sig, err := Sign(testPayload(), "user_demo_001", testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	for _, bad := range []string{"", "zz", "deadbeef", sig.SignatureValue + "00"} {
		sig := sig
		sig.SignatureValue = bad
		if Verify(testPayload(), sig, testSecret) {
			t.Errorf("verify accepted malformed digest %q", bad)
		}
	}
}

func TestCanonicalizeIsKeyOrderIndependent(t *testing.T) {
	a, err := Canonicalize(map[string]any{"b": 1, "a": map[string]any{"y": 2, "x": 1}})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":{"x":1,"y":2},"b":1}`
	if string(a) != want {
		t.Errorf("canonical form = %s, want %s", a, want)
	}
}

func TestSignatureStableAcrossEquivalentPayloads(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sig1, err := signAt(testPayload(), "user_demo_001", testSecret, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig2, err := signAt(testPayload(), "user_demo_001", testSecret, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig1.SignatureValue != sig2.SignatureValue {
		t.Error("same payload, signer, and timestamp produced different digests")
	}
}

func TestKeyringRoleSeparation(t *testing.T) {
	k, err := NewKeyring("secret-user", "secret-agent", "secret-payment")
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	sig, err := k.SignAs(RoleUser, testPayload(), "user_demo_001")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !k.VerifyAs(RoleUser, testPayload(), sig) {
		t.Error("user-role verify failed for user-role signature")
	}
	if k.VerifyAs(RoleAgent, testPayload(), sig) {
		t.Error("agent-role verify accepted a user-role signature")
	}
	if k.VerifyAs(RolePayment, testPayload(), sig) {
		t.Error("payment-role verify accepted a user-role signature")
	}
}

func TestKeyringRejectsMissingSecret(t *testing.T) {
	if _, err := NewKeyring("u", "", "p"); err == nil {
		t.Error("keyring accepted an empty agent secret")
	}
}
