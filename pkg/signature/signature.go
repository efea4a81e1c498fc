// Package signature implements deterministic mandate signing and
// verification. Signatures are HMAC-SHA256 over a canonical JSON form of the
// mandate payload, keyed per signer role. This stands in for production
// ECDSA with hardware-backed keys; the message layout and the role
// separation are the load-bearing parts.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

const Algorithm = "HMAC-SHA256"

// timeLayout is RFC3339 UTC at second precision. Signing and verification
// must format the timestamp identically or the digests diverge.
const timeLayout = "2006-01-02T15:04:05Z"

// Signature is the detached signature object attached to a mandate.
type Signature struct {
	Algorithm      string    `json:"algorithm"`
	SignerIdentity string    `json:"signer_identity"`
	Timestamp      time.Time `json:"timestamp"`
	SignatureValue string    `json:"signature_value"`
}

// Canonicalize renders payload as canonical JSON: keys sorted, no
// insignificant whitespace (RFC 8785). The payload must not contain the
// signature field; mandate payload builders strip it before calling in.
func Canonicalize(payload map[string]any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return canonical, nil
}

// Sign produces a Signature over payload attributable to signerIdentity.
// The signed message is canonical(payload) + "|" + signer + "|" + timestamp.
func Sign(payload map[string]any, signerIdentity string, secret []byte) (Signature, error) {
	return signAt(payload, signerIdentity, secret, time.Now().UTC())
}

func signAt(payload map[string]any, signerIdentity string, secret []byte, now time.Time) (Signature, error) {
	if len(secret) == 0 {
		return Signature{}, fmt.Errorf("signing secret is empty")
	}
	ts := now.UTC().Truncate(time.Second)
	digest, err := computeDigest(payload, signerIdentity, ts, secret)
	if err != nil {
		return Signature{}, err
	}
	return Signature{
		Algorithm:      Algorithm,
		SignerIdentity: signerIdentity,
		Timestamp:      ts,
		SignatureValue: digest,
	}, nil
}

// Verify recomputes the digest for payload against sig and compares in
// constant time. Any malformed input, including a signature timestamped in
// the future, verifies false; Verify never returns an error to callers.
func Verify(payload map[string]any, sig Signature, secret []byte) bool {
	return verifyAt(payload, sig, secret, time.Now().UTC())
}

func verifyAt(payload map[string]any, sig Signature, secret []byte, now time.Time) bool {
	if len(secret) == 0 || sig.SignatureValue == "" {
		return false
	}
	if sig.Algorithm != Algorithm {
		return false
	}
	if sig.Timestamp.After(now) {
		return false
	}
	provided, err := hex.DecodeString(sig.SignatureValue)
	if err != nil || len(provided) != sha256.Size {
		return false
	}
	expectedHex, err := computeDigest(payload, sig.SignerIdentity, sig.Timestamp, secret)
	if err != nil {
		return false
	}
	expected, _ := hex.DecodeString(expectedHex)
	return hmac.Equal(expected, provided)
}

func computeDigest(payload map[string]any, signerIdentity string, ts time.Time, secret []byte) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	message := fmt.Sprintf("%s|%s|%s", canonical, signerIdentity, ts.UTC().Format(timeLayout))
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
