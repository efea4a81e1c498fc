package signature

import "fmt"

// Role identifies which secret signs a mandate. Possession of one role's
// secret must never allow forging a signature attributable to another role,
// so the three secrets are provisioned and rotated independently.
type Role string

const (
	RoleUser    Role = "user"
	RoleAgent   Role = "agent"
	RolePayment Role = "payment"
)

// PaymentAuthorityIdentity is the signer identity used on Payment mandates.
const PaymentAuthorityIdentity = "payment_agent"

// Keyring holds the per-role HMAC secrets. Construct it once at process
// start; NewKeyring rejects missing material so a misconfigured deployment
// fails before any mandate is signed.
type Keyring struct {
	secrets map[Role][]byte
}

func NewKeyring(userSecret, agentSecret, paymentSecret string) (*Keyring, error) {
	secrets := map[Role][]byte{
		RoleUser:    []byte(userSecret),
		RoleAgent:   []byte(agentSecret),
		RolePayment: []byte(paymentSecret),
	}
	for role, secret := range secrets {
		if len(secret) == 0 {
			return nil, fmt.Errorf("signature secret for role %q is not configured", role)
		}
	}
	return &Keyring{secrets: secrets}, nil
}

// Secret returns the secret for role. Unknown roles yield nil, which makes
// any sign or verify against them fail closed.
func (k *Keyring) Secret(role Role) []byte {
	return k.secrets[role]
}

// SignAs signs payload with role's secret.
func (k *Keyring) SignAs(role Role, payload map[string]any, signerIdentity string) (Signature, error) {
	return Sign(payload, signerIdentity, k.secrets[role])
}

// VerifyAs verifies sig against payload using role's secret.
func (k *Keyring) VerifyAs(role Role, payload map[string]any, sig Signature) bool {
	return Verify(payload, sig, k.secrets[role])
}
