package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// Signer signs raw byte payloads. The orchestrator uses it to sign outbound
// attestation challenges and to verify signed responses returned by the
// sibling enclave service; it has no knowledge of any higher-level record
// format, which is left to callers.
type Signer interface {
	Sign(payload []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
}

// Verifier checks a signature over a raw byte payload against a known
// public key.
type Verifier interface {
	Verify(publicKey ed25519.PublicKey, payload, signature []byte) bool
}

// Ed25519Signer signs with an in-memory Ed25519 private key.
type Ed25519Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewEd25519Signer generates a fresh Ed25519 keypair.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 keypair: %w", err)
	}
	return &Ed25519Signer{privateKey: priv, publicKey: pub}, nil
}

// NewEd25519SignerFromSeed constructs a signer from a 32-byte seed, for
// loading a persisted or provisioned identity key.
func NewEd25519SignerFromSeed(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid ed25519 seed length: got %d, want %d", len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{privateKey: priv, publicKey: priv.Public().(ed25519.PublicKey)}, nil
}

func (s *Ed25519Signer) Sign(payload []byte) ([]byte, error) {
	return ed25519.Sign(s.privateKey, payload), nil
}

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.publicKey
}
