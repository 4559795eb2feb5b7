// Package attestation fetches and verifies the sibling enclave's
// attestation quote and hands the Tool Orchestrator a trust decision. It
// owns a single cached verification result, shared by read.
package attestation

import (
	"context"
	"time"

	"github.com/ghostpay/brain/pkg/soul"
)

// Record mirrors the sibling enclave's attestation payload: an opaque
// quote plus the measurement triple used to establish trust.
type Record struct {
	Quote     []byte    `json:"quote"`
	MREnclave string    `json:"mr_enclave"`
	MRSigner  string    `json:"mr_signer"`
	PublicKey []byte    `json:"public_key"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expires_at"`
	Nonce     string    `json:"nonce"`
}

type VerificationDetails struct {
	SignatureValid bool `json:"signature_valid"`
	NotExpired     bool `json:"not_expired"`
	MREnclaveMatch bool `json:"mr_enclave_match"`
	MRSignerMatch  bool `json:"mr_signer_match"`
	Reachable      bool `json:"reachable"`
}

type VerificationResult struct {
	Verified   bool                 `json:"verified"`
	Attestation *Record             `json:"attestation,omitempty"`
	Details    VerificationDetails  `json:"details"`
	Error      string               `json:"error,omitempty"`
	VerifiedAt time.Time            `json:"verified_at"`
}

// ChainView is the trimmed shape surfaced to callers in caller-facing
// responses, per GetForChain.
type ChainView struct {
	QuoteBase64 string    `json:"quote_base64"`
	MREnclave   string    `json:"mr_enclave"`
	MRSigner    string    `json:"mr_signer"`
	Verified    bool      `json:"verified"`
	Timestamp   time.Time `json:"timestamp"`
}

// EnclaveClient is the subset of the Remote Enclave Client the verifier
// needs: fetching a fresh attestation by nonce.
type EnclaveClient interface {
	GetAttestation(ctx context.Context, nonce string, refresh bool) (*soul.AttestationResponse, error)
}
