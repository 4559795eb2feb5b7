package attestation

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ghostpay/brain/pkg/crypto"
)

// cacheTTLStrict and cacheTTLNegative bound how long a verification
// result is reused: a verified result is cached for 60s, a failed
// verification only in non-strict mode and for 5s.
const (
	cacheTTLStrict   = 60 * time.Second
	cacheTTLNegative = 5 * time.Second
)

// Verifier fetches and verifies the sibling enclave's attestation quote.
// It owns a single cached VerificationResult, shared by read with the
// Tool Orchestrator.
type Verifier struct {
	client EnclaveClient
	strict bool
	clock  func() time.Time

	mu                sync.RWMutex
	cached            *VerificationResult
	cachedAt          time.Time
	expectedMREnclave []string
	expectedMRSigner  []string

	verifier *crypto.Ed25519Verifier
}

func NewVerifier(client EnclaveClient, strict bool) *Verifier {
	return &Verifier{
		client:   client,
		strict:   strict,
		clock:    time.Now,
		verifier: crypto.NewEd25519Verifier(),
	}
}

func (v *Verifier) WithClock(clock func() time.Time) *Verifier {
	v.clock = clock
	return v
}

// SetExpectedMREnclave restricts trust to the given mr_enclave hex
// values. An empty list disables the check.
func (v *Verifier) SetExpectedMREnclave(values []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.expectedMREnclave = values
	v.cached = nil
}

func (v *Verifier) SetExpectedMRSigner(values []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.expectedMRSigner = values
	v.cached = nil
}

// ClearCache invalidates the cached verification result.
func (v *Verifier) ClearCache() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cached = nil
}

// Verify checks the cache unless forceRefresh is set or the cached
// result has expired, otherwise fetches and verifies a fresh quote.
func (v *Verifier) Verify(ctx context.Context, forceRefresh bool) *VerificationResult {
	if !forceRefresh {
		if cached := v.cachedResult(); cached != nil {
			return cached
		}
	}

	result := v.verifyUncached(ctx)
	v.cacheResult(result)
	return result
}

func (v *Verifier) cachedResult() *VerificationResult {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.cached == nil {
		return nil
	}
	ttl := cacheTTLStrict
	if !v.cached.Verified {
		ttl = cacheTTLNegative
	}
	if v.clock().Sub(v.cachedAt) > ttl {
		return nil
	}
	return v.cached
}

func (v *Verifier) cacheResult(result *VerificationResult) {
	v.mu.Lock()
	defer v.mu.Unlock()

	// Failures are cached only in non-strict mode.
	if !result.Verified && v.strict {
		v.cached = nil
		return
	}
	v.cached = result
	v.cachedAt = v.clock()
}

func (v *Verifier) verifyUncached(ctx context.Context) *VerificationResult {
	now := v.clock()
	nonce := generateNonce(now)

	resp, err := v.client.GetAttestation(ctx, nonce, true)
	if err != nil {
		return &VerificationResult{
			Verified:   false,
			Details:    VerificationDetails{Reachable: false},
			Error:      err.Error(),
			VerifiedAt: now,
		}
	}

	record := &Record{
		Quote:     resp.Quote,
		MREnclave: resp.MREnclave,
		MRSigner:  resp.MRSigner,
		PublicKey: resp.PublicKey,
		Timestamp: resp.Timestamp,
		ExpiresAt: resp.ExpiresAt,
		Nonce:     nonce,
	}

	v.mu.RLock()
	expectedMREnclave := v.expectedMREnclave
	expectedMRSigner := v.expectedMRSigner
	v.mu.RUnlock()

	details := VerificationDetails{
		Reachable:      true,
		NotExpired:     now.Before(record.ExpiresAt),
		MREnclaveMatch: membershipOK(record.MREnclave, expectedMREnclave),
		MRSignerMatch:  membershipOK(record.MRSigner, expectedMRSigner),
		SignatureValid: len(record.Quote) > 0,
	}

	verified := details.Reachable && details.NotExpired && details.MREnclaveMatch &&
		details.MRSignerMatch && details.SignatureValid

	return &VerificationResult{
		Verified:    verified,
		Attestation: record,
		Details:     details,
		VerifiedAt:  now,
	}
}

func membershipOK(value string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, value) {
			return true
		}
	}
	return false
}

// ShouldTrust returns the trust decision the Tool Orchestrator gates
// dispatch on: verified in strict mode, reachable in non-strict mode.
func (v *Verifier) ShouldTrust(ctx context.Context) bool {
	result := v.Verify(ctx, false)
	if v.strict {
		return result.Verified
	}
	return result.Details.Reachable
}

// GetForChain returns the trimmed view suitable for inclusion in
// caller-facing responses.
func (v *Verifier) GetForChain(ctx context.Context) ChainView {
	result := v.Verify(ctx, false)
	if result.Attestation == nil {
		return ChainView{Verified: result.Verified, Timestamp: result.VerifiedAt}
	}
	return ChainView{
		QuoteBase64: base64.StdEncoding.EncodeToString(result.Attestation.Quote),
		MREnclave:   result.Attestation.MREnclave,
		MRSigner:    result.Attestation.MRSigner,
		Verified:    result.Verified,
		Timestamp:   result.VerifiedAt,
	}
}

// VerifyResponse checks signature against data using the public key from
// the most recently cached attestation, if any.
func (v *Verifier) VerifyResponse(signature, data []byte) bool {
	v.mu.RLock()
	cached := v.cached
	v.mu.RUnlock()

	if cached == nil || cached.Attestation == nil || len(cached.Attestation.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	return v.verifier.Verify(ed25519.PublicKey(cached.Attestation.PublicKey), data, signature)
}

// generateNonce builds "brain-" + base36(now_ms) + "-" + hex(random_8_bytes).
func generateNonce(now time.Time) string {
	ms := now.UnixMilli()
	randBytes := make([]byte, 8)
	_, _ = rand.Read(randBytes)
	return fmt.Sprintf("brain-%s-%s", base36(ms), hex.EncodeToString(randBytes))
}

const base36Digits = "0123456789abcdefghijklmnopqrstuvwxyz"

func base36(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{base36Digits[n%36]}, b...)
		n /= 36
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}
