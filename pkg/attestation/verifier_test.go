package attestation_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostpay/brain/pkg/attestation"
	"github.com/ghostpay/brain/pkg/soul"
)

type fakeEnclaveClient struct {
	resp   *soul.AttestationResponse
	err    error
	n      int
	nonces []string
}

func (f *fakeEnclaveClient) GetAttestation(ctx context.Context, nonce string, refresh bool) (*soul.AttestationResponse, error) {
	f.n++
	f.nonces = append(f.nonces, nonce)
	return f.resp, f.err
}

func TestVerifier_Verify_Success(t *testing.T) {
	now := time.Now()
	client := &fakeEnclaveClient{resp: &soul.AttestationResponse{
		Quote:     []byte("quote"),
		MREnclave: "aaa",
		MRSigner:  "bbb",
		Timestamp: now,
		ExpiresAt: now.Add(time.Hour),
	}}
	v := attestation.NewVerifier(client, true).WithClock(func() time.Time { return now })

	result := v.Verify(context.Background(), false)
	assert.True(t, result.Verified)
	assert.True(t, result.Details.Reachable)
	assert.True(t, result.Details.NotExpired)
}

func TestVerifier_Verify_ExpiredQuote(t *testing.T) {
	now := time.Now()
	client := &fakeEnclaveClient{resp: &soul.AttestationResponse{
		Quote:     []byte("quote"),
		MREnclave: "aaa",
		ExpiresAt: now.Add(-time.Minute),
	}}
	v := attestation.NewVerifier(client, true).WithClock(func() time.Time { return now })

	result := v.Verify(context.Background(), false)
	assert.False(t, result.Verified)
	assert.False(t, result.Details.NotExpired)
}

func TestVerifier_Verify_UnreachableError(t *testing.T) {
	client := &fakeEnclaveClient{err: fmt.Errorf("connection refused")}
	v := attestation.NewVerifier(client, true)

	result := v.Verify(context.Background(), false)
	assert.False(t, result.Verified)
	assert.False(t, result.Details.Reachable)
}

func TestVerifier_MREnclaveAllowlist(t *testing.T) {
	now := time.Now()
	client := &fakeEnclaveClient{resp: &soul.AttestationResponse{
		Quote: []byte("quote"), MREnclave: "unexpected", ExpiresAt: now.Add(time.Hour),
	}}
	v := attestation.NewVerifier(client, true).WithClock(func() time.Time { return now })
	v.SetExpectedMREnclave([]string{"expected-only"})

	result := v.Verify(context.Background(), false)
	assert.False(t, result.Verified)
	assert.False(t, result.Details.MREnclaveMatch)
}

func TestVerifier_CachesResultBetweenCalls(t *testing.T) {
	now := time.Now()
	client := &fakeEnclaveClient{resp: &soul.AttestationResponse{
		Quote: []byte("quote"), ExpiresAt: now.Add(time.Hour),
	}}
	v := attestation.NewVerifier(client, true).WithClock(func() time.Time { return now })

	v.Verify(context.Background(), false)
	v.Verify(context.Background(), false)
	assert.Equal(t, 1, client.n)
}

func TestVerifier_ForceRefreshBypassesCache(t *testing.T) {
	now := time.Now()
	client := &fakeEnclaveClient{resp: &soul.AttestationResponse{
		Quote: []byte("quote"), ExpiresAt: now.Add(time.Hour),
	}}
	v := attestation.NewVerifier(client, true).WithClock(func() time.Time { return now })

	v.Verify(context.Background(), false)
	v.Verify(context.Background(), true)
	assert.Equal(t, 2, client.n)
}

func TestVerifier_ShouldTrust_StrictRequiresVerified(t *testing.T) {
	now := time.Now()
	client := &fakeEnclaveClient{resp: &soul.AttestationResponse{
		Quote: []byte("quote"), ExpiresAt: now.Add(-time.Hour),
	}}
	v := attestation.NewVerifier(client, true).WithClock(func() time.Time { return now })
	assert.False(t, v.ShouldTrust(context.Background()))
}

func TestVerifier_ShouldTrust_NonStrictAcceptsReachable(t *testing.T) {
	now := time.Now()
	client := &fakeEnclaveClient{resp: &soul.AttestationResponse{
		Quote: []byte("quote"), ExpiresAt: now.Add(-time.Hour),
	}}
	v := attestation.NewVerifier(client, false).WithClock(func() time.Time { return now })
	assert.True(t, v.ShouldTrust(context.Background()))
}

func TestVerifier_ClearCache_ForcesRefetch(t *testing.T) {
	now := time.Now()
	client := &fakeEnclaveClient{resp: &soul.AttestationResponse{
		Quote: []byte("quote"), ExpiresAt: now.Add(time.Hour),
	}}
	v := attestation.NewVerifier(client, true).WithClock(func() time.Time { return now })

	v.Verify(context.Background(), false)
	v.ClearCache()
	v.Verify(context.Background(), false)
	assert.Equal(t, 2, client.n)
}

func TestGenerateNonce_UniqueAcrossCalls(t *testing.T) {
	now := time.Now()
	client := &fakeEnclaveClient{resp: &soul.AttestationResponse{Quote: []byte("q"), ExpiresAt: now.Add(time.Hour)}}
	v := attestation.NewVerifier(client, true)

	require.NotNil(t, v)
	v.Verify(context.Background(), true)
	v.Verify(context.Background(), true)
	require.Len(t, client.nonces, 2)
	assert.NotEqual(t, client.nonces[0], client.nonces[1])
}
