package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Hasher produces a deterministic content hash for a value.
type Hasher interface {
	Hash(v interface{}) (string, error)
}

// CanonicalHasher hashes values after RFC 8785 (JCS) canonicalization, so
// two structurally equal values hash identically regardless of field order
// or serializer whitespace.
type CanonicalHasher struct{}

func NewCanonicalHasher() *CanonicalHasher {
	return &CanonicalHasher{}
}

func (h *CanonicalHasher) Hash(v interface{}) (string, error) {
	canon, err := CanonicalMarshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical serialization failed: %w", err)
	}

	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalMarshal marshals v to JSON and reduces it to RFC 8785 canonical
// form (sorted object keys, no insignificant whitespace).
func CanonicalMarshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encoding failed: %w", err)
	}

	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs canonicalization failed: %w", err)
	}

	return canon, nil
}
