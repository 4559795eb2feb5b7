package crypto

import "testing"

func TestCanonicalHasher_StableAcrossFieldOrder(t *testing.T) {
	h := NewCanonicalHasher()

	a := map[string]interface{}{"b": 2, "a": 1}
	b := map[string]interface{}{"a": 1, "b": 2}

	hashA, err := h.Hash(a)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	hashB, err := h.Hash(b)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if hashA != hashB {
		t.Fatalf("Hash() not stable across key order: %s != %s", hashA, hashB)
	}
}

func TestCanonicalHasher_DifferentValuesDifferentHashes(t *testing.T) {
	h := NewCanonicalHasher()

	hashA, err := h.Hash(map[string]interface{}{"amount": 100})
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	hashB, err := h.Hash(map[string]interface{}{"amount": 200})
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if hashA == hashB {
		t.Fatalf("Hash() collided for distinct inputs")
	}
}
