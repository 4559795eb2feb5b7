package prg

import "testing"

func TestPolicyEngine_EvaluateBasic(t *testing.T) {
	pe, err := NewPolicyEngine()
	if err != nil {
		t.Fatalf("NewPolicyEngine() error = %v", err)
	}

	ok, err := pe.Evaluate(`input.amount_cents < 100000`, map[string]interface{}{
		"input": map[string]interface{}{"amount_cents": int64(5000)},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !ok {
		t.Fatalf("Evaluate() = false, want true")
	}

	ok, err = pe.Evaluate(`input.amount_cents < 100000`, map[string]interface{}{
		"input": map[string]interface{}{"amount_cents": int64(500000)},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if ok {
		t.Fatalf("Evaluate() = true, want false")
	}
}

func TestPolicyEngine_CompileCache(t *testing.T) {
	pe, err := NewPolicyEngine()
	if err != nil {
		t.Fatalf("NewPolicyEngine() error = %v", err)
	}

	expr := `input.action == "transfer"`
	activation := map[string]interface{}{"input": map[string]interface{}{"action": "transfer"}}

	for i := 0; i < 3; i++ {
		ok, err := pe.Evaluate(expr, activation)
		if err != nil {
			t.Fatalf("Evaluate() iteration %d error = %v", i, err)
		}
		if !ok {
			t.Fatalf("Evaluate() iteration %d = false, want true", i)
		}
	}
	if len(pe.prgCache) != 1 {
		t.Fatalf("prgCache size = %d, want 1", len(pe.prgCache))
	}
}

func TestPolicyEngine_NonBooleanResult(t *testing.T) {
	pe, err := NewPolicyEngine()
	if err != nil {
		t.Fatalf("NewPolicyEngine() error = %v", err)
	}

	_, err = pe.Evaluate(`input.amount_cents`, map[string]interface{}{
		"input": map[string]interface{}{"amount_cents": int64(5000)},
	})
	if err == nil {
		t.Fatalf("Evaluate() error = nil, want non-boolean error")
	}
}
