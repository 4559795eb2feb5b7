package prg

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// PolicyEngine evaluates CEL boolean expressions against an arbitrary input
// map, caching compiled programs by source expression. It backs approval
// and confirmation-gating decisions in the planning engine: a plan step's
// "requires_approval" rule or a tool's policy guard is a CEL expression
// evaluated here rather than a bespoke rule language.
type PolicyEngine struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

func NewPolicyEngine() (*PolicyEngine, error) {
	// Expose a single "input" map for maximum flexibility across callers
	// (plan context, step output, session state) without a fixed schema.
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &PolicyEngine{
		env:      env,
		prgCache: make(map[string]cel.Program),
	}, nil
}

// Evaluate compiles (or retrieves from cache) the given CEL expression and
// evaluates it against activation, requiring a boolean result. activation
// must provide the "input" variable, e.g. map[string]interface{}{"input": input}.
func (pe *PolicyEngine) Evaluate(expression string, activation map[string]interface{}) (bool, error) {
	pe.mu.RLock()
	prg, hit := pe.prgCache[expression]
	pe.mu.RUnlock()

	if !hit {
		pe.mu.Lock()
		if prg, hit = pe.prgCache[expression]; !hit {
			ast, issues := pe.env.Compile(expression)
			if issues != nil && issues.Err() != nil {
				pe.mu.Unlock()
				return false, fmt.Errorf("CEL compile error: %w", issues.Err())
			}

			p, err := pe.env.Program(ast)
			if err != nil {
				pe.mu.Unlock()
				return false, fmt.Errorf("CEL program error: %w", err)
			}
			pe.prgCache[expression] = p
			prg = p
		}
		pe.mu.Unlock()
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("CEL eval error: %w", err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not boolean")
	}

	return allowed, nil
}
