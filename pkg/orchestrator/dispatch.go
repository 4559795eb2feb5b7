package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ghostpay/brain/pkg/plan"
	"github.com/ghostpay/brain/pkg/runtime"
)

// AttestationChecker is the orchestrator's view of the Attestation
// Verifier: just enough to gate dispatch of remote-verified tools.
type AttestationChecker interface {
	ShouldTrust(ctx context.Context) bool
}

// Limits bundles the dispatcher's concurrency and deadline defaults.
type Limits struct {
	MaxConcurrentCalls int64
	AcquireTimeout     time.Duration
	CallDeadline       time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MaxConcurrentCalls: 16,
		AcquireTimeout:     2 * time.Second,
		CallDeadline:       10 * time.Second,
	}
}

// Dispatcher is the Tool Orchestrator's single dispatch point. It
// implements plan.ToolDispatcher so the Planning Engine can drive it
// directly.
type Dispatcher struct {
	registry    *Registry
	attestation AttestationChecker
	sem         *semaphore.Weighted
	limits      Limits
}

func NewDispatcher(registry *Registry, attestation AttestationChecker, limits Limits) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		attestation: attestation,
		sem:         semaphore.NewWeighted(limits.MaxConcurrentCalls),
		limits:      limits,
	}
}

// CallTool implements plan.ToolDispatcher. It runs the full dispatch
// algorithm: lookup, fingerprint-change gate, attestation gate,
// concurrency-cap acquire, deadline-bound invoke, error classification.
func (d *Dispatcher) CallTool(name string, parameters map[string]any) plan.StepResult {
	start := time.Now()

	tool, ok := d.registry.Get(name)
	if !ok {
		return errorResult(name, runtime.ErrToolNotFound, fmt.Sprintf("tool %q not found", name), false, start)
	}

	if changed, reason := d.registry.hasChanged(name); changed {
		return errorResult(name, runtime.ErrToolError, reason, true, start)
	}

	if tool.RequiresRemoteVerification {
		if d.attestation == nil || !d.attestation.ShouldTrust(context.Background()) {
			return errorResult(name, runtime.ErrSoulNotTrusted, "soul is not currently trusted", true, start)
		}
	}

	if err := validateInput(tool, parameters); err != nil {
		return errorResult(name, runtime.ErrInvalidInput, err.Error(), false, start)
	}

	acquireCtx, cancel := context.WithTimeout(context.Background(), d.limits.AcquireTimeout)
	defer cancel()
	if err := d.sem.Acquire(acquireCtx, 1); err != nil {
		return errorResult(name, runtime.ErrOverloaded, "concurrency cap exceeded", true, start)
	}
	defer d.sem.Release(1)

	callCtx, cancelCall := context.WithTimeout(context.Background(), d.limits.CallDeadline)
	defer cancelCall()

	output, err := invokeWithDeadline(callCtx, tool, parameters)
	duration := time.Since(start)

	if err != nil {
		classified := runtime.ClassifyError(name, err)
		return plan.StepResult{
			Success:    false,
			Error:      classified,
			DurationMS: duration.Milliseconds(),
		}
	}

	return plan.StepResult{
		Success:    true,
		Output:     output,
		DurationMS: duration.Milliseconds(),
	}
}

func invokeWithDeadline(ctx context.Context, tool *Tool, parameters map[string]any) (map[string]any, error) {
	type outcome struct {
		output map[string]any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		output, err := tool.Handler(ctx, parameters)
		done <- outcome{output, err}
	}()

	select {
	case o := <-done:
		return o.output, o.err
	case <-ctx.Done():
		return nil, &runtime.ClassifiedError{
			Code: runtime.ErrTimeout, Message: "tool call exceeded deadline", Recoverable: true, ToolName: tool.Name,
		}
	}
}

func errorResult(toolName string, code runtime.ErrorKind, message string, recoverable bool, start time.Time) plan.StepResult {
	return plan.StepResult{
		Success: false,
		Error: &runtime.ClassifiedError{
			Code: code, Message: message, Recoverable: recoverable, ToolName: toolName,
		},
		DurationMS: time.Since(start).Milliseconds(),
	}
}
