package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostpay/brain/pkg/orchestrator"
	"github.com/ghostpay/brain/pkg/runtime"
)

type fakeAttestation struct{ trusted bool }

func (f fakeAttestation) ShouldTrust(ctx context.Context) bool { return f.trusted }

func TestDispatcher_ToolNotFound(t *testing.T) {
	reg := orchestrator.NewRegistry()
	d := orchestrator.NewDispatcher(reg, fakeAttestation{trusted: true}, orchestrator.DefaultLimits())

	result := d.CallTool("nope", nil)
	require.False(t, result.Success)
	assert.Equal(t, runtime.ErrToolNotFound, result.Error.Code)
}

func TestDispatcher_SoulNotTrusted(t *testing.T) {
	reg := orchestrator.NewRegistry()
	require.NoError(t, reg.Register(&orchestrator.Tool{
		Name:                       "check_encrypted_balance",
		RequiresRemoteVerification: true,
		Handler: func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
			return map[string]any{"sufficient": true}, nil
		},
	}, ""))

	d := orchestrator.NewDispatcher(reg, fakeAttestation{trusted: false}, orchestrator.DefaultLimits())
	result := d.CallTool("check_encrypted_balance", nil)
	require.False(t, result.Success)
	assert.Equal(t, runtime.ErrSoulNotTrusted, result.Error.Code)
}

func TestDispatcher_SuccessPath(t *testing.T) {
	reg := orchestrator.NewRegistry()
	require.NoError(t, reg.Register(&orchestrator.Tool{
		Name: "check_balance",
		Handler: func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
			return map[string]any{"sufficient": true}, nil
		},
	}, ""))

	d := orchestrator.NewDispatcher(reg, fakeAttestation{trusted: true}, orchestrator.DefaultLimits())
	result := d.CallTool("check_balance", nil)
	require.True(t, result.Success)
	assert.Equal(t, true, result.Output["sufficient"])
}

func TestDispatcher_HandlerTimeout(t *testing.T) {
	reg := orchestrator.NewRegistry()
	require.NoError(t, reg.Register(&orchestrator.Tool{
		Name: "slow_tool",
		Handler: func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
			time.Sleep(100 * time.Millisecond)
			return map[string]any{}, nil
		},
	}, ""))

	limits := orchestrator.DefaultLimits()
	limits.CallDeadline = 10 * time.Millisecond
	d := orchestrator.NewDispatcher(reg, fakeAttestation{trusted: true}, limits)

	result := d.CallTool("slow_tool", nil)
	require.False(t, result.Success)
	assert.Equal(t, runtime.ErrTimeout, result.Error.Code)
}

func TestDispatcher_ConcurrencyCapOverload(t *testing.T) {
	reg := orchestrator.NewRegistry()
	release := make(chan struct{})
	require.NoError(t, reg.Register(&orchestrator.Tool{
		Name: "blocking_tool",
		Handler: func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
			<-release
			return map[string]any{}, nil
		},
	}, ""))

	limits := orchestrator.DefaultLimits()
	limits.MaxConcurrentCalls = 1
	limits.AcquireTimeout = 20 * time.Millisecond
	d := orchestrator.NewDispatcher(reg, fakeAttestation{trusted: true}, limits)

	go d.CallTool("blocking_tool", nil)
	time.Sleep(10 * time.Millisecond)

	result := d.CallTool("blocking_tool", nil)
	close(release)

	require.False(t, result.Success)
	assert.Equal(t, runtime.ErrOverloaded, result.Error.Code)
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	reg := orchestrator.NewRegistry()
	tool := &orchestrator.Tool{Name: "dup", Handler: func(ctx context.Context, p map[string]any) (map[string]any, error) { return nil, nil }}
	require.NoError(t, reg.Register(tool, ""))
	assert.Error(t, reg.Register(tool, ""))
}

func TestRegistry_SoulVersionIncompatible(t *testing.T) {
	reg := orchestrator.NewRegistry()
	tool := &orchestrator.Tool{
		Name:           "needs_new_soul",
		MinSoulVersion: "2.0.0",
		Handler:        func(ctx context.Context, p map[string]any) (map[string]any, error) { return nil, nil },
	}
	assert.Error(t, reg.Register(tool, "1.0.0"))
}

func TestRegistry_ListTools_Sorted(t *testing.T) {
	reg := orchestrator.NewRegistry()
	require.NoError(t, reg.Register(&orchestrator.Tool{Name: "zeta", Handler: func(ctx context.Context, p map[string]any) (map[string]any, error) { return nil, nil }}, ""))
	require.NoError(t, reg.Register(&orchestrator.Tool{Name: "alpha", Handler: func(ctx context.Context, p map[string]any) (map[string]any, error) { return nil, nil }}, ""))

	tools := reg.ListTools()
	require.Len(t, tools, 2)
	assert.Equal(t, "alpha", tools[0].Name)
}
