package plan_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostpay/brain/pkg/intent"
	"github.com/ghostpay/brain/pkg/plan"
	"github.com/ghostpay/brain/pkg/prg"
	"github.com/ghostpay/brain/pkg/runtime"
	"github.com/ghostpay/brain/pkg/session"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	results map[string]plan.StepResult
	calls   []string
}

func (f *fakeDispatcher) CallTool(action string, parameters map[string]any) plan.StepResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, action)
	if r, ok := f.results[action]; ok {
		return r
	}
	return plan.StepResult{Success: true}
}

type collectingSink struct {
	mu     sync.Mutex
	events []plan.Event
}

func (c *collectingSink) Emit(e plan.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collectingSink) types() []plan.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]plan.EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.EventType
	}
	return out
}

func newEngine(t *testing.T, dispatcher plan.ToolDispatcher) *plan.Engine {
	t.Helper()
	templates, err := plan.LoadDefaultTemplates()
	require.NoError(t, err)
	policy, err := prg.NewPolicyEngine()
	require.NoError(t, err)
	return plan.NewEngine(templates, dispatcher, policy, plan.DefaultLimits())
}

func TestEngine_CheckBalance_NoApproval_CompletesSuccessfully(t *testing.T) {
	dispatcher := &fakeDispatcher{results: map[string]plan.StepResult{}}
	eng := newEngine(t, dispatcher)

	in := intent.Intent{Action: intent.ActionCheckBalance, Confidence: 0.9}
	p, err := eng.CreatePlanFromIntent(in, "s1", "u1", session.Preferences{ConfirmationMode: session.ConfirmationHighRisk})
	require.NoError(t, err)
	assert.False(t, p.RequiresApproval)

	sink := &collectingSink{}
	err = eng.ExecutePlan(p.PlanID, sink)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanCompleted, p.Status)
	assert.Contains(t, sink.types(), plan.EventPlanCompleted)
}

func TestEngine_FundCard_RequiresApproval_BlocksUntilApproved(t *testing.T) {
	dispatcher := &fakeDispatcher{results: map[string]plan.StepResult{}}
	eng := newEngine(t, dispatcher)

	amt, _ := intent.ParseAmount("$50")
	in := intent.Intent{Action: intent.ActionFundCard, Confidence: 0.9, Amount: &amt, TargetType: "card"}
	p, err := eng.CreatePlanFromIntent(in, "s1", "u1", session.Preferences{ConfirmationMode: session.ConfirmationAlways})
	require.NoError(t, err)
	require.True(t, p.RequiresApproval)

	sink := &collectingSink{}
	done := make(chan error, 1)
	go func() { done <- eng.ExecutePlan(p.PlanID, sink) }()

	var fundStepID string
	for _, s := range p.Steps {
		if s.Action == plan.StepFundCard {
			fundStepID = s.StepID
		}
	}
	require.NotEmpty(t, fundStepID)

	require.Eventually(t, func() bool {
		return eng.ApproveStep(p.PlanID, fundStepID, plan.ApprovalDecision{Approved: true, Approver: "u1"}) == nil
	}, 2_000_000_000, 10_000_000)

	require.NoError(t, <-done)
	assert.Equal(t, plan.PlanCompleted, p.Status)
	assert.Contains(t, sink.types(), plan.EventStepAwaitingApproval)
}

func TestEngine_StepFailure_TriggersRollback(t *testing.T) {
	dispatcher := &fakeDispatcher{results: map[string]plan.StepResult{
		"execute_transfer": {Success: false, Error: &runtime.ClassifiedError{
			Code: runtime.ErrToolError, Message: "boom", Recoverable: false,
		}},
	}}
	eng := newEngine(t, dispatcher)

	amt, _ := intent.ParseAmount("$50")
	in := intent.Intent{Action: intent.ActionTransfer, Confidence: 0.9, Amount: &amt, TargetType: "wallet"}
	p, err := eng.CreatePlanFromIntent(in, "s1", "u1", session.Preferences{ConfirmationMode: session.ConfirmationNever})
	require.NoError(t, err)

	sink := &collectingSink{}
	err = eng.ExecutePlan(p.PlanID, sink)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanFailed, p.Status)
	assert.Contains(t, sink.types(), plan.EventPlanFailed)
}

func TestEngine_Cancel_OnTerminalPlan_IsNoOp(t *testing.T) {
	dispatcher := &fakeDispatcher{results: map[string]plan.StepResult{}}
	eng := newEngine(t, dispatcher)

	in := intent.Intent{Action: intent.ActionCheckBalance, Confidence: 0.9}
	p, err := eng.CreatePlanFromIntent(in, "s1", "u1", session.Preferences{})
	require.NoError(t, err)

	sink := &collectingSink{}
	require.NoError(t, eng.ExecutePlan(p.PlanID, sink))
	require.True(t, p.Status.Terminal())

	assert.NoError(t, eng.Cancel(p.PlanID, "too late"))
	assert.Equal(t, plan.PlanCompleted, p.Status)
}
