package plan

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ghostpay/brain/pkg/intent"
	"github.com/ghostpay/brain/pkg/prg"
	"github.com/ghostpay/brain/pkg/runtime"
	"github.com/ghostpay/brain/pkg/session"
)

// Limits bundles the engine's step-level resource defaults.
type Limits struct {
	StepDeadline    time.Duration
	ApprovalTimeout time.Duration
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	DefaultMaxRetries int
}

func DefaultLimits() Limits {
	return Limits{
		StepDeadline:      30 * time.Second,
		ApprovalTimeout:   5 * time.Minute,
		BackoffBase:       200 * time.Millisecond,
		BackoffCap:        10 * time.Second,
		DefaultMaxRetries: 3,
	}
}

// runningPlan tracks everything the engine needs to drive one plan to a
// terminal status, including the channel used to deliver approval
// decisions into a suspended execution loop.
type runningPlan struct {
	plan       *ExecutionPlan
	mu         sync.Mutex
	approvals  map[string]chan ApprovalDecision
	cancelled  chan string // receives the cancellation reason, closed on first cancel
	cancelOnce sync.Once
}

// Engine is the Planning Engine: it builds plans from intents and drives
// them to completion against a ToolDispatcher, gating sensitive steps
// through a CEL policy engine.
type Engine struct {
	templates  *TemplateRegistry
	dispatcher ToolDispatcher
	policy     *prg.PolicyEngine
	limits     Limits
	log        *slog.Logger

	mu    sync.Mutex
	plans map[string]*runningPlan
}

func NewEngine(templates *TemplateRegistry, dispatcher ToolDispatcher, policy *prg.PolicyEngine, limits Limits) *Engine {
	return &Engine{
		templates:  templates,
		dispatcher: dispatcher,
		policy:     policy,
		limits:     limits,
		log:        slog.Default().With("component", "planning_engine"),
		plans:      make(map[string]*runningPlan),
	}
}

// CreatePlanFromIntent selects a template matching intent.Action,
// instantiates steps with parameter substitution from the intent's slots,
// and computes RequiresApproval from the user's confirmation preference
// and whether any step is marked sensitive.
func (e *Engine) CreatePlanFromIntent(in intent.Intent, sessionID, userID string, prefs session.Preferences) (*ExecutionPlan, error) {
	tmpl, ok := e.templates.Lookup(in.Action)
	if !ok {
		return nil, fmt.Errorf("plan: no template registered for action %q", in.Action)
	}

	planID := uuid.NewString()
	stepIDs := make([]string, len(tmpl.Steps))
	for i := range tmpl.Steps {
		stepIDs[i] = uuid.NewString()
	}

	var requiresApproval bool
	steps := make([]*PlanStep, len(tmpl.Steps))
	for i, st := range tmpl.Steps {
		dependsOn := make([]string, 0, len(st.DependsOnIndices))
		for _, idx := range st.DependsOnIndices {
			dependsOn = append(dependsOn, stepIDs[idx])
		}

		stepSensitive, err := e.evaluateApproval(st, prefs)
		if err != nil {
			return nil, fmt.Errorf("plan: approval rule evaluation failed: %w", err)
		}
		if stepSensitive {
			requiresApproval = true
		}

		status := StepPending
		if len(dependsOn) > 0 {
			status = StepBlocked
		}

		steps[i] = &PlanStep{
			StepID:                   stepIDs[i],
			PlanID:                   planID,
			Sequence:                 i,
			Action:                   st.Action,
			Description:              st.Description,
			Parameters:               slotParameters(in, st.ParameterSlots),
			DependsOn:                dependsOn,
			RequiresSoulVerification: st.RequiresRemoteVerification,
			RequiresApproval:         stepSensitive,
			Optional:                 st.Optional,
			Status:                   status,
			MaxRetries:               e.limits.DefaultMaxRetries,
		}
	}

	p := &ExecutionPlan{
		PlanID:           planID,
		SessionID:        sessionID,
		UserID:           userID,
		OriginalIntent:   in,
		Steps:            steps,
		Status:           PlanPending,
		CreatedAt:        time.Now(),
		TotalSteps:       len(steps),
		RequiresApproval: requiresApproval,
	}

	e.mu.Lock()
	e.plans[planID] = &runningPlan{
		plan:      p,
		approvals: make(map[string]chan ApprovalDecision),
		cancelled: make(chan string, 1),
	}
	e.mu.Unlock()

	return p, nil
}

// evaluateApproval decides whether a step requires approval by
// evaluating its CEL approval rule (or the template default) against the
// user's confirmation preference and the step's static sensitivity flag.
func (e *Engine) evaluateApproval(st stepTemplate, prefs session.Preferences) (bool, error) {
	if !st.SensitiveForApproval {
		return false, nil
	}
	if e.policy == nil {
		return prefs.ConfirmationMode != session.ConfirmationNever, nil
	}

	rule := st.ApprovalRule
	if rule == "" {
		rule = defaultApprovalRule
	}

	activation := map[string]interface{}{
		"input": map[string]interface{}{
			"sensitive":         st.SensitiveForApproval,
			"confirmation_mode": string(prefs.ConfirmationMode),
		},
	}
	return e.policy.Evaluate(rule, activation)
}

func slotParameters(in intent.Intent, slots []string) map[string]any {
	if len(slots) == 0 {
		return nil
	}
	params := make(map[string]any, len(slots))
	for _, slot := range slots {
		switch slot {
		case "amount":
			if in.Amount != nil {
				params["amount"] = in.Amount.String()
			}
		case "target_type":
			if in.TargetType != "" {
				params["target_type"] = in.TargetType
			}
		case "source_type":
			if in.SourceType != "" {
				params["source_type"] = in.SourceType
			}
		default:
			if v, ok := in.Parameters[slot]; ok {
				params[slot] = v
			}
		}
	}
	return params
}

// ExecutePlan drives plan to a terminal status, emitting events to sink
// as they occur. It returns when a terminal event has been delivered.
func (e *Engine) ExecutePlan(planID string, sink EventSink) error {
	e.mu.Lock()
	rp, ok := e.plans[planID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("plan: %s not found", planID)
	}

	p := rp.plan
	now := time.Now()
	p.StartedAt = &now
	p.Status = PlanExecuting

	e.emit(sink, p, "", EventPlanStarted, "plan started", nil)

	for {
		select {
		case reason := <-rp.cancelled:
			e.rollbackCompleted(rp, sink)
			skipRemaining(p)
			p.Status = PlanCancelled
			e.emit(sink, p, "", EventPlanCancelled, reason, nil)
			return nil
		default:
		}

		next := nextPendingStep(p)
		if next == nil {
			if allTerminalOrSkipped(p) {
				completedAt := time.Now()
				p.CompletedAt = &completedAt
				p.Status = PlanCompleted
				e.emit(sink, p, "", EventPlanCompleted, "plan completed", nil)
				return nil
			}
			// Nothing pending but plan not done: either blocked forever
			// (shouldn't happen for an acyclic DAG) or awaiting approval.
			if hasAwaitingApproval(p) {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			completedAt := time.Now()
			p.CompletedAt = &completedAt
			p.Status = PlanFailed
			e.emit(sink, p, "", EventPlanFailed, "no progress possible", nil)
			return nil
		}

		if next.RequiresApproval {
			decision, err := e.awaitApproval(rp, next, sink)
			if err != nil {
				next.Status = StepFailed
				next.Result = &StepResult{Success: false, Error: &runtime.ClassifiedError{
					Code: runtime.ErrApprovalTimeout, Message: err.Error(), Recoverable: false,
				}}
				e.emit(sink, p, next.StepID, EventStepFailed, err.Error(), nil)
				e.failPlan(rp, sink)
				return nil
			}
			if !decision.Approved {
				next.Status = StepFailed
				next.Result = &StepResult{Success: false, Error: &runtime.ClassifiedError{
					Code: runtime.ErrApprovalDenied, Message: "approval denied", Recoverable: false,
				}}
				e.emit(sink, p, next.StepID, EventStepFailed, "approval denied", nil)
				e.failPlan(rp, sink)
				return nil
			}
		}

		e.executeStep(rp, next, sink)

		switch next.Status {
		case StepCompleted, StepVerifiedBySoul, StepSkipped:
			p.CompletedSteps++
			unblockDependents(p)
		case StepFailed:
			if next.Optional {
				next.Status = StepSkipped
				p.CompletedSteps++
				unblockDependents(p)
				continue
			}
			e.failPlan(rp, sink)
			return nil
		case StepPending:
			// requeued for retry; loop continues
		}
	}
}

func (e *Engine) awaitApproval(rp *runningPlan, step *PlanStep, sink EventSink) (ApprovalDecision, error) {
	rp.mu.Lock()
	ch := make(chan ApprovalDecision, 1)
	rp.approvals[step.StepID] = ch
	rp.mu.Unlock()

	step.Status = StepAwaitingApproval
	e.emit(sink, rp.plan, step.StepID, EventStepAwaitingApproval, step.Description, nil)

	select {
	case d := <-ch:
		return d, nil
	case <-time.After(e.limits.ApprovalTimeout):
		return ApprovalDecision{}, fmt.Errorf("approval timed out for step %s", step.StepID)
	}
}

// ApproveStep delivers an approval decision to a step suspended in
// awaiting_approval. It is a no-op if the step isn't currently waiting.
func (e *Engine) ApproveStep(planID, stepID string, decision ApprovalDecision) error {
	e.mu.Lock()
	rp, ok := e.plans[planID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("plan: %s not found", planID)
	}

	rp.mu.Lock()
	ch, ok := rp.approvals[stepID]
	if ok {
		delete(rp.approvals, stepID)
	}
	rp.mu.Unlock()

	if !ok {
		return fmt.Errorf("plan: step %s is not awaiting approval", stepID)
	}

	ch <- decision
	return nil
}

// Cancel marks a non-terminal plan for cancellation, which triggers
// rollback of completed steps on the next execution loop iteration.
func (e *Engine) Cancel(planID, reason string) error {
	e.mu.Lock()
	rp, ok := e.plans[planID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("plan: %s not found", planID)
	}
	if rp.plan.Status.Terminal() {
		return nil
	}

	rp.cancelOnce.Do(func() {
		rp.cancelled <- reason
	})
	return nil
}

func (e *Engine) executeStep(rp *runningPlan, step *PlanStep, sink EventSink) {
	p := rp.plan
	started := time.Now()
	step.StartedAt = &started
	step.Status = StepExecuting
	e.emit(sink, p, step.StepID, EventStepStarted, step.Description, nil)

	if step.RequiresSoulVerification && step.Action != StepVerifyWithSoul {
		verifyResult := e.dispatcher.CallTool(string(StepVerifyWithSoul), step.Parameters)
		if !verifyResult.Success {
			step.Status = StepFailed
			step.Result = &verifyResult
			e.emit(sink, p, step.StepID, EventStepFailed, "remote verification failed", nil)
			return
		}
		step.Status = StepVerifiedBySoul
		e.emit(sink, p, step.StepID, EventStepVerified, "verified by soul", nil)
	}

	result := e.dispatcher.CallTool(string(step.Action), step.Parameters)
	completed := time.Now()
	step.Result = &result

	if result.Success {
		step.CompletedAt = &completed
		if step.Action == StepVerifyWithSoul {
			step.Status = StepCompleted
			e.emit(sink, p, step.StepID, EventStepVerified, "verified by soul", nil)
			return
		}
		step.Status = StepCompleted
		e.emit(sink, p, step.StepID, EventStepCompleted, step.Description, nil)
		return
	}

	if result.Error != nil && result.Error.Recoverable && step.RetryCount < step.MaxRetries {
		step.RetryCount++
		backoff := e.backoffFor(step.RetryCount)
		e.emit(sink, p, step.StepID, EventStepRetrying, fmt.Sprintf("retry %d after %s", step.RetryCount, backoff), nil)
		time.Sleep(backoff)
		step.Status = StepPending
		return
	}

	step.CompletedAt = &completed
	step.Status = StepFailed
	e.emit(sink, p, step.StepID, EventStepFailed, step.Description, nil)
}

func (e *Engine) backoffFor(retryCount int) time.Duration {
	d := e.limits.BackoffBase
	for i := 0; i < retryCount; i++ {
		d *= 2
	}
	if d > e.limits.BackoffCap {
		d = e.limits.BackoffCap
	}
	return d
}

func (e *Engine) failPlan(rp *runningPlan, sink EventSink) {
	e.rollbackCompleted(rp, sink)
	p := rp.plan
	skipRemaining(p)
	completedAt := time.Now()
	p.CompletedAt = &completedAt
	p.Status = PlanFailed
	e.emit(sink, p, "", EventPlanFailed, "plan failed", nil)
}

// skipRemaining marks every step that never reached a terminal status
// (steps blocked on a failed dependency, or never dequeued before the
// plan ended) as skipped, so completed+failed+skipped+rolled_back always
// accounts for every step once a plan is terminal.
func skipRemaining(p *ExecutionPlan) {
	for _, step := range p.Steps {
		switch step.Status {
		case StepPending, StepBlocked:
			step.Status = StepSkipped
		}
	}
}

// rollbackCompleted rolls back completed steps in reverse order. Steps
// whose action has no inverse (notify_user) are skipped without error;
// rollback failures are reported as events but never block further
// rollback.
func (e *Engine) rollbackCompleted(rp *runningPlan, sink EventSink) {
	p := rp.plan
	for i := len(p.Steps) - 1; i >= 0; i-- {
		step := p.Steps[i]
		if step.Status != StepCompleted && step.Status != StepVerifiedBySoul {
			continue
		}
		if !hasInverse(step.Action) {
			continue
		}

		result := e.dispatcher.CallTool("rollback_"+string(step.Action), step.Parameters)
		if !result.Success {
			e.emit(sink, p, step.StepID, EventStepFailed, "rollback failed", map[string]any{
				"code": runtime.ErrRollbackFailure,
			})
			continue
		}
		step.Status = StepRolledBack
	}
}

func hasInverse(action StepAction) bool {
	switch action {
	case StepNotifyUser, StepRequestApproval, StepWaitForConfirmation, StepParseIntent,
		StepVerifyWithSoul, StepCheckBalance, StepFreezeCard:
		return false
	default:
		return true
	}
}

func (e *Engine) emit(sink EventSink, p *ExecutionPlan, stepID string, eventType EventType, message string, data map[string]any) {
	if sink == nil {
		return
	}
	sink.Emit(Event{
		EventID:   uuid.NewString(),
		PlanID:    p.PlanID,
		StepID:    stepID,
		EventType: eventType,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	})
}

func nextPendingStep(p *ExecutionPlan) *PlanStep {
	for _, s := range p.Steps {
		if s.Status == StepPending {
			return s
		}
	}
	return nil
}

func hasAwaitingApproval(p *ExecutionPlan) bool {
	for _, s := range p.Steps {
		if s.Status == StepAwaitingApproval || s.Status == StepExecuting {
			return true
		}
	}
	return false
}

func allTerminalOrSkipped(p *ExecutionPlan) bool {
	for _, s := range p.Steps {
		switch s.Status {
		case StepCompleted, StepSkipped, StepVerifiedBySoul, StepRolledBack:
			continue
		default:
			return false
		}
	}
	return true
}

func unblockDependents(p *ExecutionPlan) {
	byID := make(map[string]*PlanStep, len(p.Steps))
	for _, s := range p.Steps {
		byID[s.StepID] = s
	}
	for _, s := range p.Steps {
		if s.Status != StepBlocked {
			continue
		}
		if allDependenciesSatisfied(byID, s) {
			s.Status = StepPending
		}
	}
}

func allDependenciesSatisfied(byID map[string]*PlanStep, step *PlanStep) bool {
	for _, depID := range step.DependsOn {
		dep, ok := byID[depID]
		if !ok {
			return false
		}
		switch dep.Status {
		case StepCompleted, StepSkipped, StepVerifiedBySoul:
			continue
		default:
			return false
		}
	}
	return true
}
