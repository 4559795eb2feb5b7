// Package plan implements the Planning Engine: it turns an Intent into a
// dependency-ordered ExecutionPlan and drives it to a terminal status,
// emitting a totally-ordered event stream per plan.
package plan

import (
	"time"

	"github.com/ghostpay/brain/pkg/intent"
	"github.com/ghostpay/brain/pkg/runtime"
)

type PlanStatus string

const (
	PlanPending          PlanStatus = "pending"
	PlanAwaitingApproval PlanStatus = "awaiting_approval"
	PlanExecuting        PlanStatus = "executing"
	PlanPaused           PlanStatus = "paused"
	PlanCompleted        PlanStatus = "completed"
	PlanFailed           PlanStatus = "failed"
	PlanCancelled        PlanStatus = "cancelled"
)

func (s PlanStatus) Terminal() bool {
	switch s {
	case PlanCompleted, PlanFailed, PlanCancelled:
		return true
	default:
		return false
	}
}

type StepAction string

const (
	StepParseIntent         StepAction = "parse_intent"
	StepVerifyWithSoul      StepAction = "verify_with_soul"
	StepCheckBalance        StepAction = "check_balance"
	StepExecuteTransfer     StepAction = "execute_transfer"
	StepExecuteSwap         StepAction = "execute_swap"
	StepFundCard            StepAction = "fund_card"
	StepCreateCard          StepAction = "create_card"
	StepFreezeCard          StepAction = "freeze_card"
	StepNotifyUser          StepAction = "notify_user"
	StepRequestApproval     StepAction = "request_approval"
	StepWaitForConfirmation StepAction = "wait_for_confirmation"
	StepRollback            StepAction = "rollback"
)

type StepStatus string

const (
	StepPending          StepStatus = "pending"
	StepBlocked          StepStatus = "blocked"
	StepExecuting        StepStatus = "executing"
	StepAwaitingApproval StepStatus = "awaiting_approval"
	StepVerifiedBySoul   StepStatus = "verified_by_soul"
	StepCompleted        StepStatus = "completed"
	StepFailed           StepStatus = "failed"
	StepSkipped          StepStatus = "skipped"
	StepRolledBack       StepStatus = "rolled_back"
)

// StepResult is the outcome of dispatching a single step to the tool
// orchestrator.
type StepResult struct {
	Success               bool                       `json:"success"`
	Output                map[string]any             `json:"output,omitempty"`
	Error                 *runtime.ClassifiedError   `json:"error,omitempty"`
	RemoteVerification    map[string]any             `json:"remote_verification,omitempty"`
	AttestationQuote      []byte                     `json:"attestation_quote,omitempty"`
	DurationMS            int64                      `json:"duration_ms"`
}

type PlanStep struct {
	StepID                  string            `json:"step_id"`
	PlanID                  string            `json:"plan_id"`
	Sequence                int               `json:"sequence"`
	Action                  StepAction        `json:"action"`
	Description             string            `json:"description"`
	Parameters              map[string]any    `json:"parameters,omitempty"`
	DependsOn               []string          `json:"depends_on,omitempty"`
	RequiresSoulVerification bool             `json:"requires_soul_verification"`
	RequiresApproval        bool              `json:"requires_approval"`
	Optional                bool              `json:"optional"`
	Status                  StepStatus        `json:"status"`
	Result                  *StepResult       `json:"result,omitempty"`
	RetryCount              int               `json:"retry_count"`
	MaxRetries              int               `json:"max_retries"`
	StartedAt               *time.Time        `json:"started_at,omitempty"`
	CompletedAt             *time.Time        `json:"completed_at,omitempty"`
}

type ExecutionPlan struct {
	PlanID          string      `json:"plan_id"`
	SessionID       string      `json:"session_id"`
	UserID          string      `json:"user_id"`
	OriginalIntent  intent.Intent `json:"original_intent"`
	Steps           []*PlanStep `json:"steps"`
	Status          PlanStatus  `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	TotalSteps      int         `json:"total_steps"`
	CompletedSteps  int         `json:"completed_steps"`
	RequiresApproval bool       `json:"requires_approval"`
}

type EventType string

const (
	EventPlanStarted          EventType = "plan_started"
	EventStepStarted          EventType = "step_started"
	EventStepAwaitingApproval EventType = "step_awaiting_approval"
	EventStepVerified         EventType = "step_verified"
	EventStepCompleted        EventType = "step_completed"
	EventStepFailed           EventType = "step_failed"
	EventStepRetrying         EventType = "step_retrying"
	EventPlanCompleted        EventType = "plan_completed"
	EventPlanFailed           EventType = "plan_failed"
	EventPlanCancelled        EventType = "plan_cancelled"
)

type Event struct {
	EventID   string         `json:"event_id"`
	PlanID    string         `json:"plan_id"`
	StepID    string         `json:"step_id,omitempty"`
	EventType EventType      `json:"event_type"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventSink receives a plan's totally-ordered event stream.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to an EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

type ApprovalDecision struct {
	Approved bool
	Approver string
	Comment  string
}

// ToolDispatcher is the Planning Engine's view of the Tool Orchestrator:
// enough to dispatch a step and get a result back.
type ToolDispatcher interface {
	CallTool(action string, parameters map[string]any) StepResult
}
