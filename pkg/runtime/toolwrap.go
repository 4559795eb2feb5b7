// Package runtime provides the tool call execution envelope: structured
// output, input/output hashing, timing, and a consistent error taxonomy
// shared by the tool orchestrator and the planning engine.
package runtime

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// ErrorKind enumerates the step-result error codes a tool dispatch or plan
// step can fail with.
type ErrorKind string

const (
	ErrInvalidInput     ErrorKind = "invalid_input"
	ErrToolNotFound     ErrorKind = "tool_not_found"
	ErrSoulNotTrusted   ErrorKind = "soul_not_trusted"
	ErrSoulUnreachable  ErrorKind = "soul_unreachable"
	ErrTimeout          ErrorKind = "timeout"
	ErrOverloaded       ErrorKind = "overloaded"
	ErrApprovalDenied   ErrorKind = "approval_denied"
	ErrApprovalTimeout  ErrorKind = "approval_timeout"
	ErrDependencyFailed ErrorKind = "dependency_failed"
	ErrToolError        ErrorKind = "tool_error"
	ErrRollbackFailure  ErrorKind = "rollback_failure"
	ErrInternal         ErrorKind = "internal"
)

// ClassifiedError is a step-result error: {code, message, recoverable, suggestion}.
type ClassifiedError struct {
	Code        ErrorKind `json:"code"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	Suggestion  string    `json:"suggestion,omitempty"`
	ToolName    string    `json:"tool_name,omitempty"`
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ToolResult is the structured output of a single tool dispatch.
type ToolResult struct {
	ToolName   string           `json:"tool_name"`
	Success    bool             `json:"success"`
	Output     interface{}      `json:"output,omitempty"`
	Error      *ClassifiedError `json:"error,omitempty"`
	Duration   time.Duration    `json:"duration"`
	InputHash  string           `json:"input_hash"`
	OutputHash string           `json:"output_hash"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ToolWrapper wraps a tool handler with a deterministic execution envelope:
// consistent hashing, timing, and timeout/error classification.
type ToolWrapper struct {
	mu      sync.Mutex
	name    string
	timeout time.Duration
	results []ToolResult
	clock   func() time.Time
}

// NewToolWrapper creates a new wrapper that marks a call as timed out
// once it has returned after running longer than timeout. It does not
// interrupt the call.
func NewToolWrapper(name string, timeout time.Duration) *ToolWrapper {
	return &ToolWrapper{
		name:    name,
		timeout: timeout,
		clock:   time.Now,
	}
}

// WithClock overrides the wrapper's clock, for deterministic tests.
func (w *ToolWrapper) WithClock(clock func() time.Time) *ToolWrapper {
	w.clock = clock
	return w
}

// Execute runs fn with input, recording a structured ToolResult.
func (w *ToolWrapper) Execute(input interface{}, fn func(interface{}) (interface{}, error)) *ToolResult {
	w.mu.Lock()
	start := w.clock()
	w.mu.Unlock()

	inputStr := fmt.Sprintf("%v", input)
	inputH := sha256.Sum256([]byte(inputStr))

	output, err := fn(input)

	w.mu.Lock()
	defer w.mu.Unlock()

	end := w.clock()
	duration := end.Sub(start)

	result := &ToolResult{
		ToolName:  w.name,
		InputHash: "sha256:" + hex.EncodeToString(inputH[:]),
		Duration:  duration,
		Timestamp: start,
	}

	if err != nil {
		result.Success = false
		result.Error = ClassifyError(w.name, err)
	} else {
		result.Success = true
		result.Output = output
		outStr := fmt.Sprintf("%v", output)
		outH := sha256.Sum256([]byte(outStr))
		result.OutputHash = "sha256:" + hex.EncodeToString(outH[:])
	}

	if duration > w.timeout {
		result.Success = false
		result.Error = &ClassifiedError{
			Code: ErrTimeout, Recoverable: true, ToolName: w.name,
			Message: fmt.Sprintf("exceeded %v", w.timeout),
		}
	}

	w.results = append(w.results, *result)
	return result
}

// Results returns all recorded results, most recent last.
func (w *ToolWrapper) Results() []ToolResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := make([]ToolResult, len(w.results))
	copy(r, w.results)
	return r
}

// ClassifyError maps a raw handler error to the error taxonomy via message
// heuristics. Tool handlers that need a precise code should return a
// *ClassifiedError directly; ClassifyError is the fallback for opaque errors
// bubbling up from third-party clients.
func ClassifyError(toolName string, err error) *ClassifiedError {
	if ce, ok := err.(*ClassifiedError); ok {
		return ce
	}

	msg := err.Error()

	switch {
	case contains(msg, "timeout") || contains(msg, "deadline exceeded"):
		return &ClassifiedError{Code: ErrTimeout, Message: msg, Recoverable: true, ToolName: toolName}
	case contains(msg, "overload") || contains(msg, "too many"):
		return &ClassifiedError{Code: ErrOverloaded, Message: msg, Recoverable: true, ToolName: toolName}
	case contains(msg, "unreachable") || contains(msg, "connection refused"):
		return &ClassifiedError{Code: ErrSoulUnreachable, Message: msg, Recoverable: true, ToolName: toolName}
	case contains(msg, "not trusted") || contains(msg, "attestation"):
		return &ClassifiedError{Code: ErrSoulNotTrusted, Message: msg, Recoverable: true, ToolName: toolName}
	case contains(msg, "not found"):
		return &ClassifiedError{Code: ErrToolNotFound, Message: msg, Recoverable: false, ToolName: toolName}
	case contains(msg, "invalid") || contains(msg, "validation"):
		return &ClassifiedError{Code: ErrInvalidInput, Message: msg, Recoverable: false, ToolName: toolName}
	default:
		return &ClassifiedError{Code: ErrToolError, Message: msg, Recoverable: false, ToolName: toolName}
	}
}

func contains(s, sub string) bool {
	return len(sub) == 0 || (len(s) >= len(sub) && containsSubstring(s, sub))
}

func containsSubstring(s, sub string) bool {
	for i := 0; i <= len(s)-len(sub); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
