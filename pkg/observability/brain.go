// Package observability provides orchestrator-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for the brain orchestrator.
var (
	// Session attributes
	AttrSessionID   = attribute.Key("brain.session.id")
	AttrUserID      = attribute.Key("brain.user.id")
	AttrTurnIndex   = attribute.Key("brain.session.turn_index")

	// Intent attributes
	AttrIntentName       = attribute.Key("brain.intent.name")
	AttrIntentConfidence = attribute.Key("brain.intent.confidence")

	// Plan/step attributes
	AttrPlanID       = attribute.Key("brain.plan.id")
	AttrPlanTemplate = attribute.Key("brain.plan.template")
	AttrStepID       = attribute.Key("brain.plan.step_id")
	AttrStepStatus   = attribute.Key("brain.plan.step_status")
	AttrStepAttempt  = attribute.Key("brain.plan.step_attempt")

	// Tool dispatch attributes
	AttrToolName    = attribute.Key("brain.tool.name")
	AttrToolVersion = attribute.Key("brain.tool.version")
	AttrToolOutcome = attribute.Key("brain.tool.outcome")

	// Attestation attributes
	AttrEnclaveID    = attribute.Key("brain.attestation.enclave_id")
	AttrMREnclave    = attribute.Key("brain.attestation.mr_enclave")
	AttrTrustVerdict = attribute.Key("brain.attestation.trusted")
)

// SessionOperation creates attributes for session lifecycle operations.
func SessionOperation(sessionID, userID string, turnIndex int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSessionID.String(sessionID),
		AttrUserID.String(userID),
		AttrTurnIndex.Int(turnIndex),
	}
}

// IntentOperation creates attributes for intent-parsing operations.
func IntentOperation(name string, confidence float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrIntentName.String(name),
		AttrIntentConfidence.Float64(confidence),
	}
}

// StepOperation creates attributes for a single plan step execution.
func StepOperation(planID, stepID, status string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPlanID.String(planID),
		AttrStepID.String(stepID),
		AttrStepStatus.String(status),
		AttrStepAttempt.Int(attempt),
	}
}

// ToolDispatchOperation creates attributes for a tool call dispatch.
func ToolDispatchOperation(name, version, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrToolName.String(name),
		AttrToolVersion.String(version),
		AttrToolOutcome.String(outcome),
	}
}

// AttestationOperation creates attributes for an attestation verification.
func AttestationOperation(enclaveID, mrEnclave string, trusted bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnclaveID.String(enclaveID),
		AttrMREnclave.String(mrEnclave),
		AttrTrustVerdict.Bool(trusted),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records an error, if any, on the current span.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
