// Package orchestrator is the Tool Orchestrator: a typed registry of
// tools and the single dispatch point for every side-effecting call,
// enforcing attestation gating and a global concurrency cap.
package orchestrator

import (
	"context"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ghostpay/brain/pkg/tooling"
)

// Handler is a tool's side-effecting implementation. It receives a
// deadline-bound context and the call's validated parameters.
type Handler func(ctx context.Context, parameters map[string]any) (map[string]any, error)

// Tool is a registered entity: name, description, the remote-verification
// requirement, and its handler. InputSchemaJSON, if set, is compiled into
// InputSchema at registration time and used by validateInput to reject
// malformed parameters before the handler ever runs; a caller that
// already has a compiled schema may set InputSchema directly instead.
type Tool struct {
	Name                       string
	Description                string
	RequiresRemoteVerification bool
	MinSoulVersion             string
	InputSchemaJSON            string
	InputSchema                *jsonschema.Schema
	Handler                    Handler

	descriptor *tooling.ToolDescriptor
}

// compiledConstraint parses MinSoulVersion once at registration so
// dispatch never re-parses a semver constraint on the hot path.
func (t *Tool) compiledConstraint() (*semver.Constraints, error) {
	if t.MinSoulVersion == "" {
		return nil, nil
	}
	return semver.NewConstraint(">= " + t.MinSoulVersion)
}
