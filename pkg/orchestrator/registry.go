package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ghostpay/brain/pkg/tooling"
)

// Registry is the read-only-after-startup tool registry. It is backed by
// tooling.ToolRegistry for fingerprinting and tooling.ToolChangeDetector
// for fail-closed dispatch gating when a registered tool's descriptor
// changes without an explicit re-registration.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*Tool
	backing  *tooling.ToolRegistry
	detector *tooling.ToolChangeDetector
	closed   bool
}

func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]*Tool),
		backing:  tooling.NewToolRegistry(),
		detector: tooling.NewToolChangeDetector(),
	}
}

// Register adds tool to the registry. Unique by name; rejects duplicates.
// soulVersion, if non-empty, is checked against tool.MinSoulVersion and
// registration fails if the sibling enclave is too old to serve it.
func (r *Registry) Register(tool *Tool, soulVersion string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("orchestrator: registry closed to new registrations")
	}
	if tool.Name == "" {
		return fmt.Errorf("orchestrator: tool name is required")
	}
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("orchestrator: tool %q already registered", tool.Name)
	}
	if tool.Handler == nil {
		return fmt.Errorf("orchestrator: tool %q has no handler", tool.Name)
	}

	if err := checkSoulCompatibility(tool, soulVersion); err != nil {
		return err
	}

	if tool.InputSchema == nil && tool.InputSchemaJSON != "" {
		compiled, err := compileInputSchema(tool.Name, tool.InputSchemaJSON)
		if err != nil {
			return fmt.Errorf("orchestrator: tool %q: %w", tool.Name, err)
		}
		tool.InputSchema = compiled
	}

	descriptor := &tooling.ToolDescriptor{
		ToolID:           tool.Name,
		Version:          "1.0.0",
		Endpoint:         "internal://" + tool.Name,
		AuthMethodClass:  "none",
		InputSchemaHash:  schemaHash(tool.InputSchemaJSON),
		OutputSchemaHash: "n/a",
	}
	if err := r.backing.Register(descriptor); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	r.detector.RegisterBaseline(descriptor)
	tool.descriptor = descriptor

	r.tools[tool.Name] = tool
	return nil
}

func checkSoulCompatibility(tool *Tool, soulVersion string) error {
	if tool.MinSoulVersion == "" || soulVersion == "" {
		return nil
	}
	constraint, err := tool.compiledConstraint()
	if err != nil {
		return fmt.Errorf("orchestrator: invalid min_soul_version constraint for %q: %w", tool.Name, err)
	}
	v, err := semver.NewVersion(soulVersion)
	if err != nil {
		return fmt.Errorf("orchestrator: invalid soul version %q: %w", soulVersion, err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("orchestrator: tool %q requires soul >= %s, got %s", tool.Name, tool.MinSoulVersion, soulVersion)
	}
	return nil
}

// compileInputSchema compiles a tool's raw JSON Schema source into a
// validator, following the same compile-by-synthetic-URL pattern used
// for policy firewalling elsewhere in the stack.
func compileInputSchema(toolName, rawSchema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://brain.schemas.local/tools/%s.schema.json", toolName)
	if err := c.AddResource(schemaURL, strings.NewReader(rawSchema)); err != nil {
		return nil, fmt.Errorf("loading input schema: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling input schema: %w", err)
	}
	return compiled, nil
}

// schemaHash fingerprints a tool's raw schema source so ToolChangeDetector
// can tell a no-op re-registration from a schema that actually changed.
func schemaHash(rawSchema string) string {
	if rawSchema == "" {
		return "none"
	}
	sum := sha256.Sum256([]byte(rawSchema))
	return hex.EncodeToString(sum[:])
}

// Close marks the registry read-only; no further Register calls succeed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ListTools returns tool metadata for every registered tool, sorted by
// name.
func (r *Registry) ListTools() []ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ToolMetadata, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		out = append(out, ToolMetadata{
			Name:                       t.Name,
			Description:                t.Description,
			RequiresRemoteVerification: t.RequiresRemoteVerification,
		})
	}
	return out
}

// hasChanged fails closed: if a registered tool's descriptor fingerprint
// no longer matches its registration baseline, dispatch must be blocked
// until it is explicitly re-registered.
func (r *Registry) hasChanged(name string) (bool, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok || t.descriptor == nil {
		return false, ""
	}
	return r.detector.CheckForChange(t.descriptor)
}

// ToolMetadata is the read-only view returned by ListTools.
type ToolMetadata struct {
	Name                       string `json:"name"`
	Description                string `json:"description"`
	RequiresRemoteVerification bool   `json:"requires_remote_verification"`
}
