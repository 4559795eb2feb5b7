package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ghostpay/brain/pkg/privacy"
)

var piiGuard = privacy.NewPrivacyManager()

// validateInput checks parameters against the tool's declared JSON
// Schema, if any, and rejects parameters carrying restricted PII keys
// (ssn, credit card numbers) regardless of schema. Parameters are
// round-tripped through encoding/json first so map[string]any values
// match the JSON-native shapes the schema validator expects (float64
// numbers, []interface{} arrays).
func validateInput(tool *Tool, parameters map[string]any) error {
	if ok, violations := piiGuard.Validate(context.Background(), parameters); !ok {
		return fmt.Errorf("parameters carry restricted data: %v", violations)
	}

	if tool.InputSchema == nil {
		return nil
	}

	if parameters == nil {
		parameters = map[string]any{}
	}

	raw, err := json.Marshal(parameters)
	if err != nil {
		return fmt.Errorf("parameters not serializable: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parameters not valid JSON: %w", err)
	}

	if err := tool.InputSchema.Validate(doc); err != nil {
		return fmt.Errorf("parameter validation failed: %w", err)
	}
	return nil
}
