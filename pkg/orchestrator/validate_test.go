package orchestrator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostpay/brain/pkg/orchestrator"
)

func schemaTool(name, schema string) *orchestrator.Tool {
	return &orchestrator.Tool{
		Name:            name,
		InputSchemaJSON: schema,
		Handler: func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		},
	}
}

const amountSchema = `{
	"type": "object",
	"properties": {"amount": {"type": "number"}},
	"required": ["amount"]
}`

func TestValidateInput_RejectsMissingRequiredField(t *testing.T) {
	reg := orchestrator.NewRegistry()
	require.NoError(t, reg.Register(schemaTool("fund_card", amountSchema), ""))
	d := orchestrator.NewDispatcher(reg, fakeAttestation{trusted: true}, orchestrator.DefaultLimits())

	result := d.CallTool("fund_card", map[string]any{})
	require.False(t, result.Success)
	assert.Contains(t, result.Error.Message, "parameter validation failed")
}

func TestValidateInput_AcceptsValidParameters(t *testing.T) {
	reg := orchestrator.NewRegistry()
	require.NoError(t, reg.Register(schemaTool("fund_card", amountSchema), ""))
	d := orchestrator.NewDispatcher(reg, fakeAttestation{trusted: true}, orchestrator.DefaultLimits())

	result := d.CallTool("fund_card", map[string]any{"amount": 50})
	assert.True(t, result.Success)
}

func TestValidateInput_NilParametersAgainstSchemaWithNoRequiredFields(t *testing.T) {
	noRequired := `{"type": "object", "properties": {"amount": {"type": "number"}}}`
	reg := orchestrator.NewRegistry()
	require.NoError(t, reg.Register(schemaTool("check_balance", noRequired), ""))
	d := orchestrator.NewDispatcher(reg, fakeAttestation{trusted: true}, orchestrator.DefaultLimits())

	result := d.CallTool("check_balance", nil)
	assert.True(t, result.Success)
}

func TestValidateInput_RejectsRestrictedPIIRegardlessOfSchema(t *testing.T) {
	reg := orchestrator.NewRegistry()
	require.NoError(t, reg.Register(schemaTool("fund_card", ""), ""))
	d := orchestrator.NewDispatcher(reg, fakeAttestation{trusted: true}, orchestrator.DefaultLimits())

	result := d.CallTool("fund_card", map[string]any{"credit_card": "4111111111111111"})
	require.False(t, result.Success)
	assert.Contains(t, result.Error.Message, "restricted data")
}

func TestRegisterBuiltins_NamesMatchPlanStepActions(t *testing.T) {
	reg := orchestrator.NewRegistry()
	require.NoError(t, orchestrator.RegisterBuiltins(reg, nil, ""))

	for _, action := range []string{
		"verify_with_soul", "check_balance", "fund_card", "execute_transfer",
		"execute_swap", "create_card", "freeze_card", "notify_user",
	} {
		_, ok := reg.Get(action)
		assert.Truef(t, ok, "expected builtin tool registered for action %q", action)
	}
}
