package orchestrator

import (
	"context"
	"fmt"

	"github.com/ghostpay/brain/pkg/runtime"
	"github.com/ghostpay/brain/pkg/soul"
)

// RegisterBuiltins registers every tool action the static plan templates
// can dispatch against client, the Remote Enclave Client used to reach
// the sibling enclave ("Soul"). Tool names match plan.StepAction values
// exactly so the Planning Engine can dispatch by action name with no
// translation layer in between.
func RegisterBuiltins(registry *Registry, client *soul.Client, soulVersion string) error {
	builtins := []*Tool{
		{
			Name:                       "verify_with_soul",
			Description:                "Verify a parsed intent with the remote enclave.",
			RequiresRemoteVerification: true,
			InputSchemaJSON:            verifyWithSoulSchema,
			Handler:                    verifyWithSoulHandler(client),
		},
		{
			Name:                       "check_balance",
			Description:                "Check whether an encrypted balance meets a minimum.",
			RequiresRemoteVerification: true,
			InputSchemaJSON:            checkBalanceSchema,
			Handler:                    checkBalanceHandler(client),
		},
		{
			Name:                       "fund_card",
			Description:                "Fund a card from an encrypted balance.",
			RequiresRemoteVerification: true,
			InputSchemaJSON:            fundCardSchema,
			Handler:                    fundCardHandler(client),
		},
		{
			Name:                       "execute_transfer",
			Description:                "Transfer between encrypted balances.",
			RequiresRemoteVerification: true,
			InputSchemaJSON:            executeTransferSchema,
			Handler:                    executeTransferHandler(client),
		},
		{
			Name:                       "execute_swap",
			Description:                "Swap between two encrypted balances.",
			RequiresRemoteVerification: true,
			InputSchemaJSON:            executeSwapSchema,
			Handler:                    executeSwapHandler(client),
		},
		{
			Name:                       "create_card",
			Description:                "Issue a new card backed by an encrypted balance.",
			RequiresRemoteVerification: true,
			Handler:                    createCardHandler(client),
		},
		{
			Name:                       "freeze_card",
			Description:                "Freeze the user's card.",
			RequiresRemoteVerification: true,
			Handler:                    freezeCardHandler(client),
		},
		{
			Name:                       "notify_user",
			Description:                "Notify the user of a completed or failed plan step.",
			RequiresRemoteVerification: false,
			Handler:                    notifyUserHandler(),
		},
		{
			Name:                       "rollback_execute_transfer",
			Description:                "Reverse an executed transfer.",
			RequiresRemoteVerification: true,
			Handler:                    rollbackHandler(client, "rollback_execute_transfer"),
		},
		{
			Name:                       "rollback_fund_card",
			Description:                "Reverse a card funding.",
			RequiresRemoteVerification: true,
			Handler:                    rollbackHandler(client, "rollback_fund_card"),
		},
		{
			Name:                       "rollback_execute_swap",
			Description:                "Reverse an executed swap.",
			RequiresRemoteVerification: true,
			Handler:                    rollbackHandler(client, "rollback_execute_swap"),
		},
		{
			Name:                       "rollback_create_card",
			Description:                "Reverse a card issuance.",
			RequiresRemoteVerification: true,
			Handler:                    rollbackHandler(client, "rollback_create_card"),
		},
	}

	for _, t := range builtins {
		if err := registry.Register(t, soulVersion); err != nil {
			return fmt.Errorf("orchestrator: registering builtin %q: %w", t.Name, err)
		}
	}
	return nil
}

const verifyWithSoulSchema = `{
	"type": "object",
	"properties": {
		"amount": {"type": ["number", "string"]},
		"target_type": {"type": "string"},
		"source_type": {"type": "string"}
	}
}`

const checkBalanceSchema = `{
	"type": "object",
	"properties": {
		"source_type": {"type": "string"},
		"amount": {"type": ["number", "string"]},
		"minimum_required": {"type": "number", "minimum": 0}
	}
}`

const fundCardSchema = `{
	"type": "object",
	"properties": {
		"amount": {"type": ["number", "string"]},
		"target_type": {"type": "string", "minLength": 1}
	},
	"required": ["amount", "target_type"]
}`

const executeTransferSchema = `{
	"type": "object",
	"properties": {
		"amount": {"type": ["number", "string"]},
		"target_type": {"type": "string", "minLength": 1},
		"source_type": {"type": "string"}
	},
	"required": ["amount", "target_type"]
}`

const executeSwapSchema = `{
	"type": "object",
	"properties": {
		"amount": {"type": ["number", "string"]},
		"source_type": {"type": "string", "minLength": 1},
		"target_type": {"type": "string", "minLength": 1}
	},
	"required": ["amount", "source_type", "target_type"]
}`

func verifyWithSoulHandler(client *soul.Client) Handler {
	return func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
		resp, err := client.Call(ctx, "verify_intent", parameters)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success":           true,
			"verified":          resp.Verified,
			"attestation_quote": resp.AttestationQuote,
		}, nil
	}
}

func checkBalanceHandler(client *soul.Client) Handler {
	return func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
		minRequired, _ := parameters["minimum_required"].(float64)
		if minRequired < 0 {
			return nil, &runtime.ClassifiedError{
				Code: runtime.ErrInvalidInput, Message: "minimum_required must be >= 0", Recoverable: false,
			}
		}

		resp, err := client.Call(ctx, "check_encrypted_balance", parameters)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"sufficient":            resp.Sufficient,
			"attestation_quote":     resp.AttestationQuote,
			"attestation_timestamp": resp.AttestationTimestamp,
			"duration_ms":           resp.DurationMS,
		}, nil
	}
}

func fundCardHandler(client *soul.Client) Handler {
	return func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
		if err := requirePositiveAmount(parameters); err != nil {
			return nil, err
		}

		resp, err := client.Call(ctx, "execute_encrypted_fund", parameters)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success":           resp.Success,
			"new_handle":        resp.NewHandle,
			"new_epoch":         resp.NewEpoch,
			"attestation_quote": resp.AttestationQuote,
			"duration_ms":       resp.DurationMS,
		}, nil
	}
}

func executeTransferHandler(client *soul.Client) Handler {
	return func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
		if err := requirePositiveAmount(parameters); err != nil {
			return nil, err
		}
		if err := requireNonEmptyString(parameters, "target_type"); err != nil {
			return nil, err
		}

		resp, err := client.Call(ctx, "execute_encrypted_transfer", parameters)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success":           resp.Success,
			"new_source_handle": resp.NewHandle,
			"new_source_epoch":  resp.NewEpoch,
			"attestation_quote": resp.AttestationQuote,
			"duration_ms":       resp.DurationMS,
		}, nil
	}
}

func executeSwapHandler(client *soul.Client) Handler {
	return func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
		if err := requirePositiveAmount(parameters); err != nil {
			return nil, err
		}
		if err := requireNonEmptyString(parameters, "source_type"); err != nil {
			return nil, err
		}
		if err := requireNonEmptyString(parameters, "target_type"); err != nil {
			return nil, err
		}

		resp, err := client.Call(ctx, "execute_encrypted_swap", parameters)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success":           resp.Success,
			"new_source_handle": resp.NewHandle,
			"new_source_epoch":  resp.NewEpoch,
			"attestation_quote": resp.AttestationQuote,
			"duration_ms":       resp.DurationMS,
		}, nil
	}
}

func createCardHandler(client *soul.Client) Handler {
	return func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
		resp, err := client.Call(ctx, "create_card", parameters)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success":           resp.Success,
			"new_handle":        resp.NewHandle,
			"attestation_quote": resp.AttestationQuote,
		}, nil
	}
}

func freezeCardHandler(client *soul.Client) Handler {
	return func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
		resp, err := client.Call(ctx, "freeze_card", parameters)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success": resp.Success,
		}, nil
	}
}

// notifyUserHandler has no remote side effect: the Conversational State
// Machine delivers the actual notification off the plan's event stream.
// The step exists so a plan template can still gate on it completing.
func notifyUserHandler() Handler {
	return func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
		return map[string]any{"notified": true}, nil
	}
}

// rollbackHandler wires a best-effort inverse operation through to Soul
// under wireMethod. Soul is expected to treat an unknown or already-
// settled rollback as a success, not an error.
func rollbackHandler(client *soul.Client, wireMethod string) Handler {
	return func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
		resp, err := client.Call(ctx, wireMethod, parameters)
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": resp.Success}, nil
	}
}

func requirePositiveAmount(parameters map[string]any) error {
	raw, ok := parameters["amount"]
	if !ok {
		return &runtime.ClassifiedError{Code: runtime.ErrInvalidInput, Message: "amount is required", Recoverable: false}
	}
	switch v := raw.(type) {
	case float64:
		if v <= 0 {
			return &runtime.ClassifiedError{Code: runtime.ErrInvalidInput, Message: "amount must be > 0", Recoverable: false}
		}
	case string:
		if v == "" {
			return &runtime.ClassifiedError{Code: runtime.ErrInvalidInput, Message: "amount must be > 0", Recoverable: false}
		}
	}
	return nil
}

func requireNonEmptyString(parameters map[string]any, key string) error {
	v, _ := parameters[key].(string)
	if v == "" {
		return &runtime.ClassifiedError{
			Code: runtime.ErrInvalidInput, Message: fmt.Sprintf("%s must be non-empty", key), Recoverable: false,
		}
	}
	return nil
}
