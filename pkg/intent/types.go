// Package intent maps a raw user utterance to a structured Intent, with an
// optional Clarification when confidence is insufficient to act directly.
package intent

// Action enumerates the recognized intent actions.
type Action string

const (
	ActionFundCard     Action = "fund_card"
	ActionTransfer     Action = "transfer"
	ActionSwap         Action = "swap"
	ActionCreateCard   Action = "create_card"
	ActionFreezeCard   Action = "freeze_card"
	ActionCheckBalance Action = "check_balance"
	ActionQuery        Action = "query"
	ActionUnknown      Action = "unknown"
)

// Intent is a parsed request.
type Intent struct {
	IntentID   string         `json:"intent_id"`
	Action     Action         `json:"action"`
	SourceType string         `json:"source_type,omitempty"`
	TargetType string         `json:"target_type,omitempty"`
	Amount     *Amount        `json:"amount,omitempty"`
	Currency   string         `json:"currency,omitempty"`
	RawText    string         `json:"raw_text"`
	Confidence float64        `json:"confidence"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Clarification is emitted when confidence is insufficient to act directly.
type Clarification struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Blocking bool     `json:"blocking"`
}
