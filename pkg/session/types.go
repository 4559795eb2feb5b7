// Package session owns per-session conversation history and per-user
// state, in memory, with TTL and soft-cap eviction. Per-user state can
// optionally be backed by Redis (see WithRedisStore); sessions themselves
// are always held in memory. A session is the sole mutator of its own
// history; all other callers see snapshots.
package session

import (
	"time"

	"github.com/ghostpay/brain/pkg/intent"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type ConfirmationMode string

const (
	ConfirmationAlways   ConfirmationMode = "always"
	ConfirmationHighRisk ConfirmationMode = "high_risk"
	ConfirmationNever    ConfirmationMode = "never"
)

// ToolCallRecord is a minimal record of a tool invocation attached to a
// conversation turn, kept for context replay rather than audit.
type ToolCallRecord struct {
	ToolName string `json:"tool_name"`
	Success  bool   `json:"success"`
}

type ConversationTurn struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Intent    *intent.Intent    `json:"intent,omitempty"`
	ToolCalls []*ToolCallRecord `json:"tool_calls,omitempty"`
}

// Preferences captures the slowly-changing per-user configuration that
// governs planning-engine approval behavior and presentation.
type Preferences struct {
	Language         string           `json:"language"`
	Timezone         string           `json:"timezone"`
	ConfirmationMode ConfirmationMode `json:"confirmation_mode"`
	Verbosity        string           `json:"verbosity"`
}

// UserState is per-user and survives session eviction when
// PersistUserState is true at the manager level.
type UserState struct {
	UserID            string         `json:"user_id"`
	WalletAddress     string         `json:"wallet_address,omitempty"`
	CardID            string         `json:"card_id,omitempty"`
	PreferredCurrency string         `json:"preferred_currency,omitempty"`
	RecentMerchants   []string       `json:"recent_merchants,omitempty"`
	ActionCounts      map[string]int `json:"action_counts,omitempty"`
	Preferences       Preferences    `json:"preferences"`
}

func newUserState(userID string) *UserState {
	return &UserState{
		UserID:       userID,
		ActionCounts: make(map[string]int),
		Preferences: Preferences{
			Language:         "en",
			ConfirmationMode: ConfirmationHighRisk,
			Verbosity:        "normal",
		},
	}
}

// SessionContext is a single conversation's bounded state. Mutation
// happens only inside Manager methods; callers outside the package only
// ever see a Snapshot.
type SessionContext struct {
	SessionID                string
	UserID                   string
	CreatedAt                time.Time
	LastActivityAt           time.Time
	ExpiresAt                time.Time
	History                  []ConversationTurn
	UserState                *UserState
	ActiveIntentIDs          map[string]struct{}
	PendingClarificationIDs  map[string]struct{}
	summarizedPrefixTurnIDs  map[string]struct{}
}

// Snapshot is an immutable, independently-owned copy of a SessionContext
// safe to read without holding the manager's lock.
type Snapshot struct {
	SessionID               string
	UserID                  string
	CreatedAt               time.Time
	LastActivityAt          time.Time
	ExpiresAt               time.Time
	History                 []ConversationTurn
	UserState               UserState
	ActiveIntentIDs         []string
	PendingClarificationIDs []string
}
