package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Limits bundles the manager's resource defaults, mirroring the
// environment-driven shape of pkg/config.
type Limits struct {
	TTL                time.Duration
	MaxTurns           int
	SummarizeThreshold int
	SoftCapSessions    int
	PersistUserState   bool
}

func DefaultLimits() Limits {
	return Limits{
		TTL:                3600 * time.Second,
		MaxTurns:           50,
		SummarizeThreshold: 25,
		SoftCapSessions:    10000,
		PersistUserState:   true,
	}
}

// Manager owns every SessionContext and every UserState. It is the sole
// mutator of session history; everything else reads Snapshot values.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*SessionContext
	users    map[string]*UserState
	limits     Limits
	privacy    *PrivacyConfig
	log        *slog.Logger
	now        func() time.Time
	redisStore *RedisUserStateStore
}

func NewManager(limits Limits) *Manager {
	return &Manager{
		sessions: make(map[string]*SessionContext),
		users:    make(map[string]*UserState),
		limits:   limits,
		log:      slog.Default().With("component", "session_manager"),
		now:      time.Now,
	}
}

// WithClock overrides the manager's time source, for deterministic TTL
// and sweep tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithPrivacy enables differential-privacy noise on aggregated counters
// returned from Snapshot's derived views. It never touches stored
// history.
func (m *Manager) WithPrivacy(cfg *PrivacyConfig) *Manager {
	m.privacy = cfg
	return m
}

// GetOrCreate returns the session for sessionID, creating it (and the
// backing UserState, reused across sessions for the same user) if
// absent.
func (m *Manager) GetOrCreate(sessionID, userID string) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	sess, ok := m.sessions[sessionID]
	if !ok {
		state := m.users[userID]
		if state == nil {
			if m.redisStore != nil {
				if loaded, err := m.redisStore.Load(context.Background(), userID); err == nil && loaded != nil {
					state = loaded
				} else if err != nil {
					m.log.Warn("redis user state load failed, using local default", "user_id", userID, "error", err)
				}
			}
			if state == nil {
				state = newUserState(userID)
			}
			m.users[userID] = state
		}
		sess = &SessionContext{
			SessionID:               sessionID,
			UserID:                  userID,
			CreatedAt:               now,
			LastActivityAt:          now,
			ExpiresAt:               now.Add(m.limits.TTL),
			UserState:               state,
			ActiveIntentIDs:         make(map[string]struct{}),
			PendingClarificationIDs: make(map[string]struct{}),
			summarizedPrefixTurnIDs: make(map[string]struct{}),
		}
		m.sessions[sessionID] = sess
		m.evictOverCapLocked()
	}

	return snapshotOf(sess, m.privacy)
}

// AppendTurn appends a turn to the session's history, refreshing TTL and
// summarizing the oldest turns once the history exceeds MaxTurns.
func (m *Manager) AppendTurn(sessionID string, turn ConversationTurn) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: not found", sessionID)
	}

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = m.now()
	}

	sess.History = append(sess.History, turn)
	sess.LastActivityAt = m.now()
	sess.ExpiresAt = sess.LastActivityAt.Add(m.limits.TTL)

	if turn.Intent != nil {
		sess.UserState.ActionCounts[string(turn.Intent.Action)]++
		if m.redisStore != nil {
			if err := m.redisStore.Save(context.Background(), sess.UserState); err != nil {
				m.log.Warn("redis user state save failed", "user_id", sess.UserID, "error", err)
			}
		}
	}

	if len(sess.History) > m.limits.MaxTurns {
		m.summarizeLocked(sess)
	}

	return snapshotOf(sess, m.privacy), nil
}

// summarizeLocked collapses the oldest SummarizeThreshold turns into a
// single system turn. It is idempotent across repeated calls: a leading
// system summary turn is folded into, not duplicated by, the next
// summarization.
func (m *Manager) summarizeLocked(sess *SessionContext) {
	threshold := m.limits.SummarizeThreshold
	if threshold <= 0 || threshold >= len(sess.History) {
		return
	}

	toSummarize := sess.History[:threshold]
	rest := sess.History[threshold:]

	var priorSummary string
	start := 0
	if len(toSummarize) > 0 && toSummarize[0].Role == RoleSystem {
		if _, already := sess.summarizedPrefixTurnIDs[toSummarize[0].ID]; already {
			priorSummary = toSummarize[0].Content
			start = 1
		}
	}

	summary := summarizeTurns(priorSummary, toSummarize[start:])
	summaryTurn := ConversationTurn{
		ID:        uuid.NewString(),
		Role:      RoleSystem,
		Content:   summary,
		Timestamp: m.now(),
	}
	sess.summarizedPrefixTurnIDs = map[string]struct{}{summaryTurn.ID: {}}

	sess.History = append([]ConversationTurn{summaryTurn}, rest...)
}

func summarizeTurns(priorSummary string, turns []ConversationTurn) string {
	s := priorSummary
	for _, t := range turns {
		if s != "" {
			s += " "
		}
		s += fmt.Sprintf("[%s] %s", t.Role, truncate(t.Content, 80))
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// Snapshot returns an immutable copy of the session, or nil if absent or
// expired.
func (m *Manager) Snapshot(sessionID string) *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	if m.now().After(sess.ExpiresAt) {
		return nil
	}
	return snapshotOf(sess, m.privacy)
}

// Clear removes a session. If PersistUserState is set, the backing
// UserState remains available to future sessions for the same user.
func (m *Manager) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	delete(m.sessions, sessionID)
	if !m.limits.PersistUserState {
		delete(m.users, sess.UserID)
	}
}

// Sweep evicts every session whose ExpiresAt has passed. Intended to be
// called on a fixed interval by the owning component.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for id, sess := range m.sessions {
		if now.After(sess.ExpiresAt) {
			delete(m.sessions, id)
			if !m.limits.PersistUserState {
				delete(m.users, sess.UserID)
			}
			evicted++
		}
	}
	if evicted > 0 {
		m.log.Debug("swept expired sessions", "count", evicted)
	}
	return evicted
}

// evictOverCapLocked drops the least-recently-active sessions once the
// soft cap is exceeded. Caller must hold m.mu.
func (m *Manager) evictOverCapLocked() {
	cap := m.limits.SoftCapSessions
	if cap <= 0 || len(m.sessions) <= cap {
		return
	}

	type entry struct {
		id   string
		last time.Time
	}
	entries := make([]entry, 0, len(m.sessions))
	for id, sess := range m.sessions {
		entries = append(entries, entry{id, sess.LastActivityAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].last.Before(entries[j].last) })

	overage := len(m.sessions) - cap
	for i := 0; i < overage; i++ {
		sess := m.sessions[entries[i].id]
		delete(m.sessions, entries[i].id)
		if !m.limits.PersistUserState {
			delete(m.users, sess.UserID)
		}
	}
}

// UserState returns the persisted per-user state regardless of whether
// any session currently references it.
func (m *Manager) UserState(userID string) *UserState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.users[userID]
	if !ok {
		return nil
	}
	cp := *state
	return &cp
}

func snapshotOf(sess *SessionContext, privacy *PrivacyConfig) *Snapshot {
	history := make([]ConversationTurn, len(sess.History))
	copy(history, sess.History)

	userState := *sess.UserState
	userState.ActionCounts = noisyCounts(sess.UserState.ActionCounts, privacy)

	activeIntents := make([]string, 0, len(sess.ActiveIntentIDs))
	for id := range sess.ActiveIntentIDs {
		activeIntents = append(activeIntents, id)
	}
	pending := make([]string, 0, len(sess.PendingClarificationIDs))
	for id := range sess.PendingClarificationIDs {
		pending = append(pending, id)
	}

	return &Snapshot{
		SessionID:               sess.SessionID,
		UserID:                  sess.UserID,
		CreatedAt:               sess.CreatedAt,
		LastActivityAt:          sess.LastActivityAt,
		ExpiresAt:               sess.ExpiresAt,
		History:                 history,
		UserState:               userState,
		ActiveIntentIDs:         activeIntents,
		PendingClarificationIDs: pending,
	}
}
