// Package rpcserver exposes the Brain Orchestrator's RPC surface and
// HTTP health/diagnostics endpoints. The authoritative, conceptual RPC
// surface (Converse, ApproveStep, CancelPlan, GetSessionSnapshot) is
// implemented as HTTP/JSON under /rpc, with NDJSON streaming for
// Converse's event stream. POST /converse is the separate, non-streaming
// dev-convenience endpoint named in spec.
package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ghostpay/brain/pkg/attestation"
	"github.com/ghostpay/brain/pkg/concurrency"
	"github.com/ghostpay/brain/pkg/intent"
	"github.com/ghostpay/brain/pkg/llm"
	"github.com/ghostpay/brain/pkg/orchestrator"
	"github.com/ghostpay/brain/pkg/plan"
	"github.com/ghostpay/brain/pkg/privacy"
	"github.com/ghostpay/brain/pkg/session"
)

// LLMInfo describes the configured LLM backend for /health reporting.
type LLMInfo struct {
	Enabled bool   `json:"enabled"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url"`
}

// Metrics are the cumulative counters surfaced at /health.
type Metrics struct {
	TotalRequests  int64 `json:"total_requests"`
	IntentsParsed  int64 `json:"intents_parsed"`
	PlansExecuted  int64 `json:"plans_executed"`
	Errors         int64 `json:"errors"`
}

// Server wires the Intent Parser, Context Manager, Planning Engine, Tool
// Orchestrator, and Attestation Verifier into the HTTP/JSON RPC surface.
type Server struct {
	Parser      *intent.Parser
	Sessions    *session.Manager
	Plans       *plan.Engine
	Dispatcher  *orchestrator.Dispatcher
	Verifier    *attestation.Verifier
	Registry    *orchestrator.Registry
	LLMClient   llm.Client
	LLM         LLMInfo
	RPCPort     int
	ServiceName string
	Version     string

	// Limiter backs per-user conversation throttling. Defaults to an
	// in-memory token bucket store when unset.
	Limiter        concurrency.LimiterStore
	ConversePolicy concurrency.BackpressurePolicy

	startedAt time.Time
	log       *slog.Logger
	pii       *privacy.StandardPrivacyManager

	totalRequests int64
	intentsParsed int64
	plansExecuted int64
	errorCount    int64
}

func New(s Server) *Server {
	s.startedAt = time.Now()
	s.log = slog.Default().With("component", "rpcserver")
	s.pii = privacy.NewPrivacyManager()
	if s.Limiter == nil {
		s.Limiter = concurrency.NewInMemoryLimiterStore()
	}
	if s.ConversePolicy == (concurrency.BackpressurePolicy{}) {
		s.ConversePolicy = concurrency.BackpressurePolicy{RPM: 60, Burst: 10}
	}
	return &s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/attestation", s.handleAttestation)
	mux.HandleFunc("/converse", s.handleConverseDevConvenience)
	mux.HandleFunc("/rpc/converse", s.handleConverseStream)
	mux.HandleFunc("/rpc/approve_step", s.handleApproveStep)
	mux.HandleFunc("/rpc/cancel_plan", s.handleCancelPlan)
	mux.HandleFunc("/rpc/session_snapshot", s.handleSessionSnapshot)
	return withCORS(withRequestCounting(s, mux))
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withRequestCounting(s *Server, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.totalRequests, 1)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		notFound(w)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"service":         s.ServiceName,
		"version":         s.Version,
		"uptime_seconds":  int64(time.Since(s.startedAt).Seconds()),
		"rpc_port":        s.RPCPort,
		"llm":             s.LLM,
		"metrics": Metrics{
			TotalRequests: atomic.LoadInt64(&s.totalRequests),
			IntentsParsed: atomic.LoadInt64(&s.intentsParsed),
			PlansExecuted: atomic.LoadInt64(&s.plansExecuted),
			Errors:        atomic.LoadInt64(&s.errorCount),
		},
	})
}

func (s *Server) handleAttestation(w http.ResponseWriter, r *http.Request) {
	view := s.Verifier.GetForChain(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"service":    s.ServiceName,
		"timestamp":  time.Now(),
		"mr_enclave": view.MREnclave,
		"mr_signer":  view.MRSigner,
		"tee_type":   "phala_tee",
	})
}

type converseRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

// intake validates a converse request, applies backpressure, appends the
// user turn, and parses intent. Shared by both converse entry points.
func (s *Server) intake(r *http.Request, req converseRequest) (parsed intent.Intent, clarification *intent.Clarification, snap *session.Snapshot, parseTime time.Duration, err error) {
	if req.SessionID == "" || req.Message == "" {
		return intent.Intent{}, nil, nil, 0, fmt.Errorf("invalid_input")
	}
	if limitErr := concurrency.EvaluateBackpressure(r.Context(), s.Limiter, req.UserID, s.ConversePolicy); limitErr != nil {
		return intent.Intent{}, nil, nil, 0, fmt.Errorf("rate_limited")
	}

	start := time.Now()
	s.log.Debug("converse request", "session_id", req.SessionID,
		"message", s.pii.Scrub(r.Context(), req.Message, privacy.PIISensitive))
	s.Sessions.GetOrCreate(req.SessionID, req.UserID)
	snap, appendErr := s.Sessions.AppendTurn(req.SessionID, session.ConversationTurn{
		Role:    session.RoleUser,
		Content: req.Message,
	})
	if appendErr != nil {
		return intent.Intent{}, nil, nil, 0, fmt.Errorf("not_found")
	}

	parsed, clarification = s.Parser.Parse(req.Message)
	atomic.AddInt64(&s.intentsParsed, 1)
	return parsed, clarification, snap, time.Since(start), nil
}

// handleConverseDevConvenience implements the non-streaming POST
// /converse endpoint: a single JSON response carrying either a
// clarification or a natural-language summary of the executed plan.
// This is the dev convenience surface; it is not part of the
// authoritative RPC surface (see /rpc/converse).
func (s *Server) handleConverseDevConvenience(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	var req converseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		atomic.AddInt64(&s.errorCount, 1)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_input"})
		return
	}

	parsed, clarification, snap, parseTime, err := s.intake(r, req)
	if err != nil {
		atomic.AddInt64(&s.errorCount, 1)
		writeJSON(w, statusForIntakeError(err), map[string]any{"error": err.Error()})
		return
	}

	if clarification != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":                true,
			"response_text":          clarification.Question,
			"intent":                 parsed,
			"needs_clarification":    true,
			"clarification_question": clarification.Question,
			"clarification_options":  clarification.Options,
			"confidence":             parsed.Confidence,
			"parse_time_ms":          parseTime.Milliseconds(),
			"llm_latency_ms":         int64(0),
			"llm_enabled":            s.LLM.Enabled,
		})
		return
	}

	prefs := snap.UserState.Preferences
	createdPlan, err := s.Plans.CreatePlanFromIntent(parsed, req.SessionID, req.UserID, prefs)
	if err != nil {
		atomic.AddInt64(&s.errorCount, 1)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
		return
	}

	var events []plan.Event
	sink := plan.EventSinkFunc(func(e plan.Event) { events = append(events, e) })
	execErr := s.Plans.ExecutePlan(createdPlan.PlanID, sink)
	if execErr != nil {
		atomic.AddInt64(&s.errorCount, 1)
	} else {
		atomic.AddInt64(&s.plansExecuted, 1)
	}

	responseText, llmLatency := s.describeOutcome(r.Context(), parsed, events, execErr)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":             execErr == nil,
		"response_text":       responseText,
		"intent":              parsed,
		"needs_clarification": false,
		"confidence":          parsed.Confidence,
		"parse_time_ms":       parseTime.Milliseconds(),
		"llm_latency_ms":      llmLatency.Milliseconds(),
		"llm_enabled":         s.LLM.Enabled,
	})
}

// describeOutcome produces a human-readable summary of a completed plan's
// events. When an LLM client is configured, it asks the model to phrase
// the summary naturally; otherwise it falls back to an intent-derived
// string per spec's "no LLM key" fallback behavior.
func (s *Server) describeOutcome(ctx context.Context, parsed intent.Intent, events []plan.Event, execErr error) (string, time.Duration) {
	fallback := fallbackResponseText(parsed, events, execErr)
	if s.LLMClient == nil {
		return fallback, 0
	}

	start := time.Now()
	resp, err := s.LLMClient.Chat(ctx, []llm.Message{
		{Role: "system", Content: "Summarize the outcome of a financial action for the user in one short sentence."},
		{Role: "user", Content: fallback},
	}, nil, &llm.SamplingOptions{Temperature: 0.2, TopP: 1})
	latency := time.Since(start)
	if err != nil || resp == nil || resp.Content == "" {
		return fallback, latency
	}
	return resp.Content, latency
}

func fallbackResponseText(parsed intent.Intent, events []plan.Event, execErr error) string {
	if execErr != nil {
		return fmt.Sprintf("Your %s request could not be completed: %v", parsed.Action, execErr)
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].EventType == plan.EventPlanCompleted {
			return fmt.Sprintf("Your %s request completed successfully.", parsed.Action)
		}
	}
	return fmt.Sprintf("Your %s request is in progress.", parsed.Action)
}

func statusForIntakeError(err error) int {
	switch err.Error() {
	case "rate_limited":
		return http.StatusTooManyRequests
	case "not_found":
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

// handleConverseStream implements the authoritative Converse RPC: append
// user turn, parse intent, short-circuit on a clarification, else create
// and stream a plan's execution as NDJSON.
func (s *Server) handleConverseStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	var req converseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		atomic.AddInt64(&s.errorCount, 1)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_input"})
		return
	}

	parsed, clarification, snap, _, err := s.intake(r, req)
	if err != nil {
		atomic.AddInt64(&s.errorCount, 1)
		writeJSON(w, statusForIntakeError(err), map[string]any{"error": err.Error()})
		return
	}

	if clarification != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":                true,
			"intent":                 parsed,
			"needs_clarification":    true,
			"clarification_question": clarification.Question,
			"clarification_options":  clarification.Options,
			"confidence":             parsed.Confidence,
		})
		return
	}

	prefs := snap.UserState.Preferences
	createdPlan, err := s.Plans.CreatePlanFromIntent(parsed, req.SessionID, req.UserID, prefs)
	if err != nil {
		atomic.AddInt64(&s.errorCount, 1)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	sink := plan.EventSinkFunc(func(e plan.Event) {
		line, _ := json.Marshal(e)
		w.Write(line)
		w.Write([]byte("\n"))
		if flusher != nil {
			flusher.Flush()
		}
	})

	if err := s.Plans.ExecutePlan(createdPlan.PlanID, sink); err != nil {
		s.log.Error("plan execution failed", "plan_id", createdPlan.PlanID, "error", err)
		atomic.AddInt64(&s.errorCount, 1)
		return
	}
	atomic.AddInt64(&s.plansExecuted, 1)
}

type approveStepRequest struct {
	PlanID   string `json:"plan_id"`
	StepID   string `json:"step_id"`
	Decision bool   `json:"decision"`
	Approver string `json:"approver"`
	Comment  string `json:"comment,omitempty"`
}

func (s *Server) handleApproveStep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	var req approveStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_input"})
		return
	}

	err := s.Plans.ApproveStep(req.PlanID, req.StepID, plan.ApprovalDecision{
		Approved: req.Decision, Approver: req.Approver, Comment: req.Comment,
	})
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ack": true})
}

type cancelPlanRequest struct {
	PlanID string `json:"plan_id"`
	Reason string `json:"reason"`
}

func (s *Server) handleCancelPlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	var req cancelPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_input"})
		return
	}

	if err := s.Plans.Cancel(req.PlanID, req.Reason); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ack": true})
}

func (s *Server) handleSessionSnapshot(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	snap := s.Sessions.Snapshot(sessionID)
	if snap == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]any{"error": "Not found"})
}
