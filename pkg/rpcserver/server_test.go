package rpcserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostpay/brain/pkg/attestation"
	"github.com/ghostpay/brain/pkg/intent"
	"github.com/ghostpay/brain/pkg/orchestrator"
	"github.com/ghostpay/brain/pkg/plan"
	"github.com/ghostpay/brain/pkg/rpcserver"
	"github.com/ghostpay/brain/pkg/session"
	"github.com/ghostpay/brain/pkg/soul"
)

type fakeEnclaveClient struct{}

func (fakeEnclaveClient) GetAttestation(ctx context.Context, nonce string, refresh bool) (*soul.AttestationResponse, error) {
	now := time.Now()
	return &soul.AttestationResponse{
		Quote: []byte("quote"), MREnclave: "aaa", MRSigner: "bbb",
		Timestamp: now, ExpiresAt: now.Add(time.Hour),
	}, nil
}

func newTestServer(t *testing.T) *rpcserver.Server {
	t.Helper()
	templates, err := plan.LoadDefaultTemplates()
	require.NoError(t, err)

	reg := orchestrator.NewRegistry()
	require.NoError(t, reg.Register(&orchestrator.Tool{
		Name: "check_balance",
		Handler: func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
			return map[string]any{"sufficient": true}, nil
		},
	}, ""))
	require.NoError(t, reg.Register(&orchestrator.Tool{
		Name: "verify_with_soul",
		Handler: func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
			return map[string]any{"verified": true}, nil
		},
	}, ""))

	verifier := attestation.NewVerifier(fakeEnclaveClient{}, false)
	dispatcher := orchestrator.NewDispatcher(reg, verifier, orchestrator.DefaultLimits())
	engine := plan.NewEngine(templates, dispatcher, nil, plan.DefaultLimits())

	return rpcserver.New(rpcserver.Server{
		Parser:      intent.NewParser(),
		Sessions:    session.NewManager(session.DefaultLimits()),
		Plans:       engine,
		Dispatcher:  dispatcher,
		Verifier:    verifier,
		Registry:    reg,
		LLM:         rpcserver.LLMInfo{Enabled: false},
		RPCPort:     50051,
		ServiceName: "brain-orchestrator",
		Version:     "test",
	})
}

func TestHealth_ReportsServiceInfo(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "brain-orchestrator", body["service"])
	assert.Equal(t, "ok", body["status"])
}

func TestAttestation_ReturnsMeasurements(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/attestation", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "aaa", body["mr_enclave"])
}

func TestReady_AlwaysOK(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownPath_Returns404JSON(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Not found", body["error"])
}

func TestCORS_OptionsReturnsNoContent(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestConverseDevConvenience_CheckBalance_ReturnsResponseText(t *testing.T) {
	srv := newTestServer(t)
	body := strings.NewReader(`{"session_id":"s1","user_id":"u1","message":"what is my balance"}`)
	req := httptest.NewRequest(http.MethodPost, "/converse", body)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.NotEmpty(t, resp["response_text"])
	assert.Equal(t, false, resp["needs_clarification"])
	assert.Equal(t, false, resp["llm_enabled"])
}

func TestConverseDevConvenience_AmbiguousInput_ReturnsClarification(t *testing.T) {
	srv := newTestServer(t)
	body := strings.NewReader(`{"session_id":"s2","user_id":"u1","message":"send money"}`)
	req := httptest.NewRequest(http.MethodPost, "/converse", body)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["needs_clarification"])
	assert.NotEmpty(t, resp["response_text"])
}

func TestConverseDevConvenience_MissingFields_BadRequest(t *testing.T) {
	srv := newTestServer(t)
	body := strings.NewReader(`{"session_id":""}`)
	req := httptest.NewRequest(http.MethodPost, "/converse", body)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConverseStream_CheckBalance_StreamsNDJSONEvents(t *testing.T) {
	srv := newTestServer(t)
	body := strings.NewReader(`{"session_id":"s3","user_id":"u1","message":"what is my balance"}`)
	req := httptest.NewRequest(http.MethodPost, "/rpc/converse", body)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.NotEmpty(t, lines)
	var event plan.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &event))
	assert.Equal(t, plan.EventPlanStarted, event.EventType)
}

func TestSessionSnapshot_NotFound(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/rpc/session_snapshot?session_id=missing", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelPlan_UnknownPlan_Conflict(t *testing.T) {
	srv := newTestServer(t)
	body := strings.NewReader(`{"plan_id":"missing","reason":"test"}`)
	req := httptest.NewRequest(http.MethodPost, "/rpc/cancel_plan", body)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}
