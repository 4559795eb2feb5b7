// Command brain runs the Brain Orchestrator: the TEE-resident service
// that parses user intent, manages conversation context, builds and
// executes tool-call plans, and dispatches verified calls to the
// sibling Soul enclave.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ghostpay/brain/pkg/attestation"
	"github.com/ghostpay/brain/pkg/concurrency"
	"github.com/ghostpay/brain/pkg/config"
	"github.com/ghostpay/brain/pkg/intent"
	"github.com/ghostpay/brain/pkg/llm"
	"github.com/ghostpay/brain/pkg/observability"
	"github.com/ghostpay/brain/pkg/orchestrator"
	"github.com/ghostpay/brain/pkg/plan"
	"github.com/ghostpay/brain/pkg/prg"
	"github.com/ghostpay/brain/pkg/rpcserver"
	"github.com/ghostpay/brain/pkg/session"
	"github.com/ghostpay/brain/pkg/soul"
)

const serviceVersion = "0.1.0"

func main() {
	os.Exit(Run())
}

// Run wires every component and blocks until SIGINT/SIGTERM. It returns
// a process exit code so main stays a one-liner.
func Run() int {
	cfg := config.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})))
	log := slog.Default().With("component", "cmd/brain")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "brain-orchestrator",
		ServiceVersion: serviceVersion,
		Environment:    envOr("ENVIRONMENT", "development"),
		OTLPEndpoint:   envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        envOr("OTEL_ENABLED", "false") == "true",
		Insecure:       true,
	})
	if err != nil {
		log.Error("failed to initialize observability", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			log.Warn("observability shutdown error", "error", err)
		}
	}()

	soulClient := soul.NewClient(cfg.SoulGRPCURL, 5*time.Second)
	if err := soulClient.Connect(ctx); err != nil {
		log.Error("failed to connect to soul", "error", err)
		return 1
	}
	defer soulClient.Close()

	verifier := attestation.NewVerifier(soulClient, cfg.StrictAttestation)

	sessions := session.NewManager(session.Limits{
		TTL:                time.Duration(cfg.ContextTTLSeconds) * time.Second,
		MaxTurns:           cfg.MaxContextTurns,
		SummarizeThreshold: cfg.MaxContextTurns / 2,
		SoftCapSessions:    10000,
		PersistUserState:   true,
	})
	if cfg.RedisAddr != "" {
		sessions = sessions.WithRedisStore(session.NewRedisUserStateStore(cfg.RedisAddr, "", 0))
		log.Info("session user state backed by redis", "addr", cfg.RedisAddr)
	}

	policy, err := prg.NewPolicyEngine()
	if err != nil {
		log.Error("failed to initialize policy engine", "error", err)
		return 1
	}

	templates, err := plan.LoadDefaultTemplates()
	if err != nil {
		log.Error("failed to load plan templates", "error", err)
		return 1
	}

	registry := orchestrator.NewRegistry()
	if err := orchestrator.RegisterBuiltins(registry, soulClient, "1.0.0"); err != nil {
		log.Error("failed to register builtin tools", "error", err)
		return 1
	}

	dispatcher := orchestrator.NewDispatcher(registry, verifier, orchestrator.DefaultLimits())
	engine := plan.NewEngine(templates, dispatcher, policy, plan.DefaultLimits())

	var llmInfo rpcserver.LLMInfo
	var llmClient llm.Client
	if cfg.PhalaAIAPIKey != "" {
		llmClient = llm.NewPhalaAIClient(cfg.PhalaAIAPIKey, cfg.PhalaAIBaseURL, cfg.PhalaAIModel)
		llmInfo = rpcserver.LLMInfo{Enabled: true, Model: cfg.PhalaAIModel, BaseURL: cfg.PhalaAIBaseURL}
	}

	server := rpcserver.New(rpcserver.Server{
		Parser:      intent.NewParser(),
		Sessions:    sessions,
		Plans:       engine,
		Dispatcher:  dispatcher,
		Verifier:    verifier,
		Registry:    registry,
		LLMClient:   llmClient,
		LLM:         llmInfo,
		RPCPort:     cfg.GRPCPort,
		ServiceName: "brain-orchestrator",
		Version:     serviceVersion,
		ConversePolicy: concurrency.BackpressurePolicy{RPM: 60, Burst: 10},
	})

	sweepTicker := time.NewTicker(time.Minute)
	defer sweepTicker.Stop()
	go func() {
		for {
			select {
			case <-sweepTicker.C:
				sessions.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.HTTPPort),
		Handler: server.Handler(),
	}

	go func() {
		log.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
		}
	}()

	log.Info("brain orchestrator ready", "http_port", cfg.HTTPPort, "soul_url", cfg.SoulGRPCURL)
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", "error", err)
	}

	return 0
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

