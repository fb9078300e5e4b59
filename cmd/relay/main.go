package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"relay-ai/internal/adapter/channel"
	"relay-ai/internal/adapter/gateway"
	"relay-ai/internal/adapter/llm"
	"relay-ai/internal/adapter/store"
	"relay-ai/internal/adapter/tool"
	"relay-ai/internal/auth"
	"relay-ai/internal/infra/config"
	"relay-ai/internal/infra/logger"
	"relay-ai/internal/infra/tracer"
	"relay-ai/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Config
	_ = godotenv.Load()

	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Storage
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	// 4. LLM provider behind a circuit breaker
	provider := llm.NewOpenAIProvider(cfg.Provider, log)
	guarded := llm.NewCircuitBreakerProvider(provider, cfg.Breaker, log)

	budget, err := usecase.NewPromptBudget(cfg.Orchestrator.PromptBudget, log)
	if err != nil {
		return fmt.Errorf("budget: %w", err)
	}

	// 5. Auth
	jwtMgr, err := auth.NewJWTManager(cfg.Auth.KeyFile, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// 6. Tools & agents
	registry := tool.NewRegistry(log)
	if err := tool.RegisterReportTools(registry, st, log); err != nil {
		return fmt.Errorf("tools: %w", err)
	}

	orch := usecase.NewOrchestrator(guarded, budget, usecase.OrchestratorConfig{
		MaxHistory: cfg.Orchestrator.MaxHistory,
		MaxTurns:   cfg.Orchestrator.MaxTurns,
		Model:      cfg.Orchestrator.Model,
	}, log)

	reportAgent := usecase.NewToolAgent(usecase.ToolAgentConfig{
		Name:         "report",
		Description:  "Files and tracks facility issue reports",
		SystemPrompt: tool.ReportAgentSystemPrompt,
		Keywords:     tool.ReportKeywords,
		Model:        cfg.Orchestrator.Model,
	}, guarded, registry, budget, log)
	orch.RegisterAgent(reportAgent)

	// 7. Channels
	var webhook *channel.Webhook
	var webhookHandler http.Handler
	if cfg.Webhook.Enabled {
		webhook = channel.NewWebhook(st, st, orch, log)
		webhookHandler = webhook
	}

	// 8. Gateway
	gw := gateway.NewServer(cfg.Server, gateway.Deps{
		Users:        st,
		Messages:     st,
		Reports:      st,
		Orchestrator: orch,
		JWT:          jwtMgr,
		Logger:       log,
		Webhook:      webhookHandler,
		WebhookPath:  cfg.Webhook.Path,
	})

	// 9. Run until signalled
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("relay starting",
		"addr", cfg.Server.Addr,
		"provider", guarded.Name(),
		"model", cfg.Orchestrator.Model,
		"tools", len(registry.List()),
		"webhook", cfg.Webhook.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Start(gctx)
	})
	if webhook != nil {
		g.Go(func() error {
			<-gctx.Done()
			drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return webhook.Shutdown(drainCtx)
		})
	}

	return g.Wait()
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("RELAY_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
