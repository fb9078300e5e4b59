package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"relay-ai/internal/auth"
	"relay-ai/internal/domain"
	"relay-ai/internal/infra/config"
	"relay-ai/internal/infra/middleware"
	"relay-ai/internal/usecase"
)

// Deps carries everything the gateway handlers need.
type Deps struct {
	Users        domain.UserStore
	Messages     domain.MessageStore
	Reports      domain.ReportStore
	Orchestrator *usecase.Orchestrator
	JWT          *auth.JWTManager
	Logger       *slog.Logger

	// Webhook, when non-nil, is mounted at WebhookPath without auth;
	// inbound providers sign deliveries out of band.
	Webhook     http.Handler
	WebhookPath string
}

// Server is the REST gateway: auth, direct messages, reports, and the
// synchronous AI chat channel.
type Server struct {
	cfg  config.ServerConfig
	deps Deps
	http *http.Server
}

// NewServer creates the gateway server. Call Start to serve.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	return &Server{cfg: cfg, deps: deps}
}

// Handler builds the full route table with the middleware chain applied.
// ctx bounds the rate limiter's cleanup goroutine.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.Handle("GET /auth/me", s.requireAuth(s.handleMe))

	mux.Handle("POST /messages", s.requireAuth(s.handleSendMessage))
	mux.Handle("GET /messages", s.requireAuth(s.handleListMessages))
	mux.Handle("GET /messages/unread/count", s.requireAuth(s.handleUnreadCount))
	mux.Handle("GET /messages/{id}", s.requireAuth(s.handleGetMessage))
	mux.Handle("PUT /messages/{id}/read", s.requireAuth(s.handleMarkRead))

	mux.Handle("POST /reports", s.requireAuth(s.handleCreateReport))
	mux.Handle("GET /reports", s.requireAuth(s.handleListReports))
	mux.Handle("GET /reports/{id}", s.requireAuth(s.handleGetReport))
	mux.Handle("PUT /reports/{id}", s.requireAuth(s.handleUpdateReport))
	mux.Handle("PUT /reports/{id}/status", s.requireAuth(s.handleReportStatus))

	mux.Handle("POST /ai/chat", s.requireAuth(s.handleAIChat))
	mux.Handle("GET /ai/history", s.requireAuth(s.handleAIHistory))
	mux.Handle("DELETE /ai/history", s.requireAuth(s.handleAIClearHistory))
	mux.Handle("GET /ai/agents", s.requireAuth(s.handleAIAgents))

	if s.deps.Webhook != nil && s.deps.WebhookPath != "" {
		mux.Handle("POST "+s.deps.WebhookPath, s.deps.Webhook)
	}

	var h http.Handler = mux
	if s.cfg.RateRPS > 0 {
		h = middleware.RateLimit(ctx, s.cfg.RateRPS, s.cfg.RateBurst)(h)
	}
	h = middleware.SecurityHeaders(h)
	h = middleware.RequestLog(s.deps.Logger)(h)
	return h
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(ctx),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("gateway listening", "addr", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
