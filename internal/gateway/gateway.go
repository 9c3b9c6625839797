// ABOUTME: Gateway orchestrator wiring the store, routing engine, and HTTP server
// ABOUTME: Manages webhook endpoints, the agent realtime channel, and lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zapdesk/zapdesk-gateway/internal/auth"
	"github.com/zapdesk/zapdesk-gateway/internal/config"
	"github.com/zapdesk/zapdesk-gateway/internal/contextstore"
	"github.com/zapdesk/zapdesk-gateway/internal/engine"
	"github.com/zapdesk/zapdesk-gateway/internal/escalation"
	"github.com/zapdesk/zapdesk-gateway/internal/gate"
	"github.com/zapdesk/zapdesk-gateway/internal/notifier"
	"github.com/zapdesk/zapdesk-gateway/internal/provider"
	"github.com/zapdesk/zapdesk-gateway/internal/responder"
	"github.com/zapdesk/zapdesk-gateway/internal/store"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server and the
// engine's pending delayed sends.
const shutdownTimeout = 10 * time.Second

// Gateway orchestrates the zapdesk-gateway server components.
type Gateway struct {
	config     *config.Config
	store      store.Store
	contexts   *contextstore.Store
	hub        *notifier.Hub
	engine     *engine.Engine
	verifier   *auth.JWTVerifier
	httpServer *http.Server
	sweeper    *cron.Cron
	logger     *slog.Logger
}

// initStore creates the store from config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("ZAPDESK_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// buildChain assembles the responder chain from the enabled tiers. The
// rule-based fallback is always the terminal tier so the chain can never
// come up empty-handed.
func buildChain(cfg *config.Config, logger *slog.Logger) *responder.Chain {
	chain := responder.NewChain(logger)

	if cfg.Bot.LLM.Enabled {
		chain.Add(
			responder.NewLLM(responder.TierLLM, cfg.Bot.LLM.APIKey, cfg.Bot.LLM.BaseURL, cfg.Bot.LLM.Model),
			cfg.Bot.LLM.Timeout,
		)
	}
	if cfg.Bot.Secondary.Enabled {
		chain.Add(
			responder.NewLLM(responder.TierSecondaryLLM, cfg.Bot.Secondary.APIKey, cfg.Bot.Secondary.BaseURL, cfg.Bot.Secondary.Model),
			cfg.Bot.Secondary.Timeout,
		)
	}
	if cfg.Bot.NLU.Enabled {
		chain.Add(responder.NewNLU(cfg.Bot.NLU.URL), cfg.Bot.NLU.Timeout)
	}

	chain.Add(responder.NewFallback(), 0)
	return chain
}

// buildSender picks the outbound provider. Evolution wins when both are
// enabled; with neither, messages are logged and dropped.
func buildSender(cfg *config.Config, logger *slog.Logger) provider.Sender {
	switch {
	case cfg.Providers.Evolution.Enabled:
		return provider.NewEvolutionSender(cfg.Providers.Evolution)
	case cfg.Providers.WAHA.Enabled:
		return provider.NewWAHASender(cfg.Providers.WAHA)
	default:
		logger.Warn("no outbound provider enabled, messages will only be logged")
		return provider.NewLogSender(logger)
	}
}

// New creates a gateway from configuration. Pass nil logger for default.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	contexts := contextstore.New(cfg.Bot.ContextTTL, logger)
	hub := notifier.NewHub(logger)
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	policy := &escalation.Policy{
		MaxBotTurns:        cfg.Bot.MaxTurns,
		BusinessHoursStart: cfg.Gate.BusinessHoursStart,
		BusinessHoursEnd:   cfg.Gate.BusinessHoursEnd,
		Location:           cfg.Gate.Location(),
	}

	eng := engine.New(
		st,
		contexts,
		policy,
		buildChain(cfg, logger),
		gate.New(st, cfg.Gate, logger),
		hub,
		buildSender(cfg, logger),
		cfg.Providers.AllowedNumbers,
		logger,
	)

	g := &Gateway{
		config:   cfg,
		store:    st,
		contexts: contexts,
		hub:      hub,
		engine:   eng,
		verifier: verifier,
		logger:   logger.With("component", "gateway"),
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.sweeper = cron.New()
	_, err = g.sweeper.AddFunc(fmt.Sprintf("@every %s", cfg.Bot.SweepInterval), func() {
		if n := contexts.SweepExpired(); n > 0 {
			logger.Debug("swept expired contexts", "count", n)
		}
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("scheduling context sweep: %w", err)
	}

	return g, nil
}

// routes builds the HTTP mux: provider webhooks, the agent realtime channel,
// the bearer-protected agent API, and health.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhook/twilio", g.handleTwilioWebhook)
	mux.HandleFunc("POST /webhook/evolution", g.handleEvolutionWebhook)
	mux.HandleFunc("POST /webhook/waha", g.handleWAHAWebhook)
	mux.HandleFunc("POST /webhook/n8n", g.handleN8NWebhook)

	mux.Handle("GET /ws", notifier.Handler(g.hub, g.verifier, g.logger))

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /ready", g.handleReady)

	authMW := auth.HTTPAuthMiddleware(g.verifier)
	mux.Handle("GET /api/conversations", authMW(http.HandlerFunc(g.handleListConversations)))
	mux.Handle("GET /api/conversations/{id}/messages", authMW(http.HandlerFunc(g.handleConversationMessages)))
	mux.Handle("POST /api/conversations/{id}/reply", authMW(http.HandlerFunc(g.handleAgentReply)))
	mux.Handle("POST /api/conversations/{id}/close", authMW(http.HandlerFunc(g.handleCloseConversation)))
	mux.Handle("POST /api/conversations/{id}/assign", authMW(http.HandlerFunc(g.handleAssignConversation)))
	mux.Handle("GET /api/analytics", authMW(http.HandlerFunc(g.handleAnalytics)))
	mux.Handle("POST /api/contexts/{key}/clear", authMW(http.HandlerFunc(g.handleClearContext)))
	mux.Handle("POST /api/contexts/sweep", authMW(http.HandlerFunc(g.handleSweepContexts)))

	return mux
}

// Run starts the HTTP server and the context sweeper, blocking until ctx is
// cancelled or the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.sweeper.Start()

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context since the run
// context is already cancelled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the server, drains pending delayed sends, and releases
// resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	sweepCtx := g.sweeper.Stop()
	select {
	case <-sweepCtx.Done():
	case <-ctx.Done():
	}

	if err := g.engine.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("draining delayed sends: %w", err))
	}

	g.hub.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one agent is connected.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	agents := g.hub.ConnectedAgents()
	if len(agents) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", len(agents))
}
