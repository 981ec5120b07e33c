// ABOUTME: Gateway orchestrator wiring store, sessions, router, and pipeline
// ABOUTME: Manages the HTTP listener (plain TCP or tsnet) and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"tailscale.com/tsnet"

	"github.com/parley-protocol/parley/internal/auth"
	"github.com/parley-protocol/parley/internal/config"
	"github.com/parley-protocol/parley/internal/pipeline"
	"github.com/parley-protocol/parley/internal/router"
	"github.com/parley-protocol/parley/internal/session"
	"github.com/parley-protocol/parley/internal/store"
)

// Gateway orchestrates the parley host components: one HTTP server carrying
// the WebSocket endpoint, the polling endpoints, and the admin API.
type Gateway struct {
	config      *config.Config
	store       store.Store
	events      *session.Broadcaster
	sessions    *session.Manager
	router      *router.Router
	pipeline    *pipeline.Processor
	polls       *pollRegistry
	audit       *auditWriter
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
	startedAt   time.Time

	stopEvents context.CancelFunc
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Store.Path
	if envPath := os.Getenv("PARLEY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" {
		return store.NewNopStore(), nil
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// buildAuthenticator returns the authenticator for the configured mode and
// whether sessions must authenticate before issuing business requests.
func buildAuthenticator(cfg *config.Config, logger *slog.Logger) (session.Authenticator, bool, error) {
	switch cfg.Auth.Mode {
	case "", "none":
		logger.Warn("auth disabled - all sessions trusted")
		return auth.Allow{}, false, nil
	case "token":
		logger.Info("JWT auth enabled")
		return auth.NewJWTAuthenticator([]byte(cfg.Auth.JWTSecret)), true, nil
	case "secret":
		a, err := auth.NewSecretAuthenticator(cfg.Auth.Subject, cfg.Auth.SharedSecret)
		if err != nil {
			return nil, false, fmt.Errorf("creating shared-secret authenticator: %w", err)
		}
		logger.Info("shared-secret auth enabled", "subject", cfg.Auth.Subject)
		return a, true, nil
	default:
		return nil, false, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
}

// buildPipelineCache returns the dedupe cache backend: Redis when a URL is
// configured, in-memory otherwise.
func buildPipelineCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.ResultCache, error) {
	if cfg.Pipeline.RedisURL == "" {
		return nil, nil // Processor falls back to its in-memory cache
	}
	cache, err := pipeline.NewRedisCache(ctx, cfg.Pipeline.RedisURL, cfg.Pipeline.DedupeTTL, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting dedupe cache: %w", err)
	}
	logger.Info("redis dedupe cache enabled")
	return cache, nil
}

// New creates a Gateway from configuration. Nothing listens until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	authenticator, requireAuth, err := buildAuthenticator(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	cache, err := buildPipelineCache(ctx, cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	proc := pipeline.New(pipeline.Config{
		MaxConcurrent: cfg.Pipeline.MaxConcurrent,
		DedupeTTL:     cfg.Pipeline.DedupeTTL,
		DedupeSize:    cfg.Pipeline.DedupeSize,
	}, cache, logger)

	events := session.NewBroadcaster(logger)
	audit := newAuditWriter(s, logger)

	rt := router.New(router.Config{
		Source:         cfg.Server.Name,
		MessageTimeout: cfg.Timeouts.Message,
		MaxMessageSize: cfg.Limits.MaxMessageSize,
		MaxHistory:     cfg.Limits.MaxHistorySize,
		OnRecord:       audit.Record,
	}, logger)

	mgr := session.NewManager(session.ManagerConfig{
		Source:            cfg.Server.Name,
		MaxConnections:    cfg.Limits.MaxConnections,
		ConnectionTimeout: cfg.Timeouts.Connection,
		HeartbeatInterval: cfg.Timeouts.HeartbeatInterval,
		CleanupInterval:   cfg.Timeouts.CleanupInterval,
		EnableAuth:        requireAuth,
		RateLimit: session.RateLimitConfig{
			Enabled:              cfg.RateLimiting.Enabled,
			MaxRequestsPerMinute: cfg.RateLimiting.MaxRequestsPerMinute,
			MaxRequestsPerHour:   cfg.RateLimiting.MaxRequestsPerHour,
		},
	}, authenticator, rt, events, logger)

	if err := router.RegisterDefaults(rt, proc, events); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("registering handlers: %w", err)
	}

	g := &Gateway{
		config:    cfg,
		store:     s,
		events:    events,
		sessions:  mgr,
		router:    rt,
		pipeline:  proc,
		polls:     newPollRegistry(),
		audit:     audit,
		logger:    logger.With("component", "gateway"),
		startedAt: time.Now(),
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(authenticator, requireAuth),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Sessions exposes the session manager, primarily for tests and the daemon.
func (g *Gateway) Sessions() *session.Manager {
	return g.sessions
}

// Handler exposes the HTTP surface for serving through custom listeners.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the gateway and blocks until the context is canceled or the
// server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	g.start(ctx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
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

// start brings up the background machinery: sweeps, event subscriber, and
// audit writer. Split from Run so tests can drive the gateway without a
// listener.
func (g *Gateway) start(ctx context.Context) {
	evCtx, cancel := context.WithCancel(context.Background())
	g.stopEvents = cancel
	g.sessions.Start(ctx)
	g.audit.Start(evCtx)
	ch, subID := g.events.Subscribe(evCtx, session.Wildcard)
	go g.watchEvents(evCtx, ch, subID)
}

// setupListener creates the TCP or tsnet listener per configuration.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		return g.setupTailscaleListener(ctx)
	}
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key in config or the TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and listens on the tailnet.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	if err := os.MkdirAll(tsCfg.StateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       tsCfg.StateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node",
		"hostname", tsCfg.Hostname,
		"state_dir", tsCfg.StateDir,
		"ephemeral", tsCfg.Ephemeral,
	)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	if len(status.TailscaleIPs) > 0 {
		g.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", status.TailscaleIPs[0].String())
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, disconnects every session, and releases
// resources. Safe to call once, after start.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if g.httpServer != nil {
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	}
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	for _, snap := range g.sessions.List() {
		g.sessions.Disconnect(snap.ID, "shutdown")
	}
	g.sessions.Close()
	g.polls.closeAll()

	if g.stopEvents != nil {
		g.stopEvents()
	}
	g.events.Close()
	g.audit.Close()

	errs = appendCloseError(errs, "pipeline close", g.pipeline.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
