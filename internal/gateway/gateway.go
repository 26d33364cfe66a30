// ABOUTME: Gateway orchestrator that wires the store, provider client and processor
// ABOUTME: Owns the HTTP server lifecycle, route table seeding and health endpoints

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/switchboard/internal/composer"
	"github.com/2389/switchboard/internal/config"
	"github.com/2389/switchboard/internal/dedupe"
	"github.com/2389/switchboard/internal/metrics"
	"github.com/2389/switchboard/internal/relay"
	"github.com/2389/switchboard/internal/session"
	"github.com/2389/switchboard/internal/store"
	"github.com/2389/switchboard/internal/whatsapp"
)

const (
	// processTimeout bounds the work done for one webhook delivery or send request.
	processTimeout = 30 * time.Second

	// startupTimeout bounds connecting to the store and seeding routes.
	startupTimeout = 10 * time.Second

	// shutdownTimeout bounds the graceful HTTP shutdown.
	shutdownTimeout = 5 * time.Second

	// heartbeatInterval is how often an idle notification stream gets a comment line.
	heartbeatInterval = 15 * time.Second
)

// Gateway serves the webhook, the outbound message API and the notification stream.
type Gateway struct {
	config     *config.Config
	store      store.Store
	processor  *relay.Processor
	dedupe     *dedupe.Cache
	metrics    *metrics.Metrics
	httpServer *http.Server
	logger     *slog.Logger

	// heartbeat is the keepalive interval of notification streams
	heartbeat time.Duration
}

// initStore creates the store selected by cfg.Store.Backend.
func initStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		s, err = store.NewSQLiteStore(cfg.Store.SQLite.Path)
	case config.BackendRedis:
		s, err = store.NewRedisStore(ctx, cfg.Store.Redis.URL)
	case config.BackendMemory:
		s = store.NewMockStore()
	default:
		err = fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// seedRoutes writes the configured routing table into the store.
func seedRoutes(ctx context.Context, s store.Store, routes map[int][]string, logger *slog.Logger) error {
	for mode, systems := range routes {
		if err := s.SetDestinations(ctx, mode, systems); err != nil {
			return fmt.Errorf("seeding route %d: %w", mode, err)
		}
		logger.Debug("seeded route", "mode", mode, "systems", systems)
	}
	return nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	s, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := seedRoutes(ctx, s, cfg.Routes, logger); err != nil {
		_ = s.Close()
		return nil, err
	}

	client := whatsapp.NewClient(whatsapp.ClientConfig{
		BaseURL:       cfg.WhatsApp.APIURL,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		AccessToken:   cfg.WhatsApp.AccessToken,
		Timeout:       cfg.WhatsApp.Timeout,
		RatePerSecond: cfg.WhatsApp.RatePerSecond,
		Burst:         cfg.WhatsApp.Burst,
	}, logger)

	return newGateway(cfg, s, client, logger), nil
}

// newGateway assembles a gateway around an existing store and sender.
func newGateway(cfg *config.Config, s store.Store, sender relay.Sender, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	dedupeCache := dedupe.New(cfg.Webhook.DedupeTTL, cfg.Webhook.DedupeSize)
	m := metrics.New()

	processor := relay.New(s, sender, relay.Options{
		SystemID: cfg.Session.SystemID,
		Defaults: composer.Defaults{
			ButtonHeader: cfg.WhatsApp.DefaultHeader,
			ListButton:   cfg.WhatsApp.ListButton,
		},
		Session: session.Options{
			Menu:   cfg.Session.Menu,
			Expiry: cfg.Session.Expiry,
		},
		SerializePerUser: cfg.Session.SerializePerUser,
		Dedupe:           dedupeCache,
		Metrics:          m,
	}, logger)

	gw := &Gateway{
		config:    cfg,
		store:     s,
		processor: processor,
		dedupe:    dedupeCache,
		metrics:   m,
		logger:    logger.With("component", "gateway"),
		heartbeat: heartbeatInterval,
	}

	// Open notification streams end when shutdown starts.
	baseCtx, cancel := context.WithCancel(context.Background())
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	gw.httpServer.RegisterOnShutdown(cancel)
	return gw
}

// routes builds the HTTP handler.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	// Provider webhook
	mux.HandleFunc("GET /webhook", g.handleVerifyWebhook)
	mux.HandleFunc("POST /webhook", g.handleWebhook)

	// API endpoints - bearer token required
	mux.HandleFunc("POST /api/messages", g.requireToken(g.handleSendMessage))
	mux.HandleFunc("GET /api/notifications", g.requireToken(g.handleNotifications))
	mux.HandleFunc("GET /api/activity", g.requireToken(g.handleListActivity))

	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, g.metrics.Handler())
	}

	if g.config.API.Token == "" {
		g.logger.Warn("api.token not configured - /api endpoints will reject every request")
	}
	return mux
}

// Handler returns the HTTP handler serving every gateway endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// startServer serves HTTP on ln in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"store", g.store.System(),
	)

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context since the run context is done.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
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

// Shutdown stops the HTTP server and releases the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "store close", g.store.Close())
	g.dedupe.Close()

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

// handleReady returns 200 OK if the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%s)", g.store.System())
}
