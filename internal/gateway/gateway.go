// ABOUTME: Gateway orchestrator that wires the store, channel registry, and HTTP server
// ABOUTME: Manages stream and publish endpoints, health checks, and shutdown order

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

	"github.com/go-playground/validator/v10"

	"github.com/2389/carlot-notify/internal/auth"
	"github.com/2389/carlot-notify/internal/config"
	"github.com/2389/carlot-notify/internal/notify"
	"github.com/2389/carlot-notify/internal/store"
)

// Gateway orchestrates the carlot-notify server components.
type Gateway struct {
	config     *config.Config
	store      store.Store
	registry   *notify.Registry
	dispatcher *notify.Dispatcher
	bridge     *notify.Bridge
	publisher  *notify.Publisher
	sessions   auth.SessionResolver
	validate   *validator.Validate
	httpServer *http.Server
	logger     *slog.Logger

	channelOpts notify.ChannelOptions
}

// initStore creates the event store from config, honoring CARLOT_DB_PATH.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CARLOT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	driver := cfg.Database.Driver
	if driver == "" {
		driver = store.DriverModernc
	}

	s, err := store.NewSQLiteStoreWithDriver(driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a gateway from cfg. The store is opened immediately; servers
// start in Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	return newGateway(cfg, s, auth.NewTokenResolver(verifier), logger), nil
}

// newGateway assembles the components around an already opened store.
func newGateway(cfg *config.Config, s store.Store, sessions auth.SessionResolver, logger *slog.Logger) *Gateway {
	stream := cfg.Stream

	registry := notify.NewRegistry(stream.MaxChannels, logger)
	dispatcher := notify.NewDispatcher(registry, stream.DispatchTimeout, logger)

	gw := &Gateway{
		config:     cfg,
		store:      s,
		registry:   registry,
		dispatcher: dispatcher,
		bridge: notify.NewBridge(s, notify.BridgeOptions{
			Interval:   stream.PollInterval,
			BatchLimit: stream.PollBatchLimit,
			Logger:     logger,
		}),
		publisher: notify.NewPublisher(s, dispatcher, logger),
		sessions:  sessions,
		validate:  validator.New(),
		logger:    logger.With("component", "gateway"),
		channelOpts: notify.ChannelOptions{
			KeepAlive:           stream.KeepAlive,
			InactivityThreshold: stream.InactivityThreshold,
			WriteTimeout:        stream.WriteTimeout,
			CatchUp:             true,
			Logger:              logger,
		},
	}

	// Streams are long-lived, so no WriteTimeout; channels bound each write instead
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw
}

// Handler returns the HTTP routes served by the gateway.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	requireSession := auth.RequireSession(g.sessions)
	adminOnly := auth.RequireRole(auth.RoleAdmin)
	publishers := auth.RequireRole(auth.RoleAdmin, auth.RoleService)

	mux.Handle("GET /api/stream/admin",
		requireSession(adminOnly(http.HandlerFunc(g.handleAdminStream))))
	mux.Handle("GET /api/stream/conversations/{vehicleID}",
		requireSession(http.HandlerFunc(g.handleConversationStream)))
	mux.Handle("GET /api/stream/me",
		requireSession(http.HandlerFunc(g.handleUserStream)))
	mux.Handle("POST /api/events",
		requireSession(publishers(http.HandlerFunc(g.handlePublish))))

	return mux
}

// Publisher returns the write-side entry point for in-process collaborators.
func (g *Gateway) Publisher() *notify.Publisher {
	return g.publisher
}

// Registry returns the live channel registry.
func (g *Gateway) Registry() *notify.Registry {
	return g.registry
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// Run starts the HTTP server and blocks until ctx is canceled or the server fails.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context, since the run
// context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
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

// Shutdown closes every live channel, stops the HTTP server, waits for
// polling to stop, and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "channels", g.registry.Len())

	// Closing channels first lets stream handlers return so the server can drain
	g.registry.Shutdown()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.bridge.Wait()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers, reporting live channels.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d channels)", g.registry.Len())
}
