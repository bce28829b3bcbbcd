// Package connectservice wires the conversation service together and runs
// its HTTP server.
package connectservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomly/connect/internal/api"
	"github.com/roomly/connect/internal/config"
	"github.com/roomly/connect/internal/health"
	"github.com/roomly/connect/internal/logger"
	"github.com/roomly/connect/internal/notify"
	"github.com/roomly/connect/internal/presence"
	"github.com/roomly/connect/internal/pubsub"
	"github.com/roomly/connect/internal/realtime"
	"github.com/roomly/connect/internal/services"
	"github.com/roomly/connect/internal/store"
	"github.com/roomly/connect/internal/store/postgres"
	"github.com/roomly/connect/internal/store/sqlite"
	"github.com/roomly/connect/internal/typing"
)

// Run starts the connect service HTTP server and blocks until shutdown or
// error.
func Run() error {
	log := logger.New("connect-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Str("notifier_url", cfg.NotifierURL).
		Msg("Connect service starting")

	// Cancellable root context bound to SIGINT/SIGTERM.
	ctx, stop := newServerContext()
	defer stop()

	st, err := newStore(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Store unavailable")
		return err
	}

	checker := health.NewStoreHealthChecker(st, log, cfg.HealthProbeTimeout)
	go checker.Start(ctx, cfg.HealthInterval)
	if err := checker.WaitUntilHealthy(ctx, 2*cfg.HealthInterval); err != nil {
		log.Error().Err(err).Msg("startup health check failed")
		return err
	}

	broker := pubsub.NewBroker(cfg.BrokerBuffer, realtime.NewAuthorizer(st), log)
	defer broker.Close()

	presenceTracker := presence.NewTracker(cfg.PresenceWindow, broker, log)
	typingCoord := typing.NewCoordinator(cfg.TypingTTL, broker, log)
	go func() { _ = presenceTracker.Run(ctx, cfg.SweepInterval) }()
	go func() { _ = typingCoord.Run(ctx, cfg.SweepInterval) }()

	var dispatcher services.Dispatcher
	if cfg.NotifierURL != "" {
		dispatcher = notify.NewDispatcher(notify.NewHTTPNotifier(cfg.NotifierURL), nil, log)
	}

	convSvc := services.NewConversationService(st, broker, dispatcher, log)
	matchSvc := services.NewMatchService(st, convSvc, broker, dispatcher, log)

	hub := realtime.NewHub(broker, presenceTracker, typingCoord, convSvc, log)
	router := api.NewRouter(st, convSvc, matchSvc, hub)

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	}
}

// newStore opens the configured backend and ensures its schema exists.
func newStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		log.Info().Msg("postgres store ready")
		return postgres.NewWithDB(db), nil
	case "sqlite":
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("sqlite store ready")
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported DB driver: %s", cfg.DBDriver)
	}
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	// No Read/WriteTimeout: /ws connections are long-lived and manage their
	// own deadlines.
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// newServerContext returns a cancellable context that is cancelled on
// SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
