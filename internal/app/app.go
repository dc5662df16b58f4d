package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/converso/internal/config"
	httpcontroller "github.com/vadim/converso/internal/controller/http"
	"github.com/vadim/converso/internal/database"
	"github.com/vadim/converso/internal/domain/chat/dao"
	"github.com/vadim/converso/internal/domain/chat/policy"
	"github.com/vadim/converso/internal/domain/chat/service"
	"github.com/vadim/converso/internal/httpx/response"
	"github.com/vadim/converso/internal/realtime"
	"github.com/vadim/converso/internal/storage"
)

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	pool *pgxpool.Pool

	chatPolicy *policy.Policy
	tokens     *dao.TokenPostgres
	store      *storage.AttachmentStore

	hub       *realtime.Hub
	hubCancel context.CancelFunc
	sweeper   *realtime.Sweeper
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	app := &App{
		cfg:    cfg,
		router: r,
		logger: logger,
	}

	if err := app.initInfrastructure(ctx); err != nil {
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}
	app.initDomains()
	app.registerRoutes()

	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return app, nil
}

// initInfrastructure connects the database and attachment storage
func (a *App) initInfrastructure(ctx context.Context) error {
	pool, err := database.NewPostgresPool(ctx, a.cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	a.pool = pool

	if a.cfg.Database.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	a.store = storage.NewAttachmentStore(a.cfg.S3)
	return nil
}

// initDomains wires the DAO, service, policy and realtime layers. The hub
// doubles as the services' notifier and dispatches client events back
// into the policy, so it is created first and wired last.
func (a *App) initDomains() {
	usersDAO := dao.NewUserPostgres(a.pool)
	convsDAO := dao.NewConversationPostgres(a.pool)
	msgsDAO := dao.NewMessagePostgres(a.pool)
	a.tokens = dao.NewTokenPostgres(a.pool)

	a.hub = realtime.NewHub(a.cfg.Realtime, usersDAO, a.logger)

	registry := service.NewRegistry(convsDAO, msgsDAO, usersDAO, a.hub, a.logger)
	ledger := service.NewLedger(convsDAO, msgsDAO, a.hub, a.logger)
	projector := service.NewProjector(convsDAO, msgsDAO, usersDAO, a.logger)

	a.chatPolicy = policy.New(registry, ledger, projector, usersDAO)
	a.hub.SetOps(a.chatPolicy)

	a.sweeper = realtime.NewSweeper(a.cfg.Presence, a.hub, usersDAO, a.logger)
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() {
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)

	a.router.Route("/api/v1", func(r chi.Router) {
		r.Use(httpcontroller.Authenticator(a.tokens))
		r.Use(middleware.Timeout(30 * time.Second))

		httpcontroller.NewConversationHandler(a.chatPolicy).RegisterRoutes(r)
		httpcontroller.NewMessageHandler(a.chatPolicy).RegisterRoutes(r)
		httpcontroller.NewInboxHandler(a.chatPolicy).RegisterRoutes(r)
		httpcontroller.NewUserHandler(a.chatPolicy).RegisterRoutes(r)
		httpcontroller.NewMediaHandler(a.store).RegisterRoutes(r)
	})

	// The relay holds connections open; it lives outside the timeout
	// middleware but behind the same token check.
	a.router.Group(func(r chi.Router) {
		r.Use(httpcontroller.Authenticator(a.tokens))
		httpcontroller.NewWSHandler(a.hub, a.logger).RegisterRoutes(r)
	})
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{"status": "ok"})
}

// readyHandler handles readiness check requests
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.pool.Ping(ctx); err != nil {
		response.Unavailable(w, "database unreachable")
		return
	}
	response.OK(w, map[string]string{"status": "ready"})
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	hubCtx, cancel := context.WithCancel(ctx)
	a.hubCancel = cancel
	go a.hub.Run(hubCtx)
	a.sweeper.Start()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	a.sweeper.Stop()
	if a.hubCancel != nil {
		a.hubCancel()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}

	a.pool.Close()

	a.logger.Info("shutdown complete")
	return nil
}
