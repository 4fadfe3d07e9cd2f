package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"partyfinder/internal/api"
	"partyfinder/internal/config"
	"partyfinder/internal/coordinator"
	"partyfinder/internal/database"
	"partyfinder/internal/gateway"
	"partyfinder/internal/platform"
	"partyfinder/internal/provisioner"
	pkgdatabase "partyfinder/pkg/database"
)

// Application wires all components together. Initialization follows strict
// dependency order: Database → Platform → Provisioner → Gateway →
// Coordinator → API → HTTP.
type Application struct {
	config      *config.Config
	dbManager   *database.Manager
	registry    *gateway.Registry
	coordinator *coordinator.Coordinator
	apiServer   *api.Server
	httpServer  *http.Server

	reconcileCancel context.CancelFunc
}

// NewApplication creates the application with all components initialized.
// The coordinator's recovery pass runs here so the process never serves
// requests against unreconciled state.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbManager, err := database.NewManager(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrationManager := pkgdatabase.NewMigrationManager(dbManager.GetDB(), cfg.Database.MigrationsPath)
	if err := migrationManager.Migrate(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Println("Database migrations applied successfully")

	validator := pkgdatabase.NewSchemaValidator(dbManager.GetDB())
	if err := validator.Validate(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	platformClient := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.Timeout)
	prov := provisioner.New(dbManager, platformClient)

	registry := gateway.NewRegistry()
	notifier := gateway.NewNotifier(registry)

	coord := coordinator.New(dbManager, prov, platformClient, notifier, cfg.Coordinator.GracePeriod)
	if err := coord.Recover(context.Background()); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to recover coordinator state: %w", err)
	}

	apiServer := api.NewServer(coord, dbManager, registry)
	gatewayHandler := gateway.NewHandler(registry, coord, gateway.Config{
		PingInterval: cfg.Gateway.PingInterval,
		ReadTimeout:  cfg.Gateway.ReadTimeout,
		WriteTimeout: cfg.Gateway.WriteTimeout,
		BufferSize:   cfg.Gateway.BufferSize,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", gatewayHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		dbManager:   dbManager,
		registry:    registry,
		coordinator: coord,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// Start begins serving. The reconciler sweep starts first, then the HTTP
// server accepts connections.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting partyfinder on %s", app.httpServer.Addr)

	reconcileCtx, cancel := context.WithCancel(context.Background())
	app.reconcileCancel = cancel
	app.coordinator.StartReconciler(reconcileCtx, app.config.Coordinator.ReconcileInterval)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		cancel()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Partyfinder started successfully")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP → reconciler →
// coordinator timers → database.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down partyfinder")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if app.reconcileCancel != nil {
		app.reconcileCancel()
	}

	app.coordinator.Stop()

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("Partyfinder shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
