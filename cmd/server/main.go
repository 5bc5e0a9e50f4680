// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"device-scanner/internal/config"
	"device-scanner/internal/database"
	"device-scanner/internal/discovery/serial"
	"device-scanner/internal/discovery/usb"
	"device-scanner/internal/driver"
	"device-scanner/internal/handler"
	"device-scanner/internal/protocol"
	"device-scanner/internal/repository"
	"device-scanner/internal/routes"
	"device-scanner/internal/scanner"
	"device-scanner/internal/service"
	"device-scanner/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	eventRepo      repository.EventRepository
	driverRegistry *driver.Registry
	scanner        *scanner.Scanner
	deviceService  *service.DeviceService
	eventBus       *handler.EventBus
	wsHandler      *handler.WebSocketHandler
}

func main() {
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "device-scanner")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg.Scanner)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initializeDriverRegistry(); err != nil {
		return nil, fmt.Errorf("failed to initialize driver registry: %w", err)
	}

	if err := app.initializeScanner(); err != nil {
		return nil, fmt.Errorf("failed to initialize scanner: %w", err)
	}

	app.initializeServices()
	app.initializeServer()

	return app, nil
}

// initializeDatabase connects the event journal and runs migrations when it is enabled
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Event journal disabled")
		return nil
	}

	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	migrator := database.NewMigrator(db, app.logger, &app.config.Database)
	if err := migrator.Up(); err != nil {
		db.Close()
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	app.database = db
	app.eventRepo = repository.NewEventRepository(db, app.logger)

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeDriverRegistry registers built-in and configured device modules
func (app *Application) initializeDriverRegistry() error {
	app.driverRegistry = driver.NewRegistry(app.logger)

	if err := driver.RegisterDefaultModules(app.driverRegistry, app.logger); err != nil {
		return err
	}
	if err := driver.RegisterConfiguredModules(app.driverRegistry, app.config.Scanner.Profiles, app.logger); err != nil {
		return err
	}

	app.logger.Info("Driver registry initialized successfully",
		zap.Int("registered_modules", app.driverRegistry.Len()),
	)
	return nil
}

// initializeScanner builds the port scanner from the serial configuration
func (app *Application) initializeScanner() error {
	opener, err := protocol.NewSerialOpener(&app.config.Serial, app.logger)
	if err != nil {
		return err
	}

	opts := scanner.Options{
		PollInterval: app.config.Scanner.PollInterval,
		OpenAttempts: app.config.Scanner.OpenAttempts,
		RetryDelay:   app.config.Scanner.RetryDelay,
		NoRetryDelay: app.config.Scanner.RetryDelay == 0,
		EventBuffer:  app.config.Scanner.EventBuffer,
	}

	app.scanner = scanner.New(
		serial.NewEnumerator(app.logger),
		opener,
		app.driverRegistry.Profiles(),
		opts,
		clock.New(),
		app.logger,
	)
	return nil
}

// initializeServices creates the device service and the notification bus
func (app *Application) initializeServices() {
	app.eventBus = handler.NewEventBus(app.logger)

	if app.config.USB.Describe && !usb.LibusbAvailable {
		app.logger.Warn("usb.describe is set but the binary was built without the libusb tag, using the vendor database")
	}

	opts := []service.Option{
		service.WithDescriber(usb.NewDescriber(app.config.USB.Describe, app.logger)),
	}
	if app.eventRepo != nil {
		opts = append(opts, service.WithJournal(app.eventRepo))
	}

	app.deviceService = service.NewDeviceService(app.driverRegistry, app.eventBus, app.logger, opts...)
	app.wsHandler = handler.NewWebSocketHandler(app.eventBus, app.deviceService, app.config.Security.AllowedOrigins, app.logger)

	app.logger.Info("Services initialized successfully")
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	if !app.config.Server.Enabled {
		app.logger.Info("HTTP server disabled")
		return
	}

	// nil interfaces, not typed nils, when the journal is off
	var events handler.EventLister
	var pinger handler.Pinger
	if app.eventRepo != nil {
		events = app.eventRepo
		pinger = app.database
	}

	router := routes.NewRouter(
		app.config,
		app.logger,
		app.deviceService,
		app.scanner,
		events,
		pinger,
		app.wsHandler,
	).SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized", zap.String("address", app.config.GetServerAddr()))
}

// Start runs the scanner pipeline and the HTTP server until a shutdown signal
func (app *Application) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go app.eventBus.Start(ctx)
	go app.wsHandler.Run(ctx)

	serviceDone := make(chan struct{})
	go func() {
		defer close(serviceDone)
		app.deviceService.Run(ctx, app.scanner.Events())
	}()

	if err := app.scanner.Start(ctx); err != nil {
		return err
	}

	if app.server != nil {
		go func() {
			app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))
			if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
			}
		}()
	}

	if app.eventRepo != nil && app.config.Database.Retention > 0 {
		go app.startCleanupService(ctx)
	}

	app.waitForShutdown()
	app.shutdown(cancel, serviceDone)
	return nil
}

// startCleanupService prunes journal rows older than the retention window
func (app *Application) startCleanupService(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	app.logger.Info("Cleanup service started", zap.Duration("retention", app.config.Database.Retention))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanupCtx, cancel := context.WithTimeout(ctx, 1*time.Minute)
			cutoff := time.Now().Add(-app.config.Database.Retention)
			deleted, err := app.eventRepo.DeleteBefore(cleanupCtx, cutoff)
			cancel()

			if err != nil {
				app.logger.Error("Failed to cleanup old lifecycle events", zap.Error(err))
			} else if deleted > 0 {
				app.logger.Info("Cleaned up old lifecycle events", zap.Int64("deleted", deleted))
			}
		}
	}
}

// waitForShutdown waits for shutdown signal
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
}

// shutdown stops the scanner first so no event is lost, then the consumers
func (app *Application) shutdown(cancel context.CancelFunc, serviceDone <-chan struct{}) {
	serviceLogger := utils.NewServiceLogger(app.logger, "device-scanner")
	serviceLogger.LogServiceStop("shutdown signal received")

	if app.server != nil {
		ctx, cancelServer := context.WithTimeout(context.Background(), app.config.Server.WriteTimeout)
		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("HTTP server shutdown error", zap.Error(err))
		} else {
			app.logger.Info("HTTP server stopped")
		}
		cancelServer()
	}

	// An in-flight open retry finishes before the loop sees Stop
	app.scanner.Stop()
	select {
	case <-app.scanner.Done():
		app.logger.Info("Port scanner stopped")
	case <-time.After(app.config.Scanner.StopTimeout):
		app.logger.Warn("Port scanner did not stop in time",
			zap.Duration("stop_timeout", app.config.Scanner.StopTimeout),
		)
	}

	// Events is closed once the loop exits, so Run drains and returns
	select {
	case <-serviceDone:
	case <-time.After(app.config.Scanner.StopTimeout):
		app.logger.Warn("Device service did not drain in time")
	}
	cancel()

	if err := app.deviceService.Shutdown(); err != nil {
		app.logger.Error("Device service shutdown error", zap.Error(err))
	}

	// A retry that outlived stop_timeout may still have queued an attach
	if n := app.scanner.DiscardPending(); n > 0 {
		app.logger.Warn("Discarded undelivered lifecycle events", zap.Int("count", n))
	}

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}
