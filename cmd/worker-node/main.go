package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jobwire/worker-node/internal/api/handler"
	"github.com/jobwire/worker-node/internal/api/router"
	"github.com/jobwire/worker-node/internal/config"
	"github.com/jobwire/worker-node/internal/hub"
	"github.com/jobwire/worker-node/internal/jobs"
	"github.com/jobwire/worker-node/internal/worker"
	"github.com/jobwire/worker-node/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_NODE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-node/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration; validation faults are fatal before any
	// connection attempt
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger := initLogger(&cfg.Logging)

	workerID := cfg.Worker.ID
	if workerID == "" {
		workerID = "worker-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}

	appLogger.Info("Starting worker node",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
	)

	// Build the capability registry from declared capabilities and the
	// builtin handler set
	registry, err := buildRegistry(&cfg.Worker)
	if err != nil {
		return fmt.Errorf("invalid capability configuration: %w", err)
	}

	pool := worker.NewPool(registry, appLogger.Logger)
	monitor := worker.NewHeartbeatMonitor(cfg.Worker.HeartbeatInterval, cfg.Worker.LivenessMultiplier)

	hubManager := hub.NewManager(&hub.Config{
		URL:               cfg.Hub.WorkerURL(workerID),
		HandshakeTimeout:  cfg.Hub.HandshakeTimeout,
		BackoffInitial:    cfg.Hub.Backoff.Initial,
		BackoffMax:        cfg.Hub.Backoff.Max,
		BackoffMultiplier: cfg.Hub.Backoff.Multiplier,
		BackoffJitter:     cfg.Hub.Backoff.Jitter,
	}, appLogger.Logger)

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:     appLogger.Logger,
		WorkerID:   workerID,
		Registry:   registry,
		Pool:       pool,
		Dialer:     hubManager,
		Monitor:    monitor,
		DrainGrace: cfg.Worker.ShutdownGrace,
	})

	// Local observability API
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	apiRouter := router.SetupRouter(&handler.Dependencies{
		Logger: appLogger.Logger,
		Worker: workerInstance,
	})
	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Status API server error",
				slog.Any("error", err),
			)
		}
	}()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	appLogger.Info("Worker node started successfully",
		slog.Int("status_api_port", cfg.Server.Port),
	)

	// Wait for interrupt signal or worker exit
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, draining",
			slog.String("signal", sig.String()),
		)
		cancel()
		if err := <-errChan; err != nil {
			return err
		}
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Worker error",
				slog.Any("error", err),
			)
			return err
		}
	}

	// Stop the status API
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("Status API shutdown timed out",
			slog.Any("error", err),
		)
	}

	pool.Stop()
	pool.Wait()

	appLogger.Info("Worker node shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) *logger.Logger {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// buildRegistry joins declared capabilities with the builtin handlers.
// Declaring a capability with no registered handler is a configuration
// fault.
func buildRegistry(cfg *config.WorkerConfig) (*worker.Registry, error) {
	builtins := map[string]worker.Handler{
		"echo":  jobs.Echo(),
		"sleep": jobs.Sleep(),
	}

	registry := worker.NewRegistry()
	for _, cap := range cfg.Capabilities {
		h, ok := builtins[cap.Name]
		if !ok {
			return nil, fmt.Errorf("no handler registered for capability %q", cap.Name)
		}
		if err := registry.Register(worker.Capability{
			Name:     cap.Name,
			Slots:    cap.Slots,
			Metadata: cap.Metadata,
			Handler:  h,
		}); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
