package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/predict-queue/internal/api/dispatcher"
	"github.com/cuongbtq/predict-queue/internal/api/handler"
	"github.com/cuongbtq/predict-queue/internal/api/router"
	"github.com/cuongbtq/predict-queue/internal/broker"
	"github.com/cuongbtq/predict-queue/internal/config"
	"github.com/cuongbtq/predict-queue/internal/janitor"
	"github.com/cuongbtq/predict-queue/internal/tracing"
	"github.com/cuongbtq/predict-queue/internal/worker"
	"github.com/cuongbtq/predict-queue/internal/worker/inference"
	"github.com/cuongbtq/predict-queue/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	if cfg.Tracing.Enabled {
		shutdownTracer, err := tracing.InitTracer(serviceName(cfg, "predict-api-service"), os.Stdout)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracer(ctx)
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends, err := broker.Open(ctx, cfg, "api-service", appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}
	defer backends.Close()

	errChan := make(chan error, 2)

	var embedded *worker.Worker
	if cfg.Broker.EmbeddedWorker {
		embedded, err = startEmbeddedWorker(ctx, cfg, backends, appLogger.Logger, errChan)
		if err != nil {
			return err
		}
	}

	d := dispatcher.New(&dispatcher.Config{
		Logger:       appLogger.Logger,
		Queue:        backends.Queue,
		Results:      backends.Results,
		PollInterval: cfg.Dispatcher.PollInterval,
		MaxWait:      cfg.Dispatcher.MaxWait,
	})

	r := initRouter(cfg, appLogger.Logger, d, backends)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		slog.Duration("max_wait", cfg.Dispatcher.MaxWait),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errChan:
		appLogger.Error("Service failed", slog.Any("error", err))
		return err
	}

	appLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	cancel()
	if embedded != nil {
		embedded.Stop()
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// startEmbeddedWorker runs the worker pool (and janitor) inside the api process
func startEmbeddedWorker(ctx context.Context, cfg *config.Config, backends *broker.Backends, logger *slog.Logger, errChan chan<- error) (*worker.Worker, error) {
	engine, err := inference.NewEngineFromConfig(&cfg.Inference)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inference: %w", err)
	}

	w := worker.NewWorker(&worker.Config{
		Logger:            logger,
		Queue:             backends.Queue,
		Results:           backends.Results,
		Engine:            engine,
		WorkerID:          "embedded",
		Concurrency:       cfg.Worker.Concurrency,
		JobTimeout:        cfg.Worker.JobTimeout,
		Throttle:          cfg.Worker.Throttle,
		PublishRetries:    cfg.Worker.PublishRetries,
		PublishRetryDelay: cfg.Worker.PublishRetryDelay,
	})
	go func() {
		if err := w.Start(ctx); err != nil {
			errChan <- fmt.Errorf("embedded worker stopped: %w", err)
		}
	}()

	if cfg.Janitor.Enabled && backends.Sweeper != nil {
		j, err := janitor.New(backends.Sweeper, cfg.Janitor.Schedule, logger)
		if err != nil {
			return nil, err
		}
		go func() { _ = j.Start(ctx) }()
	}

	logger.Info("Embedded worker started", slog.Int("concurrency", cfg.Worker.Concurrency))
	return w, nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, d *dispatcher.Dispatcher, backends *broker.Backends) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	deps := &handler.Dependencies{
		Logger:      logger,
		Dispatcher:  d,
		HealthCheck: backends.Ping,
		ServiceName: cfg.App.Name,
	}
	if cfg.Metrics.Enabled {
		deps.MetricsPath = cfg.Metrics.Path
	}

	return router.SetupRouter(deps)
}

func serviceName(cfg *config.Config, fallback string) string {
	if cfg.Tracing.ServiceName != "" {
		return cfg.Tracing.ServiceName
	}
	return fallback
}
