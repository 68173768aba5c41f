package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/triage-ai/cli-analytics/internal/api"
	"github.com/triage-ai/cli-analytics/internal/auth"
	"github.com/triage-ai/cli-analytics/internal/chread"
	"github.com/triage-ai/cli-analytics/internal/config"
	"github.com/triage-ai/cli-analytics/internal/experiment"
	"github.com/triage-ai/cli-analytics/internal/idhash"
	"github.com/triage-ai/cli-analytics/internal/inference"
	"github.com/triage-ai/cli-analytics/internal/privacy"
	"github.com/triage-ai/cli-analytics/internal/recommend"
	"github.com/triage-ai/cli-analytics/internal/report"
	"github.com/triage-ai/cli-analytics/internal/storage"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthService = "cli_analytics.v1.Analytics"

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API, plus the gRPC health service when
ANALYTICS_GRPC_HEALTH_PORT is set and a periodic inference pass when
ANALYTICS_INFER_INTERVAL_S is positive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cfg, logger := a.cfg, a.logger
	if cfg.HashSalt == "" {
		return errors.New("ANALYTICS_HASH_SALT is required")
	}

	logger.Info("starting analytics server",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("db_driver", cfg.DBDriver),
		zap.Duration("session_gap", cfg.SessionGap),
		zap.Duration("infer_interval", cfg.InferInterval),
		zap.Bool("admin_enabled", cfg.AdminToken != ""),
	)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("database connected", zap.String("dialect", st.Dialect().String()))

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}

	validator, err := api.NewRecordValidator()
	if err != nil {
		return err
	}

	// Mirror: ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	var reader api.ActivityReader
	if cfg.ClickHouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(ctx, cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}

		chReader, err := chread.NewReader(ctx, cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = chReader.Close() }()
			reader = chReader
			logger.Info("clickhouse reader connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	hasher := idhash.New(cfg.HashSalt)
	runner := inference.NewRunner(st, cfg.Inference(), logger)
	deps := &api.Dependencies{
		Store:       st,
		Auth:        auth.NewStoreAuthenticator(auth.StoreAuthConfig{Store: st, CacheTTL: cfg.AuthCacheTTL, Logger: logger}),
		Sanitizer:   privacy.NewSanitizer(hasher, cfg.Sanitizer()),
		Validator:   validator,
		Runner:      runner,
		Reports:     report.NewService(st),
		Experiments: experiment.NewService(st, experiment.NewAssigner(hasher)),
		Recommender: recommend.NewService(st),
		Writer:      writer,
		Reader:      reader,
		Catalog:     catalog,
		AdminToken:  cfg.AdminToken,
		Logger:      logger,
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// gRPC health service for orchestrators
	var grpcServer *grpc.Server
	var healthServer *health.Server
	if cfg.GRPCHealthPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
		if err != nil {
			return fmt.Errorf("grpc health listen: %w", err)
		}
		grpcServer = grpc.NewServer()
		healthServer = health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
		go func() {
			logger.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc health server: %w", err)
			}
		}()
	}

	inferDone := make(chan struct{})
	go func() {
		defer close(inferDone)
		runPeriodicInference(ctx, runner, cfg.InferInterval, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case err = <-errCh:
		logger.Error("server failed, shutting down", zap.Error(err))
	}

	// Stops the periodic pass when shutdown comes from a server failure.
	cancel()

	if healthServer != nil {
		healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	<-inferDone

	logger.Info("analytics server stopped")
	return err
}

// runPeriodicInference runs an all-tenant pass every interval until ctx ends.
// A non-positive interval disables it.
func runPeriodicInference(ctx context.Context, runner *inference.Runner, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Per-actor failures are already logged by the runner.
			if _, err := runner.Run(ctx, ""); err != nil && ctx.Err() == nil {
				logger.Warn("periodic inference pass incomplete", zap.Error(err))
			}
		}
	}
}
