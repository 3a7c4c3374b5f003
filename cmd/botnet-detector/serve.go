package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-botnet/internal/api"
	"github.com/miradorstack/mirador-botnet/internal/ingest"
	"github.com/miradorstack/mirador-botnet/internal/metrics"
	"github.com/miradorstack/mirador-botnet/internal/repo"
	"github.com/miradorstack/mirador-botnet/internal/services"
)

func newServeCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the detection service over gRPC and HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, global)
		},
	}
}

func runServe(cmd *cobra.Command, global *globalFlags) error {
	cfg, logger, err := loadConfig(global)
	if err != nil {
		return err
	}
	logger.Info("starting mirador-botnet", slog.String("address", cfg.Server.Address), slog.String("http_address", cfg.Server.HTTPAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, cleanup, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", slog.Any("error", err))
		return err
	}
	defer cleanup()

	sourcePolicy, err := ingest.NewSourcePolicy(cfg.Ingest.Sources, cfg.Ingest.DataRoot)
	if err != nil {
		logger.Error("invalid source policy", slog.Any("error", err))
		return err
	}
	detectionService := services.NewDetectionService(logger, pipeline, repo.NewRunStore(cfg.History.MaxRuns), sourcePolicy)

	server, err := api.NewServer(cfg.Server, api.NewGRPCHandler(detectionService))
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		return err
	}

	var httpServer *api.HTTPServer
	if cfg.Server.HTTPAddress != "" {
		httpServer = api.NewHTTPServer(cfg.Server.HTTPAddress, detectionService, logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error("http server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("gRPC server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
	defer cancel()
	server.Shutdown(shutdownCtx)

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", slog.Any("error", err))
		}
	}
	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("mirador-botnet stopped", slog.Duration("run_p95", detectionService.LatencyP95()))
	return nil
}
