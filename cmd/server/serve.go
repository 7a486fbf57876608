package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/afectaciones-engine/afectacion"
	"github.com/warp/afectaciones-engine/api"
	"github.com/warp/afectaciones-engine/config"
)

func newServeCmd() *cobra.Command {
	var scenario string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.DefaultEnvFiles...)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, scenario)
		},
	}
	cmd.Flags().StringVar(&scenario, "scenario", "", "demo scenario to load on startup")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, scenario string) error {
	logger := cfg.Logger()

	shutdownTracing, err := setupTracing(ctx, cfg.OpenTelemetry)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := afectacion.NewMetrics(reg)
	events := afectacion.NewLogrusSink(logger)

	handler := api.NewHandler(store, api.Options{
		Registrar: afectacion.Options{
			Timeout:        cfg.Engine.RegistrarTimeout,
			VerifyAttempts: cfg.Engine.VerifyAttempts,
			VerifyBackoff:  cfg.Engine.VerifyBackoff,
		},
		DashboardConcurrency: cfg.Engine.DashboardConcurrency,
		Events:               events,
		Metrics:              metrics,
		AppName:              cfg.AppName,
		Logger:               logger,
	})

	if scenario != "" {
		resp, err := handler.LoadScenarioByID(ctx, scenario, time.Now())
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"scenario":    scenario,
			"nodos":       resp.Nodos,
			"registradas": len(resp.Registradas),
			"rechazadas":  len(resp.Rechazadas),
		}).Info("scenario loaded")
	}

	routerOpts := api.RouterOptions{
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	}
	if cfg.Prometheus.Enabled {
		routerOpts.MetricsPath = cfg.Prometheus.Path
		routerOpts.Gatherer = reg
	}

	monitor := api.NewPeriodMonitor(handler.Calendar, events, metrics)
	monitor.Enabled = cfg.Monitor.Enabled
	monitor.CheckInterval = cfg.Monitor.Interval
	monitor.Start()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler, routerOpts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":   server.Addr,
			"driver": cfg.Database.Driver,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			monitor.Stop()
			return err
		}
	}

	logger.Info("shutting down server")
	monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("failed to flush traces")
	}

	logger.Info("server stopped")
	return nil
}
