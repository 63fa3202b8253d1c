package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitpay/config"
	"gitpay/forge"
	"gitpay/gateway"
	"gitpay/gateway/middleware"
	"gitpay/intake"
	"gitpay/ledger"
	"gitpay/observability/logging"
	"gitpay/payout"
	"gitpay/redeem"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("gitpayd", "").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("gitpayd", cfg.Environment)

	store, err := ledger.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("open ledger", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	forgeClient := forge.NewClient(cfg.Forge.APIBaseURL, cfg.Forge.Token)
	treasury := payout.NewRPCClient(cfg.Treasury.Endpoint, cfg.Treasury.AuthToken, cfg.Treasury.Timeout.Duration)

	obs := middleware.NewObservability(middleware.ObservabilityConfig{})
	coordinator := redeem.NewCoordinator(store, treasury,
		redeem.WithMetrics(redeem.NewMetrics(obs.Registry())),
		redeem.WithLogger(logger))

	gate := intake.NewGate(forgeClient, logger)
	pipeline := intake.New(gate, store, forgeClient, forgeClient, cfg.Denomination, logger)

	server := gateway.NewServer(gateway.Config{
		WebhookSecret:  cfg.Forge.WebhookSecret,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.HTTP.RequestsPerMinute,
			Burst:             cfg.HTTP.Burst,
		},
	}, store, coordinator, pipeline, forgeClient, treasury, obs, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gitpayd listening", "address", cfg.ListenAddress)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
