// Package main runs the orchestrator server: pull and push service
// orchestration, the priority store management API and the job ledger.
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

	"github.com/arrowhead-lite/orchestrator/internal/app"
	"github.com/arrowhead-lite/orchestrator/internal/app/storage/postgres"
	"github.com/arrowhead-lite/orchestrator/internal/config"
	"github.com/arrowhead-lite/orchestrator/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the yaml configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("orchestrator").WithError(err).Error("configuration invalid")
		os.Exit(1)
	}

	log := logger.New("orchestrator", cfg.LogLevel)

	var stores app.Stores
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Error("postgres connection failed")
			os.Exit(1)
		}
		defer pg.Close()
		stores = app.Stores{Entries: pg, Subscriptions: pg, Jobs: pg}
		log.Info("using postgres storage")
	} else {
		log.Warn("database_url not set; using in-memory storage")
	}

	application, err := app.New(cfg, stores, log)
	if err != nil {
		log.WithError(err).Error("application init failed")
		os.Exit(1)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("application start failed")
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           application.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("address", cfg.ListenAddress).Info("orchestrator listening")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown incomplete")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service shutdown incomplete")
	}
	log.Info("orchestrator stopped")
}
