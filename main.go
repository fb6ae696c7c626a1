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

	"dispatch-route-server/config"
	"dispatch-route-server/dispatch"
	"dispatch-route-server/preprocessing"
	"dispatch-route-server/routing"
	"dispatch-route-server/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger format depends on the config, so fall back to defaults.
		config.NewLogger(false, config.LogFormatConsole).Sugar().Fatalf("Invalid configuration: %v", err)
	}

	rawLog := config.NewLogger(cfg.LogDebug, cfg.LogFormat)
	log := rawLog.Sugar()
	defer func() {
		_ = log.Sync()
	}()

	if !cfg.EnvFileLoaded {
		log.Info("No .env file found, using default environment variables")
	}

	seeds := dispatch.DefaultFacilities()
	if cfg.FacilitiesFile != "" {
		log.Infof("Loading facilities from %s...", cfg.FacilitiesFile)
		seeds, err = preprocessing.LoadFacilities(cfg.FacilitiesFile)
		if err != nil {
			log.Fatalf("Failed to load facilities: %v", err)
		}
	}
	log.Infof("Loaded %d facilities", len(seeds))

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	broker := dispatch.NewBroker()
	registry, err := dispatch.NewRegistry(seeds,
		dispatch.WithCapacity(cfg.Capacity),
		dispatch.WithNotifier(broker),
		dispatch.WithMetrics(dispatch.NewMetrics(promReg)),
		dispatch.WithLogger(log.Named("dispatch")),
	)
	if err != nil {
		log.Fatalf("Failed to build registry: %v", err)
	}

	osrm := routing.NewOSRMClient(cfg.OSRMURL)
	log.Infof("Rendering routes through OSRM at %s", osrm.BaseURL)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.New(registry, broker, osrm, promReg, log.Named("server")).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infof("Dispatch Route Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Graceful shutdown failed: %v", err)
	}
}
