package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"NetSpectraTables/internal/api"
	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/direction"
	"NetSpectraTables/internal/display"
	"NetSpectraTables/internal/engine/manager"
	"NetSpectraTables/internal/engine/table"
	"NetSpectraTables/internal/factory"
	"NetSpectraTables/internal/geoexport"
	"NetSpectraTables/internal/geoip"
	"NetSpectraTables/internal/monitoring"
	"NetSpectraTables/internal/names"
	"NetSpectraTables/internal/probe"
	"NetSpectraTables/internal/query"
	"NetSpectraTables/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML config.")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	sugar, err := logger.New(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer sugar.Sync()

	resolver, err := names.Open(cfg.Names, sugar)
	if err != nil {
		sugar.Fatalw("failed to load name tables", "error", err)
	}
	tableOpts := table.Options{
		Debug:      cfg.Debug,
		Resolver:   resolver,
		Directions: direction.NewTable(),
		Filters:    direction.DisplayFilterBuilder{},
		Collector:  monitoring.NewCollector(prometheus.DefaultRegisterer),
		Logger:     sugar,
	}
	if cfg.GeoIP.Enabled {
		geo, err := geoip.Open(cfg.GeoIP, sugar)
		if err != nil {
			sugar.Fatalw("failed to open geoip databases", "error", err)
		}
		defer geo.Close()
		tableOpts.Geo = geo
	}

	m, err := manager.NewManager(cfg, manager.Options{
		Table:   tableOpts,
		Writers: factory.CreateWriters(cfg, sugar),
	})
	if err != nil {
		sugar.Fatalw("failed to create manager", "error", err)
	}
	m.Start()

	// Tables are fed by the probes
	sub, err := probe.NewSubscriber(cfg.Probe, sugar)
	if err != nil {
		sugar.Fatalw("failed to create subscriber", "error", err)
	}
	err = sub.Start(func(env *probe.Envelope) error {
		return m.Apply(env.Table, env.Reset, env.Conversations, env.Endpoints)
	})
	if err != nil {
		sugar.Fatalw("subscriber failed to start", "error", err)
	}

	var querier query.Querier
	if cfg.ClickHouse.Enabled {
		querier, err = query.NewClickHouseQuerier(cfg.ClickHouse)
		if err != nil {
			sugar.Warnw("snapshot history disabled", "error", err)
			querier = nil
		}
	}

	exporter, err := geoexport.NewExporterFromConfig(cfg.Export, sugar)
	if err != nil {
		sugar.Fatalw("failed to create map exporter", "error", err)
	}

	// Initialize router
	r := api.NewRouter(m, api.Options{
		Formatter:         display.NewFormatter(cfg.Display, tableOpts.Resolver),
		Exporter:          exporter,
		Querier:           querier,
		Gatherer:          prometheus.DefaultGatherer,
		MetricsPath:       cfg.API.MetricsPath,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
		Logger:            sugar,
	})

	// Start HTTP server
	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: r,
	}

	go func() {
		sugar.Infow("API server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("could not listen", "addr", server.Addr, "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Infow("API server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		sugar.Errorw("server forced to shutdown", "error", err)
	}
	sub.Close()
	m.Stop()
	sugar.Infow("API server exited")
}
