package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/direction"
	"NetSpectraTables/internal/engine/manager"
	"NetSpectraTables/internal/engine/table"
	"NetSpectraTables/internal/factory"
	"NetSpectraTables/internal/geoexport"
	"NetSpectraTables/internal/geoip"
	"NetSpectraTables/internal/names"
	"NetSpectraTables/internal/probe"
	"NetSpectraTables/pkg/logger"
	"NetSpectraTables/pkg/pcap"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML config. Defaults are used when empty.")
	mapPath := flag.String("map", "", "Write the endpoint map of -map-table here (.html, .json or .geojson).")
	mapTable := flag.String("map-table", "ipv4", "Table whose endpoints are mapped.")
	sortKey := flag.String("sort", "", "Sort column key, e.g. bytes, packets, start, duration.")
	desc := flag.Bool("desc", true, "Sort descending.")
	limit := flag.Int("limit", -1, "Rows printed per table; 0 prints all. Overrides display.limit.")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <path_to_pcap_file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	pcapFilePath := flag.Arg(0)

	// 1. Load configuration
	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *sortKey != "" {
		cfg.Display.SortColumn = *sortKey
	}
	cfg.Display.SortDescending = *desc
	if *limit >= 0 {
		cfg.Display.Limit = *limit
	}
	if *mapPath != "" {
		cfg.Export.MapPath = *mapPath
	}

	sugar, err := logger.New(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer sugar.Sync()

	if err := run(cfg, pcapFilePath, *mapPath != "", *mapTable, sugar); err != nil {
		sugar.Fatalw("analysis failed", "error", err)
	}
}

func run(cfg *config.Config, pcapFilePath string, writeMap bool, mapTable string, sugar *zap.SugaredLogger) error {
	// 2. Initialize modules
	resolver, err := names.Open(cfg.Names, sugar)
	if err != nil {
		return err
	}
	opts := manager.Options{
		Table: table.Options{
			Debug:      cfg.Debug,
			Resolver:   resolver,
			Directions: direction.NewTable(),
			Filters:    direction.DisplayFilterBuilder{},
			Logger:     sugar,
		},
		Writers: factory.CreateWriters(cfg, sugar),
	}
	if cfg.GeoIP.Enabled {
		geo, err := geoip.Open(cfg.GeoIP, sugar)
		if err != nil {
			return err
		}
		defer geo.Close()
		opts.Table.Geo = geo
	}
	if cfg.Probe.Enabled {
		pub, err := probe.NewPublisher(cfg.Probe, sugar)
		if err != nil {
			return err
		}
		defer pub.Close()
		opts.Sink = pub
	}

	m, err := manager.NewManager(cfg, opts)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}
	if pub, ok := opts.Sink.(*probe.Publisher); ok {
		err := pub.OnResync(func(table string) {
			if err := m.Resync(table); err != nil {
				sugar.Warnw("failed to resync table", "table", table, "error", err)
			}
		})
		if err != nil {
			return err
		}
	}

	reader, err := pcap.NewReader(pcapFilePath, sugar)
	if err != nil {
		return err
	}
	defer reader.Close()
	sugar.Infow("reading packets", "file", pcapFilePath, "link_type", reader.LinkType())

	// 3. Start the processing pipeline
	m.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Read packets and feed them to the manager
	_, readErr := reader.ReadPackets(ctx, m.InputChannel())

	// 5. Graceful shutdown draws the remaining packets
	m.Stop()
	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		return readErr
	}

	// 6. Print the tables
	p, err := newPrinter(os.Stdout, cfg.Display, resolver)
	if err != nil {
		return err
	}
	for _, set := range m.Tables() {
		if err := p.printSet(set); err != nil {
			return err
		}
	}

	if writeMap {
		return saveMap(cfg, m, mapTable, sugar)
	}
	return nil
}

func saveMap(cfg *config.Config, m *manager.Manager, name string, sugar *zap.SugaredLogger) error {
	set, err := m.Table(name)
	if err != nil {
		return err
	}
	x, err := geoexport.NewExporterFromConfig(cfg.Export, sugar)
	if err != nil {
		return err
	}
	n, err := set.Endpoints.SaveMap(cfg.Export.MapPath, x)
	if errors.Is(err, geoexport.ErrNothingToMap) {
		sugar.Infow("no geolocated endpoints, map not written", "table", name)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d endpoints to %s\n", n, cfg.Export.MapPath)
	return nil
}
