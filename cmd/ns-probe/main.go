package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/engine/manager"
	"NetSpectraTables/internal/engine/table"
	"NetSpectraTables/internal/probe"
	"NetSpectraTables/pkg/logger"
	"NetSpectraTables/pkg/pcap/live"

	"go.uber.org/zap"
)

func main() {
	// --- Command-Line Flag Parsing ---
	mode := flag.String("mode", "pub", "Operating mode: 'pub' to capture and publish table batches, 'sub' to subscribe and print them.")
	iface := flag.String("iface", "", "Interface to capture packets from (required for pub mode).")
	bpf := flag.String("filter", "", "Optional BPF capture filter.")
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML config.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	sugar, err := logger.New(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer sugar.Sync()

	// --- Mode Dispatch ---
	switch *mode {
	case "pub":
		err = runProbe(cfg, *iface, *bpf, sugar)
	case "sub":
		err = runSubscriber(cfg, sugar)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		sugar.Fatalw("ns-probe failed", "mode", *mode, "error", err)
	}
}

// runProbe captures packets, aggregates them into the configured tables and
// publishes every redraw to NATS. SIGHUP resets the tables.
func runProbe(cfg *config.Config, iface, bpf string, sugar *zap.SugaredLogger) error {
	if iface == "" {
		flag.Usage()
		return fmt.Errorf("-iface is required for pub mode")
	}
	sugar.Infow("starting ns-probe in probe mode", "iface", iface, "filter", bpf)

	pub, err := probe.NewPublisher(cfg.Probe, sugar)
	if err != nil {
		return err
	}
	defer pub.Close()

	m, err := manager.NewManager(cfg, manager.Options{
		Table: table.Options{Debug: cfg.Debug, Logger: sugar},
		Sink:  pub,
	})
	if err != nil {
		return err
	}

	err = pub.OnResync(func(table string) {
		if err := m.Resync(table); err != nil {
			sugar.Warnw("failed to resync table", "table", table, "error", err)
		}
	})
	if err != nil {
		return err
	}

	reader, err := live.Open(iface, bpf, sugar)
	if err != nil {
		return err
	}

	m.Start()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := reader.ReadPackets(ctx, m.InputChannel())
		sugar.Infow("capture stopped", "packets", n, "error", err)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			m.Reset()
			continue
		}
		break
	}

	sugar.Infow("shutdown signal received, cleaning up")
	cancel()
	// Closing the handle unblocks the capture loop.
	reader.Close()
	<-done
	m.Stop()
	return nil
}

// runSubscriber prints a line per received envelope.
func runSubscriber(cfg *config.Config, sugar *zap.SugaredLogger) error {
	sugar.Infow("starting ns-probe in subscriber mode")

	sub, err := probe.NewSubscriber(cfg.Probe, sugar)
	if err != nil {
		return err
	}
	defer sub.Close()

	handler := func(env *probe.Envelope) error {
		fmt.Printf("%s #%d probe=%s reset=%t conversations +%d ~%d endpoints +%d ~%d\n",
			env.Table, env.Seq, env.Probe, env.Reset,
			len(env.Conversations.Appended), len(env.Conversations.Updated),
			len(env.Endpoints.Appended), len(env.Endpoints.Updated))
		return nil
	}
	if err := sub.Start(handler); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	sugar.Infow("shutdown signal received, cleaning up")
	return nil
}
