// Command localmoneyd runs the P2P trade engine behind its JSON-RPC API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"localmoney/config"
	"localmoney/crypto"
	"localmoney/observability/logging"
	"localmoney/observability/otel"
	"localmoney/storage/eventlog"
)

const serviceName = "localmoneyd"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	exportPath := flag.String("export-events", "", "Write the event journal to this parquet file and exit")
	exportTrade := flag.Uint64("export-trade", 0, "Restrict -export-events to a single trade id")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if *exportPath != "" {
		err = export(ctx, *configFile, *exportPath, *exportTrade)
	} else {
		err = run(ctx, *configFile)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.Setup(serviceName, cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.ResolvePath(cfg.Logging.File),
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	shutdownTracing, err := otel.Init(ctx, otel.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     otel.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	passphrase, err := operatorPassphrase(cfg.OperatorPassphrase, os.Stdin, os.Stderr)
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(cfg.OperatorKeystore, passphrase)
	if err != nil {
		return fmt.Errorf("load operator keystore: %w", err)
	}

	d, err := newDaemon(cfg, key, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	logger.Info("localmoneyd started",
		slog.String("listen", cfg.ListenAddress),
		slog.String("system", crypto.FormatAddress(d.system)))
	return d.Run(ctx)
}

// export dumps the event journal to a parquet file without starting the node.
func export(ctx context.Context, configPath, outPath string, tradeID uint64) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	journal, err := eventlog.Open(cfg.ResolvePath(cfg.Events.Path))
	if err != nil {
		return fmt.Errorf("open event journal: %w", err)
	}
	defer journal.Close()

	written, err := journal.ExportParquet(ctx, outPath, eventlog.Query{TradeID: tradeID})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "exported %d events to %s\n", written, outPath)
	return nil
}
