package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/medivault/medivault/pkg/broadcast"
	"github.com/medivault/medivault/pkg/config"
	"github.com/medivault/medivault/pkg/gate"
	"github.com/medivault/medivault/pkg/metrics"
	"github.com/medivault/medivault/pkg/noise"
	"github.com/medivault/medivault/pkg/server"
	"github.com/medivault/medivault/pkg/session"
	"github.com/medivault/medivault/pkg/telemetry"
	"github.com/medivault/medivault/pkg/vault"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (optional)")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	src := noise.NewSource()
	hub := broadcast.NewHub()

	engine := session.NewEngine(session.Config{
		TransmitDelay: cfg.Quantum.TransmitDelay,
		MeasureDelay:  cfg.Quantum.MeasureDelay,
		KeyBits:       cfg.Quantum.KeyBits,
	}, src, hub)

	feed, err := telemetry.NewFeed(telemetry.FeedConfig{
		Interval:      cfg.Telemetry.Interval,
		Window:        cfg.Telemetry.Window,
		Sink:          cfg.Telemetry.Sink,
		FilePath:      cfg.Telemetry.FilePath,
		BatchSize:     cfg.Telemetry.BatchSize,
		FlushInterval: cfg.Telemetry.FlushInterval,
	}, src)
	if err != nil {
		slog.Error("failed to start telemetry feed", "error", err)
		os.Exit(1)
	}
	defer feed.Close()

	store, err := vault.Open(cfg.Vault)
	if err != nil {
		slog.Error("failed to open vault", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	audit := gate.NewAuditLog(10000, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	metrics.RegisterHealthCheck("vault_index", func() error {
		_, err := store.List()
		return err
	})

	metricsStop := make(chan struct{})
	if cfg.Metrics.MetricsEnabled() {
		go func() {
			if err := metrics.MetricsServer(cfg.Metrics.Addr, metricsStop); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
		slog.Info("metrics server started", "addr", cfg.Metrics.Addr)
	} else {
		slog.Info("metrics server disabled")
	}
	defer close(metricsStop)

	srv := server.New(cfg, engine, hub, feed, store, audit)

	slog.Info("starting medivault backend",
		"addr", cfg.Server.Addr,
		"vault_backend", cfg.Vault.Backend,
		"key_bits", cfg.Quantum.KeyBits,
	)

	if err := srv.Run(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	// Let any in-flight exchange publish its final state before exit.
	engine.Wait()

	slog.Info("medivault backend stopped cleanly")
}
