package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/MisterPeModder/SensorSensei/internal/export"
	"github.com/MisterPeModder/SensorSensei/internal/gateway"
	"github.com/MisterPeModder/SensorSensei/internal/link"
	"github.com/MisterPeModder/SensorSensei/internal/metrics"
	"github.com/MisterPeModder/SensorSensei/internal/sign"
)

// Helper implementations live in dedicated files: version.go, config.go,
// logger.go, hub_init.go, metrics_logger.go, backend.go, mdns.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("lora-gateway %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	var store link.Store
	if cfg.tablePath != "" {
		store = &link.FileStore{Path: cfg.tablePath}
	}
	table, err := link.NewTable(store)
	if err != nil {
		l.Error("table_init_error", "error", err)
		return
	}
	l.Info("enrollment_table", "persisted", cfg.tablePath != "", "records", table.Len())

	trans, advertisePort, cleanup, err := initRadioBackend(ctx, cfg, l)
	if err != nil {
		l.Error("radio_init_error", "error", err)
		return
	}

	gw := gateway.New(ctx, gateway.Config{
		Signer:     sign.New([]byte(cfg.key)),
		Transport:  trans,
		Table:      table,
		Hub:        h,
		MaxPayload: cfg.maxPayload,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gw.Run(ctx); err != nil {
			l.Error("gateway_error", "error", err)
			cancel()
		}
	}()

	if exporters := buildExporters(cfg); len(exporters) > 0 {
		runner := &export.Runner{Hub: h, Exporters: exporters, BatchSize: cfg.exportBatch}
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
		for _, ex := range exporters {
			l.Info("exporter_enabled", "exporter", ex.Name())
		}
	}

	if cfg.mdnsEnable {
		cleanupMDNS, err := startMDNS(ctx, cfg, advertisePort)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
		} else {
			l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", advertisePort)
			defer cleanupMDNS()
		}
	}

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	cancel()
	cleanup()
	wg.Wait()
}

// buildExporters assembles the configured export targets.
func buildExporters(cfg *appConfig) []export.Exporter {
	var out []export.Exporter
	if cfg.scEnable {
		out = append(out, export.NewSensorCommunity(cfg.scURL, cfg.scSensorID, cfg.exportTimeout))
	}
	if cfg.influxURL != "" {
		out = append(out, export.NewInfluxDB(export.InfluxConfig{
			URL:    cfg.influxURL,
			Org:    cfg.influxOrg,
			Bucket: cfg.influxBucket,
			Token:  cfg.influxToken,
		}, cfg.exportTimeout))
	}
	return out
}
