package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MisterPeModder/SensorSensei/internal/logging"
	"github.com/MisterPeModder/SensorSensei/internal/node"
	"github.com/MisterPeModder/SensorSensei/internal/radio"
	"github.com/MisterPeModder/SensorSensei/internal/sign"
)

func setupLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	l := logging.New(format, lvl, os.Stderr).With("app", "sensor-node")
	logging.Set(l)
	return l
}

func openTransport(ctx context.Context, cfg *appConfig) (radio.Transport, error) {
	switch cfg.backend {
	case "serial":
		sp, err := radio.Open(cfg.serialDev, cfg.baud, cfg.serialReadTO)
		if err != nil {
			return nil, fmt.Errorf("open serial: %w", err)
		}
		return radio.NewSerial(ctx, sp, 16, 16), nil
	case "udp":
		return radio.DialUDP(ctx, cfg.udpAddr, 16)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.backend)
	}
}

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("sensor-node %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case s := <-sig:
			l.Info("signal", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	trans, err := openTransport(ctx, cfg)
	if err != nil {
		l.Error("radio_init_error", "error", err)
		os.Exit(1)
	}
	defer func() { _ = trans.Close() }()

	n := node.New(node.Config{
		Signer:      sign.New([]byte(cfg.key)),
		Transport:   trans,
		Fingerprint: []byte(cfg.fingerprint),
		MaxPayload:  cfg.maxPayload,
		AckTimeout:  cfg.ackTimeout,
		AskTimeout:  cfg.askTimeout,
	})

	if err := run(ctx, cfg, n, l); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("node_error", "error", err)
		os.Exit(1)
	}
	l.Info("shutdown_complete")
}

// run drives the connect/report loop. A reset from the gateway triggers a
// fresh enrollment and handshake; unsent readings are dropped.
func run(ctx context.Context, cfg *appConfig, n *node.Node, l *slog.Logger) error {
	if err := n.Connect(ctx); err != nil {
		return err
	}
	l.Info("connected", "id", n.ID())

	sampler := newSampler()
	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		values := sampler.sample(n.Offset(time.Now()))
		err := n.Report(ctx, values)
		switch {
		case err == nil:
			l.Debug("reported", "values", len(values))
		case errors.Is(err, node.ErrReset):
			l.Warn("connection_reset")
			if err := n.Connect(ctx); err != nil {
				return err
			}
			l.Info("reconnected", "id", n.ID())
		case errors.Is(err, node.ErrTimedOut):
			l.Warn("report_timeout", "values", len(values))
		default:
			return err
		}
	}
}
