package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/MisterPeModder/SensorSensei/internal/radio"
)

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = radio.Open

// initRadioBackend opens the configured radio transport. It returns the
// transport, the port to advertise over mDNS (0 when not applicable), and a
// cleanup function.
func initRadioBackend(ctx context.Context, cfg *appConfig, l *slog.Logger) (radio.Transport, int, func(), error) {
	switch cfg.backend {
	case "serial":
		sp, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
		if err != nil {
			return nil, 0, func() {}, fmt.Errorf("open serial: %w", err)
		}
		l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)
		s := radio.NewSerial(ctx, sp, txQueueSize, rxQueueSize)
		return s, 0, func() { _ = s.Close() }, nil
	case "udp":
		u, err := radio.ListenUDP(ctx, cfg.udpListen, rxQueueSize)
		if err != nil {
			return nil, 0, func() {}, fmt.Errorf("udp listen: %w", err)
		}
		port := 0
		if _, p, err := net.SplitHostPort(u.LocalAddr().String()); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				port = pn
			}
		}
		l.Info("udp_listen", "addr", u.LocalAddr().String())
		return u, port, func() { _ = u.Close() }, nil
	default:
		return nil, 0, func() {}, fmt.Errorf("unknown backend %q (use serial|udp)", cfg.backend)
	}
}
