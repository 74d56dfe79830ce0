package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	backend      string
	serialDev    string
	baud         int
	serialReadTO time.Duration
	udpAddr      string

	key         string
	fingerprint string
	maxPayload  int
	interval    time.Duration
	ackTimeout  time.Duration
	askTimeout  time.Duration

	logFormat string
	logLevel  string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	flag.StringVar(&cfg.backend, "backend", "serial", "Radio backend: serial|udp")
	flag.StringVar(&cfg.serialDev, "serial", "/dev/ttyUSB0", "LoRa modem serial device path")
	flag.IntVar(&cfg.baud, "baud", 115200, "Serial baud rate")
	flag.DurationVar(&cfg.serialReadTO, "serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	flag.StringVar(&cfg.udpAddr, "udp-addr", "", "Gateway UDP address (when --backend=udp)")
	flag.StringVar(&cfg.key, "key", "", "Shared network signing key (required)")
	flag.StringVar(&cfg.fingerprint, "fingerprint", "", "Stable board fingerprint (required)")
	flag.IntVar(&cfg.maxPayload, "max-payload", 64, "Application bytes per link frame")
	flag.DurationVar(&cfg.interval, "interval", 30*time.Second, "Sampling interval")
	flag.DurationVar(&cfg.ackTimeout, "ack-timeout", 10*time.Second, "Wait for handshake/ack replies")
	flag.DurationVar(&cfg.askTimeout, "ask-timeout", 5*time.Second, "Wait per enrollment attempt")
	flag.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func (c *appConfig) validate() error {
	switch c.backend {
	case "serial":
	case "udp":
		if c.udpAddr == "" {
			return errors.New("udp-addr must be set with --backend=udp")
		}
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.key == "" {
		return errors.New("key must be set")
	}
	if c.fingerprint == "" {
		return errors.New("fingerprint must be set")
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return errors.New("serial-read-timeout must be > 0")
	}
	if c.maxPayload <= 0 {
		return fmt.Errorf("max-payload must be > 0 (got %d)", c.maxPayload)
	}
	if c.interval <= 0 {
		return errors.New("interval must be > 0")
	}
	return nil
}

// applyEnvOverrides maps SENSOR_NODE_* environment variables to config
// fields unless a corresponding flag was explicitly set. Empty values are
// ignored.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	num := func(flagName, env string, dst *int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}

	str("backend", "SENSOR_NODE_BACKEND", &c.backend)
	str("serial", "SENSOR_NODE_SERIAL", &c.serialDev)
	num("baud", "SENSOR_NODE_BAUD", &c.baud)
	dur("serial-read-timeout", "SENSOR_NODE_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("udp-addr", "SENSOR_NODE_UDP_ADDR", &c.udpAddr)
	str("key", "SENSOR_NODE_KEY", &c.key)
	str("fingerprint", "SENSOR_NODE_FINGERPRINT", &c.fingerprint)
	num("max-payload", "SENSOR_NODE_MAX_PAYLOAD", &c.maxPayload)
	dur("interval", "SENSOR_NODE_INTERVAL", &c.interval)
	dur("ack-timeout", "SENSOR_NODE_ACK_TIMEOUT", &c.ackTimeout)
	dur("ask-timeout", "SENSOR_NODE_ASK_TIMEOUT", &c.askTimeout)
	str("log-format", "SENSOR_NODE_LOG_FORMAT", &c.logFormat)
	str("log-level", "SENSOR_NODE_LOG_LEVEL", &c.logLevel)
	return firstErr
}
