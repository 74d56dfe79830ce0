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
	udpListen    string

	key        string
	maxPayload int
	tablePath  string

	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration

	mdnsEnable bool
	mdnsName   string

	scEnable   bool
	scURL      string
	scSensorID string

	influxURL    string
	influxOrg    string
	influxBucket string
	influxToken  string

	exportBatch   int
	exportTimeout time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	backend := flag.String("backend", "serial", "Radio backend: serial|udp")
	serialDev := flag.String("serial", "/dev/ttyUSB0", "LoRa modem serial device path")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	udpListen := flag.String("udp-listen", ":17500", "UDP listen address (when --backend=udp)")
	key := flag.String("key", "", "Shared network signing key (required)")
	maxPayload := flag.Int("max-payload", 64, "Application bytes per link frame")
	tablePath := flag.String("table-path", "", "Enrollment table file; empty keeps it in memory only")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	hubBuf := flag.Int("hub-buffer", 512, "Per-consumer hub buffer (points)")
	hubPolicy := flag.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement (udp backend only)")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default lora-gateway-<hostname>)")
	scEnable := flag.Bool("sc-enable", false, "Export readings to sensor.community")
	scURL := flag.String("sc-url", "", "sensor.community push URL (default public API)")
	scSensorID := flag.String("sc-sensor-id", "", "sensor.community station id")
	influxURL := flag.String("influx-url", "", "InfluxDB v2 base URL; empty disables")
	influxOrg := flag.String("influx-org", "", "InfluxDB organization")
	influxBucket := flag.String("influx-bucket", "", "InfluxDB bucket")
	influxToken := flag.String("influx-token", "", "InfluxDB API token")
	exportBatch := flag.Int("export-batch", 64, "Max points per export request")
	exportTimeout := flag.Duration("export-timeout", 10*time.Second, "Per export HTTP request timeout")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.backend = *backend
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO
	cfg.udpListen = *udpListen
	cfg.key = *key
	cfg.maxPayload = *maxPayload
	cfg.tablePath = *tablePath
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.scEnable = *scEnable
	cfg.scURL = *scURL
	cfg.scSensorID = *scSensorID
	cfg.influxURL = *influxURL
	cfg.influxOrg = *influxOrg
	cfg.influxBucket = *influxBucket
	cfg.influxToken = *influxToken
	cfg.exportBatch = *exportBatch
	cfg.exportTimeout = *exportTimeout

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

// validate performs semantic validation of the parsed configuration. It does
// not attempt to open devices or sockets, only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.backend {
	case "serial", "udp":
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
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.key == "" {
		return errors.New("key must be set")
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
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
	if c.exportBatch <= 0 {
		return fmt.Errorf("export-batch must be > 0 (got %d)", c.exportBatch)
	}
	if c.exportTimeout <= 0 {
		return errors.New("export-timeout must be > 0")
	}
	if c.scEnable && c.scSensorID == "" {
		return errors.New("sc-sensor-id must be set when sc-enable is on")
	}
	if c.influxURL != "" && (c.influxOrg == "" || c.influxBucket == "" || c.influxToken == "") {
		return errors.New("influx-org, influx-bucket and influx-token must be set with influx-url")
	}
	return nil
}

// applyEnvOverrides maps LORA_GATEWAY_* environment variables to config
// fields unless a corresponding flag was explicitly set. Empty values are
// ignored. Durations accept Go time.ParseDuration format.
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
	num := func(flagName, env string, dst *int, min int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= min {
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
	boolean := func(flagName, env string, dst *bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}

	str("backend", "LORA_GATEWAY_BACKEND", &c.backend)
	str("serial", "LORA_GATEWAY_SERIAL", &c.serialDev)
	num("baud", "LORA_GATEWAY_BAUD", &c.baud, 1)
	dur("serial-read-timeout", "LORA_GATEWAY_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("udp-listen", "LORA_GATEWAY_UDP_LISTEN", &c.udpListen)
	str("key", "LORA_GATEWAY_KEY", &c.key)
	num("max-payload", "LORA_GATEWAY_MAX_PAYLOAD", &c.maxPayload, 1)
	str("table-path", "LORA_GATEWAY_TABLE_PATH", &c.tablePath)
	str("log-format", "LORA_GATEWAY_LOG_FORMAT", &c.logFormat)
	str("log-level", "LORA_GATEWAY_LOG_LEVEL", &c.logLevel)
	num("hub-buffer", "LORA_GATEWAY_HUB_BUFFER", &c.hubBuffer, 1)
	str("hub-policy", "LORA_GATEWAY_HUB_POLICY", &c.hubPolicy)
	dur("log-metrics-interval", "LORA_GATEWAY_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	boolean("mdns-enable", "LORA_GATEWAY_MDNS_ENABLE", &c.mdnsEnable)
	str("mdns-name", "LORA_GATEWAY_MDNS_NAME", &c.mdnsName)
	boolean("sc-enable", "LORA_GATEWAY_SC_ENABLE", &c.scEnable)
	str("sc-url", "LORA_GATEWAY_SC_URL", &c.scURL)
	str("sc-sensor-id", "LORA_GATEWAY_SC_SENSOR_ID", &c.scSensorID)
	str("influx-url", "LORA_GATEWAY_INFLUX_URL", &c.influxURL)
	str("influx-org", "LORA_GATEWAY_INFLUX_ORG", &c.influxOrg)
	str("influx-bucket", "LORA_GATEWAY_INFLUX_BUCKET", &c.influxBucket)
	str("influx-token", "LORA_GATEWAY_INFLUX_TOKEN", &c.influxToken)
	num("export-batch", "LORA_GATEWAY_EXPORT_BATCH", &c.exportBatch, 1)
	dur("export-timeout", "LORA_GATEWAY_EXPORT_TIMEOUT", &c.exportTimeout)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("LORA_GATEWAY_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	return firstErr
}
