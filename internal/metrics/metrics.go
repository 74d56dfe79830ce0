package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/MisterPeModder/SensorSensei/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	LinkRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_rx_frames_total",
		Help: "Total link frames received from the radio.",
	})
	LinkTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_tx_frames_total",
		Help: "Total link frames transmitted over the radio.",
	})
	SignatureMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_signature_mismatch_total",
		Help: "Total link frames rejected due to a failed signature check.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (protocol violations, invalid length, truncated).",
	})
	AppRxPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "app_rx_packets_total",
		Help: "Total application packets decoded from reassembled streams.",
	})
	AppTxPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "app_tx_packets_total",
		Help: "Total application packets queued for transmission.",
	})
	Enrollments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enrollments_total",
		Help: "Total successful AskId/AssignId enrollments served by the gateway.",
	})
	EnrollmentEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_evictions_total",
		Help: "Total enrollments that reassigned the most recently issued id (table full).",
	})
	SensorValues = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensor_values_total",
		Help: "Total sensor values decoded from SensorData packets.",
	})
	HubDroppedPoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_points_total",
		Help: "Total sensor points dropped by hub due to slow subscribers.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total subscribers disconnected due to backpressure kick policy.",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of active hub subscribers.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrRadioRead   = "radio_read"
	ErrRadioWrite  = "radio_write"
	ErrRadioOver   = "radio_tx_overflow"
	ErrHandshake   = "handshake"
	ErrAppDecode   = "app_decode"
	ErrExport      = "export"
	ErrTablePerist = "table_persist"
)

// StartHTTP serves Prometheus metrics at /metrics plus a /ready probe.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local atomic mirrors so the periodic metrics logger can snapshot counters
// without scraping the Prometheus registry.
var (
	localLinkRx    uint64
	localLinkTx    uint64
	localSigFail   uint64
	localMalformed uint64
	localAppRx     uint64
	localAppTx     uint64
	localEnroll    uint64
	localEvict     uint64
	localValues    uint64
	localHubDrop   uint64
	localHubKick   uint64
	localHubSubs   uint64
	localErrors    uint64
)

type Snapshot struct {
	LinkRx        uint64
	LinkTx        uint64
	SigMismatches uint64
	Malformed     uint64
	AppRx         uint64
	AppTx         uint64
	Enrollments   uint64
	Evictions     uint64
	Values        uint64
	HubDrops      uint64
	HubKicks      uint64
	HubClients    uint64
	Errors        uint64
}

func Snap() Snapshot {
	return Snapshot{
		LinkRx:        atomic.LoadUint64(&localLinkRx),
		LinkTx:        atomic.LoadUint64(&localLinkTx),
		SigMismatches: atomic.LoadUint64(&localSigFail),
		Malformed:     atomic.LoadUint64(&localMalformed),
		AppRx:         atomic.LoadUint64(&localAppRx),
		AppTx:         atomic.LoadUint64(&localAppTx),
		Enrollments:   atomic.LoadUint64(&localEnroll),
		Evictions:     atomic.LoadUint64(&localEvict),
		Values:        atomic.LoadUint64(&localValues),
		HubDrops:      atomic.LoadUint64(&localHubDrop),
		HubKicks:      atomic.LoadUint64(&localHubKick),
		HubClients:    atomic.LoadUint64(&localHubSubs),
		Errors:        atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncLinkRx() {
	LinkRxFrames.Inc()
	atomic.AddUint64(&localLinkRx, 1)
}

func IncLinkTx() {
	LinkTxFrames.Inc()
	atomic.AddUint64(&localLinkTx, 1)
}

func IncSigMismatch() {
	SignatureMismatches.Inc()
	atomic.AddUint64(&localSigFail, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncAppRx() {
	AppRxPackets.Inc()
	atomic.AddUint64(&localAppRx, 1)
}

func IncAppTx() {
	AppTxPackets.Inc()
	atomic.AddUint64(&localAppTx, 1)
}

func IncEnrollment() {
	Enrollments.Inc()
	atomic.AddUint64(&localEnroll, 1)
}

func IncEviction() {
	EnrollmentEvictions.Inc()
	atomic.AddUint64(&localEvict, 1)
}

func AddSensorValues(n int) {
	SensorValues.Add(float64(n))
	atomic.AddUint64(&localValues, uint64(n))
}

func IncHubDrop() {
	HubDroppedPoints.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubSubs, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register error label series so the first error does not pay
	// registration latency.
	for _, lbl := range []string{
		ErrRadioRead, ErrRadioWrite, ErrRadioOver,
		ErrHandshake, ErrAppDecode, ErrExport, ErrTablePerist,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
