package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/project-steve/gs-bridge/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	UARTRxWords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_rx_words_total",
		Help: "Total instruction words reconstructed from the serial link.",
	})
	UARTRxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_rx_bytes_total",
		Help: "Total raw bytes read from the serial link.",
	})
	UARTTxWords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_tx_words_total",
		Help: "Total instruction words written to the serial link.",
	})
	FramingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uart_framing_errors_total",
		Help: "Inbound frames discarded during resynchronization, by reason.",
	}, []string{"reason"})
	CtlRxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctl_rx_messages_total",
		Help: "Total control-channel messages received from clients.",
	})
	CtlTxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctl_tx_messages_total",
		Help: "Total control-channel messages sent to clients.",
	})
	CtlDroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctl_dropped_messages_total",
		Help: "Total outbound control-channel messages dropped due to a slow client.",
	})
	CtlProtocolErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctl_protocol_errors_total",
		Help: "Total ERR responses returned for rejected commands.",
	})
	TelemetryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_dropped_total",
		Help: "Total telemetry words dropped because no client was connected.",
	})
	CtlActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ctl_active_clients",
		Help: "Current number of connected control-channel clients (0 or 1).",
	})
	CtlConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctl_connects_total",
		Help: "Total accepted control-channel connections.",
	})
	ModemSteps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modem_steps_total",
		Help: "Total modem command steps written.",
	})
	ModemScripts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modem_scripts_total",
		Help: "Modem command scripts started, by kind.",
	}, []string{"kind"})
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

// Framing error reason labels.
const (
	FrameSync     = "sync"
	FrameLength   = "length"
	FrameChecksum = "checksum"
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrCtlRead     = "ctl_read"
	ErrCtlWrite    = "ctl_write"
	ErrCtlOversize = "ctl_oversize"
	ErrSerialRead  = "serial_read"
	ErrSerialWrite = "serial_write"
	ErrSerialOver  = "serial_tx_overflow"
	ErrModemWrite  = "modem_write"
	ErrAccept      = "accept"
)

// Modem script kind labels.
const (
	ScriptConnect    = "connect"
	ScriptDisconnect = "disconnect"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
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

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localUARTRx    uint64
	localUARTTx    uint64
	localRxBytes   uint64
	localFraming   uint64
	localCtlRx     uint64
	localCtlTx     uint64
	localCtlDrop   uint64
	localProtoErr  uint64
	localTelemDrop uint64
	localConnects  uint64
	localClients   uint64
	localModemStep uint64
	localErrors    uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	UARTRx         uint64
	UARTTx         uint64
	RxBytes        uint64
	Framing        uint64
	CtlRx          uint64
	CtlTx          uint64
	CtlDrops       uint64
	ProtocolErrors uint64
	TelemetryDrops uint64
	Connects       uint64
	Clients        uint64
	ModemSteps     uint64
	Errors         uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		UARTRx:         atomic.LoadUint64(&localUARTRx),
		UARTTx:         atomic.LoadUint64(&localUARTTx),
		RxBytes:        atomic.LoadUint64(&localRxBytes),
		Framing:        atomic.LoadUint64(&localFraming),
		CtlRx:          atomic.LoadUint64(&localCtlRx),
		CtlTx:          atomic.LoadUint64(&localCtlTx),
		CtlDrops:       atomic.LoadUint64(&localCtlDrop),
		ProtocolErrors: atomic.LoadUint64(&localProtoErr),
		TelemetryDrops: atomic.LoadUint64(&localTelemDrop),
		Connects:       atomic.LoadUint64(&localConnects),
		Clients:        atomic.LoadUint64(&localClients),
		ModemSteps:     atomic.LoadUint64(&localModemStep),
		Errors:         atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncUARTRx() {
	UARTRxWords.Inc()
	atomic.AddUint64(&localUARTRx, 1)
}

func IncUARTTx() {
	UARTTxWords.Inc()
	atomic.AddUint64(&localUARTTx, 1)
}

func AddRxBytes(n int) {
	UARTRxBytes.Add(float64(n))
	atomic.AddUint64(&localRxBytes, uint64(n))
}

func IncFraming(reason string) {
	FramingErrors.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localFraming, 1)
}

func IncCtlRx() {
	CtlRxMessages.Inc()
	atomic.AddUint64(&localCtlRx, 1)
}

func IncCtlTx() {
	CtlTxMessages.Inc()
	atomic.AddUint64(&localCtlTx, 1)
}

func IncCtlDrop() {
	CtlDroppedMessages.Inc()
	atomic.AddUint64(&localCtlDrop, 1)
}

func IncProtocolError() {
	CtlProtocolErrors.Inc()
	atomic.AddUint64(&localProtoErr, 1)
}

func IncTelemetryDrop() {
	TelemetryDropped.Inc()
	atomic.AddUint64(&localTelemDrop, 1)
}

func IncConnect() {
	CtlConnects.Inc()
	atomic.AddUint64(&localConnects, 1)
}

func SetClients(n int) {
	CtlActiveClients.Set(float64(n))
	atomic.StoreUint64(&localClients, uint64(n))
}

func IncModemStep() {
	ModemSteps.Inc()
	atomic.AddUint64(&localModemStep, 1)
}

func IncModemScript(kind string) {
	ModemScripts.WithLabelValues(kind).Inc()
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrCtlRead, ErrCtlWrite, ErrCtlOversize,
		ErrSerialRead, ErrSerialWrite, ErrSerialOver,
		ErrModemWrite, ErrAccept,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, lbl := range []string{FrameSync, FrameLength, FrameChecksum} {
		FramingErrors.WithLabelValues(lbl).Add(0)
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

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
