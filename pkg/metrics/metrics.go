package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session engine metrics
	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medivault_sessions_started_total",
		Help: "Key-exchange sessions started, by adversary simulation mode",
	}, []string{"adversary"})
	SessionsSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medivault_sessions_superseded_total",
		Help: "Completed sessions discarded by a newer session start",
	})
	SessionBusyRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medivault_session_busy_rejections_total",
		Help: "Start requests rejected while an exchange was in flight",
	})
	SessionQBER = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "medivault_session_qber_percent",
		Help:    "QBER measured at session completion",
		Buckets: []float64{1, 2.5, 5, 10, 15, 25, 50, 100},
	})

	// Access gate metrics
	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medivault_gate_decisions_total",
		Help: "Server-side access gate decisions by operation and reason",
	}, []string{"operation", "reason"})

	// Transport metrics
	ObserversConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "medivault_ws_observers",
		Help: "Currently connected WebSocket observers",
	})
	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medivault_broadcast_drops_total",
		Help: "Session events dropped for slow or dead observers",
	})

	// Vault metrics
	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medivault_upload_bytes_total",
		Help: "Total bytes accepted through /upload",
	})
	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medivault_download_bytes_total",
		Help: "Total bytes served through /download",
	})
	VaultErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medivault_vault_errors_total",
		Help: "Vault errors by operation",
	}, []string{"operation"})

	// Telemetry feed metrics
	TelemetrySamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medivault_telemetry_samples_total",
		Help: "Noise samples produced by the telemetry feed",
	})
)

func init() {
	// Pre-initialize Vec metrics so they appear in /metrics output before first use.
	SessionsStarted.WithLabelValues("true")
	SessionsStarted.WithLabelValues("false")
	GateDecisions.WithLabelValues("upload", "allowed")
	GateDecisions.WithLabelValues("upload", "no_key")
	GateDecisions.WithLabelValues("upload", "eavesdropper_suspected")
	GateDecisions.WithLabelValues("download", "allowed")
	GateDecisions.WithLabelValues("download", "no_key")
	GateDecisions.WithLabelValues("download", "eavesdropper_suspected")
	VaultErrors.WithLabelValues("store")
	VaultErrors.WithLabelValues("retrieve")
	VaultErrors.WithLabelValues("list")
	VaultErrors.WithLabelValues("reindex")
}

// HealthCheck holds a single health check function.
type HealthCheck struct {
	Name  string
	Check func() error
}

// HealthStatus represents the health response.
type HealthStatus struct {
	Status string            `json:"status"` // "ok" or "degraded"
	Checks map[string]string `json:"checks"`
}

// healthChecker holds registered health checks.
type healthChecker struct {
	mu     sync.RWMutex
	checks []HealthCheck
}

var defaultHealthChecker = &healthChecker{}

// RegisterHealthCheck adds a health check.
func RegisterHealthCheck(name string, check func() error) {
	defaultHealthChecker.mu.Lock()
	defer defaultHealthChecker.mu.Unlock()
	defaultHealthChecker.checks = append(defaultHealthChecker.checks, HealthCheck{
		Name:  name,
		Check: check,
	})
}

// runChecks runs all registered health checks.
func runChecks() HealthStatus {
	defaultHealthChecker.mu.RLock()
	checks := make([]HealthCheck, len(defaultHealthChecker.checks))
	copy(checks, defaultHealthChecker.checks)
	defaultHealthChecker.mu.RUnlock()

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]string),
	}

	for _, hc := range checks {
		if err := hc.Check(); err != nil {
			status.Status = "degraded"
			status.Checks[hc.Name] = err.Error()
		} else {
			status.Checks[hc.Name] = "ok"
		}
	}
	return status
}

// HealthzHandler handles GET /healthz requests.
func HealthzHandler(w http.ResponseWriter, r *http.Request) {
	status := runChecks()
	w.Header().Set("Content-Type", "application/json")
	if status.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// MetricsServer starts an HTTP server for /metrics and /healthz on the given addr.
// It blocks until the provided stop channel is closed, then shuts down gracefully.
func MetricsServer(addr string, stop <-chan struct{}) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", HealthzHandler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-stop:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	case err := <-errCh:
		return err
	}
}
