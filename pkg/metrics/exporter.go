package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/psantana5/kappa-rpc/pkg/models"
)

const namespace = "kapparpc"

// Exporter records orchestration metrics on a private registry and serves
// them in the Prometheus text format
type Exporter struct {
	registry  *promclient.Registry
	startTime time.Time

	attempts        *promclient.CounterVec
	attemptDuration *promclient.HistogramVec
	runs            *promclient.CounterVec
	runDuration     promclient.Histogram
	outputBytes     promclient.Histogram
	rpcRequests     *promclient.CounterVec
}

// NewExporter creates an exporter with all collectors registered
func NewExporter() *Exporter {
	e := &Exporter{
		registry:  promclient.NewRegistry(),
		startTime: time.Now(),
		attempts: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "backend_attempts_total",
			Help:      "Backend attempts by backend and outcome",
		}, []string{"backend", "outcome"}),
		attemptDuration: promclient.NewHistogramVec(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_attempt_duration_seconds",
			Help:      "Wall-clock duration of backend attempts",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"backend"}),
		runs: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "simulations_total",
			Help:      "Simulation calls by final backend and outcome",
		}, []string{"backend", "outcome"}),
		runDuration: promclient.NewHistogram(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "simulation_duration_seconds",
			Help:      "Wall-clock duration of simulation calls including fallbacks",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		outputBytes: promclient.NewHistogram(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "simulation_output_bytes",
			Help:      "Size of the CSV output returned to callers",
			Buckets:   promclient.ExponentialBuckets(256, 4, 8),
		}),
		rpcRequests: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "RPC requests by method and status",
		}, []string{"method", "status"}),
	}

	uptime := promclient.NewGaugeFunc(promclient.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since the server started",
	}, func() float64 { return time.Since(e.startTime).Seconds() })

	e.registry.MustRegister(
		e.attempts,
		e.attemptDuration,
		e.runs,
		e.runDuration,
		e.outputBytes,
		e.rpcRequests,
		uptime,
		promclient.NewGoCollector(),
	)
	return e
}

// Registry exposes the underlying registry (tests and extra collectors)
func (e *Exporter) Registry() *promclient.Registry {
	return e.registry
}

// RecordAttempt records one backend attempt
func (e *Exporter) RecordAttempt(backend string, kind models.OutcomeKind, d time.Duration) {
	e.attempts.WithLabelValues(backend, string(kind)).Inc()
	e.attemptDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordRun records a finished simulation call
func (e *Exporter) RecordRun(record models.RunRecord) {
	backend := record.Backend
	if backend == "" {
		backend = "none"
	}
	e.runs.WithLabelValues(backend, string(record.Outcome)).Inc()
	e.runDuration.Observe(record.Duration.Seconds())
	if record.Outcome == models.OutcomeSuccess {
		e.outputBytes.Observe(float64(record.OutputBytes))
	}
}

// RecordRPC counts one RPC request; status is "ok" or a JSON-RPC error name
func (e *Exporter) RecordRPC(method, status string) {
	e.rpcRequests.WithLabelValues(method, status).Inc()
}

// ServeHTTP serves Prometheus-compatible metrics at /metrics
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	families, err := e.registry.Gather()
	if err != nil {
		http.Error(w, fmt.Sprintf("Error gathering metrics: %v", err), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			fmt.Fprintf(&buf, "# Error encoding metric %s: %v\n", mf.GetName(), err)
		}
	}

	w.Header().Set("Content-Type", string(expfmt.FmtText))
	w.Write(buf.Bytes())
}
