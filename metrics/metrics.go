// Package metrics exposes Prometheus instrumentation for the provisioning
// agent on a dedicated listen address, separate from the API server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "provisioning_agent"

var (
	// InstallsStarted counts install attempts that passed the gate and
	// transitioned a module to installing.
	InstallsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "installs_started_total",
		Help:      "Install attempts that were admitted and started.",
	}, []string{"module"})

	// InstallOutcomes counts finished install attempts by terminal status.
	InstallOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "install_outcomes_total",
		Help:      "Finished install attempts by terminal status.",
	}, []string{"module", "status"})

	// InstallsDenied counts install requests the gate or the per-module lock
	// turned away.
	InstallsDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "installs_denied_total",
		Help:      "Install requests denied by the installability gate.",
	}, []string{"module"})

	// EnrollmentPolls counts status polls against the approval service.
	EnrollmentPolls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrollment_polls_total",
		Help:      "Status polls issued while waiting for enrollment approval.",
	})

	// EnrollmentPollErrors counts transport or server errors absorbed by the
	// approval polling loop.
	EnrollmentPollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrollment_poll_errors_total",
		Help:      "Transport and server errors absorbed by the approval polling loop.",
	})
)

// MetricsServer serves the Prometheus scrape endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on listenAddr. The name is kept for
// the /healthz payload so scrapes and probes can tell services apart.
func New(name, listenAddr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"service":"` + name + `"}`))
	})

	return &MetricsServer{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving the scrape endpoint until Shutdown.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
