// Package metrics serves the broker's counters in Prometheus text format on
// a dedicated listen address.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"
)

// MetricsServer exposes /metrics. Construct with New and start with
// ListenAndServe; a server built with an empty address refuses to start.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given package on addr. addr may be
// empty when metrics are disabled; ListenAndServe then errors.
func New(packageName, addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s\nmetrics: /metrics\n", packageName)
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		vmetrics.WritePrometheus(w, true)
	})

	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving metrics until Shutdown.
func (m *MetricsServer) ListenAndServe() error {
	if m.srv.Addr == "" {
		return fmt.Errorf("metrics server has no listen address")
	}
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
