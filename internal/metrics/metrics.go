package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds the daemon's Prometheus collectors.
type Metrics struct {
	Connections    prometheus.Counter
	Requests       *prometheus.CounterVec
	EntriesWritten prometheus.Counter
	StorageErrors  *prometheus.CounterVec
	DeviceFailures prometheus.Counter
	TriggerActions *prometheus.CounterVec
	TriggerReloads *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpiweatherd",
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the query listener.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpiweatherd",
			Name:      "requests_total",
			Help:      "Query requests by command and outcome.",
		}, []string{"command", "status"}),
		EntriesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpiweatherd",
			Name:      "entries_written_total",
			Help:      "Readings persisted by the storage worker.",
		}),
		StorageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpiweatherd",
			Name:      "storage_errors_total",
			Help:      "Failed storage operations by kind.",
		}, []string{"kind"}),
		DeviceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpiweatherd",
			Name:      "device_query_failures_total",
			Help:      "Failed sensor query attempts.",
		}),
		TriggerActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpiweatherd",
			Name:      "trigger_actions_total",
			Help:      "Trigger actions by kind and result.",
		}, []string{"action", "result"}),
		TriggerReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpiweatherd",
			Name:      "trigger_reloads_total",
			Help:      "Trigger file loads by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Requests, m.EntriesWritten, m.StorageErrors,
			m.DeviceFailures, m.TriggerActions, m.TriggerReloads)
	}
	return m
}

// Serve exposes g on addr under /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Infof("metrics listening on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
