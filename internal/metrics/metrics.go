// Package metrics exposes Prometheus counters for the watch daemon.
package metrics

import (
	"context"
	"net/http"
	"time"

	"downsort/internal/errors"
	"downsort/internal/log"
	"downsort/internal/organize"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry so several recorders can coexist in
// one process, as they do in tests.
type Recorder struct {
	registry *prometheus.Registry

	EventsTotal         *prometheus.CounterVec
	ActionFailuresTotal *prometheus.CounterVec
	EventRetriesTotal   prometheus.Counter
	HandleDuration      prometheus.Histogram
	RulesLoaded         prometheus.Gauge
}

// NewRecorder creates and registers the downsort metrics.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "downsort_events_total",
				Help: "Total number of file events handled, by outcome (count)",
			},
			[]string{"state"},
		),
		ActionFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "downsort_action_failures_total",
				Help: "Total number of failed actions (count)",
			},
			[]string{"action", "kind"},
		),
		EventRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "downsort_event_retries_total",
				Help: "Total number of times an event was handled again after a transient failure (count)",
			},
		),
		HandleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "downsort_handle_duration_seconds",
				Help:    "Time spent handling one event, retries included",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
		),
		RulesLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "downsort_rules_loaded",
				Help: "Number of rules in the active configuration (count)",
			},
		),
	}
	r.registry.MustRegister(
		r.EventsTotal,
		r.ActionFailuresTotal,
		r.EventRetriesTotal,
		r.HandleDuration,
		r.RulesLoaded,
	)
	return r
}

// Registry returns the registry the metrics are registered with.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveOutcome records the final outcome of one event.
func (r *Recorder) ObserveOutcome(out organize.Outcome, actions []organize.Action, elapsed time.Duration) {
	r.EventsTotal.WithLabelValues(out.State.String()).Inc()
	r.HandleDuration.Observe(elapsed.Seconds())
	if out.State != organize.Failed {
		return
	}
	action := "unknown"
	if out.ActionIndex >= 0 && out.ActionIndex < len(actions) {
		action = actions[out.ActionIndex].Name()
	}
	r.ActionFailuresTotal.WithLabelValues(action, errors.KindOf(out.Err).String()).Inc()
}

// IncRetries counts one retry of an event.
func (r *Recorder) IncRetries() {
	r.EventRetriesTotal.Inc()
}

// SetRulesLoaded records the size of the active rule list.
func (r *Recorder) SetRulesLoaded(count int) {
	r.RulesLoaded.Set(float64(count))
}

// Handler serves the recorder's metrics in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.LogWithFields(log.F("addr", addr)).Info("Metrics server starting")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrapf(err, "metrics server on %s", addr)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "metrics server shutdown")
		}
		return nil
	}
}
