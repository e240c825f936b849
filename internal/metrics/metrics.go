// Package metrics exposes prometheus instrumentation for the pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submissions_total",
			Help: "Submissions processed by intake, by asset and outcome",
		},
		[]string{"asset", "outcome"},
	)
	aggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aggregation_cycle_seconds",
			Help:    "Duration of one per-asset aggregation cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"asset"},
	)
	alertsFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_fired_total",
			Help: "Trigger events emitted, by alert type",
		},
		[]string{"type"},
	)
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trigger_dispatch_total",
			Help: "Outbox dispatch attempts, by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(submissionsTotal, aggregationDuration, alertsFiredTotal, dispatchTotal)
}

// RecordSubmission counts one intake outcome: accepted, suspicious, rejected.
func RecordSubmission(asset, outcome string) {
	submissionsTotal.WithLabelValues(asset, outcome).Inc()
}

// ObserveAggregation records the duration of one aggregation cycle.
func ObserveAggregation(asset string, d time.Duration) {
	aggregationDuration.WithLabelValues(asset).Observe(d.Seconds())
}

// RecordAlertFired counts one emitted trigger event.
func RecordAlertFired(alertType string) {
	alertsFiredTotal.WithLabelValues(alertType).Inc()
}

// RecordDispatch counts one outbox dispatch attempt.
func RecordDispatch(result string) {
	dispatchTotal.WithLabelValues(result).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled. A blank addr
// disables the endpoint.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics endpoint failed")
		}
	}()
}
