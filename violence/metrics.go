// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package violence

import (
	"net/http"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// ScorerMetrics are the Prometheus metrics collected by a Scorer.
// A nil *ScorerMetrics is valid and records nothing.
type ScorerMetrics struct {
	batchesTotal *prom.CounterVec
	graphsTotal  prom.Counter
	warnings     *prom.CounterVec
	seconds      *prom.HistogramVec
}

// NewScorerMetrics creates the metrics and registers them in registry.
func NewScorerMetrics(registry prom.Registerer) (*ScorerMetrics, error) {
	m := &ScorerMetrics{
		batchesTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "violence_scorer_batches_total",
			Help: "Total number of batches scored, by execution mode and success",
		}, []string{"mode", "success"}),
		graphsTotal: prom.NewCounter(prom.CounterOpts{
			Name: "violence_scorer_graphs_total",
			Help: "Total number of skeleton graphs successfully scored",
		}),
		warnings: prom.NewCounterVec(prom.CounterOpts{
			Name: "violence_scorer_numeric_instability_total",
			Help: "Total number of non-finite values warnings, by model stage",
		}, []string{"stage"}),
		seconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "violence_scorer_batch_seconds",
			Help:    "Batch scoring duration in seconds, graph compilation included",
			Buckets: prom.DefBuckets,
		}, []string{"mode"}),
	}
	for _, c := range []prom.Collector{m.batchesTotal, m.graphsTotal, m.warnings, m.seconds} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *ScorerMetrics) observeBatch(mode string, numGraphs int, success bool, seconds float64) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(mode, strconv.FormatBool(success)).Inc()
	m.seconds.WithLabelValues(mode).Observe(seconds)
	if success {
		m.graphsTotal.Add(float64(numGraphs))
	}
}

func (m *ScorerMetrics) observeWarnings(warnings []NumericInstabilityWarning) {
	if m == nil {
		return
	}
	for _, w := range warnings {
		m.warnings.WithLabelValues(w.Stage).Inc()
	}
}

// MetricsHandler returns an HTTP mux serving the metrics of registry on /metrics, and /healthz.
func MetricsHandler(registry *prom.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
