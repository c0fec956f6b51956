// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voice_model"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds the collectors registered for one service instance.
type Metrics struct {
	registry *prometheus.Registry

	GraphLoads        *prometheus.CounterVec
	CachedGraphs      prometheus.Gauge
	Evaluations       *prometheus.CounterVec
	Syntheses         *prometheus.CounterVec
	SynthesisDuration prometheus.Histogram
	SynthesizedAudio  prometheus.Counter
}

// New creates the collectors and registers them, together with the Go and process
// collectors, on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		GraphLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "graph_loads_total",
			Help:      "Decision graphs loaded from the object store, by outcome.",
		}, []string{"outcome"}),
		CachedGraphs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "cached_graphs",
			Help:      "Decision graphs currently held in the registry.",
		}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "evaluations_total",
			Help:      "Decision graph evaluation requests, by outcome.",
		}, []string{"outcome"}),
		Syntheses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hnm",
			Name:      "syntheses_total",
			Help:      "Harmonic resynthesis requests, by outcome.",
		}, []string{"outcome"}),
		SynthesisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hnm",
			Name:      "synthesis_duration_seconds",
			Help:      "Wall time spent resynthesizing and encoding one signal.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		SynthesizedAudio: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hnm",
			Name:      "synthesized_audio_seconds_total",
			Help:      "Seconds of audio produced by resynthesis.",
		}),
	}

	registered := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.GraphLoads,
		m.CachedGraphs,
		m.Evaluations,
		m.Syntheses,
		m.SynthesisDuration,
		m.SynthesizedAudio,
	}

	for _, collector := range registered {
		err := m.registry.Register(collector)
		if err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveGraphLoad counts one graph load.
func (m *Metrics) ObserveGraphLoad(err error) {
	m.GraphLoads.WithLabelValues(outcome(err)).Inc()
}

// ObserveEvaluation counts one evaluation request.
func (m *Metrics) ObserveEvaluation(err error) {
	m.Evaluations.WithLabelValues(outcome(err)).Inc()
}

// ObserveSynthesis counts one synthesis request. started is when work began; audio is the
// duration of the rendered output, zero on failure.
func (m *Metrics) ObserveSynthesis(started time.Time, audio time.Duration, err error) {
	m.Syntheses.WithLabelValues(outcome(err)).Inc()
	m.SynthesisDuration.Observe(time.Since(started).Seconds())

	if err == nil {
		m.SynthesizedAudio.Add(audio.Seconds())
	}
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}

	return OutcomeSuccess
}
