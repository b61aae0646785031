// Package metrics provides the Prometheus metrics for component identification and narration.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/book-expert/component-narrator/internal/core"
	"github.com/book-expert/component-narrator/internal/ranking"
)

// Identification outcomes.
const (
	OutcomeIdentified    = "identified"
	OutcomeNotRecognized = "not_recognized"
	OutcomeNoOutput      = "no_output"
	OutcomeInvalid       = "invalid"
	OutcomeUnavailable   = "unavailable"
	OutcomeError         = "error"
)

// Model load statuses.
const (
	statusSuccess = "success"
	statusError   = "error"
)

// NarratorMetrics contains all Prometheus metrics for the narrator.
type NarratorMetrics struct {
	IdentifyTotal      *prometheus.CounterVec
	IdentifyDuration   prometheus.Histogram
	SentencesTotal     *prometheus.CounterVec
	SentenceDuration   prometheus.Histogram
	SynthesisDuration  prometheus.Histogram
	ModelLoadTotal     *prometheus.CounterVec
	ModelLoadDuration  *prometheus.HistogramVec
	AudioCacheRequests *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the metrics and registers them with registry.
func New(registry *prometheus.Registry) (*NarratorMetrics, error) {
	m := &NarratorMetrics{registry: registry}
	m.initMetrics()

	err := registry.Register(m)
	if err != nil {
		return nil, fmt.Errorf("failed to register narrator metrics: %w", err)
	}

	return m, nil
}

// NewWithRuntime creates a fresh registry holding the narrator metrics plus the Go
// runtime and process collectors.
func NewWithRuntime() (*NarratorMetrics, error) {
	registry := prometheus.NewRegistry()

	err := registry.Register(collectors.NewGoCollector())
	if err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}

	err = registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	return New(registry)
}

func (m *NarratorMetrics) initMetrics() {
	m.IdentifyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrator_identify_total",
			Help: "Total number of identification requests partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	m.IdentifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "narrator_identify_duration_seconds",
			Help:    "Time taken to rank one image.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
	)

	m.SentencesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrator_sentences_total",
			Help: "Total number of sentence synthesis attempts partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	m.SentenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "narrator_sentence_duration_seconds",
			Help:    "Time taken to synthesize one sentence.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	m.SynthesisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "narrator_synthesis_duration_seconds",
			Help:    "Time taken to narrate a complete text.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
	)

	m.ModelLoadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrator_model_load_total",
			Help: "Total number of model construction attempts.",
		},
		[]string{"model", "status"},
	)

	m.ModelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "narrator_model_load_duration_seconds",
			Help:    "Time taken to construct a model.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~200s
		},
		[]string{"model"},
	)

	m.AudioCacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrator_audio_cache_requests_total",
			Help: "Synthesized audio cache lookups partitioned by result.",
		},
		[]string{"result"},
	)
}

// Describe implements prometheus.Collector.
func (m *NarratorMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.IdentifyTotal.Describe(ch)
	m.IdentifyDuration.Describe(ch)
	m.SentencesTotal.Describe(ch)
	m.SentenceDuration.Describe(ch)
	m.SynthesisDuration.Describe(ch)
	m.ModelLoadTotal.Describe(ch)
	m.ModelLoadDuration.Describe(ch)
	m.AudioCacheRequests.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *NarratorMetrics) Collect(ch chan<- prometheus.Metric) {
	m.IdentifyTotal.Collect(ch)
	m.IdentifyDuration.Collect(ch)
	m.SentencesTotal.Collect(ch)
	m.SentenceDuration.Collect(ch)
	m.SynthesisDuration.Collect(ch)
	m.ModelLoadTotal.Collect(ch)
	m.ModelLoadDuration.Collect(ch)
	m.AudioCacheRequests.Collect(ch)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *NarratorMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordIdentify records one ranking call and its result.
func (m *NarratorMetrics) RecordIdentify(elapsed time.Duration, err error) {
	m.IdentifyTotal.WithLabelValues(IdentifyOutcome(err)).Inc()
	m.IdentifyDuration.Observe(elapsed.Seconds())
}

// RecordSentence matches tts.SentenceObserver.
func (m *NarratorMetrics) RecordSentence(outcome string, elapsed time.Duration) {
	m.SentencesTotal.WithLabelValues(outcome).Inc()
	m.SentenceDuration.Observe(elapsed.Seconds())
}

// RecordSynthesis records one complete narration.
func (m *NarratorMetrics) RecordSynthesis(elapsed time.Duration) {
	m.SynthesisDuration.Observe(elapsed.Seconds())
}

// RecordModelLoad matches modelcache.LoadObserver.
func (m *NarratorMetrics) RecordModelLoad(model string, elapsed time.Duration, err error) {
	status := statusSuccess
	if err != nil {
		status = statusError
	}

	m.ModelLoadTotal.WithLabelValues(model, status).Inc()
	m.ModelLoadDuration.WithLabelValues(model).Observe(elapsed.Seconds())
}

// RecordAudioCache records an audio cache hit or miss.
func (m *NarratorMetrics) RecordAudioCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}

	m.AudioCacheRequests.WithLabelValues(result).Inc()
}

// IdentifyOutcome maps a ranking error onto an outcome label.
func IdentifyOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeIdentified
	case errors.Is(err, core.ErrNoConfidentMatch):
		return OutcomeNotRecognized
	case errors.Is(err, ranking.ErrNoClassifierOutput):
		return OutcomeNoOutput
	case errors.Is(err, core.ErrInvalidInput):
		return OutcomeInvalid
	case errors.Is(err, core.ErrModelUnavailable):
		return OutcomeUnavailable
	default:
		return OutcomeError
	}
}
