// Package metrics exposes pipeline counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scribe"

// Capture.
var (
	FramesCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_captured_total",
		Help:      "Audio frames consumed by the accumulator.",
	})

	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Audio frames dropped because the queue was full.",
	})
)

// Windows and transcription.
var (
	WindowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "windows_total",
		Help:      "Ready windows by gate outcome (speech, silent, vad_error).",
	}, []string{"outcome"})

	TranscriptionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcription_errors_total",
		Help:      "Windows whose transcription failed.",
	})

	TranscriptionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transcription_duration_seconds",
		Help:      "Engine latency per window.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
	})
)

// Stabilizer.
var (
	ChunksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_total",
		Help:      "Candidate chunks by stabilizer decision.",
	}, []string{"decision"})

	Listening = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "listening",
		Help:      "1 while a session is capturing.",
	})
)

func init() {
	prometheus.MustRegister(
		FramesCaptured,
		FramesDropped,
		WindowsTotal,
		TranscriptionErrors,
		TranscriptionDuration,
		ChunksTotal,
		Listening,
	)
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
