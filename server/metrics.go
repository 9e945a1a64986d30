package server

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	requests        *prometheus.CounterVec
	duration        prometheus.Histogram
	engine          prometheus.Histogram
	cleanupFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "earshot_transcribe_requests_total",
			Help: "Transcription requests by outcome.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "earshot_transcribe_duration_seconds",
			Help:    "Wall time of successful transcription requests.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		engine: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "earshot_engine_duration_seconds",
			Help:    "Time spent inside the transcription engine.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "earshot_temp_cleanup_failures_total",
			Help: "Temp files that could not be removed.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.engine, m.cleanupFailures)
	return m
}
