package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SignalPrometheusMetrics holds Prometheus metrics for SIGHUP-triggered
// configuration reload.
type SignalPrometheusMetrics struct {
	reloadTotal        *prometheus.CounterVec
	validationFailures *prometheus.CounterVec

	reloadDuration *prometheus.HistogramVec

	lastSuccessTimestamp *prometheus.GaugeVec
	lastFailureTimestamp *prometheus.GaugeVec
}

func NewSignalPrometheusMetrics() *SignalPrometheusMetrics {
	namespace := "kgsync"
	subsystem := "config"

	return &SignalPrometheusMetrics{
		reloadTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: subsystem, Name: "reload_total",
				Help: "Total number of configuration reload attempts",
			},
			[]string{"source", "status"},
		),
		validationFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: subsystem, Name: "reload_validation_failures_total",
				Help: "Total number of configuration validation failures during reload",
			},
			[]string{"source"},
		),
		reloadDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace, Subsystem: subsystem, Name: "reload_duration_seconds",
				Help:    "Duration of configuration reload operations in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"source"},
		),
		lastSuccessTimestamp: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: subsystem, Name: "reload_last_success_timestamp_seconds",
				Help: "Unix timestamp of last successful configuration reload",
			},
			[]string{"source"},
		),
		lastFailureTimestamp: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: subsystem, Name: "reload_last_failure_timestamp_seconds",
				Help: "Unix timestamp of last failed configuration reload",
			},
			[]string{"source"},
		),
	}
}

func (m *SignalPrometheusMetrics) RecordReloadAttempt(source, status string) {
	m.reloadTotal.WithLabelValues(source, status).Inc()
}

func (m *SignalPrometheusMetrics) RecordValidationFailure(source string) {
	m.validationFailures.WithLabelValues(source).Inc()
}

func (m *SignalPrometheusMetrics) RecordReloadDuration(source string, duration float64) {
	m.reloadDuration.WithLabelValues(source).Observe(duration)
}

func (m *SignalPrometheusMetrics) RecordSuccessTimestamp(source string, timestamp float64) {
	m.lastSuccessTimestamp.WithLabelValues(source).Set(timestamp)
}

func (m *SignalPrometheusMetrics) RecordFailureTimestamp(source string, timestamp float64) {
	m.lastFailureTimestamp.WithLabelValues(source).Set(timestamp)
}
