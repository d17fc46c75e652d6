package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "prbot"

// Recorder receives run events. Implementations must
// be safe for concurrent use.
type Recorder interface {
	// RecordOutcome counts one classification
	// outcome of the given kind.
	RecordOutcome(kind string)
	// RecordCreation counts one pull request creation
	// attempt ending in status.
	RecordCreation(status string)
	// RecordCredentialAttempt counts one credential
	// validation ending in result ("valid" or
	// "invalid").
	RecordCredentialAttempt(result string)
	// RecordRunDuration records the wall time of a
	// reconciliation pass.
	RecordRunDuration(d time.Duration)
}

// NoOpRecorder discards every event.
type NoOpRecorder struct{}

// RecordOutcome does nothing.
func (NoOpRecorder) RecordOutcome(string) {}

// RecordCreation does nothing.
func (NoOpRecorder) RecordCreation(string) {}

// RecordCredentialAttempt does nothing.
func (NoOpRecorder) RecordCredentialAttempt(string) {}

// RecordRunDuration does nothing.
func (NoOpRecorder) RecordRunDuration(time.Duration) {}

// Metrics records run events into a private
// Prometheus registry.
type Metrics struct {
	registry    *prometheus.Registry
	outcomes    *prometheus.CounterVec
	creations   *prometheus.CounterVec
	credentials *prometheus.CounterVec
	duration    prometheus.Gauge
	lastRun     prometheus.Gauge
	now         func() time.Time
}

// New registers the prbot collectors in a fresh
// registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repository_outcomes_total",
				Help:      "Repositories classified, by outcome kind.",
			},
			[]string{"kind"},
		),
		creations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pull_request_creations_total",
				Help:      "Pull request creation attempts, by status.",
			},
			[]string{"status"},
		),
		credentials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_attempts_total",
				Help:      "Credential validations, by result.",
			},
			[]string{"result"},
		),
		duration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of the last reconciliation pass.",
			},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last reconciliation pass ended.",
			},
		),
		now: time.Now,
	}

	m.registry.MustRegister(
		m.outcomes,
		m.creations,
		m.credentials,
		m.duration,
		m.lastRun,
	)

	return m
}

// Registry returns the registry holding the
// collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordOutcome implements Recorder.
func (m *Metrics) RecordOutcome(kind string) {
	m.outcomes.WithLabelValues(kind).Inc()
}

// RecordCreation implements Recorder.
func (m *Metrics) RecordCreation(status string) {
	m.creations.WithLabelValues(status).Inc()
}

// RecordCredentialAttempt implements Recorder.
func (m *Metrics) RecordCredentialAttempt(result string) {
	m.credentials.WithLabelValues(result).Inc()
}

// RecordRunDuration implements Recorder.
func (m *Metrics) RecordRunDuration(d time.Duration) {
	m.duration.Set(d.Seconds())
	m.lastRun.Set(float64(m.now().Unix()))
}

// WriteToTextfile writes every collected metric to
// path in the text exposition format, for pickup by a
// node exporter textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(
		path, m.registry,
	); err != nil {
		return fmt.Errorf(
			"writing metrics to %s: %w", path, err,
		)
	}

	return nil
}
