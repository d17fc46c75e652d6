// Package metrics counts what a reconciliation pass did: outcomes per kind,
// pull request creations per status and credential attempts. Metrics live in a
// private Prometheus registry and are exported once per run with
// WriteToTextfile. NoOpRecorder is used when no metrics file is configured.
package metrics
