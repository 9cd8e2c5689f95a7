package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stackdrift"

// Recorder owns a private registry so that several runs in one process,
// or tests in parallel, never share collectors.
type Recorder struct {
	registry *prometheus.Registry

	// Inspection metrics
	hostInspections   *prometheus.CounterVec
	inspectedEntities *prometheus.GaugeVec
	entityFailures    *prometheus.CounterVec

	// Drift detection metrics
	driftItems        *prometheus.GaugeVec
	entitiesAnalyzed  prometheus.Gauge
	entitiesWithDrift prometheus.Gauge
	detectionDuration prometheus.Histogram
	lastRunTimestamp  prometheus.Gauge

	// Remediation metrics
	publishTotal    *prometheus.CounterVec
	publishDuration prometheus.Histogram

	// Audit metrics
	auditFindings *prometheus.GaugeVec
}

// New creates a recorder with all collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		hostInspections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "inspector",
				Name:      "host_inspections_total",
				Help:      "Total number of host inspections",
			},
			[]string{"host", "status"},
		),
		inspectedEntities: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "inspector",
				Name:      "entities",
				Help:      "Number of running entities observed per host",
			},
			[]string{"host"},
		),
		entityFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "inspector",
				Name:      "entity_failures_total",
				Help:      "Total number of entities that could not be inspected",
			},
			[]string{"host"},
		),
		driftItems: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "drift",
				Name:      "items",
				Help:      "Number of drift items in the last run by severity",
			},
			[]string{"severity"},
		),
		entitiesAnalyzed: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "drift",
				Name:      "entities_analyzed",
				Help:      "Number of entities analyzed in the last run",
			},
		),
		entitiesWithDrift: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "drift",
				Name:      "entities_with_drift",
				Help:      "Number of entities with at least one drift item in the last run",
			},
		),
		detectionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "drift",
				Name:      "detection_duration_seconds",
				Help:      "Duration of a full detection run in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),
		lastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "drift",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last completed detection run",
			},
		),
		publishTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "remediation",
				Name:      "publish_total",
				Help:      "Total number of remediation publish attempts",
			},
			[]string{"status"},
		),
		publishDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "remediation",
				Name:      "publish_duration_seconds",
				Help:      "Duration of a remediation publish in seconds",
				Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		auditFindings: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "findings",
				Help:      "Number of audit findings in the last run",
			},
			[]string{"auditor", "severity"},
		),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordHostInspection records one host inspection attempt
func (r *Recorder) RecordHostInspection(host string, ok bool, entities, failures int) {
	status := "success"
	if !ok {
		status = "failure"
	}
	r.hostInspections.WithLabelValues(host, status).Inc()
	if ok {
		r.inspectedEntities.WithLabelValues(host).Set(float64(entities))
		r.entityFailures.WithLabelValues(host).Add(float64(failures))
	}
}

// DriftSummary is the subset of a detection result the recorder needs.
type DriftSummary struct {
	EntitiesAnalyzed  int
	EntitiesWithDrift int
	BySeverity        map[string]int
	Duration          time.Duration
	Finished          time.Time
}

// RecordDetection records the outcome of a detection run
func (r *Recorder) RecordDetection(s DriftSummary) {
	r.entitiesAnalyzed.Set(float64(s.EntitiesAnalyzed))
	r.entitiesWithDrift.Set(float64(s.EntitiesWithDrift))
	for severity, count := range s.BySeverity {
		r.driftItems.WithLabelValues(severity).Set(float64(count))
	}
	r.detectionDuration.Observe(s.Duration.Seconds())
	r.lastRunTimestamp.Set(float64(s.Finished.Unix()))
}

// RecordPublish records a remediation publish attempt
func (r *Recorder) RecordPublish(status string, duration time.Duration) {
	r.publishTotal.WithLabelValues(status).Inc()
	r.publishDuration.Observe(duration.Seconds())
}

// SetAuditFindings sets the gauge for audit findings by auditor and severity
func (r *Recorder) SetAuditFindings(auditor, severity string, count int) {
	r.auditFindings.WithLabelValues(auditor, severity).Set(float64(count))
}

// WriteTextfile writes all metrics in the node_exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
