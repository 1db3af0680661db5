// Package metrics records repository lifecycle and stream counters.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics defines the counters the service layer emits.
type Metrics interface {
	ObserveOperation(op, status string, durationSeconds float64)
	AddArtifactsIndexed(repository string, n int)
	AddStreamBytes(direction string, n int64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) ObserveOperation(string, string, float64) {}
func (Noop) AddArtifactsIndexed(string, int)          {}
func (Noop) AddStreamBytes(string, int64)             {}

// Prom implements Metrics on its own Prometheus registry, so a one-shot
// CLI run can dump exactly its own series to a textfile.
type Prom struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	indexed    *prometheus.CounterVec
	bytes      *prometheus.CounterVec
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repository_operations_total",
			Help:      "Repository lifecycle operations by name and status",
		}, []string{"op", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repository_operation_duration_seconds",
			Help:      "Repository lifecycle operation latency by name",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		indexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_indexed_total",
			Help:      "Artifacts written to a repository index",
		}, []string{"repository"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_total",
			Help:      "Bytes moved through artifact streams by direction",
		}, []string{"direction"}),
	}
	p.registry.MustRegister(p.operations, p.latency, p.indexed, p.bytes)
	return p
}

func (p *Prom) ObserveOperation(op, status string, durationSeconds float64) {
	p.operations.WithLabelValues(op, status).Inc()
	p.latency.WithLabelValues(op).Observe(durationSeconds)
}

func (p *Prom) AddArtifactsIndexed(repository string, n int) {
	p.indexed.WithLabelValues(repository).Add(float64(n))
}

func (p *Prom) AddStreamBytes(direction string, n int64) {
	p.bytes.WithLabelValues(direction).Add(float64(n))
}

// Gatherer exposes the registry.
func (p *Prom) Gatherer() prometheus.Gatherer {
	return p.registry
}

// WriteTextfile writes every series in the node-exporter textfile format.
func (p *Prom) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
