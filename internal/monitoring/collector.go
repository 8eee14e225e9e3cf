// Package monitoring exposes table activity as Prometheus metrics.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records table activity. A nil *Collector is valid and records nothing.
type Collector struct {
	tableRows           *prometheus.GaugeVec
	batchesApplied      *prometheus.CounterVec
	resets              *prometheus.CounterVec
	invariantViolations *prometheus.CounterVec
	packetsProcessed    prometheus.Counter
	packetsDropped      prometheus.Counter
	mapFeatures         prometheus.Gauge
}

// NewCollector registers the table metrics with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		tableRows: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netspectra_table_rows",
			Help: "Number of rows held by each statistics table",
		}, []string{"table", "kind"}),

		batchesApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netspectra_table_batches_total",
			Help: "Number of backend batches applied to each table",
		}, []string{"table", "kind"}),

		resets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netspectra_table_resets_total",
			Help: "Number of times each table was reset",
		}, []string{"table", "kind"}),

		invariantViolations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netspectra_table_invariant_violations_total",
			Help: "Backend records rejected for breaking table invariants",
		}, []string{"table", "kind"}),

		packetsProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "netspectra_packets_processed_total",
			Help: "Packets fanned out to the table taps",
		}),

		packetsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "netspectra_packets_dropped_total",
			Help: "Packets that no table tap accepted",
		}),

		mapFeatures: f.NewGauge(prometheus.GaugeOpts{
			Name: "netspectra_map_features",
			Help: "Features written by the last endpoint map export",
		}),
	}
}

func (c *Collector) SetRows(table, kind string, n int) {
	if c == nil {
		return
	}
	c.tableRows.WithLabelValues(table, kind).Set(float64(n))
}

func (c *Collector) BatchApplied(table, kind string) {
	if c == nil {
		return
	}
	c.batchesApplied.WithLabelValues(table, kind).Inc()
}

func (c *Collector) Reset(table, kind string) {
	if c == nil {
		return
	}
	c.resets.WithLabelValues(table, kind).Inc()
	c.tableRows.WithLabelValues(table, kind).Set(0)
}

func (c *Collector) InvariantViolation(table, kind string) {
	if c == nil {
		return
	}
	c.invariantViolations.WithLabelValues(table, kind).Inc()
}

func (c *Collector) PacketProcessed() {
	if c == nil {
		return
	}
	c.packetsProcessed.Inc()
}

func (c *Collector) PacketDropped() {
	if c == nil {
		return
	}
	c.packetsDropped.Inc()
}

func (c *Collector) MapExported(features int) {
	if c == nil {
		return
	}
	c.mapFeatures.Set(float64(features))
}
