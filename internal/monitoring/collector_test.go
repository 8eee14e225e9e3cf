package monitoring

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.SetRows("tcp", "conversations", 12)
	c.BatchApplied("tcp", "conversations")
	c.BatchApplied("tcp", "conversations")
	c.InvariantViolation("udp", "endpoints")
	c.PacketProcessed()
	c.PacketDropped()
	c.MapExported(3)

	assert.Equal(t, 12.0, testutil.ToFloat64(c.tableRows.WithLabelValues("tcp", "conversations")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.batchesApplied.WithLabelValues("tcp", "conversations")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.invariantViolations.WithLabelValues("udp", "endpoints")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.packetsProcessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.packetsDropped))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.mapFeatures))

	c.Reset("tcp", "conversations")
	assert.Equal(t, 0.0, testutil.ToFloat64(c.tableRows.WithLabelValues("tcp", "conversations")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.resets.WithLabelValues("tcp", "conversations")))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SetRows("eth", "endpoints", 1)
		c.BatchApplied("eth", "endpoints")
		c.Reset("eth", "endpoints")
		c.InvariantViolation("eth", "endpoints")
		c.PacketProcessed()
		c.PacketDropped()
		c.MapExported(0)
	})
}
