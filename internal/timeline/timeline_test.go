package timeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProject(t *testing.T) {
	var b Bounds
	b.Observe(0, 4)
	b.Observe(2, 10)

	g, ok := Project(b, 2, 5, 100, 50, StartColumn)
	require.True(t, ok)
	assert.InDelta(t, 30, g.Start, 1e-9)
	assert.InDelta(t, 45, g.Width, 1e-9)

	g, ok = Project(b, 2, 5, 100, 50, DurationColumn)
	require.True(t, ok)
	assert.InDelta(t, -70, g.Start, 1e-9)
	assert.InDelta(t, 45, g.Width, 1e-9)
}

func TestProject_ZeroSpan(t *testing.T) {
	var b Bounds
	b.Observe(3, 3)

	g, ok := Project(b, 3, 3, 100, 50, StartColumn)
	assert.False(t, ok)
	assert.False(t, math.IsNaN(g.Start))
	assert.False(t, math.IsNaN(g.Width))
	assert.Equal(t, Geometry{}, g)
}

func TestProject_NoObservations(t *testing.T) {
	var b Bounds
	_, ok := Project(b, 0, 1, 100, 50, StartColumn)
	assert.False(t, ok)
}

func TestBounds_Incremental(t *testing.T) {
	var b Bounds
	b.Observe(5, 6)
	assert.Equal(t, 5.0, b.MinStart())
	assert.Equal(t, 6.0, b.MaxStop())

	b.Observe(1, 2)
	b.Observe(3, 9)
	assert.Equal(t, 1.0, b.MinStart())
	assert.Equal(t, 9.0, b.MaxStop())
	assert.Equal(t, 8.0, b.Span())

	// Observing the same interval again changes nothing.
	b.Observe(3, 9)
	assert.Equal(t, 8.0, b.Span())

	b.Reset()
	assert.Equal(t, 0.0, b.Span())
	_, ok := Project(b, 0, 1, 10, 10, StartColumn)
	assert.False(t, ok)

	// After a reset the first observation defines the window again.
	b.Observe(7, 8)
	assert.Equal(t, 7.0, b.MinStart())
}

func TestProject_FullWindow(t *testing.T) {
	var b Bounds
	b.Observe(1, 3)
	g, ok := Project(b, 1, 3, 60, 40, StartColumn)
	require.True(t, ok)
	assert.InDelta(t, 0, g.Start, 1e-9)
	assert.InDelta(t, 100, g.Width, 1e-9)
}
