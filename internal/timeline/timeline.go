// Package timeline projects conversation intervals onto the start and
// duration columns of a table.
package timeline

// Column selects which of the two adjacent timeline columns a span is drawn in.
type Column int

const (
	StartColumn Column = iota
	DurationColumn
)

// Bounds tracks the earliest start and latest stop seen since the last Reset.
// Times are seconds relative to the start of the capture.
type Bounds struct {
	minStart float64
	maxStop  float64
	set      bool
}

// Observe widens the bounds to cover [start, stop].
func (b *Bounds) Observe(start, stop float64) {
	if !b.set {
		b.minStart, b.maxStop, b.set = start, stop, true
		return
	}
	if start < b.minStart {
		b.minStart = start
	}
	if stop > b.maxStop {
		b.maxStop = stop
	}
}

// Reset forgets every observation.
func (b *Bounds) Reset() {
	*b = Bounds{}
}

// MinStart returns the earliest observed start, or 0 before any observation.
func (b Bounds) MinStart() float64 { return b.minStart }

// MaxStop returns the latest observed stop, or 0 before any observation.
func (b Bounds) MaxStop() float64 { return b.maxStop }

// Span returns maxStop - minStart.
func (b Bounds) Span() float64 { return b.maxStop - b.minStart }

// Geometry is a horizontal bar in pixels. Start may be negative for the
// duration column, where it is relative to that column's own origin.
type Geometry struct {
	Start float64 `json:"start"`
	Width float64 `json:"width"`
}

// Project maps [start, stop) onto the combined width of the start column (w1)
// and the duration column (w2). ok is false when the bounds cover no time.
func Project(b Bounds, start, stop float64, w1, w2 float64, col Column) (g Geometry, ok bool) {
	span := b.Span()
	if !b.set || !(span > 0) {
		return Geometry{}, false
	}
	px := w1 + w2
	g.Start = (start - b.minStart) * px / span
	g.Width = (stop - start) * px / span
	if col == DurationColumn {
		g.Start -= w1
	}
	return g, true
}
