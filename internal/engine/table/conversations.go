package table

import (
	"fmt"

	"NetSpectraTables/internal/direction"
	"NetSpectraTables/internal/metrics"
	"NetSpectraTables/internal/model"
	"NetSpectraTables/internal/sorting"
	"NetSpectraTables/internal/store"
	"NetSpectraTables/internal/timeline"
)

// ConversationTable holds the conversations of one protocol.
type ConversationTable struct {
	base[model.Conversation]
	bounds timeline.Bounds
	cmp    *sorting.ConversationComparator
}

// NewConversationTable creates an empty conversation table.
func NewConversationTable(opts Options) *ConversationTable {
	t := &ConversationTable{cmp: sorting.NewConversationComparator(opts.Resolver)}
	t.setup(kindConversations, opts, metrics.ValidateConversationUpdate)
	return t
}

// OnReset drops every row and the timeline bounds.
func (t *ConversationTable) OnReset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
	t.bounds.Reset()
}

// OnRecordsAppended applies a backend batch. Rejected records are logged and
// reported in the returned error; the rest of the batch is still applied.
func (t *ConversationTable) OnRecordsAppended(batch model.ConversationBatch) error {
	if batch.Empty() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.apply(batch,
		func(c *model.Conversation) error {
			_, err := metrics.Duration(c)
			return err
		},
		func(_, _ *model.Conversation) {},
		func(c *model.Conversation) {
			t.bounds.Observe(metrics.StartSeconds(c), metrics.StopSeconds(c))
		})
}

// Columns returns the visible columns. Address-only tables have no port columns.
func (t *ConversationTable) Columns() []sorting.ConversationColumn {
	cols := make([]sorting.ConversationColumn, 0, sorting.ConvNumColumns)
	for c := sorting.ConversationColumn(0); c < sorting.ConvNumColumns; c++ {
		if c.IsPort() && !t.opts.HasPorts {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

// Sorted returns the row handles ordered by col.
func (t *ConversationTable) Sorted(col sorting.ConversationColumn, resolveNames, descending bool) []store.Handle {
	return t.sorted(func(a, b *model.Conversation) sorting.Ordering {
		return t.cmp.Compare(col, resolveNames, a, b)
	}, descending)
}

// Metrics returns the derived values of the row behind h. A record with an
// inverted interval is logged and its duration-based values are unavailable.
func (t *ConversationTable) Metrics(h store.Handle) (metrics.Conversation, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, err := t.records.Get(h)
	if err != nil {
		return metrics.Conversation{}, err
	}
	m, err := metrics.ForConversation(c)
	if err != nil {
		t.violation(err, "metrics", h.Index())
	}
	return m, nil
}

// Bounds returns the earliest start and latest stop over every row.
func (t *ConversationTable) Bounds() timeline.Bounds {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bounds
}

// Timeline returns the bar of the row behind h for the start column (width
// w1) or duration column (width w2). ok is false when there is nothing to draw.
func (t *ConversationTable) Timeline(h store.Handle, w1, w2 float64, col timeline.Column) (g timeline.Geometry, ok bool, err error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, err := t.records.Get(h)
	if err != nil {
		return timeline.Geometry{}, false, err
	}
	if c.StopTime < c.StartTime {
		return timeline.Geometry{}, false, nil
	}
	g, ok = timeline.Project(t.bounds, metrics.StartSeconds(c), metrics.StopSeconds(c), w1, w2, col)
	return g, ok, nil
}

// CanFollow reports whether the stream of the row can be followed. TCP and
// UDP conversations can.
func (t *ConversationTable) CanFollow(h store.Handle) bool {
	c, err := t.Record(h)
	if err != nil {
		return false
	}
	return c.EndpointType == model.EndpointTCP || c.EndpointType == model.EndpointUDP
}

// CanGraph reports whether the row can be graphed. Only TCP conversations can.
func (t *ConversationTable) CanGraph(h store.Handle) bool {
	c, err := t.Record(h)
	if err != nil {
		return false
	}
	return c.EndpointType == model.EndpointTCP
}

// Filter builds a filter expression for the row behind h.
func (t *ConversationTable) Filter(h store.Handle, fd direction.FilterDirection) (string, error) {
	if t.opts.Directions == nil || t.opts.Filters == nil {
		return "", fmt.Errorf("%s table has no filter builder", t.opts.Protocol)
	}
	cd, ok := t.opts.Directions.Lookup(fd)
	if !ok {
		return "", fmt.Errorf("unknown filter direction %d", int(fd))
	}
	c, err := t.Record(h)
	if err != nil {
		return "", err
	}
	return t.opts.Filters.ConversationFilter(&c, cd)
}
