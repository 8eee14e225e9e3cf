package table

import (
	"io"

	"NetSpectraTables/internal/geoexport"
	"NetSpectraTables/internal/metrics"
	"NetSpectraTables/internal/model"
	"NetSpectraTables/internal/sorting"
	"NetSpectraTables/internal/store"
)

// EndpointTable holds the endpoints of one protocol.
type EndpointTable struct {
	base[model.Endpoint]
	hasGeoData bool
	cmp        *sorting.EndpointComparator
}

// NewEndpointTable creates an empty endpoint table.
func NewEndpointTable(opts Options) *EndpointTable {
	t := &EndpointTable{cmp: sorting.NewEndpointComparator(opts.Resolver)}
	t.setup(kindEndpoints, opts, metrics.ValidateEndpointUpdate)
	return t
}

// OnReset drops every row and clears the geo flag.
func (t *EndpointTable) OnReset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
	t.hasGeoData = false
}

// OnRecordsAppended applies a backend batch. Records without a lookup are
// resolved once; updates keep the lookup of the record they replace.
func (t *EndpointTable) OnRecordsAppended(batch model.EndpointBatch) error {
	if batch.Empty() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.apply(batch,
		func(*model.Endpoint) error { return nil },
		t.attachGeo,
		func(e *model.Endpoint) {
			if !t.hasGeoData && e.Geo.HasCoords() {
				t.hasGeoData = true
				t.logger.Debugw("first geolocated endpoint", "address", e.Address.String())
			}
		})
}

func (t *EndpointTable) attachGeo(old, rec *model.Endpoint) {
	if rec.Geo != nil {
		return
	}
	if old != nil && old.Geo != nil {
		rec.Geo = old.Geo
		return
	}
	if t.opts.Geo != nil && rec.Address.IP() != nil {
		rec.Geo = t.opts.Geo.Lookup(rec.Address)
	}
}

// HasGeoData reports whether any row can be placed on a map.
func (t *EndpointTable) HasGeoData() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hasGeoData
}

// Columns returns the visible columns. Geo columns are shown once the table
// has a geo resolver or geolocated rows.
func (t *EndpointTable) Columns() []sorting.EndpointColumn {
	last := sorting.EndpNumColumns
	if t.opts.Geo != nil || t.HasGeoData() {
		last = sorting.EndpNumGeoColumns
	}
	cols := make([]sorting.EndpointColumn, 0, last)
	for c := sorting.EndpointColumn(0); c < last; c++ {
		if c == sorting.EndpNumColumns || (c == sorting.EndpPort && !t.opts.HasPorts) {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

// Sorted returns the row handles ordered by col.
func (t *EndpointTable) Sorted(col sorting.EndpointColumn, resolveNames, descending bool) []store.Handle {
	return t.sorted(func(a, b *model.Endpoint) sorting.Ordering {
		return t.cmp.Compare(col, resolveNames, a, b)
	}, descending)
}

// Metrics returns the totals of the row behind h.
func (t *EndpointTable) Metrics(h store.Handle) (metrics.Endpoint, error) {
	e, err := t.Record(h)
	if err != nil {
		return metrics.Endpoint{}, err
	}
	return metrics.ForEndpoint(&e), nil
}

func (t *EndpointTable) mapCandidates() []*model.Endpoint {
	records := t.Records()
	out := make([]*model.Endpoint, len(records))
	for i := range records {
		out[i] = &records[i]
	}
	return out
}

// WriteMap writes the endpoint map to w and returns the number of features.
// The rows are copied first so the export does not hold the table lock.
func (t *EndpointTable) WriteMap(w io.Writer, format geoexport.Format, x *geoexport.Exporter) (int, error) {
	n, err := x.WriteTo(w, format, t.mapCandidates())
	if err == nil {
		t.opts.Collector.MapExported(n)
	}
	return n, err
}

// SaveMap writes the endpoint map to path, choosing the format from the extension.
func (t *EndpointTable) SaveMap(path string, x *geoexport.Exporter) (int, error) {
	n, err := x.SaveFile(path, geoexport.FormatForPath(path), t.mapCandidates())
	if err == nil {
		t.opts.Collector.MapExported(n)
	}
	return n, err
}
