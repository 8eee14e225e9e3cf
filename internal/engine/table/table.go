// Package table holds the per-protocol conversation and endpoint tables. Each
// table owns its records and serializes backend batches against readers.
package table

import (
	"errors"
	"fmt"
	"sync"

	"NetSpectraTables/internal/direction"
	"NetSpectraTables/internal/model"
	"NetSpectraTables/internal/monitoring"
	"NetSpectraTables/internal/sorting"
	"NetSpectraTables/internal/store"

	"go.uber.org/zap"
)

const (
	kindConversations = "conversations"
	kindEndpoints     = "endpoints"
)

// GeoResolver looks up geolocation data for an address. It returns nil when
// the address cannot be resolved.
type GeoResolver interface {
	Lookup(addr model.Address) *model.GeoLookup
}

// Options configure a table.
type Options struct {
	// Protocol is the short name shown in the table title, e.g. "TCP".
	Protocol string
	// HasPorts is false for address-only tables (Ethernet, IPv4, IPv6).
	HasPorts bool
	// Debug turns invariant violations into panics.
	Debug bool

	Resolver   sorting.NameResolver
	Directions *direction.Table
	Filters    direction.FilterBuilder
	Geo        GeoResolver
	Collector  *monitoring.Collector
	Logger     *zap.SugaredLogger
}

// base is the part shared by both table kinds.
type base[T any] struct {
	mu      sync.RWMutex
	kind    string
	opts    Options
	records *store.Store[T]
	logger  *zap.SugaredLogger
}

func (b *base[T]) setup(kind string, opts Options, validate store.Validator[T]) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	b.kind = kind
	b.opts = opts
	b.records = store.New(validate)
	b.logger = logger.With("table", opts.Protocol, "kind", kind)
}

// apply runs a batch under the write lock. check validates appended records,
// prepare fills in derived fields, observe sees every accepted record.
func (b *base[T]) apply(batch model.Batch[T], check func(*T) error, prepare func(old, rec *T), observe func(*T)) error {
	var errs []error
	for _, u := range batch.Updated {
		rec := u.Record
		h, err := b.records.HandleAt(u.Index)
		if err == nil {
			var old *T
			old, err = b.records.Get(h)
			if err == nil {
				prepare(old, &rec)
				err = b.records.Update(h, rec)
			}
		}
		if err != nil {
			b.violation(err, "update", u.Index)
			errs = append(errs, err)
			continue
		}
		observe(&rec)
	}

	for i := range batch.Appended {
		rec := batch.Appended[i]
		prepare(nil, &rec)
		// Broken records are still stored so positions stay in step with
		// the backend. They display as unavailable.
		b.records.Append(rec)
		if err := check(&rec); err != nil {
			b.violation(err, "append", b.records.Len()-1)
			errs = append(errs, err)
			continue
		}
		observe(&rec)
	}

	b.opts.Collector.BatchApplied(b.opts.Protocol, b.kind)
	b.opts.Collector.SetRows(b.opts.Protocol, b.kind, b.records.Len())
	return errors.Join(errs...)
}

func (b *base[T]) violation(err error, op string, index int) {
	b.opts.Collector.InvariantViolation(b.opts.Protocol, b.kind)
	if b.opts.Debug {
		panic(fmt.Sprintf("%s %s table: %s at %d: %v", b.opts.Protocol, b.kind, op, index, err))
	}
	b.logger.Warnw("rejected backend record", "op", op, "index", index, "error", err)
}

func (b *base[T]) reset() {
	b.records.Reset()
	b.opts.Collector.Reset(b.opts.Protocol, b.kind)
}

// Len returns the number of rows.
func (b *base[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.records.Len()
}

// Protocol returns the protocol short name of the table.
func (b *base[T]) Protocol() string {
	return b.opts.Protocol
}

// HasPorts reports whether the table is keyed on ports as well as addresses.
func (b *base[T]) HasPorts() bool {
	return b.opts.HasPorts
}

// Title returns the protocol name followed by the row count when there are rows.
func (b *base[T]) Title() string {
	n := b.Len()
	if n == 0 {
		return b.opts.Protocol
	}
	return fmt.Sprintf("%s · %d", b.opts.Protocol, n)
}

// HandleAt returns the handle of the row at arrival position i.
func (b *base[T]) HandleAt(i int) (store.Handle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.records.HandleAt(i)
}

// HandleFor returns the handle of row i issued in generation gen.
func (b *base[T]) HandleFor(gen uint64, i int) (store.Handle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.records.HandleFor(gen, i)
}

// Generation changes on every reset of the table.
func (b *base[T]) Generation() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.records.Generation()
}

// Handles returns every row handle in arrival order.
func (b *base[T]) Handles() []store.Handle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handlesLocked()
}

func (b *base[T]) handlesLocked() []store.Handle {
	handles := make([]store.Handle, b.records.Len())
	for i := range handles {
		handles[i], _ = b.records.HandleAt(i)
	}
	return handles
}

// Record returns a copy of the row behind h.
func (b *base[T]) Record(h store.Handle) (T, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, err := b.records.Get(h)
	if err != nil {
		var zero T
		return zero, err
	}
	return *rec, nil
}

// Records returns a copy of every row in arrival order.
func (b *base[T]) Records() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, b.records.Len())
	for i := range out {
		out[i] = *b.records.At(i)
	}
	return out
}

// sorted orders the current handles under the read lock.
func (b *base[T]) sorted(cmpFn func(a, b *T) sorting.Ordering, descending bool) []store.Handle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handles := b.handlesLocked()
	sorting.SortStable(handles, func(x, y store.Handle) sorting.Ordering {
		return cmpFn(b.records.At(x.Index()), b.records.At(y.Index()))
	}, descending)
	return handles
}
