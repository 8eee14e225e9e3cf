// Package store holds the append-only record arrays behind each statistics table.
package store

import (
	"errors"
	"fmt"
)

// ErrInvariantViolation marks a broken backend contract: a stale handle, a
// negative interval or counters that went backwards.
var ErrInvariantViolation = errors.New("invariant violation")

// ErrStaleHandle marks a handle issued before the last Reset.
var ErrStaleHandle = fmt.Errorf("%w: stale handle", ErrInvariantViolation)

// Handle is a stable reference to a record. It stays valid until the next Reset.
type Handle struct {
	gen uint64
	idx int
}

// Index returns the position of the record in the store.
func (h Handle) Index() int {
	return h.idx
}

// Generation returns the store generation the handle was issued in.
func (h Handle) Generation() uint64 {
	return h.gen
}

// Validator checks a replacement record against the one it replaces.
type Validator[T any] func(old, updated *T) error

// Store is an append-only array of records. It is not safe for concurrent
// use; the owning table serializes mutations against reads.
type Store[T any] struct {
	records    []T
	generation uint64
	validate   Validator[T]
}

// New creates an empty store. validate may be nil.
func New[T any](validate Validator[T]) *Store[T] {
	return &Store[T]{generation: 1, validate: validate}
}

// Append adds a record and returns its handle.
func (s *Store[T]) Append(rec T) Handle {
	s.records = append(s.records, rec)
	return Handle{gen: s.generation, idx: len(s.records) - 1}
}

// Get returns the record behind h. The pointer is only valid until the next
// Append, Update or Reset; callers keep handles, not pointers.
func (s *Store[T]) Get(h Handle) (*T, error) {
	if err := s.check(h); err != nil {
		return nil, err
	}
	return &s.records[h.idx], nil
}

// Update replaces the record behind h with a grown version of itself.
func (s *Store[T]) Update(h Handle, rec T) error {
	if err := s.check(h); err != nil {
		return err
	}
	if s.validate != nil {
		if err := s.validate(&s.records[h.idx], &rec); err != nil {
			return err
		}
	}
	s.records[h.idx] = rec
	return nil
}

// HandleAt returns the handle for position i in the current generation.
func (s *Store[T]) HandleAt(i int) (Handle, error) {
	if i < 0 || i >= len(s.records) {
		return Handle{}, fmt.Errorf("%w: index %d out of range [0,%d)", ErrInvariantViolation, i, len(s.records))
	}
	return Handle{gen: s.generation, idx: i}, nil
}

// HandleFor rebuilds a handle a client kept as a generation and position.
// It fails with ErrStaleHandle once the store was reset since gen.
func (s *Store[T]) HandleFor(gen uint64, i int) (Handle, error) {
	h := Handle{gen: gen, idx: i}
	if err := s.check(h); err != nil {
		return Handle{}, err
	}
	return h, nil
}

// At returns the record at position i without handle checks.
func (s *Store[T]) At(i int) *T {
	return &s.records[i]
}

// Len returns the number of records.
func (s *Store[T]) Len() int {
	return len(s.records)
}

// Generation changes on every Reset.
func (s *Store[T]) Generation() uint64 {
	return s.generation
}

// Reset drops every record and invalidates all issued handles.
func (s *Store[T]) Reset() {
	s.records = nil
	s.generation++
}

func (s *Store[T]) check(h Handle) error {
	if h.gen != s.generation {
		return fmt.Errorf("%w: handle from generation %d used in generation %d", ErrStaleHandle, h.gen, s.generation)
	}
	if h.idx < 0 || h.idx >= len(s.records) {
		return fmt.Errorf("%w: index %d out of range [0,%d)", ErrInvariantViolation, h.idx, len(s.records))
	}
	return nil
}
