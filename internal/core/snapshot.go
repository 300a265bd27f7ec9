package core

import (
	"encoding/json"
	"sort"
)

// Snapshot is an immutable mapping from resource key to value. Every update
// returns a new Snapshot; a Snapshot handed out is never modified.
type Snapshot[T any] struct {
	m map[string]T
}

type (
	KPISnapshot    = Snapshot[KPI]
	ChartSnapshot  = Snapshot[ChartSeries]
	WidgetSnapshot = Snapshot[Widget]
)

// NewSnapshot copies m into a snapshot.
func NewSnapshot[T any](m map[string]T) Snapshot[T] {
	if len(m) == 0 {
		return Snapshot[T]{}
	}
	cp := make(map[string]T, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Snapshot[T]{m: cp}
}

// Get returns the value stored for key.
func (s Snapshot[T]) Get(key string) (T, bool) {
	v, ok := s.m[key]
	return v, ok
}

// Has reports whether key is present.
func (s Snapshot[T]) Has(key string) bool {
	_, ok := s.m[key]
	return ok
}

// Len returns the number of keys.
func (s Snapshot[T]) Len() int {
	return len(s.m)
}

// IsEmpty is true for a snapshot that was never populated or holds no keys.
func (s Snapshot[T]) IsEmpty() bool {
	return len(s.m) == 0
}

// Keys returns the keys in sorted order.
func (s Snapshot[T]) Keys() []string {
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the underlying mapping.
func (s Snapshot[T]) Map() map[string]T {
	cp := make(map[string]T, len(s.m))
	for k, v := range s.m {
		cp[k] = v
	}
	return cp
}

// Overlay returns a new snapshot with the entries of patch set over s.
func (s Snapshot[T]) Overlay(patch map[string]T) Snapshot[T] {
	cp := make(map[string]T, len(s.m)+len(patch))
	for k, v := range s.m {
		cp[k] = v
	}
	for k, v := range patch {
		cp[k] = v
	}
	return Snapshot[T]{m: cp}
}

// Without returns a new snapshot lacking key.
func (s Snapshot[T]) Without(key string) Snapshot[T] {
	if !s.Has(key) {
		return s
	}
	cp := make(map[string]T, len(s.m))
	for k, v := range s.m {
		if k != key {
			cp[k] = v
		}
	}
	return Snapshot[T]{m: cp}
}

// MarshalJSON encodes the snapshot as a JSON object.
func (s Snapshot[T]) MarshalJSON() ([]byte, error) {
	if s.m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.m)
}
