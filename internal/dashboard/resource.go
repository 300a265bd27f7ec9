package dashboard

import (
	"context"
	"net/url"

	"finboard/internal/core"
)

// resource is one dashboard class (KPIs, charts or widgets). All fields are
// guarded by Store.mu.
type resource[T any] struct {
	name      string
	param     string
	withDates bool
	read      func(ctx context.Context, query url.Values) (map[string]T, error)

	snap core.Snapshot[T]
	// owner is the filter key snap was fetched for, or "" once it mixes
	// data from more than one filter.
	owner       string
	gen         generations
	inflightAll int
	inflightKey map[string]int
	err         error
}

func newResource[T any](name, param string, withDates bool, read func(context.Context, url.Values) (map[string]T, error)) *resource[T] {
	return &resource[T]{
		name:        name,
		param:       param,
		withDates:   withDates,
		read:        read,
		gen:         newGenerations(),
		inflightKey: make(map[string]int),
	}
}

func (r *resource[T]) params(filter core.DateFilter, key string) url.Values {
	p := filter.Params(r.withDates)
	if key != "" {
		p.Set(r.param, key)
	}
	return p
}

func (r *resource[T]) begin(key string) uint64 {
	if key == "" {
		r.inflightAll++
	} else {
		r.inflightKey[key]++
	}
	return r.gen.start(key)
}

func (r *resource[T]) end(key string) {
	if key == "" {
		if r.inflightAll > 0 {
			r.inflightAll--
		}
		return
	}
	if r.inflightKey[key] <= 1 {
		delete(r.inflightKey, key)
		return
	}
	r.inflightKey[key]--
}

// apply merges a successful response fetched for the filter owner and
// reports whether anything changed.
func (r *resource[T]) apply(key string, seq uint64, data map[string]T, owner string) bool {
	if !r.gen.current(key, seq) {
		return false
	}
	if key == "" {
		r.snap = core.NewSnapshot(mergeFull(&r.gen, seq, r.snap.Map(), data))
		r.owner = owner
		return true
	}
	patch := mergeScoped(&r.gen, seq, data)
	if len(patch) == 0 {
		return false
	}
	r.snap = r.snap.Overlay(patch)
	if r.owner != owner {
		r.owner = ""
	}
	return true
}

// ownedBy reports whether snap holds only data fetched for filter key.
func (r *resource[T]) ownedBy(key string) bool {
	return r.owner != "" && r.owner == key
}

// loading returns the aggregate flag and a fresh per-key map.
func (r *resource[T]) loading() (bool, map[string]bool) {
	keys := make(map[string]bool, len(r.inflightKey))
	for k, n := range r.inflightKey {
		if n > 0 {
			keys[k] = true
		}
	}
	return r.inflightAll > 0, keys
}

// swap replaces the snapshot with data cached for filter owner. An empty
// cached snapshot leaves the current data on screen until a fetch lands.
func (r *resource[T]) swap(snap core.Snapshot[T], owner string) {
	if snap.Len() == 0 {
		return
	}
	r.snap = snap
	r.owner = owner
	r.gen.forget()
}
