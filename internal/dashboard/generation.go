package dashboard

// generations orders the requests of one resource class. Every request gets
// the next sequence number; responses older than what the class has already
// started or applied are dropped.
type generations struct {
	next         uint64
	latestFull   uint64
	latestScoped map[string]uint64
	applied      map[string]uint64
	settled      uint64
}

func newGenerations() generations {
	return generations{
		latestScoped: make(map[string]uint64),
		applied:      make(map[string]uint64),
	}
}

// start allocates the sequence number for a request; key "" is unscoped.
func (g *generations) start(key string) uint64 {
	g.next++
	if key == "" {
		g.latestFull = g.next
	} else {
		g.latestScoped[key] = g.next
	}
	return g.next
}

// current reports whether seq is still the newest request of its scope.
func (g *generations) current(key string, seq uint64) bool {
	if key == "" {
		return seq >= g.latestFull
	}
	return seq >= g.latestScoped[key]
}

// acceptsKey reports whether data from seq may replace what key holds now.
func (g *generations) acceptsKey(key string, seq uint64) bool {
	return g.applied[key] < seq
}

// settle records seq as the latest settled request when it is newer than the
// previous one. Only the newest settled request decides the slice's error.
func (g *generations) settle(seq uint64) bool {
	if seq <= g.settled {
		return false
	}
	g.settled = seq
	return true
}

// forget drops per-key bookkeeping, used when the snapshot is swapped for
// another filter's data.
func (g *generations) forget() {
	g.applied = make(map[string]uint64)
}

// mergeFull applies an unscoped response: the result holds exactly the
// response keys, except that keys carrying newer scoped data keep it.
func mergeFull[T any](g *generations, seq uint64, old map[string]T, resp map[string]T) map[string]T {
	next := make(map[string]T, len(resp))
	for k, v := range resp {
		if g.acceptsKey(k, seq) {
			next[k] = v
			g.applied[k] = seq
		} else if prev, ok := old[k]; ok {
			next[k] = prev
		}
	}
	for k, v := range old {
		if _, inResp := resp[k]; inResp {
			continue
		}
		if g.applied[k] > seq {
			next[k] = v
		} else {
			delete(g.applied, k)
		}
	}
	return next
}

// mergeScoped returns the entries of a scoped response that may be overlaid.
func mergeScoped[T any](g *generations, seq uint64, resp map[string]T) map[string]T {
	patch := make(map[string]T, len(resp))
	for k, v := range resp {
		if g.acceptsKey(k, seq) {
			patch[k] = v
			g.applied[k] = seq
		}
	}
	return patch
}
