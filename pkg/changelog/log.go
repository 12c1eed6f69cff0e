package changelog

// Log is the append-only DAG of Changes a document has applied: every
// Change's Deps must already be present before it is added (spec §4.6:
// "a change cannot be added until its dependencies are"), and Heads
// tracks the current frontier of changes with no known successor.
type Log struct {
	byHash map[Hash]*Change
	order  []Hash // insertion order, for deterministic get_changes iteration

	// heads is the set of hashes no other applied change lists as a dep.
	heads map[Hash]struct{}
}

// New returns an empty Log.
func New() *Log {
	return &Log{
		byHash: make(map[Hash]*Change),
		heads:  make(map[Hash]struct{}),
	}
}

// Has reports whether a change with this hash has already been applied.
func (l *Log) Has(h Hash) bool {
	_, ok := l.byHash[h]
	return ok
}

// Get returns a change by hash.
func (l *Log) Get(h Hash) (*Change, bool) {
	c, ok := l.byHash[h]
	return c, ok
}

// Add records a new Change. The caller must have already verified every
// entry in c.Deps is present (pkg/merge's pending-dependency queue does
// this before calling Add; Add itself returns ErrMissingDeps as a
// last-resort guard).
func (l *Log) Add(c *Change) error {
	h := c.Hash()
	if l.Has(h) {
		return nil
	}
	for _, d := range c.Deps {
		if !l.Has(d) {
			return ErrMissingDeps
		}
	}

	l.byHash[h] = c
	l.order = append(l.order, h)

	for _, d := range c.Deps {
		delete(l.heads, d)
	}
	l.heads[h] = struct{}{}

	return nil
}

// Heads returns the current frontier: every applied change no other
// applied change names as a dependency (spec §4.6 get_heads). Sorted for
// deterministic output.
func (l *Log) Heads() []Hash {
	out := make([]Hash, 0, len(l.heads))
	for h := range l.heads {
		out = append(out, h)
	}
	return sortHashes(out)
}

// Len returns the number of changes recorded.
func (l *Log) Len() int { return len(l.order) }

// All returns every change in insertion order.
func (l *Log) All() []*Change {
	out := make([]*Change, len(l.order))
	for i, h := range l.order {
		out[i] = l.byHash[h]
	}
	return out
}

// Since returns every change not reachable from any hash in have —
// spec §4.6 get_changes(since): the changes the caller doesn't already
// know about. have need not be a valid frontier; Since treats it as an
// opaque "already known" set and walks forward from it.
func (l *Log) Since(have []Hash) []*Change {
	known := make(map[Hash]struct{}, len(have))
	for _, h := range have {
		known[h] = struct{}{}
		markAncestors(l, h, known)
	}

	var out []*Change
	for _, h := range l.order {
		if _, ok := known[h]; !ok {
			out = append(out, l.byHash[h])
		}
	}
	return out
}

func markAncestors(l *Log, h Hash, known map[Hash]struct{}) {
	c, ok := l.byHash[h]
	if !ok {
		return
	}
	for _, d := range c.Deps {
		if _, seen := known[d]; seen {
			continue
		}
		known[d] = struct{}{}
		markAncestors(l, d, known)
	}
}

// Frontier reports whether hs is exactly the current Heads set, ignoring
// order.
func (l *Log) Frontier(hs []Hash) bool {
	current := l.Heads()
	if len(current) != len(hs) {
		return false
	}
	sorted := sortHashes(hs)
	for i := range current {
		if current[i] != sorted[i] {
			return false
		}
	}
	return true
}
