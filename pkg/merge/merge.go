// Package merge implements applying a batch of remote changes into a
// document's op store and change log (spec §4.8 apply_changes/merge),
// including the pending-dependency queue a change sits in until its
// causal parents have all arrived.
//
// This mirrors the teacher's WAL replay-on-recovery idea (storage/wal.go:
// entries are re-applied in order, a gap stalls replay until filled) but
// the "gap" here is a change's declared deps rather than a contiguous
// sequence number, so changes from many actors can interleave freely.
package merge

import (
	"fmt"
	"sort"

	"github.com/lattice-crdt/automerge/pkg/changelog"
	"github.com/lattice-crdt/automerge/pkg/opstore"
)

// Pending is the set of remote changes waiting on a dependency that
// hasn't arrived yet, keyed by the missing hash (spec §4.8 step 2b:
// "buffer in a pending queue keyed by the missing hash").
//
// A Document keeps one Pending alive across apply_changes calls, so
// changes that arrive out of order across multiple sync rounds still
// resolve once their deps eventually show up.
type Pending struct {
	byMissingDep map[changelog.Hash][]*changelog.Change
}

// NewPending returns an empty pending-dependency queue.
func NewPending() *Pending {
	return &Pending{byMissingDep: make(map[changelog.Hash][]*changelog.Change)}
}

// Apply runs spec §4.8's apply_changes algorithm: topologically sort by
// deps, skip changes already in the log, buffer changes with unmet deps,
// and otherwise append every op into store and record the change in log.
// Applying a change's ops is what actually mutates store; log.Add is
// what makes it visible to get_heads/get_changes.
//
// Returns the hashes of every change newly applied by this call (buffered
// changes are not included; they surface in a later Apply call once
// their deps resolve).
func Apply(store *opstore.OpStore, log *changelog.Log, pending *Pending, changes []*changelog.Change) ([]changelog.Hash, error) {
	queue := topoSort(changes)

	var applied []changelog.Hash
	for _, c := range queue {
		newlyApplied, err := tryApply(store, log, pending, c)
		if err != nil {
			return applied, err
		}
		if newlyApplied {
			applied = append(applied, c.Hash())
			more, err := promote(store, log, pending, c.Hash())
			if err != nil {
				return applied, err
			}
			applied = append(applied, more...)
		}
	}
	return applied, nil
}

// tryApply applies a single change if possible, or parks it in pending if
// any dep is missing. Returns true only if the change's ops were applied
// to store in this call.
func tryApply(store *opstore.OpStore, log *changelog.Log, pending *Pending, c *changelog.Change) (bool, error) {
	if log.Has(c.Hash()) {
		return false, nil // step 2a: already present
	}

	var missing changelog.Hash
	hasMissing := false
	for _, d := range c.Deps {
		if !log.Has(d) {
			missing = d
			hasMissing = true
			break
		}
	}
	if hasMissing {
		pending.byMissingDep[missing] = append(pending.byMissingDep[missing], c)
		return false, nil // step 2b
	}

	for _, op := range c.Ops {
		if _, err := store.Append(op); err != nil {
			return false, fmt.Errorf("merge: applying change %s: %w", c.Hash(), err)
		}
	}
	if err := log.Add(c); err != nil {
		return false, fmt.Errorf("merge: recording change %s: %w", c.Hash(), err)
	}
	return true, nil
}

// promote re-examines every change parked on newlyAvailable (spec §4.8
// step 3) and applies whichever now have all deps satisfied, recursing
// so a chain of changes that all arrived before their common root
// resolves in one Apply call.
func promote(store *opstore.OpStore, log *changelog.Log, pending *Pending, newlyAvailable changelog.Hash) ([]changelog.Hash, error) {
	waiting := pending.byMissingDep[newlyAvailable]
	if len(waiting) == 0 {
		return nil, nil
	}
	delete(pending.byMissingDep, newlyAvailable)

	var promoted []changelog.Hash
	for _, c := range waiting {
		applied, err := tryApply(store, log, pending, c)
		if err != nil {
			return promoted, err
		}
		if applied {
			promoted = append(promoted, c.Hash())
			more, err := promote(store, log, pending, c.Hash())
			if err != nil {
				return promoted, err
			}
			promoted = append(promoted, more...)
		}
	}
	return promoted, nil
}

// topoSort orders changes so every change appears after all the others
// in the same batch it depends on (spec §4.8 step 1). Changes whose deps
// lie outside this batch entirely (already applied, or genuinely
// missing) are left for tryApply/Pending to sort out; topoSort only
// orders within-batch dependencies.
func topoSort(changes []*changelog.Change) []*changelog.Change {
	byHash := make(map[changelog.Hash]*changelog.Change, len(changes))
	for _, c := range changes {
		byHash[c.Hash()] = c
	}

	visited := make(map[changelog.Hash]bool, len(changes))
	var out []*changelog.Change
	var visit func(c *changelog.Change)
	visit = func(c *changelog.Change) {
		h := c.Hash()
		if visited[h] {
			return
		}
		visited[h] = true
		deps := append([]changelog.Hash(nil), c.Deps...)
		sort.Slice(deps, func(i, j int) bool { return deps[i].String() < deps[j].String() })
		for _, d := range deps {
			if dep, ok := byHash[d]; ok {
				visit(dep)
			}
		}
		out = append(out, c)
	}

	ordered := append([]*changelog.Change(nil), changes...)
	sort.Slice(ordered, func(i, j int) bool {
		si, sj := ordered[i].Actor.String()+fmt.Sprint(ordered[i].Seq), ordered[j].Actor.String()+fmt.Sprint(ordered[j].Seq)
		return si < sj
	})
	for _, c := range ordered {
		visit(c)
	}
	return out
}
