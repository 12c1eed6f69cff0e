// Package resolve picks a conflict-set winner from the ops an OpStore
// considers visible at a given (object, key), and computes the effective
// scalar value of each candidate — folding in Counter increments, per
// spec §4.4.
//
// The tie-break is the same descending (counter, actor) order used
// everywhere else a concurrent-op ordering is needed (pkg/seqindex's
// sibling order, the op graph's OpId.Greater): the op with the highest
// id wins (spec §4.4, "last-writer-wins by (counter, actor) descending").
package resolve

import (
	"fmt"

	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/opstore"
	"github.com/lattice-crdt/automerge/pkg/value"
)

// Candidate is one member of a key's conflict set: the op that wrote it
// and the value it currently holds (after folding in any increments).
type Candidate struct {
	Op    *opstore.Op
	Value value.ScalarValue
}

// EffectiveValue returns the value a Put/Insert/Make op contributes,
// after folding in any Increment ops the store has recorded against it
// (only meaningful for Counter-kind values; spec §4.4: "increment ops
// never shadow the op they target, they only adjust the value read from
// it").
func EffectiveValue(store *opstore.OpStore, obj opid.ObjId, op *opstore.Op) (value.ScalarValue, error) {
	switch op.Action.Kind {
	case opstore.ActionMake:
		return value.Null, nil
	case opstore.ActionPut, opstore.ActionInsert:
		v := op.Action.Value
		if v.Kind() != value.KindCounter {
			return v, nil
		}
		total := v
		for _, inc := range store.IncrementsFor(obj, op.ID) {
			var err error
			total, err = total.IncrementBy(inc.Action.IncrementBy)
			if err != nil {
				return value.ScalarValue{}, err
			}
		}
		return total, nil
	default:
		return value.ScalarValue{}, fmt.Errorf("resolve: op %s does not carry a readable value", op)
	}
}

// All returns every candidate in a key's current conflict set, ordered
// with the winner first (descending (counter, actor)) — exactly the
// order spec §4.4's get_all exposes.
func All(store *opstore.OpStore, obj opid.ObjId, key opid.Key) ([]Candidate, error) {
	visible := store.VisibleOpsAtKey(obj, key)
	if len(visible) == 0 {
		return nil, nil
	}
	sortDescendingByID(visible)

	out := make([]Candidate, 0, len(visible))
	for _, op := range visible {
		v, err := EffectiveValue(store, obj, op)
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{Op: op, Value: v})
	}
	return out, nil
}

// Winner returns the single value spec §4.2's get_value reads: the
// conflict-set candidate whose op has the highest (counter, actor) id.
// ok is false if the key has no visible ops (never written, or deleted).
func Winner(store *opstore.OpStore, obj opid.ObjId, key opid.Key) (Candidate, bool, error) {
	all, err := All(store, obj, key)
	if err != nil {
		return Candidate{}, false, err
	}
	if len(all) == 0 {
		return Candidate{}, false, nil
	}
	return all[0], true, nil
}

func sortDescendingByID(ops []*opstore.Op) {
	for i := 1; i < len(ops); i++ {
		j := i
		for j > 0 && ops[j-1].ID.Less(ops[j].ID) {
			ops[j-1], ops[j] = ops[j], ops[j-1]
			j--
		}
	}
}
