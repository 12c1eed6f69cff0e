package opstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/value"
)

// Errors this package can return. Named per SPEC_FULL.md §A.3, scoped to
// the component that raises them (spec §6 abstract error surface).
var (
	ErrInvalidObjID = errors.New("opstore: invalid object id")
	ErrInvalidOp    = errors.New("opstore: invalid op")
	ErrWrongType    = errors.New("opstore: wrong type for operation")
)

// objectEntry is the per-object bookkeeping OpStore maintains: every op
// that has ever targeted this object, grouped the way spec §4.1's
// "Representation contract" requires (ordered keys/elements, and for
// each, its visible/shadowed op set).
type objectEntry struct {
	id      opid.ObjId
	objType value.ObjType

	// insertRefs holds the arena index of every Insert-action op that
	// created a sequence element of this object, in the order they were
	// appended (NOT RGA traversal order — pkg/seqindex derives that).
	insertRefs []int

	// opsByKey groups every value-bearing op (Make/Put/Insert/Delete)
	// that ever wrote a given key, in append order. Increments are
	// tracked separately (incrementsByTarget) since they never occupy
	// their own conflict-set slot (spec §4.4).
	opsByKey map[string][]int

	// incrementsByTarget maps the string form of a Counter op's OpId to
	// every Increment op whose Pred names it.
	incrementsByTarget map[string][]int

	// marksByAnchor groups MarkBegin/MarkEnd ops by the string form of
	// their anchor key (an ElemId), for pkg/marks' sweep.
	marksByAnchor map[string][]int
}

func newObjectEntry(id opid.ObjId, t value.ObjType) *objectEntry {
	return &objectEntry{
		id:                 id,
		objType:            t,
		opsByKey:           make(map[string][]int),
		incrementsByTarget: make(map[string][]int),
		marksByAnchor:      make(map[string][]int),
	}
}

// OpStore is an append-only arena of every applied Op, indexed for the
// lookups spec §4.1 requires. Safe for use only under a document's single
// owner (spec §5: "a document is single-owner"); OpStore itself takes no
// locks.
type OpStore struct {
	ops     []Op
	byID    map[string]int // OpId.String() -> arena index
	objects map[string]*objectEntry
}

// New returns an empty OpStore seeded with the implicit Root map object.
func New() *OpStore {
	s := &OpStore{
		byID:    make(map[string]int),
		objects: make(map[string]*objectEntry),
	}
	s.objects[opid.Root.String()] = newObjectEntry(opid.Root, value.ObjMap)
	return s
}

// Len returns the number of ops in the arena.
func (s *OpStore) Len() int { return len(s.ops) }

// AllOps returns every op in append order. Used by the full-save codec
// (spec §4.7) and by save/load identity tests.
func (s *OpStore) AllOps() []*Op {
	out := make([]*Op, len(s.ops))
	for i := range s.ops {
		out[i] = &s.ops[i]
	}
	return out
}

// GetByID looks up an op by its identity.
func (s *OpStore) GetByID(id opid.OpId) (*Op, bool) {
	idx, ok := s.byID[id.String()]
	if !ok {
		return nil, false
	}
	return &s.ops[idx], true
}

// HasObject reports whether an object (Root, or the result of some Make
// op already applied) exists in the store.
func (s *OpStore) HasObject(obj opid.ObjId) bool {
	_, ok := s.objects[obj.String()]
	return ok
}

// ObjectType returns the ObjType of a known object.
func (s *OpStore) ObjectType(obj opid.ObjId) (value.ObjType, error) {
	e, ok := s.objects[obj.String()]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidObjID, obj)
	}
	return e.objType, nil
}

// keyIndexString returns a stable string key for a Key, disambiguating
// map keys from sequence positions so the two namespaces never collide.
func keyIndexString(k opid.Key) string {
	if k.IsMapKey() {
		return "m:" + k.MapKeyString()
	}
	return "s:" + k.ElemKey().String()
}

// Append validates and records a single op, updating every index this
// store maintains: the by-id lookup, the per-object key groupings, and
// the pred ops' succ sets (spec §3: "succ ... populated as later ops
// reference this op in their pred").
//
// Append does not compute Pred for the caller — pkg/txn computes Pred
// from VisibleOpsAtKey before calling Append, per spec §4.5 ("each
// enqueued op... compute its pred from the current store state"). Append
// only wires the succ side of that relationship and validates that every
// listed Pred op actually exists.
func (s *OpStore) Append(op Op) (*Op, error) {
	if op.Object.IsRoot() {
		// Root always exists.
	} else if _, ok := s.byID[op.Object.OpId().String()]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidObjID, op.Object)
	}

	for _, p := range op.Pred {
		if _, ok := s.byID[p.String()]; !ok {
			return nil, fmt.Errorf("%w: pred %s not found", ErrInvalidOp, p)
		}
	}

	idx := len(s.ops)
	s.ops = append(s.ops, op)
	s.byID[op.ID.String()] = idx
	stored := &s.ops[idx]

	for _, p := range op.Pred {
		predIdx := s.byID[p.String()]
		s.ops[predIdx].Succ = append(s.ops[predIdx].Succ, op.ID)
	}

	objEntry, ok := s.objects[op.Object.String()]
	if !ok {
		objEntry = newObjectEntry(op.Object, value.ObjMap)
		s.objects[op.Object.String()] = objEntry
	}

	// An insert op's Key is its anchor, but the element it creates is
	// addressed by the op's own ElemId, so that is the key it is grouped
	// under for later Put/Delete/Increment lookups.
	slot := op.Key
	if op.Insert {
		slot = opid.SeqKey(stored.ElemID())
	}

	switch op.Action.Kind {
	case ActionMake:
		childID := opid.NewObjId(op.ID)
		if _, exists := s.objects[childID.String()]; !exists {
			s.objects[childID.String()] = newObjectEntry(childID, op.Action.ObjType)
		}
		ks := keyIndexString(slot)
		objEntry.opsByKey[ks] = append(objEntry.opsByKey[ks], idx)
		if op.Insert {
			objEntry.insertRefs = append(objEntry.insertRefs, idx)
		}
	case ActionPut, ActionInsert:
		ks := keyIndexString(slot)
		objEntry.opsByKey[ks] = append(objEntry.opsByKey[ks], idx)
		if op.Insert {
			objEntry.insertRefs = append(objEntry.insertRefs, idx)
		}
	case ActionDelete:
		ks := keyIndexString(op.Key)
		objEntry.opsByKey[ks] = append(objEntry.opsByKey[ks], idx)
	case ActionIncrement:
		if len(op.Pred) != 1 {
			return nil, fmt.Errorf("%w: increment must target exactly one op", ErrInvalidOp)
		}
		target := op.Pred[0].String()
		objEntry.incrementsByTarget[target] = append(objEntry.incrementsByTarget[target], idx)
	case ActionMarkBegin, ActionMarkEnd:
		ks := keyIndexString(op.Key)
		objEntry.marksByAnchor[ks] = append(objEntry.marksByAnchor[ks], idx)
	default:
		return nil, fmt.Errorf("%w: unknown action kind %v", ErrInvalidOp, op.Action.Kind)
	}

	return stored, nil
}

// IsDeleted reports whether an op has been shadowed by a Delete op that
// lists it in Pred (spec Invariant 3).
func (s *OpStore) IsDeleted(op *Op) bool {
	for _, succID := range op.Succ {
		if succOp, ok := s.GetByID(succID); ok && succOp.Action.Kind == ActionDelete {
			return true
		}
	}
	return false
}

// VisibleOpsAtKey returns the currently-visible ops at (object, key), in
// append order: every value op not shadowed by a Delete and not
// overwritten by a later value op. This is exactly the "conflict set"
// pkg/resolve picks a winner from, and exactly the Pred set a new
// Put/Delete at this key must list (spec Invariant 4).
//
// One carve-out: a Counter that has received Increment ops stays in the
// conflict set even when a concurrent Put overwrote it, so the
// increments remain observable alongside the overwriting value (spec §8
// S2 — the incremented counter and the overwriting put are both entries
// of get_all).
func (s *OpStore) VisibleOpsAtKey(obj opid.ObjId, key opid.Key) []*Op {
	e, ok := s.objects[obj.String()]
	if !ok {
		return nil
	}
	refs := e.opsByKey[keyIndexString(key)]
	out := make([]*Op, 0, len(refs))
	for _, idx := range refs {
		op := &s.ops[idx]
		if op.Action.Kind == ActionDelete {
			continue
		}
		if s.IsDeleted(op) {
			continue
		}
		if s.isOverwritten(op) && !s.hasIncrements(op) {
			continue
		}
		out = append(out, op)
	}
	return out
}

// isOverwritten reports whether a later value op (Put/Make/Insert) lists
// op in its Pred.
func (s *OpStore) isOverwritten(op *Op) bool {
	for _, succID := range op.Succ {
		succOp, ok := s.GetByID(succID)
		if !ok {
			continue
		}
		switch succOp.Action.Kind {
		case ActionPut, ActionMake, ActionInsert:
			return true
		}
	}
	return false
}

// hasIncrements reports whether op carries a Counter value that at least
// one Increment op targets.
func (s *OpStore) hasIncrements(op *Op) bool {
	if op.Action.Kind != ActionPut && op.Action.Kind != ActionInsert {
		return false
	}
	if op.Action.Value.Kind() != value.KindCounter {
		return false
	}
	for _, succID := range op.Succ {
		if succOp, ok := s.GetByID(succID); ok && succOp.Action.Kind == ActionIncrement {
			return true
		}
	}
	return false
}

// AllOpsAtKey returns every op ever recorded at (object, key), visible or
// not, in append order. Deleted and overwritten ops are included.
func (s *OpStore) AllOpsAtKey(obj opid.ObjId, key opid.Key) []*Op {
	e, ok := s.objects[obj.String()]
	if !ok {
		return nil
	}
	refs := e.opsByKey[keyIndexString(key)]
	out := make([]*Op, len(refs))
	for i, idx := range refs {
		out[i] = &s.ops[idx]
	}
	return out
}

// IncrementsFor returns every Increment op whose Pred names the given
// target op, in append order (spec §4.4).
func (s *OpStore) IncrementsFor(obj opid.ObjId, target opid.OpId) []*Op {
	e, ok := s.objects[obj.String()]
	if !ok {
		return nil
	}
	refs := e.incrementsByTarget[target.String()]
	out := make([]*Op, len(refs))
	for i, idx := range refs {
		out[i] = &s.ops[idx]
	}
	return out
}

// InsertOpsOf returns every Insert-action op of a sequence object, in
// append order. pkg/seqindex reorders these into RGA traversal order.
func (s *OpStore) InsertOpsOf(obj opid.ObjId) []*Op {
	e, ok := s.objects[obj.String()]
	if !ok {
		return nil
	}
	out := make([]*Op, len(e.insertRefs))
	for i, idx := range e.insertRefs {
		out[i] = &s.ops[idx]
	}
	return out
}

// MarksAtAnchor returns every MarkBegin/MarkEnd op anchored at the given
// sequence position, in append order.
func (s *OpStore) MarksAtAnchor(obj opid.ObjId, anchor opid.ElemId) []*Op {
	e, ok := s.objects[obj.String()]
	if !ok {
		return nil
	}
	refs := e.marksByAnchor[keyIndexString(opid.SeqKey(anchor))]
	out := make([]*Op, len(refs))
	for i, idx := range refs {
		out[i] = &s.ops[idx]
	}
	return out
}

// AllMarks returns every MarkBegin/MarkEnd op recorded against obj,
// across every anchor, ordered by the arena index they were appended at
// (i.e. application order, which for a single actor's own transactions
// is also program order — pkg/marks sorts further by OpId where that
// matters for deterministic overlap resolution).
func (s *OpStore) AllMarks(obj opid.ObjId) []*Op {
	e, ok := s.objects[obj.String()]
	if !ok {
		return nil
	}
	var refs []int
	for _, rs := range e.marksByAnchor {
		refs = append(refs, rs...)
	}
	sort.Ints(refs)
	out := make([]*Op, len(refs))
	for i, idx := range refs {
		out[i] = &s.ops[idx]
	}
	return out
}

// Mark returns the current arena length, a checkpoint TruncateTo can
// later roll back to. pkg/txn takes a Mark before staging a
// transaction's ops and TruncateTo's back to it on rollback (spec §4.5:
// "rollback ... as if the transaction's ops were never applied").
func (s *OpStore) Mark() int { return len(s.ops) }

// TruncateTo undoes every op appended since a prior Mark, in strict
// reverse order: it is only correct when nothing appended after mark has
// been observed or depended on outside this store (true for an
// in-progress transaction's own staged ops, which is TruncateTo's only
// caller).
func (s *OpStore) TruncateTo(mark int) {
	for i := len(s.ops) - 1; i >= mark; i-- {
		op := s.ops[i]
		delete(s.byID, op.ID.String())

		for _, p := range op.Pred {
			if predIdx, ok := s.byID[p.String()]; ok {
				succ := s.ops[predIdx].Succ
				s.ops[predIdx].Succ = succ[:len(succ)-1]
			}
		}

		objEntry := s.objects[op.Object.String()]
		ks := keyIndexString(op.Key)
		if op.Insert {
			ks = keyIndexString(opid.SeqKey(op.ElemID()))
		}
		switch op.Action.Kind {
		case ActionMake:
			childID := opid.NewObjId(op.ID)
			delete(s.objects, childID.String())
			objEntry.opsByKey[ks] = objEntry.opsByKey[ks][:len(objEntry.opsByKey[ks])-1]
			if op.Insert {
				objEntry.insertRefs = objEntry.insertRefs[:len(objEntry.insertRefs)-1]
			}
		case ActionPut, ActionInsert:
			objEntry.opsByKey[ks] = objEntry.opsByKey[ks][:len(objEntry.opsByKey[ks])-1]
			if op.Insert {
				objEntry.insertRefs = objEntry.insertRefs[:len(objEntry.insertRefs)-1]
			}
		case ActionDelete:
			objEntry.opsByKey[ks] = objEntry.opsByKey[ks][:len(objEntry.opsByKey[ks])-1]
		case ActionIncrement:
			target := op.Pred[0].String()
			refs := objEntry.incrementsByTarget[target]
			objEntry.incrementsByTarget[target] = refs[:len(refs)-1]
		case ActionMarkBegin, ActionMarkEnd:
			refs := objEntry.marksByAnchor[ks]
			objEntry.marksByAnchor[ks] = refs[:len(refs)-1]
		}
	}
	s.ops = s.ops[:mark]
}

// MapKeys returns every map key of obj that currently has at least one
// visible op, sorted ascending (spec §4.1: "the ordered set of keys
// (maps)" — lexicographic order is the deterministic choice pkg/document's
// keys/map_range operations rely on). Sequence objects have no map keys
// and always return nil; use pkg/seqindex for their element order.
func (s *OpStore) MapKeys(obj opid.ObjId) []string {
	e, ok := s.objects[obj.String()]
	if !ok {
		return nil
	}
	var out []string
	for ks, refs := range e.opsByKey {
		if !strings.HasPrefix(ks, "m:") {
			continue
		}
		for _, idx := range refs {
			op := &s.ops[idx]
			if op.Action.Kind == ActionDelete || s.IsDeleted(op) {
				continue
			}
			out = append(out, ks[len("m:"):])
			break
		}
	}
	sort.Strings(out)
	return out
}

// ChildObjects returns the ObjIds of every container object this store
// knows about whose creating op's Object field equals obj (i.e. the
// direct children of obj), sorted ascending by creating OpId. Root's children
// come from its Make ops the same way any other object's do.
func (s *OpStore) ChildObjects(obj opid.ObjId) []opid.ObjId {
	e, ok := s.objects[obj.String()]
	if !ok {
		return nil
	}
	var out []opid.ObjId
	seen := make(map[string]bool)
	for _, refs := range e.opsByKey {
		for _, idx := range refs {
			op := &s.ops[idx]
			if op.Action.Kind == ActionMake {
				childID := opid.NewObjId(op.ID)
				if !seen[childID.String()] {
					seen[childID.String()] = true
					out = append(out, childID)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpId().Less(out[j].OpId()) })
	return out
}
