// Package opstore is the content-addressable store of every applied
// operation in a document: the arena described in spec §4.1 and the
// Design Notes ("Op graph as arena"). It provides append, lookup by
// object/key, reverse lookup by OpId, and the pred/succ bookkeeping the
// conflict resolver and sequence index build on.
//
// OpStore itself knows nothing about external sequence indices or
// conflict-winner selection — those are pkg/seqindex and pkg/resolve,
// layered on top. OpStore's job is purely: given an op, where does it go,
// and which other ops does it shadow or get shadowed by.
package opstore

import (
	"fmt"

	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/value"
)

// ActionKind tags which mutation an Op performs (spec §3's Op.action
// union, with Mark split into its paired MarkBegin/MarkEnd ops per
// spec §4.10).
type ActionKind uint8

const (
	ActionMake ActionKind = iota
	ActionPut
	ActionInsert
	ActionDelete
	ActionIncrement
	ActionMarkBegin
	ActionMarkEnd
)

// String renders an ActionKind name, used in log output and codec
// type-tag columns.
func (k ActionKind) String() string {
	switch k {
	case ActionMake:
		return "make"
	case ActionPut:
		return "put"
	case ActionInsert:
		return "insert"
	case ActionDelete:
		return "delete"
	case ActionIncrement:
		return "increment"
	case ActionMarkBegin:
		return "mark_begin"
	case ActionMarkEnd:
		return "mark_end"
	default:
		return "unknown"
	}
}

// ExpandPolicy governs how a mark's boundary behaves when new elements
// are inserted exactly at that boundary (spec §4.10).
type ExpandPolicy uint8

const (
	ExpandNone ExpandPolicy = iota
	ExpandBefore
	ExpandAfter
	ExpandBoth
)

func (e ExpandPolicy) String() string {
	switch e {
	case ExpandNone:
		return "none"
	case ExpandBefore:
		return "before"
	case ExpandAfter:
		return "after"
	case ExpandBoth:
		return "both"
	default:
		return "unknown"
	}
}

// Action is the payload of an Op, tagged by Kind. Only the fields
// relevant to Kind are populated; this mirrors the teacher's preference
// for a tagged sum type dispatched on an enum (see the spec's Design
// Notes: "sum types + dispatch on ObjType are preferred" over an
// inheritance hierarchy).
type Action struct {
	Kind ActionKind

	// ObjType is populated for ActionMake: the kind of container created.
	ObjType value.ObjType

	// Value is populated for ActionPut and ActionInsert: the scalar
	// written. For ActionMake, Put/Insert are not used — Make creates a
	// container, not a scalar.
	Value value.ScalarValue

	// IncrementBy is populated for ActionIncrement.
	IncrementBy int64

	// MarkName/MarkValue/Expand are populated for ActionMarkBegin (and
	// MarkName/Expand for ActionMarkEnd, to pair the two). MarkValue is
	// Null for a mark_clear pair (spec §4.10: "mark_clear ... is
	// equivalent to applying a MarkBegin/MarkEnd pair whose value is
	// null").
	MarkName  string
	MarkValue value.ScalarValue
	Expand    ExpandPolicy

	// MarkID is populated for ActionMarkEnd only: the OpId of the
	// ActionMarkBegin op this End closes. Two marks of the same name can
	// be open concurrently over different ranges, so pairing by OpId
	// (rather than by name alone) is required to sweep them correctly.
	MarkID opid.OpId
}

// Op is the unit of mutation (spec §3). Once appended to an OpStore it is
// never mutated except to grow Succ as later ops reference it in their
// Pred.
type Op struct {
	ID     opid.OpId
	Object opid.ObjId
	Key    opid.Key
	Action Action
	Pred   []opid.OpId
	Succ   []opid.OpId

	// Insert is true for sequence-insert ops: Key names the ElemId
	// *after* which this element is placed (Head for the front). For
	// ActionMake/ActionPut creating a fresh sequence element, Insert is
	// also true; subsequent non-insert writes at that element (Put,
	// Delete, Increment) have Insert=false.
	Insert bool
}

// ElemID reinterprets this op's own id as the ElemId it occupies. Valid
// only when Insert is true (spec §3: "the OpId of its insert op").
func (o *Op) ElemID() opid.ElemId {
	return opid.NewElemId(o.ID)
}

// String renders an Op for diagnostics (SPEC_FULL.md §A.1 log prefixing).
func (o *Op) String() string {
	return fmt.Sprintf("Op{id=%s obj=%s key=%s action=%s insert=%t}",
		o.ID, o.Object, o.Key, o.Action.Kind, o.Insert)
}
