// Package opid defines the identity types the op graph is built from:
// OpId (the identity of a single operation), ObjId (the identity of a
// container object), ElemId (the identity of a sequence slot), and Key
// (the union of map-key and sequence-position addressing).
//
// These are small, comparable value types by design — they are used as
// map keys throughout pkg/opstore and pkg/seqindex, so equality and a
// total order must be cheap and exact.
package opid

import (
	"fmt"

	"github.com/lattice-crdt/automerge/pkg/actorid"
)

// OpId is the globally-unique identity of a single operation: the Lamport
// counter of the issuing actor at emission time, paired with that actor's
// id. Comparison order is (counter, actor) ascending (spec §3).
type OpId struct {
	Counter uint64
	Actor   actorid.ActorId
}

// NewOpId constructs an OpId from its parts.
func NewOpId(counter uint64, actor actorid.ActorId) OpId {
	return OpId{Counter: counter, Actor: actor}
}

// String renders an OpId as "counter@actorHex", the diagnostic form used
// throughout log output (SPEC_FULL.md §C).
func (id OpId) String() string {
	return fmt.Sprintf("%d@%s", id.Counter, id.Actor.String())
}

// Equal reports whether two OpIds name the same operation.
func (id OpId) Equal(other OpId) bool {
	return id.Counter == other.Counter && id.Actor.Equal(other.Actor)
}

// Less implements the ascending (counter, actor) order from spec §3.
func (id OpId) Less(other OpId) bool {
	if id.Counter != other.Counter {
		return id.Counter < other.Counter
	}
	return id.Actor.Less(other.Actor)
}

// Greater is the reverse of Less: the descending (counter, actor) order
// that the RGA insertion order and the conflict-resolver tie-break
// follow (spec §4.3, §4.4). pkg/marks calls it to pick the winning mark.
func (id OpId) Greater(other OpId) bool {
	if id.Counter != other.Counter {
		return id.Counter > other.Counter
	}
	return other.Actor.Less(id.Actor)
}

// Compare returns -1, 0, or 1 following the ascending (counter, actor)
// order.
func (id OpId) Compare(other OpId) int {
	switch {
	case id.Counter < other.Counter:
		return -1
	case id.Counter > other.Counter:
		return 1
	}
	return id.Actor.Compare(other.Actor)
}

// ObjId names a container object: either the OpId of the operation that
// created it, or the distinguished Root (the implicit top-level map).
type ObjId struct {
	id     OpId
	isRoot bool
}

// Root is the implicit top-level map every document starts with.
var Root = ObjId{isRoot: true}

// NewObjId wraps the OpId of a Make operation as an object identity.
func NewObjId(id OpId) ObjId {
	return ObjId{id: id}
}

// IsRoot reports whether this ObjId names the document root.
func (o ObjId) IsRoot() bool { return o.isRoot }

// OpId returns the underlying creating-operation id. Calling this on Root
// returns the zero OpId; callers should check IsRoot first.
func (o ObjId) OpId() OpId { return o.id }

// Equal reports whether two ObjIds name the same object.
func (o ObjId) Equal(other ObjId) bool {
	if o.isRoot || other.isRoot {
		return o.isRoot == other.isRoot
	}
	return o.id.Equal(other.id)
}

// String renders an ObjId for diagnostics: "_root" or "counter@actorHex".
func (o ObjId) String() string {
	if o.isRoot {
		return "_root"
	}
	return o.id.String()
}

// ElemId names a position slot in a sequence: the OpId of the insert
// operation that created the slot, or the distinguished Head sentinel
// denoting the position before the first element.
type ElemId struct {
	id     OpId
	isHead bool
}

// Head denotes the position before the first element of a sequence.
var Head = ElemId{isHead: true}

// NewElemId wraps the OpId of an insert operation as an element identity.
func NewElemId(id OpId) ElemId {
	return ElemId{id: id}
}

// IsHead reports whether this is the Head sentinel.
func (e ElemId) IsHead() bool { return e.isHead }

// OpId returns the underlying insert-operation id. Calling this on Head
// returns the zero OpId; callers should check IsHead first.
func (e ElemId) OpId() OpId { return e.id }

// Equal reports whether two ElemIds name the same slot.
func (e ElemId) Equal(other ElemId) bool {
	if e.isHead || other.isHead {
		return e.isHead == other.isHead
	}
	return e.id.Equal(other.id)
}

// String renders an ElemId for diagnostics: "_head" or "counter@actorHex".
func (e ElemId) String() string {
	if e.isHead {
		return "_head"
	}
	return e.id.String()
}

// AsObjId reinterprets this element's insert-op id as an object id, used
// when a list/text element itself holds a nested Map/List/Text object
// (spec §3: ObjId is "an OpId designating an object").
func (e ElemId) AsObjId() ObjId {
	return NewObjId(e.id)
}

// Key is the union of the two addressing schemes an op's `key` field can
// carry: a UTF-8 map key, or the ElemId of the sequence slot after which
// an insert occurs / at which a non-insert op applies (spec §3).
type Key struct {
	mapKey string
	elem   ElemId
	isMap  bool
	isElem bool
}

// MapKey constructs a map-addressed Key.
func MapKey(k string) Key { return Key{mapKey: k, isMap: true} }

// SeqKey constructs a sequence-addressed Key from an ElemId (or Head).
func SeqKey(e ElemId) Key { return Key{elem: e, isElem: true} }

// IsMapKey reports whether this Key addresses a map.
func (k Key) IsMapKey() bool { return k.isMap }

// IsSeqKey reports whether this Key addresses a sequence position.
func (k Key) IsSeqKey() bool { return k.isElem }

// MapKeyString returns the map key string. Valid only when IsMapKey.
func (k Key) MapKeyString() string { return k.mapKey }

// ElemKey returns the sequence ElemId. Valid only when IsSeqKey.
func (k Key) ElemKey() ElemId { return k.elem }

// Equal reports whether two Keys address the same slot.
func (k Key) Equal(other Key) bool {
	if k.isMap != other.isMap {
		return false
	}
	if k.isMap {
		return k.mapKey == other.mapKey
	}
	return k.elem.Equal(other.elem)
}

// String renders a Key for diagnostics.
func (k Key) String() string {
	if k.isMap {
		return k.mapKey
	}
	return k.elem.String()
}
