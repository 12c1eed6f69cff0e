// Package seqindex derives the visible, externally-addressable ordering
// of a sequence object (List or Text) from the insert ops an OpStore
// holds for it — the RGA (Replicated Growable Array) traversal described
// in spec §4.3.
//
// Every insert op names the ElemId it was inserted directly after (its
// "anchor", carried in Op.Key). Concurrent inserts sharing the same
// anchor are total-ordered by descending OpId (spec §4.3: "concurrent
// insertions at the same position are ordered by descending (counter,
// actor)", matching the conflict-resolver tie-break in pkg/resolve).
// Traversal visits each anchor, then recursively descends into its
// children before moving to the anchor's next sibling — a pre-order walk
// of the insertion tree — which is exactly how an RGA's linked
// representation is conventionally linearized.
package seqindex

import (
	"fmt"

	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/opstore"
)

// Index is a derived, read-only view of one sequence object's current
// element order. It is built fresh from the OpStore on demand; callers
// that mutate the store should rebuild the Index before relying on it
// again (spec Design Notes: "no additional state beyond the op graph is
// kept across calls").
type Index struct {
	store *opstore.OpStore
	obj   opid.ObjId

	// order is the full pre-order traversal, tombstones included.
	order []*opstore.Op

	// visible is the subsequence of order whose ops are not deleted —
	// this is the externally-visible position space pkg/document exposes.
	visible []*opstore.Op

	// posOf maps an ElemId's string form to its index in visible, for
	// O(1) cursor-position resolution.
	posOf map[string]int

	// fullPosOf maps an ElemId's string form to its index in order
	// (tombstones included), and prefixVisible[i] is the count of
	// visible ops in order[0:i] (exclusive prefix sum, length
	// len(order)+1). Together these let PositionForElem resolve a
	// possibly-deleted ElemId to "the position of the next visible
	// element, or Len() if none" in O(1) (spec §4.9: cursor-position
	// resolution of a deleted element).
	fullPosOf     map[string]int
	prefixVisible []int
}

// Build derives the current Index for a sequence object.
func Build(store *opstore.OpStore, obj opid.ObjId) *Index {
	inserts := store.InsertOpsOf(obj)

	children := make(map[string][]*opstore.Op, len(inserts))
	for _, op := range inserts {
		anchor := anchorKey(op)
		children[anchor] = append(children[anchor], op)
	}
	for k := range children {
		sortDescendingByID(children[k])
	}

	idx := &Index{store: store, obj: obj, posOf: make(map[string]int, len(inserts))}
	idx.order = make([]*opstore.Op, 0, len(inserts))
	idx.walk(opid.Head, children)

	idx.visible = make([]*opstore.Op, 0, len(idx.order))
	idx.fullPosOf = make(map[string]int, len(idx.order))
	idx.prefixVisible = make([]int, len(idx.order)+1)
	for i, op := range idx.order {
		idx.fullPosOf[op.ElemID().String()] = i
		idx.prefixVisible[i+1] = idx.prefixVisible[i]
		if store.IsDeleted(op) {
			continue
		}
		idx.posOf[op.ElemID().String()] = len(idx.visible)
		idx.prefixVisible[i+1]++
		idx.visible = append(idx.visible, op)
	}
	return idx
}

func anchorKey(op *opstore.Op) string {
	return op.Key.String()
}

func (idx *Index) walk(anchor opid.ElemId, children map[string][]*opstore.Op) {
	for _, op := range children[anchor.String()] {
		idx.order = append(idx.order, op)
		idx.walk(op.ElemID(), children)
	}
}

// sortDescendingByID orders concurrent siblings by descending (counter,
// actor), the tie-break spec §4.3 requires.
func sortDescendingByID(ops []*opstore.Op) {
	for i := 1; i < len(ops); i++ {
		j := i
		for j > 0 && ops[j-1].ID.Less(ops[j].ID) {
			ops[j-1], ops[j] = ops[j], ops[j-1]
			j--
		}
	}
}

// Len returns the number of visible elements.
func (idx *Index) Len() int { return len(idx.visible) }

// ElemAt returns the ElemId at a visible position. pos must satisfy
// 0 <= pos < Len().
func (idx *Index) ElemAt(pos int) (opid.ElemId, error) {
	if pos < 0 || pos >= len(idx.visible) {
		return opid.ElemId{}, fmt.Errorf("seqindex: position %d out of range [0,%d)", pos, len(idx.visible))
	}
	return idx.visible[pos].ElemID(), nil
}

// OpAt returns the insert op occupying a visible position.
func (idx *Index) OpAt(pos int) (*opstore.Op, error) {
	if pos < 0 || pos >= len(idx.visible) {
		return nil, fmt.Errorf("seqindex: position %d out of range [0,%d)", pos, len(idx.visible))
	}
	return idx.visible[pos], nil
}

// PositionOf returns the visible index of an ElemId, or false if it is
// Head, unknown, or currently deleted. It only reports current
// visibility; resolving a deleted element to a position is done by
// PositionForElem.
func (idx *Index) PositionOf(elem opid.ElemId) (int, bool) {
	if elem.IsHead() {
		return -1, false
	}
	pos, ok := idx.posOf[elem.String()]
	return pos, ok
}

// PositionForElem resolves any known ElemId — visible or deleted — to an
// external index: the element's own rank if it is visible, or the rank
// the next visible element would occupy if it is deleted (spec §4.9:
// "if the element is currently deleted, the returned index is that of
// the next visible element (or the sequence length if none)"). Head
// always resolves to 0. ok is false only if elem names an insert op this
// Index has never seen.
func (idx *Index) PositionForElem(elem opid.ElemId) (int, bool) {
	if elem.IsHead() {
		return 0, true
	}
	fullPos, ok := idx.fullPosOf[elem.String()]
	if !ok {
		return 0, false
	}
	return idx.prefixVisible[fullPos], true
}

// AnchorForInsertAt returns the ElemId a new insert op's Key should name
// in order to land at visible position pos (spec §4.3: an insert's Key
// is "the ElemId after which the new element is placed"). Inserting at
// pos == Len() appends at the end.
func (idx *Index) AnchorForInsertAt(pos int) (opid.ElemId, error) {
	if pos < 0 || pos > len(idx.visible) {
		return opid.ElemId{}, fmt.Errorf("seqindex: insert position %d out of range [0,%d]", pos, len(idx.visible))
	}
	if pos == 0 {
		return opid.Head, nil
	}
	return idx.visible[pos-1].ElemID(), nil
}

// FullOrder returns every insert op in traversal order, tombstones
// included (spec §4.7: "delete ops are retained, not erased").
func (idx *Index) FullOrder() []*opstore.Op {
	return idx.order
}

// VisibleOps returns every currently-visible op in traversal order.
func (idx *Index) VisibleOps() []*opstore.Op {
	return idx.visible
}
