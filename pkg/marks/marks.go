// Package marks computes the currently-active rich-text mark ranges of
// a sequence object by sweeping its MarkBegin/MarkEnd ops (spec §4.10).
//
// A mark range is recorded as a paired Begin/End op anchored at the
// sequence positions immediately before its start and its end; this
// package resolves those anchors back to external indices (reusing
// pkg/seqindex's cursor-style resolution, so a boundary anchored at a
// since-deleted element degrades gracefully to the next visible
// position) and consolidates overlapping same-name ranges by the
// "highest OpId wins the overlap" rule spec §4.10 specifies.
//
// The expand policy is realized through anchor choice, not bookkeeping:
// an expanding boundary is anchored after the element preceding it, so
// later inserts at the boundary share its anchor and land inside the
// mark; a non-expanding boundary is anchored at the boundary element
// itself, which later inserts push away.
package marks

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lattice-crdt/automerge/pkg/opstore"
	"github.com/lattice-crdt/automerge/pkg/seqindex"
	"github.com/lattice-crdt/automerge/pkg/value"

	"github.com/lattice-crdt/automerge/pkg/opid"
)

// ErrNotASequence is returned by Sweep when obj is not a List/Text
// object.
var ErrNotASequence = errors.New("marks: object is not a sequence")

// Range is one consolidated, non-overlapping active mark: the name,
// value, and external-index half-open interval [Start, End) it applies
// to.
type Range struct {
	Start int
	End   int
	Name  string
	Value value.ScalarValue
}

type interval struct {
	start, end int
	op         *opstore.Op
}

// boundaryPos resolves a mark boundary's anchor element to an external
// index. A boundary anchored in the after-form (pkg/txn's markAnchor)
// sits one past its anchor's rank; one anchored at the boundary element
// itself sits at that element's rank. A deleted anchor collapses both
// forms onto the next visible position, which seqindex's
// PositionForElem already computes.
func boundaryPos(idx *seqindex.Index, e opid.ElemId, afterForm bool) (int, bool) {
	if e.IsHead() {
		return 0, true
	}
	if p, ok := idx.PositionOf(e); ok {
		if afterForm {
			return p + 1, true
		}
		return p, true
	}
	return idx.PositionForElem(e)
}

// Sweep computes the active marks of a sequence object, consolidated
// into non-overlapping ranges per name, sorted by name then Start (spec
// §6 `marks`).
func Sweep(store *opstore.OpStore, obj opid.ObjId) ([]Range, error) {
	t, err := store.ObjectType(obj)
	if err != nil {
		return nil, err
	}
	if t != value.ObjList && t != value.ObjText {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotASequence, obj, t)
	}

	idx := seqindex.Build(store, obj)
	all := store.AllMarks(obj)

	begins := make(map[string]*opstore.Op)
	endsByBegin := make(map[string]*opstore.Op)
	for _, op := range all {
		switch op.Action.Kind {
		case opstore.ActionMarkBegin:
			begins[op.ID.String()] = op
		case opstore.ActionMarkEnd:
			endsByBegin[op.Action.MarkID.String()] = op
		}
	}

	byName := make(map[string][]interval)
	for key, b := range begins {
		startAfter := b.Action.Expand == opstore.ExpandBefore || b.Action.Expand == opstore.ExpandBoth
		startPos, ok := boundaryPos(idx, b.Key.ElemKey(), startAfter)
		if !ok {
			continue
		}
		endPos := idx.Len()
		if e, ok := endsByBegin[key]; ok {
			endAfter := e.Action.Expand != opstore.ExpandAfter && e.Action.Expand != opstore.ExpandBoth
			if p, ok := boundaryPos(idx, e.Key.ElemKey(), endAfter); ok {
				endPos = p
			}
		}
		if endPos < startPos {
			continue
		}
		byName[b.Action.MarkName] = append(byName[b.Action.MarkName], interval{startPos, endPos, b})
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Range
	for _, name := range names {
		for _, seg := range resolveOverlaps(byName[name]) {
			if seg.op.Action.MarkValue.IsNull() {
				continue // mark_clear: a null-valued winner means "no mark" here
			}
			out = append(out, Range{Start: seg.start, End: seg.end, Name: name, Value: seg.op.Action.MarkValue})
		}
	}
	return out, nil
}

// resolveOverlaps splits a name's intervals at every boundary point, and
// for each resulting sub-range picks the covering interval whose op has
// the highest OpId as the winner (spec §4.10: "the later-by-OpId value
// wins in the overlap region"), then merges adjacent sub-ranges that
// share the same winning op back together.
func resolveOverlaps(ivs []interval) []interval {
	if len(ivs) == 0 {
		return nil
	}
	boundarySet := make(map[int]bool, len(ivs)*2)
	for _, iv := range ivs {
		boundarySet[iv.start] = true
		boundarySet[iv.end] = true
	}
	bounds := make([]int, 0, len(boundarySet))
	for b := range boundarySet {
		bounds = append(bounds, b)
	}
	sort.Ints(bounds)

	var segments []interval
	for i := 0; i+1 < len(bounds); i++ {
		p0, p1 := bounds[i], bounds[i+1]
		if p0 >= p1 {
			continue
		}
		var winner *opstore.Op
		for _, iv := range ivs {
			if iv.start <= p0 && iv.end >= p1 {
				if winner == nil || iv.op.ID.Greater(winner.ID) {
					winner = iv.op
				}
			}
		}
		if winner == nil {
			continue
		}
		segments = append(segments, interval{p0, p1, winner})
	}

	var merged []interval
	for _, s := range segments {
		if n := len(merged); n > 0 && merged[n-1].end == s.start && merged[n-1].op.ID.Equal(s.op.ID) {
			merged[n-1].end = s.end
			continue
		}
		merged = append(merged, s)
	}
	return merged
}
