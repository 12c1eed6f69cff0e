package seqindex

import (
	"testing"

	"github.com/lattice-crdt/automerge/pkg/actorid"
	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/opstore"
	"github.com/lattice-crdt/automerge/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func actor(hex string) actorid.ActorId {
	a, err := actorid.FromHex(hex)
	if err != nil {
		panic(err)
	}
	return a
}

// newListStore builds an OpStore with a single list object at root key
// "items" and returns (store, listObj).
func newListStore(t *testing.T) (*opstore.OpStore, opid.ObjId) {
	t.Helper()
	s := opstore.New()
	makeID := opid.NewOpId(1, actor("aaaa"))
	_, err := s.Append(opstore.Op{
		ID:     makeID,
		Object: opid.Root,
		Key:    opid.MapKey("items"),
		Action: opstore.Action{Kind: opstore.ActionMake, ObjType: value.ObjList},
	})
	require.NoError(t, err)
	return s, opid.NewObjId(makeID)
}

func insertAt(t *testing.T, s *opstore.OpStore, listObj opid.ObjId, counter uint64, a actorid.ActorId, anchor opid.ElemId, v string) opid.OpId {
	t.Helper()
	id := opid.NewOpId(counter, a)
	_, err := s.Append(opstore.Op{
		ID:     id,
		Object: listObj,
		Key:    opid.SeqKey(anchor),
		Action: opstore.Action{Kind: opstore.ActionInsert, Value: value.Str(v)},
		Insert: true,
	})
	require.NoError(t, err)
	return id
}

func TestIndex_SequentialInsertsAtHead(t *testing.T) {
	t.Run("each_insert_at_head_reverses_order", func(t *testing.T) {
		s, list := newListStore(t)
		a := insertAt(t, s, list, 2, actor("aaaa"), opid.Head, "a")
		b := insertAt(t, s, list, 3, actor("aaaa"), opid.Head, "b")
		c := insertAt(t, s, list, 4, actor("aaaa"), opid.Head, "c")

		idx := Build(s, list)
		require.Equal(t, 3, idx.Len())

		e0, _ := idx.ElemAt(0)
		e1, _ := idx.ElemAt(1)
		e2, _ := idx.ElemAt(2)
		assert.True(t, e0.Equal(opid.NewElemId(c)))
		assert.True(t, e1.Equal(opid.NewElemId(b)))
		assert.True(t, e2.Equal(opid.NewElemId(a)))
	})
}

func TestIndex_ConcurrentSiblingsOrderByDescendingID(t *testing.T) {
	t.Run("same_anchor_concurrent_inserts_order_highest_id_first", func(t *testing.T) {
		s, list := newListStore(t)
		base := insertAt(t, s, list, 2, actor("aaaa"), opid.Head, "base")
		// Two concurrent inserts both anchored after `base`.
		lo := insertAt(t, s, list, 3, actor("aaaa"), opid.NewElemId(base), "lo")
		hi := insertAt(t, s, list, 4, actor("bbbb"), opid.NewElemId(base), "hi")

		idx := Build(s, list)
		require.Equal(t, 3, idx.Len())
		e0, _ := idx.ElemAt(0)
		e1, _ := idx.ElemAt(1)
		e2, _ := idx.ElemAt(2)
		assert.True(t, e0.Equal(opid.NewElemId(base)))
		assert.True(t, e1.Equal(opid.NewElemId(hi)))
		assert.True(t, e2.Equal(opid.NewElemId(lo)))
	})
}

func TestIndex_DeletedElementsAreHiddenButTracked(t *testing.T) {
	t.Run("delete_removes_from_visible_but_not_full_order", func(t *testing.T) {
		s, list := newListStore(t)
		a := insertAt(t, s, list, 2, actor("aaaa"), opid.Head, "a")
		insertAt(t, s, list, 3, actor("aaaa"), opid.NewElemId(a), "b")

		_, err := s.Append(opstore.Op{
			ID:     opid.NewOpId(4, actor("aaaa")),
			Object: list,
			Key:    opid.SeqKey(opid.NewElemId(a)),
			Action: opstore.Action{Kind: opstore.ActionDelete},
			Pred:   []opid.OpId{a},
		})
		require.NoError(t, err)

		idx := Build(s, list)
		assert.Equal(t, 1, idx.Len())
		assert.Len(t, idx.FullOrder(), 2)
	})
}

func TestIndex_AnchorForInsertAt(t *testing.T) {
	t.Run("position_zero_anchors_at_head", func(t *testing.T) {
		s, list := newListStore(t)
		idx := Build(s, list)
		anchor, err := idx.AnchorForInsertAt(0)
		require.NoError(t, err)
		assert.True(t, anchor.IsHead())
	})

	t.Run("end_position_anchors_at_last_visible_element", func(t *testing.T) {
		s, list := newListStore(t)
		a := insertAt(t, s, list, 2, actor("aaaa"), opid.Head, "a")
		idx := Build(s, list)
		anchor, err := idx.AnchorForInsertAt(1)
		require.NoError(t, err)
		assert.True(t, anchor.Equal(opid.NewElemId(a)))
	})

	t.Run("out_of_range_position_errors", func(t *testing.T) {
		s, list := newListStore(t)
		idx := Build(s, list)
		_, err := idx.AnchorForInsertAt(5)
		require.Error(t, err)
	})
}

func TestIndex_PositionOf(t *testing.T) {
	t.Run("resolves_visible_elements", func(t *testing.T) {
		s, list := newListStore(t)
		a := insertAt(t, s, list, 2, actor("aaaa"), opid.Head, "a")
		idx := Build(s, list)
		pos, ok := idx.PositionOf(opid.NewElemId(a))
		require.True(t, ok)
		assert.Equal(t, 0, pos)
	})

	t.Run("head_is_never_resolvable", func(t *testing.T) {
		s, list := newListStore(t)
		idx := Build(s, list)
		_, ok := idx.PositionOf(opid.Head)
		assert.False(t, ok)
	})
}

func TestIndex_PositionForElem(t *testing.T) {
	t.Run("head_resolves_to_zero", func(t *testing.T) {
		s, list := newListStore(t)
		idx := Build(s, list)
		pos, ok := idx.PositionForElem(opid.Head)
		require.True(t, ok)
		assert.Equal(t, 0, pos)
	})

	t.Run("visible_element_resolves_to_its_own_rank", func(t *testing.T) {
		s, list := newListStore(t)
		a := insertAt(t, s, list, 2, actor("aaaa"), opid.Head, "a")
		b := insertAt(t, s, list, 3, actor("aaaa"), opid.NewElemId(a), "b")
		idx := Build(s, list)
		pos, ok := idx.PositionForElem(opid.NewElemId(b))
		require.True(t, ok)
		assert.Equal(t, 1, pos)
	})

	t.Run("deleted_element_resolves_to_next_visible_position", func(t *testing.T) {
		s, list := newListStore(t)
		a := insertAt(t, s, list, 2, actor("aaaa"), opid.Head, "a")
		b := insertAt(t, s, list, 3, actor("aaaa"), opid.NewElemId(a), "b")

		_, err := s.Append(opstore.Op{
			ID:     opid.NewOpId(4, actor("aaaa")),
			Object: list,
			Key:    opid.SeqKey(opid.NewElemId(b)),
			Action: opstore.Action{Kind: opstore.ActionDelete},
			Pred:   []opid.OpId{b},
		})
		require.NoError(t, err)

		idx := Build(s, list)
		pos, ok := idx.PositionForElem(opid.NewElemId(b))
		require.True(t, ok)
		assert.Equal(t, 1, pos, "b was at rank 1; its deletion leaves no successor so it still reports rank 1 (== new Len())")
		assert.Equal(t, idx.Len(), pos)
	})

	t.Run("deletion_of_trailing_tail_element_resolves_to_length", func(t *testing.T) {
		s, list := newListStore(t)
		a := insertAt(t, s, list, 2, actor("aaaa"), opid.Head, "a")

		_, err := s.Append(opstore.Op{
			ID:     opid.NewOpId(3, actor("aaaa")),
			Object: list,
			Key:    opid.SeqKey(opid.NewElemId(a)),
			Action: opstore.Action{Kind: opstore.ActionDelete},
			Pred:   []opid.OpId{a},
		})
		require.NoError(t, err)

		idx := Build(s, list)
		pos, ok := idx.PositionForElem(opid.NewElemId(a))
		require.True(t, ok)
		assert.Equal(t, 0, pos)
		assert.Equal(t, idx.Len(), pos)
	})

	t.Run("unknown_elem_is_not_ok", func(t *testing.T) {
		s, list := newListStore(t)
		idx := Build(s, list)
		phantom := opid.NewElemId(opid.NewOpId(99, actor("eeee")))
		_, ok := idx.PositionForElem(phantom)
		assert.False(t, ok)
	})
}
