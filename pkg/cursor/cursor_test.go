package cursor

import (
	"testing"

	"github.com/lattice-crdt/automerge/pkg/actorid"
	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/opstore"
	"github.com/lattice-crdt/automerge/pkg/seqindex"
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

func newTextStore(t *testing.T) (*opstore.OpStore, opid.ObjId) {
	t.Helper()
	s := opstore.New()
	makeID := opid.NewOpId(1, actor("aaaa"))
	_, err := s.Append(opstore.Op{
		ID:     makeID,
		Object: opid.Root,
		Key:    opid.MapKey("text"),
		Action: opstore.Action{Kind: opstore.ActionMake, ObjType: value.ObjText},
	})
	require.NoError(t, err)
	return s, opid.NewObjId(makeID)
}

func insertChar(t *testing.T, s *opstore.OpStore, obj opid.ObjId, counter uint64, a actorid.ActorId, anchor opid.ElemId, ch string) opid.OpId {
	t.Helper()
	id := opid.NewOpId(counter, a)
	_, err := s.Append(opstore.Op{
		ID:     id,
		Object: obj,
		Key:    opid.SeqKey(anchor),
		Action: opstore.Action{Kind: opstore.ActionInsert, Value: value.Str(ch)},
		Insert: true,
	})
	require.NoError(t, err)
	return id
}

func TestCursor_StringRoundTrip(t *testing.T) {
	t.Run("regular_element_round_trips", func(t *testing.T) {
		c := New(opid.NewElemId(opid.NewOpId(7, actor("aabbcc"))))
		parsed, err := FromStr(c.ToStr())
		require.NoError(t, err)
		assert.True(t, c.Equal(parsed))
	})

	t.Run("head_round_trips", func(t *testing.T) {
		c := New(opid.Head)
		assert.Equal(t, "head", c.ToStr())
		parsed, err := FromStr(c.ToStr())
		require.NoError(t, err)
		assert.True(t, c.Equal(parsed))
	})
}

func TestCursor_BytesRoundTrip(t *testing.T) {
	t.Run("regular_element_round_trips", func(t *testing.T) {
		c := New(opid.NewElemId(opid.NewOpId(42, actor("ddeeff"))))
		parsed, err := FromBytes(c.ToBytes())
		require.NoError(t, err)
		assert.True(t, c.Equal(parsed))
	})

	t.Run("head_round_trips", func(t *testing.T) {
		c := New(opid.Head)
		parsed, err := FromBytes(c.ToBytes())
		require.NoError(t, err)
		assert.True(t, c.Equal(parsed))
	})

	t.Run("short_buffer_is_rejected", func(t *testing.T) {
		_, err := FromBytes([]byte{1, 2, 3})
		require.Error(t, err)
	})
}

func TestCursor_GetAndPosition(t *testing.T) {
	t.Run("stable_across_insertion_before_it", func(t *testing.T) {
		s, text := newTextStore(t)
		h := insertChar(t, s, text, 2, actor("aaaa"), opid.Head, "h")
		insertChar(t, s, text, 3, actor("aaaa"), opid.NewElemId(h), "i")

		idx := seqindex.Build(s, text)
		c, err := Get(idx, 1)
		require.NoError(t, err)
		pos, err := Position(idx, c)
		require.NoError(t, err)
		assert.Equal(t, 1, pos)

		// Insert a new element at position 0, shifting everything right.
		insertChar(t, s, text, 4, actor("aaaa"), opid.Head, "H")
		idx2 := seqindex.Build(s, text)
		pos2, err := Position(idx2, c)
		require.NoError(t, err)
		assert.Equal(t, 2, pos2)
	})

	t.Run("deleted_element_resolves_to_next_visible", func(t *testing.T) {
		s, text := newTextStore(t)
		a := insertChar(t, s, text, 2, actor("aaaa"), opid.Head, "a")
		b := insertChar(t, s, text, 3, actor("aaaa"), opid.NewElemId(a), "b")

		idx := seqindex.Build(s, text)
		c, err := Get(idx, 0) // points at "a"
		require.NoError(t, err)

		_, err = s.Append(opstore.Op{
			ID:     opid.NewOpId(4, actor("aaaa")),
			Object: text,
			Key:    opid.SeqKey(opid.NewElemId(a)),
			Action: opstore.Action{Kind: opstore.ActionDelete},
			Pred:   []opid.OpId{a},
		})
		require.NoError(t, err)
		_ = b

		idx2 := seqindex.Build(s, text)
		pos, err := Position(idx2, c)
		require.NoError(t, err)
		assert.Equal(t, 0, pos, "next visible element (b) is now at position 0")
	})

	t.Run("empty_object_cursor_at_index_zero_is_head", func(t *testing.T) {
		s, text := newTextStore(t)
		idx := seqindex.Build(s, text)
		c, err := Get(idx, 0)
		require.NoError(t, err)
		assert.True(t, c.elem.IsHead())
		pos, err := Position(idx, c)
		require.NoError(t, err)
		assert.Equal(t, 0, pos)
	})
}

func TestCursor_ValidateAgainst(t *testing.T) {
	t.Run("unknown_element_is_invalid", func(t *testing.T) {
		s, text := newTextStore(t)
		idx := seqindex.Build(s, text)
		phantom := New(opid.NewElemId(opid.NewOpId(99, actor("eeee"))))
		err := ValidateAgainst(s, idx, phantom)
		require.Error(t, err)
	})

	t.Run("head_always_valid", func(t *testing.T) {
		s, text := newTextStore(t)
		idx := seqindex.Build(s, text)
		err := ValidateAgainst(s, idx, New(opid.Head))
		require.NoError(t, err)
	})
}
