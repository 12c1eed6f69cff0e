package marks

import (
	"testing"

	"github.com/lattice-crdt/automerge/pkg/actorid"
	"github.com/lattice-crdt/automerge/pkg/clock"
	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/opstore"
	"github.com/lattice-crdt/automerge/pkg/txn"
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

// newText builds a text object containing "hello" and returns the store
// and object id.
func newText(t *testing.T, a actorid.ActorId) (*opstore.OpStore, opid.ObjId) {
	t.Helper()
	store := opstore.New()
	c := &clock.LamportClock{}
	seq := &clock.SeqTracker{}
	tx := txn.Begin(a, store, c, seq, nil)
	textObj, err := tx.MakeMap(opid.Root, "text", value.ObjText)
	require.NoError(t, err)
	for i, ch := range "hello" {
		_, err := tx.ListInsert(textObj, i, value.Str(string(ch)))
		require.NoError(t, err)
	}
	_, err = tx.Commit()
	require.NoError(t, err)
	return store, textObj
}

func TestSweep_SingleMark(t *testing.T) {
	t.Run("one_mark_over_a_subrange", func(t *testing.T) {
		a := actor("aaaa")
		store, textObj := newText(t, a)

		c := &clock.LamportClock{}
		c.Observe(10) // continue counters past the setup transaction
		seq := &clock.SeqTracker{}
		tx := txn.Begin(a, store, c, seq, nil)
		_, err := tx.Mark(textObj, 1, 3, "bold", value.Bool(true), opstore.ExpandNone)
		require.NoError(t, err)
		_, err = tx.Commit()
		require.NoError(t, err)

		ranges, err := Sweep(store, textObj)
		require.NoError(t, err)
		require.Len(t, ranges, 1)
		assert.Equal(t, Range{Start: 1, End: 3, Name: "bold"}, Range{Start: ranges[0].Start, End: ranges[0].End, Name: ranges[0].Name})
		b, ok := ranges[0].Value.AsBool()
		require.True(t, ok)
		assert.True(t, b)
	})
}

func TestSweep_OverlappingMarksSameName(t *testing.T) {
	t.Run("higher_opid_wins_the_overlap", func(t *testing.T) {
		a := actor("aaaa")
		store, textObj := newText(t, a)

		c := &clock.LamportClock{}
		c.Observe(10)
		seq := &clock.SeqTracker{}
		tx := txn.Begin(a, store, c, seq, nil)
		// First mark: [0,4) value "red".
		_, err := tx.Mark(textObj, 0, 4, "color", value.Str("red"), opstore.ExpandNone)
		require.NoError(t, err)
		// Second, later mark: [2,5) value "blue" — overlaps [2,4).
		_, err = tx.Mark(textObj, 2, 5, "color", value.Str("blue"), opstore.ExpandNone)
		require.NoError(t, err)
		_, err = tx.Commit()
		require.NoError(t, err)

		ranges, err := Sweep(store, textObj)
		require.NoError(t, err)
		require.Len(t, ranges, 2)

		assert.Equal(t, 0, ranges[0].Start)
		assert.Equal(t, 2, ranges[0].End)
		red, _ := ranges[0].Value.AsStr()
		assert.Equal(t, "red", red)

		assert.Equal(t, 2, ranges[1].Start)
		assert.Equal(t, 5, ranges[1].End)
		blue, _ := ranges[1].Value.AsStr()
		assert.Equal(t, "blue", blue)
	})
}

func TestSweep_MarkClearOmitsRange(t *testing.T) {
	t.Run("null_value_winner_produces_no_range", func(t *testing.T) {
		a := actor("aaaa")
		store, textObj := newText(t, a)

		c := &clock.LamportClock{}
		c.Observe(10)
		seq := &clock.SeqTracker{}
		tx := txn.Begin(a, store, c, seq, nil)
		_, err := tx.Mark(textObj, 0, 5, "bold", value.Bool(true), opstore.ExpandNone)
		require.NoError(t, err)
		_, err = tx.MarkClear(textObj, 0, 5, "bold", opstore.ExpandNone)
		require.NoError(t, err)
		_, err = tx.Commit()
		require.NoError(t, err)

		ranges, err := Sweep(store, textObj)
		require.NoError(t, err)
		assert.Empty(t, ranges)
	})
}

func TestSweep_ExpandPolicies(t *testing.T) {
	// markThenInsert marks "hello"[1,3) with the given policy, then
	// inserts "X" at position 1 in a later transaction and returns the
	// swept ranges.
	markThenInsert := func(t *testing.T, expand opstore.ExpandPolicy) []Range {
		t.Helper()
		a := actor("aaaa")
		store, textObj := newText(t, a)

		c := &clock.LamportClock{}
		c.Observe(10)
		seq := &clock.SeqTracker{}
		tx := txn.Begin(a, store, c, seq, nil)
		_, err := tx.Mark(textObj, 1, 3, "bold", value.Bool(true), expand)
		require.NoError(t, err)
		_, err = tx.Commit()
		require.NoError(t, err)

		tx2 := txn.Begin(a, store, c, seq, nil)
		_, err = tx2.ListInsert(textObj, 1, value.Str("X"))
		require.NoError(t, err)
		_, err = tx2.Commit()
		require.NoError(t, err)

		ranges, err := Sweep(store, textObj)
		require.NoError(t, err)
		return ranges
	}

	t.Run("non_expanding_start_leaves_boundary_inserts_outside", func(t *testing.T) {
		ranges := markThenInsert(t, opstore.ExpandNone)
		require.Len(t, ranges, 1)
		assert.Equal(t, 2, ranges[0].Start, "the insert pushed the marked run right")
		assert.Equal(t, 4, ranges[0].End)
	})

	t.Run("expanding_start_absorbs_boundary_inserts", func(t *testing.T) {
		ranges := markThenInsert(t, opstore.ExpandBoth)
		require.Len(t, ranges, 1)
		assert.Equal(t, 1, ranges[0].Start, "the insert landed inside the mark")
		assert.Equal(t, 4, ranges[0].End)
	})
}

func TestSweep_RejectsNonSequenceObject(t *testing.T) {
	t.Run("map_object_is_rejected", func(t *testing.T) {
		store := opstore.New()
		_, err := Sweep(store, opid.Root)
		require.Error(t, err)
	})
}
