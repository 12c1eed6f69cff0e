package materialize

import (
	"testing"
	"time"

	"github.com/lattice-crdt/automerge/pkg/actorid"
	"github.com/lattice-crdt/automerge/pkg/changelog"
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

// fixture is a store plus the clocks needed to run transactions on it.
type fixture struct {
	store *opstore.OpStore
	clock *clock.LamportClock
	seq   *clock.SeqTracker
	log   *changelog.Log
	actor actorid.ActorId
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		store: opstore.New(),
		clock: &clock.LamportClock{},
		seq:   &clock.SeqTracker{},
		log:   changelog.New(),
		actor: actor("aaaa"),
	}
}

func (f *fixture) begin() *txn.Transaction {
	return txn.Begin(f.actor, f.store, f.clock, f.seq, f.log.Heads())
}

func (f *fixture) commit(t *testing.T, tx *txn.Transaction, msg string) *changelog.Change {
	t.Helper()
	ids, err := tx.Commit()
	require.NoError(t, err)
	c, err := changelog.FromStaged(tx.Actor(), tx.Seq(), tx.Deps(), f.store, ids, msg, time.UnixMilli(int64(f.log.Len())+1))
	require.NoError(t, err)
	require.NoError(t, f.log.Add(c))
	return c
}

func TestKeysAndMapRange(t *testing.T) {
	t.Run("keys_sorted_and_range_half_open", func(t *testing.T) {
		f := newFixture(t)
		tx := f.begin()
		for _, k := range []string{"cherry", "apple", "banana"} {
			_, err := tx.PutMap(opid.Root, k, value.Int(1))
			require.NoError(t, err)
		}
		f.commit(t, tx, "")

		keys, err := Keys(f.store, opid.Root)
		require.NoError(t, err)
		assert.Equal(t, []string{"apple", "banana", "cherry"}, keys)

		entries, err := MapRange(f.store, opid.Root, "apple", "cherry")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "apple", entries[0].Key)
		assert.Equal(t, "banana", entries[1].Key)
	})

	t.Run("keys_on_a_list_object_errors", func(t *testing.T) {
		f := newFixture(t)
		tx := f.begin()
		listID, err := tx.MakeMap(opid.Root, "items", value.ObjList)
		require.NoError(t, err)
		f.commit(t, tx, "")

		_, err = Keys(f.store, listID)
		assert.ErrorIs(t, err, ErrNotAContainer)
	})
}

func TestGetMapKey(t *testing.T) {
	t.Run("absent_key_is_not_an_error", func(t *testing.T) {
		f := newFixture(t)
		_, ok, err := GetMapKey(f.store, opid.Root, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("nested_object_entry_reports_objid_not_value", func(t *testing.T) {
		f := newFixture(t)
		tx := f.begin()
		childID, err := tx.MakeMap(opid.Root, "profile", value.ObjMap)
		require.NoError(t, err)
		f.commit(t, tx, "")

		e, ok, err := GetMapKey(f.store, opid.Root, "profile")
		require.NoError(t, err)
		require.True(t, ok)
		require.True(t, e.IsObj)
		assert.True(t, e.ObjID.Equal(childID))
		assert.Equal(t, value.ObjMap, e.ObjType)
	})
}

func TestText(t *testing.T) {
	t.Run("flattens_runes_and_renders_objects_as_replacement_char", func(t *testing.T) {
		f := newFixture(t)
		tx := f.begin()
		textID, err := tx.MakeMap(opid.Root, "body", value.ObjText)
		require.NoError(t, err)
		for i, r := range "hi" {
			_, err = tx.ListInsert(textID, i, value.Str(string(r)))
			require.NoError(t, err)
		}
		_, err = tx.ListMakeObject(textID, 1, value.ObjMap)
		require.NoError(t, err)
		f.commit(t, tx, "")

		got, err := Text(f.store, textID)
		require.NoError(t, err)
		assert.Equal(t, "h￼i", got)
	})

	t.Run("text_on_a_map_errors", func(t *testing.T) {
		f := newFixture(t)
		_, err := Text(f.store, opid.Root)
		assert.ErrorIs(t, err, ErrNotAContainer)
	})
}

func TestListValues(t *testing.T) {
	t.Run("visible_elements_in_order_with_indices", func(t *testing.T) {
		f := newFixture(t)
		tx := f.begin()
		listID, err := tx.MakeMap(opid.Root, "items", value.ObjList)
		require.NoError(t, err)
		for i, s := range []string{"a", "b", "c"} {
			_, err = tx.ListInsert(listID, i, value.Str(s))
			require.NoError(t, err)
		}
		require.NoError(t, tx.ListDelete(listID, 1))
		f.commit(t, tx, "")

		entries, err := ListValues(f.store, listID)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		s0, _ := entries[0].Value.AsStr()
		s1, _ := entries[1].Value.AsStr()
		assert.Equal(t, "a", s0)
		assert.Equal(t, "c", s1)
		assert.Equal(t, 0, entries[0].Index)
		assert.Equal(t, 1, entries[1].Index)
	})
}

func TestAtHeads(t *testing.T) {
	t.Run("snapshot_excludes_changes_past_the_requested_frontier", func(t *testing.T) {
		f := newFixture(t)

		tx1 := f.begin()
		_, err := tx1.PutMap(opid.Root, "k", value.Str("v1"))
		require.NoError(t, err)
		c1 := f.commit(t, tx1, "first")

		tx2 := f.begin()
		_, err = tx2.PutMap(opid.Root, "k", value.Str("v2"))
		require.NoError(t, err)
		f.commit(t, tx2, "second")

		old, err := AtHeads(f.log, []changelog.Hash{c1.Hash()})
		require.NoError(t, err)
		e, ok, err := GetMapKey(old, opid.Root, "k")
		require.NoError(t, err)
		require.True(t, ok)
		s, _ := e.Value.AsStr()
		assert.Equal(t, "v1", s, "historical snapshot must not see the later overwrite")

		// the live store still resolves to the latest value
		e, ok, err = GetMapKey(f.store, opid.Root, "k")
		require.NoError(t, err)
		require.True(t, ok)
		s, _ = e.Value.AsStr()
		assert.Equal(t, "v2", s)
	})

	t.Run("unknown_head_errors", func(t *testing.T) {
		f := newFixture(t)
		_, err := AtHeads(f.log, []changelog.Hash{{0xde, 0xad}})
		assert.ErrorIs(t, err, ErrUnknownHead)
	})
}

func TestHeadsFingerprint(t *testing.T) {
	t.Run("order_insensitive_and_distinct_per_set", func(t *testing.T) {
		h1 := changelog.Hash{1}
		h2 := changelog.Hash{2}
		assert.Equal(t, HeadsFingerprint([]changelog.Hash{h1, h2}), HeadsFingerprint([]changelog.Hash{h2, h1}))
		assert.NotEqual(t, HeadsFingerprint([]changelog.Hash{h1}), HeadsFingerprint([]changelog.Hash{h2}))
	})
}
