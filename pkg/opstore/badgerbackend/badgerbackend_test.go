package badgerbackend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-crdt/automerge/pkg/actorid"
	"github.com/lattice-crdt/automerge/pkg/changelog"
	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/opstore"
	"github.com/lattice-crdt/automerge/pkg/value"
)

func actor(hex string) actorid.ActorId {
	a, err := actorid.FromHex(hex)
	if err != nil {
		panic(err)
	}
	return a
}

func change(a actorid.ActorId, seq uint64, deps []changelog.Hash, key string, v int64) *changelog.Change {
	op := opstore.Op{
		ID:     opid.NewOpId(seq, a),
		Object: opid.Root,
		Key:    opid.MapKey(key),
		Action: opstore.Action{Kind: opstore.ActionPut, Value: value.Int(v)},
	}
	return changelog.NewChange(a, seq, deps, []opstore.Op{op}, "", time.Unix(0, 0))
}

func TestStore_AppendAndLoadAll(t *testing.T) {
	t.Run("round_trips_a_single_change", func(t *testing.T) {
		s, err := OpenInMemory()
		require.NoError(t, err)
		defer s.Close()

		c := change(actor("aaaa"), 1, nil, "k", 1)
		require.NoError(t, s.AppendChange(c))

		has, err := s.Has(c.Hash())
		require.NoError(t, err)
		assert.True(t, has)

		loaded, err := s.LoadAll()
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.Equal(t, c.Hash(), loaded[0].Hash())
	})

	t.Run("preserves_append_order", func(t *testing.T) {
		s, err := OpenInMemory()
		require.NoError(t, err)

		a := actor("aaaa")
		c1 := change(a, 1, nil, "k1", 1)
		c2 := change(a, 2, []changelog.Hash{c1.Hash()}, "k2", 2)
		c3 := change(a, 3, []changelog.Hash{c2.Hash()}, "k3", 3)

		require.NoError(t, s.AppendChange(c1))
		require.NoError(t, s.AppendChange(c2))
		require.NoError(t, s.AppendChange(c3))

		loaded, err := s.LoadAll()
		require.NoError(t, err)
		require.Len(t, loaded, 3)
		assert.Equal(t, []changelog.Hash{c1.Hash(), c2.Hash(), c3.Hash()},
			[]changelog.Hash{loaded[0].Hash(), loaded[1].Hash(), loaded[2].Hash()})
	})

	t.Run("re_appending_the_same_change_is_a_no_op", func(t *testing.T) {
		s, err := OpenInMemory()
		require.NoError(t, err)
		defer s.Close()

		c := change(actor("aaaa"), 1, nil, "k", 1)
		require.NoError(t, s.AppendChange(c))
		require.NoError(t, s.AppendChange(c))

		loaded, err := s.LoadAll()
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
	})

	t.Run("methods_fail_after_close", func(t *testing.T) {
		s, err := OpenInMemory()
		require.NoError(t, err)
		require.NoError(t, s.Close())
		require.NoError(t, s.Close()) // idempotent

		c := change(actor("aaaa"), 1, nil, "k", 1)
		err = s.AppendChange(c)
		assert.ErrorIs(t, err, ErrClosed)

		_, err = s.LoadAll()
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestStore_OpenWithOptions(t *testing.T) {
	t.Run("persists_to_disk_across_reopen", func(t *testing.T) {
		dir := t.TempDir()

		s, err := Open(dir)
		require.NoError(t, err)
		c := change(actor("aaaa"), 1, nil, "k", 1)
		require.NoError(t, s.AppendChange(c))
		require.NoError(t, s.Close())

		reopened, err := Open(dir)
		require.NoError(t, err)
		defer reopened.Close()

		loaded, err := reopened.LoadAll()
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.Equal(t, c.Hash(), loaded[0].Hash())
	})
}
