package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-crdt/automerge/pkg/docconfig"
	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/value"
)

func TestOpenPersistent(t *testing.T) {
	t.Run("survives_reopen_with_same_data_dir", func(t *testing.T) {
		dir := t.TempDir()
		cfg := docconfig.Default()
		cfg.DataDir = dir

		d, err := OpenPersistent(actor("aaaa"), cfg)
		require.NoError(t, err)

		_, err = d.MapPut(opid.Root, "k", value.Str("v1"))
		require.NoError(t, err)
		_, _, err = d.Commit("seed", time.Now())
		require.NoError(t, err)
		require.NoError(t, d.Close())

		reopened, err := OpenPersistent(actor("aaaa"), cfg)
		require.NoError(t, err)
		defer reopened.Close()

		entry, ok, err := reopened.MapGet(opid.Root, "k")
		require.NoError(t, err)
		require.True(t, ok)
		s, _ := entry.Value.AsStr()
		assert.Equal(t, "v1", s)
	})

	t.Run("commit_after_reopen_extends_persisted_history", func(t *testing.T) {
		dir := t.TempDir()
		cfg := docconfig.Default()
		cfg.DataDir = dir

		d, err := OpenPersistent(actor("aaaa"), cfg)
		require.NoError(t, err)
		_, err = d.MapPut(opid.Root, "k1", value.Int(1))
		require.NoError(t, err)
		_, _, err = d.Commit("", time.Now())
		require.NoError(t, err)
		require.NoError(t, d.Close())

		reopened, err := OpenPersistent(actor("aaaa"), cfg)
		require.NoError(t, err)
		_, err = reopened.MapPut(opid.Root, "k2", value.Int(2))
		require.NoError(t, err)
		_, _, err = reopened.Commit("", time.Now())
		require.NoError(t, err)
		require.NoError(t, reopened.Close())

		final, err := OpenPersistent(actor("aaaa"), cfg)
		require.NoError(t, err)
		defer final.Close()

		require.Len(t, final.GetHeads(), 1)
		e1, ok, err := final.MapGet(opid.Root, "k1")
		require.NoError(t, err)
		require.True(t, ok)
		i1, _ := e1.Value.AsInt()
		assert.Equal(t, int64(1), i1)

		e2, ok, err := final.MapGet(opid.Root, "k2")
		require.NoError(t, err)
		require.True(t, ok)
		i2, _ := e2.Value.AsInt()
		assert.Equal(t, int64(2), i2)
	})
}
