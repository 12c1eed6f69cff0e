package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLamportClock_NextCounter(t *testing.T) {
	t.Run("starts_at_one", func(t *testing.T) {
		var c LamportClock
		assert.Equal(t, uint64(1), c.NextCounter())
	})

	t.Run("two_actors_forked_from_same_point_mint_same_counter", func(t *testing.T) {
		// Simulates S2: A commits op at counter 1, forks to B and C.
		// Each of B and C independently observes the forked history
		// (watermark 1) and then mints their own next op.
		var a, b, c LamportClock
		a.Observe(1)
		b.Observe(1) // fork of A's history
		c.Observe(1) // fork of A's history

		assert.Equal(t, uint64(2), b.NextCounter())
		assert.Equal(t, uint64(2), c.NextCounter())
	})

	t.Run("observe_never_moves_backward", func(t *testing.T) {
		var c LamportClock
		c.Observe(10)
		c.Observe(3)
		assert.Equal(t, uint64(10), c.Watermark())
	})
}

func TestLamportClock_SnapshotRestore(t *testing.T) {
	t.Run("rollback_restores_pre_transaction_watermark", func(t *testing.T) {
		var c LamportClock
		c.Observe(5)
		snap := c.Snapshot()
		c.Observe(6)
		c.Observe(7)
		assert.Equal(t, uint64(7), c.Watermark())
		c.Restore(snap)
		assert.Equal(t, uint64(5), c.Watermark())
	})
}

func TestSeqTracker(t *testing.T) {
	t.Run("unbroken_sequence_starting_at_one", func(t *testing.T) {
		var s SeqTracker
		assert.Equal(t, uint64(1), s.NextSeq())
		s.Advance(1)
		assert.Equal(t, uint64(2), s.NextSeq())
	})

	t.Run("restore_reverts_rolled_back_transaction", func(t *testing.T) {
		var s SeqTracker
		s.Advance(1)
		snap := s.Snapshot()
		s.Advance(2)
		s.Restore(snap)
		assert.Equal(t, uint64(1), s.Last())
	})
}
