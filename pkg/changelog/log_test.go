package changelog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_AddAndHeads(t *testing.T) {
	t.Run("single_change_is_the_only_head", func(t *testing.T) {
		l := New()
		a := actor("aaaa")
		c := NewChange(a, 1, nil, sampleOps(a), "", time.UnixMilli(0))
		require.NoError(t, l.Add(c))
		assert.Equal(t, []Hash{c.Hash()}, l.Heads())
	})

	t.Run("a_change_drops_its_deps_from_heads", func(t *testing.T) {
		l := New()
		a := actor("aaaa")
		c1 := NewChange(a, 1, nil, sampleOps(a), "", time.UnixMilli(0))
		require.NoError(t, l.Add(c1))

		c2 := NewChange(a, 2, []Hash{c1.Hash()}, sampleOps(a), "", time.UnixMilli(1))
		require.NoError(t, l.Add(c2))

		assert.Equal(t, []Hash{c2.Hash()}, l.Heads())
	})

	t.Run("concurrent_changes_are_both_heads", func(t *testing.T) {
		l := New()
		a, b := actor("aaaa"), actor("bbbb")
		base := NewChange(a, 1, nil, sampleOps(a), "", time.UnixMilli(0))
		require.NoError(t, l.Add(base))

		fromA := NewChange(a, 2, []Hash{base.Hash()}, sampleOps(a), "a", time.UnixMilli(1))
		fromB := NewChange(b, 1, []Hash{base.Hash()}, sampleOps(b), "b", time.UnixMilli(1))
		require.NoError(t, l.Add(fromA))
		require.NoError(t, l.Add(fromB))

		heads := l.Heads()
		assert.Len(t, heads, 2)
	})

	t.Run("missing_dep_is_rejected", func(t *testing.T) {
		l := New()
		a := actor("aaaa")
		phantom := NewChange(a, 1, nil, sampleOps(a), "", time.UnixMilli(0)).Hash()
		c := NewChange(a, 2, []Hash{phantom}, sampleOps(a), "", time.UnixMilli(1))
		err := l.Add(c)
		assert.ErrorIs(t, err, ErrMissingDeps)
	})

	t.Run("re_adding_the_same_change_is_a_no_op", func(t *testing.T) {
		l := New()
		a := actor("aaaa")
		c := NewChange(a, 1, nil, sampleOps(a), "", time.UnixMilli(0))
		require.NoError(t, l.Add(c))
		require.NoError(t, l.Add(c))
		assert.Equal(t, 1, l.Len())
	})
}

func TestLog_Since(t *testing.T) {
	t.Run("returns_only_changes_not_reachable_from_have", func(t *testing.T) {
		l := New()
		a := actor("aaaa")
		c1 := NewChange(a, 1, nil, sampleOps(a), "", time.UnixMilli(0))
		c2 := NewChange(a, 2, []Hash{c1.Hash()}, sampleOps(a), "", time.UnixMilli(1))
		c3 := NewChange(a, 3, []Hash{c2.Hash()}, sampleOps(a), "", time.UnixMilli(2))
		require.NoError(t, l.Add(c1))
		require.NoError(t, l.Add(c2))
		require.NoError(t, l.Add(c3))

		since := l.Since([]Hash{c1.Hash()})
		require.Len(t, since, 2)
		assert.Equal(t, c2.Hash(), since[0].Hash())
		assert.Equal(t, c3.Hash(), since[1].Hash())
	})

	t.Run("empty_have_returns_everything", func(t *testing.T) {
		l := New()
		a := actor("aaaa")
		c1 := NewChange(a, 1, nil, sampleOps(a), "", time.UnixMilli(0))
		require.NoError(t, l.Add(c1))
		assert.Len(t, l.Since(nil), 1)
	})
}

func TestLog_Frontier(t *testing.T) {
	t.Run("matches_current_heads_regardless_of_order", func(t *testing.T) {
		l := New()
		a, b := actor("aaaa"), actor("bbbb")
		base := NewChange(a, 1, nil, sampleOps(a), "", time.UnixMilli(0))
		require.NoError(t, l.Add(base))
		fromA := NewChange(a, 2, []Hash{base.Hash()}, sampleOps(a), "", time.UnixMilli(1))
		fromB := NewChange(b, 1, []Hash{base.Hash()}, sampleOps(b), "", time.UnixMilli(1))
		require.NoError(t, l.Add(fromA))
		require.NoError(t, l.Add(fromB))

		assert.True(t, l.Frontier([]Hash{fromB.Hash(), fromA.Hash()}))
		assert.False(t, l.Frontier([]Hash{fromA.Hash()}))
	})
}
