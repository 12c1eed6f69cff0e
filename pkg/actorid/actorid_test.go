package actorid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHex_RoundTrip(t *testing.T) {
	t.Run("round_trips_through_string_form", func(t *testing.T) {
		a, err := FromHex("aabbccdd")
		require.NoError(t, err)

		s := a.ToHex()
		b, err := FromHex(s)
		require.NoError(t, err)

		assert.True(t, a.Equal(b))
		assert.Equal(t, "aabbccdd", s)
	})

	t.Run("rejects_invalid_hex", func(t *testing.T) {
		_, err := FromHex("not-hex!!")
		require.Error(t, err)
	})
}

func TestActorId_Ordering(t *testing.T) {
	t.Run("lexicographic_byte_order", func(t *testing.T) {
		a, _ := FromHex("aaaa")
		b, _ := FromHex("bbbb")

		assert.True(t, a.Less(b))
		assert.False(t, b.Less(a))
		assert.Equal(t, -1, a.Compare(b))
		assert.Equal(t, 1, b.Compare(a))
		assert.Equal(t, 0, a.Compare(a))
	})
}

func TestRoot(t *testing.T) {
	t.Run("root_actor_is_empty", func(t *testing.T) {
		assert.True(t, Root.IsRoot())
		assert.Equal(t, "", Root.String())
	})
}

func TestNew_ProducesDistinctActors(t *testing.T) {
	t.Run("two_calls_differ", func(t *testing.T) {
		a := New()
		b := New()
		assert.False(t, a.Equal(b))
		assert.Len(t, a.Bytes(), 16)
	})
}
