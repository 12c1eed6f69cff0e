package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarValue_Accessors(t *testing.T) {
	t.Run("str_round_trips", func(t *testing.T) {
		v := Str("hello world")
		s, ok := v.AsStr()
		require.True(t, ok)
		assert.Equal(t, "hello world", s)
		assert.Equal(t, KindStr, v.Kind())
	})

	t.Run("wrong_accessor_reports_false", func(t *testing.T) {
		v := Int(5)
		_, ok := v.AsStr()
		assert.False(t, ok)
	})

	t.Run("bytes_are_copied_not_aliased", func(t *testing.T) {
		src := []byte{1, 2, 3}
		v := Bytes(src)
		src[0] = 99
		got, _ := v.AsBytes()
		assert.Equal(t, byte(1), got[0])
	})
}

func TestScalarValue_Equal(t *testing.T) {
	t.Run("different_kinds_never_equal", func(t *testing.T) {
		assert.False(t, Int(1).Equal(Uint(1)))
	})

	t.Run("floats_compare_by_bit_pattern", func(t *testing.T) {
		nan1 := F64(math.NaN())
		nan2 := F64(math.NaN())
		assert.True(t, nan1.Equal(nan2))

		posZero := F64(0.0)
		negZero := F64(math.Copysign(0, -1))
		assert.False(t, posZero.Equal(negZero))
	})

	t.Run("null_always_equal_to_null", func(t *testing.T) {
		assert.True(t, Null.Equal(Null))
	})
}

func TestScalarValue_IncrementBy(t *testing.T) {
	t.Run("increments_counter", func(t *testing.T) {
		c := Counter(10)
		c2, err := c.IncrementBy(5)
		require.NoError(t, err)
		got, ok := c2.AsCounter()
		require.True(t, ok)
		assert.Equal(t, int64(15), got)
	})

	t.Run("rejects_non_counter", func(t *testing.T) {
		_, err := Int(10).IncrementBy(5)
		require.Error(t, err)
	})
}

func TestObjType_String(t *testing.T) {
	t.Run("names_all_three_kinds", func(t *testing.T) {
		assert.Equal(t, "map", ObjMap.String())
		assert.Equal(t, "list", ObjList.String())
		assert.Equal(t, "text", ObjText.String())
	})
}
