package changelog

import (
	"testing"
	"time"

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

func sampleOps(a actorid.ActorId) []opstore.Op {
	return []opstore.Op{
		{
			ID:     opid.NewOpId(1, a),
			Object: opid.Root,
			Key:    opid.MapKey("title"),
			Action: opstore.Action{Kind: opstore.ActionPut, Value: value.Str("hello")},
		},
	}
}

func TestNewChange_HashIsDeterministic(t *testing.T) {
	t.Run("same_inputs_produce_same_hash", func(t *testing.T) {
		a := actor("aaaa")
		ts := time.UnixMilli(1000)
		c1 := NewChange(a, 1, nil, sampleOps(a), "msg", ts)
		c2 := NewChange(a, 1, nil, sampleOps(a), "msg", ts)
		assert.Equal(t, c1.Hash(), c2.Hash())
	})

	t.Run("different_message_changes_hash", func(t *testing.T) {
		a := actor("aaaa")
		ts := time.UnixMilli(1000)
		c1 := NewChange(a, 1, nil, sampleOps(a), "msg1", ts)
		c2 := NewChange(a, 1, nil, sampleOps(a), "msg2", ts)
		assert.NotEqual(t, c1.Hash(), c2.Hash())
	})

	t.Run("dep_order_does_not_affect_hash", func(t *testing.T) {
		a := actor("aaaa")
		ts := time.UnixMilli(1000)
		d1 := NewChange(a, 1, nil, sampleOps(a), "d1", ts).Hash()
		d2 := NewChange(actor("bbbb"), 1, nil, sampleOps(actor("bbbb")), "d2", ts).Hash()

		c1 := NewChange(a, 2, []Hash{d1, d2}, nil, "c", ts)
		c2 := NewChange(a, 2, []Hash{d2, d1}, nil, "c", ts)
		assert.Equal(t, c1.Hash(), c2.Hash())
	})
}

func TestHash_RoundTripsThroughHex(t *testing.T) {
	t.Run("parse_then_string_matches_original", func(t *testing.T) {
		a := actor("aaaa")
		c := NewChange(a, 1, nil, sampleOps(a), "", time.UnixMilli(0))
		h := c.Hash()
		parsed, err := ParseHash(h.String())
		require.NoError(t, err)
		assert.Equal(t, h, parsed)
	})

	t.Run("rejects_malformed_hex", func(t *testing.T) {
		_, err := ParseHash("not-hex")
		require.Error(t, err)
	})
}
