package opstore

import (
	"testing"

	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/value"
	"github.com/stretchr/testify/assert"
)

func TestActionKind_String(t *testing.T) {
	t.Run("names_every_kind", func(t *testing.T) {
		cases := map[ActionKind]string{
			ActionMake:      "make",
			ActionPut:       "put",
			ActionInsert:    "insert",
			ActionDelete:    "delete",
			ActionIncrement: "increment",
			ActionMarkBegin: "mark_begin",
			ActionMarkEnd:   "mark_end",
		}
		for kind, want := range cases {
			assert.Equal(t, want, kind.String())
		}
	})
}

func TestExpandPolicy_String(t *testing.T) {
	t.Run("names_every_policy", func(t *testing.T) {
		assert.Equal(t, "none", ExpandNone.String())
		assert.Equal(t, "before", ExpandBefore.String())
		assert.Equal(t, "after", ExpandAfter.String())
		assert.Equal(t, "both", ExpandBoth.String())
	})
}

func TestOp_ElemID(t *testing.T) {
	t.Run("reinterprets_own_id_as_elemid", func(t *testing.T) {
		id := opid.NewOpId(7, actor("aaaa"))
		op := Op{ID: id, Insert: true, Action: Action{Kind: ActionInsert, Value: value.Str("x")}}
		elem := op.ElemID()
		assert.True(t, elem.Equal(opid.NewElemId(id)))
	})
}

func TestOp_String(t *testing.T) {
	t.Run("includes_id_and_action", func(t *testing.T) {
		op := Op{
			ID:     opid.NewOpId(1, actor("aaaa")),
			Object: opid.Root,
			Key:    opid.MapKey("x"),
			Action: Action{Kind: ActionPut, Value: value.Int(1)},
		}
		s := op.String()
		assert.Contains(t, s, "put")
		assert.Contains(t, s, "_root")
	})
}
