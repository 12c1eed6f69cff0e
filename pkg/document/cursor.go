package document

import (
	"github.com/lattice-crdt/automerge/pkg/changelog"
	"github.com/lattice-crdt/automerge/pkg/cursor"
	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/seqindex"
)

// GetCursor resolves an external sequence index to a stable Cursor at
// heads (spec §6 `get_cursor`).
func (d *Document) GetCursor(obj opid.ObjId, index int, heads ...changelog.Hash) (cursor.Cursor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	store, err := d.storeAt(heads)
	if err != nil {
		return cursor.Cursor{}, err
	}
	idx := seqindex.Build(store, obj)
	return cursor.Get(idx, index)
}

// GetCursorPosition resolves a Cursor back to its current external index
// at heads, following a since-deleted element to the next visible
// position (spec §6 `get_cursor_position`, §8 S6).
func (d *Document) GetCursorPosition(obj opid.ObjId, c cursor.Cursor, heads ...changelog.Hash) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	store, err := d.storeAt(heads)
	if err != nil {
		return 0, err
	}
	idx := seqindex.Build(store, obj)
	if err := cursor.ValidateAgainst(store, idx, c); err != nil {
		return 0, err
	}
	return cursor.Position(idx, c)
}

// CursorToStr renders a Cursor's round-trippable string form (spec §6
// `cursor_to_str`). Stateless; exposed as a Document method only for
// parity with the rest of the Cursor operations group (spec §6).
func (d *Document) CursorToStr(c cursor.Cursor) string { return c.ToStr() }

// CursorFromStr parses the string form produced by CursorToStr (spec §6
// `cursor_from_str`).
func (d *Document) CursorFromStr(s string) (cursor.Cursor, error) { return cursor.FromStr(s) }

// CursorToBytes renders a Cursor's compact binary form (spec §6
// `cursor_to_bytes`).
func (d *Document) CursorToBytes(c cursor.Cursor) []byte { return c.ToBytes() }

// CursorFromBytes parses the binary form produced by CursorToBytes (spec
// §6 `cursor_from_bytes`).
func (d *Document) CursorFromBytes(b []byte) (cursor.Cursor, error) { return cursor.FromBytes(b) }
