// Package cursor implements stable position references into a sequence
// object (List or Text): a Cursor is an opaque handle wrapping an ElemId
// that can be resolved back to an external index at any set of heads,
// even after insertions and deletions have shifted everything around it
// (spec §4.9, §8 S6).
//
// Serialization follows spec §6 exactly: the string form is
// "<decimal counter>@<hex actor>" (or the literal "head" for the Head
// sentinel), and the byte form is a compact fixed-prefix encoding
// followed by the variable-length actor bytes, suitable for
// cursor_to_bytes/cursor_from_bytes.
package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lattice-crdt/automerge/pkg/actorid"
	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/opstore"
	"github.com/lattice-crdt/automerge/pkg/seqindex"
)

var (
	// ErrInvalidCursor is returned by the parsers on malformed input, and
	// by Resolve when a cursor names an object/element unknown at the
	// requested heads (spec §4.9: "a cursor referring to an object or
	// element that does not exist in the given heads is an error").
	ErrInvalidCursor = errors.New("cursor: invalid cursor")

	// schemaTag is a one-byte format version prefixed to the binary
	// encoding, so a future incompatible cursor layout can be detected
	// and rejected rather than silently misparsed.
	schemaTag byte = 1
)

// Cursor is a handle to a sequence position, carried as the ElemId of
// the element it names (spec GLOSSARY: "a handle pointing at a sequence
// element by its ElemId").
type Cursor struct {
	elem opid.ElemId
}

// New wraps an ElemId as a Cursor, for callers that already hold the
// element identity rather than an index.
func New(elem opid.ElemId) Cursor { return Cursor{elem: elem} }

// ElemID returns the wrapped element identity.
func (c Cursor) ElemID() opid.ElemId { return c.elem }

// Equal reports whether two cursors name the same element.
func (c Cursor) Equal(other Cursor) bool { return c.elem.Equal(other.elem) }

// Get resolves an external index to a Cursor against the given Index
// (already built at the desired heads). index == Len() is invalid — a
// cursor must name an existing element or Head, never a past-the-end
// position (spec §4.9's own resolution for an empty object only special-
// cases index 0 against an object that has never had a visible element).
func Get(idx *seqindex.Index, index int) (Cursor, error) {
	if idx.Len() == 0 && index == 0 {
		return Cursor{elem: opid.Head}, nil
	}
	elem, err := idx.ElemAt(index)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return Cursor{elem: elem}, nil
}

// Position resolves a Cursor back to its current external index against
// the given Index. If the cursor's element has since been deleted, the
// returned index is that of the next visible element (or idx.Len() if
// none) — spec §4.9.
func Position(idx *seqindex.Index, c Cursor) (int, error) {
	pos, ok := idx.PositionForElem(c.elem)
	if !ok {
		return 0, fmt.Errorf("%w: element %s not found at these heads", ErrInvalidCursor, c.elem)
	}
	return pos, nil
}

// ToStr renders the round-trippable string form: "<counter>@<actorHex>",
// or the literal "head" for the Head sentinel.
func (c Cursor) ToStr() string {
	if c.elem.IsHead() {
		return "head"
	}
	id := c.elem.OpId()
	return strconv.FormatUint(id.Counter, 10) + "@" + id.Actor.String()
}

// FromStr parses the string form produced by ToStr.
func FromStr(s string) (Cursor, error) {
	if s == "head" {
		return Cursor{elem: opid.Head}, nil
	}
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return Cursor{}, fmt.Errorf("%w: %q missing '@'", ErrInvalidCursor, s)
	}
	counter, err := strconv.ParseUint(s[:at], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %q bad counter: %v", ErrInvalidCursor, s, err)
	}
	a, err := actorid.FromHex(s[at+1:])
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %q bad actor: %v", ErrInvalidCursor, s, err)
	}
	return Cursor{elem: opid.NewElemId(opid.NewOpId(counter, a))}, nil
}

// ToBytes renders a compact fixed-prefix binary form: schema tag byte,
// big-endian u64 counter, then the raw actor bytes (length implied by
// the remainder of the buffer, since ActorId has no embedded length
// elsewhere in this encoding). The Head sentinel encodes as counter 0
// with a zero-length actor, a combination no real op ever produces
// (Lamport counters start at 1).
func (c Cursor) ToBytes() []byte {
	if c.elem.IsHead() {
		out := make([]byte, 9)
		out[0] = schemaTag
		return out
	}
	id := c.elem.OpId()
	actorBytes := id.Actor.Bytes()
	out := make([]byte, 9+len(actorBytes))
	out[0] = schemaTag
	binary.BigEndian.PutUint64(out[1:9], id.Counter)
	copy(out[9:], actorBytes)
	return out
}

// FromBytes parses the form produced by ToBytes.
func FromBytes(b []byte) (Cursor, error) {
	if len(b) < 9 {
		return Cursor{}, fmt.Errorf("%w: cursor bytes too short", ErrInvalidCursor)
	}
	if b[0] != schemaTag {
		return Cursor{}, fmt.Errorf("%w: unsupported cursor schema %d", ErrInvalidCursor, b[0])
	}
	counter := binary.BigEndian.Uint64(b[1:9])
	actorBytes := b[9:]
	if counter == 0 && len(actorBytes) == 0 {
		return Cursor{elem: opid.Head}, nil
	}
	a := actorid.FromBytes(actorBytes)
	return Cursor{elem: opid.NewElemId(opid.NewOpId(counter, a))}, nil
}

// ValidateAgainst reports ErrInvalidCursor if the cursor's element is
// neither Head nor an insert op known to idx. Only the element is
// checked: store is not consulted, and whether the object idx was built
// for exists or is a sequence object is not checked here.
func ValidateAgainst(store *opstore.OpStore, idx *seqindex.Index, c Cursor) error {
	if c.elem.IsHead() {
		return nil
	}
	if _, ok := idx.PositionForElem(c.elem); !ok {
		return fmt.Errorf("%w: element %s not part of this sequence", ErrInvalidCursor, c.elem)
	}
	return nil
}
