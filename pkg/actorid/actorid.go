// Package actorid provides the ActorId identity used to tag every operation
// an actor emits into a document's op graph.
//
// An ActorId is an opaque byte string, conventionally 16 bytes (the size of
// a random UUID), but the type places no hard limit on length. Actors are
// ordered lexicographically by their raw bytes; this order is load-bearing
// for OpId comparison (spec: "(counter, actor) ascending") and for the
// conflict resolver's tie-break ("(counter DESC, actor DESC)").
//
// Example:
//
//	a := actorid.New()              // random 16-byte actor
//	b, _ := actorid.FromHex("aabbcc") // fixed actor, for tests and docs
//	if a.Less(b) { ... }
package actorid

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// ActorId identifies the author of an operation. Immutable once created.
type ActorId struct {
	b []byte
}

// New returns a fresh ActorId backed by 16 cryptographically random bytes.
func New() ActorId {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is unreachable under correct OS behavior; a
		// zero actor id would silently corrupt causal ordering, so we
		// fail loudly instead.
		panic(fmt.Sprintf("actorid: crypto/rand unavailable: %v", err))
	}
	return ActorId{b: buf}
}

// FromBytes wraps a raw byte slice as an ActorId. The slice is copied.
func FromBytes(b []byte) ActorId {
	cp := make([]byte, len(b))
	copy(cp, b)
	return ActorId{b: cp}
}

// FromHex parses a hex-encoded actor id, as produced by String/ToHex.
func FromHex(s string) (ActorId, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ActorId{}, fmt.Errorf("actorid: invalid hex %q: %w", s, err)
	}
	return ActorId{b: b}, nil
}

// Root is the distinguished empty actor used by ObjId's Root sentinel
// (spec §3: "Root (counter 0, empty actor)").
var Root = ActorId{b: nil}

// IsRoot reports whether this is the distinguished empty actor.
func (a ActorId) IsRoot() bool { return len(a.b) == 0 }

// Bytes returns the raw actor bytes. Callers must not mutate the result.
func (a ActorId) Bytes() []byte { return a.b }

// String renders the actor as lowercase hex, e.g. "aabbccdd...".
func (a ActorId) String() string { return hex.EncodeToString(a.b) }

// ToHex is an explicit alias of String, matching the round-trip pair name
// used in spec §8 ("actor_to_str").
func (a ActorId) ToHex() string { return a.String() }

// Equal reports byte-for-byte equality.
func (a ActorId) Equal(other ActorId) bool {
	return bytes.Equal(a.b, other.b)
}

// Less implements the lexicographic order spec §3 requires for OpId
// comparison and the conflict resolver's tie-break.
func (a ActorId) Less(other ActorId) bool {
	return bytes.Compare(a.b, other.b) < 0
}

// Compare returns -1, 0, or 1 following the lexicographic byte order.
func (a ActorId) Compare(other ActorId) int {
	return bytes.Compare(a.b, other.b)
}
