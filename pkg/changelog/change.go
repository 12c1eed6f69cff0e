// Package changelog is the content-addressed commit history of a
// document: one Change per committed transaction, hashed with SHA-256
// over a canonical encoding of its contents, linked into a DAG by its
// declared causal parents (spec §3 Change, §4.6 get_heads/get_changes).
//
// This mirrors the storage engine's write-ahead log (one entry per
// mutation, checksummed for integrity) but trades the WAL's CRC32
// tamper-check for a cryptographic hash that doubles as the change's
// identity — two actors that independently compute the same ops produce
// byte-identical, therefore hash-identical, Changes.
package changelog

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lattice-crdt/automerge/pkg/actorid"
	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/opstore"
	"github.com/lattice-crdt/automerge/pkg/value"
)

var (
	ErrUnknownHash  = errors.New("changelog: no change with that hash")
	ErrMissingDeps  = errors.New("changelog: change declares a dependency not present in this log")
	ErrMalformedHex = errors.New("changelog: malformed hash hex")
)

// Hash is a SHA-256 digest identifying a Change.
type Hash [32]byte

// String renders a Hash as lowercase hex, the form used in get_heads and
// save-format output.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// ParseHash decodes a hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return Hash{}, fmt.Errorf("%w: %q", ErrMalformedHex, s)
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// sortHashes returns a new slice sorted ascending by byte value, the
// canonical order deps are encoded in (spec §3: "deps ... order is not
// semantically significant", so the encoder imposes one for determinism).
func sortHashes(hs []Hash) []Hash {
	out := append([]Hash(nil), hs...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func sortOpIds(ids []opid.OpId) []opid.OpId {
	out := append([]opid.OpId(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// Change is one actor's committed transaction: a contiguous run of ops
// under a single (actor, seq), with its causal parents and a
// content-addressed hash (spec §3).
type Change struct {
	Actor     actorid.ActorId
	Seq       uint64
	MaxOp     uint64 // highest op counter this change contributes
	Timestamp time.Time
	Message   string
	Deps      []Hash
	Ops       []opstore.Op

	hash Hash
}

// NewChange builds a Change from a committed transaction's staged ops
// and computes its hash. ops must be supplied in mint order.
func NewChange(actor actorid.ActorId, seq uint64, deps []Hash, ops []opstore.Op, message string, ts time.Time) *Change {
	var maxOp uint64
	for _, op := range ops {
		if op.ID.Counter > maxOp {
			maxOp = op.ID.Counter
		}
	}
	c := &Change{
		Actor:     actor,
		Seq:       seq,
		MaxOp:     maxOp,
		Timestamp: ts,
		Message:   message,
		Deps:      sortHashes(deps),
		Ops:       ops,
	}
	c.hash = sha256.Sum256(encodeChange(c))
	return c
}

// Hash returns the content-addressed identity of this Change.
func (c *Change) Hash() Hash { return c.hash }

// FromStaged builds a Change from the OpIds a committed txn.Transaction
// returns, resolving each back to its full Op via store. This is the
// seam between pkg/txn (which knows nothing about Changes) and
// pkg/changelog (which knows nothing about in-progress transactions) —
// pkg/document calls it once per commit.
func FromStaged(actor actorid.ActorId, seq uint64, deps []Hash, store *opstore.OpStore, ids []opid.OpId, message string, ts time.Time) (*Change, error) {
	ops := make([]opstore.Op, len(ids))
	for i, id := range ids {
		op, ok := store.GetByID(id)
		if !ok {
			return nil, fmt.Errorf("changelog: staged op %s not found in store", id)
		}
		ops[i] = *op
		// Succ is a property of whichever store an op lives in, not of the
		// change: a receiver rebuilds it while appending (and would
		// double-wire any entries carried over from this store's copy).
		ops[i].Succ = nil
	}
	return NewChange(actor, seq, deps, ops, message, ts), nil
}

// encodeChange produces the canonical byte encoding a Change's hash (and
// the incremental save format, pkg/codec) are both built from. Every
// field that participates in identity is length-prefixed or fixed-width
// so two encoders can never disagree on where one field ends and the
// next begins.
func encodeChange(c *Change) []byte {
	var buf bytes.Buffer

	writeBytes(&buf, c.Actor.Bytes())
	writeUvarint(&buf, c.Seq)
	writeUvarint(&buf, c.MaxOp)
	writeUvarint(&buf, uint64(c.Timestamp.UnixMilli()))
	writeBytes(&buf, []byte(c.Message))

	writeUvarint(&buf, uint64(len(c.Deps)))
	for _, d := range c.Deps {
		buf.Write(d[:])
	}

	writeUvarint(&buf, uint64(len(c.Ops)))
	for i := range c.Ops {
		encodeOp(&buf, &c.Ops[i])
	}

	return buf.Bytes()
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func encodeOpID(buf *bytes.Buffer, id opid.OpId) {
	writeUvarint(buf, id.Counter)
	writeBytes(buf, id.Actor.Bytes())
}

func encodeObjID(buf *bytes.Buffer, o opid.ObjId) {
	if o.IsRoot() {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	encodeOpID(buf, o.OpId())
}

func encodeElemID(buf *bytes.Buffer, e opid.ElemId) {
	if e.IsHead() {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	encodeOpID(buf, e.OpId())
}

func encodeKey(buf *bytes.Buffer, k opid.Key) {
	if k.IsMapKey() {
		buf.WriteByte(0)
		writeBytes(buf, []byte(k.MapKeyString()))
		return
	}
	buf.WriteByte(1)
	encodeElemID(buf, k.ElemKey())
}

func encodeScalarValue(buf *bytes.Buffer, v value.ScalarValue) {
	buf.WriteByte(byte(v.Kind()))
	switch v.Kind() {
	case value.KindNull:
	case value.KindBool:
		b, _ := v.AsBool()
		if b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case value.KindInt, value.KindTimestamp, value.KindCounter:
		var i int64
		switch v.Kind() {
		case value.KindInt:
			i, _ = v.AsInt()
		case value.KindTimestamp:
			i, _ = v.AsTimestamp()
		case value.KindCounter:
			i, _ = v.AsCounter()
		}
		var tmp [binary.MaxVarintLen64]byte
		n := binary.PutVarint(tmp[:], i)
		buf.Write(tmp[:n])
	case value.KindUint:
		u, _ := v.AsUint()
		writeUvarint(buf, u)
	case value.KindF64:
		f, _ := v.AsF64()
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(f))
		buf.Write(tmp[:])
	case value.KindStr:
		s, _ := v.AsStr()
		writeBytes(buf, []byte(s))
	case value.KindBytes:
		b, _ := v.AsBytes()
		writeBytes(buf, b)
	}
}

func encodeOp(buf *bytes.Buffer, op *opstore.Op) {
	encodeOpID(buf, op.ID)
	encodeObjID(buf, op.Object)
	encodeKey(buf, op.Key)
	buf.WriteByte(byte(op.Action.Kind))

	switch op.Action.Kind {
	case opstore.ActionMake:
		buf.WriteByte(byte(op.Action.ObjType))
	case opstore.ActionPut, opstore.ActionInsert:
		encodeScalarValue(buf, op.Action.Value)
	case opstore.ActionIncrement:
		var tmp [binary.MaxVarintLen64]byte
		n := binary.PutVarint(tmp[:], op.Action.IncrementBy)
		buf.Write(tmp[:n])
	case opstore.ActionMarkBegin:
		writeBytes(buf, []byte(op.Action.MarkName))
		encodeScalarValue(buf, op.Action.MarkValue)
		buf.WriteByte(byte(op.Action.Expand))
	case opstore.ActionMarkEnd:
		writeBytes(buf, []byte(op.Action.MarkName))
		buf.WriteByte(byte(op.Action.Expand))
		encodeOpID(buf, op.Action.MarkID)
	}

	pred := sortOpIds(op.Pred)
	writeUvarint(buf, uint64(len(pred)))
	for _, p := range pred {
		encodeOpID(buf, p)
	}

	if op.Insert {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}
