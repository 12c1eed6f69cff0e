package changelog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lattice-crdt/automerge/pkg/actorid"
	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/opstore"
	"github.com/lattice-crdt/automerge/pkg/value"
)

// ErrTruncated is returned by DecodeCanonical when the byte slice ends
// before a length-prefixed or fixed-width field it declared is fully
// present. pkg/codec wraps this as its own ErrBadFormat at the framing
// boundary.
var ErrTruncated = errors.New("changelog: truncated canonical encoding")

// EncodeCanonical returns the exact byte sequence c.Hash() was computed
// over (spec §4.7: "Incremental change format ... hashes computed over
// the canonical byte form of a change determine its identity"). This is
// also the payload pkg/codec frames (magic + version + payload + hash)
// for the incremental change format and embeds per-change in the full
// save format's change-metadata chapter.
func EncodeCanonical(c *Change) []byte {
	return encodeChange(c)
}

// DecodeCanonical parses the byte form EncodeCanonical produces and
// reconstructs an equivalent Change, recomputing its hash from the
// decoded fields exactly as NewChange does (so two different decoders
// of the same bytes always agree on the resulting hash).
func DecodeCanonical(b []byte) (*Change, error) {
	r := &decodeReader{b: b}

	actorBytes, err := r.readBytes()
	if err != nil {
		return nil, fmt.Errorf("changelog: decode actor: %w", err)
	}
	seq, err := r.readUvarint()
	if err != nil {
		return nil, fmt.Errorf("changelog: decode seq: %w", err)
	}
	_, err = r.readUvarint() // maxOp: recomputed by NewChange from ops
	if err != nil {
		return nil, fmt.Errorf("changelog: decode maxOp: %w", err)
	}
	tsMillis, err := r.readUvarint()
	if err != nil {
		return nil, fmt.Errorf("changelog: decode timestamp: %w", err)
	}
	messageBytes, err := r.readBytes()
	if err != nil {
		return nil, fmt.Errorf("changelog: decode message: %w", err)
	}

	numDeps, err := r.readUvarint()
	if err != nil {
		return nil, fmt.Errorf("changelog: decode deps count: %w", err)
	}
	deps := make([]Hash, numDeps)
	for i := range deps {
		hb, err := r.readFixed(32)
		if err != nil {
			return nil, fmt.Errorf("changelog: decode dep %d: %w", i, err)
		}
		copy(deps[i][:], hb)
	}

	numOps, err := r.readUvarint()
	if err != nil {
		return nil, fmt.Errorf("changelog: decode ops count: %w", err)
	}
	ops := make([]opstore.Op, numOps)
	for i := range ops {
		op, err := r.readOp()
		if err != nil {
			return nil, fmt.Errorf("changelog: decode op %d: %w", i, err)
		}
		ops[i] = op
	}

	if !r.exhausted() {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrTruncated, r.remaining())
	}

	actor := actorid.FromBytes(actorBytes)
	return NewChange(actor, seq, deps, ops, string(messageBytes), time.UnixMilli(int64(tsMillis))), nil
}

// decodeReader is a minimal, error-returning cursor over a canonical
// encoding buffer. It never panics on malformed input: every method
// returns ErrTruncated instead, so pkg/codec's full-document and
// incremental loaders can surface BadFormat rather than crash on
// untrusted bytes.
type decodeReader struct {
	b   []byte
	pos int
}

func (r *decodeReader) exhausted() bool { return r.pos >= len(r.b) }
func (r *decodeReader) remaining() int  { return len(r.b) - r.pos }

func (r *decodeReader) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.b[r.pos:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	r.pos += n
	return v, nil
}

func (r *decodeReader) readVarint() (int64, error) {
	v, n := binary.Varint(r.b[r.pos:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	r.pos += n
	return v, nil
}

func (r *decodeReader) readFixed(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, ErrTruncated
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *decodeReader) readByte() (byte, error) {
	b, err := r.readFixed(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *decodeReader) readBytes() ([]byte, error) {
	n, err := r.readUvarint()
	if err != nil {
		return nil, err
	}
	return r.readFixed(int(n))
}

func (r *decodeReader) readOpID() (opid.OpId, error) {
	counter, err := r.readUvarint()
	if err != nil {
		return opid.OpId{}, err
	}
	actorBytes, err := r.readBytes()
	if err != nil {
		return opid.OpId{}, err
	}
	return opid.NewOpId(counter, actorid.FromBytes(actorBytes)), nil
}

func (r *decodeReader) readObjID() (opid.ObjId, error) {
	tag, err := r.readByte()
	if err != nil {
		return opid.ObjId{}, err
	}
	if tag == 0 {
		return opid.Root, nil
	}
	id, err := r.readOpID()
	if err != nil {
		return opid.ObjId{}, err
	}
	return opid.NewObjId(id), nil
}

func (r *decodeReader) readElemID() (opid.ElemId, error) {
	tag, err := r.readByte()
	if err != nil {
		return opid.ElemId{}, err
	}
	if tag == 0 {
		return opid.Head, nil
	}
	id, err := r.readOpID()
	if err != nil {
		return opid.ElemId{}, err
	}
	return opid.NewElemId(id), nil
}

func (r *decodeReader) readKey() (opid.Key, error) {
	tag, err := r.readByte()
	if err != nil {
		return opid.Key{}, err
	}
	if tag == 0 {
		b, err := r.readBytes()
		if err != nil {
			return opid.Key{}, err
		}
		return opid.MapKey(string(b)), nil
	}
	e, err := r.readElemID()
	if err != nil {
		return opid.Key{}, err
	}
	return opid.SeqKey(e), nil
}

func (r *decodeReader) readScalarValue() (value.ScalarValue, error) {
	kindByte, err := r.readByte()
	if err != nil {
		return value.ScalarValue{}, err
	}
	switch value.Kind(kindByte) {
	case value.KindNull:
		return value.Null, nil
	case value.KindBool:
		b, err := r.readByte()
		if err != nil {
			return value.ScalarValue{}, err
		}
		return value.Bool(b != 0), nil
	case value.KindInt:
		i, err := r.readVarint()
		if err != nil {
			return value.ScalarValue{}, err
		}
		return value.Int(i), nil
	case value.KindTimestamp:
		i, err := r.readVarint()
		if err != nil {
			return value.ScalarValue{}, err
		}
		return value.Timestamp(i), nil
	case value.KindCounter:
		i, err := r.readVarint()
		if err != nil {
			return value.ScalarValue{}, err
		}
		return value.Counter(i), nil
	case value.KindUint:
		u, err := r.readUvarint()
		if err != nil {
			return value.ScalarValue{}, err
		}
		return value.Uint(u), nil
	case value.KindF64:
		buf, err := r.readFixed(8)
		if err != nil {
			return value.ScalarValue{}, err
		}
		return value.F64(math.Float64frombits(binary.BigEndian.Uint64(buf))), nil
	case value.KindStr:
		b, err := r.readBytes()
		if err != nil {
			return value.ScalarValue{}, err
		}
		return value.Str(string(b)), nil
	case value.KindBytes:
		b, err := r.readBytes()
		if err != nil {
			return value.ScalarValue{}, err
		}
		return value.Bytes(b), nil
	default:
		return value.ScalarValue{}, fmt.Errorf("changelog: unknown scalar kind tag %d", kindByte)
	}
}

func (r *decodeReader) readOp() (opstore.Op, error) {
	id, err := r.readOpID()
	if err != nil {
		return opstore.Op{}, err
	}
	obj, err := r.readObjID()
	if err != nil {
		return opstore.Op{}, err
	}
	key, err := r.readKey()
	if err != nil {
		return opstore.Op{}, err
	}
	kindByte, err := r.readByte()
	if err != nil {
		return opstore.Op{}, err
	}
	kind := opstore.ActionKind(kindByte)

	action := opstore.Action{Kind: kind}
	switch kind {
	case opstore.ActionMake:
		tb, err := r.readByte()
		if err != nil {
			return opstore.Op{}, err
		}
		action.ObjType = value.ObjType(tb)
	case opstore.ActionPut, opstore.ActionInsert:
		v, err := r.readScalarValue()
		if err != nil {
			return opstore.Op{}, err
		}
		action.Value = v
	case opstore.ActionIncrement:
		d, err := r.readVarint()
		if err != nil {
			return opstore.Op{}, err
		}
		action.IncrementBy = d
	case opstore.ActionMarkBegin:
		nameBytes, err := r.readBytes()
		if err != nil {
			return opstore.Op{}, err
		}
		v, err := r.readScalarValue()
		if err != nil {
			return opstore.Op{}, err
		}
		expandByte, err := r.readByte()
		if err != nil {
			return opstore.Op{}, err
		}
		action.MarkName = string(nameBytes)
		action.MarkValue = v
		action.Expand = opstore.ExpandPolicy(expandByte)
	case opstore.ActionMarkEnd:
		nameBytes, err := r.readBytes()
		if err != nil {
			return opstore.Op{}, err
		}
		expandByte, err := r.readByte()
		if err != nil {
			return opstore.Op{}, err
		}
		markID, err := r.readOpID()
		if err != nil {
			return opstore.Op{}, err
		}
		action.MarkName = string(nameBytes)
		action.Expand = opstore.ExpandPolicy(expandByte)
		action.MarkID = markID
	case opstore.ActionDelete:
		// no payload
	default:
		return opstore.Op{}, fmt.Errorf("changelog: unknown action kind tag %d", kindByte)
	}

	numPred, err := r.readUvarint()
	if err != nil {
		return opstore.Op{}, err
	}
	pred := make([]opid.OpId, numPred)
	for i := range pred {
		p, err := r.readOpID()
		if err != nil {
			return opstore.Op{}, err
		}
		pred[i] = p
	}

	insertByte, err := r.readByte()
	if err != nil {
		return opstore.Op{}, err
	}

	return opstore.Op{
		ID:     id,
		Object: obj,
		Key:    key,
		Action: action,
		Pred:   pred,
		Insert: insertByte != 0,
	}, nil
}
