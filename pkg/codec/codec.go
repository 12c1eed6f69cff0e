// Package codec implements the two on-the-wire byte formats spec §4.7
// describes: the full document save format (one self-contained blob
// holding the whole change history) and the incremental change format
// (one change at a time, for streaming sync).
//
// Both formats frame a changelog.EncodeCanonical payload behind a magic
// number, a version byte, and a trailing integrity hash, mirroring how
// the teacher's WAL frames each record behind a header and a CRC32
// checksum (storage/wal.go) — the header here just carries more bytes
// because a change's identity is a SHA-256 hash rather than a CRC.
//
// The document chapter holding serialized ops is compressed with
// klauspost/compress/s2 when it is large enough to be worth it; small
// documents are stored uncompressed to avoid the fixed s2 frame
// overhead dominating the output.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/s2"

	"github.com/lattice-crdt/automerge/internal/bufpool"
	"github.com/lattice-crdt/automerge/pkg/actorid"
	"github.com/lattice-crdt/automerge/pkg/changelog"
)

var (
	// ErrBadFormat is returned when a blob's magic number, version, or
	// framing is not recognized.
	ErrBadFormat = errors.New("codec: malformed document or change blob")
	// ErrUnknownColumn is returned when a document chapter tag is not one
	// this version of the codec knows how to read.
	ErrUnknownColumn = errors.New("codec: unknown chapter tag")
	// ErrHashMismatch is returned when a decoded document or change's
	// recomputed hash does not match the hash stored alongside it,
	// indicating corruption or tampering.
	ErrHashMismatch = errors.New("codec: stored hash does not match contents")
)

// magicChange and magicDocument distinguish the two blob kinds so a
// loader given the wrong kind of file fails fast instead of silently
// misparsing it.
var (
	magicChange   = [4]byte{0x85, 0x6f, 0x4a, 0x43} // "...C" for Change
	magicDocument = [4]byte{0x85, 0x6f, 0x4a, 0x83} // spec §4.7's document magic
)

const formatVersion = 1

// Options tunes how documents are encoded and decoded. The zero value is
// not useful; start from DefaultOptions (pkg/document maps its
// docconfig.Config fields onto this on every Save/Load).
type Options struct {
	// VerifyHashes controls whether DecodeDocumentOpts checks the blob's
	// trailing hash before parsing. Disabling trades integrity checking
	// for faster bulk load of already-trusted bytes; per-change identity
	// hashes are still recomputed by changelog.DecodeCanonical either way.
	VerifyHashes bool

	// CompressThreshold is the minimum canonical-payload size in bytes
	// before a change's chapter is s2-compressed.
	CompressThreshold int
}

// DefaultOptions returns the encoding/decoding defaults used by the
// plain EncodeDocument/DecodeDocument entry points.
func DefaultOptions() Options {
	return Options{VerifyHashes: true, CompressThreshold: 256}
}

// chapter tags within the document format's table of contents.
const (
	chapterActors byte = iota + 1
	chapterChanges
	chapterOpsPlain
	chapterOpsCompressed
)

// EncodeChange produces the incremental change format: magic + version +
// length-prefixed canonical change bytes + SHA-256 hash, for point to
// point sync of a single change (spec §4.7, §4.9 apply_changes/receive).
func EncodeChange(c *changelog.Change) []byte {
	payload := changelog.EncodeCanonical(c)

	var buf bytes.Buffer
	buf.Write(magicChange[:])
	buf.WriteByte(formatVersion)
	writeUvarint(&buf, uint64(len(payload)))
	buf.Write(payload)

	h := sha256.Sum256(payload)
	buf.Write(h[:])
	return buf.Bytes()
}

// DecodeChange parses bytes produced by EncodeChange, verifying the
// trailing hash matches the decoded payload before reconstructing the
// Change (which independently recomputes the same hash as its identity,
// so the two are cross-checked for free).
func DecodeChange(b []byte) (*changelog.Change, error) {
	if len(b) < 5 || !bytes.Equal(b[:4], magicChange[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrBadFormat)
	}
	if b[4] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadFormat, b[4])
	}
	rest := b[5:]
	n, consumed := binary.Uvarint(rest)
	if consumed <= 0 {
		return nil, fmt.Errorf("%w: truncated length prefix", ErrBadFormat)
	}
	rest = rest[consumed:]
	if uint64(len(rest)) < n+32 {
		return nil, fmt.Errorf("%w: truncated payload", ErrBadFormat)
	}
	payload := rest[:n]
	storedHash := rest[n : n+32]

	gotHash := sha256.Sum256(payload)
	if !bytes.Equal(gotHash[:], storedHash) {
		return nil, ErrHashMismatch
	}

	c, err := changelog.DecodeCanonical(payload)
	if err != nil {
		return nil, fmt.Errorf("codec: decode change payload: %w", err)
	}
	return c, nil
}

// EncodeDocument produces the full save format: every change in changes,
// in causal order, framed as a small table of contents (actor
// dictionary, then one chapter per change, op-heavy chapters
// s2-compressed above a size threshold) so a loader can stream chapters
// without holding the whole decompressed blob in memory at once (spec
// §4.7 "Full document format").
//
// changes must already be in an order where each change's deps appear
// earlier in the slice (changelog.Log.All returns history in this
// order).
func EncodeDocument(changes []*changelog.Change) []byte {
	return EncodeDocumentOpts(changes, DefaultOptions())
}

// EncodeDocumentOpts is EncodeDocument with explicit Options.
func EncodeDocumentOpts(changes []*changelog.Change, opts Options) []byte {
	var buf bytes.Buffer
	buf.Write(magicDocument[:])
	buf.WriteByte(formatVersion)

	actors := collectActors(changes)
	writeChapter(&buf, chapterActors, encodeActorDict(actors))

	writeUvarint(&buf, uint64(len(changes)))
	for _, c := range changes {
		payload := changelog.EncodeCanonical(c)
		tag, body := compressIfWorthwhile(payload, opts.CompressThreshold)
		writeChapter(&buf, tag, body)
	}

	h := sha256.Sum256(buf.Bytes())
	buf.Write(h[:])
	return buf.Bytes()
}

// DecodeDocument parses bytes produced by EncodeDocument, verifying the
// trailing hash before returning the reconstructed changes in their
// stored order.
func DecodeDocument(b []byte) ([]*changelog.Change, error) {
	return DecodeDocumentOpts(b, DefaultOptions())
}

// DecodeDocumentOpts is DecodeDocument with explicit Options.
func DecodeDocumentOpts(b []byte, opts Options) ([]*changelog.Change, error) {
	if len(b) < 37 || !bytes.Equal(b[:4], magicDocument[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrBadFormat)
	}
	if b[4] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadFormat, b[4])
	}
	if opts.VerifyHashes {
		body, storedHash := b[:len(b)-32], b[len(b)-32:]
		gotHash := sha256.Sum256(body)
		if !bytes.Equal(gotHash[:], storedHash) {
			return nil, ErrHashMismatch
		}
	}

	r := &reader{b: b[5 : len(b)-32]}

	tag, actorBytes, err := r.readChapter()
	if err != nil {
		return nil, err
	}
	if tag != chapterActors {
		return nil, fmt.Errorf("%w: expected actor dictionary first", ErrBadFormat)
	}
	_ = decodeActorDict(actorBytes) // validated for format but not needed: changes self-describe their actor

	numChanges, err := r.readUvarint()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated change count", ErrBadFormat)
	}

	changes := make([]*changelog.Change, numChanges)
	for i := range changes {
		tag, body, err := r.readChapter()
		if err != nil {
			return nil, err
		}
		var payload []byte
		switch tag {
		case chapterOpsPlain:
			payload = body
		case chapterOpsCompressed:
			payload, err = s2.Decode(nil, body)
			if err != nil {
				return nil, fmt.Errorf("codec: s2 decompress change %d: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("%w: tag %d", ErrUnknownColumn, tag)
		}
		c, err := changelog.DecodeCanonical(payload)
		if err != nil {
			return nil, fmt.Errorf("codec: decode change %d: %w", i, err)
		}
		changes[i] = c
	}
	return changes, nil
}

// compressIfWorthwhile returns the chapter tag and body to store for a
// change's canonical payload: compressed when the payload is large
// enough that s2's frame overhead is paid back, plain otherwise.
func compressIfWorthwhile(payload []byte, threshold int) (byte, []byte) {
	if threshold <= 0 {
		threshold = DefaultOptions().CompressThreshold
	}
	if len(payload) < threshold {
		return chapterOpsPlain, payload
	}
	scratch := bufpool.GetBytes()
	compressed := s2.Encode(scratch[:cap(scratch)], payload)
	if len(compressed) >= len(payload) {
		bufpool.PutBytes(scratch)
		return chapterOpsPlain, payload
	}
	// own copy: the chapter body outlives this scratch buffer's pool slot
	out := append([]byte(nil), compressed...)
	bufpool.PutBytes(scratch)
	return chapterOpsCompressed, out
}

func collectActors(changes []*changelog.Change) []actorid.ActorId {
	seen := make(map[string]bool)
	var out []actorid.ActorId
	for _, c := range changes {
		key := c.Actor.String()
		if !seen[key] {
			seen[key] = true
			out = append(out, c.Actor)
		}
	}
	return out
}

func encodeActorDict(actors []actorid.ActorId) []byte {
	var buf bytes.Buffer
	writeUvarint(&buf, uint64(len(actors)))
	for _, a := range actors {
		writeBytesField(&buf, a.Bytes())
	}
	return buf.Bytes()
}

func decodeActorDict(b []byte) []actorid.ActorId {
	r := &reader{b: b}
	n, err := r.readUvarint()
	if err != nil {
		return nil
	}
	out := make([]actorid.ActorId, 0, n)
	for i := uint64(0); i < n; i++ {
		ab, err := r.readBytesField()
		if err != nil {
			return out
		}
		out = append(out, actorid.FromBytes(ab))
	}
	return out
}

func writeChapter(buf *bytes.Buffer, tag byte, body []byte) {
	buf.WriteByte(tag)
	writeUvarint(buf, uint64(len(body)))
	buf.Write(body)
}

type reader struct {
	b   []byte
	pos int
}

func (r *reader) readChapter() (byte, []byte, error) {
	if r.pos >= len(r.b) {
		return 0, nil, fmt.Errorf("%w: expected chapter, found end of document", ErrBadFormat)
	}
	tag := r.b[r.pos]
	r.pos++
	n, err := r.readUvarint()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: truncated chapter length", ErrBadFormat)
	}
	if uint64(len(r.b)-r.pos) < n {
		return 0, nil, fmt.Errorf("%w: truncated chapter body", ErrBadFormat)
	}
	body := r.b[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return tag, body, nil
}

func (r *reader) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.b[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad varint", ErrBadFormat)
	}
	r.pos += n
	return v, nil
}

func (r *reader) readBytesField() ([]byte, error) {
	n, err := r.readUvarint()
	if err != nil {
		return nil, err
	}
	if uint64(len(r.b)-r.pos) < n {
		return nil, fmt.Errorf("%w: truncated bytes field", ErrBadFormat)
	}
	out := r.b[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeBytesField(buf *bytes.Buffer, b []byte) {
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
}
