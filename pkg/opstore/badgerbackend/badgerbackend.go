// Package badgerbackend gives a Document optional durability: every
// committed or merged-in changelog.Change is persisted to BadgerDB,
// content-addressed by its hash, alongside an insertion-order index that
// lets a reopened document replay its history in a valid causal order
// without re-deriving one.
//
// Grounded in the teacher's pkg/storage/badger.go and
// badger_transaction.go: same single-byte key prefix scheme, the same
// BadgerOptions{DataDir,InMemory,SyncWrites} shape, the same
// mutex-guarded closed flag. Where the teacher stores a JSON-encoded
// Node/Edge per key, this package stores a change's own
// pkg/codec.EncodeChange bytes — the op graph itself
// (pkg/opstore.OpStore) is a pure in-memory projection rebuilt by
// replaying changes, so changes are the only thing that needs a durable
// form.
package badgerbackend

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/lattice-crdt/automerge/pkg/changelog"
	"github.com/lattice-crdt/automerge/pkg/codec"
)

// Key prefixes, mirroring the teacher's single-byte prefix convention
// (storage/badger.go prefixNode/prefixEdge).
const (
	prefixChange byte = 0x01 // prefixChange + hash(32) -> codec.EncodeChange(change)
	prefixOrder  byte = 0x02 // prefixOrder + bigendian(seq) -> hash(32)
)

var metaNextSeqKey = []byte{0x03}

// ErrClosed is returned by any Store method called after Close.
var ErrClosed = errors.New("badgerbackend: store is closed")

// Store durably records a document's change history in BadgerDB.
type Store struct {
	db *badger.DB

	mu     sync.Mutex
	closed bool
}

// Options configures the BadgerDB-backed store (spec §9 "engine is free
// to choose its on-disk representation"; this is this engine's choice).
type Options struct {
	// DataDir is the directory for storing data files. Required unless
	// InMemory is set.
	DataDir string
	// InMemory runs BadgerDB in memory-only mode, useful for tests that
	// want persistence semantics without real disk I/O (mirrors the
	// teacher's NewBadgerEngineInMemory).
	InMemory bool
	// SyncWrites forces fsync after each write.
	SyncWrites bool
}

// Open opens (or creates) a durable store at dataDir.
func Open(dataDir string) (*Store, error) {
	return OpenWithOptions(Options{DataDir: dataDir})
}

// OpenInMemory opens a store with no on-disk footprint, for tests.
func OpenInMemory() (*Store, error) {
	return OpenWithOptions(Options{InMemory: true})
}

// OpenWithOptions opens a store with full control over BadgerDB's
// durability trade-offs.
func OpenWithOptions(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir).WithLogger(nil)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("badgerbackend: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func changeKey(h changelog.Hash) []byte {
	return append([]byte{prefixChange}, h[:]...)
}

func orderKey(seq uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefixOrder
	binary.BigEndian.PutUint64(key[1:], seq)
	return key
}

// Has reports whether a change is already durably recorded.
func (s *Store) Has(h changelog.Hash) (bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	s.mu.Unlock()

	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(changeKey(h))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// AppendChange durably records a change, keyed by its own hash so
// re-appending the same change (e.g. re-applying a merge that includes
// something already recorded) is a harmless no-op rather than a
// duplicate entry.
func (s *Store) AppendChange(c *changelog.Change) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	h := c.Hash()
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(changeKey(h)); err == nil {
			return nil // already durable
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		seq, err := nextSeq(txn)
		if err != nil {
			return err
		}
		if err := txn.Set(changeKey(h), codec.EncodeChange(c)); err != nil {
			return err
		}
		if err := txn.Set(orderKey(seq), h[:]); err != nil {
			return err
		}
		return setNextSeq(txn, seq+1)
	})
}

// LoadAll replays every durably recorded change in the order it was
// first appended, which is always a valid causal (deps-before-dependents)
// order since AppendChange is only ever called after a change's deps are
// already present in the in-memory log.
func (s *Store) LoadAll() ([]*changelog.Change, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	var changes []*changelog.Change
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixOrder}
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var hashBytes []byte
			if err := it.Item().Value(func(val []byte) error {
				hashBytes = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}
			var h changelog.Hash
			copy(h[:], hashBytes)

			item, err := txn.Get(changeKey(h))
			if err != nil {
				return fmt.Errorf("badgerbackend: order entry references missing change %s: %w", h, err)
			}
			var encoded []byte
			if err := item.Value(func(val []byte) error {
				encoded = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}
			c, err := codec.DecodeChange(encoded)
			if err != nil {
				return fmt.Errorf("badgerbackend: decode change %s: %w", h, err)
			}
			changes = append(changes, c)
		}
		return nil
	})
	return changes, err
}

func nextSeq(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(metaNextSeqKey)
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("badgerbackend: corrupt sequence counter")
		}
		seq = binary.BigEndian.Uint64(val)
		return nil
	})
	return seq, err
}

func setNextSeq(txn *badger.Txn, seq uint64) error {
	var buf bytes.Buffer
	tmp := make([]byte, 8)
	binary.BigEndian.PutUint64(tmp, seq)
	buf.Write(tmp)
	return txn.Set(metaNextSeqKey, buf.Bytes())
}
