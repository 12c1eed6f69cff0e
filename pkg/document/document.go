// Package document is the public API surface of the engine (spec §6
// "Operations surface"): the Document type wires together every lower
// layer — pkg/opstore, pkg/txn, pkg/changelog, pkg/merge, pkg/materialize,
// pkg/cursor, pkg/marks, pkg/codec, pkg/rescache and pkg/docconfig — into
// the create/mutate/commit/save/merge lifecycle spec.md describes.
//
// Mirroring the teacher's storage.Transaction wrapping a badger
// transaction, a Document lazily opens one pkg/txn.Transaction on the
// first mutating call and keeps it open across calls until Commit or
// Rollback closes it — giving callers the usual
// "several puts, then one commit" shape without making every single
// mutating method take an explicit transaction handle.
package document

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lattice-crdt/automerge/internal/bufpool"
	"github.com/lattice-crdt/automerge/pkg/actorid"
	"github.com/lattice-crdt/automerge/pkg/changelog"
	"github.com/lattice-crdt/automerge/pkg/clock"
	"github.com/lattice-crdt/automerge/pkg/codec"
	"github.com/lattice-crdt/automerge/pkg/docconfig"
	"github.com/lattice-crdt/automerge/pkg/materialize"
	"github.com/lattice-crdt/automerge/pkg/merge"
	"github.com/lattice-crdt/automerge/pkg/opstore"
	"github.com/lattice-crdt/automerge/pkg/opstore/badgerbackend"
	"github.com/lattice-crdt/automerge/pkg/rescache"
	"github.com/lattice-crdt/automerge/pkg/txn"
)

// Errors this package can return (SPEC_FULL.md §A.3).
var (
	// ErrActorMidTransaction is returned by SetActor while a transaction
	// holds staged ops: those ops were already minted under the old
	// actor's id, and finishing the transaction under a different actor
	// would split one change across two identities. Committed history is
	// no obstacle — each recorded change carries its own actor, so
	// switching identity between commits (what fork does) is fine.
	ErrActorMidTransaction = errors.New("document: cannot change actor while a transaction has staged ops")
	// ErrNoMerge is returned by Merge when the base document's own local
	// mutations are still uncommitted — merging with an open transaction
	// would interleave another actor's ops with an in-progress local one.
	ErrNoMerge = errors.New("document: cannot merge while a local transaction is open")
)

// Document is a single CRDT document: one actor's view of an op graph
// plus the change history needed to sync with other views (spec §2).
type Document struct {
	mu sync.Mutex

	actor actorid.ActorId
	cfg   *docconfig.Config

	store   *opstore.OpStore
	clock   *clock.LamportClock
	seq     *clock.SeqTracker
	log     *changelog.Log
	pending *merge.Pending
	cache   *rescache.Cache

	tx *txn.Transaction

	// savedHeads is the frontier SaveIncremental last exported up to,
	// so repeated calls only re-export what changed since (spec §6
	// save_incremental).
	savedHeads []changelog.Hash

	// persist is set by OpenPersistent; every newly added change is
	// durably recorded to it as it's committed or merged in. nil means
	// the document is purely in-memory (the default for Create).
	persist *badgerbackend.Store
}

// Create returns a new, empty document. If actor is the zero value a
// fresh random ActorId is minted (spec §6 `create(actor?)`).
func Create(actor actorid.ActorId, cfg *docconfig.Config) *Document {
	if actor.IsRoot() {
		actor = actorid.New()
	}
	if cfg == nil {
		cfg = docconfig.Default()
	}
	bufpool.Configure(bufpool.Config{Enabled: cfg.PoolEnabled, MaxSize: cfg.PoolMaxSize})
	return &Document{
		actor:   actor,
		cfg:     cfg,
		store:   opstore.New(),
		clock:   &clock.LamportClock{},
		seq:     &clock.SeqTracker{},
		log:     changelog.New(),
		pending: merge.NewPending(),
		cache:   rescache.New(cfg.ResCacheSize, cfg.ResCacheTTL),
	}
}

// GetActor returns the document's current actor id (spec §6 `get_actor`).
func (d *Document) GetActor() actorid.ActorId {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.actor
}

// SetActor changes the actor new ops will be minted under (spec §6
// `set_actor`). Rejected while a transaction has staged ops, since those
// were already minted under the old identity; between commits it is
// always valid, and the actor's seq continues from whatever that actor
// last committed in this document's history.
func (d *Document) SetActor(actor actorid.ActorId) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx != nil {
		if len(d.tx.StagedOps()) > 0 {
			return ErrActorMidTransaction
		}
		// An empty transaction was opened under the old identity; discard
		// it so the next mutation begins one under the new actor.
		_ = d.tx.Rollback()
		d.tx = nil
	}
	if actor.Equal(d.actor) {
		return nil
	}
	d.actor = actor
	d.seq = &clock.SeqTracker{}
	for _, c := range d.log.All() {
		if c.Actor.Equal(actor) {
			d.seq.Advance(c.Seq)
		}
	}
	return nil
}

// GetHeads returns the current causal frontier (spec §6 `get_heads`).
func (d *Document) GetHeads() []changelog.Hash {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.log.Heads()
}

// GetChanges returns every change not reachable from since (spec §6
// `get_changes(since)`).
func (d *Document) GetChanges(since []changelog.Hash) []*changelog.Change {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.log.Since(since)
}

// GetChangeByHash looks up a single change by its hash (spec §6
// `get_change_by_hash`).
func (d *Document) GetChangeByHash(h changelog.Hash) (*changelog.Change, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.log.Get(h)
}

// ensureTxn opens a transaction against the document's current heads if
// one isn't already open. Callers must hold d.mu.
func (d *Document) ensureTxn() *txn.Transaction {
	if d.tx == nil {
		d.tx = txn.Begin(d.actor, d.store, d.clock, d.seq, d.log.Heads())
	}
	return d.tx
}

// Commit finalizes the currently open transaction into a new Change
// (spec §6 `commit(message?, time?)`). If no transaction is open, or the
// open transaction staged no ops, Commit is a no-op: the heads are
// unchanged and the returned ok is false (mirroring real CRDT engines,
// where a commit with nothing to say produces nothing).
func (d *Document) Commit(message string, ts time.Time) (changelog.Hash, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx == nil || len(d.tx.StagedOps()) == 0 {
		if d.tx != nil {
			_ = d.tx.Rollback()
			d.tx = nil
		}
		return changelog.Hash{}, false, nil
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	tx := d.tx
	ids, err := tx.Commit()
	if err != nil {
		return changelog.Hash{}, false, err
	}
	change, err := changelog.FromStaged(tx.Actor(), tx.Seq(), tx.Deps(), d.store, ids, message, ts)
	if err != nil {
		return changelog.Hash{}, false, err
	}
	if err := d.log.Add(change); err != nil {
		return changelog.Hash{}, false, err
	}
	if d.persist != nil {
		if err := d.persist.AppendChange(change); err != nil {
			return changelog.Hash{}, false, fmt.Errorf("document: persist commit: %w", err)
		}
	}
	d.tx = nil
	d.cache.Clear()
	log.Printf("[document] committed change %s (actor=%s seq=%d ops=%d)", change.Hash(), change.Actor, change.Seq, len(change.Ops))
	return change.Hash(), true, nil
}

// Rollback discards every op staged since the last commit (spec §6
// `rollback`). A no-op if no transaction is open.
func (d *Document) Rollback() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx == nil {
		return nil
	}
	err := d.tx.Rollback()
	d.tx = nil
	// Reads taken mid-transaction were cached against the staged state;
	// discarding the staged ops makes those entries stale.
	d.cache.Clear()
	return err
}

// Close releases the document's durable store, if OpenPersistent opened
// one. A no-op on a purely in-memory document.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.persist == nil {
		return nil
	}
	return d.persist.Close()
}

// ApplyChanges merges a batch of remote changes into this document (spec
// §6 `apply_changes`, §4.8). Changes whose dependencies are not yet
// present are buffered and resurface automatically once a later call
// supplies the missing dependency.
func (d *Document) ApplyChanges(changes []*changelog.Change) ([]changelog.Hash, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx != nil {
		return nil, ErrNoMerge
	}
	applied, err := merge.Apply(d.store, d.log, d.pending, changes)
	for _, h := range applied {
		// pkg/merge applies a change's ops into the store but has no
		// Lamport clock to update; the clock's own contract (pkg/clock
		// doc comment) is that every applied op, local or remote, gets
		// observed so a later local op's counter can never collide with
		// one the merge just brought in.
		c, ok := d.log.Get(h)
		if !ok {
			continue
		}
		d.clock.Observe(c.MaxOp)
		if d.persist != nil {
			if perr := d.persist.AppendChange(c); perr != nil {
				return applied, fmt.Errorf("document: persist applied change %s: %w", h, perr)
			}
		}
	}
	if len(applied) > 0 {
		d.cache.Clear()
	}
	return applied, err
}

// Merge applies every change in other's history this document doesn't
// already have (spec §6 `merge(other)`), and symmetrically is what a
// caller invokes on both sides to converge two documents.
func (d *Document) Merge(other *Document) ([]changelog.Hash, error) {
	d.mu.Lock()
	txOpen := d.tx != nil
	d.mu.Unlock()
	if txOpen {
		return nil, ErrNoMerge
	}
	other.mu.Lock()
	theirHeads := other.log.Heads()
	theirChanges := other.log.Since(nil)
	other.mu.Unlock()
	if len(theirHeads) == 0 {
		return nil, nil
	}
	return d.ApplyChanges(theirChanges)
}

// Clone returns an independent copy of the document under the same
// actor id, sharing no mutable state with the original (spec §6
// `clone`). Any open transaction on the original is not copied.
func (d *Document) Clone() *Document {
	d.mu.Lock()
	changes := d.log.Since(nil)
	actor := d.actor
	cfg := d.cfg
	d.mu.Unlock()

	out := Create(actor, cfg)
	if _, err := out.ApplyChanges(changes); err != nil {
		// Replaying a document's own history onto a fresh store can only
		// fail on an internal invariant violation; Clone has no partial
		// result to offer the caller, so it panics rather than returning
		// a half-built document with a buried error (SPEC_FULL.md §A.3
		// "internal invariant violations: fatal").
		panic(fmt.Sprintf("document: clone failed to replay own history: %v", err))
	}
	return out
}

// Fork returns a new document, under a fresh actor id, containing
// exactly the state at heads (the current heads if heads is empty) (spec
// §6 `fork(heads?)`).
func (d *Document) Fork(heads ...changelog.Hash) (*Document, error) {
	d.mu.Lock()
	if len(heads) == 0 {
		heads = d.log.Heads()
	}
	var changes []*changelog.Change
	for _, h := range heads {
		if !d.log.Has(h) {
			d.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", materialize.ErrUnknownHead, h)
		}
	}
	changes = d.log.Since(nil)
	cfg := d.cfg
	d.mu.Unlock()

	// Keep only the causal ancestors of heads: Since(nil) returns the
	// whole history, and ApplyChanges' own dependency ordering will
	// simply skip anything not reachable once we filter by heads below.
	included := ancestorsOf(d, heads)
	var filtered []*changelog.Change
	for _, c := range changes {
		if included[c.Hash()] {
			filtered = append(filtered, c)
		}
	}

	out := Create(actorid.New(), cfg)
	if _, err := out.ApplyChanges(filtered); err != nil {
		return nil, err
	}
	return out, nil
}

// ancestorsOf returns the set of hashes that are causal ancestors of (or
// equal to) heads, reusing the document's own log rather than
// duplicating the walk materialize.AtHeads already does internally.
func ancestorsOf(d *Document, heads []changelog.Hash) map[changelog.Hash]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	included := make(map[changelog.Hash]bool)
	var walk func(h changelog.Hash)
	walk = func(h changelog.Hash) {
		if included[h] {
			return
		}
		c, ok := d.log.Get(h)
		if !ok {
			return
		}
		included[h] = true
		for _, dep := range c.Deps {
			walk(dep)
		}
	}
	for _, h := range heads {
		walk(h)
	}
	return included
}

// storeAt returns the live store when heads is empty, or a historical
// snapshot limited to heads' causal ancestors otherwise (spec §6's
// `heads?` parameter on every read operation). Callers must hold d.mu.
func (d *Document) storeAt(heads []changelog.Hash) (*opstore.OpStore, error) {
	if len(heads) == 0 {
		return d.store, nil
	}
	return materialize.AtHeads(d.log, heads)
}

// cacheKey builds the rescache lookup key for a (object, key, heads)
// read. heads is resolved to the live frontier first so two calls
// against "current" state always hash to the same key even as the
// frontier advances between them.
func (d *Document) cacheKey(objKey, subKey string, heads []changelog.Hash) string {
	effective := heads
	if len(effective) == 0 {
		effective = d.log.Heads()
	}
	return objKey + "/" + subKey + "@" + materialize.HeadsFingerprint(effective)
}

// Save renders the full save-format bytes (spec §6 `save`), using the
// teacher-derived framing in pkg/codec.
func (d *Document) Save() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	changes := d.log.Since(nil)
	d.savedHeads = d.log.Heads()
	return codec.EncodeDocumentOpts(changes, d.codecOptions())
}

// codecOptions maps this document's configuration onto pkg/codec's knobs.
func (d *Document) codecOptions() codec.Options {
	return codec.Options{
		VerifyHashes:      d.cfg.VerifyHashes,
		CompressThreshold: d.cfg.CompressThreshold,
	}
}

// SaveIncremental returns the concatenated incremental-change encodings
// of every change recorded since the last Save/SaveIncremental call
// (spec §6 `save_incremental`).
func (d *Document) SaveIncremental() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	changes := d.log.Since(d.savedHeads)
	d.savedHeads = d.log.Heads()
	var out []byte
	for _, c := range changes {
		out = append(out, codec.EncodeChange(c)...)
	}
	return out
}

// Load parses the full save-format bytes produced by Save and returns a
// fresh document replaying that history (spec §6 `load(bytes)`).
func Load(b []byte, cfg *docconfig.Config) (*Document, error) {
	if cfg == nil {
		cfg = docconfig.Default()
	}
	changes, err := codec.DecodeDocumentOpts(b, codec.Options{
		VerifyHashes:      cfg.VerifyHashes,
		CompressThreshold: cfg.CompressThreshold,
	})
	if err != nil {
		return nil, err
	}
	out := Create(actorid.New(), cfg)
	if _, err := out.ApplyChanges(changes); err != nil {
		return nil, err
	}
	if len(changes) > 0 {
		out.actor = changes[len(changes)-1].Actor
		// A later local commit under the resumed actor must continue that
		// actor's seq count rather than restarting at 1 (spec Invariant 8:
		// "seq per actor forms an unbroken sequence"); SeqTracker is
		// otherwise only ever advanced by this document's own local
		// commits, which never happened yet on a freshly loaded document.
		for _, c := range changes {
			if c.Actor.Equal(out.actor) {
				out.seq.Advance(c.Seq)
			}
		}
	}
	out.savedHeads = out.log.Heads()
	return out, nil
}

// LoadIncremental decodes one incremental-change blob and applies it to
// this document in place (spec §6 `load_incremental(bytes)`).
func (d *Document) LoadIncremental(b []byte) ([]changelog.Hash, error) {
	change, err := codec.DecodeChange(b)
	if err != nil {
		return nil, err
	}
	return d.ApplyChanges([]*changelog.Change{change})
}
