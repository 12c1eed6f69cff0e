// Package txn provides atomic, rollback-capable staging of a batch of
// ops into an OpStore (spec §4.5 Transaction semantics).
//
// Following the storage engine's Write-Ahead-Log pattern (buffer, then
// commit or discard), a Transaction stages ops directly into the
// underlying OpStore as operations are called (so later ops in the same
// transaction see earlier ones — read-your-writes falls out of using the
// real store), and remembers a Mark it can roll the store back to if the
// transaction is abandoned instead of committed.
package txn

import (
	"errors"
	"sync"
	"time"

	"github.com/lattice-crdt/automerge/pkg/actorid"
	"github.com/lattice-crdt/automerge/pkg/changelog"
	"github.com/lattice-crdt/automerge/pkg/clock"
	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/opstore"
	"github.com/lattice-crdt/automerge/pkg/resolve"
	"github.com/lattice-crdt/automerge/pkg/seqindex"
	"github.com/lattice-crdt/automerge/pkg/value"
)

var (
	ErrTransactionClosed = errors.New("txn: transaction already closed")
	ErrNotAContainer     = errors.New("txn: object is not the expected container type")
	ErrOutOfRange        = errors.New("txn: sequence position out of range")
	ErrNoSuchCounter     = errors.New("txn: key does not hold a counter")
)

// Status is the lifecycle state of a Transaction.
type Status string

const (
	StatusActive     Status = "active"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
)

// Transaction is a single actor's atomic batch of ops (spec §4.5: "a
// transaction stages one or more ops and either commits them all,
// producing one Change, or discards them all").
type Transaction struct {
	mu sync.Mutex

	actor     actorid.ActorId
	store     *opstore.OpStore
	clock     *clock.LamportClock
	seq       *clock.SeqTracker
	status    Status
	startTime time.Time

	storeMark int
	clockSnap uint64
	seqVal    uint64
	deps      []changelog.Hash
	staged    []opid.OpId

	Message string
}

// Begin opens a transaction against store, minting ops under actor. deps
// is the set of change hashes this transaction's resulting Change will
// declare as its causal parents (spec §3 Change.deps) — callers pass the
// document's current heads.
func Begin(actor actorid.ActorId, store *opstore.OpStore, c *clock.LamportClock, seq *clock.SeqTracker, deps []changelog.Hash) *Transaction {
	return &Transaction{
		actor:     actor,
		store:     store,
		clock:     c,
		seq:       seq,
		status:    StatusActive,
		startTime: time.Now(),
		storeMark: store.Mark(),
		clockSnap: c.Snapshot(),
		seqVal:    seq.NextSeq(),
		deps:      append([]changelog.Hash(nil), deps...),
	}
}

// Status returns the transaction's current lifecycle state.
func (tx *Transaction) Status() Status {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.status
}

// Seq returns the change sequence number this transaction will commit
// under, valid for the life of the transaction regardless of outcome.
func (tx *Transaction) Seq() uint64 { return tx.seqVal }

func (tx *Transaction) requireActive() error {
	if tx.status != StatusActive {
		return ErrTransactionClosed
	}
	return nil
}

func (tx *Transaction) nextID() opid.OpId {
	counter := tx.clock.NextCounter()
	tx.clock.Observe(counter)
	return opid.NewOpId(counter, tx.actor)
}

func idsOf(ops []*opstore.Op) []opid.OpId {
	out := make([]opid.OpId, len(ops))
	for i, op := range ops {
		out[i] = op.ID
	}
	return out
}

func (tx *Transaction) stage(op opstore.Op) (*opstore.Op, error) {
	stored, err := tx.store.Append(op)
	if err != nil {
		return nil, err
	}
	tx.staged = append(tx.staged, op.ID)
	return stored, nil
}

// PutMap writes a scalar value at a map key (spec §4.2 map_put).
func (tx *Transaction) PutMap(obj opid.ObjId, key string, v value.ScalarValue) (opid.OpId, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive(); err != nil {
		return opid.OpId{}, err
	}
	mapKey := opid.MapKey(key)
	pred := idsOf(tx.store.VisibleOpsAtKey(obj, mapKey))
	id := tx.nextID()
	_, err := tx.stage(opstore.Op{
		ID: id, Object: obj, Key: mapKey,
		Action: opstore.Action{Kind: opstore.ActionPut, Value: v},
		Pred:   pred,
	})
	return id, err
}

// MakeMap creates a new Map/List/Text container at a map key and returns
// its ObjId (spec §4.1 make).
func (tx *Transaction) MakeMap(obj opid.ObjId, key string, t value.ObjType) (opid.ObjId, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive(); err != nil {
		return opid.ObjId{}, err
	}
	mapKey := opid.MapKey(key)
	pred := idsOf(tx.store.VisibleOpsAtKey(obj, mapKey))
	id := tx.nextID()
	_, err := tx.stage(opstore.Op{
		ID: id, Object: obj, Key: mapKey,
		Action: opstore.Action{Kind: opstore.ActionMake, ObjType: t},
		Pred:   pred,
	})
	if err != nil {
		return opid.ObjId{}, err
	}
	return opid.NewObjId(id), nil
}

// DeleteMap removes a map key (spec §4.2 map_delete).
func (tx *Transaction) DeleteMap(obj opid.ObjId, key string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive(); err != nil {
		return err
	}
	mapKey := opid.MapKey(key)
	pred := idsOf(tx.store.VisibleOpsAtKey(obj, mapKey))
	if len(pred) == 0 {
		return nil
	}
	id := tx.nextID()
	_, err := tx.stage(opstore.Op{
		ID: id, Object: obj, Key: mapKey,
		Action: opstore.Action{Kind: opstore.ActionDelete},
		Pred:   pred,
	})
	return err
}

// IncrementMap applies a delta to a Counter value at a map key (spec
// §4.4 increment).
func (tx *Transaction) IncrementMap(obj opid.ObjId, key string, delta int64) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive(); err != nil {
		return err
	}
	mapKey := opid.MapKey(key)
	winner, ok, err := resolve.Winner(tx.store, obj, mapKey)
	if err != nil {
		return err
	}
	if !ok || winner.Value.Kind() != value.KindCounter {
		return ErrNoSuchCounter
	}
	id := tx.nextID()
	_, err = tx.stage(opstore.Op{
		ID: id, Object: obj, Key: mapKey,
		Action: opstore.Action{Kind: opstore.ActionIncrement, IncrementBy: delta},
		Pred:   []opid.OpId{winner.Op.ID},
	})
	return err
}

// ListIncrement applies a delta to a Counter value at a visible sequence
// position (spec §4.4 increment, addressed by list position rather than
// map key).
func (tx *Transaction) ListIncrement(obj opid.ObjId, pos int, delta int64) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive(); err != nil {
		return err
	}
	idx := seqindex.Build(tx.store, obj)
	elem, err := idx.ElemAt(pos)
	if err != nil {
		return err
	}
	seqKey := opid.SeqKey(elem)
	winner, ok, err := resolve.Winner(tx.store, obj, seqKey)
	if err != nil {
		return err
	}
	if !ok || winner.Value.Kind() != value.KindCounter {
		return ErrNoSuchCounter
	}
	id := tx.nextID()
	_, err = tx.stage(opstore.Op{
		ID: id, Object: obj, Key: seqKey,
		Action: opstore.Action{Kind: opstore.ActionIncrement, IncrementBy: delta},
		Pred:   []opid.OpId{winner.Op.ID},
	})
	return err
}

// ListInsert inserts a scalar value at a visible sequence position (spec
// §4.3 list_insert). pos == Len() appends.
func (tx *Transaction) ListInsert(obj opid.ObjId, pos int, v value.ScalarValue) (opid.OpId, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive(); err != nil {
		return opid.OpId{}, err
	}
	idx := seqindex.Build(tx.store, obj)
	anchor, err := idx.AnchorForInsertAt(pos)
	if err != nil {
		return opid.OpId{}, err
	}
	id := tx.nextID()
	_, err = tx.stage(opstore.Op{
		ID: id, Object: obj, Key: opid.SeqKey(anchor),
		Action: opstore.Action{Kind: opstore.ActionInsert, Value: v},
		Insert: true,
	})
	return id, err
}

// ListMakeObject inserts a new Map/List/Text container at a sequence
// position and returns its ObjId (spec §6 `list_put_object`). Like
// ListInsert, this always creates a new element; it never overwrites an
// existing one — overwriting with a fresh container requires a
// ListDelete followed by ListMakeObject at the same position.
func (tx *Transaction) ListMakeObject(obj opid.ObjId, pos int, t value.ObjType) (opid.ObjId, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive(); err != nil {
		return opid.ObjId{}, err
	}
	idx := seqindex.Build(tx.store, obj)
	anchor, err := idx.AnchorForInsertAt(pos)
	if err != nil {
		return opid.ObjId{}, err
	}
	id := tx.nextID()
	_, err = tx.stage(opstore.Op{
		ID: id, Object: obj, Key: opid.SeqKey(anchor),
		Action: opstore.Action{Kind: opstore.ActionMake, ObjType: t},
		Insert: true,
	})
	if err != nil {
		return opid.ObjId{}, err
	}
	return opid.NewObjId(id), nil
}

// ListPut overwrites the value at a visible sequence position (spec
// §4.3 list_put).
func (tx *Transaction) ListPut(obj opid.ObjId, pos int, v value.ScalarValue) (opid.OpId, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive(); err != nil {
		return opid.OpId{}, err
	}
	idx := seqindex.Build(tx.store, obj)
	elem, err := idx.ElemAt(pos)
	if err != nil {
		return opid.OpId{}, err
	}
	seqKey := opid.SeqKey(elem)
	pred := idsOf(tx.store.VisibleOpsAtKey(obj, seqKey))
	id := tx.nextID()
	_, err = tx.stage(opstore.Op{
		ID: id, Object: obj, Key: seqKey,
		Action: opstore.Action{Kind: opstore.ActionPut, Value: v},
		Pred:   pred,
	})
	return id, err
}

// ListDelete removes the element at a visible sequence position (spec
// §4.3 list_delete / splice with a negative length).
func (tx *Transaction) ListDelete(obj opid.ObjId, pos int) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive(); err != nil {
		return err
	}
	idx := seqindex.Build(tx.store, obj)
	elem, err := idx.ElemAt(pos)
	if err != nil {
		return err
	}
	seqKey := opid.SeqKey(elem)
	pred := idsOf(tx.store.VisibleOpsAtKey(obj, seqKey))
	if len(pred) == 0 {
		return nil
	}
	id := tx.nextID()
	_, err = tx.stage(opstore.Op{
		ID: id, Object: obj, Key: seqKey,
		Action: opstore.Action{Kind: opstore.ActionDelete},
		Pred:   pred,
	})
	return err
}

// markAnchor resolves the element a mark boundary op anchors to. A
// boundary is stored in one of two forms, chosen by its expand policy:
// "after the preceding element" (new inserts at the boundary share that
// anchor and so fall inside the mark — the expanding form) or "at the
// boundary element itself" (new inserts push that element away and stay
// outside — the non-expanding form). pkg/marks recovers the form from
// the op's expand policy when sweeping.
func markAnchor(idx *seqindex.Index, pos int, afterForm bool) (opid.ElemId, error) {
	if !afterForm && pos < idx.Len() {
		return idx.ElemAt(pos)
	}
	return idx.AnchorForInsertAt(pos)
}

// MarkBegin opens a rich-text mark range at a sequence position (spec
// §4.10 mark). The start boundary expands under Before/Both.
func (tx *Transaction) MarkBegin(obj opid.ObjId, pos int, name string, v value.ScalarValue, expand opstore.ExpandPolicy) (opid.OpId, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive(); err != nil {
		return opid.OpId{}, err
	}
	idx := seqindex.Build(tx.store, obj)
	expanding := expand == opstore.ExpandBefore || expand == opstore.ExpandBoth
	anchor, err := markAnchor(idx, pos, expanding)
	if err != nil {
		return opid.OpId{}, err
	}
	id := tx.nextID()
	_, err = tx.stage(opstore.Op{
		ID: id, Object: obj, Key: opid.SeqKey(anchor),
		Action: opstore.Action{Kind: opstore.ActionMarkBegin, MarkName: name, MarkValue: v, Expand: expand},
	})
	return id, err
}

// MarkEnd closes a mark range opened by MarkBegin, at the position one
// past the marked run's last element. The end boundary expands under
// After/Both. beginID must be the OpId MarkBegin returned for this
// range — pkg/marks pairs Begin/End by this id rather than by name,
// since two marks of the same name can be open concurrently over
// different ranges.
func (tx *Transaction) MarkEnd(obj opid.ObjId, pos int, beginID opid.OpId, name string, expand opstore.ExpandPolicy) (opid.OpId, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive(); err != nil {
		return opid.OpId{}, err
	}
	idx := seqindex.Build(tx.store, obj)
	// An expanding end is anchored AT the first element past the range
	// (the before-form), so inserts ahead of that element grow the mark.
	expanding := expand == opstore.ExpandAfter || expand == opstore.ExpandBoth
	anchor, err := markAnchor(idx, pos, !expanding)
	if err != nil {
		return opid.OpId{}, err
	}
	id := tx.nextID()
	_, err = tx.stage(opstore.Op{
		ID: id, Object: obj, Key: opid.SeqKey(anchor),
		Action: opstore.Action{Kind: opstore.ActionMarkEnd, MarkName: name, Expand: expand, MarkID: beginID},
	})
	return id, err
}

// Mark applies a full mark range in one call: MarkBegin at start, MarkEnd
// at end, sharing name/expand and paired by the Begin op's id (spec §6
// `mark_create`). mark_clear (spec §4.10) is the same call with
// value.Null as v.
func (tx *Transaction) Mark(obj opid.ObjId, start, end int, name string, v value.ScalarValue, expand opstore.ExpandPolicy) (opid.OpId, error) {
	beginID, err := tx.MarkBegin(obj, start, name, v, expand)
	if err != nil {
		return opid.OpId{}, err
	}
	if _, err := tx.MarkEnd(obj, end, beginID, name, expand); err != nil {
		return opid.OpId{}, err
	}
	return beginID, nil
}

// MarkClear removes a mark over [start, end) by applying a Begin/End
// pair whose value is Null (spec §4.10 `mark_clear`).
func (tx *Transaction) MarkClear(obj opid.ObjId, start, end int, name string, expand opstore.ExpandPolicy) (opid.OpId, error) {
	return tx.Mark(obj, start, end, name, value.Null, expand)
}

// StagedOps returns the OpIds staged so far, in mint order. Valid at any
// point in the transaction's life, including after commit.
func (tx *Transaction) StagedOps() []opid.OpId {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return append([]opid.OpId(nil), tx.staged...)
}

// Deps returns the causal parents this transaction's Change will declare.
func (tx *Transaction) Deps() []changelog.Hash {
	return append([]changelog.Hash(nil), tx.deps...)
}

// Actor returns the actor this transaction mints ops under.
func (tx *Transaction) Actor() actorid.ActorId { return tx.actor }

// Commit finalizes the transaction: the staged ops remain in the store
// and the actor's seq tracker advances. Returns the staged OpIds so the
// caller (pkg/document) can build the Change record with pkg/changelog.
func (tx *Transaction) Commit() ([]opid.OpId, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive(); err != nil {
		return nil, err
	}
	tx.status = StatusCommitted
	tx.seq.Advance(tx.seqVal)
	return append([]opid.OpId(nil), tx.staged...), nil
}

// Rollback discards every op staged in this transaction, truncating the
// store back to the Mark taken at Begin and restoring the Lamport clock
// watermark (spec §4.5: "rollback ... as if the transaction's ops were
// never applied").
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.requireActive(); err != nil {
		return err
	}
	tx.store.TruncateTo(tx.storeMark)
	tx.clock.Restore(tx.clockSnap)
	tx.status = StatusRolledBack
	return nil
}
