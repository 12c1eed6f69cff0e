package document

import (
	"github.com/lattice-crdt/automerge/pkg/changelog"
	"github.com/lattice-crdt/automerge/pkg/marks"
	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/opstore"
	"github.com/lattice-crdt/automerge/pkg/value"
)

// MarkCreate applies a rich-text mark over the half-open range [start,
// end) of a sequence object (spec §6 `mark_create`).
func (d *Document) MarkCreate(obj opid.ObjId, start, end int, name string, v value.ScalarValue, expand opstore.ExpandPolicy) (opid.OpId, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.ensureTxn().Mark(obj, start, end, name, v, expand)
	if err == nil {
		d.cache.Clear()
	}
	return id, err
}

// MarkClear removes a mark over [start, end) (spec §6 `mark_clear`).
func (d *Document) MarkClear(obj opid.ObjId, start, end int, name string, expand opstore.ExpandPolicy) (opid.OpId, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.ensureTxn().MarkClear(obj, start, end, name, expand)
	if err == nil {
		d.cache.Clear()
	}
	return id, err
}

// Marks returns the currently active, consolidated mark ranges of a
// sequence object at heads (spec §6 `marks(obj, heads?)`).
func (d *Document) Marks(obj opid.ObjId, heads ...changelog.Hash) ([]marks.Range, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	store, err := d.storeAt(heads)
	if err != nil {
		return nil, err
	}
	return marks.Sweep(store, obj)
}
