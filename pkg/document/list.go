package document

import (
	"github.com/lattice-crdt/automerge/pkg/changelog"
	"github.com/lattice-crdt/automerge/pkg/docconfig"
	"github.com/lattice-crdt/automerge/pkg/materialize"
	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/seqindex"
	"github.com/lattice-crdt/automerge/pkg/value"
)

// AtEnd is the position sentinel for "insert at the end of the
// sequence" (spec §6 Indices: the SIZE_MAX-equivalent for put-at-index).
const AtEnd = -1

// ListPut writes a ScalarValue at a sequence position, inserting a new
// element (insert=true) or overwriting the existing one (insert=false)
// (spec §6 `list_put_<scalar>`/`list_put_object`/`list_put_null`
// collapsed the same way MapPut collapses its map_put_* family).
// Passing AtEnd with insert=true appends.
func (d *Document) ListPut(obj opid.ObjId, pos int, insert bool, v value.ScalarValue) (opid.OpId, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pos == AtEnd {
		pos = seqindex.Build(d.store, obj).Len()
	}
	tx := d.ensureTxn()
	var id opid.OpId
	var err error
	if insert {
		id, err = tx.ListInsert(obj, pos, v)
	} else {
		id, err = tx.ListPut(obj, pos, v)
	}
	if err == nil {
		d.cache.Clear()
	}
	return id, err
}

// ListPutNull writes Null at a sequence position (spec §6
// `list_put_null`).
func (d *Document) ListPutNull(obj opid.ObjId, pos int, insert bool) (opid.OpId, error) {
	return d.ListPut(obj, pos, insert, value.Null)
}

// ListPutObject inserts a new Map/List/Text container at a sequence
// position (spec §6 `list_put_object`). Like ListPut(insert=true), this
// always creates a new element; replacing an existing element's type
// requires a ListDelete followed by ListPutObject at the same position.
func (d *Document) ListPutObject(obj opid.ObjId, pos int, t value.ObjType) (opid.ObjId, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pos == AtEnd {
		pos = seqindex.Build(d.store, obj).Len()
	}
	id, err := d.ensureTxn().ListMakeObject(obj, pos, t)
	if err == nil {
		d.cache.Clear()
	}
	return id, err
}

// ListDelete removes the element at a sequence position; deleting a
// nonexistent position is a no-op consistent with MapDelete's boundary
// behavior (spec §6 `list_delete`).
func (d *Document) ListDelete(obj opid.ObjId, pos int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.ensureTxn().ListDelete(obj, pos)
	if err == nil {
		d.cache.Clear()
	}
	return err
}

// ListIncrement applies a delta to a Counter value at a sequence
// position (spec §6 `list_increment`).
func (d *Document) ListIncrement(obj opid.ObjId, pos int, delta int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.ensureTxn().ListIncrement(obj, pos, delta)
	if err == nil {
		d.cache.Clear()
	}
	return err
}

// ListGet resolves a single sequence position to its winning value at
// heads (spec §6 `list_get(obj, index, heads?)`).
func (d *Document) ListGet(obj opid.ObjId, pos int, heads ...changelog.Hash) (materialize.Entry, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	store, err := d.storeAt(heads)
	if err != nil {
		return materialize.Entry{}, false, err
	}
	return materialize.GetListIndex(store, obj, pos)
}

// ListGetAll returns every conflicting value at a sequence position,
// winner first.
func (d *Document) ListGetAll(obj opid.ObjId, pos int, heads ...changelog.Hash) ([]materialize.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	store, err := d.storeAt(heads)
	if err != nil {
		return nil, err
	}
	return materialize.GetAllListIndex(store, obj, pos)
}

// ListRange returns the winning value at every visible position of a
// List/Text object (spec §6 `list_range`).
func (d *Document) ListRange(obj opid.ObjId, heads ...changelog.Hash) ([]materialize.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	store, err := d.storeAt(heads)
	if err != nil {
		return nil, err
	}
	return materialize.ListValues(store, obj)
}

// ObjSize returns the number of visible elements in a List/Text object
// (spec §6 `obj_size`, Testable Property 5).
func (d *Document) ObjSize(obj opid.ObjId, heads ...changelog.Hash) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	store, err := d.storeAt(heads)
	if err != nil {
		return 0, err
	}
	if _, err := store.ObjectType(obj); err != nil {
		return 0, err
	}
	return seqindex.Build(store, obj).Len(), nil
}

// Text flattens a Text object to its current string value (spec §6
// `text(obj, heads?)`).
func (d *Document) Text(obj opid.ObjId, heads ...changelog.Hash) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	store, err := d.storeAt(heads)
	if err != nil {
		return "", err
	}
	return materialize.Text(store, obj)
}

// Splice deletes deleteCount elements starting at start and inserts
// items at start, exactly as the equivalent deletes-then-inserts
// sequence would (spec §6 `splice`, Testable Property 7).
func (d *Document) Splice(obj opid.ObjId, start, deleteCount int, items []value.ScalarValue) ([]opid.OpId, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Any staged delete or insert changes what mid-transaction reads see,
	// so the cache is stale even when a later step errors out.
	defer d.cache.Clear()
	tx := d.ensureTxn()

	for i := 0; i < deleteCount; i++ {
		if err := tx.ListDelete(obj, start); err != nil {
			return nil, err
		}
	}

	ids := make([]opid.OpId, 0, len(items))
	for i, item := range items {
		id, err := tx.ListInsert(obj, start+i, item)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SpliceText is Splice specialized to a Text object, one element per
// rune of str (spec §6 `splice_text`). The units of start and
// deleteCount follow the document's configured text mode: in UTF-32
// mode they are code-point (element) offsets; in UTF-8 mode they are
// byte offsets, rounded to the enclosing code-point boundary when they
// land mid-character (spec §8 boundary behavior).
func (d *Document) SpliceText(obj opid.ObjId, start, deleteCount int, str string) error {
	if d.cfg.TextMode == docconfig.TextModeUTF8 {
		var err error
		start, deleteCount, err = d.textBytesToElems(obj, start, deleteCount)
		if err != nil {
			return err
		}
	}
	items := make([]value.ScalarValue, 0, len(str))
	for _, r := range str {
		items = append(items, value.Str(string(r)))
	}
	_, err := d.Splice(obj, start, deleteCount, items)
	return err
}

// textBytesToElems converts a byte-offset splice window into element
// units against the object's current text. The start offset rounds down
// to the start of the element it lands inside; the end offset rounds up,
// so a window touching any part of a character deletes the whole
// character.
func (d *Document) textBytesToElems(obj opid.ObjId, startByte, deleteBytes int) (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries, err := materialize.ListValues(d.store, obj)
	if err != nil {
		return 0, 0, err
	}

	endByte := startByte + deleteBytes
	startElem, endElem := -1, -1
	off := 0
	for i, e := range entries {
		if startElem < 0 && startByte < off+elemByteWidth(e) {
			startElem = i
		}
		if endElem < 0 && endByte <= off {
			endElem = i
		}
		off += elemByteWidth(e)
	}
	if startElem < 0 {
		startElem = len(entries)
	}
	if endElem < 0 {
		endElem = len(entries)
	}
	if deleteBytes == 0 || endElem < startElem {
		endElem = startElem
	}
	return startElem, endElem - startElem, nil
}

// elemByteWidth is the byte length an element contributes to the
// flattened text, matching materialize.Text's rendering rules.
func elemByteWidth(e materialize.Entry) int {
	if e.IsObj {
		return len("￼")
	}
	if s, ok := e.Value.AsStr(); ok {
		return len(s)
	}
	return len(e.Value.String())
}
