package document

import (
	"github.com/lattice-crdt/automerge/pkg/changelog"
	"github.com/lattice-crdt/automerge/pkg/materialize"
	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/value"
)

// MapPut writes an arbitrary ScalarValue at a map key (spec §6
// `map_put_<scalar>`, collapsed to one entry point since ScalarValue is
// already the tagged union every map_put_* variant constructs before
// calling in).
func (d *Document) MapPut(obj opid.ObjId, key string, v value.ScalarValue) (opid.OpId, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.ensureTxn().PutMap(obj, key, v)
	if err == nil {
		d.cache.Clear()
	}
	return id, err
}

// MapPutNull writes Null at a map key (spec §6 `map_put_null`).
func (d *Document) MapPutNull(obj opid.ObjId, key string) (opid.OpId, error) {
	return d.MapPut(obj, key, value.Null)
}

// MapPutObject creates a new Map/List/Text container at a map key and
// returns its ObjId (spec §6 `map_put_object`).
func (d *Document) MapPutObject(obj opid.ObjId, key string, t value.ObjType) (opid.ObjId, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.ensureTxn().MakeMap(obj, key, t)
	if err == nil {
		d.cache.Clear()
	}
	return id, err
}

// MapDelete removes a map key; deleting an absent key is a no-op (spec
// §6 `map_delete`, spec §8 boundary behavior).
func (d *Document) MapDelete(obj opid.ObjId, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.ensureTxn().DeleteMap(obj, key)
	if err == nil {
		d.cache.Clear()
	}
	return err
}

// MapIncrement applies a delta to a Counter value at a map key (spec §6
// `map_increment`).
func (d *Document) MapIncrement(obj opid.ObjId, key string, delta int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.ensureTxn().IncrementMap(obj, key, delta)
	if err == nil {
		d.cache.Clear()
	}
	return err
}

// MapGet resolves a single map key to its winning value at heads (the
// live document if heads is empty) (spec §6 `map_get(obj, key, heads?)`).
// Resolutions are cached per (obj, key, heads) since repeated reads
// against a stable history are the common UI re-render case pkg/rescache
// targets (SPEC_FULL.md §B).
func (d *Document) MapGet(obj opid.ObjId, key string, heads ...changelog.Hash) (materialize.Entry, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ck := d.cacheKey(obj.String(), "m:"+key, heads)
	if cached, ok := d.cache.Get(ck); ok {
		c := cached.(cachedEntry)
		return c.entry, c.ok, nil
	}

	store, err := d.storeAt(heads)
	if err != nil {
		return materialize.Entry{}, false, err
	}
	e, ok, err := materialize.GetMapKey(store, obj, key)
	if err != nil {
		return materialize.Entry{}, false, err
	}
	d.cache.Put(ck, cachedEntry{entry: e, ok: ok})
	return e, ok, nil
}

// MapGetAll returns every conflicting value at a map key, winner first
// (spec §6 `map_get_all`).
func (d *Document) MapGetAll(obj opid.ObjId, key string, heads ...changelog.Hash) ([]materialize.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	store, err := d.storeAt(heads)
	if err != nil {
		return nil, err
	}
	return materialize.GetAllMapKey(store, obj, key)
}

// MapRange returns every live (key, value) pair of a Map in [startKey,
// endKey) (spec §6 `map_range`).
func (d *Document) MapRange(obj opid.ObjId, startKey, endKey string, heads ...changelog.Hash) ([]materialize.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	store, err := d.storeAt(heads)
	if err != nil {
		return nil, err
	}
	return materialize.MapRange(store, obj, startKey, endKey)
}

// Keys returns every live map key of obj, sorted ascending (spec §6
// `keys`).
func (d *Document) Keys(obj opid.ObjId, heads ...changelog.Hash) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	store, err := d.storeAt(heads)
	if err != nil {
		return nil, err
	}
	return materialize.Keys(store, obj)
}

// cachedEntry is the rescache payload for a single-winner map/list read:
// both the Entry and whether the key had any visible value at all, since
// a cached "absent" result is just as valid to reuse as a cached hit.
type cachedEntry struct {
	entry materialize.Entry
	ok    bool
}
