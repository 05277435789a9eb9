package systable

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/tuannm99/novacat/internal/lock"
	"github.com/tuannm99/novacat/internal/record"
	"github.com/tuannm99/novacat/internal/txn"
	"github.com/tuannm99/novacat/internal/txn/inval"
)

var (
	ErrUniqueViolation = errors.New("systable: duplicate key violates unique index")
	ErrRowNotFound     = errors.New("systable: row not found")
	ErrClosed          = errors.New("systable: handle closed")
)

// IndexDef describes one secondary index of a catalog.
type IndexDef[R any] struct {
	Name   string
	Unique bool
	Key    func(*R) []byte
}

// Def describes a catalog: its bucket, lock tag, primary key and indexes.
type Def[R any] struct {
	Name    string
	LockID  record.Oid
	Key     func(*R) []byte
	Indexes []IndexDef[R]
}

func (d *Def[R]) bucket() []byte { return []byte(d.Name) }

func indexBucket(catalog, index string) []byte {
	return []byte(catalog + "_" + index)
}

func (d *Def[R]) index(name string) (IndexDef[R], bool) {
	for _, ix := range d.Indexes {
		if ix.Name == name {
			return ix, true
		}
	}
	return IndexDef[R]{}, false
}

// Table is an open catalog handle scoped to one transaction. Close it with
// defer; it releases the catalog lock taken by Open.
type Table[R any, P interface {
	*R
	Row
}] struct {
	def    *Def[R]
	store  *Store
	tx     *txn.Txn
	b      *bolt.Bucket
	mode   lock.Mode
	closed bool
}

// Open locks the catalog in mode and returns a handle on it.
func Open[R any, P interface {
	*R
	Row
}](ctx context.Context, s *Store, tx *txn.Txn, def *Def[R], mode lock.Mode) (*Table[R, P], error) {
	if err := tx.Lock(ctx, def.LockID, mode); err != nil {
		return nil, err
	}
	b := tx.Bolt().Bucket(def.bucket())
	if b == nil {
		s.locks.Release(tx.Owner(), def.LockID, mode)
		return nil, errors.Errorf("systable: catalog %s not initialized", def.Name)
	}
	return &Table[R, P]{def: def, store: s, tx: tx, b: b, mode: mode}, nil
}

func (t *Table[R, P]) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.store.locks.Release(t.tx.Owner(), t.def.LockID, t.mode)
}

func (t *Table[R, P]) decode(v []byte) (P, error) {
	var r R
	if err := msgpack.Unmarshal(v, &r); err != nil {
		return nil, errors.Wrapf(err, "systable: decode %s row", t.def.Name)
	}
	return P(&r), nil
}

func (t *Table[R, P]) visible(p P) bool {
	st := p.stamp()
	return t.tx.Visible(st.Xmin, st.Cmin)
}

func (t *Table[R, P]) indexKey(ix IndexDef[R], r *R, pk []byte) []byte {
	k := ix.Key(r)
	if ix.Unique {
		return k
	}
	return append(append([]byte{}, k...), pk...)
}

func (t *Table[R, P]) putIndexes(r *R, pk []byte) error {
	if t.store.IgnoreIndexes() {
		return nil
	}
	for _, ix := range t.def.Indexes {
		ib := t.tx.Bolt().Bucket(indexBucket(t.def.Name, ix.Name))
		key := t.indexKey(ix, r, pk)
		if ix.Unique {
			if existing := ib.Get(key); existing != nil && !bytes.Equal(existing, pk) {
				return errors.Wrapf(ErrUniqueViolation, "%s_%s", t.def.Name, ix.Name)
			}
		}
		if err := ib.Put(key, pk); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table[R, P]) deleteIndexes(r *R, pk []byte) error {
	if t.store.IgnoreIndexes() {
		return nil
	}
	for _, ix := range t.def.Indexes {
		ib := t.tx.Bolt().Bucket(indexBucket(t.def.Name, ix.Name))
		key := t.indexKey(ix, r, pk)
		if ix.Unique && !bytes.Equal(ib.Get(key), pk) {
			continue
		}
		if err := ib.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table[R, P]) notify(p P) {
	t.tx.Invalidate(inval.CatalogRow, p.RelationID(), t.def.Name)
}

// Insert stamps the row with the current command and writes it along with
// its index entries.
func (t *Table[R, P]) Insert(p P) error {
	if t.closed {
		return ErrClosed
	}
	st := p.stamp()
	st.Xmin, st.Cmin = t.tx.Xid(), t.tx.Cid()

	pk := t.def.Key((*R)(p))
	if t.b.Get(pk) != nil {
		return errors.Wrapf(ErrUniqueViolation, "%s primary key", t.def.Name)
	}
	if err := t.putIndexes((*R)(p), pk); err != nil {
		return err
	}
	v, err := msgpack.Marshal(p)
	if err != nil {
		return errors.Wrapf(err, "systable: encode %s row", t.def.Name)
	}
	if err := t.b.Put(pk, v); err != nil {
		return err
	}
	t.notify(p)
	return nil
}

// Update rewrites a row in place. The row keeps its original stamp, so a row
// that was visible stays visible.
func (t *Table[R, P]) Update(p P) error {
	if t.closed {
		return ErrClosed
	}
	pk := t.def.Key((*R)(p))
	raw := t.b.Get(pk)
	if raw == nil {
		return errors.Wrapf(ErrRowNotFound, "update %s", t.def.Name)
	}
	old, err := t.decode(raw)
	if err != nil {
		return err
	}
	*p.stamp() = *old.stamp()

	if err := t.deleteIndexes((*R)(old), pk); err != nil {
		return err
	}
	if err := t.putIndexes((*R)(p), pk); err != nil {
		return err
	}
	v, err := msgpack.Marshal(p)
	if err != nil {
		return errors.Wrapf(err, "systable: encode %s row", t.def.Name)
	}
	if err := t.b.Put(pk, v); err != nil {
		return err
	}
	t.notify(p)
	return nil
}

// Delete removes the row with p's primary key.
func (t *Table[R, P]) Delete(p P) error {
	if t.closed {
		return ErrClosed
	}
	pk := t.def.Key((*R)(p))
	raw := t.b.Get(pk)
	if raw == nil {
		return errors.Wrapf(ErrRowNotFound, "delete %s", t.def.Name)
	}
	old, err := t.decode(raw)
	if err != nil {
		return err
	}
	if err := t.deleteIndexes((*R)(old), pk); err != nil {
		return err
	}
	if err := t.b.Delete(pk); err != nil {
		return err
	}
	t.notify(old)
	return nil
}

// Get fetches the visible row whose primary key is pk.
func (t *Table[R, P]) Get(pk []byte) (P, bool, error) {
	raw := t.b.Get(pk)
	if raw == nil {
		return nil, false, nil
	}
	p, err := t.decode(raw)
	if err != nil {
		return nil, false, err
	}
	if !t.visible(p) {
		return nil, false, nil
	}
	return p, true, nil
}

// Scan visits visible rows whose primary key starts with prefix, in key
// order. fn returns false to stop.
func (t *Table[R, P]) Scan(prefix []byte, fn func(P) (bool, error)) error {
	c := t.b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		p, err := t.decode(v)
		if err != nil {
			return err
		}
		if !t.visible(p) {
			continue
		}
		cont, err := fn(p)
		if err != nil || !cont {
			return err
		}
	}
	return nil
}

// Collect returns every visible row under prefix. Mutating the catalog while
// a bbolt cursor is open is not allowed, so callers that delete what they
// find collect first.
func (t *Table[R, P]) Collect(prefix []byte) ([]P, error) {
	var out []P
	err := t.Scan(prefix, func(p P) (bool, error) {
		out = append(out, p)
		return true, nil
	})
	return out, err
}

// ScanIndex visits visible rows whose index key starts with prefix. While
// indexes are bypassed (bootstrap) it falls back to a full scan.
func (t *Table[R, P]) ScanIndex(index string, prefix []byte, fn func(P) (bool, error)) error {
	ix, ok := t.def.index(index)
	if !ok {
		return errors.Errorf("systable: %s has no index %s", t.def.Name, index)
	}
	if t.store.IgnoreIndexes() {
		return t.Scan(nil, func(p P) (bool, error) {
			if !bytes.HasPrefix(ix.Key((*R)(p)), prefix) {
				return true, nil
			}
			return fn(p)
		})
	}

	var pks [][]byte
	c := t.tx.Bolt().Bucket(indexBucket(t.def.Name, ix.Name)).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		pks = append(pks, append([]byte{}, v...))
	}
	for _, pk := range pks {
		p, ok, err := t.Get(pk)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		cont, err := fn(p)
		if err != nil || !cont {
			return err
		}
	}
	return nil
}

// Lookup returns the first visible row matching a full index key.
func (t *Table[R, P]) Lookup(index string, key []byte) (P, bool, error) {
	var found P
	err := t.ScanIndex(index, key, func(p P) (bool, error) {
		found = p
		return false, nil
	})
	return found, found != nil, err
}

// CollectIndex is Collect over an index prefix.
func (t *Table[R, P]) CollectIndex(index string, prefix []byte) ([]P, error) {
	var out []P
	err := t.ScanIndex(index, prefix, func(p P) (bool, error) {
		out = append(out, p)
		return true, nil
	})
	return out, err
}

// rebuild drops and refills every index bucket of the catalog.
func (d *Def[R]) rebuild(tx *bolt.Tx) error {
	for _, ix := range d.Indexes {
		name := indexBucket(d.Name, ix.Name)
		if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		ib, err := tx.CreateBucket(name)
		if err != nil {
			return err
		}
		err = tx.Bucket(d.bucket()).ForEach(func(pk, v []byte) error {
			var r R
			if err := msgpack.Unmarshal(v, &r); err != nil {
				return errors.Wrapf(err, "systable: decode %s row", d.Name)
			}
			key := ix.Key(&r)
			if !ix.Unique {
				key = append(append([]byte{}, key...), pk...)
			} else if ib.Get(key) != nil {
				return errors.Wrapf(ErrUniqueViolation, "%s_%s", d.Name, ix.Name)
			}
			return ib.Put(key, append([]byte{}, pk...))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Def[R]) create(tx *bolt.Tx) error {
	if _, err := tx.CreateBucketIfNotExists(d.bucket()); err != nil {
		return err
	}
	for _, ix := range d.Indexes {
		if _, err := tx.CreateBucketIfNotExists(indexBucket(d.Name, ix.Name)); err != nil {
			return err
		}
	}
	return nil
}
