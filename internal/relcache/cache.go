package relcache

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/coocood/freecache"

	"github.com/tuannm99/novacat/internal/alias/bx"
	"github.com/tuannm99/novacat/internal/catalog/systable"
	"github.com/tuannm99/novacat/internal/lock"
	"github.com/tuannm99/novacat/internal/record"
	"github.com/tuannm99/novacat/internal/txn"
	"github.com/tuannm99/novacat/internal/txn/inval"
)

var ErrNotFound = errors.New("relcache: relation not found")

const (
	DefaultCapacity = 1024
	// freecache refuses anything under 512 KiB
	nameCacheSize = 1 << 20
)

// Cache is the process-wide relation descriptor cache. Pinned entries are
// never evicted or invalidated; the rest are kept in LRU order.
type Cache struct {
	store   *systable.Store
	dataDir string

	mu       sync.Mutex
	entries  map[record.Oid]*list.Element
	lruList  *list.List
	pinned   map[record.Oid]*Descriptor
	capacity int

	names *freecache.Cache // namespace|name -> oid
}

func New(store *systable.Store, dataDir string, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		store:    store,
		dataDir:  dataDir,
		entries:  make(map[record.Oid]*list.Element),
		lruList:  list.New(),
		pinned:   make(map[record.Oid]*Descriptor),
		capacity: capacity,
		names:    freecache.NewCache(nameCacheSize),
	}
}

func (c *Cache) DataDir() string { return c.dataDir }

func nameKey(ns record.Oid, name string) []byte {
	return systable.ClassNameKey(ns, name)
}

func encodeOid(id record.Oid) []byte {
	return bx.AppendU64(nil, uint64(id))
}

func visibleTo(d *Descriptor, tx *txn.Txn) bool {
	return d.CreatedXid == 0 || d.CreatedXid == tx.Xid()
}

// must hold c.mu
func (c *Cache) get(id record.Oid) (*Descriptor, bool) {
	if d, ok := c.pinned[id]; ok {
		return d, true
	}
	elem, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	c.lruList.MoveToFront(elem)
	return elem.Value.(*Descriptor), true
}

// must hold c.mu
func (c *Cache) put(d *Descriptor) {
	if elem, ok := c.entries[d.ID]; ok {
		c.lruList.Remove(elem)
		delete(c.entries, d.ID)
	}
	c.entries[d.ID] = c.lruList.PushFront(d)
	_ = c.names.Set(nameKey(d.Namespace, d.Name), encodeOid(d.ID), 0)
	c.evict()
}

// must hold c.mu
func (c *Cache) evict() {
	for elem := c.lruList.Back(); elem != nil && c.lruList.Len() > c.capacity; {
		prev := elem.Prev()
		d := elem.Value.(*Descriptor)
		if d.refs.get() == 0 && d.CreatedXid == 0 {
			c.lruList.Remove(elem)
			delete(c.entries, d.ID)
		}
		elem = prev
	}
}

// Lookup returns the descriptor for id, building it from the catalogs on a
// miss. The caller must Release it.
func (c *Cache) Lookup(ctx context.Context, tx *txn.Txn, id record.Oid) (*Descriptor, error) {
	c.mu.Lock()
	if d, ok := c.get(id); ok && visibleTo(d, tx) {
		d.refs.inc()
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	d, err := c.build(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// lost a race with another builder: keep theirs
	if cur, ok := c.get(id); ok && visibleTo(cur, tx) {
		cur.refs.inc()
		return cur, nil
	}
	c.put(d)
	d.refs.inc()
	return d, nil
}

// LookupByName resolves (namespace, name) to a descriptor.
func (c *Cache) LookupByName(ctx context.Context, tx *txn.Txn, ns record.Oid, name string) (*Descriptor, error) {
	if raw, err := c.names.Get(nameKey(ns, name)); err == nil {
		id := record.Oid(bx.U64BE(raw))
		d, err := c.Lookup(ctx, tx, id)
		if err == nil && d.Namespace == ns && d.Name == name {
			return d, nil
		}
		if err == nil {
			c.Release(d)
		}
		_ = c.names.Del(nameKey(ns, name))
	}

	cls, err := systable.Open(ctx, c.store, tx, systable.Classes, lock.AccessShare)
	if err != nil {
		return nil, err
	}
	row, ok, err := cls.Lookup(systable.IdxClassName, systable.ClassNameKey(ns, name))
	cls.Close()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return c.Lookup(ctx, tx, row.ID)
}

func (c *Cache) build(ctx context.Context, tx *txn.Txn, id record.Oid) (*Descriptor, error) {
	cls, err := systable.Open(ctx, c.store, tx, systable.Classes, lock.AccessShare)
	if err != nil {
		return nil, err
	}
	row, ok, err := cls.Get(systable.K().Oid(id))
	cls.Close()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	att, err := systable.Open(ctx, c.store, tx, systable.Attributes, lock.AccessShare)
	if err != nil {
		return nil, err
	}
	defer att.Close()
	attrs, err := att.Collect(systable.K().Oid(id))
	if err != nil {
		return nil, err
	}

	d := fromRows(c.dataDir, row, attrs)
	// built from rows still in flight: hide from other transactions
	if row.Xmin == tx.Xid() {
		d.CreatedXid = tx.Xid()
	}
	return d, nil
}

// Insert adds a descriptor created by the current transaction.
func (c *Cache) Insert(d *Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(d)
}

// Pin installs d permanently.
func (c *Cache) Pin(d *Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[d.ID]; ok {
		c.lruList.Remove(elem)
		delete(c.entries, d.ID)
	}
	d.Pinned = true
	c.pinned[d.ID] = d
	_ = c.names.Set(nameKey(d.Namespace, d.Name), encodeOid(d.ID), 0)
}

func (c *Cache) IsPinned(id record.Oid) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pinned[id]
	return ok
}

// Release drops a reference taken by Lookup.
func (c *Cache) Release(d *Descriptor) {
	if d == nil {
		return
	}
	d.refs.dec()
}

// Forget evicts id. Pinned entries stay.
func (c *Cache) Forget(id record.Oid) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forget(id)
}

// must hold c.mu
func (c *Cache) forget(id record.Oid) {
	elem, ok := c.entries[id]
	if !ok {
		return
	}
	d := elem.Value.(*Descriptor)
	if n := d.refs.get(); n > 0 {
		slog.Debug("relcache: forgetting referenced relation", "oid", id, "refs", n)
	}
	c.lruList.Remove(elem)
	delete(c.entries, id)
	_ = c.names.Del(nameKey(d.Namespace, d.Name))
}

// Invalidate handles one invalidation notice.
func (c *Cache) Invalidate(msg inval.Message) {
	c.Forget(msg.RelID)
}

// Cached reports whether id has a live entry, without building one.
func (c *Cache) Cached(id record.Oid) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.get(id)
	return ok
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len() + len(c.pinned)
}
