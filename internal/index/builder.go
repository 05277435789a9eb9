package index

import (
	"context"
	"log/slog"

	"github.com/tuannm99/novacat/internal/bufferpool"
	"github.com/tuannm99/novacat/internal/storage"
)

// Page flags of btree pages.
const (
	FlagLeaf uint16 = 1 << 0
	FlagRoot uint16 = 1 << 1
)

// Builder (re)builds an index from the current contents of its heap.
type Builder interface {
	Build(ctx context.Context, heap, idx storage.LocalFileSet, keys []int16) error
}

// BTreeBuilder lays out a btree whose root is a single leaf page.
type BTreeBuilder struct {
	pool *bufferpool.Pool
}

var _ Builder = (*BTreeBuilder)(nil)

func NewBTreeBuilder(pool *bufferpool.Pool) *BTreeBuilder {
	return &BTreeBuilder{pool: pool}
}

// Build resets idx to one empty root leaf and records the heap length it
// was built from. Heap pages carry no index-visible tuples at this layer,
// so the leaf stays empty.
func (b *BTreeBuilder) Build(ctx context.Context, heap, idx storage.LocalFileSet, keys []int16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sm := b.pool.StorageManager()

	heapBlocks, err := sm.CountPages(heap)
	if err != nil {
		return err
	}

	if err := b.pool.DiscardRelation(idx); err != nil {
		return err
	}
	if sm.Exists(idx) {
		err = sm.Truncate(idx, 0)
	} else {
		err = sm.Create(idx)
	}
	if err != nil {
		return err
	}

	root, err := b.pool.GetPage(idx, 0)
	if err != nil {
		return err
	}
	root.SetFlags(FlagLeaf | FlagRoot)
	b.pool.Unpin(idx, root, true)
	if err := b.pool.FlushRelation(idx); err != nil {
		return err
	}

	m := Meta{
		Root:       0,
		Height:     1,
		NextPageID: 1,
		HeapBlocks: heapBlocks,
		Keys:       append([]int16(nil), keys...),
	}
	if err := writeMeta(idx, m); err != nil {
		return err
	}
	slog.Debug("index.build", "index", idx.Base, "heap", heap.Base, "heapBlocks", heapBlocks)
	return nil
}
