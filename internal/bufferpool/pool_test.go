package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novacat/internal/storage"
)

func newTestPool(t *testing.T, capacity int) (*Pool, storage.LocalFileSet) {
	t.Helper()

	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: t.TempDir(), Base: "16400"}
	require.NoError(t, sm.Create(fs))
	return NewPool(sm, capacity), fs
}

func TestPool_GetPage_LoadsAndPins(t *testing.T) {
	pool, fs := newTestPool(t, 4)

	page1, err := pool.GetPage(fs, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(0), page1.PageID())

	page2, err := pool.GetPage(fs, 0)
	require.NoError(t, err)
	require.Same(t, page1, page2)

	idx := pool.table[PageTag{FSKey: fs.Key(), PageID: 0}]
	require.Equal(t, int32(2), pool.frames[idx].pin)
}

func TestPool_AllPinned(t *testing.T) {
	pool, fs := newTestPool(t, 2)

	_, err := pool.GetPage(fs, 0)
	require.NoError(t, err)
	_, err = pool.GetPage(fs, 1)
	require.NoError(t, err)

	_, err = pool.GetPage(fs, 2)
	require.ErrorIs(t, err, ErrNoFreeFrame)
}

func TestPool_EvictionWritesDirtyPage(t *testing.T) {
	pool, fs := newTestPool(t, 1)

	p, err := pool.GetPage(fs, 0)
	require.NoError(t, err)
	p.Body()[0] = 42
	pool.Unpin(fs, p, true)

	// forces eviction of page 0
	p1, err := pool.GetPage(fs, 1)
	require.NoError(t, err)
	pool.Unpin(fs, p1, false)

	back, err := pool.StorageManager().LoadPage(fs, 0)
	require.NoError(t, err)
	require.Equal(t, byte(42), back.Body()[0])
}

func TestPool_DiscardDropsDirtyPages(t *testing.T) {
	pool, fs := newTestPool(t, 4)

	p, err := pool.GetPage(fs, 0)
	require.NoError(t, err)
	p.Body()[0] = 7
	pool.Unpin(fs, p, true)

	require.NoError(t, pool.DiscardRelation(fs))
	require.Zero(t, pool.Cached(fs))

	n, err := pool.StorageManager().CountPages(fs)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPool_DropFlushesAndRefusesPinned(t *testing.T) {
	pool, fs := newTestPool(t, 4)

	p, err := pool.GetPage(fs, 0)
	require.NoError(t, err)
	p.Body()[0] = 9

	require.ErrorIs(t, pool.DropRelation(fs), ErrPagePinned)

	pool.Unpin(fs, p, true)
	require.NoError(t, pool.DropRelation(fs))
	require.Zero(t, pool.Cached(fs))

	back, err := pool.StorageManager().LoadPage(fs, 0)
	require.NoError(t, err)
	require.Equal(t, byte(9), back.Body()[0])
}

func TestClock_SecondChance(t *testing.T) {
	c := newClock(2)
	c.touch(0)
	c.touch(1)
	c.setEvictable(0, true)
	c.setEvictable(1, true)

	// both referenced: first sweep clears bits, victim is slot 0
	id, ok := c.evict()
	require.True(t, ok)
	require.Equal(t, 0, id)

	c.remove(1)
	_, ok = c.evict()
	require.False(t, ok)
}
