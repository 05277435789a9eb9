package bufferpool

import (
	"errors"
	"sync"

	"github.com/tuannm99/novacat/internal/storage"
)

var (
	DefaultCapacity = 128

	ErrNoFreeFrame = errors.New("bufferpool: no free frame available (all pinned)")
	ErrPagePinned  = errors.New("bufferpool: page is pinned")
)

// PageTag uniquely identifies a page in the pool.
type PageTag struct {
	FSKey  string
	PageID uint32
}

type frame struct {
	tag   PageTag
	fs    storage.LocalFileSet
	page  *storage.Page
	dirty bool
	pin   int32
}

// Pool is a single shared buffer pool for every relation file: heaps,
// indexes and toast tables alike.
type Pool struct {
	sm *storage.StorageManager

	mu     sync.Mutex
	frames []*frame        // len == capacity, nil == free slot
	table  map[PageTag]int // (fsKey,pageID) -> frame index
	repl   *clock
}

func NewPool(sm *storage.StorageManager, capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		sm:     sm,
		frames: make([]*frame, capacity),
		table:  make(map[PageTag]int),
		repl:   newClock(capacity),
	}
}

func (g *Pool) StorageManager() *storage.StorageManager { return g.sm }

// GetPage pins and returns the page (fs,pageID).
func (g *Pool) GetPage(fs storage.LocalFileSet, pageID uint32) (*storage.Page, error) {
	tag := PageTag{FSKey: fs.Key(), PageID: pageID}

	g.mu.Lock()
	defer g.mu.Unlock()

	if idx, ok := g.table[tag]; ok {
		f := g.frames[idx]
		f.pin++
		g.repl.touch(idx)
		g.repl.setEvictable(idx, false)
		return f.page, nil
	}

	idx := -1
	for i, f := range g.frames {
		if f == nil {
			idx = i
			break
		}
	}

	if idx == -1 {
		victimIdx, ok := g.repl.evict()
		if !ok {
			return nil, ErrNoFreeFrame
		}
		victim := g.frames[victimIdx]
		if victim.dirty {
			if err := g.sm.SavePage(victim.fs, victim.tag.PageID, victim.page); err != nil {
				g.repl.touch(victimIdx)
				g.repl.setEvictable(victimIdx, true)
				return nil, err
			}
		}
		delete(g.table, victim.tag)
		g.frames[victimIdx] = nil
		idx = victimIdx
	}

	page, err := g.sm.LoadPage(fs, pageID)
	if err != nil {
		return nil, err
	}
	g.frames[idx] = &frame{tag: tag, fs: fs, page: page, pin: 1}
	g.table[tag] = idx
	g.repl.touch(idx)
	g.repl.setEvictable(idx, false)
	return page, nil
}

// Unpin decreases pin count and marks dirty optionally.
func (g *Pool) Unpin(fs storage.LocalFileSet, page *storage.Page, dirty bool) {
	if page == nil {
		return
	}
	tag := PageTag{FSKey: fs.Key(), PageID: page.PageID()}

	g.mu.Lock()
	defer g.mu.Unlock()

	idx, ok := g.table[tag]
	if !ok {
		return
	}
	f := g.frames[idx]
	if dirty {
		f.dirty = true
	}
	if f.pin > 0 {
		f.pin--
		if f.pin == 0 {
			g.repl.setEvictable(idx, true)
		}
	}
}

// FlushAll flushes all dirty pages in the pool.
func (g *Pool) FlushAll() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, f := range g.frames {
		if f == nil || !f.dirty {
			continue
		}
		if err := g.sm.SavePage(f.fs, f.tag.PageID, f.page); err != nil {
			return err
		}
		f.dirty = false
	}
	return nil
}

// FlushRelation writes back dirty pages of one relation. Pages stay cached.
func (g *Pool) FlushRelation(fs storage.LocalFileSet) error {
	key := fs.Key()

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, f := range g.frames {
		if f == nil || !f.dirty || f.tag.FSKey != key {
			continue
		}
		if err := g.sm.SavePage(f.fs, f.tag.PageID, f.page); err != nil {
			return err
		}
		f.dirty = false
	}
	return nil
}

// DropRelation flushes and then forgets every page of a relation.
// Call it before the underlying files are removed.
func (g *Pool) DropRelation(fs storage.LocalFileSet) error {
	return g.dropRelation(fs, true)
}

// DiscardRelation forgets every page of a relation without writing dirty
// pages back. Used when the file is about to be truncated.
func (g *Pool) DiscardRelation(fs storage.LocalFileSet) error {
	return g.dropRelation(fs, false)
}

func (g *Pool) dropRelation(fs storage.LocalFileSet, flush bool) error {
	key := fs.Key()

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, f := range g.frames {
		if f != nil && f.tag.FSKey == key && f.pin != 0 {
			return ErrPagePinned
		}
	}

	for i, f := range g.frames {
		if f == nil || f.tag.FSKey != key {
			continue
		}
		if flush && f.dirty {
			if err := g.sm.SavePage(f.fs, f.tag.PageID, f.page); err != nil {
				return err
			}
		}
		delete(g.table, f.tag)
		g.frames[i] = nil
		g.repl.remove(i)
	}
	return nil
}

// Cached reports how many pages of the relation are resident.
func (g *Pool) Cached(fs storage.LocalFileSet) int {
	key := fs.Key()

	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for _, f := range g.frames {
		if f != nil && f.tag.FSKey == key {
			n++
		}
	}
	return n
}
