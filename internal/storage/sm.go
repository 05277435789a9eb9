package storage

import (
	"io"
	"log/slog"
	"os"

	"github.com/pkg/errors"
)

type FileSet interface {
	OpenSegment(segNo int32, create bool) (*os.File, error)
}

var _ FileSet = LocalFileSet{}

// LocalFileSet represents a local directory + base file name.
// Segments are stored as: Base, Base.1, Base.2, ...
type LocalFileSet struct {
	Dir  string
	Base string
}

func (lfs LocalFileSet) OpenSegment(segNo int32, create bool) (*os.File, error) {
	flags := os.O_RDWR
	if create {
		if err := os.MkdirAll(lfs.Dir, FileMode0755); err != nil {
			return nil, err
		}
		flags |= os.O_CREATE
	}
	return os.OpenFile(lfs.segPath(segNo), flags, FileMode0644)
}

func closeFile(f *os.File) {
	if err := f.Close(); err != nil {
		slog.Warn("storage: close segment", "file", f.Name(), "err", err)
	}
}

// StorageManager maps a logical pageID -> (segment, offset).
type StorageManager struct{}

func NewStorageManager() *StorageManager {
	return &StorageManager{}
}

func (sm *StorageManager) locate(pageID uint32) (segNo int32, offset int64) {
	segNo = int32(pageID / MaxPagePerSegment)
	offset = int64(pageID%MaxPagePerSegment) * PageSize
	return segNo, offset
}

// Create makes the first (empty) segment of a relation. It fails with
// ErrRelationExists when any file with that name is already present.
func (sm *StorageManager) Create(lfs LocalFileSet) error {
	if err := os.MkdirAll(lfs.Dir, FileMode0755); err != nil {
		return errors.Wrap(err, "storage: mkdir")
	}
	f, err := os.OpenFile(lfs.segPath(0), os.O_RDWR|os.O_CREATE|os.O_EXCL, FileMode0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return errors.Wrapf(ErrRelationExists, "create %s", lfs.Base)
		}
		return errors.Wrapf(err, "storage: create %s", lfs.Base)
	}
	closeFile(f)
	return nil
}

func (sm *StorageManager) Exists(lfs LocalFileSet) bool {
	_, err := os.Stat(lfs.segPath(0))
	return err == nil
}

// Unlink removes every segment of the relation. Missing files are not an error.
func (sm *StorageManager) Unlink(lfs LocalFileSet) error {
	return errors.WithMessagef(RemoveAllSegments(lfs), "unlink %s", lfs.Base)
}

// Truncate shrinks the relation to nblocks pages. Whole segments past the
// new end are removed.
func (sm *StorageManager) Truncate(lfs LocalFileSet, nblocks uint32) error {
	if !sm.Exists(lfs) {
		return errors.Wrapf(ErrRelationMissing, "truncate %s", lfs.Base)
	}
	segs, err := lfs.segments()
	if err != nil {
		return errors.Wrap(err, "storage: list segments")
	}
	lastSeg, lastOff := sm.locate(nblocks)
	for _, segNo := range segs {
		switch {
		case segNo > lastSeg || (segNo == lastSeg && lastOff == 0 && segNo > 0):
			if err := os.Remove(lfs.segPath(segNo)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return errors.Wrapf(err, "storage: remove segment %d", segNo)
			}
		case segNo == lastSeg:
			if err := os.Truncate(lfs.segPath(segNo), lastOff); err != nil {
				return errors.Wrapf(err, "storage: truncate segment %d", segNo)
			}
		}
	}
	return nil
}

// ReadPage reads exactly one page (PageSize bytes) into dst.
// Reads past the end of the relation are zero-filled so higher layers can
// lazily initialize pages.
func (sm *StorageManager) ReadPage(fs FileSet, pageID uint32, dst []byte) error {
	if len(dst) != PageSize {
		return ErrWrongSize
	}
	segNo, off := sm.locate(pageID)
	f, err := fs.OpenSegment(segNo, false)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && segNo > 0 {
			clear(dst)
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(ErrRelationMissing, "read page %d", pageID)
		}
		return err
	}
	defer closeFile(f)

	n, err := f.ReadAt(dst, off)
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "storage: read page %d", pageID)
	}
	clear(dst[n:])
	return nil
}

// WritePage writes exactly one page (PageSize bytes) from src to disk
// at the location computed from pageID.
func (sm *StorageManager) WritePage(fs FileSet, pageID uint32, src []byte) error {
	if len(src) != PageSize {
		return ErrWrongSize
	}
	segNo, off := sm.locate(pageID)
	f, err := fs.OpenSegment(segNo, true)
	if err != nil {
		return err
	}
	defer closeFile(f)

	n, err := f.WriteAt(src, off)
	if err != nil {
		return errors.Wrapf(err, "storage: write page %d", pageID)
	}
	if n != PageSize {
		return io.ErrShortWrite
	}
	return nil
}

// LoadPage reads a page into memory and returns a Page wrapper.
// If the on-disk bytes are all zero, the page is initialized with pageID.
func (sm *StorageManager) LoadPage(fs FileSet, pageID uint32) (*Page, error) {
	buf := make([]byte, PageSize)
	if err := sm.ReadPage(fs, pageID, buf); err != nil {
		return nil, err
	}
	p := &Page{Buf: buf}
	if p.IsUninitialized() {
		p.init(pageID)
	}
	return p, nil
}

func (sm *StorageManager) SavePage(fs FileSet, pageID uint32, p *Page) error {
	return sm.WritePage(fs, pageID, p.Buf)
}

// CountPages returns the relation length in pages, from the segment files
// present on disk.
func (sm *StorageManager) CountPages(lfs LocalFileSet) (uint32, error) {
	segs, err := lfs.segments()
	if err != nil {
		return 0, err
	}
	var total uint32
	for _, segNo := range segs {
		info, err := os.Stat(lfs.segPath(segNo))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return 0, err
		}
		total += uint32(info.Size() / PageSize)
	}
	return total, nil
}
