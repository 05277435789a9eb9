package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tuannm99/novacat/internal/storage"
)

const (
	metaFileSuffix = ".btree.meta.json"
	metaVersion    = 1
)

// Meta is the btree metadata kept next to the index segments.
type Meta struct {
	Version    int     `json:"version"`
	Root       uint32  `json:"root"`
	Height     int     `json:"height"`
	NextPageID uint32  `json:"next_page_id"`
	HeapBlocks uint32  `json:"heap_blocks"`
	Keys       []int16 `json:"keys"`
}

// metaPath is <Dir>/<Base>.btree.meta.json.
func metaPath(lfs storage.LocalFileSet) string {
	return filepath.Join(lfs.Dir, lfs.Base+metaFileSuffix)
}

// ReadMeta loads the metadata of an index; ok is false when none was written.
func ReadMeta(lfs storage.LocalFileSet) (Meta, bool, error) {
	data, err := os.ReadFile(metaPath(lfs))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Meta{}, false, nil
		}
		return Meta{}, false, err
	}

	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, false, err
	}
	if m.Version <= 0 {
		m.Version = metaVersion
	}
	return m, true, nil
}

func writeMeta(lfs storage.LocalFileSet, m Meta) error {
	m.Version = metaVersion
	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return err
	}

	path := metaPath(lfs)
	if err := os.MkdirAll(filepath.Dir(path), storage.FileMode0755); err != nil {
		return err
	}
	if err := writeFileAtomic(path, data, storage.FileMode0644); err != nil {
		return err
	}

	slog.Debug("index.meta.saved",
		"path", path,
		"root", m.Root,
		"height", m.Height,
		"heapBlocks", m.HeapBlocks,
	)
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}

	ok = true
	return nil
}
