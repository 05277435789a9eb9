package index

import (
	"errors"
	"os"

	"github.com/tuannm99/novacat/internal/storage"
)

// Drop removes all index segments and the meta file. Missing files are fine.
func Drop(lfs storage.LocalFileSet) error {
	if err := storage.RemoveAllSegments(lfs); err != nil {
		return err
	}
	if err := os.Remove(metaPath(lfs)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
