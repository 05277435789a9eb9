package storage

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// segPath names segment files as Base, Base.1, Base.2, ...
func (lfs LocalFileSet) segPath(segNo int32) string {
	name := lfs.Base
	if segNo > 0 {
		name += "." + strconv.Itoa(int(segNo))
	}
	return filepath.Join(lfs.Dir, name)
}

// Key identifies the relation in page caches.
func (lfs LocalFileSet) Key() string {
	return filepath.Clean(lfs.Dir) + "|" + lfs.Base
}

// segments lists the segment numbers present on disk in ascending order.
// Files sharing the base with a non-numeric suffix (index metadata) are
// skipped.
func (lfs LocalFileSet) segments() ([]int32, error) {
	matches, err := filepath.Glob(filepath.Join(lfs.Dir, globEscape(lfs.Base)+"*"))
	if err != nil {
		return nil, err
	}
	var segs []int32
	for _, m := range matches {
		rest := strings.TrimPrefix(filepath.Base(m), lfs.Base)
		if rest == "" {
			segs = append(segs, 0)
			continue
		}
		if rest[0] != '.' {
			continue
		}
		n, err := strconv.ParseInt(rest[1:], 10, 32)
		if err != nil || n <= 0 {
			continue
		}
		segs = append(segs, int32(n))
	}
	slices.Sort(segs)
	return segs, nil
}

func globEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`)
	return r.Replace(s)
}

// RemoveAllSegments deletes every segment of lfs, highest first so an
// interrupted removal never leaves a hole in the middle.
func RemoveAllSegments(lfs LocalFileSet) error {
	segs, err := lfs.segments()
	if err != nil {
		return errors.Wrap(err, "storage: list segments")
	}
	for i := len(segs) - 1; i >= 0; i-- {
		if err := os.Remove(lfs.segPath(segs[i])); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(err, "storage: remove segment %d", segs[i])
		}
	}
	return nil
}
