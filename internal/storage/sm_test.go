package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newFS(t *testing.T) LocalFileSet {
	t.Helper()
	return LocalFileSet{Dir: t.TempDir(), Base: "16384"}
}

func TestCreate_RejectsExisting(t *testing.T) {
	sm := NewStorageManager()
	fs := newFS(t)

	require.NoError(t, sm.Create(fs))
	require.True(t, sm.Exists(fs))

	err := sm.Create(fs)
	require.ErrorIs(t, err, ErrRelationExists)
}

func TestWriteReadCount(t *testing.T) {
	sm := NewStorageManager()
	fs := newFS(t)
	require.NoError(t, sm.Create(fs))

	p, err := sm.LoadPage(fs, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(0), p.PageID())
	p.Body()[0] = 0xAB
	require.NoError(t, sm.SavePage(fs, 0, p))

	p2, err := sm.LoadPage(fs, 2)
	require.NoError(t, err)
	require.NoError(t, sm.SavePage(fs, 2, p2))

	n, err := sm.CountPages(fs)
	require.NoError(t, err)
	require.Equal(t, uint32(3), n)

	got, err := sm.LoadPage(fs, 0)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), got.Body()[0])

	// past EOF reads as a fresh page
	beyond, err := sm.LoadPage(fs, 10)
	require.NoError(t, err)
	require.Equal(t, uint32(10), beyond.PageID())
}

func TestReadMissingRelation(t *testing.T) {
	sm := NewStorageManager()
	buf := make([]byte, PageSize)
	err := sm.ReadPage(newFS(t), 0, buf)
	require.ErrorIs(t, err, ErrRelationMissing)
}

func TestTruncateToZero(t *testing.T) {
	sm := NewStorageManager()
	fs := newFS(t)
	require.NoError(t, sm.Create(fs))
	for i := uint32(0); i < 4; i++ {
		p, err := sm.LoadPage(fs, i)
		require.NoError(t, err)
		require.NoError(t, sm.SavePage(fs, i, p))
	}

	require.NoError(t, sm.Truncate(fs, 0))
	n, err := sm.CountPages(fs)
	require.NoError(t, err)
	require.Zero(t, n)
	require.True(t, sm.Exists(fs))
}

func TestUnlink_RemovesEverySegment(t *testing.T) {
	sm := NewStorageManager()
	fs := newFS(t)
	require.NoError(t, sm.Create(fs))
	// fake an extra segment
	require.NoError(t, os.WriteFile(filepath.Join(fs.Dir, "16384.1"), []byte("x"), 0o644))
	// unrelated file must survive
	require.NoError(t, os.WriteFile(filepath.Join(fs.Dir, "16384_fsm"), []byte("x"), 0o644))

	require.NoError(t, sm.Unlink(fs))
	require.False(t, sm.Exists(fs))

	ents, err := os.ReadDir(fs.Dir)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	require.Equal(t, "16384_fsm", ents[0].Name())

	// unlinking twice is harmless
	require.NoError(t, sm.Unlink(fs))
}
