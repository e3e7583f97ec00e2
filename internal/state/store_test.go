package state

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	return New(filepath.Join(dir, "state.json"), logger)
}

func TestStoreGetUpdateRemove(t *testing.T) {
	s := newTestStore(t)

	_, ok := s.Get("task1", "a.txt")
	require.False(t, ok)

	s.Update("task1", "a.txt", FileState{Hash: "abc", Mtime: 1, Size: 2, LastSyncTime: 3})

	got, ok := s.Get("task1", "a.txt")
	require.True(t, ok)
	require.Equal(t, "abc", got.Hash)

	s.Remove("task1", "a.txt")

	_, ok = s.Get("task1", "a.txt")
	require.False(t, ok)
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	s.Update("task1", "a.txt", FileState{Hash: "abc", Mtime: 1, Size: 2, LastSyncTime: 3})
	s.Update("task1", "sub/b.txt", FileState{Hash: "def", Mtime: 4, Size: 5, LastSyncTime: 6})

	require.NoError(t, s.Save())

	s2 := New(s.path, s.log)
	require.NoError(t, s2.Load())

	got, ok := s2.Get("task1", "sub/b.txt")
	require.True(t, ok)
	require.Equal(t, "def", got.Hash)
}

func TestStoreLoadMissingFileStartsEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load())

	_, ok := s.Get("task1", "a.txt")
	require.False(t, ok)
}

func TestStoreClearTaskPersists(t *testing.T) {
	s := newTestStore(t)
	s.Update("task1", "a.txt", FileState{Hash: "abc"})
	s.Update("task2", "b.txt", FileState{Hash: "def"})

	require.NoError(t, s.ClearTask("task1"))

	s2 := New(s.path, s.log)
	require.NoError(t, s2.Load())

	_, ok := s2.Get("task1", "a.txt")
	require.False(t, ok)

	_, ok = s2.Get("task2", "b.txt")
	require.True(t, ok)
}
