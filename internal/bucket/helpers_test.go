package bucket

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func indexBucketForTesting(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage([]string{t.TempDir()}, IndexEntrySize, 1, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

// indexEntryForTesting returns an index bucket with element 0 occupied and
// initialized, and the handle of that element.
func indexEntryForTesting(t *testing.T) (*Storage, EntryHandle) {
	t.Helper()
	index := indexBucketForTesting(t)
	h := EntryHandle(0)
	index.Occupy(h.Ix())
	h.Init(index, [32]byte{1})
	return index, h
}

func dataBucketForTesting(t *testing.T, elementSize uint64, pow2 uint8) *Storage {
	t.Helper()
	s, err := NewStorage([]string{t.TempDir()}, elementSize, pow2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}
