package bucket

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageNew(t *testing.T) {
	dir := t.TempDir()
	stats := &BucketStats{}
	s, err := NewStorage([]string{dir}, 24, 3, stats)
	require.NoError(t, err)

	assert.Equal(t, uint64(8), s.Capacity())
	assert.Equal(t, uint64(24), s.ElementSize())
	assert.Equal(t, dir, filepath.Dir(s.Path()))
	fi, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(24*8), fi.Size())
	assert.Equal(t, int64(1), stats.Files.Load())
	assert.Equal(t, int64(24*8), stats.FileBytes.Load())

	for ix := uint64(0); ix < s.Capacity(); ix++ {
		assert.True(t, s.IsFree(ix))
		assert.Len(t, s.Element(ix), 24)
	}
	assert.Panics(t, func() { s.Element(8) })

	s.Occupy(2)
	assert.Equal(t, uint64(1), s.Count())
	assert.Equal(t, int64(1), stats.Entries.Load())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, int64(0), stats.Files.Load())
	assert.Equal(t, int64(0), stats.FileBytes.Load())
	assert.Equal(t, int64(0), stats.Entries.Load())
}

func TestStorageNewErrors(t *testing.T) {
	_, err := NewStorage(nil, 8, 1, nil)
	assert.Error(t, err)

	_, err = NewStorage([]string{t.TempDir()}, 0, 1, nil)
	assert.Error(t, err)

	_, err = NewStorage([]string{t.TempDir()}, 8, MaxCapacityPow2+1, nil)
	assert.Error(t, err)

	_, err = NewStorage([]string{filepath.Join(t.TempDir(), "missing")}, 8, 1, nil)
	assert.Error(t, err)
}

func TestStorageElementsAreDisjoint(t *testing.T) {
	s := dataBucketForTesting(t, 8, 2)
	for ix := uint64(0); ix < s.Capacity(); ix++ {
		*Get[uint64](s, ix) = ix + 100
	}
	for ix := uint64(0); ix < s.Capacity(); ix++ {
		assert.Equal(t, ix+100, *Get[uint64](s, ix))
	}

	cells := CellSlice[uint32](s, 1, 2)
	assert.Len(t, cells, 2)
	assert.Len(t, CellSlice[uint32](s, 1, 0), 0)
	assert.Panics(t, func() { CellSlice[uint32](s, 1, 3) })
	assert.Panics(t, func() { Get[[16]byte](s, 0) })
}

func TestStorageGrowDilates(t *testing.T) {
	stats := &BucketStats{}
	s, err := NewStorage([]string{t.TempDir()}, 8, 2, stats)
	require.NoError(t, err)
	defer s.Close()

	for _, ix := range []uint64{0, 1, 3} {
		s.Occupy(ix)
		*Get[uint64](s, ix) = ix*10 + 1
	}

	grown, err := s.Grow(2)
	require.NoError(t, err)
	defer grown.Close()

	assert.Equal(t, uint8(4), grown.CapacityPow2)
	assert.Equal(t, uint64(3), grown.Count())
	assert.Equal(t, uint64(1), stats.Resizes.Load())
	for ix := uint64(0); ix < grown.Capacity(); ix++ {
		switch ix {
		case 0, 4, 12:
			assert.False(t, grown.IsFree(ix), "ix %d", ix)
			assert.Equal(t, (ix>>2)*10+1, *Get[uint64](grown, ix))
		default:
			assert.True(t, grown.IsFree(ix), "ix %d", ix)
		}
	}

	// the old storage is untouched until closed
	assert.Equal(t, uint64(31), *Get[uint64](s, 3))
	assert.False(t, s.IsFree(3))
}

func TestStorageFindFree(t *testing.T) {
	s := dataBucketForTesting(t, 8, 2)
	s.Occupy(3)
	s.Occupy(0)

	ix, ok := s.findFree(3, 4)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), ix)

	s.Occupy(1)
	s.Occupy(2)
	_, ok = s.findFree(0, 4)
	assert.False(t, ok)
}
