package bucket

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/skyline93/acctidx/internal/fs"
	"golang.org/x/sys/unix"
)

// MaxCapacityPow2 bounds the capacity exponent of a single bucket file.
const MaxCapacityPow2 = 40

// maxCreateRetries is the number of times creating or sizing a bucket file is
// retried after a transient failure.
const maxCreateRetries = 5

// Storage is a fixed element size array of 2^CapacityPow2 elements, backed
// by a memory mapped file in one of a set of drive directories, together with
// an occupancy tracker for the elements.
//
// Storage does no locking. Callers serialize writers against readers.
type Storage struct {
	// CapacityPow2 is the exponent of the current number of elements. It only
	// ever grows, and only by creating a new Storage with Grow.
	CapacityPow2 uint8

	path        string
	drives      []string
	mmap        []byte
	elementSize uint64
	occupied    Occupied
	newOccupied NewOccupiedFunc
	count       uint64
	stats       *BucketStats
}

// NewStorage creates a storage of 2^capacityPow2 elements of elementSize
// bytes in a file placed in one of drives. Occupancy is tracked with a BitVec.
func NewStorage(drives []string, elementSize uint64, capacityPow2 uint8, stats *BucketStats) (*Storage, error) {
	return NewStorageWithOccupied(drives, elementSize, capacityPow2, stats, NewBitVec)
}

// NewStorageWithOccupied is NewStorage with a caller supplied occupancy tracker.
func NewStorageWithOccupied(drives []string, elementSize uint64, capacityPow2 uint8, stats *BucketStats, newOccupied NewOccupiedFunc) (*Storage, error) {
	if elementSize == 0 {
		return nil, errors.New("bucket element size must not be zero")
	}
	if capacityPow2 > MaxCapacityPow2 {
		return nil, errors.Errorf("bucket capacity 2^%d larger than limit of 2^%d", capacityPow2, MaxCapacityPow2)
	}
	if stats == nil {
		stats = &BucketStats{}
	}

	occupied := newOccupied(uint64(1) << capacityPow2)
	s := &Storage{
		CapacityPow2: capacityPow2,
		drives:       drives,
		elementSize:  elementSize,
		occupied:     occupied,
		newOccupied:  newOccupied,
		stats:        stats,
	}

	size := (elementSize + occupied.OffsetToFirstData()) << capacityPow2
	start := time.Now()
	path, data, err := newMap(drives, size)
	if err != nil {
		return nil, err
	}
	stats.MmapUs.Add(uint64(time.Since(start).Microseconds()))
	stats.Files.Add(1)
	stats.FileBytes.Add(int64(size))

	s.path = path
	s.mmap = data
	return s, nil
}

// newMap creates a file of size bytes in a randomly chosen drive and maps it
// into memory.
func newMap(drives []string, size uint64) (string, []byte, error) {
	if len(drives) == 0 {
		return "", nil, errors.New("no drives configured for bucket storage")
	}

	drive := drives[rand.Intn(len(drives))]
	path := filepath.Join(drive, fmt.Sprintf("%016x", rand.Uint64()))

	var f *os.File
	create := func() error {
		var err error
		f, err = fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, fs.DefaultModes.File)
		if err != nil && !fs.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := retry(create); err != nil {
		return "", nil, errors.Wrapf(err, "unable to create data file %v, check disk space", path)
	}
	defer f.Close()

	truncate := func() error {
		err := f.Truncate(int64(size))
		if err != nil && !fs.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := retry(truncate); err != nil {
		_ = fs.RemoveIfExists(path)
		return "", nil, errors.Wrapf(err, "unable to size data file %v to %d bytes", path, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = fs.RemoveIfExists(path)
		return "", nil, errors.Wrapf(err, "mmap %v", path)
	}

	log.Debugf("created bucket file %v, %d bytes", path, size)
	return path, data, nil
}

func retry(op backoff.Operation) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	return backoff.Retry(op, backoff.WithMaxRetries(b, maxCreateRetries))
}

// Capacity returns the number of elements.
func (s *Storage) Capacity() uint64 {
	return uint64(1) << s.CapacityPow2
}

// ElementSize returns the size in bytes of one element.
func (s *Storage) ElementSize() uint64 {
	return s.elementSize
}

// Count returns the number of occupied elements.
func (s *Storage) Count() uint64 {
	return s.count
}

// Path returns the name of the backing file.
func (s *Storage) Path() string {
	return s.path
}

// Element returns the bytes of element ix. The slice aliases the mapping and
// is only valid until the storage is closed.
func (s *Storage) Element(ix uint64) []byte {
	if ix >= s.Capacity() {
		panic(fmt.Sprintf("bucket element %d out of range, capacity %d", ix, s.Capacity()))
	}
	stride := s.elementSize + s.occupied.OffsetToFirstData()
	start := ix*stride + s.occupied.OffsetToFirstData()
	end := start + s.elementSize
	return s.mmap[start:end:end]
}

// IsFree reports whether element ix is unoccupied.
func (s *Storage) IsFree(ix uint64) bool {
	return s.occupied.IsFree(ix)
}

// Occupy marks element ix in use. It panics if ix is already occupied.
func (s *Storage) Occupy(ix uint64) {
	s.occupied.Occupy(ix)
	s.count++
	s.stats.Entries.Add(1)
}

// Free marks element ix unused. It panics if ix is already free. The element
// bytes are left as they are.
func (s *Storage) Free(ix uint64) {
	s.occupied.Free(ix)
	s.count--
	s.stats.Entries.Add(-1)
}

// findFree returns the first free element among the window elements starting
// at start, wrapping around the end of the storage.
func (s *Storage) findFree(start uint64, window uint64) (uint64, bool) {
	mask := s.Capacity() - 1
	for i := uint64(0); i < window; i++ {
		ix := (start + i) & mask
		if s.IsFree(ix) {
			return ix, true
		}
	}
	return 0, false
}

// Grow returns a new storage 2^increment times larger than s holding the
// contents of s. Element i of s moves to element i << increment of the new
// storage, so an offset recorded while the capacity was 2^c0 is found at
// offset << (c1 - c0) once the capacity is 2^c1. s is left untouched; the
// caller closes it once nothing refers to it.
func (s *Storage) Grow(increment uint8) (*Storage, error) {
	start := time.Now()
	grown, err := NewStorageWithOccupied(s.drives, s.elementSize, s.CapacityPow2+increment, s.stats, s.newOccupied)
	if err != nil {
		return nil, err
	}
	grown.copyContents(s)

	s.stats.Resizes.Add(1)
	s.stats.ResizeUs.Add(uint64(time.Since(start).Microseconds()))
	log.Debugf("grew bucket %v from 2^%d to 2^%d elements (%d occupied)", s.path, s.CapacityPow2, grown.CapacityPow2, s.count)
	return grown, nil
}

func (s *Storage) copyContents(old *Storage) {
	if s.CapacityPow2 < old.CapacityPow2 || s.elementSize != old.elementSize {
		panic(fmt.Sprintf("cannot copy bucket of 2^%d elements of %d bytes into 2^%d elements of %d bytes",
			old.CapacityPow2, old.elementSize, s.CapacityPow2, s.elementSize))
	}
	increment := s.CapacityPow2 - old.CapacityPow2
	for i := uint64(0); i < old.Capacity(); i++ {
		if old.IsFree(i) {
			continue
		}
		j := i << increment
		copy(s.Element(j), old.Element(i))
		s.Occupy(j)
	}
}

// Close unmaps and deletes the backing file. Close is safe to call more than
// once.
func (s *Storage) Close() error {
	if s.mmap == nil {
		return nil
	}
	size := len(s.mmap)
	err := unix.Munmap(s.mmap)
	s.mmap = nil
	s.stats.Files.Add(-1)
	s.stats.FileBytes.Add(-int64(size))
	s.stats.Entries.Add(-int64(s.count))
	if err != nil {
		return errors.Wrapf(err, "munmap %v", s.path)
	}
	return errors.Wrap(fs.RemoveIfExists(s.path), "remove bucket file")
}

// Get returns element ix of s viewed as a T. T must be free of pointers and
// no larger than the element size.
func Get[T any](s *Storage, ix uint64) *T {
	b := s.Element(ix)
	var zero T
	if uintptr(len(b)) < unsafe.Sizeof(zero) {
		panic(fmt.Sprintf("element of %d bytes cannot hold a %T", len(b), zero))
	}
	return (*T)(unsafe.Pointer(&b[0]))
}

// CellSlice returns the first n cells of element ix of s viewed as a []T. The
// slice aliases the mapping; T must be free of pointers.
func CellSlice[T any](s *Storage, ix uint64, n uint64) []T {
	b := s.Element(ix)
	if n == 0 {
		return []T{}
	}
	var zero T
	if uint64(len(b)) < n*uint64(unsafe.Sizeof(zero)) {
		panic(fmt.Sprintf("element of %d bytes cannot hold %d cells of %T", len(b), n, zero))
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}
