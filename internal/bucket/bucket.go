package bucket

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/skyline93/acctidx/internal/acct"
)

// Bucket maps the keys of one bin to their slot lists. Entries live in an
// index bucket; slot lists of length n live in data bucket
// DataBucketFromNumSlots(n), whose elements hold up to 2^k cells of T.
//
// T must be a fixed size type without pointers: slot lists are stored in and
// read straight out of memory mapped files.
//
// Writers hold the bin exclusively, readers share it. Files are created on
// the first write.
type Bucket[T any] struct {
	mu sync.RWMutex

	drives    []string
	maxSearch uint64
	indexPow2 uint8
	dataPow2  uint8
	cellSize  uint64
	stats     *Stats
	index     *Storage
	data      []*Storage
}

// NewBucket returns an empty bucket. Index and data files start out with
// 2^indexPow2 and 2^dataPow2 elements and are placed in drives.
func NewBucket[T any](drives []string, maxSearch uint8, indexPow2, dataPow2 uint8, stats *Stats) (*Bucket[T], error) {
	var zero T
	cellSize := uint64(unsafe.Sizeof(zero))
	if cellSize == 0 {
		return nil, errors.Errorf("slot list element %T has zero size", zero)
	}
	if maxSearch == 0 {
		return nil, errors.New("max search must be at least 1")
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Bucket[T]{
		drives:    drives,
		maxSearch: uint64(maxSearch),
		indexPow2: indexPow2,
		dataPow2:  dataPow2,
		cellSize:  cellSize,
		stats:     stats,
	}, nil
}

func hashKey(key acct.Pubkey) uint64 {
	return xxhash.Sum64(key[:])
}

func (b *Bucket[T]) window(s *Storage) uint64 {
	return min(b.maxSearch, s.Capacity())
}

// findEntry returns the entry of key, probing the search window that starts
// at the key's hash.
func (b *Bucket[T]) findEntry(key acct.Pubkey) (EntryHandle, bool) {
	if b.index == nil {
		return 0, false
	}
	start := hashKey(key)
	mask := b.index.Capacity() - 1
	for i := uint64(0); i < b.window(b.index); i++ {
		ix := (start + i) & mask
		if b.index.IsFree(ix) {
			continue
		}
		h := EntryHandle(ix)
		if h.Key(b.index) == key {
			return h, true
		}
	}
	return 0, false
}

// createEntry occupies and initializes a new entry for key, growing the index
// until the key's search window has room.
func (b *Bucket[T]) createEntry(key acct.Pubkey) (EntryHandle, error) {
	if b.index == nil {
		s, err := NewStorage(b.drives, IndexEntrySize, b.indexPow2, &b.stats.Index)
		if err != nil {
			return 0, err
		}
		b.index = s
	}
	for {
		if ix, ok := b.index.findFree(hashKey(key), b.window(b.index)); ok {
			b.index.Occupy(ix)
			h := EntryHandle(ix)
			h.Init(b.index, key)
			return h, nil
		}
		if err := b.growIndex(); err != nil {
			return 0, err
		}
	}
}

// growIndex replaces the index with a larger one, reinserting every entry at
// its probe position in the new index. Data buckets are not touched: the
// entries are copied whole, storage offsets included.
func (b *Bucket[T]) growIndex() error {
	old := b.index
	for pow2 := old.CapacityPow2 + 1; pow2 <= MaxCapacityPow2; pow2++ {
		grown, err := NewStorage(b.drives, IndexEntrySize, pow2, &b.stats.Index)
		if err != nil {
			return err
		}
		if b.rehash(old, grown) {
			b.stats.Index.Resizes.Add(1)
			log.Debugf("grew index bucket from 2^%d to 2^%d entries (%d in use)", old.CapacityPow2, pow2, old.Count())
			b.index = grown
			return old.Close()
		}
		if err := grown.Close(); err != nil {
			return err
		}
	}
	return errors.Errorf("index bucket cannot grow beyond 2^%d entries", MaxCapacityPow2)
}

func (b *Bucket[T]) rehash(from, to *Storage) bool {
	window := b.window(to)
	for i := uint64(0); i < from.Capacity(); i++ {
		if from.IsFree(i) {
			continue
		}
		key := EntryHandle(i).Key(from)
		ix, ok := to.findFree(hashKey(key), window)
		if !ok {
			return false
		}
		to.Occupy(ix)
		copy(to.Element(ix), from.Element(i))
	}
	return true
}

// dataBucket returns the data bucket of size class class, creating it on
// first use.
func (b *Bucket[T]) dataBucket(class uint64) (*Storage, error) {
	for uint64(len(b.data)) <= class {
		b.data = append(b.data, nil)
	}
	if b.data[class] == nil {
		s, err := NewStorage(b.drives, b.cellSize<<class, b.dataPow2, &b.stats.Data)
		if err != nil {
			return nil, err
		}
		b.data[class] = s
	}
	return b.data[class], nil
}

// allocate occupies an element for key in data bucket class, doubling the
// bucket until the key's search window has room.
func (b *Bucket[T]) allocate(class uint64, key acct.Pubkey) (*Storage, uint64, error) {
	data, err := b.dataBucket(class)
	if err != nil {
		return nil, 0, err
	}
	for {
		if ix, ok := data.findFree(hashKey(key), b.window(data)); ok {
			data.Occupy(ix)
			return data, ix, nil
		}
		grown, err := data.Grow(1)
		if err != nil {
			return nil, 0, err
		}
		if err := data.Close(); err != nil {
			return nil, 0, err
		}
		b.data[class] = grown
		data = grown
	}
}

// Update stores slots and refCount for key, inserting the key if it is new.
// The slot list moves to another data bucket when its size class changes.
func (b *Bucket[T]) Update(key acct.Pubkey, slots []T, refCount acct.RefCount) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, found := b.findEntry(key)
	if !found {
		var err error
		h, err = b.createEntry(key)
		if err != nil {
			return err
		}
	}

	oldNum := h.NumSlots(b.index)
	newNum := uint64(len(slots))
	oldClass := DataBucketFromNumSlots(oldNum)
	newClass := DataBucketFromNumSlots(newNum)

	if oldNum > 0 && newNum > 0 && oldClass == newClass {
		data := b.data[newClass]
		copy(CellSlice[T](data, h.DataLoc(b.index, data), newNum), slots)
	} else {
		var (
			data *Storage
			loc  uint64
		)
		if newNum > 0 {
			var err error
			data, loc, err = b.allocate(newClass, key)
			if err != nil {
				if !found {
					b.index.Free(h.Ix())
				}
				return err
			}
			copy(CellSlice[T](data, loc, newNum), slots)
		}
		if oldNum > 0 {
			old := b.data[oldClass]
			old.Free(h.DataLoc(b.index, old))
		}
		if newNum > 0 {
			h.SetStorageOffset(b.index, loc)
			h.SetStorageCapacityWhenCreatedPow2(b.index, data.CapacityPow2)
		} else {
			h.SetStorageOffset(b.index, 0)
			h.SetStorageCapacityWhenCreatedPow2(b.index, 0)
		}
	}

	h.SetNumSlots(b.index, newNum)
	h.SetRefCount(b.index, refCount)
	return nil
}

// Read returns a copy of the slot list of key and its ref count.
func (b *Bucket[T]) Read(key acct.Pubkey) ([]T, acct.RefCount, bool) {
	var (
		out []T
		rc  acct.RefCount
	)
	found := b.ReadFunc(key, func(slots []T, refCount acct.RefCount) {
		out = append(make([]T, 0, len(slots)), slots...)
		rc = refCount
	})
	return out, rc, found
}

// ReadFunc calls fn with the slot list of key and its ref count. The slice
// aliases the bucket file and must not be retained after fn returns.
func (b *Bucket[T]) ReadFunc(key acct.Pubkey, fn func(slots []T, refCount acct.RefCount)) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	h, ok := b.findEntry(key)
	if !ok {
		return false
	}
	slots, rc := ReadValue[T](h, b.index, b.data)
	fn(slots, rc)
	return true
}

// Delete removes key and frees its slot list.
func (b *Bucket[T]) Delete(key acct.Pubkey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.findEntry(key)
	if !ok {
		return false
	}
	if numSlots := h.NumSlots(b.index); numSlots > 0 {
		data := b.data[DataBucketFromNumSlots(numSlots)]
		data.Free(h.DataLoc(b.index, data))
	}
	b.index.Free(h.Ix())
	return true
}

// Addref increments the ref count of key and returns the new count.
func (b *Bucket[T]) Addref(key acct.Pubkey) (acct.RefCount, bool) {
	return b.updateRefCount(key, func(rc acct.RefCount) acct.RefCount {
		return rc + 1
	})
}

// Unref decrements the ref count of key and returns the new count. Unref of
// a key without references panics.
func (b *Bucket[T]) Unref(key acct.Pubkey) (acct.RefCount, bool) {
	return b.updateRefCount(key, func(rc acct.RefCount) acct.RefCount {
		if rc == 0 {
			panic(fmt.Sprintf("unref of %v with no references", key.Str()))
		}
		return rc - 1
	})
}

func (b *Bucket[T]) updateRefCount(key acct.Pubkey, fn func(acct.RefCount) acct.RefCount) (acct.RefCount, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.findEntry(key)
	if !ok {
		return 0, false
	}
	rc := fn(h.RefCount(b.index))
	h.SetRefCount(b.index, rc)
	return rc, true
}

// Len returns the number of keys.
func (b *Bucket[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.index == nil {
		return 0
	}
	return int(b.index.Count())
}

// Keys returns the keys in index order.
func (b *Bucket[T]) Keys() []acct.Pubkey {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.index == nil {
		return nil
	}
	keys := make([]acct.Pubkey, 0, b.index.Count())
	for i := uint64(0); i < b.index.Capacity(); i++ {
		if !b.index.IsFree(i) {
			keys = append(keys, EntryHandle(i).Key(b.index))
		}
	}
	return keys
}

// IndexCapacityPow2 returns the capacity exponent of the index bucket, or
// false before the first write.
func (b *Bucket[T]) IndexCapacityPow2() (uint8, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.index == nil {
		return 0, false
	}
	return b.index.CapacityPow2, true
}

// DataCapacityPow2 returns the capacity exponent of data bucket class, or
// false if nothing was ever stored in that size class.
func (b *Bucket[T]) DataCapacityPow2(class uint64) (uint8, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if class >= uint64(len(b.data)) || b.data[class] == nil {
		return 0, false
	}
	return b.data[class].CapacityPow2, true
}

// Close deletes every file of the bucket.
func (b *Bucket[T]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	if b.index != nil {
		firstErr = b.index.Close()
		b.index = nil
	}
	for i, s := range b.data {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.data[i] = nil
	}
	return firstErr
}
