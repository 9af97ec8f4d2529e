package index

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/skyline93/acctidx/internal/acct"
	"github.com/skyline93/acctidx/internal/bucket"
)

// AccountMapEntry is the cached state of one key.
type AccountMapEntry[T any] struct {
	SlotList []T
	RefCount acct.RefCount
}

// InMemAccountsIndex caches the keys of one bin. Every write goes through to
// the bin's disk bucket, so the cache may be dropped at any time; reads that
// miss the cache are served from disk and fill the cache.
type InMemAccountsIndex[T any] struct {
	mu    sync.RWMutex
	m     map[acct.Pubkey]*AccountMapEntry[T]
	bin   int
	stats *HolderStats
	disk  *bucket.Bucket[T]
	calc  bucket.BinCalculator
}

// NewInMemAccountsIndex returns the in-memory index of bin.
func NewInMemAccountsIndex[T any](storage *BucketMapHolder[T], bin int) *InMemAccountsIndex[T] {
	idx := &InMemAccountsIndex[T]{
		m:     make(map[acct.Pubkey]*AccountMapEntry[T]),
		bin:   bin,
		stats: storage.Stats,
		calc:  storage.BinCalculator,
	}
	if d := storage.Disk(); d != nil {
		idx.disk = d.Bin(bin)
	}
	return idx
}

// Bin returns the bin served by idx.
func (idx *InMemAccountsIndex[T]) Bin() int {
	return idx.bin
}

func (idx *InMemAccountsIndex[T]) checkBin(key *acct.Pubkey) {
	if bin := idx.calc.BinFromPubkey(key); bin != idx.bin {
		panic(fmt.Sprintf("key %v belongs to bin %d, not %d", key.Str(), bin, idx.bin))
	}
}

// Get returns a copy of the slot list of key and its ref count.
func (idx *InMemAccountsIndex[T]) Get(key acct.Pubkey) ([]T, acct.RefCount, bool) {
	idx.checkBin(&key)
	idx.stats.Gets.Add(1)

	idx.mu.RLock()
	e, ok := idx.m[key]
	if ok {
		slots := append([]T(nil), e.SlotList...)
		rc := e.RefCount
		idx.mu.RUnlock()
		return slots, rc, true
	}
	idx.mu.RUnlock()

	idx.stats.GetMisses.Add(1)
	if idx.disk == nil {
		return nil, 0, false
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	// filled by a concurrent miss
	if e, ok := idx.m[key]; ok {
		return append([]T(nil), e.SlotList...), e.RefCount, true
	}
	e, ok = idx.load(key)
	if !ok {
		return nil, 0, false
	}
	return append([]T(nil), e.SlotList...), e.RefCount, true
}

// load reads key from disk into the cache. The caller holds idx.mu.
func (idx *InMemAccountsIndex[T]) load(key acct.Pubkey) (*AccountMapEntry[T], bool) {
	if idx.disk == nil {
		return nil, false
	}
	slots, rc, ok := idx.disk.Read(key)
	if !ok {
		return nil, false
	}
	e := &AccountMapEntry[T]{SlotList: slots, RefCount: rc}
	idx.m[key] = e
	idx.stats.InsertOrDeleteMemCount(idx.bin, true)
	return e, true
}

// Insert stores slots and refCount for key, replacing what was there.
func (idx *InMemAccountsIndex[T]) Insert(key acct.Pubkey, slots []T, refCount acct.RefCount) error {
	idx.checkBin(&key)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.disk != nil {
		if err := idx.disk.Update(key, slots, refCount); err != nil {
			return errors.Wrapf(err, "write %v", key.Str())
		}
	}
	idx.stats.Inserts.Add(1)

	e := &AccountMapEntry[T]{
		SlotList: append([]T(nil), slots...),
		RefCount: refCount,
	}
	if _, ok := idx.m[key]; !ok {
		idx.stats.InsertOrDeleteMemCount(idx.bin, true)
	}
	idx.m[key] = e
	return nil
}

// Remove deletes key from the cache and from disk.
func (idx *InMemAccountsIndex[T]) Remove(key acct.Pubkey) bool {
	idx.checkBin(&key)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, cached := idx.m[key]
	if cached {
		delete(idx.m, key)
		idx.stats.InsertOrDeleteMemCount(idx.bin, false)
	}
	onDisk := idx.disk != nil && idx.disk.Delete(key)
	if cached || onDisk {
		idx.stats.Deletes.Add(1)
		return true
	}
	return false
}

// Addref increments the ref count of key and returns the new count.
func (idx *InMemAccountsIndex[T]) Addref(key acct.Pubkey) (acct.RefCount, bool) {
	return idx.updateRefCount(key, func(e *AccountMapEntry[T]) {
		e.RefCount++
	})
}

// Unref decrements the ref count of key and returns the new count. Unref of a
// key without references panics.
func (idx *InMemAccountsIndex[T]) Unref(key acct.Pubkey) (acct.RefCount, bool) {
	return idx.updateRefCount(key, func(e *AccountMapEntry[T]) {
		if e.RefCount == 0 {
			panic(fmt.Sprintf("unref of %v with no references", key.Str()))
		}
		e.RefCount--
	})
}

func (idx *InMemAccountsIndex[T]) updateRefCount(key acct.Pubkey, fn func(*AccountMapEntry[T])) (acct.RefCount, bool) {
	idx.checkBin(&key)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.m[key]
	if !ok {
		if e, ok = idx.load(key); !ok {
			return 0, false
		}
	}
	fn(e)
	if idx.disk != nil {
		if err := idx.disk.Update(key, e.SlotList, e.RefCount); err != nil {
			// same slot list, written in place
			panic(fmt.Sprintf("write ref count of %v: %v", key.Str(), err))
		}
	}
	return e.RefCount, true
}

// Len returns the number of keys of the bin.
func (idx *InMemAccountsIndex[T]) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.disk != nil {
		return idx.disk.Len()
	}
	return len(idx.m)
}

// Keys returns the keys of the bin.
func (idx *InMemAccountsIndex[T]) Keys() []acct.Pubkey {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.disk != nil {
		return idx.disk.Keys()
	}
	keys := make([]acct.Pubkey, 0, len(idx.m))
	for k := range idx.m {
		keys = append(keys, k)
	}
	return keys
}

// CachedLen returns the number of keys held in memory.
func (idx *InMemAccountsIndex[T]) CachedLen() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.m)
}
