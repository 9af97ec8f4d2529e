package bucket

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/pkg/errors"
	"github.com/skyline93/acctidx/internal/acct"
)

// An index bucket holds one IndexEntry per key, 56 bytes each:
//
//	key          [0,32)   raw bytes
//	ref_count    [32,40)  little endian
//	storage      [40,48)  PackedStorage, little endian
//	num_slots    [48,56)  little endian
//
// The slot list of the key lives in the data bucket of size class
// DataBucketFromNumSlots(num_slots). The entry records the element offset in
// that data bucket together with the bucket's capacity exponent at the time
// the element was allocated; data buckets only grow by doubling, so the
// element is found again by shifting the offset (see DataLoc).
const (
	keyOffset      = 0
	refCountOffset = keyOffset + acct.PubkeySize
	storageOffset  = refCountOffset + 8
	numSlotsOffset = storageOffset + 8

	// IndexEntrySize is the size of an IndexEntry in an index bucket.
	IndexEntrySize = numSlotsOffset + 8
)

const (
	capacityBits = 8
	offsetBits   = 64 - capacityBits

	// MaxStorageOffset is the largest offset a PackedStorage can hold.
	MaxStorageOffset = 1<<offsetBits - 1
)

var errOffsetTooLarge = errors.New("storage offset does not fit in 56 bits")

// PackedStorage packs the capacity exponent a data bucket had when an element
// was allocated (low 8 bits) and the element offset (high 56 bits) into a
// single word.
type PackedStorage uint64

func (p PackedStorage) CapacityWhenCreatedPow2() uint8 {
	return uint8(p)
}

func (p *PackedStorage) SetCapacityWhenCreatedPow2(pow2 uint8) {
	*p = *p&^(1<<capacityBits-1) | PackedStorage(pow2)
}

func (p PackedStorage) Offset() uint64 {
	return uint64(p) >> capacityBits
}

// SetOffsetChecked stores offset, or returns an error and leaves p unchanged
// if offset does not fit.
func (p *PackedStorage) SetOffsetChecked(offset uint64) error {
	if offset > MaxStorageOffset {
		return errors.Wrapf(errOffsetTooLarge, "offset %d", offset)
	}
	*p = PackedStorage(offset<<capacityBits) | *p&(1<<capacityBits-1)
	return nil
}

// IndexEntry is the decoded form of an index bucket element.
type IndexEntry struct {
	Key                 acct.Pubkey
	RefCount            acct.RefCount
	StorageCapAndOffset PackedStorage
	NumSlots            acct.Slot
}

// DecodeIndexEntry decodes an IndexEntry from the first IndexEntrySize bytes of b.
func DecodeIndexEntry(b []byte) IndexEntry {
	var e IndexEntry
	copy(e.Key[:], b[keyOffset:refCountOffset])
	e.RefCount = binary.LittleEndian.Uint64(b[refCountOffset:])
	e.StorageCapAndOffset = PackedStorage(binary.LittleEndian.Uint64(b[storageOffset:]))
	e.NumSlots = binary.LittleEndian.Uint64(b[numSlotsOffset:])
	return e
}

// Encode writes e into the first IndexEntrySize bytes of b.
func (e IndexEntry) Encode(b []byte) {
	copy(b[keyOffset:refCountOffset], e.Key[:])
	binary.LittleEndian.PutUint64(b[refCountOffset:], e.RefCount)
	binary.LittleEndian.PutUint64(b[storageOffset:], uint64(e.StorageCapAndOffset))
	binary.LittleEndian.PutUint64(b[numSlotsOffset:], e.NumSlots)
}

// DataBucketFromNumSlots returns the size class of a slot list of numSlots
// elements: the smallest k with 2^k >= numSlots, i.e. ceil(log2(numSlots)).
// An empty slot list has no allocation and maps to 0.
func DataBucketFromNumSlots(numSlots acct.Slot) uint64 {
	if numSlots == 0 {
		return 0
	}
	return uint64(bits.Len64(numSlots - 1))
}

// EntryHandle locates an IndexEntry in an index bucket. It holds nothing but
// the element index; every accessor takes the index bucket explicitly.
type EntryHandle uint64

// Ix returns the element index of the entry in its index bucket.
func (h EntryHandle) Ix() uint64 {
	return uint64(h)
}

func (h EntryHandle) element(index *Storage) []byte {
	return index.Element(uint64(h))
}

// Init writes a fresh entry for key: no references and an empty slot list.
// It is called once, right after the element was occupied.
func (h EntryHandle) Init(index *Storage, key acct.Pubkey) {
	IndexEntry{Key: key}.Encode(h.element(index))
}

// Entry returns a decoded copy of the whole entry.
func (h EntryHandle) Entry(index *Storage) IndexEntry {
	return DecodeIndexEntry(h.element(index))
}

func (h EntryHandle) Key(index *Storage) acct.Pubkey {
	var k acct.Pubkey
	copy(k[:], h.element(index)[keyOffset:refCountOffset])
	return k
}

func (h EntryHandle) RefCount(index *Storage) acct.RefCount {
	return binary.LittleEndian.Uint64(h.element(index)[refCountOffset:])
}

func (h EntryHandle) SetRefCount(index *Storage, refCount acct.RefCount) {
	binary.LittleEndian.PutUint64(h.element(index)[refCountOffset:], refCount)
}

func (h EntryHandle) NumSlots(index *Storage) acct.Slot {
	return binary.LittleEndian.Uint64(h.element(index)[numSlotsOffset:])
}

func (h EntryHandle) SetNumSlots(index *Storage, numSlots acct.Slot) {
	binary.LittleEndian.PutUint64(h.element(index)[numSlotsOffset:], numSlots)
}

func (h EntryHandle) packed(index *Storage) PackedStorage {
	return PackedStorage(binary.LittleEndian.Uint64(h.element(index)[storageOffset:]))
}

func (h EntryHandle) setPacked(index *Storage, p PackedStorage) {
	binary.LittleEndian.PutUint64(h.element(index)[storageOffset:], uint64(p))
}

func (h EntryHandle) StorageCapacityWhenCreatedPow2(index *Storage) uint8 {
	return h.packed(index).CapacityWhenCreatedPow2()
}

func (h EntryHandle) SetStorageCapacityWhenCreatedPow2(index *Storage, pow2 uint8) {
	p := h.packed(index)
	p.SetCapacityWhenCreatedPow2(pow2)
	h.setPacked(index, p)
}

func (h EntryHandle) StorageOffset(index *Storage) uint64 {
	return h.packed(index).Offset()
}

// SetStorageOffset records the data bucket offset of the slot list. An offset
// of 2^56 or more cannot be represented and panics.
func (h EntryHandle) SetStorageOffset(index *Storage, offset uint64) {
	p := h.packed(index)
	if err := p.SetOffsetChecked(offset); err != nil {
		panic("new storage offset must fit into 7 bytes")
	}
	h.setPacked(index, p)
}

// DataBucketIx returns the size class of the entry's slot list.
func (h EntryHandle) DataBucketIx(index *Storage) uint64 {
	return DataBucketFromNumSlots(h.NumSlots(index))
}

// DataLoc maps the offset recorded at allocation time to the element index in
// data as it is now. data only grows by doubling, moving element i to i << 1,
// so the recorded offset is shifted by the number of doublings since.
func (h EntryHandle) DataLoc(index *Storage, data *Storage) uint64 {
	p := h.packed(index)
	created := p.CapacityWhenCreatedPow2()
	if data.CapacityPow2 < created {
		panic(fmt.Sprintf("data bucket capacity 2^%d below capacity 2^%d recorded at allocation", data.CapacityPow2, created))
	}
	return p.Offset() << (data.CapacityPow2 - created)
}

// ReadValue returns the slot list and ref count of the entry at h. The slice
// aliases the data bucket and is only valid while the caller keeps the
// buckets from being written or grown. An empty slot list is returned without
// looking at dataBuckets.
func ReadValue[T any](h EntryHandle, index *Storage, dataBuckets []*Storage) ([]T, acct.RefCount) {
	numSlots := h.NumSlots(index)
	if numSlots == 0 {
		// no allocation exists for an empty slot list
		return []T{}, h.RefCount(index)
	}
	data := dataBuckets[h.DataBucketIx(index)]
	loc := h.DataLoc(index, data)
	if data.IsFree(loc) {
		key := h.Key(index)
		panic(fmt.Sprintf("slot list of %v at data element %d is not occupied", key.Str(), loc))
	}
	return CellSlice[T](data, loc, numSlots), h.RefCount(index)
}
