package bucket

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Occupied tracks which elements of a bucket are in use.
type Occupied interface {
	// Occupy marks ix in use. ix must be free.
	Occupy(ix uint64)
	// Free marks ix unused. ix must be occupied.
	Free(ix uint64)
	IsFree(ix uint64) bool
	// OffsetToFirstData is the number of header bytes stored in front of the
	// data of each element.
	OffsetToFirstData() uint64
	// Len is the number of elements tracked.
	Len() uint64
}

// NewOccupiedFunc builds the tracker for a bucket of numElements elements.
type NewOccupiedFunc func(numElements uint64) Occupied

// BitVec keeps occupancy in a side bit vector, one bit per element, so
// nothing is stored in the element itself.
type BitVec struct {
	occupied *bitset.BitSet
	n        uint64
}

var _ Occupied = (*BitVec)(nil)

// NewBitVec returns a tracker with all numElements elements free.
func NewBitVec(numElements uint64) Occupied {
	return &BitVec{
		occupied: bitset.New(uint(numElements)),
		n:        numElements,
	}
}

func (b *BitVec) Occupy(ix uint64) {
	if !b.IsFree(ix) {
		panic(fmt.Sprintf("occupy of element %d which is already occupied", ix))
	}
	b.occupied.Set(uint(ix))
}

func (b *BitVec) Free(ix uint64) {
	if b.IsFree(ix) {
		panic(fmt.Sprintf("free of element %d which is already free", ix))
	}
	b.occupied.Clear(uint(ix))
}

func (b *BitVec) IsFree(ix uint64) bool {
	if ix >= b.n {
		panic(fmt.Sprintf("element %d out of range, %d elements", ix, b.n))
	}
	return !b.occupied.Test(uint(ix))
}

func (b *BitVec) OffsetToFirstData() uint64 {
	// no header, nothing stored in the data stream
	return 0
}

func (b *BitVec) Len() uint64 {
	return b.n
}
