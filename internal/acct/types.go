package acct

import "fmt"

// Slot identifies a ledger slot.
type Slot = uint64

// RefCount counts the live references to the data stored for a key.
type RefCount = uint64

// SlotInfo is one element of an account's slot list: the slot the account was
// written in and where that version lives in an append vec.
type SlotInfo struct {
	Slot    Slot
	StoreID uint32
	Offset  uint32
}

func (s SlotInfo) String() string {
	return fmt.Sprintf("slot %d store %d offset %d", s.Slot, s.StoreID, s.Offset)
}
