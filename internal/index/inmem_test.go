package index

import (
	"testing"

	"github.com/skyline93/acctidx/internal/acct"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func holderForTesting(t *testing.T, bins int, disableDisk bool) *BucketMapHolder[acct.SlotInfo] {
	t.Helper()
	cfg := NewConfig()
	cfg.Drives = []string{t.TempDir()}
	cfg.DisableDisk = disableDisk
	h, err := NewBucketMapHolder[acct.SlotInfo](bins, &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Close()) })
	return h
}

func slotList(n int) []acct.SlotInfo {
	slots := make([]acct.SlotInfo, n)
	for i := range slots {
		slots[i] = acct.SlotInfo{Slot: acct.Slot(100 + i), StoreID: uint32(i), Offset: uint32(i * 8)}
	}
	return slots
}

func TestInMemWriteThrough(t *testing.T) {
	h := holderForTesting(t, 1, false)
	idx := NewInMemAccountsIndex(h, 0)

	key := acct.PubkeyFromSeed([]byte("a"))
	require.NoError(t, idx.Insert(key, slotList(3), 1))

	slots, rc, ok := h.Disk().Read(key)
	require.True(t, ok)
	assert.Equal(t, slotList(3), slots)
	assert.Equal(t, acct.RefCount(1), rc)

	slots, rc, ok = idx.Get(key)
	require.True(t, ok)
	assert.Equal(t, slotList(3), slots)
	assert.Equal(t, acct.RefCount(1), rc)
	assert.Equal(t, uint64(0), h.Stats.GetMisses.Load())

	rc, ok = idx.Addref(key)
	require.True(t, ok)
	assert.Equal(t, acct.RefCount(2), rc)
	_, rc, _ = h.Disk().Read(key)
	assert.Equal(t, acct.RefCount(2), rc)

	rc, ok = idx.Unref(key)
	require.True(t, ok)
	assert.Equal(t, acct.RefCount(1), rc)

	require.True(t, idx.Remove(key))
	_, _, ok = h.Disk().Read(key)
	assert.False(t, ok)
	_, _, ok = idx.Get(key)
	assert.False(t, ok)
	assert.False(t, idx.Remove(key))
	assert.Equal(t, uint64(1), h.Stats.Deletes.Load())
}

func TestInMemMissFillsCache(t *testing.T) {
	h := holderForTesting(t, 1, false)
	idx := NewInMemAccountsIndex(h, 0)

	key := acct.PubkeyFromSeed([]byte("on disk only"))
	require.NoError(t, h.Disk().Update(key, slotList(5), 7))
	assert.Equal(t, 0, idx.CachedLen())
	assert.Equal(t, 1, idx.Len())

	slots, rc, ok := idx.Get(key)
	require.True(t, ok)
	assert.Equal(t, slotList(5), slots)
	assert.Equal(t, acct.RefCount(7), rc)
	assert.Equal(t, 1, idx.CachedLen())
	assert.Equal(t, uint64(1), h.Stats.GetMisses.Load())
	assert.Equal(t, int64(1), h.Stats.CountInMem())

	_, _, ok = idx.Get(key)
	require.True(t, ok)
	assert.Equal(t, uint64(1), h.Stats.GetMisses.Load())
	assert.Equal(t, uint64(2), h.Stats.Gets.Load())

	_, _, ok = idx.Get(acct.PubkeyFromSeed([]byte("missing")))
	assert.False(t, ok)
	assert.Equal(t, 1, idx.CachedLen())
}

func TestInMemAddrefLoadsFromDisk(t *testing.T) {
	h := holderForTesting(t, 1, false)
	idx := NewInMemAccountsIndex(h, 0)

	key := acct.PubkeyFromSeed([]byte("b"))
	require.NoError(t, h.Disk().Update(key, slotList(2), 0))

	rc, ok := idx.Addref(key)
	require.True(t, ok)
	assert.Equal(t, acct.RefCount(1), rc)

	slots, rc, ok := h.Disk().Read(key)
	require.True(t, ok)
	assert.Equal(t, slotList(2), slots)
	assert.Equal(t, acct.RefCount(1), rc)

	_, ok = idx.Addref(acct.PubkeyFromSeed([]byte("missing")))
	assert.False(t, ok)
}

func TestInMemUnrefZeroPanics(t *testing.T) {
	h := holderForTesting(t, 1, true)
	idx := NewInMemAccountsIndex(h, 0)

	key := acct.PubkeyFromSeed([]byte("c"))
	require.NoError(t, idx.Insert(key, nil, 0))
	assert.Panics(t, func() { idx.Unref(key) })
}

func TestInMemWithoutDisk(t *testing.T) {
	h := holderForTesting(t, 1, true)
	require.Nil(t, h.Disk())
	idx := NewInMemAccountsIndex(h, 0)

	keys := []acct.Pubkey{
		acct.PubkeyFromSeed([]byte("x")),
		acct.PubkeyFromSeed([]byte("y")),
	}
	for i, k := range keys {
		require.NoError(t, idx.Insert(k, slotList(i+1), acct.RefCount(i)))
	}
	assert.Equal(t, 2, idx.Len())
	assert.ElementsMatch(t, keys, idx.Keys())

	slots, rc, ok := idx.Get(keys[1])
	require.True(t, ok)
	assert.Equal(t, slotList(2), slots)
	assert.Equal(t, acct.RefCount(1), rc)

	require.True(t, idx.Remove(keys[0]))
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, int64(1), h.Stats.CountInMem())
}

func TestInMemGetReturnsCopy(t *testing.T) {
	h := holderForTesting(t, 1, true)
	idx := NewInMemAccountsIndex(h, 0)

	key := acct.PubkeyFromSeed([]byte("copy"))
	in := slotList(2)
	require.NoError(t, idx.Insert(key, in, 1))
	in[0].Slot = 1

	slots, _, _ := idx.Get(key)
	slots[1].Slot = 2

	again, _, _ := idx.Get(key)
	assert.Equal(t, slotList(2), again)
}

func TestInMemWrongBinPanics(t *testing.T) {
	h := holderForTesting(t, 2, true)
	idx := NewInMemAccountsIndex(h, 0)

	key := acct.Pubkey{0x80}
	assert.Panics(t, func() { idx.Get(key) })
	assert.Panics(t, func() { _ = idx.Insert(key, nil, 0) })
	require.NoError(t, idx.Insert(acct.Pubkey{0x7f}, nil, 0))
}
