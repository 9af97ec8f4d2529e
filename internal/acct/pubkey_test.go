package acct

import (
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePubkey(t *testing.T) {
	k := NewUniquePubkey()
	parsed, err := ParsePubkey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	_, err = ParsePubkey("abcd")
	assert.Error(t, err)

	_, err = ParsePubkey(strings.Repeat("zz", PubkeySize))
	assert.Error(t, err)
}

func TestPubkeyFromSeed(t *testing.T) {
	a := PubkeyFromSeed([]byte("seed"))
	b := PubkeyFromSeed([]byte("seed"))
	c := PubkeyFromSeed([]byte("other"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	// sha256("seed")
	assert.Equal(t, "19b25856e1c150ca834cffc8b59b23adbd0ec0389e58eb22b3b64768098d002b", a.String())
}

func TestPubkeyStr(t *testing.T) {
	var k Pubkey
	assert.True(t, k.IsNull())
	assert.Equal(t, "[null]", k.Str())

	var nilKey *Pubkey
	assert.Equal(t, "[nil]", nilKey.Str())

	k[0] = 0xab
	assert.Equal(t, "ab000000", k.Str())
}

func TestSlotInfoSize(t *testing.T) {
	assert.Equal(t, uintptr(16), unsafe.Sizeof(SlotInfo{}))
}
