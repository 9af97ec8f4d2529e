package acct

import (
	"crypto/rand"
	"encoding/hex"
	"io"

	sha256 "github.com/minio/sha256-simd"
	"github.com/pkg/errors"
)

// PubkeySize is the size of a Pubkey, in bytes.
const PubkeySize = 32

// Pubkey identifies an account and is the key of the accounts index.
type Pubkey [PubkeySize]byte

// ParsePubkey decodes a Pubkey from its hex form, as printed by String.
func ParsePubkey(s string) (Pubkey, error) {
	var k Pubkey
	if len(s) != hex.EncodedLen(PubkeySize) {
		return k, errors.Errorf("pubkey %q has %d hex digits, want %d", s, len(s), hex.EncodedLen(PubkeySize))
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return Pubkey{}, errors.Wrapf(err, "parse pubkey %q", s)
	}
	return k, nil
}

// NewUniquePubkey returns a randomly generated Pubkey. When reading from rand
// fails, the function panics.
func NewUniquePubkey() Pubkey {
	k := Pubkey{}
	_, err := io.ReadFull(rand.Reader, k[:])
	if err != nil {
		panic(err)
	}
	return k
}

// PubkeyFromSeed derives a Pubkey deterministically from seed.
func PubkeyFromSeed(seed []byte) Pubkey {
	return sha256.Sum256(seed)
}

const shortStr = 4

// Str returns the shortened string version of k.
func (k *Pubkey) Str() string {
	if k == nil {
		return "[nil]"
	}

	if k.IsNull() {
		return "[null]"
	}

	return hex.EncodeToString(k[:shortStr])
}

func (k Pubkey) String() string {
	return hex.EncodeToString(k[:])
}

// IsNull returns true iff k only consists of null bytes.
func (k Pubkey) IsNull() bool {
	var null Pubkey

	return k == null
}
