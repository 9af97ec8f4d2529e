package bucket

import (
	"math/bits"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/skyline93/acctidx/internal/acct"
	"github.com/skyline93/acctidx/internal/fs"
)

const (
	// MaxBins is the largest number of bins a key can be routed to: routing
	// uses the first 24 bits of the key.
	MaxBins = 1 << binBits
	binBits = 24

	DefaultMaxSearch         = 32
	DefaultIndexCapacityPow2 = 4
	DefaultDataCapacityPow2  = 4
)

// Config holds all information needed to create a Map.
type Config struct {
	// MaxBuckets is the number of bins, a power of two.
	MaxBuckets int
	// Drives are the directories bucket files are spread over. If empty, a
	// temporary directory is created and removed again on Close.
	Drives []string
	// MaxSearch is the number of elements probed for a key before a bucket
	// is grown.
	MaxSearch uint8
	// IndexCapacityPow2 and DataCapacityPow2 are the capacity exponents new
	// index and data buckets start with.
	IndexCapacityPow2 uint8
	DataCapacityPow2  uint8
}

// NewConfig returns a new config with default options applied.
func NewConfig(maxBuckets int) Config {
	return Config{
		MaxBuckets:        maxBuckets,
		MaxSearch:         DefaultMaxSearch,
		IndexCapacityPow2: DefaultIndexCapacityPow2,
		DataCapacityPow2:  DefaultDataCapacityPow2,
	}
}

// BinCalculator routes a key to a bin by the leading bits of the key. Keys
// are hashes already, so their leading bits are uniformly distributed.
type BinCalculator struct {
	bins      int
	shiftBits uint
}

// NewBinCalculator returns a calculator for bins bins.
func NewBinCalculator(bins int) (BinCalculator, error) {
	if bins <= 0 || bins > MaxBins || bins&(bins-1) != 0 {
		return BinCalculator{}, errors.Errorf("bins must be a power of two between 1 and %d, got %d", MaxBins, bins)
	}
	return BinCalculator{
		bins:      bins,
		shiftBits: uint(binBits - (bits.Len(uint(bins)) - 1)),
	}, nil
}

// Bins returns the number of bins.
func (c BinCalculator) Bins() int {
	return c.bins
}

// BinFromPubkey returns the bin of key.
func (c BinCalculator) BinFromPubkey(key *acct.Pubkey) int {
	prefix := uint(key[0])<<16 | uint(key[1])<<8 | uint(key[2])
	return int(prefix >> c.shiftBits)
}

// Map is a disk backed map from key to slot list, split into independent bins.
type Map[T any] struct {
	BinCalculator

	bins      []*Bucket[T]
	drives    []string
	tempDrive string
	stats     *Stats
}

// NewMap creates the bins of a map. No files are created until keys are
// written.
func NewMap[T any](cfg Config) (*Map[T], error) {
	calc, err := NewBinCalculator(cfg.MaxBuckets)
	if err != nil {
		return nil, err
	}

	m := &Map[T]{
		BinCalculator: calc,
		drives:        cfg.Drives,
		stats:         &Stats{},
	}
	if len(m.drives) == 0 {
		dir, err := fs.MkdirTemp(os.TempDir(), "accounts_index")
		if err != nil {
			return nil, errors.Wrap(err, "create temporary bucket drive")
		}
		m.tempDrive = dir
		m.drives = []string{dir}
	}
	for _, d := range m.drives {
		if err := fs.MkdirAll(d, fs.DefaultModes.Dir); err != nil {
			m.removeTempDrive()
			return nil, errors.Wrapf(err, "create bucket drive %v", d)
		}
	}

	m.bins = make([]*Bucket[T], cfg.MaxBuckets)
	for i := range m.bins {
		b, err := NewBucket[T](m.drives, cfg.MaxSearch, cfg.IndexCapacityPow2, cfg.DataCapacityPow2, m.stats)
		if err != nil {
			m.removeTempDrive()
			return nil, err
		}
		m.bins[i] = b
	}

	log.Debugf("bucket map with %d bins on %v", cfg.MaxBuckets, m.drives)
	return m, nil
}

// Bin returns bin ix.
func (m *Map[T]) Bin(ix int) *Bucket[T] {
	return m.bins[ix]
}

func (m *Map[T]) binOf(key *acct.Pubkey) *Bucket[T] {
	return m.bins[m.BinFromPubkey(key)]
}

// Drives returns the directories holding the bucket files.
func (m *Map[T]) Drives() []string {
	return m.drives
}

// Stats returns the counters shared by all bins.
func (m *Map[T]) Stats() *Stats {
	return m.stats
}

func (m *Map[T]) Read(key acct.Pubkey) ([]T, acct.RefCount, bool) {
	return m.binOf(&key).Read(key)
}

func (m *Map[T]) Update(key acct.Pubkey, slots []T, refCount acct.RefCount) error {
	return m.binOf(&key).Update(key, slots, refCount)
}

func (m *Map[T]) Delete(key acct.Pubkey) bool {
	return m.binOf(&key).Delete(key)
}

func (m *Map[T]) Addref(key acct.Pubkey) (acct.RefCount, bool) {
	return m.binOf(&key).Addref(key)
}

func (m *Map[T]) Unref(key acct.Pubkey) (acct.RefCount, bool) {
	return m.binOf(&key).Unref(key)
}

// Len returns the number of keys over all bins.
func (m *Map[T]) Len() int {
	n := 0
	for _, b := range m.bins {
		n += b.Len()
	}
	return n
}

// Keys returns the keys of all bins, bin by bin.
func (m *Map[T]) Keys() []acct.Pubkey {
	var keys []acct.Pubkey
	for _, b := range m.bins {
		keys = append(keys, b.Keys()...)
	}
	return keys
}

// Close deletes all bucket files, and the drive if it was created by NewMap.
func (m *Map[T]) Close() error {
	var firstErr error
	for _, b := range m.bins {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := m.removeTempDrive(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (m *Map[T]) removeTempDrive() error {
	if m.tempDrive == "" {
		return nil
	}
	err := fs.RemoveAll(m.tempDrive)
	m.tempDrive = ""
	return errors.Wrap(err, "remove temporary bucket drive")
}
