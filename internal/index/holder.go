package index

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/skyline93/acctidx/internal/bucket"
)

// BucketMapHolder owns the state shared by all bins of an accounts index:
// the bin calculator, the disk buckets and the counters.
type BucketMapHolder[T any] struct {
	bucket.BinCalculator

	Stats *HolderStats

	disk          *bucket.Map[T]
	statsInterval time.Duration
}

// NewBucketMapHolder creates the shared state for bins bins. The disk buckets
// are left out if cfg.DisableDisk is set.
func NewBucketMapHolder[T any](bins int, cfg *Config) (*BucketMapHolder[T], error) {
	cfg = resolveConfig(cfg)

	calc, err := bucket.NewBinCalculator(bins)
	if err != nil {
		return nil, err
	}

	h := &BucketMapHolder[T]{
		BinCalculator: calc,
		Stats:         newHolderStats(bins),
		statsInterval: cfg.StatsInterval,
	}

	if !cfg.DisableDisk {
		mc := bucket.NewConfig(bins)
		mc.Drives = cfg.Drives
		mc.MaxSearch = cfg.MaxSearch
		if cfg.IndexCapacityPow2 > 0 {
			mc.IndexCapacityPow2 = cfg.IndexCapacityPow2
		}
		if cfg.DataCapacityPow2 > 0 {
			mc.DataCapacityPow2 = cfg.DataCapacityPow2
		}
		h.disk, err = bucket.NewMap[T](mc)
		if err != nil {
			return nil, errors.Wrap(err, "create disk buckets")
		}
	}

	log.WithFields(log.Fields{
		"bins":   bins,
		"disk":   h.disk != nil,
		"drives": h.Drives(),
	}).Debug("accounts index holder created")
	return h, nil
}

// Disk returns the disk buckets, or nil if the index is memory only.
func (h *BucketMapHolder[T]) Disk() *bucket.Map[T] {
	return h.disk
}

// Drives returns the directories of the disk buckets.
func (h *BucketMapHolder[T]) Drives() []string {
	if h.disk == nil {
		return nil
	}
	return h.disk.Drives()
}

// StatsInterval returns how often background goroutines report stats.
func (h *BucketMapHolder[T]) StatsInterval() time.Duration {
	return h.statsInterval
}

// ReportStats publishes the current counters.
func (h *BucketMapHolder[T]) ReportStats() {
	var disk *bucket.Stats
	if h.disk != nil {
		disk = h.disk.Stats()
	}
	h.Stats.ReportStats(disk)
}

// Close releases the disk buckets.
func (h *BucketMapHolder[T]) Close() error {
	if h.disk == nil {
		return nil
	}
	err := h.disk.Close()
	h.disk = nil
	return err
}
