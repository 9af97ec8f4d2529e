package index

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/skyline93/acctidx/internal/bucket"
)

// HolderStats counts accounts index activity over all bins. Every instance
// registers its gauges in its own registry.
type HolderStats struct {
	Gets      atomic.Uint64
	GetMisses atomic.Uint64
	Inserts   atomic.Uint64
	Deletes   atomic.Uint64
	Reports   atomic.Uint64

	countInBins []atomic.Int64

	registry    *prometheus.Registry
	gauges      map[string]prometheus.Gauge
	diskEntries *prometheus.GaugeVec
	diskBytes   *prometheus.GaugeVec
	diskResizes *prometheus.GaugeVec
}

func newHolderStats(bins int) *HolderStats {
	s := &HolderStats{
		countInBins: make([]atomic.Int64, bins),
		registry:    prometheus.NewRegistry(),
		gauges:      make(map[string]prometheus.Gauge),
	}
	for name, help := range map[string]string{
		"gets":         "Lookups of keys.",
		"get_misses":   "Lookups not served from memory.",
		"inserts":      "Keys inserted or updated.",
		"deletes":      "Keys removed.",
		"items_in_mem": "Keys held in memory over all bins.",
		"bins":         "Number of bins.",
	} {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "accounts_index",
			Name:      name,
			Help:      help,
		})
		s.gauges[name] = g
		s.registry.MustRegister(g)
	}
	s.diskEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "accounts_index",
		Subsystem: "disk",
		Name:      "entries",
		Help:      "Occupied bucket elements.",
	}, []string{"bucket"})
	s.diskBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "accounts_index",
		Subsystem: "disk",
		Name:      "file_bytes",
		Help:      "Size of the bucket files.",
	}, []string{"bucket"})
	s.diskResizes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "accounts_index",
		Subsystem: "disk",
		Name:      "resizes",
		Help:      "Bucket growths.",
	}, []string{"bucket"})
	s.registry.MustRegister(s.diskEntries, s.diskBytes, s.diskResizes)
	s.gauges["bins"].Set(float64(bins))
	return s
}

// Registry returns the registry holding the gauges of s.
func (s *HolderStats) Registry() *prometheus.Registry {
	return s.registry
}

// InsertOrDeleteMemCount adjusts the in-memory key count of bin.
func (s *HolderStats) InsertOrDeleteMemCount(bin int, insert bool) {
	if insert {
		s.countInBins[bin].Add(1)
	} else {
		s.countInBins[bin].Add(-1)
	}
}

// CountInMem returns the number of keys held in memory over all bins.
func (s *HolderStats) CountInMem() int64 {
	var n int64
	for i := range s.countInBins {
		n += s.countInBins[i].Load()
	}
	return n
}

// ReportStats publishes the counters as gauges and logs them. disk is nil
// when the index has no disk buckets.
func (s *HolderStats) ReportStats(disk *bucket.Stats) {
	s.Reports.Add(1)

	fields := log.Fields{
		"gets":         s.Gets.Load(),
		"get_misses":   s.GetMisses.Load(),
		"inserts":      s.Inserts.Load(),
		"deletes":      s.Deletes.Load(),
		"items_in_mem": s.CountInMem(),
	}
	s.gauges["gets"].Set(float64(s.Gets.Load()))
	s.gauges["get_misses"].Set(float64(s.GetMisses.Load()))
	s.gauges["inserts"].Set(float64(s.Inserts.Load()))
	s.gauges["deletes"].Set(float64(s.Deletes.Load()))
	s.gauges["items_in_mem"].Set(float64(s.CountInMem()))

	if disk != nil {
		for name, b := range map[string]*bucket.BucketStats{"index": &disk.Index, "data": &disk.Data} {
			s.diskEntries.WithLabelValues(name).Set(float64(b.Entries.Load()))
			s.diskBytes.WithLabelValues(name).Set(float64(b.FileBytes.Load()))
			s.diskResizes.WithLabelValues(name).Set(float64(b.Resizes.Load()))
			fields[name+"_entries"] = b.Entries.Load()
			fields[name+"_file_bytes"] = b.FileBytes.Load()
			fields[name+"_resizes"] = b.Resizes.Load()
		}
	}

	log.WithFields(fields).Info("accounts index stats")
}
