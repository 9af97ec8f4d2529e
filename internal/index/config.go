package index

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/skyline93/acctidx/internal/bucket"
)

const (
	DefaultFlushThreads  = 1
	DefaultStatsInterval = 10 * time.Second
)

// Config holds the options of an AccountsIndexStorage. Changing a Config
// after it was used has no effect; it is copied on construction.
//
// Zero fields take their value from the environment, if set there, or from
// the package defaults. Non-zero fields always win over the environment.
type Config struct {
	// FlushThreads is the number of background goroutines. Defaults to env
	// ACCOUNTS_INDEX_THREADS or 1.
	FlushThreads int
	// Drives are the directories for bucket files. Defaults to env
	// ACCOUNTS_INDEX_DRIVES (a path list) or a temporary directory.
	Drives []string
	// DisableDisk keeps the index in memory only.
	DisableDisk bool
	// MaxSearch, IndexCapacityPow2 and DataCapacityPow2 are passed on to the
	// bucket map.
	MaxSearch         uint8
	IndexCapacityPow2 uint8
	DataCapacityPow2  uint8
	// StatsInterval is how long background goroutines sleep between stats
	// reports. Defaults to env ACCOUNTS_INDEX_STATS_INTERVAL or 10s.
	StatsInterval time.Duration
}

// NewConfig returns a new config with the bucket defaults applied. Thread
// count, drives and stats interval are left zero so they can come from the
// environment.
func NewConfig() Config {
	return Config{
		MaxSearch:         bucket.DefaultMaxSearch,
		IndexCapacityPow2: bucket.DefaultIndexCapacityPow2,
		DataCapacityPow2:  bucket.DefaultDataCapacityPow2,
	}
}

// envConfig returns the defaults with the environment applied.
func envConfig() *Config {
	cfg := NewConfig()
	cfg.FlushThreads = DefaultFlushThreads
	cfg.StatsInterval = DefaultStatsInterval
	if env := os.Getenv("ACCOUNTS_INDEX_THREADS"); env != "" {
		if val, err := strconv.Atoi(env); err == nil && val > 0 {
			cfg.FlushThreads = val
		}
	}
	if env := os.Getenv("ACCOUNTS_INDEX_DRIVES"); env != "" {
		cfg.Drives = filepath.SplitList(env)
	}
	if env := os.Getenv("ACCOUNTS_INDEX_STATS_INTERVAL"); env != "" {
		if val, err := time.ParseDuration(env); err == nil && val > 0 {
			cfg.StatsInterval = val
		}
	}
	return &cfg
}

func resolveConfig(c *Config) *Config {
	cfg := envConfig()
	if c == nil {
		return cfg
	}
	if c.FlushThreads > 0 {
		cfg.FlushThreads = c.FlushThreads
	}
	if len(c.Drives) > 0 {
		cfg.Drives = append([]string(nil), c.Drives...)
	}
	cfg.DisableDisk = c.DisableDisk
	if c.MaxSearch > 0 {
		cfg.MaxSearch = c.MaxSearch
	}
	if c.IndexCapacityPow2 > 0 {
		cfg.IndexCapacityPow2 = c.IndexCapacityPow2
	}
	if c.DataCapacityPow2 > 0 {
		cfg.DataCapacityPow2 = c.DataCapacityPow2
	}
	if c.StatsInterval > 0 {
		cfg.StatsInterval = c.StatsInterval
	}
	return cfg
}
