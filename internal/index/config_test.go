package index

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/skyline93/acctidx/internal/bucket"
	"github.com/stretchr/testify/assert"
)

func TestResolveConfigDefaults(t *testing.T) {
	t.Setenv("ACCOUNTS_INDEX_THREADS", "")
	t.Setenv("ACCOUNTS_INDEX_DRIVES", "")
	t.Setenv("ACCOUNTS_INDEX_STATS_INTERVAL", "")

	cfg := resolveConfig(nil)
	assert.Equal(t, DefaultFlushThreads, cfg.FlushThreads)
	assert.Equal(t, DefaultStatsInterval, cfg.StatsInterval)
	assert.Equal(t, uint8(bucket.DefaultMaxSearch), cfg.MaxSearch)
	assert.Empty(t, cfg.Drives)

	cfg = resolveConfig(&Config{})
	assert.Equal(t, DefaultFlushThreads, cfg.FlushThreads)
	assert.Equal(t, DefaultStatsInterval, cfg.StatsInterval)
	assert.Equal(t, uint8(bucket.DefaultMaxSearch), cfg.MaxSearch)
}

func TestResolveConfigEnv(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	t.Setenv("ACCOUNTS_INDEX_THREADS", "3")
	t.Setenv("ACCOUNTS_INDEX_DRIVES", a+string(filepath.ListSeparator)+b)
	t.Setenv("ACCOUNTS_INDEX_STATS_INTERVAL", "250ms")

	cfg := resolveConfig(nil)
	assert.Equal(t, 3, cfg.FlushThreads)
	assert.Equal(t, []string{a, b}, cfg.Drives)
	assert.Equal(t, 250*time.Millisecond, cfg.StatsInterval)

	// explicit drives win over the environment
	c := NewConfig()
	c.Drives = []string{"/explicit"}
	assert.Equal(t, []string{"/explicit"}, resolveConfig(&c).Drives)
}

func TestResolveConfigBadEnv(t *testing.T) {
	t.Setenv("ACCOUNTS_INDEX_THREADS", "many")
	t.Setenv("ACCOUNTS_INDEX_DRIVES", "")
	t.Setenv("ACCOUNTS_INDEX_STATS_INTERVAL", "soon")

	c := NewConfig()
	c.FlushThreads = 2
	cfg := resolveConfig(&c)
	assert.Equal(t, 2, cfg.FlushThreads)
	assert.Equal(t, DefaultStatsInterval, cfg.StatsInterval)

	t.Setenv("ACCOUNTS_INDEX_THREADS", "-3")
	assert.Equal(t, DefaultFlushThreads, resolveConfig(nil).FlushThreads)
}

func TestResolveConfigExplicitWins(t *testing.T) {
	t.Setenv("ACCOUNTS_INDEX_THREADS", "1")
	t.Setenv("ACCOUNTS_INDEX_DRIVES", "/from/env")
	t.Setenv("ACCOUNTS_INDEX_STATS_INTERVAL", "1m")

	c := NewConfig()
	c.FlushThreads = 4
	c.StatsInterval = time.Second
	cfg := resolveConfig(&c)
	assert.Equal(t, 4, cfg.FlushThreads)
	assert.Equal(t, time.Second, cfg.StatsInterval)
	assert.Equal(t, []string{"/from/env"}, cfg.Drives)

	// zero fields still come from the environment
	cfg = resolveConfig(&Config{MaxSearch: 3})
	assert.Equal(t, 1, cfg.FlushThreads)
	assert.Equal(t, time.Minute, cfg.StatsInterval)
	assert.Equal(t, uint8(3), cfg.MaxSearch)
	assert.Equal(t, uint8(bucket.DefaultIndexCapacityPow2), cfg.IndexCapacityPow2)
}

func TestResolveConfigCopies(t *testing.T) {
	t.Setenv("ACCOUNTS_INDEX_THREADS", "")
	t.Setenv("ACCOUNTS_INDEX_DRIVES", "")

	c := NewConfig()
	c.Drives = []string{"x"}
	cfg := resolveConfig(&c)
	c.Drives[0] = "y"
	c.FlushThreads = 9
	assert.Equal(t, []string{"x"}, cfg.Drives)
	assert.Equal(t, DefaultFlushThreads, cfg.FlushThreads)
}
