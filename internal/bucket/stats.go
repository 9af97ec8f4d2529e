package bucket

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
)

// BucketStats accumulates counters for every storage of one kind in a Map.
type BucketStats struct {
	Resizes   atomic.Uint64
	ResizeUs  atomic.Uint64
	MmapUs    atomic.Uint64
	Files     atomic.Int64
	FileBytes atomic.Int64
	Entries   atomic.Int64
}

// Stats holds the counters of the index buckets and data buckets of a Map.
type Stats struct {
	Index BucketStats
	Data  BucketStats
}

func (s *Stats) String() string {
	t := table.NewWriter()
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"bucket", "entries", "files", "bytes", "resizes", "resize time", "mmap time"})
	for _, r := range []struct {
		name string
		s    *BucketStats
	}{
		{"index", &s.Index},
		{"data", &s.Data},
	} {
		t.AppendRow(table.Row{
			r.name,
			r.s.Entries.Load(),
			r.s.Files.Load(),
			r.s.FileBytes.Load(),
			r.s.Resizes.Load(),
			fmt.Sprint(time.Duration(r.s.ResizeUs.Load()) * time.Microsecond),
			fmt.Sprint(time.Duration(r.s.MmapUs.Load()) * time.Microsecond),
		})
	}
	return t.Render()
}
