package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/skyline93/acctidx/internal/acct"
	"github.com/skyline93/acctidx/internal/index"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var cmdLoad = &cobra.Command{
	Use:   "load [flags]",
	Short: "Fill an accounts index with synthetic accounts",
	Long: `
The "load" command creates an accounts index, inserts synthetic accounts into
it with one goroutine per bin, reads every account back and prints the bucket
statistics. The bucket files are deleted when the command exits.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoad(cmd.Context(), loadOptions)
	},
}

// LoadOptions bundles all options for the load command.
type LoadOptions struct {
	Bins     int
	Accounts int
	Slots    int
	Drives   []string
	Threads  int
	InMem    bool
	Keys     []string
}

var loadOptions LoadOptions

func init() {
	cmdRoot.AddCommand(cmdLoad)

	f := cmdLoad.Flags()
	f.IntVar(&loadOptions.Bins, "bins", 16, "number of bins, a power of two")
	f.IntVar(&loadOptions.Accounts, "accounts", 10000, "number of accounts to insert")
	f.IntVar(&loadOptions.Slots, "slots", 4, "largest slot list length; account i gets i % (slots+1) slots")
	f.StringSliceVar(&loadOptions.Drives, "drive", nil, "directory for bucket files (can be given multiple times, default: $ACCOUNTS_INDEX_DRIVES or a temporary directory)")
	f.IntVar(&loadOptions.Threads, "threads", 0, "background goroutines (default: $ACCOUNTS_INDEX_THREADS or 1)")
	f.BoolVar(&loadOptions.InMem, "in-mem", false, "keep the index in memory only")
	f.StringSliceVar(&loadOptions.Keys, "key", nil, "print the slot list of the account with hex `key` after loading (can be given multiple times)")
}

func accountKey(i int) acct.Pubkey {
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], uint64(i))
	return acct.PubkeyFromSeed(seed[:])
}

func accountSlots(i, maxSlots int) []acct.SlotInfo {
	slots := make([]acct.SlotInfo, i%(maxSlots+1))
	for j := range slots {
		slots[j] = acct.SlotInfo{
			Slot:    acct.Slot(i + j),
			StoreID: uint32(j),
			Offset:  uint32(i),
		}
	}
	return slots
}

func equalSlots(a, b []acct.SlotInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func runLoad(ctx context.Context, opts LoadOptions) error {
	if opts.Accounts < 0 || opts.Slots < 0 {
		return errors.New("accounts and slots must not be negative")
	}

	cfg := index.NewConfig()
	cfg.Drives = opts.Drives
	cfg.DisableDisk = opts.InMem
	if opts.Threads > 0 {
		cfg.FlushThreads = opts.Threads
	}

	s, err := index.NewAccountsIndexStorage[acct.SlotInfo](opts.Bins, &cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.WithError(err).Warn("close accounts index")
		}
	}()

	// accounts of each bin, so every bin is loaded by its own goroutine
	perBin := make([][]int, s.Bins())
	for i := 0; i < opts.Accounts; i++ {
		k := accountKey(i)
		bin := s.Storage().BinFromPubkey(&k)
		perBin[bin] = append(perBin[bin], i)
	}

	start := time.Now()
	wg, wgCtx := errgroup.WithContext(ctx)
	for bin, accounts := range perBin {
		idx := s.InMem[bin]
		accounts := accounts
		wg.Go(func() error {
			for _, i := range accounts {
				if wgCtx.Err() != nil {
					return wgCtx.Err()
				}
				if err := idx.Insert(accountKey(i), accountSlots(i, opts.Slots), acct.RefCount(1)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return err
	}
	inserted := time.Since(start)

	start = time.Now()
	wg, wgCtx = errgroup.WithContext(ctx)
	for bin, accounts := range perBin {
		// the in-memory index holds every inserted account, so check the
		// disk buckets directly when there are any
		read := s.InMem[bin].Get
		if disk := s.Storage().Disk(); disk != nil {
			read = disk.Bin(bin).Read
		}
		accounts := accounts
		wg.Go(func() error {
			for _, i := range accounts {
				if wgCtx.Err() != nil {
					return wgCtx.Err()
				}
				k := accountKey(i)
				slots, rc, ok := read(k)
				if !ok {
					return errors.Errorf("account %d (%v) not found", i, k.Str())
				}
				if want := accountSlots(i, opts.Slots); rc != 1 || !equalSlots(slots, want) {
					return errors.Errorf("account %d (%v): got %v ref count %d, want %v ref count 1", i, k.Str(), slots, rc, want)
				}
			}
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return err
	}
	verified := time.Since(start)

	if n := s.Len(); n != opts.Accounts {
		return errors.Errorf("index holds %d accounts, want %d", n, opts.Accounts)
	}

	fmt.Printf("inserted %d accounts into %d bins in %v, verified in %v\n", opts.Accounts, s.Bins(), inserted, verified)
	if disk := s.Storage().Disk(); disk != nil {
		fmt.Printf("bucket files in %v\n", disk.Drives())
		fmt.Println(disk.Stats())
	}
	if err := lookupKeys(os.Stdout, s, opts.Keys); err != nil {
		return err
	}
	s.Storage().ReportStats()
	return nil
}

// lookupKeys prints the slot list of every key in keys.
func lookupKeys(w io.Writer, s *index.AccountsIndexStorage[acct.SlotInfo], keys []string) error {
	for _, str := range keys {
		k, err := acct.ParsePubkey(str)
		if err != nil {
			return err
		}
		slots, rc, ok := s.Get(k)
		if !ok {
			fmt.Fprintf(w, "%v: not found\n", k.Str())
			continue
		}
		fmt.Fprintf(w, "%v: ref count %d\n", k.Str(), rc)
		for _, slot := range slots {
			fmt.Fprintf(w, "  %v\n", slot)
		}
	}
	return nil
}
