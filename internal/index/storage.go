package index

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/skyline93/acctidx/internal/acct"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of an AccountsIndexStorage.
type State int32

const (
	Uninitialized State = iota
	Running
	ShuttingDown
	Joined
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting down"
	case Joined:
		return "joined"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// AccountsIndexStorage ties the in-memory indexes of all bins to their disk
// buckets and runs the background goroutines that serve them. It must be
// closed to stop the goroutines and delete the bucket files.
type AccountsIndexStorage[T any] struct {
	// InMem holds the in-memory index of every bin.
	InMem []*InMemAccountsIndex[T]

	storage *BucketMapHolder[T]
	exit    atomic.Bool
	state   atomic.Int32
	wait    *WaitableCondvar
	workers *errgroup.Group

	closeOnce sync.Once
	closeErr  error
}

// NewAccountsIndexStorage creates the index for bins bins and starts
// cfg.FlushThreads background goroutines. A nil cfg uses the defaults.
func NewAccountsIndexStorage[T any](bins int, cfg *Config) (*AccountsIndexStorage[T], error) {
	cfg = resolveConfig(cfg)

	storage, err := NewBucketMapHolder[T](bins, cfg)
	if err != nil {
		return nil, err
	}

	s := &AccountsIndexStorage[T]{
		InMem:   make([]*InMemAccountsIndex[T], bins),
		storage: storage,
		wait:    NewWaitableCondvar(),
		workers: &errgroup.Group{},
	}
	for bin := range s.InMem {
		s.InMem[bin] = NewInMemAccountsIndex[T](storage, bin)
	}

	s.state.Store(int32(Running))
	for i := 0; i < cfg.FlushThreads; i++ {
		s.runWorker(fmt.Sprintf("accounts index %d", i), s.background)
	}

	log.WithFields(log.Fields{
		"bins":    bins,
		"threads": cfg.FlushThreads,
		"drives":  storage.Drives(),
	}).Info("accounts index started")
	return s, nil
}

// runWorker runs fn in the worker group. A panic in fn is logged and
// returned from Close as an error, so joining the workers always completes.
func (s *AccountsIndexStorage[T]) runWorker(name string, fn func()) {
	s.workers.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"worker": name,
					"panic":  r,
				}).Warnf("background worker panicked\n%s", debug.Stack())
				err = errors.Errorf("%v: panic: %v", name, r)
			}
		}()
		fn()
		return nil
	})
}

// background reports stats every interval until exit is set.
func (s *AccountsIndexStorage[T]) background() {
	interval := s.storage.StatsInterval()
	for {
		s.wait.WaitTimeout(interval, s.exit.Load)
		if s.exit.Load() {
			return
		}
		s.storage.ReportStats()
	}
}

// Storage returns the state shared by all bins.
func (s *AccountsIndexStorage[T]) Storage() *BucketMapHolder[T] {
	return s.storage
}

// State returns the lifecycle state.
func (s *AccountsIndexStorage[T]) State() State {
	return State(s.state.Load())
}

// Bins returns the number of bins.
func (s *AccountsIndexStorage[T]) Bins() int {
	return len(s.InMem)
}

// Bin returns the in-memory index of the bin key belongs to.
func (s *AccountsIndexStorage[T]) Bin(key *acct.Pubkey) *InMemAccountsIndex[T] {
	return s.InMem[s.storage.BinFromPubkey(key)]
}

func (s *AccountsIndexStorage[T]) Get(key acct.Pubkey) ([]T, acct.RefCount, bool) {
	return s.Bin(&key).Get(key)
}

func (s *AccountsIndexStorage[T]) Insert(key acct.Pubkey, slots []T, refCount acct.RefCount) error {
	return s.Bin(&key).Insert(key, slots, refCount)
}

func (s *AccountsIndexStorage[T]) Remove(key acct.Pubkey) bool {
	return s.Bin(&key).Remove(key)
}

// Len returns the number of keys over all bins.
func (s *AccountsIndexStorage[T]) Len() int {
	n := 0
	for _, idx := range s.InMem {
		n += idx.Len()
	}
	return n
}

// Close stops the background goroutines, waits for them and deletes the
// bucket files. It returns the first error of a worker or of removing the
// files. Calling Close again returns the same error.
func (s *AccountsIndexStorage[T]) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(ShuttingDown))
		s.exit.Store(true)
		s.wait.NotifyAll()

		err := s.workers.Wait()
		s.state.Store(int32(Joined))
		if err != nil {
			log.WithError(err).Warn("accounts index background worker failed")
		}

		if cerr := s.storage.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close disk buckets")
		}
		s.closeErr = err
		log.Info("accounts index stopped")
	})
	return s.closeErr
}
