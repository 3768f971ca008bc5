package swap

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
)

// A Builder can build swap stores.
type Builder struct {
	path        string
	maxSlots    int64
	leaking     bool
	maxRetries  uint64
	retryPeriod time.Duration
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		path:        filepath.Join(os.TempDir(), "smartvm.swap"),
		maxRetries:  5,
		retryPeriod: time.Millisecond,
	}
}

// WithDir places the swap file in the given directory.
func (b Builder) WithDir(dir string) Builder {
	b.path = filepath.Join(dir, "smartvm.swap")
	return b
}

// WithPath sets the location of the swap file.
func (b Builder) WithPath(path string) Builder {
	b.path = path
	return b
}

// WithMaxSlots limits the number of pages the swap file can hold. 0 means
// unlimited.
func (b Builder) WithMaxSlots(n int64) Builder {
	b.maxSlots = n
	return b
}

// WithLeakingSlots makes the store never reuse a slot, so the file only grows.
func (b Builder) WithLeakingSlots() Builder {
	b.leaking = true
	return b
}

// WithMaxRetries sets how many times interrupted I/O is retried.
func (b Builder) WithMaxRetries(n uint64) Builder {
	b.maxRetries = n
	return b
}

// WithRetryPeriod sets the first interval between retries.
func (b Builder) WithRetryPeriod(d time.Duration) Builder {
	b.retryPeriod = d
	return b
}

// Build creates the swap store. The file is created on the first write.
func (b Builder) Build() *Store {
	s := &Store{
		path:       b.path,
		refs:       make(map[int64]int),
		maxRetries: b.maxRetries,
	}

	if b.leaking {
		s.slots = NewGrowingAllocator(b.maxSlots)
	} else {
		s.slots = NewReclaimingAllocator(b.maxSlots)
	}

	period := b.retryPeriod
	s.backoff = func() backoff.BackOff {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = period
		eb.MaxInterval = 100 * period

		return eb
	}

	return s
}
