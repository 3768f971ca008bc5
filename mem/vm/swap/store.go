// Package swap implements the backing store that evicted pages are written
// to.
package swap

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"github.com/sarchlab/smartvm/mem/vm"
)

// Stats summarizes the use of a swap store.
type Stats struct {
	Path       string `json:"path"`
	SlotsInUse int    `json:"slots_in_use"`
	HighWater  int64  `json:"high_water"`
	Writes     uint64 `json:"writes"`
	Reads      uint64 `json:"reads"`
}

// Store is a swap file holding raw pages at slot * PageSize.
//
// A single mutex covers slot allocation and the I/O, so that a slot handed out
// is never observed before its content is written.
type Store struct {
	sync.Mutex

	path       string
	file       *os.File
	fileLock   *flock.Flock
	slots      SlotAllocator
	refs       map[int64]int
	maxRetries uint64
	backoff    func() backoff.BackOff

	writes uint64
	reads  uint64
	closed bool
}

// Path returns the location of the swap file.
func (s *Store) Path() string {
	return s.path
}

// WritePage writes a page to swap. An offset of vm.NoSwapOffset, or one that
// is shared with another address space, gets a fresh slot. It returns the
// offset the page now lives at.
func (s *Store) WritePage(offset int64, page []byte) (int64, error) {
	if len(page) != vm.PageSize {
		log.Panicf("writing %d bytes to a swap slot", len(page))
	}

	s.Lock()
	defer s.Unlock()

	if err := s.open(); err != nil {
		return vm.NoSwapOffset, err
	}

	target := offset
	fresh := offset == vm.NoSwapOffset || s.refs[offset] > 1
	if fresh {
		slot, ok := s.slots.Allocate()
		if !ok {
			return vm.NoSwapOffset, fmt.Errorf("%w: swap file %s is full",
				vm.ErrNoMemory, s.path)
		}

		target = slot * vm.PageSize
	} else {
		s.mustBeLive(offset)
	}

	err := s.retry(func() error {
		_, err := s.file.WriteAt(page, target)
		return err
	})
	if err != nil {
		if fresh {
			s.slots.Free(target / vm.PageSize)
		}

		return vm.NoSwapOffset, fmt.Errorf("%w: writing swap offset %d: %v",
			vm.ErrNoMemory, target, err)
	}

	if fresh {
		if offset != vm.NoSwapOffset {
			s.release(offset)
		}

		s.refs[target] = 1
	}

	s.writes++

	return target, nil
}

// ReadPage reads the page stored at offset into buf.
func (s *Store) ReadPage(offset int64, buf []byte) error {
	if len(buf) != vm.PageSize {
		log.Panicf("reading a swap slot into %d bytes", len(buf))
	}

	s.Lock()
	defer s.Unlock()

	s.mustBeLive(offset)

	if err := s.open(); err != nil {
		return err
	}

	err := s.retry(func() error {
		_, err := s.file.ReadAt(buf, offset)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: reading swap offset %d: %v",
			vm.ErrNoMemory, offset, err)
	}

	s.reads++

	return nil
}

// Share records that one more address space refers to the slot at offset.
func (s *Store) Share(offset int64) {
	s.Lock()
	defer s.Unlock()

	s.mustBeLive(offset)
	s.refs[offset]++
}

// Shared tells if more than one address space refers to the slot.
func (s *Store) Shared(offset int64) bool {
	s.Lock()
	defer s.Unlock()

	return s.refs[offset] > 1
}

// Release drops one reference to the slot at offset. The slot goes back to the
// allocator when nobody refers to it.
func (s *Store) Release(offset int64) {
	s.Lock()
	defer s.Unlock()

	s.mustBeLive(offset)
	s.release(offset)
}

func (s *Store) release(offset int64) {
	s.refs[offset]--
	if s.refs[offset] == 0 {
		delete(s.refs, offset)
		s.slots.Free(offset / vm.PageSize)
	}
}

// InUse returns the number of live slots.
func (s *Store) InUse() int {
	s.Lock()
	defer s.Unlock()

	return len(s.refs)
}

// Stats returns usage counters.
func (s *Store) Stats() Stats {
	s.Lock()
	defer s.Unlock()

	return Stats{
		Path:       s.path,
		SlotsInUse: len(s.refs),
		HighWater:  s.slots.HighWater(),
		Writes:     s.writes,
		Reads:      s.reads,
	}
}

// Close closes the swap file and drops its lock. The file itself is kept.
func (s *Store) Close() error {
	s.Lock()
	defer s.Unlock()

	s.closed = true

	if s.file == nil {
		return nil
	}

	err := s.file.Close()
	s.file = nil

	if unlockErr := s.fileLock.Unlock(); err == nil {
		err = unlockErr
	}

	return err
}

func (s *Store) open() error {
	if s.closed {
		return fmt.Errorf("swap file %s is closed", s.path)
	}

	if s.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating swap directory: %w", err)
	}

	s.fileLock = flock.NewFlock(s.path + ".lock")

	locked, err := s.fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("locking swap file %s: %w", s.path, err)
	}

	if !locked {
		return fmt.Errorf("swap file %s is used by another process", s.path)
	}

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		_ = s.fileLock.Unlock()
		return fmt.Errorf("opening swap file: %w", err)
	}

	s.file = f

	return nil
}

func (s *Store) retry(op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil || isTransient(err) {
			return err
		}

		return backoff.Permanent(err)
	}, backoff.WithMaxRetries(s.backoff(), s.maxRetries))
}

func isTransient(err error) bool {
	return errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN)
}

func (s *Store) mustBeLive(offset int64) {
	if offset < 0 || offset%vm.PageSize != 0 {
		log.Panicf("invalid swap offset %d", offset)
	}

	if s.refs[offset] == 0 {
		log.Panicf("swap offset %d is not in use", offset)
	}
}
