package mmu

import (
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/sarchlab/smartvm/mem/vm"
	"github.com/sarchlab/smartvm/mem/vm/coremap"
	"github.com/sarchlab/smartvm/mem/vm/tlb"
)

const (
	victimSpins    = 64
	victimAttempts = 4096
)

// ChooseVictim selects the next resident user frame to reclaim, scanning
// circularly from the victim cursor, and marks it as being evicted. It panics
// if no frame can ever be reclaimed.
func (s *System) ChooseVictim() vm.FrameIndex {
	idx, err := s.selectVictim()
	if err != nil {
		log.Panicf("out of memory: %v", err)
	}

	return idx
}

func (s *System) selectVictim() (vm.FrameIndex, error) {
	for attempt := 0; attempt < victimAttempts; attempt++ {
		s.cursorLock.Lock()
		start := s.cursor
		s.cursorLock.Unlock()

		idx, busy := s.frames.SelectVictim(start)
		if idx.Valid() {
			s.cursorLock.Lock()
			s.cursor = (int(idx) + s.stride) % s.frames.NumFrames()
			s.cursorLock.Unlock()

			return idx, nil
		}

		if !busy {
			break
		}

		if attempt < victimSpins {
			runtime.Gosched()
		} else {
			time.Sleep(10 * time.Microsecond)
		}
	}

	return vm.NoFrame, fmt.Errorf("%w: no frame can be evicted", vm.ErrNoMemory)
}

// SwapOut reclaims a frame. With allocate set the victim is chosen by
// ChooseVictim's policy and a missing victim is reported as an error.
// Otherwise idx must have been marked with BeginEvict. The frame is Free when
// SwapOut returns without error.
func (s *System) SwapOut(idx vm.FrameIndex, allocate bool) (vm.FrameIndex, error) {
	if allocate {
		var err error

		idx, err = s.selectVictim()
		if err != nil {
			return vm.NoFrame, err
		}
	}

	if err := s.Evict(idx); err != nil {
		return vm.NoFrame, err
	}

	return idx, nil
}

// Evict reclaims a frame that is marked as being evicted. Every cached
// translation of the page is dropped before the content is written to swap.
// On failure the page stays resident.
func (s *System) Evict(idx vm.FrameIndex) error {
	f := s.frames.Frame(idx)
	if !f.Evicting() {
		log.Panicf("evicting frame %d that was not selected", idx)
	}

	owner := f.Owner
	event := vm.EvictEvent{
		Frame: idx,
		ASID:  owner.ASID(),
		VPage: f.VPage,
	}

	var shootdown vm.ShootdownEvent

	err := owner.UpdatePage(f.VPage, func(d *vm.Descriptor) error {
		if d.Frame != idx || !d.Resident() {
			log.Panicf("frame %d is not the frame of page 0x%x", idx, f.VPage)
		}

		shootdown = vm.ShootdownEvent{
			ASID:  owner.ASID(),
			VPage: f.VPage,
			Invalidated: s.tlbs.Broadcast(tlb.Shootdown{
				ASID:  owner.ASID(),
				VPage: f.VPage,
			}),
		}

		offset := d.SwapOffset
		event.WasDirty = s.frames.Frame(idx).State == coremap.StateDirty

		if event.WasDirty || offset == vm.NoSwapOffset {
			written, err := s.swap.WritePage(offset, s.frames.FrameBytes(idx))
			if err != nil {
				s.frames.AbortEvict(idx)
				return err
			}

			offset = written
			s.counters.writeBacks.Add(1)
		}

		d.SwapOffset = offset
		d.Frame = vm.NoFrame
		d.Residency = vm.InSwap
		s.frames.FinishEvict(idx)

		event.SwapOffset = offset

		return nil
	})
	if err != nil {
		if s.frames.Frame(idx).Evicting() {
			s.frames.AbortEvict(idx)
		}

		return fmt.Errorf("evicting frame %d: %w", idx, err)
	}

	s.counters.shootdowns.Add(1)
	s.counters.evictions.Add(1)

	s.InvokeHook(vm.HookCtx{
		Domain: s,
		Pos:    vm.HookPosShootdown,
		Item:   shootdown,
	})
	s.InvokeHook(vm.HookCtx{
		Domain: s,
		Pos:    vm.HookPosEvict,
		Item:   event,
	})

	return nil
}
