package datarecording

import (
	"sync/atomic"
	"time"

	"github.com/sarchlab/smartvm/mem/vm"
)

// Table names used by the EventRecorder.
const (
	FaultTable     = "faults"
	EvictionTable  = "evictions"
	SwapInTable    = "swap_ins"
	ShootdownTable = "shootdowns"
)

// FaultRow is a recorded page fault.
type FaultRow struct {
	Seq    uint64
	Time   float64
	CPU    int
	ASID   uint32
	VAddr  uint64
	Type   string
	Frame  int64
	SwapIn bool
	Errno  int
}

// EvictionRow is a recorded eviction.
type EvictionRow struct {
	Seq        uint64
	Time       float64
	Frame      int64
	ASID       uint32
	VPage      uint64
	WasDirty   bool
	SwapOffset int64
}

// SwapInRow is a recorded page read from swap.
type SwapInRow struct {
	Seq        uint64
	Time       float64
	Frame      int64
	ASID       uint32
	VPage      uint64
	SwapOffset int64
}

// ShootdownRow is a recorded TLB shootdown.
type ShootdownRow struct {
	Seq         uint64
	Time        float64
	ASID        uint32
	VPage       uint64
	Invalidated int
}

// EventRecorder is a hook that stores VM events as table rows.
type EventRecorder struct {
	recorder DataRecorder
	start    time.Time
	seq      atomic.Uint64
}

// NewEventRecorder creates the event tables and returns a recorder that fills
// them.
func NewEventRecorder(recorder DataRecorder) *EventRecorder {
	recorder.CreateTable(FaultTable, FaultRow{})
	recorder.CreateTable(EvictionTable, EvictionRow{})
	recorder.CreateTable(SwapInTable, SwapInRow{})
	recorder.CreateTable(ShootdownTable, ShootdownRow{})

	return &EventRecorder{
		recorder: recorder,
		start:    time.Now(),
	}
}

// Func records the event carried by the hook context.
func (r *EventRecorder) Func(ctx vm.HookCtx) {
	seq := r.seq.Add(1)
	t := time.Since(r.start).Seconds()

	switch e := ctx.Item.(type) {
	case vm.FaultEvent:
		r.recorder.InsertData(FaultTable, FaultRow{
			Seq:    seq,
			Time:   t,
			CPU:    e.CPU,
			ASID:   uint32(e.ASID),
			VAddr:  e.VAddr,
			Type:   e.Type.String(),
			Frame:  int64(e.Frame),
			SwapIn: e.SwapIn,
			Errno:  int(vm.ErrnoOf(e.Err)),
		})
	case vm.EvictEvent:
		r.recorder.InsertData(EvictionTable, EvictionRow{
			Seq:        seq,
			Time:       t,
			Frame:      int64(e.Frame),
			ASID:       uint32(e.ASID),
			VPage:      e.VPage,
			WasDirty:   e.WasDirty,
			SwapOffset: e.SwapOffset,
		})
	case vm.SwapInEvent:
		r.recorder.InsertData(SwapInTable, SwapInRow{
			Seq:        seq,
			Time:       t,
			Frame:      int64(e.Frame),
			ASID:       uint32(e.ASID),
			VPage:      e.VPage,
			SwapOffset: e.SwapOffset,
		})
	case vm.ShootdownEvent:
		r.recorder.InsertData(ShootdownTable, ShootdownRow{
			Seq:         seq,
			Time:        t,
			ASID:        uint32(e.ASID),
			VPage:       e.VPage,
			Invalidated: e.Invalidated,
		})
	}
}
