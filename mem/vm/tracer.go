package vm

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// A Tracer writes one CSV line per VM event, with the time elapsed since the
// tracer was created.
type Tracer struct {
	lock   sync.Mutex
	start  time.Time
	writer io.Writer
}

// NewTracer produces a new Tracer, injecting the dependency of a writer.
func NewTracer(w io.Writer) *Tracer {
	return &Tracer{
		start:  time.Now(),
		writer: w,
	}
}

// Func prints the trace information of the event.
func (t *Tracer) Func(ctx HookCtx) {
	var line string

	switch e := ctx.Item.(type) {
	case FaultEvent:
		line = fmt.Sprintf("fault,%d,0x%x,%d,%s", e.ASID, e.VAddr, e.Frame, e.Type)
		if e.Err != nil {
			line += fmt.Sprintf(",errno=%d", ErrnoOf(e.Err))
		}
	case EvictEvent:
		line = fmt.Sprintf("evict,%d,0x%x,%d,%d", e.ASID, e.VPage, e.Frame,
			e.SwapOffset)
	case SwapInEvent:
		line = fmt.Sprintf("swapin,%d,0x%x,%d,%d", e.ASID, e.VPage, e.Frame,
			e.SwapOffset)
	case ShootdownEvent:
		line = fmt.Sprintf("shootdown,%d,0x%x,%d", e.ASID, e.VPage,
			e.Invalidated)
	default:
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	_, err := fmt.Fprintf(t.writer, "%.9f,%s\n",
		time.Since(t.start).Seconds(), line)
	if err != nil {
		panic(err)
	}
}
