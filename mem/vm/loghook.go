package vm

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// A LogHook writes the events of the VM system to a logrus logger. Faults and
// evictions are logged at debug level, failed faults at warn level.
type LogHook struct {
	Logger *logrus.Logger
}

// NewLogHook creates a LogHook. A nil logger means the standard logger.
func NewLogHook(logger *logrus.Logger) *LogHook {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &LogHook{Logger: logger}
}

// Func logs the event carried by ctx.
func (h *LogHook) Func(ctx HookCtx) {
	switch e := ctx.Item.(type) {
	case FaultEvent:
		h.logFault(e)
	case EvictEvent:
		h.Logger.WithFields(logrus.Fields{
			"frame":  e.Frame,
			"asid":   e.ASID,
			"vpage":  hexAddr(e.VPage),
			"dirty":  e.WasDirty,
			"offset": e.SwapOffset,
		}).Debug("frame evicted")
	case SwapInEvent:
		h.Logger.WithFields(logrus.Fields{
			"frame":  e.Frame,
			"asid":   e.ASID,
			"vpage":  hexAddr(e.VPage),
			"offset": e.SwapOffset,
		}).Debug("page swapped in")
	case ShootdownEvent:
		h.Logger.WithFields(logrus.Fields{
			"asid":        e.ASID,
			"vpage":       hexAddr(e.VPage),
			"invalidated": e.Invalidated,
		}).Trace("tlb shootdown")
	}
}

func (h *LogHook) logFault(e FaultEvent) {
	entry := h.Logger.WithFields(logrus.Fields{
		"cpu":   e.CPU,
		"asid":  e.ASID,
		"vaddr": hexAddr(e.VAddr),
		"type":  e.Type.String(),
	})

	if e.Err != nil {
		entry.WithError(e.Err).
			WithField("errno", ErrnoOf(e.Err)).
			Warn("page fault rejected")

		return
	}

	entry.WithFields(logrus.Fields{
		"frame":  e.Frame,
		"swapin": e.SwapIn,
	}).Debug("page fault resolved")
}

func hexAddr(addr uint64) string {
	return fmt.Sprintf("0x%08x", addr)
}
