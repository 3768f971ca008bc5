package coremap

import (
	"runtime"
	"sync/atomic"
)

// spinLock is a busy-wait lock. Holders never sleep or do I/O, so waiters
// only yield the processor instead of parking.
type spinLock struct {
	held atomic.Bool
}

func (l *spinLock) Lock() {
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *spinLock) Unlock() {
	if !l.held.CompareAndSwap(true, false) {
		panic("unlock of unlocked spinlock")
	}
}
