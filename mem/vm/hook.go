package vm

import "sync"

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   interface{}
	Detail interface{}
}

// Hookable defines an object that accept Hooks.
type Hookable interface {
	// AcceptHook registers a hook.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int
}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// Hook positions of the VM system. The Item of the HookCtx is the matching
// event struct.
var (
	// HookPosFault triggers after a page fault is resolved or rejected.
	HookPosFault = &HookPos{Name: "Fault"}

	// HookPosEvict triggers after a frame is reclaimed.
	HookPosEvict = &HookPos{Name: "Evict"}

	// HookPosSwapIn triggers after a page is read back from swap.
	HookPosSwapIn = &HookPos{Name: "SwapIn"}

	// HookPosShootdown triggers after a broadcast invalidation completes.
	HookPosShootdown = &HookPos{Name: "Shootdown"}
)

// A HookableBase provides some utility function for other type that implement
// the Hookable interface. Hooks can be invoked from many CPUs at once.
type HookableBase struct {
	lock     sync.RWMutex
	hookList []Hook
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	h.lock.RLock()
	defer h.lock.RUnlock()

	return len(h.hookList)
}

// AcceptHook register a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.lock.Lock()
	defer h.lock.Unlock()

	for _, existing := range h.hookList {
		if existing == hook {
			panic("duplicated hook")
		}
	}

	h.hookList = append(h.hookList, hook)
}

// InvokeHook triggers the register Hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	h.lock.RLock()
	hooks := h.hookList
	h.lock.RUnlock()

	for _, hook := range hooks {
		hook.Func(ctx)
	}
}
