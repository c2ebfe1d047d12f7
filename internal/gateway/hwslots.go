package gateway

import "sync"

// HWSlotHandle represents a held hardware encode slot. Release must be
// called exactly once, on both the normal-exit and forced-termination
// paths; the supervisor enforces this with a single deferred release tied
// to the process handle.
type HWSlotHandle struct {
	limiter  *HWSlotLimiter
	released bool
	mu       sync.Mutex
}

// Release returns the slot to the limiter. Safe to call more than once;
// only the first call has an effect.
func (h *HWSlotHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	select {
	case <-h.limiter.slots:
	default:
	}
}

// HWSlotLimiter is a bounded, non-blocking semaphore over GPU encode slots
// (C5). Callers that fail to acquire a slot fall back to CPU encoding.
type HWSlotLimiter struct {
	slots chan struct{}
}

// NewHWSlotLimiter creates a limiter with the given capacity. Capacity <= 0
// disables hardware encoding entirely (Acquire always fails).
func NewHWSlotLimiter(capacity int) *HWSlotLimiter {
	if capacity < 0 {
		capacity = 0
	}
	return &HWSlotLimiter{slots: make(chan struct{}, capacity)}
}

// Acquire attempts to reserve a hardware slot for taskId without blocking.
// Returns nil if no slot is available.
func (l *HWSlotLimiter) Acquire(taskId string) *HWSlotHandle {
	select {
	case l.slots <- struct{}{}:
		return &HWSlotHandle{limiter: l}
	default:
		return nil
	}
}

// InUse returns the number of currently held slots.
func (l *HWSlotLimiter) InUse() int {
	return len(l.slots)
}

// Capacity returns the total number of hardware slots.
func (l *HWSlotLimiter) Capacity() int {
	return cap(l.slots)
}
