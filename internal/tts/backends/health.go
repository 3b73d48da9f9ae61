package backends

import (
	"sync/atomic"
	"time"
)

// failureCooldown is how long a backend stays out of rotation after a
// failed synthesis. Once the window passes the backend advertises available
// again, so selection sends it the next request as a natural re-probe: a
// success clears the latch, another failure re-arms it.
const failureCooldown = 30 * time.Second

// health is the availability evidence a backend's Status reports. A failure
// is a cooldown, not a permanent latch. All methods are I/O-free and safe
// for concurrent use.
type health struct {
	initialized atomic.Bool
	stopped     atomic.Bool
	failedAt    atomic.Int64 // unix nanos of the last failure, 0 when clear

	now func() time.Time // test clock; nil means time.Now
}

func (h *health) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

// markReady records a successful initialization.
func (h *health) markReady() {
	h.initialized.Store(true)
	h.failedAt.Store(0)
}

// markSuccess clears any pending cooldown.
func (h *health) markSuccess() {
	h.failedAt.Store(0)
}

// markFailure starts, or restarts, the cooldown window.
func (h *health) markFailure() {
	h.failedAt.Store(h.clock().UnixNano())
}

// markStopped takes the backend out of rotation for good.
func (h *health) markStopped() {
	h.stopped.Store(true)
}

// ready reports whether the backend initialized and was not shut down.
func (h *health) ready() bool {
	return h.initialized.Load() && !h.stopped.Load()
}

// available reports whether selection may route here: ready, and either
// never failed or past the cooldown since the last failure.
func (h *health) available() bool {
	if !h.ready() {
		return false
	}
	failed := h.failedAt.Load()
	return failed == 0 || h.clock().Sub(time.Unix(0, failed)) >= failureCooldown
}
