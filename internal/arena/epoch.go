package arena

import (
	"sync/atomic"
	"time"
)

// pinState is the immutable (generation, pin_start_time) pair a realtime
// egress worker publishes while it holds a read view. Storing it behind a
// single atomic.Pointer gives every reader a coherent snapshot of both
// fields at once — the spec explicitly calls out that reading them
// separately (e.g. two plain fields) is incorrect (§4.1 Epoch reclamation).
type pinState struct {
	gen   uint32
	start time.Time
}

// epochPin is one worker's pin slot.
type epochPin struct {
	state   atomic.Pointer[pinState]
	stalled atomic.Bool
	cancel  atomic.Bool
}

// Pin publishes that this worker intends to keep generation gen alive.
func (p *epochPin) Pin(gen uint32) {
	p.cancel.Store(false)
	p.state.Store(&pinState{gen: gen, start: time.Now()})
}

// Unpin releases the worker's epoch, the normal (non-stalled) path.
func (p *epochPin) Unpin() {
	p.state.Store(nil)
}

// Snapshot reads (gen, start, pinned) as a single atomic load.
func (p *epochPin) Snapshot() (gen uint32, start time.Time, pinned bool) {
	s := p.state.Load()
	if s == nil {
		return 0, time.Time{}, false
	}
	return s.gen, s.start, true
}

// CancelRequested reports whether this pin was force-unpinned and the
// worker's cooperative cancellation check should abort its current
// observation work (§5 Cancellation).
func (p *epochPin) CancelRequested() bool { return p.cancel.Load() }

// Stalled reports whether this worker was force-unpinned and ClearStalled
// has not run since; Pin does not clear it. Nothing in this package returns
// CodeWorkerStalled on the strength of this flag.
func (p *epochPin) Stalled() bool { return p.stalled.Load() }

// ClearStalled is called once the worker observes CancelRequested and
// unwinds its in-flight work; it may then Pin() again normally.
func (p *epochPin) ClearStalled() { p.stalled.Store(false) }

// forceUnpin is the system-initiated release of a stalled pin: it raises the
// cancellation flag, marks the worker stalled, and clears the pin so
// reclamation can proceed.
func (p *epochPin) forceUnpin() {
	p.cancel.Store(true)
	p.stalled.Store(true)
	p.state.Store(nil)
}

// EpochTable tracks one pin slot per egress worker.
type EpochTable struct {
	pins         []epochPin
	maxEpochHold time.Duration
}

// NewEpochTable constructs a table with workerCount pin slots.
func NewEpochTable(workerCount int, maxEpochHold time.Duration) *EpochTable {
	if maxEpochHold <= 0 {
		maxEpochHold = 100 * time.Millisecond
	}
	return &EpochTable{pins: make([]epochPin, workerCount), maxEpochHold: maxEpochHold}
}

// Worker returns the pin slot for workerID. Callers must pass a stable id in
// [0, workerCount).
func (t *EpochTable) Worker(workerID int) *epochPin { return &t.pins[workerID] }

// Quiesced reports whether generation gen is free of live pins, force-
// unpinning (and counting as a stall) any worker that has held it past
// maxEpochHold. It returns the number of workers newly force-unpinned so the
// caller can fold that into ShutdownReport/metrics.
func (t *EpochTable) Quiesced(gen uint32) (ok bool, newlyStalled int) {
	now := time.Now()
	ok = true
	for i := range t.pins {
		g, start, pinned := t.pins[i].Snapshot()
		if !pinned || g != gen {
			continue
		}
		if now.Sub(start) > t.maxEpochHold {
			t.pins[i].forceUnpin()
			newlyStalled++
			continue
		}
		ok = false
	}
	return ok, newlyStalled
}

// ForceUnpinAll force-unpins every currently-pinned worker regardless of
// hold duration; used by the realtime driver's Quiescing shutdown phase once
// its timeout expires (§4.6).
func (t *EpochTable) ForceUnpinAll() (newlyStalled int) {
	for i := range t.pins {
		_, _, pinned := t.pins[i].Snapshot()
		if !pinned {
			continue
		}
		t.pins[i].forceUnpin()
		newlyStalled++
	}
	return newlyStalled
}

// MaxPinHold reports the longest duration any worker has currently held a
// pin, whichever generation it pins, for preflight visibility's worker pin
// age (§4.6).
func (t *EpochTable) MaxPinHold() (time.Duration, bool) {
	now := time.Now()
	var max time.Duration
	found := false
	for i := range t.pins {
		_, start, pinned := t.pins[i].Snapshot()
		if !pinned {
			continue
		}
		if d := now.Sub(start); !found || d > max {
			max = d
			found = true
		}
	}
	return max, found
}

// AnyPinned reports whether any worker currently holds a pin, for the
// realtime driver's Quiescing poll loop (§4.6).
func (t *EpochTable) AnyPinned() bool {
	for i := range t.pins {
		if _, _, pinned := t.pins[i].Snapshot(); pinned {
			return true
		}
	}
	return false
}

// RequestCancelAll raises the cooperative cancellation flag on every
// currently-pinned worker without unpinning them (the cooperative half of
// Quiescing, before the force-unpin timeout fires).
func (t *EpochTable) RequestCancelAll() {
	for i := range t.pins {
		if _, _, pinned := t.pins[i].Snapshot(); pinned {
			t.pins[i].cancel.Store(true)
		}
	}
}
