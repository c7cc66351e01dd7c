package engine

import "github.com/murk-sim/murk"

// LockstepWorld drives the TickEngine on the caller's thread under
// exclusive mutability (§4.5). Step requires an exclusive borrow of the
// world for its duration; the returned snapshot is tied to the world's
// lifetime and is only valid until the next Step call overwrites the
// ping-pong buffer it was read from — this package cannot enforce that at
// compile time the way a borrow checker would, so callers must not retain
// a Snapshot past the next Step.
type LockstepWorld struct {
	engine *TickEngine
}

// NewLockstepWorld constructs a world whose arena always uses a 2-slot
// ping-pong ring regardless of cfg.RingSize, per the lockstep contract
// (§4.5 "Arena strategy").
func NewLockstepWorld(cfg *Config) (*LockstepWorld, error) {
	cfg.RingSize = 2
	cfg.Realtime = false
	e, err := NewTickEngine(cfg)
	if err != nil {
		return nil, err
	}
	return &LockstepWorld{engine: e}, nil
}

// Step submits commands, advances exactly one tick, and returns the new
// published snapshot (or the rollback/disabled error).
func (w *LockstepWorld) Step(cmds []murk.Command) (*Snapshot, []murk.Receipt, error) {
	submitReceipts := w.engine.Submit(cmds)
	report, err := w.engine.Tick()
	if err != nil {
		return nil, submitReceipts, err
	}
	return w.engine.Snapshot(), append(submitReceipts, report.Receipts...), nil
}

// Reset returns the world to its initial state (§4.4 "Reset").
func (w *LockstepWorld) Reset() error { return w.engine.Reset() }

// Engine exposes the underlying TickEngine, e.g. for preflight reporting.
func (w *LockstepWorld) Engine() *TickEngine { return w.engine }
