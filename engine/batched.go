package engine

import "github.com/murk-sim/murk"

// BatchedLockstepWorld is a container of lockstep worlds stepped
// sequentially each call, entirely built on the lockstep contract — it
// adds no new core semantics (§4.5 "Batched variant").
type BatchedLockstepWorld struct {
	worlds []*LockstepWorld
}

// NewBatchedLockstepWorld constructs one LockstepWorld per cfg entry.
func NewBatchedLockstepWorld(cfgs []*Config) (*BatchedLockstepWorld, error) {
	worlds := make([]*LockstepWorld, len(cfgs))
	for i, cfg := range cfgs {
		w, err := NewLockstepWorld(cfg)
		if err != nil {
			return nil, &BatchError{WorldIndex: i, Err: err}
		}
		worlds[i] = w
	}
	return &BatchedLockstepWorld{worlds: worlds}, nil
}

// BatchError carries the index of the world whose operation failed, so a
// batched-driver caller can identify which member world misbehaved (§4.5
// "Failures carry the world index").
type BatchError struct {
	WorldIndex int
	Err        error
}

func (e *BatchError) Error() string { return e.Err.Error() }
func (e *BatchError) Unwrap() error { return e.Err }

// StepAll steps every world sequentially with its corresponding command
// batch, then fills dst — a contiguous per-world, per-field output buffer
// — via a batched observation pass across all worlds. len(cmdBatches) and
// len(dst)/stride must equal the world count.
func (b *BatchedLockstepWorld) StepAll(cmdBatches [][]murk.Command, obs ObservationPlan, dst []float32) ([][]murk.Receipt, error) {
	receipts := make([][]murk.Receipt, len(b.worlds))
	for i, w := range b.worlds {
		var cmds []murk.Command
		if i < len(cmdBatches) {
			cmds = cmdBatches[i]
		}
		snap, rcpt, err := w.Step(cmds)
		receipts[i] = rcpt
		if err != nil {
			return receipts, &BatchError{WorldIndex: i, Err: err}
		}
		if obs != nil {
			if err := obs.Fill(i, snap, dst); err != nil {
				return receipts, &BatchError{WorldIndex: i, Err: err}
			}
		}
	}
	return receipts, nil
}

// ObservationPlan fills one world's slice of a batched contiguous output
// buffer from its snapshot. Concrete observation composition (which fields,
// which cells, tensor layout) is a binding-layer concern external to the
// core (§1 Deliberately out of scope); this is the narrow seam the core
// exposes for it.
type ObservationPlan interface {
	Fill(worldIndex int, snap *Snapshot, dst []float32) error
}

// WorldCount reports how many member worlds this batch holds.
func (b *BatchedLockstepWorld) WorldCount() int { return len(b.worlds) }

// World returns the i-th member world.
func (b *BatchedLockstepWorld) World(i int) *LockstepWorld { return b.worlds[i] }
