package replay

import "github.com/murk-sim/murk"

// Divergence reports a replay re-execution mismatch (§4.7 "Divergence
// report"): the recorded snapshot hash at tick_id didn't match what
// replaying the same commands against a fresh world produced.
type Divergence struct {
	TickID       murk.TickId
	RecordedHash uint64
	ReplayedHash uint64
}

func (d Divergence) Error() string {
	return murk.WrapError(murk.CodeSnapshotMismatch, "", nil).Error()
}

// Compare checks a replayed tick's hash against the logged one, returning
// a non-nil *Divergence on mismatch.
func Compare(tickID murk.TickId, recordedHash, replayedHash uint64) *Divergence {
	if recordedHash == replayedHash {
		return nil
	}
	return &Divergence{TickID: tickID, RecordedHash: recordedHash, ReplayedHash: replayedHash}
}
