package engine

import "time"

// PreflightReport is the non-blocking health probe exposed by both drivers
// (§4.6 "Preflight visibility"); reading it never perturbs the tick loop.
type PreflightReport struct {
	IngressDepth   int
	NewestTickID   uint32
	RingOccupancy  int
	OldestRetained uint32
	HasOldest      bool
	NewestPinAge   time.Duration
	HasPin         bool
	CurrentMaxSkew int
	TickDisabled   bool
}

// Preflight builds a PreflightReport from the engine's current state.
func (e *TickEngine) Preflight() PreflightReport {
	oldest, hasOldest := e.arena.OldestRetained()
	pinAge, hasPin := e.arena.MaxPinHold()
	return PreflightReport{
		IngressDepth:   e.queue.Depth(),
		NewestTickID:   e.arena.PublishedGeneration(),
		RingOccupancy:  e.arena.RingOccupancy(),
		OldestRetained: oldest,
		HasOldest:      hasOldest,
		NewestPinAge:   pinAge,
		HasPin:         hasPin,
		CurrentMaxSkew: e.queue.CurrentMaxSkew(),
		TickDisabled:   e.TickDisabled(),
	}
}
