package engine

import (
	"sort"

	"github.com/murk-sim/murk"
	"github.com/murk-sim/murk/internal/arena"
)

// Snapshot adapts an arena.ReadView to murk.SnapshotAccess, the narrow read
// path observation consumers are given (§4.7 "Observation read path").
type Snapshot struct {
	view             *arena.ReadView
	worldGen         murk.WorldGenerationId
	parameterVersion murk.ParameterVersion
	fieldIDs         []murk.FieldId
}

var _ murk.SnapshotAccess = (*Snapshot)(nil)

func (s *Snapshot) TickID() murk.TickId { return murk.TickId(s.view.Generation()) }

func (s *Snapshot) WorldGenerationID() murk.WorldGenerationId { return s.worldGen }

func (s *Snapshot) ParameterVersion() murk.ParameterVersion { return s.parameterVersion }

func (s *Snapshot) ReadField(id murk.FieldId) ([]float32, bool) { return s.view.ReadField(id) }

func (s *Snapshot) FieldIDs() []murk.FieldId { return s.fieldIDs }

// Snapshot builds a murk.SnapshotAccess bound to the currently published
// generation.
func (e *TickEngine) Snapshot() *Snapshot {
	return e.snapshotFor(e.arena.ReadArena())
}

// ObservationResult is returned by ObserveTick (§4.6 "Observation by
// tick"): either a snapshot scoped to the requested tick, or — when that
// generation has already been evicted from the arena ring — just the
// newest tick still available.
type ObservationResult struct {
	Snapshot     *Snapshot
	LatestTickID murk.TickId
}

// ObserveTick resolves a snapshot scoped to tick. If tick has already
// fallen outside the retained ring window, it fails with CodeNotAvailable
// and ObservationResult.LatestTickID reports the newest tick still
// reachable, instead of silently serving a different generation or
// panicking on a stale handle (§8 scenario 5).
func (e *TickEngine) ObserveTick(tick murk.TickId) (ObservationResult, error) {
	latest := murk.TickId(e.arena.PublishedGeneration())
	gen := uint32(tick)
	if !e.arena.GenerationLive(gen) {
		return ObservationResult{LatestTickID: latest}, murk.NewError(murk.CodeNotAvailable, "tick")
	}
	return ObservationResult{
		Snapshot:     e.snapshotFor(e.arena.ReadGeneration(gen)),
		LatestTickID: latest,
	}, nil
}

func (e *TickEngine) snapshotFor(view *arena.ReadView) *Snapshot {
	return &Snapshot{
		view:             view,
		worldGen:         e.worldGenID(),
		parameterVersion: e.ParameterVersion(),
		fieldIDs:         e.sortedFieldIDs(),
	}
}

func (e *TickEngine) worldGenID() murk.WorldGenerationId {
	return murk.WorldGenerationId(e.cfg.ConfigHash())
}

func (e *TickEngine) sortedFieldIDs() []murk.FieldId {
	ids := make([]murk.FieldId, len(e.cfg.Fields))
	for i, f := range e.cfg.Fields {
		ids[i] = f.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
