package murk

// PayloadType tags a Command's discriminated payload. Tag assignments are
// stable across format versions (§6) because they are persisted verbatim in
// replay logs.
type PayloadType uint8

const (
	PayloadMove PayloadType = iota
	PayloadSpawn
	PayloadDespawn
	PayloadSetField
	PayloadCustom
	PayloadSetParameter
	PayloadSetParameterBatch
)

// MovePayload relocates an entity by a coordinate delta of arbitrary
// dimensionality (the concrete topology is an external collaborator; the
// engine only carries the coordinate tuple).
type MovePayload struct {
	EntityID uint64
	Delta    []int32
}

// SpawnPayload introduces a new entity at a coordinate.
type SpawnPayload struct {
	EntityID uint64
	Coord    []int32
	Kind     uint32
}

// DespawnPayload removes an entity.
type DespawnPayload struct {
	EntityID uint64
}

// SetFieldPayload overlays a value onto one field cell within the current
// tick (an in-tick write visible to later-ordered propagators' reads(F)).
type SetFieldPayload struct {
	Field  FieldId
	Cell   int
	Values []float32
}

// SetParameterPayload stages a single named global parameter write. Applying
// it increments ParameterVersion.
type SetParameterPayload struct {
	Name  string
	Value float64
}

// SetParameterBatchPayload stages multiple parameter writes atomically
// within one command; ParameterVersion increments once per command, not per
// entry.
type SetParameterBatchPayload struct {
	Entries map[string]float64
}

// CustomPayload carries a user-defined command dispatched through the
// world-specific applier registered at configuration time (§4.4.2).
type CustomPayload struct {
	TypeID uint32
	Data   []byte
}

// Command is one submitted instruction to the world.
type Command struct {
	Payload PayloadType
	Move    *MovePayload
	Spawn   *SpawnPayload
	Despawn *DespawnPayload
	SetFld  *SetFieldPayload
	SetParm *SetParameterPayload
	SetBatc *SetParameterBatchPayload
	Custom  *CustomPayload

	// PriorityClass orders commands within a tick; lower applies earlier.
	PriorityClass int32

	// ExpiresAfterTick is compared only against TickId (§3 invariant 6):
	// a command is rejected with CodeStale once apply_tick_id exceeds it.
	// Zero means the command never expires.
	ExpiresAfterTick TickId

	// SourceID/SourceSeq form the optional provenance pair. A nil SourceID
	// must carry a nil SourceSeq (enforced at the ingress submit boundary,
	// per the "anonymous command ordering" open question in §9).
	SourceID  *string
	SourceSeq *int64

	// ArrivalSeq is engine-assigned at accept time, never by the caller.
	ArrivalSeq uint64
}

// Normalize enforces the anonymous-ordering rule: if SourceID is nil,
// SourceSeq is forced to nil too, so every producer's anonymous commands
// sort identically regardless of what they happened to set. Called by the
// ingress submit path, not by callers directly.
func (c *Command) Normalize() {
	if c.SourceID == nil {
		c.SourceSeq = nil
	}
}

// OrderKey is the tuple ingress sorts by: (priority_class, source_id,
// source_seq, arrival_seq), ascending, with a nil source_id sorting before
// any non-nil value (§3 Command, §4.3 Sort).
type OrderKey struct {
	PriorityClass int32
	HasSource     bool
	SourceID      string
	HasSeq        bool
	SourceSeq     int64
	ArrivalSeq    uint64
}

// Less implements the deterministic total order used by ingress sort.
func (k OrderKey) Less(o OrderKey) bool {
	if k.PriorityClass != o.PriorityClass {
		return k.PriorityClass < o.PriorityClass
	}
	if k.HasSource != o.HasSource {
		return !k.HasSource // None sorts before Some
	}
	if k.HasSource && k.SourceID != o.SourceID {
		return k.SourceID < o.SourceID
	}
	if k.HasSeq != o.HasSeq {
		return !k.HasSeq
	}
	if k.HasSeq && k.SourceSeq != o.SourceSeq {
		return k.SourceSeq < o.SourceSeq
	}
	return k.ArrivalSeq < o.ArrivalSeq
}

// Key derives the OrderKey for a command.
func (c *Command) Key() OrderKey {
	k := OrderKey{PriorityClass: c.PriorityClass, ArrivalSeq: c.ArrivalSeq}
	if c.SourceID != nil {
		k.HasSource = true
		k.SourceID = *c.SourceID
	}
	if c.SourceSeq != nil {
		k.HasSeq = true
		k.SourceSeq = *c.SourceSeq
	}
	return k
}

// Receipt reports the disposition of one submitted command.
type Receipt struct {
	Accepted    bool
	AppliedTick TickId
	HasApplied  bool
	Code        Code // meaningful iff !Accepted or a rollback later reverses it
	BatchIndex  int
}
