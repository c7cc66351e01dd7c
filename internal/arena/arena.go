package arena

import (
	"sync"
	"time"

	"github.com/murk-sim/murk"
)

const (
	spaceShift = 30
	spaceMask  = uint32(0x3) << spaceShift
	indexMask  = uint32(1)<<spaceShift - 1

	spacePerTick uint32 = 0
	spaceSparse  uint32 = 1
	spaceStatic  uint32 = 2
)

func encodeSegment(space, idx uint32) uint32 { return (space << spaceShift) | (idx & indexMask) }
func decodeSegment(v uint32) (space, idx uint32) { return v >> spaceShift, v & indexMask }

// Config parameterises Arena construction (§4.1 Allocation).
type Config struct {
	Fields []murk.FieldSpec

	// SegmentBytes is the fixed region size; must be a power of two, >= 1KiB.
	// Recommended default 64 MiB.
	SegmentBytes int
	// MaxSegments bounds the per-space segment pool; 0 means unbounded.
	MaxSegments int
	// RingSize is the number of live generations the arena keeps
	// simultaneously: 2 for lockstep ping-pong, K (default 8) for realtime.
	RingSize int
	// Realtime enables epoch-gated reclamation; when false (lockstep) ring
	// slots are recycled unconditionally, matching the ping-pong contract.
	Realtime bool
	// EgressWorkers sizes the epoch pin table (ignored when !Realtime).
	EgressWorkers int
	// MaxEpochHold bounds how long a pin may block reclamation before the
	// holder is force-unpinned (§4.1, default 100ms).
	MaxEpochHold time.Duration
	// DebugFullWriteCoverage enables the FullWriteGuard coverage check; it
	// should be off in production builds (it is the debug-only cost the
	// spec calls a "zero-overhead alias" in release mode).
	DebugFullWriteCoverage bool
}

func (c *Config) validate() error {
	if len(c.Fields) == 0 {
		return murk.NewError(murk.CodeInvalidConfig, "fields")
	}
	seen := make(map[murk.FieldId]bool, len(c.Fields))
	for _, f := range c.Fields {
		if seen[f.ID] {
			return murk.NewError(murk.CodeInvalidConfig, "duplicate field id in static schema")
		}
		seen[f.ID] = true
	}
	if c.SegmentBytes <= 0 {
		c.SegmentBytes = 64 << 20
	}
	if c.SegmentBytes < 1024 || c.SegmentBytes&(c.SegmentBytes-1) != 0 {
		return murk.NewError(murk.CodeInvalidConfig, "segment_bytes must be a power of two >= 1KiB")
	}
	if c.RingSize <= 0 {
		c.RingSize = 2
	}
	if c.RingSize > int(indexMask) {
		return murk.NewError(murk.CodeInvalidConfig, "ring_size too large")
	}
	return nil
}

// generationRecord is one ring slot's worth of PerTick storage plus the
// field->handle table for every field (PerTick, Sparse, Static) as of that
// generation.
type generationRecord struct {
	id           uint32
	perTickSpace *segmentSpace
	fieldMap     map[murk.FieldId]murk.FieldHandle
}

type sparseRecord struct {
	gen    uint32
	handle murk.FieldHandle
}

// Arena is the generational field store (§4.1).
type Arena struct {
	cfg    Config
	fields map[murk.FieldId]murk.FieldSpec

	staticSlab    []float32
	staticOffsets map[murk.FieldId]uint32
	staticRefs    int32 // reference count across vectorised worlds sharing this schema

	sparseSpace    *segmentSpace
	sparseFreeList map[uint32][]murk.FieldHandle // keyed by element length
	sparseLast     map[murk.FieldId]sparseRecord

	ring     []*generationRecord // len == cfg.RingSize
	ringSize uint32
	maxAge   uint32

	published uint32 // newest published generation id, wrap-safe counter
	staged    *generationRecord
	stagedGen uint32
	hasStaged bool

	epochs *EpochTable

	mu sync.Mutex
}

// New constructs an Arena, populating the Static slab immediately.
func New(cfg Config) (*Arena, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &Arena{
		cfg:            cfg,
		fields:         make(map[murk.FieldId]murk.FieldSpec, len(cfg.Fields)),
		staticOffsets:  make(map[murk.FieldId]uint32),
		sparseFreeList: make(map[uint32][]murk.FieldHandle),
		sparseLast:     make(map[murk.FieldId]sparseRecord),
		ringSize:       uint32(cfg.RingSize),
		maxAge:         uint32(cfg.RingSize - 1),
	}
	var staticElems uint32
	for _, f := range cfg.Fields {
		a.fields[f.ID] = f
		if f.Mutability == murk.Static {
			a.staticOffsets[f.ID] = staticElems
			staticElems += uint32(f.Elements())
		}
	}
	a.staticSlab = make([]float32, staticElems)

	segElements := uint32(cfg.SegmentBytes / 4)
	a.sparseSpace = newSegmentSpace(segElements, cfg.MaxSegments)

	a.ring = make([]*generationRecord, cfg.RingSize)
	if cfg.Realtime {
		workers := cfg.EgressWorkers
		if workers <= 0 {
			workers = 1
		}
		a.epochs = NewEpochTable(workers, cfg.MaxEpochHold)
	}

	// Generation 0 is the pre-simulation state: publish it immediately so
	// reads before the first tick resolve cleanly.
	rec := a.newGenerationRecord(0, nil)
	a.ring[0] = rec
	a.published = 0
	return a, nil
}

func (a *Arena) newGenerationRecord(id uint32, prev *generationRecord) *generationRecord {
	segElements := uint32(a.cfg.SegmentBytes / 4)
	rec := &generationRecord{
		id:           id,
		perTickSpace: newSegmentSpace(segElements, a.cfg.MaxSegments),
		fieldMap:     make(map[murk.FieldId]murk.FieldHandle, len(a.fields)),
	}
	for fid, spec := range a.fields {
		switch spec.Mutability {
		case murk.Static:
			rec.fieldMap[fid] = murk.FieldHandle{
				Generation: id,
				Segment:    encodeSegment(spaceStatic, 0),
				Offset:     a.staticOffsets[fid],
				Length:     uint32(spec.Elements()),
			}
		case murk.Sparse:
			if prev != nil {
				if h, ok := prev.fieldMap[fid]; ok {
					h.Generation = id
					rec.fieldMap[fid] = h
					continue
				}
			}
			// No prior allocation yet; left absent until first write.
		case murk.PerTick:
			// Filled fresh by the writer this tick; absent until written.
		}
	}
	return rec
}

// EgressWorker returns the epoch pin handle for workerID (realtime only).
func (a *Arena) EgressWorker(workerID int) *epochPin {
	if a.epochs == nil {
		return nil
	}
	return a.epochs.Worker(workerID)
}

// Pin marks that the calling egress worker intends generation gen to stay
// resolvable, per §4.1 epoch pinning.
func (a *Arena) Pin(workerID int, gen uint32) {
	if w := a.EgressWorker(workerID); w != nil {
		w.Pin(gen)
	}
}

// Unpin releases the calling egress worker's epoch.
func (a *Arena) Unpin(workerID int) {
	if w := a.EgressWorker(workerID); w != nil {
		w.Unpin()
	}
}

// PublishedGeneration returns the newest published generation id.
func (a *Arena) PublishedGeneration() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.published
}

// ReadView is an immutable, thread-shareable handle scoped to one published
// generation.
type ReadView struct {
	a   *Arena
	gen uint32
}

// ReadArena yields a view scoped to the currently published generation.
func (a *Arena) ReadArena() *ReadView {
	return &ReadView{a: a, gen: a.PublishedGeneration()}
}

// ReadGeneration yields a view scoped to an explicit (possibly older)
// generation, used by the realtime driver when handing out snapshots to
// egress workers that pinned an older tick.
func (a *Arena) ReadGeneration(gen uint32) *ReadView {
	return &ReadView{a: a, gen: gen}
}

// Generation reports the generation this view is scoped to.
func (v *ReadView) Generation() uint32 { return v.gen }

// ReadField resolves fieldID within this view's generation.
func (v *ReadView) ReadField(fieldID murk.FieldId) ([]float32, bool) {
	rec := v.a.recordFor(v.gen)
	if rec == nil {
		return nil, false
	}
	h, ok := rec.fieldMap[fieldID]
	if !ok {
		return nil, false
	}
	return v.a.resolveHandle(h)
}

// Resolve resolves an arbitrary previously-issued handle, honouring the live
// window and wrap-safe generation comparison (§3 invariant 4, §4.1 wrap-safe
// arithmetic).
func (a *Arena) Resolve(h murk.FieldHandle) ([]float32, bool) {
	// age is computed via wrapping subtraction so the comparison stays
	// correct across uint32 wraparound (§4.1 "Generation counter width").
	age := a.PublishedGeneration() - h.Generation
	if age > a.maxAge {
		return nil, false
	}
	return a.resolveHandle(h)
}

func (a *Arena) resolveHandle(h murk.FieldHandle) ([]float32, bool) {
	space, idx := decodeSegment(h.Segment)
	switch space {
	case spaceStatic:
		if h.Offset+h.Length > uint32(len(a.staticSlab)) {
			return nil, false
		}
		return a.staticSlab[h.Offset : h.Offset+h.Length], true
	case spaceSparse:
		if int(idx) >= len(a.sparseSpace.segments) {
			return nil, false
		}
		return a.sparseSpace.slice(idx, h.Offset, h.Length), true
	case spacePerTick:
		rec := a.recordFor(h.Generation)
		if rec == nil {
			return nil, false
		}
		if int(idx) >= len(rec.perTickSpace.segments) {
			return nil, false
		}
		return rec.perTickSpace.slice(idx, h.Offset, h.Length), true
	default:
		return nil, false
	}
}

func (a *Arena) recordFor(gen uint32) *generationRecord {
	slot := gen % a.ringSize
	rec := a.ring[slot]
	if rec == nil || rec.id != gen {
		return nil
	}
	return rec
}

// WriteView is the exclusive staging handle produced by WriteArena, valid
// for exactly one tick's worth of writes (§4.1 contract).
type WriteView struct {
	a   *Arena
	rec *generationRecord
	gen uint32
}

// Generation reports the generation being staged.
func (w *WriteView) Generation() uint32 { return w.gen }

// WriteArena begins staging the next generation. It must be called at most
// once between a publish/abandon pair; the TickEngine is the sole caller.
func (a *Arena) WriteArena() (*WriteView, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hasStaged {
		return nil, murk.NewError(murk.CodeAllocationFailed, "write already staged")
	}

	newGen := a.published + 1
	slot := newGen % a.ringSize

	if prevOccupant := a.ring[slot]; prevOccupant != nil && a.epochs != nil {
		ok, _ := a.epochs.Quiesced(prevOccupant.id)
		if !ok {
			return nil, murk.NewError(murk.CodeCapacityExceeded, "ring slot not yet quiesced")
		}
	}

	prev := a.recordFor(a.published)
	rec := a.newGenerationRecord(newGen, prev)
	a.ring[slot] = rec
	a.staged = rec
	a.stagedGen = newGen
	a.hasStaged = true

	return &WriteView{a: a, rec: rec, gen: newGen}, nil
}

// AllocPerTick allocates fresh storage for a PerTick field write. Writing a
// field whose declared Mutability is not PerTick is a caller bug surfaced as
// CodeNotWritable.
func (w *WriteView) AllocPerTick(fieldID murk.FieldId, nElements int) ([]float32, murk.FieldHandle, error) {
	spec, ok := w.a.fields[fieldID]
	if !ok {
		return nil, murk.FieldHandle{}, murk.NewError(murk.CodeUnknownField, "")
	}
	if spec.Mutability != murk.PerTick {
		return nil, murk.FieldHandle{}, murk.NewError(murk.CodeNotWritable, spec.Name)
	}
	segIdx, off, err := w.rec.perTickSpace.alloc(uint32(nElements))
	if err != nil {
		return nil, murk.FieldHandle{}, murk.WrapError(murk.CodeCapacityExceeded, spec.Name, err)
	}
	h := murk.FieldHandle{
		Generation: w.gen,
		Segment:    encodeSegment(spacePerTick, segIdx),
		Offset:     off,
		Length:     uint32(nElements),
	}
	w.rec.fieldMap[fieldID] = h
	return w.rec.perTickSpace.slice(segIdx, off, uint32(nElements)), h, nil
}

// AllocPerTickFull behaves like AllocPerTick but additionally wraps the
// slice in a FullWriteGuard when the arena was built with
// DebugFullWriteCoverage, so incomplete Full writes are reported with the
// propagator name, field id, and coverage percentage at guard Close (§4.1).
func (w *WriteView) AllocPerTickFull(fieldID murk.FieldId, nElements int, propName string, onDrop func(prop, field string, coveredPct float64)) (*FullWriteGuard, murk.FieldHandle, error) {
	slice, h, err := w.AllocPerTick(fieldID, nElements)
	if err != nil {
		return nil, murk.FieldHandle{}, err
	}
	spec := w.a.fields[fieldID]
	g := newFullWriteGuard(slice, w.a.cfg.DebugFullWriteCoverage, propName, spec.Name, onDrop)
	return g, h, nil
}

// WriteSparse implements the Sparse copy-on-write rule (§4.1): if the
// field's last allocation belongs to an earlier generation (tested by
// wrap-safe difference, not inequality), a fresh slot is allocated and the
// old one is returned to the free list; otherwise the existing slot (same
// generation — the propagator re-entered) is reused in place.
func (w *WriteView) WriteSparse(fieldID murk.FieldId, nElements int) ([]float32, murk.FieldHandle, error) {
	spec, ok := w.a.fields[fieldID]
	if !ok {
		return nil, murk.FieldHandle{}, murk.NewError(murk.CodeUnknownField, "")
	}
	if spec.Mutability != murk.Sparse {
		return nil, murk.FieldHandle{}, murk.NewError(murk.CodeNotWritable, spec.Name)
	}

	if last, ok := w.a.sparseLast[fieldID]; ok && last.gen-w.gen == 0 {
		// diff == 0 (tested by wrap-safe subtraction, not "<", per §4.1):
		// the propagator re-entered this field within the same generation.
		_, idx := decodeSegment(last.handle.Segment)
		return w.a.sparseSpace.slice(idx, last.handle.Offset, last.handle.Length), last.handle, nil
	}

	segIdx, off, err := w.allocSparse(uint32(nElements))
	if err != nil {
		return nil, murk.FieldHandle{}, murk.WrapError(murk.CodeCapacityExceeded, spec.Name, err)
	}
	h := murk.FieldHandle{Generation: w.gen, Segment: encodeSegment(spaceSparse, segIdx), Offset: off, Length: uint32(nElements)}

	if last, ok := w.a.sparseLast[fieldID]; ok {
		w.a.sparseFreeList[last.handle.Length] = append(w.a.sparseFreeList[last.handle.Length], last.handle)
	}
	w.a.sparseLast[fieldID] = sparseRecord{gen: w.gen, handle: h}
	w.rec.fieldMap[fieldID] = h
	return w.a.sparseSpace.slice(segIdx, off, uint32(nElements)), h, nil
}

func (w *WriteView) allocSparse(n uint32) (segIdx, offset uint32, err error) {
	if free := w.a.sparseFreeList[n]; len(free) > 0 {
		h := free[len(free)-1]
		w.a.sparseFreeList[n] = free[:len(free)-1]
		_, idx := decodeSegment(h.Segment)
		return idx, h.Offset, nil
	}
	return w.a.sparseSpace.alloc(n)
}

// ReadPrevious resolves a field's tick-start value (the previously
// published generation), used to build the pipeline's reads_previous view.
func (w *WriteView) ReadPrevious(fieldID murk.FieldId) ([]float32, bool) {
	prev := w.a.recordFor(w.a.published)
	if prev == nil {
		return nil, false
	}
	h, ok := prev.fieldMap[fieldID]
	if !ok {
		return nil, false
	}
	return w.a.resolveHandle(h)
}

// ReadStaged resolves a field's current in-tick overlay value: whatever was
// most recently written this tick if anything, else falls back to the
// tick-start value — the plan decides which and calls the matching method,
// so ReadStaged simply reads out of the staging record's fieldMap, which the
// constructor already seeded with tick-start handles for Sparse/Static and
// leaves empty for untouched PerTick fields.
func (w *WriteView) ReadStaged(fieldID murk.FieldId) ([]float32, bool) {
	h, ok := w.rec.fieldMap[fieldID]
	if !ok {
		return w.ReadPrevious(fieldID)
	}
	return w.a.resolveHandle(h)
}

// StagedThisGeneration resolves fieldID only if the staging record already
// holds an allocation for it in the current generation — true for
// Static/Sparse (seeded at record construction) and for a PerTick field a
// propagator or command has already written this tick, false otherwise. It
// never falls back to the previous generation the way ReadStaged does, so
// callers that need to tell "already staged" apart from "resolved from
// tick-start" don't mistake one for the other.
func (w *WriteView) StagedThisGeneration(fieldID murk.FieldId) ([]float32, bool) {
	h, ok := w.rec.fieldMap[fieldID]
	if !ok || h.Generation != w.gen {
		return nil, false
	}
	return w.a.resolveHandle(h)
}

// Publish atomically promotes the staging generation to newest-published.
// Must be called at most once per WriteArena call, after every propagator
// has succeeded (§4.1 contract, §3 invariant 1).
func (a *Arena) Publish(w *WriteView) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.hasStaged || w.rec != a.staged {
		return murk.NewError(murk.CodeAllocationFailed, "publish without matching stage")
	}
	a.published = w.gen // written under mu; PublishedGeneration reads it under mu, so a reader that sees the new id also sees the staged writes (§5)
	a.hasStaged = false
	a.staged = nil
	return nil
}

// Abandon discards the staging generation. It is zero-cost: the bump
// regions already belong to a fresh segmentSpace that will simply be
// overwritten (or reset) the next time this ring slot is reused.
func (a *Arena) Abandon(w *WriteView) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.hasStaged || w.rec != a.staged {
		return
	}
	a.hasStaged = false
	a.staged = nil
	// Clear the slot so the never-published id does not resolve through
	// recordFor (and so GenerationLive reports it as absent).
	a.ring[w.gen%a.ringSize] = nil
}

// ResetAllPerTick forcibly resets every ring slot's PerTick segment pool.
// Used only by Arena-owning driver Reset() (§4.4 TickEngine.Reset).
func (a *Arena) ResetAllPerTick() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.ring {
		a.ring[i] = nil
	}
	rec := a.newGenerationRecord(0, nil)
	a.ring[0] = rec
	a.published = 0
	a.hasStaged = false
	a.staged = nil
	a.sparseLast = make(map[murk.FieldId]sparseRecord)
	a.sparseFreeList = make(map[uint32][]murk.FieldHandle)
	a.sparseSpace = newSegmentSpace(uint32(a.cfg.SegmentBytes/4), a.cfg.MaxSegments)
}

// AcquireStatic increments the static-slab reference count when a
// vectorised driver composes multiple worlds sharing this schema.
func (a *Arena) AcquireStatic() { a.mu.Lock(); a.staticRefs++; a.mu.Unlock() }

// ReleaseStatic decrements it; the slab itself is freed only at Arena
// teardown (Go's GC reclaims it once the last Arena referencing it drops).
func (a *Arena) ReleaseStatic() { a.mu.Lock(); a.staticRefs--; a.mu.Unlock() }

// FieldSpec looks up a registered field's declaration.
func (a *Arena) FieldSpec(id murk.FieldId) (murk.FieldSpec, bool) {
	f, ok := a.fields[id]
	return f, ok
}

// OldestRetained reports the oldest generation id still resolvable in the
// ring and whether any generation is retained at all (it is always true
// once New has run, since generation 0 publishes immediately). Used by
// preflight visibility (§4.6 "oldest-retained tick id").
func (a *Arena) OldestRetained() (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	oldest := a.published
	found := false
	for _, rec := range a.ring {
		if rec == nil {
			continue
		}
		age := a.published - rec.id
		if age > a.maxAge {
			continue
		}
		if !found || rec.id < oldest {
			oldest = rec.id
			found = true
		}
	}
	return oldest, found
}

// GenerationLive reports whether gen is still retained in the ring — the
// eviction boundary an observation-by-tick request must respect before
// handing out a ReadGeneration view (§4.6 "Observation ... NotAvailable").
func (a *Arena) GenerationLive(gen uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recordFor(gen) != nil
}

// MaxPinHold delegates to the epoch table (realtime only); returns
// ok=false when the arena was constructed without epoch reclamation.
func (a *Arena) MaxPinHold() (time.Duration, bool) {
	if a.epochs == nil {
		return 0, false
	}
	return a.epochs.MaxPinHold()
}

// Epochs exposes the epoch table for the realtime driver's shutdown state
// machine (cancellation broadcast, force-unpin-all).
func (a *Arena) Epochs() *EpochTable { return a.epochs }

// RingOccupancy reports how many ring slots currently hold a live,
// resolvable generation.
func (a *Arena) RingOccupancy() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, rec := range a.ring {
		if rec == nil {
			continue
		}
		if a.published-rec.id <= a.maxAge {
			n++
		}
	}
	return n
}
