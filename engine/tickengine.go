package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/murk-sim/murk"
	"github.com/murk-sim/murk/internal/arena"
	"github.com/murk-sim/murk/ingress"
	"github.com/murk-sim/murk/pipeline"
)

// TickEngine executes the single authoritative transition per tick with
// all-or-nothing semantics (§4.4). It is the sole mutator of world state;
// lockstep and realtime drivers differ only in how they schedule calls to
// Tick, not in what Tick does.
type TickEngine struct {
	cfg      *Config
	arena    *arena.Arena
	pipeline *pipeline.Pipeline
	queue    *ingress.Queue

	mu                   sync.Mutex
	nextApplyTick        murk.TickId
	parameterVersion     murk.ParameterVersion
	parameters           map[string]float64
	consecutiveRollbacks int
	tickDisabled         bool
	shuttingDown         bool
}

// NewTickEngine validates cfg, constructs the arena and pipeline, and
// returns a TickEngine ready to run ticks starting at tick 1 (tick 0 is the
// pre-simulation published generation, per arena.New).
func NewTickEngine(cfg *Config) (*TickEngine, error) {
	ar, err := arena.New(arena.Config{
		Fields:                 cfg.Fields,
		SegmentBytes:           cfg.ArenaSegmentBytes,
		MaxSegments:            cfg.ArenaMaxSegments,
		RingSize:               cfg.RingSize,
		Realtime:               cfg.Realtime,
		EgressWorkers:          cfg.EgressWorkers,
		MaxEpochHold:           cfg.MaxEpochHold,
		DebugFullWriteCoverage: cfg.DebugFullWriteCoverage,
	})
	if err != nil {
		return nil, err
	}

	pl, err := pipeline.New(cfg.Propagators, ar, cfg.Space)
	if err != nil {
		cfg.Logger.Error("pipeline construction failed", zap.Error(err))
		return nil, err
	}
	if bound, ok := pl.EffectiveMaxDt(); ok && cfg.Dt > bound {
		err := murk.NewError(murk.CodeDtOutOfRange, "dt")
		cfg.Logger.Error("pipeline construction failed", zap.Error(err))
		return nil, err
	}

	q, err := ingress.New(cfg.Ingress)
	if err != nil {
		return nil, err
	}

	return &TickEngine{
		cfg:           cfg,
		arena:         ar,
		pipeline:      pl,
		queue:         q,
		nextApplyTick: 1,
		parameters:    make(map[string]float64),
	}, nil
}

// Submit accepts commands into ingress at the engine's current published
// tick as their basis tick (§4.3 "Realtime backoff").
func (e *TickEngine) Submit(cmds []murk.Command) []murk.Receipt {
	return e.queue.Submit(cmds, murk.TickId(e.arena.PublishedGeneration()))
}

// TickReport summarises the outcome of one Tick call.
type TickReport struct {
	TickID     murk.TickId
	Receipts   []murk.Receipt
	RolledBack bool
	Disabled   bool
}

// Tick executes the per-tick protocol of §4.4: drain/sort/apply commands,
// stage, propagate, validate, then publish or roll back as a single unit.
func (e *TickEngine) Tick() (TickReport, error) {
	e.mu.Lock()
	if e.tickDisabled {
		e.mu.Unlock()
		return TickReport{Disabled: true}, murk.NewError(murk.CodeTickDisabled, "tick")
	}
	if e.shuttingDown {
		e.mu.Unlock()
		return TickReport{}, murk.NewError(murk.CodeShuttingDown, "tick")
	}
	applyTick := e.nextApplyTick
	e.mu.Unlock()

	start := time.Now()
	defer func() {
		e.cfg.Metrics.ObserveTickDuration(time.Since(start).Seconds())
		e.cfg.Metrics.SetIngressDepth(e.queue.Depth())
		e.cfg.Metrics.SetMaxTickSkew(e.queue.CurrentMaxSkew())
		e.cfg.Metrics.SetRingOccupancy(e.arena.RingOccupancy())
	}()

	drained := e.queue.Drain(applyTick, e.cfg.TickBudget)
	receipts := make([]murk.Receipt, 0, len(drained.Applied)+len(drained.Rejected))
	receipts = append(receipts, drained.Rejected...)
	for range drained.Rejected {
		e.cfg.Metrics.IncIngressRejected()
	}

	w, err := e.arena.WriteArena()
	if err != nil {
		return TickReport{TickID: applyTick}, err
	}

	applyCodes := make([]murk.Code, len(drained.Applied))
	for i, cmd := range drained.Applied {
		applyCodes[i] = e.applyCommand(w, applyTick, cmd)
	}

	stepErr, writtenSlices := e.runPipeline(w)

	var nanViolation bool
	if stepErr == nil && e.cfg.NanSentinel {
		for _, s := range writtenSlices {
			if !validateFinite(s) {
				nanViolation = true
				break
			}
		}
	}

	if stepErr != nil || nanViolation {
		e.arena.Abandon(w)
		code := murk.CodeTickRollback
		if nanViolation {
			code = murk.CodeNanDetected
		}
		for range drained.Applied {
			receipts = append(receipts, murk.Receipt{Accepted: false, Code: code})
		}
		e.cfg.Metrics.IncRollback()
		e.cfg.Logger.Warn("tick rolled back",
			zap.Uint64("tick_id", uint64(applyTick)),
			zap.String("code", code.String()))
		disabled := e.recordRollback()
		if disabled {
			e.cfg.Metrics.SetTickDisabled(true)
			e.cfg.Logger.Error("tick_disabled latched after consecutive rollbacks",
				zap.Int("consecutive_rollbacks", e.cfg.MaxConsecutiveRollbacks))
		}
		return TickReport{TickID: applyTick, Receipts: receipts, RolledBack: true, Disabled: disabled}, nil
	}

	if err := e.arena.Publish(w); err != nil {
		return TickReport{TickID: applyTick}, err
	}

	for i := range drained.Applied {
		code := applyCodes[i]
		receipts = append(receipts, murk.Receipt{Accepted: code == 0, AppliedTick: applyTick, HasApplied: true, Code: code})
	}

	e.mu.Lock()
	e.consecutiveRollbacks = 0
	e.nextApplyTick++
	e.mu.Unlock()

	return TickReport{TickID: applyTick, Receipts: receipts}, nil
}

// runPipeline invokes every propagator in declared order against w,
// routing each declared read through the precompiled plan and collecting
// every written slice for the optional NaN sentinel pass.
func (e *TickEngine) runPipeline(w *arena.WriteView) (error, [][]float32) {
	plan := e.pipeline.Plan()
	var written [][]float32

	for i := 0; i < e.pipeline.Len(); i++ {
		prop := e.pipeline.Propagator(i)
		idx := i

		readFn := func(f murk.FieldId) ([]float32, bool) {
			route, ok := plan.Resolve(idx, f)
			if !ok {
				return nil, false
			}
			if route.Kind == pipeline.RouteStaged {
				return w.ReadStaged(f)
			}
			return w.ReadPrevious(f)
		}
		readPrevFn := func(f murk.FieldId) ([]float32, bool) { return w.ReadPrevious(f) }
		writeFn := func(f murk.FieldId, n int) ([]float32, murk.FieldHandle, error) {
			spec, ok := e.arena.FieldSpec(f)
			if !ok {
				return nil, murk.FieldHandle{}, murk.NewError(murk.CodeUnknownField, "")
			}
			var slice []float32
			var h murk.FieldHandle
			var err error
			if spec.Mutability == murk.Sparse {
				slice, h, err = w.WriteSparse(f, n)
			} else {
				slice, h, err = w.AllocPerTick(f, n)
			}
			if err == nil {
				written = append(written, slice)
			}
			return slice, h, err
		}

		ctx := pipeline.NewContext(e.cfg.Space, murk.TickId(w.Generation()), e.cfg.Dt, nil, readFn, readPrevFn, writeFn)
		if err := prop.Step(ctx); err != nil {
			return err, nil
		}
	}
	return nil, written
}

// recordRollback increments the consecutive-rollback counter and, once it
// reaches the configured threshold, latches tick_disabled (§4.4 "Rollback").
// It returns whether the latch engaged on this call.
func (e *TickEngine) recordRollback() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveRollbacks++
	if e.consecutiveRollbacks >= e.cfg.MaxConsecutiveRollbacks {
		e.tickDisabled = true
		return true
	}
	return false
}

// Reset returns the engine to its initial state: fresh generation, cleared
// ingress, consecutive_rollback_count = 0, tick_disabled cleared (§4.4
// "Reset").
func (e *TickEngine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.arena.ResetAllPerTick()
	q, err := ingress.New(e.cfg.Ingress)
	if err != nil {
		return err
	}
	e.queue = q
	e.nextApplyTick = 1
	e.parameterVersion = 0
	e.parameters = make(map[string]float64)
	e.consecutiveRollbacks = 0
	e.tickDisabled = false
	e.shuttingDown = false
	return nil
}

// BeginShutdown marks the engine as shutting down: further Tick calls fail
// with ShuttingDown, and the ingress queue is closed so further Submit
// calls receive ShuttingDown receipts.
func (e *TickEngine) BeginShutdown() {
	e.mu.Lock()
	e.shuttingDown = true
	e.mu.Unlock()
	e.queue.Close()
}

// TickDisabled reports whether the rollback latch has engaged.
func (e *TickEngine) TickDisabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tickDisabled
}

// Arena exposes the underlying arena for driver snapshot construction.
func (e *TickEngine) Arena() *arena.Arena { return e.arena }

// Queue exposes the underlying ingress queue for preflight reporting.
func (e *TickEngine) Queue() *ingress.Queue { return e.queue }

// ParameterVersion reports the current global parameter version.
func (e *TickEngine) ParameterVersion() murk.ParameterVersion {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.parameterVersion
}
