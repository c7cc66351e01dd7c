package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/murk-sim/murk"
)

// ShutdownPhase tags which shutdown phase a RealtimeWorld is in, or
// completed in, per §4.6's 4-phase state machine.
type ShutdownPhase int

const (
	PhaseRunning ShutdownPhase = iota
	PhaseDraining
	PhaseQuiescing
	PhaseDropped
)

func (p ShutdownPhase) String() string {
	switch p {
	case PhaseRunning:
		return "Running"
	case PhaseDraining:
		return "Draining"
	case PhaseQuiescing:
		return "Quiescing"
	case PhaseDropped:
		return "Dropped"
	default:
		return "Unknown"
	}
}

// ShutdownReport is returned from Shutdown (§4.6).
type ShutdownReport struct {
	FinalTickID     murk.TickId
	CommandsDropped int
	WorkersStalled  int
	Elapsed         time.Duration
	TimedOutPhase   ShutdownPhase // PhaseRunning means no timeout occurred
}

// EgressFunc is one egress worker's per-pin observation callback. It
// receives a Snapshot scoped to the generation the worker just pinned and
// should return promptly — the cooperative cancellation budget is
// cfg.MaxEpochHold. What it does with the snapshot (tensor fill, network
// serve) is a binding-layer concern external to the core.
type EgressFunc func(workerID int, snap *Snapshot) error

// RealtimeWorld runs the TickEngine autonomously on a dedicated goroutine
// at a best-effort target rate, serving observations concurrently through
// a fixed egress worker pool (§4.6).
type RealtimeWorld struct {
	engine *TickEngine
	egress EgressFunc

	phase atomic.Int32 // ShutdownPhase

	stopTick   chan struct{}
	tickDone   chan struct{}
	group      *errgroup.Group
	groupCtx   context.Context
	cancelFunc context.CancelFunc

	mu            sync.Mutex
	lastFinalTick murk.TickId
}

// NewRealtimeWorld constructs a realtime world. egress may be nil if the
// caller serves observations through its own mechanism outside the core's
// worker pool (the pool is an optional convenience, not a requirement of
// the epoch-pinning contract).
func NewRealtimeWorld(cfg *Config, egress EgressFunc) (*RealtimeWorld, error) {
	cfg.Realtime = true
	if cfg.RingSize < 2 {
		cfg.RingSize = 8
	}
	e, err := NewTickEngine(cfg)
	if err != nil {
		return nil, err
	}
	return &RealtimeWorld{engine: e, egress: egress, stopTick: make(chan struct{}), tickDone: make(chan struct{})}, nil
}

// Submit accepts commands from any producer goroutine.
func (r *RealtimeWorld) Submit(cmds []murk.Command) []murk.Receipt { return r.engine.Submit(cmds) }

// Preflight exposes the non-blocking health probe (§4.6).
func (r *RealtimeWorld) Preflight() PreflightReport { return r.engine.Preflight() }

// ObserveTick resolves an observation snapshot for a specific tick, the
// narrow read path an egress consumer falls back to outside the pinned
// worker pool. A tick older than the ring's retained window fails with
// CodeNotAvailable, reporting the newest tick still available (§4.6, §8
// scenario 5).
func (r *RealtimeWorld) ObserveTick(tick murk.TickId) (ObservationResult, error) {
	return r.engine.ObserveTick(tick)
}

// Phase reports the current shutdown-state-machine phase.
func (r *RealtimeWorld) Phase() ShutdownPhase { return ShutdownPhase(r.phase.Load()) }

// Run starts the tick thread and egress worker pool; it returns
// immediately. Call Shutdown to stop.
func (r *RealtimeWorld) Run(ctx context.Context) {
	r.groupCtx, r.cancelFunc = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(r.groupCtx)
	r.group = g

	g.Go(func() error { return r.tickLoop(gctx) })

	if r.egress != nil {
		for w := 0; w < r.engine.cfg.EgressWorkers; w++ {
			workerID := w
			g.Go(func() error { return r.egressLoop(gctx, workerID) })
		}
	}
}

// tickLoop paces calls to engine.Tick() to TickRateHz on a best-effort
// basis. Sleep-to-deadline is not the authoritative time source (§4.6
// "Scheduling") — only TickId governs state-affecting behaviour.
func (r *RealtimeWorld) tickLoop(ctx context.Context) error {
	defer close(r.tickDone)
	period := time.Second
	if r.engine.cfg.TickRateHz > 0 {
		period = time.Duration(float64(time.Second) / r.engine.cfg.TickRateHz)
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopTick:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := r.engine.Tick()
			if err != nil {
				if code, ok := murk.CodeOf(err); ok && (code == murk.CodeShuttingDown || code == murk.CodeTickDisabled) {
					return nil
				}
				continue
			}
			r.mu.Lock()
			r.lastFinalTick = report.TickID
			r.mu.Unlock()
		}
	}
}

// egressLoop pins the newest published generation, invokes egress once,
// and unpins, checking the cooperative cancellation flag between
// iterations (§5 "Cancellation").
func (r *RealtimeWorld) egressLoop(ctx context.Context, workerID int) error {
	ar := r.engine.Arena()
	pin := ar.EgressWorker(workerID)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if pin != nil && pin.CancelRequested() {
			pin.ClearStalled()
			return nil
		}

		gen := ar.PublishedGeneration()
		ar.Pin(workerID, gen)
		snap := r.engine.snapshotFor(ar.ReadGeneration(gen))
		err := r.egress(workerID, snap)
		ar.Unpin(workerID)
		if err != nil {
			return nil
		}
	}
}

// Shutdown drives the 4-phase state machine: Draining (≤2x tick budget
// worth of wall time), Quiescing (≤2x MaxEpochHold), Dropped (join).
// Arena deallocation only happens implicitly once this returns and the
// caller drops its RealtimeWorld reference, after every epoch has
// quiesced — the non-negotiable ordering of §4.6.
func (r *RealtimeWorld) Shutdown(drainTimeout, quiesceTimeout time.Duration) ShutdownReport {
	start := time.Now()
	report := ShutdownReport{}
	log := r.engine.cfg.Logger

	r.phase.Store(int32(PhaseDraining))
	r.engine.cfg.Metrics.SetShutdownPhase(int(PhaseDraining))
	log.Info("shutdown: draining")
	r.engine.BeginShutdown()
	select {
	case <-r.tickDone:
	case <-time.After(drainTimeout):
		report.TimedOutPhase = PhaseDraining
	}
	close(r.stopTick)
	dropped := r.engine.Queue().Clear()

	r.phase.Store(int32(PhaseQuiescing))
	r.engine.cfg.Metrics.SetShutdownPhase(int(PhaseQuiescing))
	log.Info("shutdown: quiescing", zap.Int("commands_dropped", dropped))
	if epochs := r.engine.Arena().Epochs(); epochs != nil {
		epochs.RequestCancelAll()
		deadline := time.Now().Add(quiesceTimeout)
		for epochs.AnyPinned() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		report.WorkersStalled = epochs.ForceUnpinAll()
		if report.WorkersStalled > 0 && report.TimedOutPhase == PhaseRunning {
			report.TimedOutPhase = PhaseQuiescing
		}
	}
	if r.cancelFunc != nil {
		r.cancelFunc()
	}
	if r.group != nil {
		_ = r.group.Wait()
	}

	r.phase.Store(int32(PhaseDropped))
	r.engine.cfg.Metrics.SetShutdownPhase(int(PhaseDropped))

	r.mu.Lock()
	report.FinalTickID = r.lastFinalTick
	r.mu.Unlock()
	report.CommandsDropped = dropped
	report.Elapsed = time.Since(start)
	log.Info("shutdown: dropped",
		zap.Uint64("final_tick_id", uint64(report.FinalTickID)),
		zap.Int("workers_stalled", report.WorkersStalled),
		zap.Duration("elapsed", report.Elapsed))
	return report
}
