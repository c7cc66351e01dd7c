package engine

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/murk-sim/murk"
	"github.com/murk-sim/murk/ingress"
	"github.com/murk-sim/murk/obs"
	"github.com/murk-sim/murk/pipeline"
)

// Config is the full construction-time description of one world: space
// descriptor, field schema, ordered propagator list, dt, seed, ring size,
// ingress capacity, tick-rate, and backoff parameters (§6 "Runtime API").
// Build one with NewConfig and functional Options; construction validates
// the full pipeline and arena sizing and rejects on any ConfigError.
type Config struct {
	Fields      []murk.FieldSpec
	Propagators []pipeline.Propagator
	Space       pipeline.Space

	Dt   float64
	Seed uint64

	RingSize                int
	Realtime                bool
	EgressWorkers           int
	MaxEpochHold            time.Duration
	TickRateHz              float64
	TickBudget              int
	MaxConsecutiveRollbacks int
	NanSentinel             bool
	DebugFullWriteCoverage  bool

	ArenaSegmentBytes int
	ArenaMaxSegments  int

	Ingress ingress.Config
	Applier CommandApplier
	Metrics obs.Sink
	Logger  *zap.Logger

	// WorldID identifies this world instance across process restarts, the
	// way dragonfly tags each entity with a uuid.UUID. A replay recorder
	// stores it as the log's RunID so two recordings of the same world
	// across runs can be told apart even when ConfigHash matches.
	WorldID string
}

// Option mutates a Config under construction, mirroring the functional
// options idiom used throughout this codebase's configuration surfaces.
type Option func(*Config)

// WithRingSize overrides the snapshot ring depth (realtime only; lockstep
// always uses a 2-slot ping-pong ring regardless of this setting).
func WithRingSize(n int) Option { return func(c *Config) { c.RingSize = n } }

// WithRealtime marks this config for the realtime-async driver and sets its
// dedicated egress worker pool size.
func WithRealtime(egressWorkers int) Option {
	return func(c *Config) { c.Realtime = true; c.EgressWorkers = egressWorkers }
}

// WithMaxEpochHold overrides the egress worker pin budget (default 100ms).
func WithMaxEpochHold(d time.Duration) Option { return func(c *Config) { c.MaxEpochHold = d } }

// WithTickRateHz sets the realtime driver's best-effort pacing target.
func WithTickRateHz(hz float64) Option { return func(c *Config) { c.TickRateHz = hz } }

// WithTickBudget bounds how many ingress commands one tick will drain.
func WithTickBudget(n int) Option { return func(c *Config) { c.TickBudget = n } }

// WithMaxConsecutiveRollbacks overrides the tick_disabled latch threshold
// (default 3).
func WithMaxConsecutiveRollbacks(n int) Option {
	return func(c *Config) { c.MaxConsecutiveRollbacks = n }
}

// WithNanSentinel enables post-propagation finiteness validation of every
// written field slice.
func WithNanSentinel(enabled bool) Option { return func(c *Config) { c.NanSentinel = enabled } }

// WithDebugFullWriteCoverage sets the arena's FullWriteGuard coverage flag
// (§4.1), which only affects guards obtained from arena.AllocPerTickFull.
// The tick engine's propagator write path allocates through AllocPerTick
// and does not track per-cell coverage.
func WithDebugFullWriteCoverage(enabled bool) Option {
	return func(c *Config) { c.DebugFullWriteCoverage = enabled }
}

// WithArenaSizing overrides the per-segment byte budget and maximum segment
// count the arena allocates per space.
func WithArenaSizing(segmentBytes, maxSegments int) Option {
	return func(c *Config) { c.ArenaSegmentBytes = segmentBytes; c.ArenaMaxSegments = maxSegments }
}

// WithIngress overrides the default ingress.Config.
func WithIngress(cfg ingress.Config) Option { return func(c *Config) { c.Ingress = cfg } }

// WithApplier registers the world-specific Move/Spawn/Despawn/Custom
// command applier (§4.4 step 2).
func WithApplier(a CommandApplier) Option { return func(c *Config) { c.Applier = a } }

// WithMetrics installs a Prometheus-backed obs.Sink in place of the default
// no-op sink (teacher idiom: metrics are opt-in, and the hot path never
// pays for them unless a registry is supplied).
func WithMetrics(sink obs.Sink) Option { return func(c *Config) { c.Metrics = sink } }

// WithLogger plugs an external zap.Logger. The engine never logs on the hot
// tick path; only slow/rare events (rollback, tick_disabled latch, shutdown
// phase transitions) are emitted.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithWorldID overrides the generated WorldID, for tests and replay
// comparisons that need a deterministic value.
func WithWorldID(id string) Option { return func(c *Config) { c.WorldID = id } }

// NewConfig builds a Config from its mandatory fields plus Options, filling
// defaults and validating before returning.
func NewConfig(fields []murk.FieldSpec, props []pipeline.Propagator, space pipeline.Space, dt float64, seed uint64, opts ...Option) (*Config, error) {
	c := &Config{
		Fields:                  fields,
		Propagators:             props,
		Space:                   space,
		Dt:                      dt,
		Seed:                    seed,
		RingSize:                2,
		EgressWorkers:           0,
		MaxEpochHold:            100 * time.Millisecond,
		TickRateHz:              60,
		TickBudget:              256,
		MaxConsecutiveRollbacks: 3,
		ArenaSegmentBytes:       1 << 20,
		ArenaMaxSegments:        64,
		Ingress:                 ingress.DefaultConfig(),
		Metrics:                 obs.Noop,
		Logger:                  zap.NewNop(),
		WorldID:                 uuid.NewString(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.Metrics == nil {
		c.Metrics = obs.Noop
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if math.IsNaN(c.Dt) || math.IsInf(c.Dt, 0) || c.Dt <= 0 {
		return murk.NewError(murk.CodeDtOutOfRange, "dt")
	}
	if len(c.Fields) == 0 {
		return murk.NewError(murk.CodeConfigError, "fields")
	}
	if len(c.Propagators) == 0 {
		return murk.NewError(murk.CodeConfigError, "propagators")
	}
	if c.RingSize < 2 {
		return murk.NewError(murk.CodeConfigError, "ring_size")
	}
	if c.Realtime && c.EgressWorkers < 0 {
		return murk.NewError(murk.CodeConfigError, "egress_workers")
	}
	if c.MaxConsecutiveRollbacks <= 0 {
		return murk.NewError(murk.CodeConfigError, "max_consecutive_rollbacks")
	}
	if c.TickBudget <= 0 {
		return murk.NewError(murk.CodeConfigError, "tick_budget")
	}
	if c.ArenaSegmentBytes <= 0 || c.ArenaMaxSegments <= 0 {
		return murk.NewError(murk.CodeConfigError, "arena_sizing")
	}
	return nil
}

// ConfigHash is a stable digest of the construction-time configuration
// recorded in replay init descriptors and checked on replay-read against
// the live engine's config (§4.7, CodeConfigMismatch). It covers the field
// schema, dt, seed, ring size, tick budget, rollback threshold, and the
// ingress capacity and backoff parameters; other settings (NaN sentinel,
// arena sizing, realtime options) are not hashed. Propagators and Space are excluded since they are
// not serialisable — their effects are captured indirectly by the
// resulting snapshot hash sequence.
func (c *Config) ConfigHash() uint64 {
	h := xxhash.New()
	var buf [8]byte

	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	putF64 := func(v float64) { putU64(mathFloatBits(v)) }

	putU64(uint64(len(c.Fields)))
	for _, f := range c.Fields {
		putU64(uint64(f.ID))
		putU64(uint64(f.Mutability))
		putU64(uint64(f.Type.Kind))
		putU64(uint64(f.Type.Width))
		putU64(uint64(f.CellCount))
		h.WriteString(f.Name)
	}
	putF64(c.Dt)
	putU64(c.Seed)
	putU64(uint64(c.RingSize))
	putU64(uint64(c.TickBudget))
	putU64(uint64(c.MaxConsecutiveRollbacks))
	putU64(uint64(c.Ingress.Capacity))
	putU64(uint64(c.Ingress.InitialMaxSkew))
	putU64(uint64(c.Ingress.MaxSkewCap))
	putF64(c.Ingress.BackoffFactor)
	putF64(c.Ingress.RejectionRateThreshold)
	putU64(uint64(c.Ingress.DecayRate))

	return h.Sum64()
}
