package demoworld

import (
	"go.uber.org/zap"

	"github.com/murk-sim/murk"
	"github.com/murk-sim/murk/engine"
	"github.com/murk-sim/murk/ingress"
	"github.com/murk-sim/murk/obs"
)

// Build constructs the realtime heat-diffusion demo world from a UserConfig,
// shared verbatim by cmd/murk-server and cmd/murk-console so both binaries
// boot the identical field schema, propagator, and space.
func Build(cfg UserConfig, logger *zap.Logger, sink obs.Sink, egress engine.EgressFunc) (*engine.RealtimeWorld, error) {
	fields := []murk.FieldSpec{
		{
			ID:         FieldTemperature,
			Name:       "temperature",
			Type:       murk.ElementType{Kind: murk.ElementScalar},
			Mutability: murk.PerTick,
			Boundary:   murk.Wrap,
			CellCount:  cfg.World.Cells,
		},
	}
	space := ring{n: cfg.World.Cells}

	econf, err := engine.NewConfig(fields,
		demoPropagators(cfg.World.DiffuseRate),
		space,
		cfg.World.Dt,
		cfg.World.Seed,
		engine.WithRingSize(cfg.Engine.RingSize),
		engine.WithRealtime(cfg.Engine.EgressWorkers),
		engine.WithTickRateHz(cfg.Engine.TickRateHz),
		engine.WithTickBudget(cfg.Engine.TickBudget),
		engine.WithMaxConsecutiveRollbacks(cfg.Engine.MaxConsecutiveRollbacks),
		engine.WithMaxEpochHold(cfg.MaxEpochHold()),
		engine.WithIngress(ingress.Config{
			Capacity:               cfg.Ingress.Capacity,
			InitialMaxSkew:         cfg.Ingress.InitialMaxSkew,
			MaxSkewCap:             cfg.Ingress.MaxSkewCap,
			BackoffFactor:          cfg.Ingress.BackoffFactor,
			RejectionRateThreshold: cfg.Ingress.RejectionRateThreshold,
			DecayRate:              cfg.Ingress.DecayRate,
		}),
		engine.WithMetrics(sink),
		engine.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	if egress == nil {
		egress = func(workerID int, snap *engine.Snapshot) error { return nil }
	}
	return engine.NewRealtimeWorld(econf, egress)
}
