package demoworld

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml"
)

// UserConfig is the on-disk TOML shape for murk-server, layered under
// command-line flags and functional options the same way dragonfly layers
// its server.toml under Config.Listeners/Allower (§10.3).
type UserConfig struct {
	World struct {
		Cells       int     `toml:"cells"`
		DiffuseRate float64 `toml:"diffuse_rate"`
		Dt          float64 `toml:"dt"`
		Seed        uint64  `toml:"seed"`
	}
	Engine struct {
		RingSize                int `toml:"ring_size"`
		EgressWorkers           int `toml:"egress_workers"`
		TickRateHz              float64 `toml:"tick_rate_hz"`
		TickBudget              int `toml:"tick_budget"`
		MaxConsecutiveRollbacks int `toml:"max_consecutive_rollbacks"`
		MaxEpochHoldMillis      int `toml:"max_epoch_hold_millis"`
	}
	Ingress struct {
		Capacity               int     `toml:"capacity"`
		InitialMaxSkew         int     `toml:"initial_max_skew"`
		MaxSkewCap             int     `toml:"max_skew_cap"`
		BackoffFactor          float64 `toml:"backoff_factor"`
		RejectionRateThreshold float64 `toml:"rejection_rate_threshold"`
		DecayRate              int     `toml:"decay_rate"`
	}
	Observability struct {
		MetricsAddr string `toml:"metrics_addr"`
	}
}

// DefaultConfig mirrors the teacher pack's DefaultConfig idiom: a fully
// populated UserConfig a fresh deployment can run with unmodified.
func DefaultConfig() UserConfig {
	var c UserConfig
	c.World.Cells = 64
	c.World.DiffuseRate = 0.2
	c.World.Dt = 0.05
	c.World.Seed = 1
	c.Engine.RingSize = 8
	c.Engine.EgressWorkers = 2
	c.Engine.TickRateHz = 60
	c.Engine.TickBudget = 256
	c.Engine.MaxConsecutiveRollbacks = 3
	c.Engine.MaxEpochHoldMillis = 100
	c.Ingress.Capacity = 1024
	c.Ingress.InitialMaxSkew = 0
	c.Ingress.MaxSkewCap = 10
	c.Ingress.BackoffFactor = 1.5
	c.Ingress.RejectionRateThreshold = 0.20
	c.Ingress.DecayRate = 60
	c.Observability.MetricsAddr = ":9090"
	return c
}

// LoadConfig reads a TOML file at path, falling back to DefaultConfig for
// every field the file doesn't set. A missing file is not an error — the
// defaults apply; nothing is written back to disk.
func LoadConfig(path string) (UserConfig, error) {
	c := DefaultConfig()
	contents, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(contents, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// MaxEpochHold returns the configured egress worker pin budget as a
// time.Duration.
func (c UserConfig) MaxEpochHold() time.Duration {
	return time.Duration(c.Engine.MaxEpochHoldMillis) * time.Millisecond
}
