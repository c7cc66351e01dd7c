package ingress

import "github.com/murk-sim/murk"

// Config parameterises one Queue's capacity and adaptive skew-backoff
// behaviour (§4.3 "Realtime backoff").
type Config struct {
	// Capacity bounds the queue; the N+1-th submission past it receives
	// QueueFull.
	Capacity int
	// InitialMaxSkew is the starting max_tick_skew: commands whose basis
	// tick (the tick in effect when they were submitted) lags the apply
	// tick by more than this are rejected with Stale.
	InitialMaxSkew int
	// MaxSkewCap bounds how far backoff may grow current_max_skew.
	MaxSkewCap int
	// BackoffFactor multiplies current_max_skew when the rejection rate
	// for a drain exceeds RejectionRateThreshold.
	BackoffFactor float64
	// RejectionRateThreshold is the fraction of a drain's commands that
	// must be rejected to trigger growth.
	RejectionRateThreshold float64
	// DecayRate is the number of consecutive rejection-free ticks needed
	// to decay current_max_skew by one.
	DecayRate int
}

// DefaultConfig returns the spec defaults (§4.3).
func DefaultConfig() Config {
	return Config{
		Capacity:               1024,
		InitialMaxSkew:         0,
		MaxSkewCap:             10,
		BackoffFactor:          1.5,
		RejectionRateThreshold: 0.20,
		DecayRate:              60,
	}
}

func (c Config) validate() error {
	if c.Capacity <= 0 {
		return murk.NewError(murk.CodeInvalidConfig, "ingress.capacity")
	}
	if c.MaxSkewCap < 0 {
		return murk.NewError(murk.CodeInvalidConfig, "ingress.max_skew_cap")
	}
	if c.InitialMaxSkew > c.MaxSkewCap {
		return murk.NewError(murk.CodeInvalidConfig, "ingress.initial_max_skew")
	}
	if c.BackoffFactor <= 1.0 {
		return murk.NewError(murk.CodeInvalidConfig, "ingress.backoff_factor")
	}
	if c.RejectionRateThreshold <= 0 || c.RejectionRateThreshold >= 1 {
		return murk.NewError(murk.CodeInvalidConfig, "ingress.rejection_rate_threshold")
	}
	if c.DecayRate <= 0 {
		return murk.NewError(murk.CodeInvalidConfig, "ingress.decay_rate")
	}
	return nil
}
