// Package obs is a thin abstraction over Prometheus so the engine and its
// drivers can be used with or without metrics. When the caller passes a
// *prometheus.Registry to New, unlabeled collectors are created and registered;
// otherwise a no-op sink is used and the tick hot-path pays nothing for
// metric updates.
//
// All metrics are process-level (a murk process runs one engine); a caller
// embedding multiple engines should register each against its own registry
// and distinguish them with external relabeling rather than a label this
// package adds itself.
//
//	┌──────────────────────────────┬───────┐
//	│ Metric                       │ Type  │
//	├──────────────────────────────┼───────┤
//	│ murk_tick_duration_seconds    │ Hist  │
//	│ murk_ticks_total              │ Ctr   │
//	│ murk_rollbacks_total          │ Ctr   │
//	│ murk_tick_disabled            │ Gge   │
//	│ murk_ingress_depth            │ Gge   │
//	│ murk_ingress_rejected_total   │ Ctr   │
//	│ murk_ring_occupancy           │ Gge   │
//	│ murk_max_tick_skew            │ Gge   │
//	│ murk_shutdown_phase           │ Gge   │
//	└──────────────────────────────┴───────┘
package obs

import "github.com/prometheus/client_golang/prometheus"

// Sink is the interface the engine and drivers call against. It is
// implemented by both promSink and noopSink; callers never see the concrete
// type.
type Sink interface {
	ObserveTickDuration(seconds float64)
	IncRollback()
	SetTickDisabled(disabled bool)
	SetIngressDepth(depth int)
	IncIngressRejected()
	SetRingOccupancy(n int)
	SetMaxTickSkew(n int)
	SetShutdownPhase(phase int)
}

type noopSink struct{}

func (noopSink) ObserveTickDuration(float64) {}
func (noopSink) IncRollback()                {}
func (noopSink) SetTickDisabled(bool)        {}
func (noopSink) SetIngressDepth(int)         {}
func (noopSink) IncIngressRejected()         {}
func (noopSink) SetRingOccupancy(int)        {}
func (noopSink) SetMaxTickSkew(int)          {}
func (noopSink) SetShutdownPhase(int)        {}

// Noop is a Sink that discards every observation.
var Noop Sink = noopSink{}

type promSink struct {
	tickDuration     prometheus.Histogram
	ticksTotal       prometheus.Counter
	rollbacksTotal   prometheus.Counter
	tickDisabled     prometheus.Gauge
	ingressDepth     prometheus.Gauge
	ingressRejected  prometheus.Counter
	ringOccupancy    prometheus.Gauge
	maxTickSkew      prometheus.Gauge
	shutdownPhase    prometheus.Gauge
}

// New builds a Prometheus-backed Sink and registers its collectors against
// reg. Passing a nil registry returns Noop, mirroring the teacher's
// disable-by-omitting-a-registry convention.
func New(reg *prometheus.Registry) Sink {
	if reg == nil {
		return Noop
	}
	p := &promSink{
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "murk",
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent executing one tick, including rolled-back ticks.",
			Buckets:   prometheus.DefBuckets,
		}),
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "murk",
			Name:      "ticks_total",
			Help:      "Number of ticks executed, published or rolled back.",
		}),
		rollbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "murk",
			Name:      "rollbacks_total",
			Help:      "Number of ticks abandoned due to a propagator error or NaN-sentinel violation.",
		}),
		tickDisabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "murk",
			Name:      "tick_disabled",
			Help:      "1 if the engine has latched tick_disabled after consecutive rollbacks, else 0.",
		}),
		ingressDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "murk",
			Name:      "ingress_depth",
			Help:      "Number of commands currently queued awaiting a tick.",
		}),
		ingressRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "murk",
			Name:      "ingress_rejected_total",
			Help:      "Number of commands rejected at drain time (expired or skew-exceeded).",
		}),
		ringOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "murk",
			Name:      "ring_occupancy",
			Help:      "Number of generations currently retained in the arena ring.",
		}),
		maxTickSkew: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "murk",
			Name:      "max_tick_skew",
			Help:      "Current adaptive max_tick_skew backoff value.",
		}),
		shutdownPhase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "murk",
			Name:      "shutdown_phase",
			Help:      "Current realtime shutdown phase (0=Running,1=Draining,2=Quiescing,3=Dropped).",
		}),
	}
	reg.MustRegister(p.tickDuration, p.ticksTotal, p.rollbacksTotal, p.tickDisabled,
		p.ingressDepth, p.ingressRejected, p.ringOccupancy, p.maxTickSkew, p.shutdownPhase)
	return p
}

func (p *promSink) ObserveTickDuration(seconds float64) {
	p.tickDuration.Observe(seconds)
	p.ticksTotal.Inc()
}
func (p *promSink) IncRollback() { p.rollbacksTotal.Inc() }
func (p *promSink) SetTickDisabled(disabled bool) {
	if disabled {
		p.tickDisabled.Set(1)
		return
	}
	p.tickDisabled.Set(0)
}
func (p *promSink) SetIngressDepth(depth int)  { p.ingressDepth.Set(float64(depth)) }
func (p *promSink) IncIngressRejected()        { p.ingressRejected.Inc() }
func (p *promSink) SetRingOccupancy(n int)     { p.ringOccupancy.Set(float64(n)) }
func (p *promSink) SetMaxTickSkew(n int)       { p.maxTickSkew.Set(float64(n)) }
func (p *promSink) SetShutdownPhase(phase int) { p.shutdownPhase.Set(float64(phase)) }
