package obs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewWithNilRegistryReturnsNoop(t *testing.T) {
	sink := New(nil)
	if sink != Noop {
		t.Fatal("want New(nil) to return the shared Noop sink")
	}
	// Noop must tolerate every call without panicking.
	sink.ObserveTickDuration(0.01)
	sink.IncRollback()
	sink.SetTickDisabled(true)
	sink.SetIngressDepth(3)
	sink.IncIngressRejected()
	sink.SetRingOccupancy(2)
	sink.SetMaxTickSkew(1)
	sink.SetShutdownPhase(0)
}

func TestNewRegistersCollectorsAgainstRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := New(reg)
	if sink == Noop {
		t.Fatal("want a Prometheus-backed sink when a registry is supplied")
	}
	sink.ObserveTickDuration(0.02)
	sink.SetIngressDepth(5)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sawTickDuration, sawIngressDepth bool
	for _, f := range families {
		switch f.GetName() {
		case "murk_tick_duration_seconds":
			sawTickDuration = true
		case "murk_ingress_depth":
			sawIngressDepth = true
		}
	}
	if !sawTickDuration || !sawIngressDepth {
		t.Fatalf("expected registered metric families, got %d families", len(families))
	}
}

func TestRegisteringTwiceAgainstSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("want MustRegister to panic on duplicate collector registration")
		}
	}()
	New(reg)
}
