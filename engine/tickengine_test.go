package engine

import (
	"testing"

	"github.com/murk-sim/murk"
	"github.com/murk-sim/murk/pipeline"
)

const (
	fieldIn murk.FieldId = iota
	fieldOut
)

type lineSpace struct{ cells int }

func (s lineSpace) CellCount() int { return s.cells }
func (s lineSpace) MaxDegree() int { return 2 }
func (s lineSpace) Neighbours(cell int, dst []int) []int {
	if cell > 0 {
		dst = append(dst, cell-1)
	}
	if cell < s.cells-1 {
		dst = append(dst, cell+1)
	}
	return dst
}

func testFields() []murk.FieldSpec {
	return []murk.FieldSpec{
		{ID: fieldIn, Name: "in", Mutability: murk.PerTick, CellCount: 4},
		{ID: fieldOut, Name: "out", Mutability: murk.PerTick, CellCount: 4},
	}
}

// incrementProp writes fieldOut = fieldIn + 1 every tick, unless told to fail.
type incrementProp struct {
	fail   bool
	nanOut bool
}

func (p *incrementProp) Name() string                 { return "increment" }
func (p *incrementProp) Reads() []murk.FieldId         { return []murk.FieldId{fieldIn} }
func (p *incrementProp) ReadsPrevious() []murk.FieldId { return nil }
func (p *incrementProp) Writes() []pipeline.WriteDecl {
	return []pipeline.WriteDecl{{Field: fieldOut, Mode: murk.Full}}
}
func (p *incrementProp) MaxDt() (float64, bool) { return 0, false }
func (p *incrementProp) ScratchBytes() int      { return 0 }

func (p *incrementProp) Step(ctx *pipeline.Context) error {
	if p.fail {
		return murk.NewError(murk.CodePropagatorFailed, "increment")
	}
	in, _ := ctx.Read(fieldIn)
	out, _, err := ctx.Write(fieldOut, len(in))
	if err != nil {
		return err
	}
	for i, v := range in {
		if p.nanOut {
			out[i] = float32(mathNaN())
			continue
		}
		out[i] = v + 1
	}
	return nil
}

func mathNaN() float64 {
	var zero float64
	return zero / zero
}

func newTestEngine(t *testing.T, props []pipeline.Propagator, opts ...Option) *TickEngine {
	t.Helper()
	cfg, err := NewConfig(testFields(), props, lineSpace{cells: 4}, 1.0, 1, opts...)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	e, err := NewTickEngine(cfg)
	if err != nil {
		t.Fatalf("NewTickEngine: %v", err)
	}
	return e
}

func TestTickPublishesAndAdvancesGeneration(t *testing.T) {
	e := newTestEngine(t, []pipeline.Propagator{&incrementProp{}})
	report, err := e.Tick()
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if report.RolledBack || report.Disabled {
		t.Fatalf("expected a clean tick, got %+v", report)
	}
	if report.TickID != 1 {
		t.Fatalf("want tick 1, got %d", report.TickID)
	}
	snap := e.Snapshot()
	if snap.TickID() != 1 {
		t.Fatalf("want snapshot at tick 1, got %d", snap.TickID())
	}
}

func TestTickRollsBackOnPropagatorError(t *testing.T) {
	e := newTestEngine(t, []pipeline.Propagator{&incrementProp{fail: true}})
	report, err := e.Tick()
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !report.RolledBack {
		t.Fatal("expected RolledBack=true")
	}
	if e.arena.PublishedGeneration() != 0 {
		t.Fatalf("rollback must not advance published generation, got %d", e.arena.PublishedGeneration())
	}
}

func TestTickDisabledLatchesAfterConsecutiveRollbacks(t *testing.T) {
	e := newTestEngine(t, []pipeline.Propagator{&incrementProp{fail: true}}, WithMaxConsecutiveRollbacks(2))
	r1, err := e.Tick()
	if err != nil {
		t.Fatalf("Tick 1: %v", err)
	}
	if r1.Disabled {
		t.Fatal("should not be disabled after a single rollback")
	}
	r2, err := e.Tick()
	if err != nil {
		t.Fatalf("Tick 2: %v", err)
	}
	if !r2.Disabled {
		t.Fatal("expected tick_disabled to latch on the second consecutive rollback")
	}
	if _, err := e.Tick(); err == nil {
		t.Fatal("expected further Tick calls to fail once disabled")
	} else if code, ok := murk.CodeOf(err); !ok || code != murk.CodeTickDisabled {
		t.Fatalf("want CodeTickDisabled, got %v", err)
	}
}

func TestTickNanSentinelTriggersRollback(t *testing.T) {
	e := newTestEngine(t, []pipeline.Propagator{&incrementProp{nanOut: true}}, WithNanSentinel(true))
	report, err := e.Tick()
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !report.RolledBack {
		t.Fatal("expected a NaN-triggered rollback")
	}
}

func TestSuccessfulTickResetsConsecutiveRollbackCounter(t *testing.T) {
	fail := &incrementProp{fail: true}
	e := newTestEngine(t, []pipeline.Propagator{fail}, WithMaxConsecutiveRollbacks(2))
	if _, err := e.Tick(); err != nil {
		t.Fatalf("Tick 1: %v", err)
	}
	fail.fail = false
	if _, err := e.Tick(); err != nil {
		t.Fatalf("Tick 2: %v", err)
	}
	fail.fail = true
	r3, err := e.Tick()
	if err != nil {
		t.Fatalf("Tick 3: %v", err)
	}
	if r3.Disabled {
		t.Fatal("a successful tick in between must reset the consecutive rollback count")
	}
}

func TestSetParameterIncrementsParameterVersion(t *testing.T) {
	e := newTestEngine(t, []pipeline.Propagator{&incrementProp{}})
	name := "gravity"
	v0 := e.ParameterVersion()
	e.Submit([]murk.Command{{Payload: murk.PayloadSetParameter, SetParm: &murk.SetParameterPayload{Name: name, Value: 9.8}}})
	if _, err := e.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if e.ParameterVersion() != v0+1 {
		t.Fatalf("want parameter version %d, got %d", v0+1, e.ParameterVersion())
	}
}

func TestSetParameterBatchIncrementsVersionOnce(t *testing.T) {
	e := newTestEngine(t, []pipeline.Propagator{&incrementProp{}})
	v0 := e.ParameterVersion()
	e.Submit([]murk.Command{{
		Payload: murk.PayloadSetParameterBatch,
		SetBatc: &murk.SetParameterBatchPayload{Entries: map[string]float64{"a": 1, "b": 2}},
	}})
	if _, err := e.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if e.ParameterVersion() != v0+1 {
		t.Fatalf("want a single version bump for a batch, got delta %d", e.ParameterVersion()-v0)
	}
}

func TestSetFieldToUntouchedPerTickFieldDoesNotMutatePreviousGeneration(t *testing.T) {
	e := newTestEngine(t, []pipeline.Propagator{&incrementProp{}}, WithRingSize(4))
	e.Submit([]murk.Command{{
		Payload: murk.PayloadSetField,
		SetFld:  &murk.SetFieldPayload{Field: fieldIn, Cell: 0, Values: []float32{1}},
	}})
	if _, err := e.Tick(); err != nil {
		t.Fatalf("Tick 1: %v", err)
	}
	snap1 := e.Snapshot()
	before, ok := snap1.ReadField(fieldIn)
	if !ok {
		t.Fatal("expected fieldIn to be readable after tick 1")
	}
	wantUnchanged := append([]float32(nil), before...)

	// Tick 2 writes a different cell of the same PerTick field without
	// first reading/writing it through a propagator; this must stage a
	// fresh generation-2 allocation, not overlay generation 1's published
	// memory in place.
	e.Submit([]murk.Command{{
		Payload: murk.PayloadSetField,
		SetFld:  &murk.SetFieldPayload{Field: fieldIn, Cell: 1, Values: []float32{99}},
	}})
	if _, err := e.Tick(); err != nil {
		t.Fatalf("Tick 2: %v", err)
	}

	after, ok := snap1.ReadField(fieldIn)
	if !ok {
		t.Fatal("expected the tick-1 snapshot to still resolve after tick 2")
	}
	for i := range wantUnchanged {
		if after[i] != wantUnchanged[i] {
			t.Fatalf("tick 1's published snapshot was mutated by tick 2's SetField: want %v, got %v", wantUnchanged, after)
		}
	}
}

func TestSetFieldUnknownFieldIsRejectedWithoutRollback(t *testing.T) {
	e := newTestEngine(t, []pipeline.Propagator{&incrementProp{}})
	receipts := e.Submit([]murk.Command{{
		Payload: murk.PayloadSetField,
		SetFld:  &murk.SetFieldPayload{Field: 99, Cell: 0, Values: []float32{1}},
	}})
	if !receipts[0].Accepted {
		t.Fatalf("expected the command to be accepted into ingress, got %+v", receipts[0])
	}
	report, err := e.Tick()
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if report.RolledBack {
		t.Fatal("an unknown-field command must fail its own receipt, not roll back the whole tick")
	}
	var found bool
	for _, r := range report.Receipts {
		if r.HasApplied && r.Code == murk.CodeUnknownField {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected one receipt with CodeUnknownField, got %+v", report.Receipts)
	}
}

func TestResetClearsStateAndRollbackLatch(t *testing.T) {
	e := newTestEngine(t, []pipeline.Propagator{&incrementProp{fail: true}}, WithMaxConsecutiveRollbacks(1))
	if _, err := e.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !e.TickDisabled() {
		t.Fatal("expected tick_disabled after one rollback at threshold 1")
	}
	if err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if e.TickDisabled() {
		t.Fatal("expected tick_disabled to clear after Reset")
	}
	if e.ParameterVersion() != 0 {
		t.Fatalf("expected parameter version to reset to 0, got %d", e.ParameterVersion())
	}
}

func TestLockstepStepAppliesOneTickAndReturnsSnapshot(t *testing.T) {
	cfg, err := NewConfig(testFields(), []pipeline.Propagator{&incrementProp{}}, lineSpace{cells: 4}, 1.0, 1)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	w, err := NewLockstepWorld(cfg)
	if err != nil {
		t.Fatalf("NewLockstepWorld: %v", err)
	}
	snap, receipts, err := w.Step(nil)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(receipts) != 0 {
		t.Fatalf("want no receipts for an empty command batch, got %+v", receipts)
	}
	if snap.TickID() != 1 {
		t.Fatalf("want tick 1 after one Step, got %d", snap.TickID())
	}
}

func TestLockstepWorldForcesTwoSlotRing(t *testing.T) {
	cfg, err := NewConfig(testFields(), []pipeline.Propagator{&incrementProp{}}, lineSpace{cells: 4}, 1.0, 1, WithRingSize(8))
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	w, err := NewLockstepWorld(cfg)
	if err != nil {
		t.Fatalf("NewLockstepWorld: %v", err)
	}
	if cfg.RingSize != 2 {
		t.Fatalf("want NewLockstepWorld to force RingSize=2, got %d", cfg.RingSize)
	}
	for i := 0; i < 4; i++ {
		if _, _, err := w.Step(nil); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
}
