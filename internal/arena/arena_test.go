package arena

import (
	"testing"
	"time"

	"github.com/murk-sim/murk"
)

const (
	fieldStatic murk.FieldId = iota
	fieldPerTick
	fieldSparse
)

func testSchema() []murk.FieldSpec {
	return []murk.FieldSpec{
		{ID: fieldStatic, Name: "static", Mutability: murk.Static, CellCount: 4},
		{ID: fieldPerTick, Name: "pertick", Mutability: murk.PerTick, CellCount: 4},
		{ID: fieldSparse, Name: "sparse", Mutability: murk.Sparse, CellCount: 4},
	}
}

func newTestArena(t *testing.T, ringSize int, realtime bool, workers int) *Arena {
	t.Helper()
	a, err := New(Config{
		Fields:       testSchema(),
		SegmentBytes: 4096,
		RingSize:     ringSize,
		Realtime:     realtime,
		EgressWorkers: workers,
		MaxEpochHold: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewRejectsDuplicateFieldID(t *testing.T) {
	_, err := New(Config{
		Fields: []murk.FieldSpec{
			{ID: fieldStatic, Name: "a"},
			{ID: fieldStatic, Name: "b"},
		},
		SegmentBytes: 4096,
		RingSize:     2,
	})
	if err == nil {
		t.Fatal("expected an error for duplicate field id")
	}
}

func TestNewRejectsNonPowerOfTwoSegmentBytes(t *testing.T) {
	_, err := New(Config{
		Fields:       testSchema(),
		SegmentBytes: 1000,
		RingSize:     2,
	})
	if err == nil {
		t.Fatal("expected an error for a non-power-of-two segment size")
	}
}

func TestPerTickWriteIsVisibleAfterPublish(t *testing.T) {
	a := newTestArena(t, 2, false, 0)
	wv, err := a.WriteArena()
	if err != nil {
		t.Fatalf("WriteArena: %v", err)
	}
	slice, _, err := wv.AllocPerTick(fieldPerTick, 4)
	if err != nil {
		t.Fatalf("AllocPerTick: %v", err)
	}
	for i := range slice {
		slice[i] = float32(i)
	}
	if err := a.Publish(wv); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	view := a.ReadArena()
	got, ok := view.ReadField(fieldPerTick)
	if !ok {
		t.Fatal("expected the published field to be readable")
	}
	for i, v := range got {
		if v != float32(i) {
			t.Fatalf("element %d: want %v, got %v", i, float32(i), v)
		}
	}
}

func TestAbandonDiscardsStagedWrite(t *testing.T) {
	a := newTestArena(t, 2, false, 0)
	wv, err := a.WriteArena()
	if err != nil {
		t.Fatalf("WriteArena: %v", err)
	}
	a.Abandon(wv)

	if _, err := a.WriteArena(); err != nil {
		t.Fatalf("WriteArena after Abandon should succeed, got %v", err)
	}
	if a.PublishedGeneration() != 0 {
		t.Fatalf("abandon must not advance published generation, got %d", a.PublishedGeneration())
	}
}

func TestWriteArenaRejectsDoubleStage(t *testing.T) {
	a := newTestArena(t, 2, false, 0)
	if _, err := a.WriteArena(); err != nil {
		t.Fatalf("WriteArena: %v", err)
	}
	if _, err := a.WriteArena(); err == nil {
		t.Fatal("expected an error staging a second write before publish/abandon")
	}
}

func TestStaticFieldIsReadableWithoutAnyWrite(t *testing.T) {
	a := newTestArena(t, 2, false, 0)
	view := a.ReadArena()
	got, ok := view.ReadField(fieldStatic)
	if !ok {
		t.Fatal("static field should resolve from construction")
	}
	if len(got) != 4 {
		t.Fatalf("want 4 elements, got %d", len(got))
	}
}

func TestSparseFieldReuseInSameGenerationKeepsHandle(t *testing.T) {
	a := newTestArena(t, 2, false, 0)
	wv, err := a.WriteArena()
	if err != nil {
		t.Fatalf("WriteArena: %v", err)
	}
	_, h1, err := wv.WriteSparse(fieldSparse, 4)
	if err != nil {
		t.Fatalf("WriteSparse: %v", err)
	}
	_, h2, err := wv.WriteSparse(fieldSparse, 4)
	if err != nil {
		t.Fatalf("WriteSparse (re-entry): %v", err)
	}
	if h1 != h2 {
		t.Fatalf("re-entering WriteSparse in the same generation must reuse the handle, got %+v vs %+v", h1, h2)
	}
}

func TestSparseFieldPersistsAcrossUntouchedGenerations(t *testing.T) {
	a := newTestArena(t, 4, false, 0)
	wv, err := a.WriteArena()
	if err != nil {
		t.Fatalf("WriteArena: %v", err)
	}
	slice, _, err := wv.WriteSparse(fieldSparse, 4)
	if err != nil {
		t.Fatalf("WriteSparse: %v", err)
	}
	slice[0] = 42
	if err := a.Publish(wv); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Next generation never touches fieldSparse; it must still resolve to
	// the same value via copy-on-write carry-forward.
	wv2, err := a.WriteArena()
	if err != nil {
		t.Fatalf("WriteArena: %v", err)
	}
	if err := a.Publish(wv2); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got, ok := a.ReadArena().ReadField(fieldSparse)
	if !ok {
		t.Fatal("expected sparse field to carry forward untouched")
	}
	if got[0] != 42 {
		t.Fatalf("want carried-forward value 42, got %v", got[0])
	}
}

func TestLockstepRingRecyclesWithoutEpochGating(t *testing.T) {
	a := newTestArena(t, 2, false, 0)
	for i := 0; i < 5; i++ {
		wv, err := a.WriteArena()
		if err != nil {
			t.Fatalf("WriteArena iteration %d: %v", i, err)
		}
		if err := a.Publish(wv); err != nil {
			t.Fatalf("Publish iteration %d: %v", i, err)
		}
	}
	if a.PublishedGeneration() != 5 {
		t.Fatalf("want generation 5, got %d", a.PublishedGeneration())
	}
}

func TestRealtimeWriteArenaBlocksUntilPinQuiesces(t *testing.T) {
	a := newTestArena(t, 2, true, 1)
	pin := a.EgressWorker(0)

	// Publish generation 1, pin it from worker 0.
	wv, err := a.WriteArena()
	if err != nil {
		t.Fatalf("WriteArena: %v", err)
	}
	if err := a.Publish(wv); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	a.Pin(0, a.PublishedGeneration())

	// Publish generation 2: ring size 2 means slot 0 (gen 0) is free, so
	// this one succeeds regardless of the pin on gen 1.
	wv2, err := a.WriteArena()
	if err != nil {
		t.Fatalf("WriteArena (gen 2): %v", err)
	}
	if err := a.Publish(wv2); err != nil {
		t.Fatalf("Publish (gen 2): %v", err)
	}

	// Publish generation 3 reuses slot for gen 1, which is still pinned and
	// within MaxEpochHold: must be rejected.
	if _, err := a.WriteArena(); err == nil {
		t.Fatal("expected WriteArena to reject reclaiming a pinned, unexpired generation")
	}

	a.Unpin(0)
	pinCheck, _, pinned := pin.Snapshot()
	if pinned {
		t.Fatalf("expected worker 0 to be unpinned, still shows gen %d", pinCheck)
	}

	if _, err := a.WriteArena(); err != nil {
		t.Fatalf("expected WriteArena to succeed once the pin is released, got %v", err)
	}
}

func TestForceUnpinAfterMaxEpochHoldAllowsReclamation(t *testing.T) {
	a := newTestArena(t, 2, true, 1)
	wv, err := a.WriteArena()
	if err != nil {
		t.Fatalf("WriteArena: %v", err)
	}
	if err := a.Publish(wv); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	a.Pin(0, a.PublishedGeneration())

	wv2, err := a.WriteArena()
	if err != nil {
		t.Fatalf("WriteArena (gen 2): %v", err)
	}
	if err := a.Publish(wv2); err != nil {
		t.Fatalf("Publish (gen 2): %v", err)
	}

	time.Sleep(60 * time.Millisecond) // exceed the 50ms MaxEpochHold
	if _, err := a.WriteArena(); err != nil {
		t.Fatalf("expected the stale pin to be force-unpinned and reclamation to proceed, got %v", err)
	}
}

func TestResolveRejectsHandleOlderThanRingWindow(t *testing.T) {
	a := newTestArena(t, 2, false, 0)
	wv, err := a.WriteArena()
	if err != nil {
		t.Fatalf("WriteArena: %v", err)
	}
	_, h, err := wv.AllocPerTick(fieldPerTick, 4)
	if err != nil {
		t.Fatalf("AllocPerTick: %v", err)
	}
	if err := a.Publish(wv); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for i := 0; i < 3; i++ {
		wv, err := a.WriteArena()
		if err != nil {
			t.Fatalf("WriteArena loop: %v", err)
		}
		if err := a.Publish(wv); err != nil {
			t.Fatalf("Publish loop: %v", err)
		}
	}

	if _, ok := a.Resolve(h); ok {
		t.Fatal("expected a handle outside the live ring window to fail to resolve")
	}
}

func TestRingOccupancyAndOldestRetained(t *testing.T) {
	a := newTestArena(t, 2, false, 0)
	if n := a.RingOccupancy(); n != 1 {
		t.Fatalf("want occupancy 1 right after construction, got %d", n)
	}
	wv, err := a.WriteArena()
	if err != nil {
		t.Fatalf("WriteArena: %v", err)
	}
	if err := a.Publish(wv); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n := a.RingOccupancy(); n != 2 {
		t.Fatalf("want occupancy 2 after one publish with ring size 2, got %d", n)
	}
	oldest, ok := a.OldestRetained()
	if !ok || oldest != 0 {
		t.Fatalf("want oldest retained 0, got %d ok=%v", oldest, ok)
	}
}
