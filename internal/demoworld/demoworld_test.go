package demoworld

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/murk-sim/murk"
	"github.com/murk-sim/murk/pipeline"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestRingNeighboursWrapAround(t *testing.T) {
	r := ring{n: 4}
	var dst []int
	got := r.Neighbours(0, dst[:0])
	if len(got) != 2 || got[0] != 3 || got[1] != 1 {
		t.Fatalf("cell 0: want [3 1], got %v", got)
	}
	got = r.Neighbours(3, dst[:0])
	if len(got) != 2 || got[0] != 2 || got[1] != 0 {
		t.Fatalf("cell 3: want [2 0] (wrapping to 0), got %v", got)
	}
}

func newDiffuseContext(prev []float32, rate float64, n int) (*pipeline.Context, *[]float32) {
	var out []float32
	readPrevFn := func(murk.FieldId) ([]float32, bool) { return prev, true }
	writeFn := func(id murk.FieldId, elems int) ([]float32, murk.FieldHandle, error) {
		out = make([]float32, elems)
		return out, murk.FieldHandle{}, nil
	}
	ctx := pipeline.NewContext(ring{n: n}, 1, 1.0, nil, nil, readPrevFn, writeFn)
	return ctx, &out
}

func TestDiffuseStepLeavesUniformFieldUnchanged(t *testing.T) {
	prev := []float32{5, 5, 5, 5}
	ctx, out := newDiffuseContext(prev, 0.1, 4)
	d := diffuseStep{rate: 0.1}
	if err := d.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	for i, v := range *out {
		if v != 5 {
			t.Fatalf("cell %d: want unchanged 5, got %v", i, v)
		}
	}
}

func TestDiffuseStepSpreadsASpikeAccordingToRateAndDt(t *testing.T) {
	prev := []float32{0, 0, 10}
	ctx, out := newDiffuseContext(prev, 0.1, 3)
	d := diffuseStep{rate: 0.1}
	if err := d.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	want := []float32{1, 1, 8}
	for i, w := range want {
		if math.Abs(float64((*out)[i]-w)) > 1e-5 {
			t.Fatalf("cell %d: want %v, got %v", i, w, (*out)[i])
		}
	}
}

func TestDiffuseStepMaxDtForSpaceScalesWithDegree(t *testing.T) {
	d := diffuseStep{rate: 0.5}
	bound, ok := d.MaxDtForSpace(ring{n: 8})
	if !ok {
		t.Fatal("expected a space-aware bound")
	}
	want := 1 / (0.5 * 2)
	if bound != want {
		t.Fatalf("want %v, got %v", want, bound)
	}
}

func TestDefaultConfigIsInternallyConsistent(t *testing.T) {
	c := DefaultConfig()
	if c.World.Cells <= 0 || c.World.Dt <= 0 {
		t.Fatalf("default world config looks uninitialised: %+v", c.World)
	}
	if c.MaxEpochHold().Milliseconds() != int64(c.Engine.MaxEpochHoldMillis) {
		t.Fatalf("MaxEpochHold mismatch: want %dms, got %v", c.Engine.MaxEpochHoldMillis, c.MaxEpochHold())
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.toml")
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c != DefaultConfig() {
		t.Fatalf("want defaults for a missing file, got %+v", c)
	}
}

func TestLoadConfigOverlaysFileOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "murk.toml")
	writeFile(t, path, "[world]\ncells = 128\n")

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.World.Cells != 128 {
		t.Fatalf("want overridden cells=128, got %d", c.World.Cells)
	}
	if c.World.Dt != DefaultConfig().World.Dt {
		t.Fatalf("want untouched fields to keep their default, got dt=%v", c.World.Dt)
	}
}
