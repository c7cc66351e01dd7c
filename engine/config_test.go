package engine

import (
	"math"
	"testing"

	"github.com/murk-sim/murk"
	"github.com/murk-sim/murk/pipeline"
)

func TestNewConfigRejectsNonPositiveOrNonFiniteDt(t *testing.T) {
	cases := []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)}
	for _, dt := range cases {
		_, err := NewConfig(testFields(), []pipeline.Propagator{&incrementProp{}}, lineSpace{cells: 4}, dt, 1)
		if code, ok := murk.CodeOf(err); !ok || code != murk.CodeDtOutOfRange {
			t.Fatalf("dt=%v: want CodeDtOutOfRange, got %v", dt, err)
		}
	}
}

func TestNewConfigAcceptsAPositiveFiniteDt(t *testing.T) {
	_, err := NewConfig(testFields(), []pipeline.Propagator{&incrementProp{}}, lineSpace{cells: 4}, 0.5, 1)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
}
