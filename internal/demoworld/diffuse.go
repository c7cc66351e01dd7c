package demoworld

import (
	"github.com/murk-sim/murk"
	"github.com/murk-sim/murk/pipeline"
)

// FieldTemperature is the demo world's sole PerTick field.
const FieldTemperature murk.FieldId = 0

// demoPropagators is the single-propagator pipeline murk-server runs out of
// the box: a ring-lattice heat diffusion exercising split-borrow reads and
// SpaceAwareMaxDt together.
func demoPropagators(rate float64) []pipeline.Propagator {
	return []pipeline.Propagator{diffuseStep{rate: rate}}
}

// diffuseStep runs an explicit heat-equation step over FieldTemperature
// against the configured ring space, reading the tick-start values so every
// cell observes a consistent neighbourhood (a propagator reading live
// staged neighbours would make diffusion order-dependent).
type diffuseStep struct {
	rate float64
}

func (d diffuseStep) Name() string                  { return "diffuse" }
func (d diffuseStep) Reads() []murk.FieldId          { return nil }
func (d diffuseStep) ReadsPrevious() []murk.FieldId  { return []murk.FieldId{FieldTemperature} }
func (d diffuseStep) Writes() []pipeline.WriteDecl {
	return []pipeline.WriteDecl{{Field: FieldTemperature, Mode: murk.Full}}
}
func (d diffuseStep) ScratchBytes() int { return 0 }

// MaxDt returns no fixed bound; MaxDtForSpace below supplies the
// topology-dependent one instead.
func (d diffuseStep) MaxDt() (float64, bool) { return 0, false }

// MaxDtForSpace implements pipeline.SpaceAwareMaxDt: explicit diffusion is
// stable for rate*dt*maxDegree <= 1.
func (d diffuseStep) MaxDtForSpace(s pipeline.Space) (float64, bool) {
	degree := s.MaxDegree()
	if degree == 0 || d.rate == 0 {
		return 0, false
	}
	return 1 / (d.rate * float64(degree)), true
}

func (d diffuseStep) Step(ctx *pipeline.Context) error {
	prev, ok := ctx.ReadPrevious(FieldTemperature)
	if !ok {
		return murk.NewError(murk.CodeUnknownField, "diffuse")
	}
	out, _, err := ctx.Write(FieldTemperature, len(prev))
	if err != nil {
		return err
	}

	var neighbours []int
	for cell := range prev {
		neighbours = neighbours[:0]
		neighbours = ctx.Space.Neighbours(cell, neighbours)
		var sum float64
		for _, n := range neighbours {
			sum += float64(prev[n]) - float64(prev[cell])
		}
		out[cell] = prev[cell] + float32(d.rate*ctx.Dt*sum)
	}
	return nil
}
