package engine

import (
	"math"

	"github.com/murk-sim/murk"
	"github.com/murk-sim/murk/internal/arena"
)

// applyCommand applies one surviving command's effect during ingress
// application (§4.4 step 2). SetField and SetParameter(Batch) are handled
// directly by the core; everything else dispatches through the registered
// CommandApplier. A nil Applier surfaces as CodeInvalidComposition and an
// error returned by the Applier as CodeExecutionFailed, so the receipt
// reports failure rather than a silent no-op.
func (e *TickEngine) applyCommand(w *arena.WriteView, tick murk.TickId, cmd murk.Command) murk.Code {
	switch cmd.Payload {
	case murk.PayloadSetField:
		return e.applySetField(w, cmd.SetFld)
	case murk.PayloadSetParameter:
		return e.applySetParameter(cmd.SetParm)
	case murk.PayloadSetParameterBatch:
		return e.applySetParameterBatch(cmd.SetBatc)
	case murk.PayloadMove:
		return e.dispatch(w, tick, cmd, func(ctx *ApplyContext) error { return e.cfg.Applier.ApplyMove(ctx, cmd.Move) })
	case murk.PayloadSpawn:
		return e.dispatch(w, tick, cmd, func(ctx *ApplyContext) error { return e.cfg.Applier.ApplySpawn(ctx, cmd.Spawn) })
	case murk.PayloadDespawn:
		return e.dispatch(w, tick, cmd, func(ctx *ApplyContext) error { return e.cfg.Applier.ApplyDespawn(ctx, cmd.Despawn) })
	case murk.PayloadCustom:
		return e.dispatch(w, tick, cmd, func(ctx *ApplyContext) error { return e.cfg.Applier.ApplyCustom(ctx, cmd.Custom) })
	default:
		return murk.CodeInvalidComposition
	}
}

func (e *TickEngine) dispatch(w *arena.WriteView, tick murk.TickId, _ murk.Command, call func(*ApplyContext) error) murk.Code {
	if e.cfg.Applier == nil {
		return murk.CodeInvalidComposition
	}
	if err := call(&ApplyContext{Write: w, Tick: tick}); err != nil {
		return murk.CodeExecutionFailed
	}
	return 0
}

// applySetField overlays a value onto one field cell within the current
// tick (§3 Command "SetField"). The cell offset is validated against the
// field's declared element width so a malformed command cannot write past
// its own slice.
func (e *TickEngine) applySetField(w *arena.WriteView, p *murk.SetFieldPayload) murk.Code {
	if p == nil {
		return murk.CodeInvalidComposition
	}
	spec, ok := e.arena.FieldSpec(p.Field)
	if !ok {
		return murk.CodeUnknownField
	}
	width := spec.Elements() / max1(spec.CellCount)
	if p.Cell < 0 || p.Cell >= spec.CellCount || len(p.Values) != width {
		return murk.CodeInvalidComposition
	}

	var slice []float32
	var err error
	switch spec.Mutability {
	case murk.PerTick:
		slice, _, err = e.currentOrFreshPerTick(w, p.Field, spec)
	case murk.Sparse:
		slice, _, err = w.WriteSparse(p.Field, spec.Elements())
	default:
		return murk.CodeNotWritable
	}
	if err != nil {
		return murk.CodeAllocationFailed
	}
	copy(slice[p.Cell*width:(p.Cell+1)*width], p.Values)
	return 0
}

// currentOrFreshPerTick reuses this tick's existing PerTick allocation for
// fieldID if the command path already wrote it earlier in the same tick
// (e.g. two SetField commands targeting different cells of the same
// field), else allocates fresh, zero-initialised storage sized to the full
// field. It must only reuse a slice staged in the current generation —
// ReadStaged falls back to the previous generation's value when nothing
// has been written yet this tick, and reusing that slice would overlay the
// command directly onto published, immutable state (§3 invariant 3).
func (e *TickEngine) currentOrFreshPerTick(w *arena.WriteView, fieldID murk.FieldId, spec murk.FieldSpec) ([]float32, murk.FieldHandle, error) {
	if slice, ok := w.StagedThisGeneration(fieldID); ok && len(slice) == spec.Elements() {
		return slice, murk.FieldHandle{}, nil
	}
	return w.AllocPerTick(fieldID, spec.Elements())
}

func (e *TickEngine) applySetParameter(p *murk.SetParameterPayload) murk.Code {
	if p == nil {
		return murk.CodeInvalidComposition
	}
	e.parameters[p.Name] = p.Value
	e.parameterVersion++
	return 0
}

func (e *TickEngine) applySetParameterBatch(p *murk.SetParameterBatchPayload) murk.Code {
	if p == nil || len(p.Entries) == 0 {
		return murk.CodeInvalidComposition
	}
	for name, value := range p.Entries {
		e.parameters[name] = value
	}
	e.parameterVersion++
	return 0
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// validateFinite checks every element of slice is finite, used by the
// optional NaN sentinel (§4.4 step 5).
func validateFinite(slice []float32) bool {
	for _, v := range slice {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
