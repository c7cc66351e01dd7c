// Package murk is a tick-based world simulation engine: a generational
// arena, a propagator pipeline with split-borrow read resolution, an ordered
// ingress queue, and two world drivers (lockstep and realtime-async) built
// on top of the same tick-atomic core.
//
// © 2025 murk authors. MIT License.
package murk

import "fmt"

// FieldId indexes into the field registry. It is a small integer assigned at
// pipeline construction time, stable for the lifetime of a world.
type FieldId uint16

// TickId is the monotonic tick counter. Tick 0 is the world's initial,
// pre-simulation state; the first executed tick publishes TickId 1.
type TickId uint64

// WorldGenerationId increments whenever structural configuration changes
// (schema or pipeline reconstruction). It invalidates any externally cached
// observation plan.
type WorldGenerationId uint64

// ParameterVersion increments every time any global parameter is written via
// SetParameter or SetParameterBatch.
type ParameterVersion uint64

// FieldHandle is an arena-internal locator. It is opaque outside package
// internal/arena; callers only ever resolve it through a SnapshotAccess.
type FieldHandle struct {
	Generation uint32
	Segment    uint32
	Offset     uint32
	Length     uint32
}

func (h FieldHandle) String() string {
	return fmt.Sprintf("handle(gen=%d seg=%d off=%d len=%d)", h.Generation, h.Segment, h.Offset, h.Length)
}

// IsZero reports whether h is the zero-value handle, used as the "absent"
// sentinel for fields that have never been written.
func (h FieldHandle) IsZero() bool {
	return h == FieldHandle{}
}
