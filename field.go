package murk

// ElementKind distinguishes the three shapes a field's cell can take.
type ElementKind uint8

const (
	ElementScalar ElementKind = iota
	ElementVector
	ElementCategorical
)

// MutabilityClass governs arena allocation strategy for a field. It is not
// a hint: writing a field under a mode its MutabilityClass forbids fails at
// write time with CodeNotWritable.
type MutabilityClass uint8

const (
	// Static fields are allocated once at construction, shared
	// (reference-owned) across vectorised worlds with identical schemas.
	Static MutabilityClass = iota
	// PerTick fields get a fresh allocation in every staging generation.
	PerTick
	// Sparse fields are copy-on-write: allocated on first write in a
	// generation, retained unmodified across ticks that don't touch them.
	Sparse
)

func (m MutabilityClass) String() string {
	switch m {
	case Static:
		return "Static"
	case PerTick:
		return "PerTick"
	case Sparse:
		return "Sparse"
	default:
		return "Unknown"
	}
}

// Boundary describes how out-of-range coordinates behave for spatial
// commands (Move) touching this field. The engine does not interpret
// Boundary itself — it is metadata consumed by the Space/propagator layer.
type Boundary uint8

const (
	Clamp Boundary = iota
	Reflect
	Absorb
	Wrap
)

// WriteMode distinguishes a propagator's declared write intent for a field:
// Full means the propagator is expected to (re)write every cell every tick
// it runs; Incremental means it only touches a subset, and arena capacity
// must be validated against the sum of incremental budgets (§4.2.6).
type WriteMode uint8

const (
	Full WriteMode = iota
	Incremental
)

// ElementType describes the shape and width of one field cell.
type ElementType struct {
	Kind ElementKind
	// Width is the vector component count for ElementVector, or the bucket
	// count for ElementCategorical. Ignored for ElementScalar.
	Width int
}

// CellBytes returns the per-cell byte footprint of a field with the
// given element type, assuming float32 scalar storage (the engine's only
// supported numeric representation — see Non-goals, cross-toolchain FP
// determinism).
func (et ElementType) CellBytes() int {
	switch et.Kind {
	case ElementScalar:
		return 4
	case ElementVector:
		return 4 * et.Width
	case ElementCategorical:
		return 4 // stored as a float32-encoded bucket index
	default:
		return 4
	}
}

// FieldSpec declares one field in the registry: its identity, shape,
// mutability regime, boundary behaviour, and optional numeric bounds/units.
type FieldSpec struct {
	ID         FieldId
	Name       string
	Type       ElementType
	Mutability MutabilityClass
	Boundary   Boundary

	// HasBounds gates whether Min/Max are meaningful.
	HasBounds  bool
	Min, Max   float32
	Units      string
	CellCount  int // number of spatial cells this field spans
}

// Elements returns the total element count (cells * per-cell width) for the
// field, used to size arena allocations.
func (f FieldSpec) Elements() int {
	w := 1
	switch f.Type.Kind {
	case ElementVector:
		w = f.Type.Width
	case ElementCategorical:
		w = 1
	}
	return f.CellCount * w
}

// Bytes returns the total byte footprint of one generation's worth of this
// field.
func (f FieldSpec) Bytes() int {
	return f.Elements() * 4
}
