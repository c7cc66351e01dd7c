// Package pipeline validates propagator declarations once at construction
// and compiles them into the zero-conditional read-resolution plan the
// TickEngine executes against every tick (§4.2). The pipeline never runs
// propagators itself — it only builds the routing data and invariant
// proofs the engine consumes.
package pipeline

// Space is the abstract neighbourhood/ordering/topology capability a
// propagator may query at construction or at max_dt-query time. Concrete
// lattices, hex grids, or product spaces are external collaborators (§1
// Deliberately out of scope) implementing this small capability set — no
// enum hierarchy, per §9 "Polymorphism without inheritance".
type Space interface {
	// CellCount is the total number of addressable cells.
	CellCount() int
	// MaxDegree is the maximum neighbour count of any cell, used by
	// propagators whose stability constant depends on neighbourhood degree
	// (§4.2.5, §9 "Topology-dependent CFL").
	MaxDegree() int
	// Neighbours appends the neighbour cell indices of cell into dst and
	// returns the extended slice, avoiding an allocation per call.
	Neighbours(cell int, dst []int) []int
}
