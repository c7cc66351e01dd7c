// Package demoworld is the example single-field heat-diffusion world shared
// by cmd/murk-server and cmd/murk-console: field schema, propagator, space,
// and TOML configuration, factored out so both binaries boot the identical
// world instead of drifting copies.
package demoworld

// ring is a minimal fixed-degree-2 circular lattice: the simplest
// pipeline.Space that still exercises neighbour-aware propagators and
// SpaceAwareMaxDt. Production spaces live outside this binary; this one
// exists only to give the demo world somewhere to diffuse heat.
type ring struct {
	n int
}

func (r ring) CellCount() int { return r.n }
func (r ring) MaxDegree() int { return 2 }

func (r ring) Neighbours(cell int, dst []int) []int {
	left := (cell - 1 + r.n) % r.n
	right := (cell + 1) % r.n
	return append(dst, left, right)
}
