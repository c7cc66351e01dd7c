package pipeline

import "github.com/murk-sim/murk"

// WriteDecl declares one field a propagator writes and its write mode
// (§4.2). Construction rejects Incremental for a non-Sparse field; the
// TickEngine does not check Full coverage at step time.
type WriteDecl struct {
	Field murk.FieldId
	Mode  murk.WriteMode
}

// Context is handed to Propagator.Step exactly once per tick. Read routes
// through the read-resolution plan (split-borrow semantics, §4.2);
// ReadPrevious always reads the tick-start generation; Write stages into
// the current generation.
type Context struct {
	Space   Space
	Tick    murk.TickId
	Dt      float64
	Scratch []byte

	readFn     func(murk.FieldId) ([]float32, bool)
	readPrevFn func(murk.FieldId) ([]float32, bool)
	writeFn    func(murk.FieldId, int) ([]float32, murk.FieldHandle, error)
}

// NewContext is exported for engine's tick execution to construct a
// Context bound to one propagator's resolved routes.
func NewContext(space Space, tick murk.TickId, dt float64, scratch []byte,
	readFn, readPrevFn func(murk.FieldId) ([]float32, bool),
	writeFn func(murk.FieldId, int) ([]float32, murk.FieldHandle, error)) *Context {
	return &Context{Space: space, Tick: tick, Dt: dt, Scratch: scratch, readFn: readFn, readPrevFn: readPrevFn, writeFn: writeFn}
}

// Read resolves reads(F): the staged value from the latest earlier
// propagator that writes F this tick, else the tick-start value.
func (c *Context) Read(id murk.FieldId) ([]float32, bool) { return c.readFn(id) }

// ReadPrevious resolves reads_previous(F): always the tick-start value.
func (c *Context) ReadPrevious(id murk.FieldId) ([]float32, bool) { return c.readPrevFn(id) }

// Write stages n elements for field id in the current generation.
func (c *Context) Write(id murk.FieldId, n int) ([]float32, murk.FieldHandle, error) {
	return c.writeFn(id, n)
}

// SpaceAwareMaxDt is implemented by propagators whose stability constant
// depends on neighbourhood degree rather than being a fixed scalar (§9
// "Topology-dependent CFL"). The validator prefers this over MaxDt when
// both are present.
type SpaceAwareMaxDt interface {
	MaxDtForSpace(s Space) (float64, bool)
}

// Propagator is a stateless operator producing one or more field writes per
// tick from declared reads (§4.2, §9 "Polymorphism without inheritance").
// Name/Reads/ReadsPrevious/Writes/MaxDt/ScratchBytes are pure functions
// called exactly once at construction; Step is called once per tick.
type Propagator interface {
	Name() string
	Reads() []murk.FieldId
	ReadsPrevious() []murk.FieldId
	Writes() []WriteDecl
	// MaxDt returns the propagator's stability bound, if any.
	MaxDt() (float64, bool)
	// ScratchBytes is the scratch region size this propagator requires.
	ScratchBytes() int
	Step(ctx *Context) error
}

// decl is the immutable snapshot of one propagator's declarations, taken
// exactly once at Pipeline construction (§4.2.1).
type decl struct {
	prop          Propagator
	name          string
	reads         []murk.FieldId
	readsPrevious []murk.FieldId
	writes        []WriteDecl
	maxDt         float64
	hasMaxDt      bool
	scratchBytes  int
}

func snapshot(p Propagator) decl {
	d := decl{
		prop:          p,
		name:          p.Name(),
		reads:         append([]murk.FieldId(nil), p.Reads()...),
		readsPrevious: append([]murk.FieldId(nil), p.ReadsPrevious()...),
		writes:        append([]WriteDecl(nil), p.Writes()...),
		scratchBytes:  p.ScratchBytes(),
	}
	d.maxDt, d.hasMaxDt = p.MaxDt()
	return d
}
