package pipeline

import (
	"fmt"
	"math"

	"github.com/murk-sim/murk"
)

// Schema resolves field declarations against the registry a Pipeline is
// built for. The engine's field registry satisfies this directly.
type Schema interface {
	FieldSpec(id murk.FieldId) (murk.FieldSpec, bool)
}

// Pipeline is the validated, ordered propagator list plus its compiled
// ReadResolutionPlan (§4.2). Once constructed it never re-validates:
// TickEngine.Tick executes the plan unconditionally every tick.
type Pipeline struct {
	decls []decl
	plan  *ReadResolutionPlan
	space Space
}

// New snapshots each propagator's declarations exactly once and runs the
// construction-time validation rules of §4.2. A non-nil error means no
// tick may ever run against this pipeline.
func New(props []Propagator, schema Schema, space Space) (*Pipeline, error) {
	if len(props) == 0 {
		return nil, murk.NewError(murk.CodeEmptyPipeline, "pipeline")
	}

	decls := make([]decl, len(props))
	for i, p := range props {
		decls[i] = snapshot(p)
	}

	if err := validateFieldReferences(decls, schema); err != nil {
		return nil, err
	}
	if err := validateWriteWriteConflicts(decls); err != nil {
		return nil, err
	}
	if err := validateMaxDt(decls, space); err != nil {
		return nil, err
	}
	if err := validateWriteBudgets(decls, schema); err != nil {
		return nil, err
	}

	plan, err := buildPlan(decls)
	if err != nil {
		return nil, err
	}

	return &Pipeline{decls: decls, plan: plan, space: space}, nil
}

// Len returns the number of propagators in execution order.
func (p *Pipeline) Len() int { return len(p.decls) }

// Name returns propagator i's declared name.
func (p *Pipeline) Name(i int) string { return p.decls[i].name }

// Propagator returns propagator i itself, for Step invocation.
func (p *Pipeline) Propagator(i int) Propagator { return p.decls[i].prop }

// Writes returns propagator i's write declarations.
func (p *Pipeline) Writes(i int) []WriteDecl { return p.decls[i].writes }

// ScratchBytes returns propagator i's declared scratch requirement.
func (p *Pipeline) ScratchBytes(i int) int { return p.decls[i].scratchBytes }

// Plan returns the compiled read-resolution plan.
func (p *Pipeline) Plan() *ReadResolutionPlan { return p.plan }

// EffectiveMaxDt returns the tightest max_dt bound across every propagator
// that declares one, preferring a SpaceAwareMaxDt implementation over a
// fixed MaxDt when both are present (§9 "Topology-dependent CFL"). Reports
// ok=false if no propagator bounds dt.
func (p *Pipeline) EffectiveMaxDt() (bound float64, ok bool) {
	bound = math.Inf(1)
	for _, d := range p.decls {
		v, has := resolveMaxDt(d, p.space)
		if !has {
			continue
		}
		ok = true
		if v < bound {
			bound = v
		}
	}
	return bound, ok
}

func resolveMaxDt(d decl, space Space) (float64, bool) {
	if space != nil {
		if aware, isAware := d.prop.(SpaceAwareMaxDt); isAware {
			if v, has := aware.MaxDtForSpace(space); has {
				return v, true
			}
		}
	}
	return d.maxDt, d.hasMaxDt
}

func validateFieldReferences(decls []decl, schema Schema) error {
	check := func(id murk.FieldId, propName string, verb string) error {
		if _, ok := schema.FieldSpec(id); !ok {
			return murk.WrapError(murk.CodeUnknownField, propName,
				fmt.Errorf("undeclared field %d in %s()", id, verb))
		}
		return nil
	}
	for _, d := range decls {
		for _, f := range d.reads {
			if err := check(f, d.name, "reads"); err != nil {
				return err
			}
		}
		for _, f := range d.readsPrevious {
			if err := check(f, d.name, "reads_previous"); err != nil {
				return err
			}
		}
		for _, w := range d.writes {
			if err := check(w.Field, d.name, "writes"); err != nil {
				return err
			}
			spec, _ := schema.FieldSpec(w.Field)
			if spec.Mutability == murk.Static {
				return murk.WrapError(murk.CodeNotWritable, d.name,
					fmt.Errorf("declares a write to static field %d", w.Field))
			}
		}
	}
	return nil
}

// validateWriteWriteConflicts rejects two propagators declaring a write to
// the same field: per §4.2, each field has at most one writer per tick so
// the read-resolution plan is unambiguous.
func validateWriteWriteConflicts(decls []decl) error {
	owner := make(map[murk.FieldId]string, len(decls))
	for _, d := range decls {
		for _, w := range d.writes {
			if prev, ok := owner[w.Field]; ok {
				return murk.WrapError(murk.CodeWriteConflict, d.name,
					fmt.Errorf("field %d written by both %s and %s", w.Field, prev, d.name))
			}
			owner[w.Field] = d.name
		}
	}
	return nil
}

func validateMaxDt(decls []decl, space Space) error {
	for _, d := range decls {
		v, has := resolveMaxDt(d, space)
		if !has {
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return murk.WrapError(murk.CodeInvalidMaxDt, d.name,
				fmt.Errorf("non-finite or non-positive max_dt %v", v))
		}
	}
	return nil
}

// validateWriteBudgets rejects a propagator declaring an Incremental write
// to a field whose Mutability isn't Sparse — incremental writes only make
// sense against copy-on-write storage. It does not sum incremental write
// requests or check them against arena capacity (§4.2.6).
func validateWriteBudgets(decls []decl, schema Schema) error {
	for _, d := range decls {
		for _, w := range d.writes {
			if w.Mode != murk.Incremental {
				continue
			}
			spec, _ := schema.FieldSpec(w.Field)
			if spec.Mutability != murk.Sparse {
				return murk.WrapError(murk.CodeInvalidWriteMode, d.name,
					fmt.Errorf("declares Incremental write to non-Sparse field %d", w.Field))
			}
		}
	}
	return nil
}
