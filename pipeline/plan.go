package pipeline

import (
	"github.com/brentp/intintmap"
	"github.com/murk-sim/murk"
)

// RouteKind distinguishes the two sources a reads(F) call can resolve to
// (§4.2 "Read-Resolution Plan").
type RouteKind uint8

const (
	// RouteTickStart resolves to the value the field held when the tick
	// began — no earlier propagator in this tick wrote it.
	RouteTickStart RouteKind = iota
	// RouteStaged resolves to the staged write of an earlier propagator in
	// the same tick.
	RouteStaged
)

// Route is the resolved source for one propagator's read of one field.
type Route struct {
	Kind   RouteKind
	Source int // propagator index; meaningful only when Kind == RouteStaged
}

// ReadResolutionPlan is the per-propagator, per-field routing table compiled
// once at Pipeline construction. Regenerating it from the same declarations
// always produces byte-identical routes (§8 "Plan is idempotent"): the
// construction walk is a deterministic left-to-right fold with no
// map-iteration-order dependence on the output shape.
type ReadResolutionPlan struct {
	routes []map[murk.FieldId]Route
}

// Resolve returns the route propagator propIndex's read of field should
// take. The field must be one propIndex declared in Reads(); undeclared
// fields are a programming error in the caller, not a runtime condition.
func (p *ReadResolutionPlan) Resolve(propIndex int, field murk.FieldId) (Route, bool) {
	r, ok := p.routes[propIndex][field]
	return r, ok
}

// buildPlan walks the propagators in declaration order, maintaining a
// last-writer map from field to propagator index. Entering propagator i,
// each of its declared reads resolves against the map as built so far;
// its writes then update the map to i. reads_previous never consults the
// map — the engine always serves it from the tick-start generation.
//
// The last-writer map only ever holds as many live entries as there are
// fields in the schema, and is rebuilt once per Pipeline construction, not
// per tick — so the open-addressing int64->int64 map trades a little
// construction-time allocation overhead for avoiding boxed map[FieldId]int
// hashing on a path that can legitimately run at construction for
// schemas with many thousands of fields.
func buildPlan(decls []decl) (*ReadResolutionPlan, error) {
	lastWriter := intintmap.New(64, 0.75)
	routes := make([]map[murk.FieldId]Route, len(decls))

	for i, d := range decls {
		route := make(map[murk.FieldId]Route, len(d.reads))
		for _, f := range d.reads {
			if srcIdx, ok := lastWriter.Get(int64(f)); ok {
				route[f] = Route{Kind: RouteStaged, Source: int(srcIdx)}
			} else {
				route[f] = Route{Kind: RouteTickStart}
			}
		}
		routes[i] = route

		for _, w := range d.writes {
			lastWriter.Put(int64(w.Field), int64(i))
		}
	}

	return &ReadResolutionPlan{routes: routes}, nil
}

// ReadsPrevious returns propagator i's declared reads_previous field set;
// those reads always resolve to the tick-start generation regardless of
// what the plan's Staged routes say (§4.2).
func (pl *Pipeline) ReadsPrevious(i int) []murk.FieldId { return pl.decls[i].readsPrevious }

// Reads returns propagator i's declared reads(F) field set.
func (pl *Pipeline) Reads(i int) []murk.FieldId { return pl.decls[i].reads }
