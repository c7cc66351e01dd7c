package arena

// FullWriteGuard wraps a PerTick/Full write slice with optional per-cell
// coverage tracking (§4.1 "FullWriteGuard (debug only)"). When the owning
// Arena was constructed with DebugFullWriteCoverage=false, MarkWritten is a
// no-op and the guard behaves as a transparent alias for the raw slice —
// the spec's "zero-overhead alias in release builds", realised here as a
// boolean-gated no-op rather than a separate build (no goexperiment-style
// build tags are needed for the check itself).
type FullWriteGuard struct {
	slice     []float32
	written   []bool
	tracking  bool
	propName  string
	fieldName string
	onDrop    func(propName, fieldName string, coveredPct float64)
}

func newFullWriteGuard(slice []float32, tracking bool, propName, fieldName string, onDrop func(string, string, float64)) *FullWriteGuard {
	g := &FullWriteGuard{slice: slice, tracking: tracking, propName: propName, fieldName: fieldName, onDrop: onDrop}
	if tracking {
		g.written = make([]bool, len(slice))
	}
	return g
}

// Slice returns the underlying writable storage.
func (g *FullWriteGuard) Slice() []float32 { return g.slice }

// MarkWritten records that cell i was written this tick. No-op when
// coverage tracking is disabled.
func (g *FullWriteGuard) MarkWritten(i int) {
	if g.tracking {
		g.written[i] = true
	}
}

// MarkRangeWritten records a contiguous range as written.
func (g *FullWriteGuard) MarkRangeWritten(lo, hi int) {
	if !g.tracking {
		return
	}
	for i := lo; i < hi; i++ {
		g.written[i] = true
	}
}

// Close reports incomplete coverage via onDrop if tracking is enabled and
// any cell was left unwritten. Propagators declaring Full writes should
// defer Close() on every guard they obtain.
func (g *FullWriteGuard) Close() {
	if !g.tracking || g.onDrop == nil {
		return
	}
	total := len(g.written)
	if total == 0 {
		return
	}
	covered := 0
	for _, w := range g.written {
		if w {
			covered++
		}
	}
	if covered < total {
		g.onDrop(g.propName, g.fieldName, 100*float64(covered)/float64(total))
	}
}
