package replay

import (
	"math"

	"github.com/segmentio/fasthash/fnv1a"

	"github.com/murk-sim/murk"
)

// SnapshotHash computes the stable FNV-1a hash of every live field's
// contents in canonical order (field id ascending,
// then cell order within the field) — no arena-layout bytes participate
// (§4.7 "Snapshot hash").
func SnapshotHash(snap murk.SnapshotAccess) uint64 {
	h := fnv1a.Init64
	for _, id := range snap.FieldIDs() {
		h = fnv1a.AddUint64(h, uint64(id))
		elements, ok := snap.ReadField(id)
		if !ok {
			continue
		}
		for _, v := range elements {
			h = fnv1a.AddUint64(h, uint64(math.Float32bits(v)))
		}
	}
	return h
}
