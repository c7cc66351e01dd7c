package ingress

import (
	"sort"

	"github.com/murk-sim/murk"
)

// stableSortByKey sorts cmds in place by the ordering key
// (priority_class, source_id, source_seq, arrival_seq) ascending, using a
// stable sort so ties beyond the key (there are none, since arrival_seq is
// unique) cannot reorder input (§4.3 "Sort").
func stableSortByKey(cmds []murk.Command) {
	sort.SliceStable(cmds, func(i, j int) bool {
		return cmds[i].Key().Less(cmds[j].Key())
	})
}
