package params

import (
	"sort"

	"github.com/roach88/quakerun/internal/ir"
)

// Change is one differing key between two parameter sets.
// A nil Old or New means the key is absent on that side; absence is
// distinct from every present value, including the empty string.
type Change struct {
	Key string  `json:"key" yaml:"key"`
	Old *string `json:"old" yaml:"old"`
	New *string `json:"new" yaml:"new"`
}

// Diff returns the keys whose values differ between old and updated,
// sorted by key.
func Diff(old, updated ir.ParameterSet) []Change {
	seen := make(map[string]struct{}, len(old)+len(updated))
	for k := range old {
		seen[k] = struct{}{}
	}
	for k := range updated {
		seen[k] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var changes []Change
	for _, k := range keys {
		ov, oldOK := old[k]
		nv, newOK := updated[k]
		if oldOK == newOK && ov == nv {
			continue
		}
		c := Change{Key: k}
		if oldOK {
			c.Old = &ov
		}
		if newOK {
			c.New = &nv
		}
		changes = append(changes, c)
	}
	return changes
}

// Keys returns the changed keys.
func Keys(changes []Change) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.Key
	}
	return out
}
