package ir

import "sort"

// ParameterSet is the flat key/value configuration of one run.
// It is replaced wholesale on reload, never edited in place by the pipeline.
type ParameterSet map[string]string

// Get returns the value for key and whether it is present.
func (p ParameterSet) Get(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// Keys returns the parameter names in sorted order.
func (p ParameterSet) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy of p.
func (p ParameterSet) Clone() ParameterSet {
	out := make(ParameterSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Subset returns a copy holding only the listed keys that are present.
func (p ParameterSet) Subset(keys ...string) ParameterSet {
	out := make(ParameterSet, len(keys))
	for _, k := range keys {
		if v, ok := p[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Equal reports whether p and other hold the same keys and values.
func (p ParameterSet) Equal(other ParameterSet) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
