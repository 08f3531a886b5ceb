package plan

import (
	"sort"

	"github.com/roach88/quakerun/internal/ir"
)

// dependencyMap maps a parameter key to the earliest step that reads it.
// Keys not listed (scheduler resources, paths, comments) affect no step.
var dependencyMap = map[string]ir.StepName{
	"starttime":    ir.TribeConstruction,
	"endtime":      ir.TribeConstruction,
	"min_stations": ir.TribeConstruction,
	"length":       ir.TribeConstruction,
	"prepick":      ir.TribeConstruction,
	"min_snr":      ir.TribeConstruction,
	"lowcut":       ir.TribeConstruction,
	"highcut":      ir.TribeConstruction,
	"samp_rate":    ir.TribeConstruction,
	"filt_order":   ir.TribeConstruction,
	"enforce_pl":   ir.TribeConstruction,
	"pl":           ir.TribeConstruction,

	"threshold":       ir.Detection,
	"threshold_type":  ir.Detection,
	"arch":            ir.Detection,
	"detect_trig_int": ir.Detection,

	"decluster_trig_int": ir.Declustering,
	"min_chans":          ir.Declustering,

	"min_cc":    ir.LagCalc,
	"shift_len": ir.LagCalc,

	"magnitude_noise":   ir.Magnitudes,
	"magnitude_prepick": ir.Magnitudes,
	"magnitude_length":  ir.Magnitudes,

	"dt_prepick": ir.Correlations,
	"dt_length":  ir.Correlations,
	"max_sep":    ir.Correlations,
	"min_link":   ir.Correlations,
	"dt_min_cc":  ir.Correlations,
}

// StepFor returns the earliest step that depends on key.
// The second return is false for keys that affect no step.
func StepFor(key string) (ir.StepName, bool) {
	step, ok := dependencyMap[key]
	return step, ok
}

// DependencyMap returns a copy of the key-to-step table.
func DependencyMap() map[string]ir.StepName {
	out := make(map[string]ir.StepName, len(dependencyMap))
	for k, v := range dependencyMap {
		out[k] = v
	}
	return out
}

// KeysFor returns the keys mapped to step, sorted.
func KeysFor(step ir.StepName) []string {
	var keys []string
	for k, s := range dependencyMap {
		if s == step {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
