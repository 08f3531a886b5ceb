package params

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/quakerun/internal/ir"
)

// ErrKeyMissing is wrapped by MissingKeyError.
var ErrKeyMissing = errors.New("required parameter missing")

// requiredKeys lists the parameters each step reads. Keys with a
// configured default (min_chans) are not listed.
var requiredKeys = map[ir.StepName][]string{
	ir.TribeConstruction: {
		"catalog_csv", "starttime", "endtime", "lowcut", "highcut",
		"samp_rate", "filt_order", "length", "prepick", "min_snr", "min_stations",
	},
	ir.Detection: {
		"starttime", "endtime", "threshold", "threshold_type", "detect_trig_int",
	},
	ir.Declustering: {
		"starttime", "endtime", "decluster_trig_int",
	},
	ir.LagCalc: {
		"min_cc", "shift_len",
	},
	ir.Magnitudes: {
		"lowcut", "highcut", "samp_rate", "filt_order",
		"magnitude_noise", "magnitude_prepick", "magnitude_length",
	},
	ir.Correlations: {
		"lowcut", "highcut", "dt_length", "dt_prepick", "shift_len",
		"max_sep", "min_link", "dt_min_cc",
	},
	ir.DepurateCorrelations: {
		"dt_min_cc", "min_link", "shift_len",
	},
	ir.Relocations: {},
}

// RequiredKeys returns the keys step reads, in declaration order.
func RequiredKeys(step ir.StepName) []string {
	keys := requiredKeys[step]
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

// MissingKeyError reports required keys absent at step start.
type MissingKeyError struct {
	Step ir.StepName
	Keys []string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("step %s: missing parameters: %s", e.Step, strings.Join(e.Keys, ", "))
}

func (e *MissingKeyError) Unwrap() error { return ErrKeyMissing }

// Require checks that every key step reads is present in p.
func Require(step ir.StepName, p ir.ParameterSet) error {
	var missing []string
	for _, k := range requiredKeys[step] {
		if _, ok := p[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &MissingKeyError{Step: step, Keys: missing}
	}
	return nil
}
