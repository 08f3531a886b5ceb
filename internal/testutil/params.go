package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/quakerun/internal/ir"
)

// BaseParams returns a parameter set with every key the pipeline steps
// require. min_chans is left unset.
func BaseParams() ir.ParameterSet {
	return ir.ParameterSet{
		"swarm_name":         "test",
		"catalog_csv":        "catalog.csv",
		"starttime":          "2024-01-01",
		"endtime":            "2024-01-08",
		"lowcut":             "2.0",
		"highcut":            "9.0",
		"samp_rate":          "50.0",
		"filt_order":         "4",
		"length":             "3.0",
		"prepick":            "0.5",
		"min_snr":            "4.0",
		"min_stations":       "3",
		"threshold":          "8.0",
		"threshold_type":     "MAD",
		"detect_trig_int":    "6.0",
		"decluster_trig_int": "10.0",
		"min_cc":             "0.5",
		"shift_len":          "0.5",
		"magnitude_noise":    "10.0",
		"magnitude_prepick":  "0.5",
		"magnitude_length":   "2.0",
		"dt_length":          "3.0",
		"dt_prepick":         "0.5",
		"max_sep":            "8.0",
		"min_link":           "3",
		"dt_min_cc":          "0.7",
	}
}

// With returns a copy of p with the given key=value pairs applied.
// An empty value removes the key.
func With(p ir.ParameterSet, kv ...string) ir.ParameterSet {
	out := p.Clone()
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			delete(out, kv[i])
			continue
		}
		out[kv[i]] = kv[i+1]
	}
	return out
}

// WriteParams writes p as the parameter file of swarm under swarmsDir
// and returns its path.
func WriteParams(t testing.TB, swarmsDir, swarm string, p ir.ParameterSet) string {
	t.Helper()
	dir := filepath.Join(swarmsDir, swarm)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var b strings.Builder
	fmt.Fprintf(&b, "# parameters of %s\n", swarm)
	for _, k := range p.Keys() {
		fmt.Fprintf(&b, "%s=%s\n", k, p[k])
	}
	path := filepath.Join(dir, fmt.Sprintf("parameters%s.txt", swarm))
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}
