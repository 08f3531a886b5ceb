package depurate

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/params"
)

// Options are the depuration thresholds.
type Options struct {
	// MinCC is the minimum correlation coefficient (dt_min_cc). Stored
	// correlations are compared against MinCC squared.
	MinCC float64
	// ShiftLen is the maximum accepted time lag in seconds.
	ShiftLen float64
	// MinLink is the minimum number of retained measurements per block.
	MinLink float64
}

// OptionsFromParams reads dt_min_cc, shift_len and min_link.
func OptionsFromParams(p ir.ParameterSet) (Options, error) {
	if err := params.Require(ir.DepurateCorrelations, p); err != nil {
		return Options{}, err
	}
	var (
		o   Options
		err error
	)
	if o.MinCC, err = params.Float(p, "dt_min_cc"); err != nil {
		return Options{}, err
	}
	if o.ShiftLen, err = params.Float(p, "shift_len"); err != nil {
		return Options{}, err
	}
	if o.MinLink, err = params.Float(p, "min_link"); err != nil {
		return Options{}, err
	}
	return o, nil
}

// MinCCSquared is the threshold applied to stored correlations.
func (o Options) MinCCSquared() float64 { return o.MinCC * o.MinCC }

// Result summarizes a filter pass.
type Result struct {
	BlocksIn         int
	BlocksKept       int
	MeasurementsIn   int
	MeasurementsKept int
	BelowThreshold   int
	Duplicates       int
	Malformed        int
	DroppedHeaders   []string
}

// Counts returns the ledger counters for the DepurateCorrelations step.
func (r Result) Counts() ir.Counts {
	return ir.Counts{
		"blocks_in":         int64(r.BlocksIn),
		"blocks_kept":       int64(r.BlocksKept),
		"measurements_kept": int64(r.MeasurementsKept),
	}
}

type pairKey struct {
	station string
	phase   string
}

// Filter applies the thresholds, per-(station, phase) deduplication and
// min_link pruning to blocks. Retained measurements are ordered by station
// then phase.
//
// Thresholds are tested on the values as read. Survivors are rounded to
// output precision (lag to 3 decimals, correlation to 4) and dropped if
// the rounded value no longer passes, so filtering its own output changes
// nothing.
func Filter(blocks []Block, o Options, logger *slog.Logger) ([]Block, Result) {
	if logger == nil {
		logger = slog.Default()
	}
	minCC := o.MinCCSquared()

	res := Result{BlocksIn: len(blocks)}
	var kept []Block
	for _, blk := range blocks {
		res.MeasurementsIn += len(blk.Measurements)

		best := make(map[pairKey]int)
		var (
			retained []Measurement
			rawCC    []float64
		)
		for _, m := range blk.Measurements {
			if !passes(m, minCC, o.ShiftLen) {
				res.BelowThreshold++
				continue
			}
			raw := m.Correlation
			m.TimeLag = round(m.TimeLag, 3)
			m.Correlation = round(m.Correlation, 4)
			if !passes(m, minCC, o.ShiftLen) {
				res.BelowThreshold++
				continue
			}
			k := pairKey{m.Station, m.Phase}
			if i, ok := best[k]; ok {
				res.Duplicates++
				if raw > rawCC[i] {
					retained[i] = m
					rawCC[i] = raw
				}
				continue
			}
			best[k] = len(retained)
			retained = append(retained, m)
			rawCC = append(rawCC, raw)
		}

		if float64(len(retained)) < o.MinLink {
			res.DroppedHeaders = append(res.DroppedHeaders, blk.Header)
			logger.Info("dropped correlation block",
				"header", blk.Header,
				"retained", len(retained),
				"min_link", o.MinLink,
			)
			continue
		}

		sort.SliceStable(retained, func(i, j int) bool {
			if retained[i].Station != retained[j].Station {
				return retained[i].Station < retained[j].Station
			}
			return retained[i].Phase < retained[j].Phase
		})
		kept = append(kept, Block{Header: blk.Header, Measurements: retained})
		res.MeasurementsKept += len(retained)
	}
	res.BlocksKept = len(kept)
	return kept, res
}

// passes reports whether m meets the correlation and lag thresholds.
func passes(m Measurement, minCC, shiftLen float64) bool {
	return m.Correlation >= minCC && m.TimeLag <= shiftLen
}

// round rounds v to the given number of decimals the way fmt does.
func round(v float64, decimals int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	r, err := strconv.ParseFloat(fmt.Sprintf("%.*f", decimals, v), 64)
	if err != nil {
		return v
	}
	return r
}
