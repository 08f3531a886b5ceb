package engine

import (
	"github.com/roach88/quakerun/internal/ir"
)

func tribeCounts(t ir.Tribe) ir.Counts {
	return ir.Counts{
		"loaded_events":       int64(len(t.Catalog)),
		"generated_templates": int64(len(t.Templates)),
	}
}

// partyCounts counts non-empty families and their detections. Families
// without detections are left out, as they are of every summary.
func partyCounts(p ir.Party) ir.Counts {
	return ir.Counts{
		"families":   int64(p.NonEmptyFamilies()),
		"detections": int64(p.DetectionCount()),
	}
}

func declusterCounts(p ir.Party, lost int) ir.Counts {
	c := partyCounts(p)
	var channels int64
	for _, f := range p.Families {
		for _, d := range f.Detections {
			channels += int64(d.Channels)
		}
	}
	c["channels"] = channels
	c["lost_self_detections"] = int64(lost)
	return c
}

// lagCalcCounts counts detections that received picks. A family counts
// when at least one of its detections has picks; channels are distinct
// station+channel pairs per detection.
func lagCalcCounts(p ir.Party, skipped int) ir.Counts {
	var families, withPicks, channels, picks int64
	for _, f := range p.Families {
		var n int64
		for _, d := range f.Detections {
			if len(d.Picks) == 0 {
				continue
			}
			n++
			picks += int64(len(d.Picks))
			channels += int64(distinctChannels(d.Picks))
		}
		if n > 0 {
			families++
			withPicks += n
		}
	}
	return ir.Counts{
		"families":         families,
		"events_w_picks":   withPicks,
		"channels":         channels,
		"picks":            picks,
		"skipped_families": int64(skipped),
	}
}

func magnitudeCounts(c ir.Catalog, failed int) ir.Counts {
	var withMag, channels, picks int64
	noMag := int64(failed)
	for _, ev := range c.Events {
		if ev.Magnitude == nil {
			noMag++
			continue
		}
		withMag++
		picks += int64(len(ev.Picks))
		channels += int64(distinctChannels(ev.Picks))
	}
	return ir.Counts{
		"events_w_magnitudes": withMag,
		"channels":            channels,
		"picks":               picks,
		"no_magnitude":        noMag,
	}
}

func distinctChannels(picks []ir.Pick) int {
	seen := make(map[string]struct{}, len(picks))
	for _, p := range picks {
		seen[p.Station+"."+p.Channel] = struct{}{}
	}
	return len(seen)
}
