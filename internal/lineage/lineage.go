// Package lineage tracks each family's self-detection across declustering.
//
// The self-detection of a family is its highest-scoring detection, the one
// expected to be the template's own origin event. Declustering may remove
// it. Tracker records it before the transform, looks for it afterwards by
// value identity (ir.DetectionKey), and keeps the pre-transform detection
// as the reference either way, so downstream stages always have one.
package lineage

import (
	"log/slog"
	"sort"

	"github.com/roach88/quakerun/internal/ir"
)

// Record is the self-detection of one family.
type Record struct {
	Template string             `json:"template" cbor:"template"`
	Pre      ir.DetectionRecord `json:"pre_transform" cbor:"pre_transform"`
	Post     ir.DetectionRecord `json:"post_transform" cbor:"post_transform"`
	Lost     bool               `json:"lost" cbor:"lost"`
}

// Records maps template name to its self-detection record.
type Records map[string]Record

// Templates returns the template names in sorted order.
func (r Records) Templates() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LostCount returns the number of families that lost their self-detection.
func (r Records) LostCount() int {
	n := 0
	for _, rec := range r {
		if rec.Lost {
			n++
		}
	}
	return n
}

// SelfDetection returns the highest-scoring detection of f. Ties go to the
// earliest detection in f's sequence. The second return is false for an
// empty family.
func SelfDetection(f ir.Family) (ir.DetectionRecord, bool) {
	if len(f.Detections) == 0 {
		return ir.DetectionRecord{}, false
	}
	best := 0
	for i, d := range f.Detections[1:] {
		if d.Score > f.Detections[best].Score {
			best = i + 1
		}
	}
	return f.Detections[best], true
}

// Tracker carries pre-transform self-detections to the post-transform
// comparison. Use one Tracker per declustering run.
type Tracker struct {
	logger *slog.Logger
	pre    map[string]ir.DetectionRecord
	order  []string
}

// NewTracker returns an empty Tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger, pre: make(map[string]ir.DetectionRecord)}
}

// Before records the self-detection of every non-empty family in party.
// Empty families are skipped and excluded from every summary.
func (t *Tracker) Before(party ir.Party) {
	for _, f := range party.Families {
		self, ok := SelfDetection(f)
		if !ok {
			t.logger.Warn("template has no detections, not used", "template", f.Template)
			continue
		}
		if _, seen := t.pre[f.Template]; !seen {
			t.order = append(t.order, f.Template)
		}
		t.pre[f.Template] = self
	}
}

// After compares party against the recorded self-detections. A family
// recorded by Before but absent from party, or whose surviving detections
// do not include its self-detection, is marked lost.
func (t *Tracker) After(party ir.Party) Records {
	survivors := make(map[string]map[ir.DetectionKey]struct{}, len(party.Families))
	for _, f := range party.Families {
		keys := survivors[f.Template]
		if keys == nil {
			keys = make(map[ir.DetectionKey]struct{}, len(f.Detections))
			survivors[f.Template] = keys
		}
		for _, d := range f.Detections {
			keys[d.Key()] = struct{}{}
		}
	}

	out := make(Records, len(t.pre))
	for _, name := range t.order {
		pre := t.pre[name]
		_, found := survivors[name][pre.Key()]
		rec := Record{Template: name, Pre: pre, Post: pre, Lost: !found}
		if rec.Lost {
			t.logger.Warn("template lost its self detection on declustering",
				"template", name,
				"pre_score", pre.Score,
				"pre_time", pre.Time,
			)
		}
		out[name] = rec
	}
	return out
}
