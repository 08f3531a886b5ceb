package lineage

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quakerun/internal/ir"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func det(template, id string, offset time.Duration, score float64) ir.DetectionRecord {
	return ir.DetectionRecord{Template: template, EventID: id, Time: t0.Add(offset), Score: score, Channels: 5}
}

func bufLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func TestSelfDetection(t *testing.T) {
	f := ir.Family{Template: "a", Detections: []ir.DetectionRecord{
		det("a", "d1", 0, 5),
		det("a", "d2", time.Hour, 9),
		det("a", "d3", 2*time.Hour, 3),
	}}
	self, ok := SelfDetection(f)
	require.True(t, ok)
	assert.Equal(t, "d2", self.EventID)

	_, ok = SelfDetection(ir.Family{Template: "empty"})
	assert.False(t, ok)
}

func TestSelfDetection_TieGoesToFirst(t *testing.T) {
	f := ir.Family{Template: "a", Detections: []ir.DetectionRecord{
		det("a", "d1", 0, 7),
		det("a", "d2", time.Hour, 7),
	}}
	self, _ := SelfDetection(f)
	assert.Equal(t, "d1", self.EventID)
}

func TestTracker_LostSelfDetection(t *testing.T) {
	d1, d2, d3 := det("a", "d1", 0, 5), det("a", "d2", time.Hour, 9), det("a", "d3", 2*time.Hour, 3)
	logger, buf := bufLogger()

	tr := NewTracker(logger)
	tr.Before(ir.Party{Families: []ir.Family{{Template: "a", Detections: []ir.DetectionRecord{d1, d2, d3}}}})
	recs := tr.After(ir.Party{Families: []ir.Family{{Template: "a", Detections: []ir.DetectionRecord{d1, d3}}}})

	require.Contains(t, recs, "a")
	rec := recs["a"]
	assert.True(t, rec.Lost)
	assert.Equal(t, d2, rec.Pre)
	assert.Equal(t, d2, rec.Post)
	assert.Equal(t, 1, recs.LostCount())
	assert.Contains(t, buf.String(), "template=a")
	assert.Contains(t, buf.String(), "pre_score=9")
}

func TestTracker_KeptSelfDetection(t *testing.T) {
	d1, d2 := det("a", "d1", 0, 5), det("a", "d2", time.Hour, 9)
	tr := NewTracker(nil)
	tr.Before(ir.Party{Families: []ir.Family{{Template: "a", Detections: []ir.DetectionRecord{d1, d2}}}})

	// Survivors are copies; identity is by value.
	copyOfD2 := d2
	recs := tr.After(ir.Party{Families: []ir.Family{{Template: "a", Detections: []ir.DetectionRecord{copyOfD2}}}})
	assert.False(t, recs["a"].Lost)
	assert.Equal(t, d2, recs["a"].Post)
}

func TestTracker_SameTimeDifferentScoreIsLost(t *testing.T) {
	d := det("a", "d1", 0, 9)
	rescored := d
	rescored.Score = 8.5

	tr := NewTracker(nil)
	tr.Before(ir.Party{Families: []ir.Family{{Template: "a", Detections: []ir.DetectionRecord{d}}}})
	recs := tr.After(ir.Party{Families: []ir.Family{{Template: "a", Detections: []ir.DetectionRecord{rescored}}}})
	assert.True(t, recs["a"].Lost)
}

func TestTracker_SingleDetectionFamily(t *testing.T) {
	d := det("solo", "d1", 0, 4)
	tr := NewTracker(nil)
	tr.Before(ir.Party{Families: []ir.Family{{Template: "solo", Detections: []ir.DetectionRecord{d}}}})
	recs := tr.After(ir.Party{Families: []ir.Family{{Template: "solo", Detections: []ir.DetectionRecord{d}}}})

	assert.Equal(t, Record{Template: "solo", Pre: d, Post: d}, recs["solo"])
}

func TestTracker_EmptyFamiliesExcluded(t *testing.T) {
	logger, buf := bufLogger()
	tr := NewTracker(logger)
	tr.Before(ir.Party{Families: []ir.Family{
		{Template: "empty"},
		{Template: "b", Detections: []ir.DetectionRecord{det("b", "x", 0, 1)}},
	}})
	recs := tr.After(ir.Party{Families: []ir.Family{{Template: "empty"}}})

	assert.Equal(t, []string{"b"}, recs.Templates())
	assert.True(t, recs["b"].Lost, "family dropped entirely by the transform")
	assert.Contains(t, buf.String(), "template=empty")
}
