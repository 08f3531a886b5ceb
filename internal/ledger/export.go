package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/roach88/quakerun/internal/fsutil"
	"github.com/roach88/quakerun/internal/ir"
)

// runFile is the JSON layout of run_file.json.
type runFile struct {
	PipelineVersion  string            `json:"pipeline_version"`
	Parameters       map[string]string `json:"parameters"`
	CompletedSteps   []runFileStep     `json:"completed_steps"`
	ParameterUpdates []runFileUpdate   `json:"parameter_updates,omitempty"`
}

type runFileStep struct {
	Step       string           `json:"step"`
	Phase      string           `json:"phase,omitempty"`
	StartTime  string           `json:"starttime"`
	EndTime    string           `json:"endtime"`
	Duration   string           `json:"duration"`
	Counts     map[string]int64 `json:"counts"`
	Superseded bool             `json:"superseded,omitempty"`
}

type runFileUpdate struct {
	Time        string `json:"time"`
	Invalidates string `json:"invalidates"`
}

// export rewrites run_file.json from the database.
func (l *Ledger) export(ctx context.Context) error {
	view, err := l.Read(ctx)
	if err != nil {
		return fmt.Errorf("export run file: %w", err)
	}
	data, err := MarshalRunFile(view, time.Local)
	if err != nil {
		return fmt.Errorf("export run file: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(l.runDir, RunFile), data, 0o644); err != nil {
		return fmt.Errorf("export run file: %w", err)
	}
	return nil
}

// MarshalRunFile renders a ledger view in the run_file.json layout:
// timestamps as "YYYY-MM-DD HH:MM:SS" in loc, durations as H:MM:SS.
func MarshalRunFile(view *ir.RunLedger, loc *time.Location) ([]byte, error) {
	rf := runFile{
		PipelineVersion: view.PipelineVersion,
		Parameters:      map[string]string(view.Parameters),
		CompletedSteps:  make([]runFileStep, 0, len(view.CompletedSteps)),
	}
	if rf.Parameters == nil {
		rf.Parameters = map[string]string{}
	}
	for _, rec := range view.CompletedSteps {
		counts := map[string]int64(rec.Counts.Clone())
		rf.CompletedSteps = append(rf.CompletedSteps, runFileStep{
			Step:       string(rec.Step),
			Phase:      string(rec.Phase),
			StartTime:  rec.StartTime.In(loc).Format(ir.TimeLayout),
			EndTime:    rec.EndTime.In(loc).Format(ir.TimeLayout),
			Duration:   FormatDuration(rec.Duration),
			Counts:     counts,
			Superseded: view.Superseded(rec),
		})
	}
	for _, inv := range view.Invalidations {
		rf.ParameterUpdates = append(rf.ParameterUpdates, runFileUpdate{
			Time:        inv.Time.In(loc).Format(ir.TimeLayout),
			Invalidates: string(inv.Step),
		})
	}

	data, err := json.MarshalIndent(rf, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// FormatDuration renders d as [D day[s], ]H:MM:SS[.ffffff], the layout
// older run files use.
func FormatDuration(d time.Duration) string {
	neg := d < 0
	if neg {
		d = -d
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second
	d -= sec * time.Second
	micros := d / time.Microsecond

	out := fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	if micros > 0 {
		out += fmt.Sprintf(".%06d", micros)
	}
	switch {
	case days == 1:
		out = "1 day, " + out
	case days > 1:
		out = fmt.Sprintf("%d days, %s", days, out)
	}
	if neg {
		out = "-" + out
	}
	return out
}
