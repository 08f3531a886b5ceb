package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/store"
)

// legacyRunFile is the run_file.json layout written before the ledger
// database existed. Parameter values and counts may be any JSON scalar;
// counts may be null.
type legacyRunFile struct {
	PipelineVersion string         `json:"pipeline_version"`
	RawParameters   map[string]any `json:"parameters"`
	CompletedSteps  []legacyStep   `json:"completed_steps"`
}

type legacyStep struct {
	Step      string         `json:"step"`
	StartTime string         `json:"starttime"`
	EndTime   string         `json:"endtime"`
	Counts    map[string]any `json:"counts"`
}

// importLegacy seeds an empty database from an existing run_file.json.
// Every entry is parsed before anything is written, and the run and its
// entries are stored in one transaction, so a file that fails to import
// leaves the database empty and is retried on the next Open. A run
// directory without one is left uninitialized.
func (l *Ledger) importLegacy(ctx context.Context) error {
	data, err := os.ReadFile(filepath.Join(l.runDir, RunFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("import %s: %w", RunFile, err)
	}

	var rf legacyRunFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&rf); err != nil {
		return fmt.Errorf("import %s: %w", RunFile, err)
	}

	params := make(ir.ParameterSet, len(rf.RawParameters))
	for k, v := range rf.RawParameters {
		params[k] = legacyScalar(v)
	}

	records := make([]ir.StepRecord, 0, len(rf.CompletedSteps))
	for i, s := range rf.CompletedSteps {
		step, err := ir.ParseStepName(s.Step)
		if err != nil {
			return fmt.Errorf("import %s: entry %d: %w", RunFile, i, err)
		}
		start, err := time.ParseInLocation(ir.TimeLayout, s.StartTime, time.Local)
		if err != nil {
			return fmt.Errorf("import %s: entry %d: starttime: %w", RunFile, i, err)
		}
		end, err := time.ParseInLocation(ir.TimeLayout, s.EndTime, time.Local)
		if err != nil {
			return fmt.Errorf("import %s: entry %d: endtime: %w", RunFile, i, err)
		}

		counts := ir.Counts{}
		for k, v := range s.Counts {
			n, ok := v.(json.Number)
			if !ok {
				continue
			}
			if c, err := n.Int64(); err == nil {
				counts[k] = c
			}
		}

		records = append(records, ir.StepRecord{
			Step:         step,
			Phase:        ir.PhaseCompleted,
			StartTime:    start,
			EndTime:      end,
			Duration:     end.Sub(start),
			Counts:       counts,
			InvocationID: l.invocationID,
		})
	}

	_, err = l.store.ImportRun(ctx, store.Run{
		PipelineVersion: rf.PipelineVersion,
		Parameters:      params,
		CreatedAt:       l.clock.Now(),
		InvocationID:    l.invocationID,
	}, records)
	if err != nil {
		return fmt.Errorf("import %s: %w", RunFile, err)
	}

	l.logger.Info("imported legacy run file",
		"run_dir", l.runDir,
		"steps", len(rf.CompletedSteps),
	)
	return nil
}

// legacyScalar renders a decoded JSON scalar the way it would appear in a
// parameter file.
func legacyScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "True"
		}
		return "False"
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
