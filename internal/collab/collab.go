// Package collab defines the contracts between the pipeline and the
// external programs that do the scientific work: template construction,
// matched-filter detection, declustering, lag calculation, relative
// magnitudes, cross-correlation and relocation.
//
// The pipeline treats every collaborator as opaque. It hands over the
// parameter subset and prior artifact a stage needs and gets back a value
// record; counting and persistence stay on the pipeline side.
package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/lineage"
)

// TemplateRequest asks for templates built from the run's catalog.
type TemplateRequest struct {
	Params     ir.ParameterSet `json:"parameters"`
	RunDir     string          `json:"run_dir"`
	ArchiveDir string          `json:"archive_dir"`
}

// DetectRequest scans continuous data with the tribe's templates.
type DetectRequest struct {
	Params     ir.ParameterSet `json:"parameters"`
	Tribe      ir.Tribe        `json:"tribe"`
	ArchiveDir string          `json:"archive_dir"`
}

// DeclusterRequest removes overlapping detections.
type DeclusterRequest struct {
	Params   ir.ParameterSet `json:"parameters"`
	Party    ir.Party        `json:"party"`
	MinChans int             `json:"min_chans"`
}

// LagCalcRequest refines picks for the detections of one family.
type LagCalcRequest struct {
	Params        ir.ParameterSet `json:"parameters"`
	Family        ir.Family       `json:"family"`
	SelfDetection *lineage.Record `json:"self_detection,omitempty"`
	ArchiveDir    string          `json:"archive_dir"`
}

// MagnitudeRequest computes relative magnitudes of picked detections
// against their parent templates.
type MagnitudeRequest struct {
	Params     ir.ParameterSet `json:"parameters"`
	Tribe      ir.Tribe        `json:"tribe"`
	Party      ir.Party        `json:"party"`
	ArchiveDir string          `json:"archive_dir"`
}

// MagnitudeResult is the catalog of events that received a magnitude.
type MagnitudeResult struct {
	Catalog ir.Catalog `json:"catalog"`
	// Failed counts detections for which no magnitude could be computed.
	Failed int `json:"failed"`
}

// CorrelateRequest cross-correlates catalog events and writes the
// differential-time file to OutFile.
type CorrelateRequest struct {
	Params     ir.ParameterSet `json:"parameters"`
	Catalog    ir.Catalog      `json:"catalog"`
	OutFile    string          `json:"out_file"`
	ArchiveDir string          `json:"archive_dir"`
}

// CorrelateResult summarizes a correlation run.
type CorrelateResult struct {
	Pairs int `json:"pairs"`
}

// RelocateRequest runs the relocation program on a prepared run directory.
type RelocateRequest struct {
	RunDir      string `json:"run_dir"`
	ControlFile string `json:"control_file"`
}

// RelocateResult summarizes a relocation run.
type RelocateResult struct {
	EventsRelocated int `json:"events_relocated"`
}

type TemplateBuilder interface {
	BuildTemplates(ctx context.Context, req TemplateRequest) (ir.Tribe, error)
}

type Detector interface {
	Detect(ctx context.Context, req DetectRequest) (ir.Party, error)
}

type Declusterer interface {
	Decluster(ctx context.Context, req DeclusterRequest) (ir.Party, error)
}

// LagCalculator returns the family with picks attached to each detection.
// A family whose detections do not fit the processing window yields a
// *WindowOverflowError.
type LagCalculator interface {
	LagCalc(ctx context.Context, req LagCalcRequest) (ir.Family, error)
}

type MagnitudeCalculator interface {
	Magnitudes(ctx context.Context, req MagnitudeRequest) (MagnitudeResult, error)
}

type Correlator interface {
	Correlate(ctx context.Context, req CorrelateRequest) (CorrelateResult, error)
}

type Relocator interface {
	Relocate(ctx context.Context, req RelocateRequest) (RelocateResult, error)
}

// Set bundles the collaborators of a pipeline.
type Set struct {
	Templates  TemplateBuilder
	Detector   Detector
	Declusters Declusterer
	Lags       LagCalculator
	Magnitudes MagnitudeCalculator
	Correlator Correlator
	Relocator  Relocator
}

// ErrWindowOverflow is wrapped by WindowOverflowError.
var ErrWindowOverflow = errors.New("events do not fit in processing window")

// WindowOverflowError reports a family whose detection times span more
// than the lag calculator's processing window.
type WindowOverflowError struct {
	Template string
	Span     time.Duration
	Window   time.Duration
}

func (e *WindowOverflowError) Error() string {
	if e.Window > 0 {
		return fmt.Sprintf("family %s: events span %s, processing window is %s", e.Template, e.Span, e.Window)
	}
	return fmt.Sprintf("family %s: %v", e.Template, ErrWindowOverflow)
}

func (e *WindowOverflowError) Unwrap() error { return ErrWindowOverflow }
