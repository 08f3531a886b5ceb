package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/quakerun/internal/artifact"
	"github.com/roach88/quakerun/internal/batch"
	"github.com/roach88/quakerun/internal/collab"
	"github.com/roach88/quakerun/internal/depurate"
	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/ledger"
	"github.com/roach88/quakerun/internal/params"
)

// PipelineError represents a failure while driving the pipeline.
//
// Pipeline errors include:
//   - Missing artifact: an intermediate file needed to resume is absent
//   - Missing parameter: a key the starting stage reads is not set
//   - Lag window overflow: one family does not fit the lag-calc window
//     (non-fatal, reported as a warning)
//   - Job submission failure: the scheduler rejected a job
//
// PipelineError carries structured fields for diagnostics.
type PipelineError struct {
	// Code identifies the error category.
	Code ErrorCode `json:"code"`

	// Step is the stage that failed. Empty for failures outside a stage.
	Step ir.StepName `json:"step,omitempty"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Details contains additional context.
	Details map[string]string `json:"details,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// ErrorCode categorizes pipeline errors.
type ErrorCode string

const (
	// ErrCodeMissingArtifact indicates an expected intermediate file is absent.
	ErrCodeMissingArtifact ErrorCode = "MISSING_ARTIFACT"

	// ErrCodeParameterKeyMissing indicates a required parameter is not set.
	ErrCodeParameterKeyMissing ErrorCode = "PARAMETER_KEY_MISSING"

	// ErrCodeInvalidParameters indicates parameter values of the wrong format.
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"

	// ErrCodeLagWindowOverflow indicates a family's events do not fit the
	// lag-calc processing window.
	ErrCodeLagWindowOverflow ErrorCode = "LAG_WINDOW_OVERFLOW"

	// ErrCodeJobSubmission indicates the scheduler rejected a job.
	ErrCodeJobSubmission ErrorCode = "JOB_SUBMISSION_FAILURE"

	// ErrCodeLedgerMissing indicates the run has no ledger.
	ErrCodeLedgerMissing ErrorCode = "LEDGER_MISSING"

	// ErrCodeAlreadyInitialized indicates the run already has a ledger.
	ErrCodeAlreadyInitialized ErrorCode = "ALREADY_INITIALIZED"

	// ErrCodeStageFailed indicates a collaborator or I/O failure inside a stage.
	ErrCodeStageFailed ErrorCode = "STAGE_FAILED"
)

// Error implements the error interface.
func (e *PipelineError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Step != "" {
		return fmt.Sprintf("%s: %s (step=%s)", e.Code, msg, e.Step)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error { return e.Err }

func hasCode(err error, code ErrorCode) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsMissingArtifact reports whether err is a missing artifact error.
func IsMissingArtifact(err error) bool { return hasCode(err, ErrCodeMissingArtifact) }

// IsParameterKeyMissing reports whether err is a missing parameter error.
func IsParameterKeyMissing(err error) bool { return hasCode(err, ErrCodeParameterKeyMissing) }

// IsLagWindowOverflow reports whether err is a lag window overflow.
func IsLagWindowOverflow(err error) bool { return hasCode(err, ErrCodeLagWindowOverflow) }

// IsJobSubmissionFailure reports whether err is a rejected job submission.
func IsJobSubmissionFailure(err error) bool { return hasCode(err, ErrCodeJobSubmission) }

// IsLedgerMissing reports whether err is a missing ledger error.
func IsLedgerMissing(err error) bool { return hasCode(err, ErrCodeLedgerMissing) }

// IsAlreadyInitialized reports whether err is an already initialized error.
func IsAlreadyInitialized(err error) bool { return hasCode(err, ErrCodeAlreadyInitialized) }

// classify wraps err in a PipelineError with a code derived from its cause.
// Errors that already are PipelineErrors pass through.
func classify(step ir.StepName, err error) error {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return err
	}

	code := ErrCodeStageFailed
	details := map[string]string{}
	var (
		missingArtifact *artifact.MissingError
		missingKey      *params.MissingKeyError
		formatErr       *params.FormatError
		submission      *batch.SubmissionError
		overflow        *collab.WindowOverflowError
	)
	switch {
	case errors.As(err, &missingArtifact):
		code = ErrCodeMissingArtifact
		details["artifact"] = string(missingArtifact.Name)
		details["path"] = missingArtifact.Path
	case errors.Is(err, depurate.ErrNoCorrelations):
		code = ErrCodeMissingArtifact
		details["artifact"] = depurate.CorrelationFile
	case errors.As(err, &missingKey):
		code = ErrCodeParameterKeyMissing
		for i, k := range missingKey.Keys {
			details[fmt.Sprintf("key_%d", i)] = k
		}
	case errors.As(err, &formatErr):
		code = ErrCodeInvalidParameters
	case errors.As(err, &submission):
		code = ErrCodeJobSubmission
		details["script"] = submission.Script
		details["exit_code"] = fmt.Sprintf("%d", submission.ExitCode)
	case errors.As(err, &overflow):
		code = ErrCodeLagWindowOverflow
		details["template"] = overflow.Template
	case errors.Is(err, ledger.ErrLedgerMissing):
		code = ErrCodeLedgerMissing
	case errors.Is(err, ledger.ErrAlreadyInitialized):
		code = ErrCodeAlreadyInitialized
	}
	if len(details) == 0 {
		details = nil
	}
	return &PipelineError{Code: code, Step: step, Message: err.Error(), Details: details, Err: err}
}
