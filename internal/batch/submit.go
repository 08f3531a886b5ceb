package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// ErrSubmission is wrapped by SubmissionError.
var ErrSubmission = errors.New("job submission rejected")

// SubmissionError reports a job the scheduler did not accept.
type SubmissionError struct {
	Script   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *SubmissionError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("submit %s: exit %d: %s", e.Script, e.ExitCode, msg)
}

func (e *SubmissionError) Unwrap() error { return ErrSubmission }

// Submission is an accepted job.
type Submission struct {
	JobID  string
	Output string
}

// Submitter hands a job script to the scheduler.
type Submitter interface {
	Submit(ctx context.Context, script string) (Submission, error)
}

var jobIDPattern = regexp.MustCompile(`Submitted batch job (\d+)`)

// CommandSubmitter submits scripts by running a command (sbatch) with the
// script path as its last argument.
type CommandSubmitter struct {
	command []string
	logger  *slog.Logger
}

// NewCommandSubmitter returns a submitter running command. An empty command
// means sbatch.
func NewCommandSubmitter(command []string, logger *slog.Logger) *CommandSubmitter {
	if len(command) == 0 {
		command = []string{"sbatch"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandSubmitter{command: command, logger: logger}
}

func (s *CommandSubmitter) Submit(ctx context.Context, script string) (Submission, error) {
	args := append(append([]string{}, s.command[1:]...), script)
	cmd := exec.CommandContext(ctx, s.command[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		subErr := &SubmissionError{Script: script, ExitCode: -1, Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			subErr.ExitCode = exitErr.ExitCode()
		}
		s.logger.Error("job submission failed", "script", script, "exit_code", subErr.ExitCode, "stderr", strings.TrimSpace(stderr.String()))
		return Submission{}, subErr
	}

	sub := Submission{Output: strings.TrimSpace(stdout.String())}
	if m := jobIDPattern.FindStringSubmatch(sub.Output); m != nil {
		sub.JobID = m[1]
	}
	s.logger.Info("job submitted", "script", script, "job_id", sub.JobID)
	return sub, nil
}
