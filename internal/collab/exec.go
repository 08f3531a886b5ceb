package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/roach88/quakerun/internal/ir"
)

// Operation names passed to external programs as their last argument.
const (
	OpBuildTemplates = "build-templates"
	OpDetect         = "detect"
	OpDecluster      = "decluster"
	OpLagCalc        = "lag-calc"
	OpMagnitudes     = "magnitudes"
	OpCorrelate      = "correlate"
	OpRelocate       = "relocate"
)

// Error codes an external program may report.
const (
	CodeWindowOverflow = "window_overflow"
)

// response is what an external program writes to stdout.
type response struct {
	Result json.RawMessage `json:"result"`
	Error  *remoteError    `json:"error,omitempty"`
}

type remoteError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Programs runs collaborators as external processes. Each call starts the
// configured command with the operation name appended, writes the request
// as JSON to stdin and reads a {"result": ..., "error": ...} object from
// stdout. Stderr is passed through to the logger.
type Programs struct {
	commands map[string][]string
	dir      string
	env      []string
	logger   *slog.Logger
}

// NewPrograms returns a Programs. commands maps an operation name to the
// argv that implements it; an operation without an entry falls back to the
// "default" entry.
func NewPrograms(commands map[string][]string, dir string, env []string, logger *slog.Logger) *Programs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Programs{commands: commands, dir: dir, env: env, logger: logger}
}

// Set returns a Set backed entirely by p.
func (p *Programs) Set() Set {
	return Set{
		Templates:  p,
		Detector:   p,
		Declusters: p,
		Lags:       p,
		Magnitudes: p,
		Correlator: p,
		Relocator:  p,
	}
}

func (p *Programs) argv(op string) ([]string, error) {
	if argv, ok := p.commands[op]; ok && len(argv) > 0 {
		return argv, nil
	}
	if argv, ok := p.commands["default"]; ok && len(argv) > 0 {
		return argv, nil
	}
	return nil, fmt.Errorf("no command configured for %s", op)
}

func (p *Programs) call(ctx context.Context, op string, req, out any) error {
	argv, err := p.argv(op)
	if err != nil {
		return err
	}
	input, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}

	args := append(append([]string{}, argv[1:]...), op)
	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.Dir = p.dir
	if len(p.env) > 0 {
		cmd.Env = append(cmd.Environ(), p.env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	p.logger.Debug("collaborator finished",
		"op", op,
		"command", argv[0],
		"elapsed", time.Since(started).Round(time.Millisecond),
		"stderr_bytes", stderr.Len(),
	)
	if stderr.Len() > 0 {
		p.logger.Debug("collaborator stderr", "op", op, "output", strings.TrimSpace(stderr.String()))
	}

	var resp response
	decodeErr := json.Unmarshal(stdout.Bytes(), &resp)
	if decodeErr == nil && resp.Error != nil {
		return resp.Error.asError(op)
	}
	if runErr != nil {
		return fmt.Errorf("%s: %s: %w (stderr: %s)", op, argv[0], runErr, strings.TrimSpace(stderr.String()))
	}
	if decodeErr != nil {
		return fmt.Errorf("%s: decode response: %w", op, decodeErr)
	}
	if out == nil {
		return nil
	}
	if len(resp.Result) == 0 {
		return fmt.Errorf("%s: response has no result", op)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", op, err)
	}
	return nil
}

func (e *remoteError) asError(op string) error {
	if e.Code == CodeWindowOverflow {
		werr := &WindowOverflowError{}
		if v, ok := e.Details["template"].(string); ok {
			werr.Template = v
		}
		if v, ok := e.Details["span_seconds"].(float64); ok {
			werr.Span = time.Duration(v * float64(time.Second))
		}
		if v, ok := e.Details["window_seconds"].(float64); ok {
			werr.Window = time.Duration(v * float64(time.Second))
		}
		return werr
	}
	return fmt.Errorf("%s: %s: %s", op, e.Code, e.Message)
}

func (p *Programs) BuildTemplates(ctx context.Context, req TemplateRequest) (ir.Tribe, error) {
	var out ir.Tribe
	err := p.call(ctx, OpBuildTemplates, req, &out)
	return out, err
}

func (p *Programs) Detect(ctx context.Context, req DetectRequest) (ir.Party, error) {
	var out ir.Party
	err := p.call(ctx, OpDetect, req, &out)
	return out, err
}

func (p *Programs) Decluster(ctx context.Context, req DeclusterRequest) (ir.Party, error) {
	var out ir.Party
	err := p.call(ctx, OpDecluster, req, &out)
	return out, err
}

func (p *Programs) LagCalc(ctx context.Context, req LagCalcRequest) (ir.Family, error) {
	var out ir.Family
	err := p.call(ctx, OpLagCalc, req, &out)
	var werr *WindowOverflowError
	if errors.As(err, &werr) && werr.Template == "" {
		werr.Template = req.Family.Template
	}
	return out, err
}

func (p *Programs) Magnitudes(ctx context.Context, req MagnitudeRequest) (MagnitudeResult, error) {
	var out MagnitudeResult
	err := p.call(ctx, OpMagnitudes, req, &out)
	return out, err
}

func (p *Programs) Correlate(ctx context.Context, req CorrelateRequest) (CorrelateResult, error) {
	var out CorrelateResult
	err := p.call(ctx, OpCorrelate, req, &out)
	return out, err
}

func (p *Programs) Relocate(ctx context.Context, req RelocateRequest) (RelocateResult, error) {
	var out RelocateResult
	err := p.call(ctx, OpRelocate, req, &out)
	return out, err
}
