package batch

import (
	"bytes"
	"embed"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/roach88/quakerun/internal/fsutil"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(
	template.New("batch").
		Funcs(template.FuncMap{"quote": shellQuote}).
		ParseFS(templateFS, "templates/*.tmpl"),
)

// JobKind selects the job script.
type JobKind string

const (
	JobNewRun    JobKind = "new_run"
	JobRerun     JobKind = "rerun"
	JobCorrelate JobKind = "correlate"
	JobRelocate  JobKind = "relocate"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobNewRun, JobRerun, JobCorrelate, JobRelocate:
		return true
	}
	return false
}

// ScriptName returns the file name the job script is written to.
func (k JobKind) ScriptName() string {
	switch k {
	case JobCorrelate:
		return "correlate_script.sh"
	case JobRelocate:
		return "slurm_relocate.sh"
	case JobRerun:
		return "slurm_rerun.sh"
	default:
		return "slurm_script.sh"
	}
}

// Resources are the scheduler partition and wall time of a job.
type Resources struct {
	Partition string
	Time      string
}

// Job is everything needed to render a job script.
type Job struct {
	Kind      JobKind
	Swarm     string
	RunDir    string
	Resources Resources
	MailUser  string

	// EnvSetup lines run before the job command (module loads, conda
	// activation).
	EnvSetup []string

	// Executable is the quakerun binary the job invokes.
	Executable string
	// ConfigFile is passed to the executable as --config when set.
	ConfigFile string
}

// Name returns the scheduler job name.
func (j Job) Name() string {
	return j.Swarm + "_" + string(j.Kind)
}

// subcommands maps a job kind to the quakerun command the job runs.
var subcommands = map[JobKind]string{
	JobNewRun:    "run",
	JobRerun:     "rerun",
	JobCorrelate: "correlate",
	JobRelocate:  "relocate",
}

// Command returns the shell command line the job runs.
func (j Job) Command() string {
	parts := []string{shellQuote(j.Executable)}
	if j.ConfigFile != "" {
		parts = append(parts, "--config", shellQuote(j.ConfigFile))
	}
	parts = append(parts, subcommands[j.Kind], shellQuote(j.Swarm), shellQuote(j.RunDir))
	return strings.Join(parts, " ")
}

// Render returns the job script.
func Render(j Job) ([]byte, error) {
	if !j.Kind.Valid() {
		return nil, fmt.Errorf("unknown job kind %q", j.Kind)
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "job.sh.tmpl", j); err != nil {
		return nil, fmt.Errorf("render %s job: %w", j.Kind, err)
	}
	return buf.Bytes(), nil
}

// WriteScript renders j into its run directory and returns the script path.
func WriteScript(j Job) (string, error) {
	data, err := Render(j)
	if err != nil {
		return "", err
	}
	path := filepath.Join(j.RunDir, j.Kind.ScriptName())
	if err := fsutil.WriteFileAtomic(path, data, 0o755); err != nil {
		return "", fmt.Errorf("write %s job script: %w", j.Kind, err)
	}
	return path, nil
}

// shellQuote single-quotes s for sh.
func shellQuote(s string) string {
	if s != "" && strings.Trim(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_./:=,+@%") == "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
