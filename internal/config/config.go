// Package config loads the pipeline configuration: where swarms and the
// waveform archive live, how jobs reach the scheduler and which programs
// implement each collaborator.
//
// The configuration is an explicit value handed to every component at
// construction. Nothing in the pipeline reads paths from package state.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/quakerun/internal/batch"
	"github.com/roach88/quakerun/internal/collab"
)

// EnvConfig names the environment variable consulted when no --config
// flag is given.
const EnvConfig = "QUAKERUN_CONFIG"

// DefaultFile is looked up in the working directory as a last resort.
const DefaultFile = "quakerun.yaml"

// Config is the pipeline configuration.
type Config struct {
	// SwarmsDir holds one directory per swarm with its parameter file
	// and run directories.
	SwarmsDir string `yaml:"swarms_dir" validate:"required"`

	// ArchiveDir is the waveform archive handed to collaborators.
	ArchiveDir string `yaml:"archive_dir"`

	// Executable is the quakerun binary job scripts invoke. Empty means
	// the running binary.
	Executable string `yaml:"executable"`

	Scheduler     Scheduler     `yaml:"scheduler"`
	Collaborators Collaborators `yaml:"collaborators"`
	Declustering  Declustering  `yaml:"declustering"`
	Relocation    Relocation    `yaml:"relocation"`
}

// Scheduler configures batch job submission.
type Scheduler struct {
	SubmitCommand       []string `yaml:"submit_command"`
	Partition           string   `yaml:"partition" validate:"required"`
	Time                string   `yaml:"time" validate:"required,walltime"`
	RelocationPartition string   `yaml:"relocation_partition" validate:"required"`
	RelocationTime      string   `yaml:"relocation_time" validate:"required,walltime"`
	MailUser            string   `yaml:"mail_user" validate:"omitempty,email"`

	// EnvSetup lines run before pipeline jobs; RelocationEnvSetup before
	// relocation jobs.
	EnvSetup           []string `yaml:"env_setup"`
	RelocationEnvSetup []string `yaml:"relocation_env_setup"`
}

// Collaborators maps operations to external programs.
type Collaborators struct {
	Commands map[string][]string `yaml:"commands" validate:"dive,keys,collabop,endkeys,min=1"`
	Dir      string              `yaml:"dir"`
	Env      []string            `yaml:"env"`
}

// Declustering holds defaults for declustering parameters.
type Declustering struct {
	// MinChansDefault is used when a run's parameters carry no min_chans.
	MinChansDefault int `yaml:"min_chans_default" validate:"gte=0"`
}

// Relocation holds the site inputs of the relocation control file.
type Relocation struct {
	StationList   string `yaml:"station_list"`
	VelocityModel string `yaml:"velocity_model"`
	Projection    string `yaml:"projection"`
	Author        string `yaml:"author"`
}

// Default returns the configuration used for keys a file leaves unset.
func Default() Config {
	return Config{
		SwarmsDir: "swarms",
		Scheduler: Scheduler{
			SubmitCommand:       []string{"sbatch"},
			Partition:           "gpu-1xA100,gpu-2xA100,gpu-8xA100",
			Time:                "2-00:00:00",
			RelocationPartition: "48cpu_192mem,64cpu_256mem",
			RelocationTime:      "3-00:00:00",
		},
		Relocation: Relocation{
			Projection: "lcc WGS84 -16.6 65.1 0.0 64.9 65.3",
		},
	}
}

var (
	validate     = validator.New()
	walltimeExpr = regexp.MustCompile(`^(\d+-)?\d{1,2}:\d{2}:\d{2}$`)
	collabOps    = map[string]bool{
		"default":               true,
		collab.OpBuildTemplates: true,
		collab.OpDetect:         true,
		collab.OpDecluster:      true,
		collab.OpLagCalc:        true,
		collab.OpMagnitudes:     true,
		collab.OpCorrelate:      true,
		collab.OpRelocate:       true,
	}
)

func init() {
	_ = validate.RegisterValidation("walltime", func(fl validator.FieldLevel) bool {
		return walltimeExpr.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("collabop", func(fl validator.FieldLevel) bool {
		return collabOps[fl.Field().String()]
	})
}

// Validate checks c and reports every failing field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the configuration file at path. An empty path falls back to
// $QUAKERUN_CONFIG, then ./quakerun.yaml, then Default.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load configuration: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// BatchDefaults returns the scheduler resources as batch defaults.
func (c Config) BatchDefaults() batch.Defaults {
	return batch.Defaults{
		Pipeline:   batch.Resources{Partition: c.Scheduler.Partition, Time: c.Scheduler.Time},
		Relocation: batch.Resources{Partition: c.Scheduler.RelocationPartition, Time: c.Scheduler.RelocationTime},
	}
}

// EnvSetupFor returns the setup lines of a kind-job.
func (c Config) EnvSetupFor(kind batch.JobKind) []string {
	if kind == batch.JobRelocate {
		return c.Scheduler.RelocationEnvSetup
	}
	return c.Scheduler.EnvSetup
}
