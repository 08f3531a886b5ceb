package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/quakerun/internal/batch"
	"github.com/roach88/quakerun/internal/collab"
	"github.com/roach88/quakerun/internal/config"
	"github.com/roach88/quakerun/internal/engine"
)

// newEngine loads the configuration and builds the engine a command runs
// against. Errors are command errors (exit code 2).
func (o *RootOptions) newEngine(cmd *cobra.Command) (*engine.Engine, error) {
	logger := o.newLogger(cmd.ErrOrStderr())

	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	set := collab.NewPrograms(cfg.Collaborators.Commands, cfg.Collaborators.Dir, cfg.Collaborators.Env, logger).Set()
	if o.Collaborators != nil {
		set = *o.Collaborators
	}
	var submitter batch.Submitter = batch.NewCommandSubmitter(cfg.Scheduler.SubmitCommand, logger)
	if o.Submitter != nil {
		submitter = o.Submitter
	}

	opts := []engine.Option{engine.WithLogger(logger)}
	if o.ConfigFile != "" {
		// Jobs run from the scheduler's working directory.
		path, err := filepath.Abs(o.ConfigFile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to resolve configuration path", err)
		}
		opts = append(opts, engine.WithConfigFile(path))
	}
	if cfg.Executable == "" {
		if exe, err := os.Executable(); err == nil {
			opts = append(opts, engine.WithExecutable(exe))
		}
	}
	opts = append(opts, o.EngineOptions...)

	eng, err := engine.New(cfg, set, submitter, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	logger.Debug("configuration loaded", "swarms_dir", cfg.SwarmsDir, "config", o.ConfigFile)
	return eng, nil
}
