package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/quakerun/internal/fsutil"
	"github.com/roach88/quakerun/internal/ledger"
)

// NextRunDir creates and returns a fresh run directory for swarm:
// <swarm dir>/run_YYYYMMDD_N with the lowest N >= 1 not yet taken.
func (e *Engine) NextRunDir(swarm string) (string, error) {
	swarmDir := e.params.SwarmDir(swarm)
	info, err := os.Stat(swarmDir)
	if err != nil {
		return "", fmt.Errorf("swarm %s: %w", swarm, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("swarm %s: %s is not a directory", swarm, swarmDir)
	}

	base := filepath.Join(swarmDir, "run_"+e.clock.Now().Format("20060102"))
	for n := 1; ; n++ {
		dir := fmt.Sprintf("%s_%d", base, n)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			e.logger.Info("created run directory", "swarm", swarm, "run_dir", dir)
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("create run directory: %w", err)
		}
	}
}

// ResolveRunDir maps a run argument to a directory. A bare name
// (run_20250101_1) is looked up in the swarm directory; anything with a
// path separator is used as given.
func (e *Engine) ResolveRunDir(swarm, runArg string) string {
	if swarm == "" || filepath.IsAbs(runArg) || strings.ContainsRune(runArg, filepath.Separator) {
		return runArg
	}
	return filepath.Join(e.params.SwarmDir(swarm), runArg)
}

// requireLedger fails with LEDGER_MISSING unless runDir holds a ledger,
// either the database or a run file to import.
func requireLedger(runDir string) error {
	for _, name := range []string{ledger.DBFile, ledger.RunFile} {
		ok, err := fsutil.Exists(filepath.Join(runDir, name))
		if err != nil {
			return classify("", err)
		}
		if ok {
			return nil
		}
	}
	return classify("", fmt.Errorf("no ledger in %s: %w", runDir, ledger.ErrLedgerMissing))
}
