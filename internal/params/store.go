package params

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/roach88/quakerun/internal/ir"
)

// Store locates and loads parameter files for named swarms.
//
// Layout: <swarmsDir>/<swarm>/parameters<swarm>.txt
type Store struct {
	swarmsDir string
	logger    *slog.Logger
}

// NewStore creates a Store rooted at swarmsDir.
func NewStore(swarmsDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{swarmsDir: swarmsDir, logger: logger}
}

// SwarmDir returns the directory of a swarm.
func (s *Store) SwarmDir(swarm string) string {
	return filepath.Join(s.swarmsDir, swarm)
}

// Path returns the parameter file path of a swarm.
func (s *Store) Path(swarm string) string {
	return filepath.Join(s.SwarmDir(swarm), fmt.Sprintf("parameters%s.txt", swarm))
}

// Load reads the current parameter set of a swarm. Every call re-reads
// the file; there is no cache, so Load doubles as reload.
func (s *Store) Load(swarm string) (ir.ParameterSet, error) {
	path := s.Path(swarm)
	p, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load parameters for swarm %s: %w", swarm, err)
	}
	s.logger.Debug("parameters loaded", "swarm", swarm, "path", path, "keys", len(p))
	return p, nil
}
