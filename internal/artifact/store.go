package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/quakerun/internal/clock"
	"github.com/roach88/quakerun/internal/fsutil"
	"github.com/roach88/quakerun/internal/ir"
)

// ErrMissing is wrapped by MissingError.
var ErrMissing = errors.New("artifact missing")

// MissingError reports an artifact expected at resume time that is not in
// the run directory.
type MissingError struct {
	Name Name
	Path string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("artifact %s not found at %s", e.Name, e.Path)
}

func (e *MissingError) Unwrap() error { return ErrMissing }

// Name is an artifact file name inside the run directory.
type Name string

const (
	Tribe                 Name = "tribe.qra"
	PartyPreDecluster     Name = "party_pre-decluster.qra"
	PartyDeclustered      Name = "party_declustered.qra"
	SelfDetections        Name = "self_detections.qra"
	PartyWithPicks        Name = "party_with-picks.qra"
	CatalogWithMagnitudes Name = "catalog_w_magnitudes.qra"
)

// Kind returns the kind stored under n.
func (n Name) Kind() Kind {
	switch n {
	case Tribe:
		return KindTribe
	case SelfDetections:
		return KindSelfDetections
	case CatalogWithMagnitudes:
		return KindCatalog
	default:
		return KindParty
	}
}

// Produced returns the artifacts a step writes.
func Produced(step ir.StepName) []Name {
	switch step {
	case ir.TribeConstruction:
		return []Name{Tribe}
	case ir.Detection:
		return []Name{PartyPreDecluster}
	case ir.Declustering:
		return []Name{PartyDeclustered, SelfDetections}
	case ir.LagCalc:
		return []Name{PartyWithPicks}
	case ir.Magnitudes:
		return []Name{CatalogWithMagnitudes}
	default:
		return nil
	}
}

// Store reads and writes artifacts of one run directory.
type Store struct {
	dir   string
	clock clock.Clock
}

// NewStore returns a Store for runDir.
func NewStore(runDir string, c clock.Clock) *Store {
	if c == nil {
		c = clock.Real()
	}
	return &Store{dir: runDir, clock: c}
}

// Path returns the file path of n.
func (s *Store) Path(n Name) string {
	return filepath.Join(s.dir, string(n))
}

// Exists reports whether n is present.
func (s *Store) Exists(n Name) (bool, error) {
	return fsutil.Exists(s.Path(n))
}

// Save writes v as artifact n, replacing any previous file.
func (s *Store) Save(n Name, v any) error {
	data, err := Encode(n.Kind(), s.clock.Now(), v)
	if err != nil {
		return fmt.Errorf("save %s: %w", n, err)
	}
	if err := fsutil.WriteFileAtomic(s.Path(n), data, 0o644); err != nil {
		return fmt.Errorf("save %s: %w", n, err)
	}
	return nil
}

// Load decodes artifact n into v. A missing file yields *MissingError.
func (s *Store) Load(n Name, v any) (Header, error) {
	path := s.Path(n)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Header{}, &MissingError{Name: n, Path: path}
	}
	if err != nil {
		return Header{}, fmt.Errorf("load %s: %w", n, err)
	}
	h, err := Decode(data, n.Kind(), v)
	if err != nil {
		return Header{}, fmt.Errorf("load %s: %w", n, err)
	}
	return h, nil
}
