package batch

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/roach88/quakerun/internal/fsutil"
)

// ControlFile is the relocation control file name inside the run directory.
const ControlFile = "swarm_relocation.inp"

// Relocation holds the site-specific inputs of the relocation control file.
type Relocation struct {
	Swarm  string
	RunDir string

	// StationList is the station file with elevations.
	StationList string
	// VelocityModel is the 1-D velocity model file.
	VelocityModel string
	// Projection is "proj ellps lon0 lat0 rotANG [latP1 latP2]".
	Projection string
	// Author appears in the control file banner.
	Author string
}

// RenderControlFile returns the GrowClust control file for r.
func RenderControlFile(r Relocation) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "growclust.inp.tmpl", r); err != nil {
		return nil, fmt.Errorf("render control file: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteControlFile renders r into its run directory and returns the path.
func WriteControlFile(r Relocation) (string, error) {
	data, err := RenderControlFile(r)
	if err != nil {
		return "", err
	}
	path := filepath.Join(r.RunDir, ControlFile)
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write control file: %w", err)
	}
	return path, nil
}
