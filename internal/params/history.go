package params

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/roach88/quakerun/internal/fsutil"
	"github.com/roach88/quakerun/internal/ir"
)

// HistoryFile is the per-swarm parameter change log.
const HistoryFile = "parameter_history.csv"

// Update applies changes to a swarm's parameter file and appends an entry
// to the swarm's parameter history. Existing lines keep their position;
// new keys are appended in sorted order. Returns the resulting set.
func (s *Store) Update(swarm string, changes ir.ParameterSet, comment string, now time.Time) (ir.ParameterSet, error) {
	if len(changes) == 0 {
		return nil, fmt.Errorf("update parameters for swarm %s: no changes given", swarm)
	}
	swarmDir := s.SwarmDir(swarm)
	if _, err := os.Stat(swarmDir); err != nil {
		return nil, fmt.Errorf("update parameters for swarm %s: %w", swarm, err)
	}

	path := s.Path(swarm)
	lines, err := readLines(path)
	if err != nil {
		return nil, fmt.Errorf("update parameters for swarm %s: %w", swarm, err)
	}

	applied := map[string]bool{}
	for i, line := range lines {
		key, old, ok := parseLine(line)
		if !ok {
			continue
		}
		if v, changed := changes[key]; changed {
			s.logger.Info("updating parameter", "swarm", swarm, "key", key, "old", old, "new", v)
			lines[i] = key + "=" + v
			applied[key] = true
		}
	}
	for _, key := range changes.Keys() {
		if applied[key] {
			continue
		}
		s.logger.Info("adding parameter", "swarm", swarm, "key", key, "value", changes[key])
		lines = append(lines, key+"="+changes[key])
	}

	if err := fsutil.WriteFileAtomic(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("update parameters for swarm %s: %w", swarm, err)
	}
	if err := appendHistory(filepath.Join(swarmDir, HistoryFile), changes, comment, now); err != nil {
		return nil, fmt.Errorf("update parameters for swarm %s: %w", swarm, err)
	}
	return s.Load(swarm)
}

// HistoryEntry is one row of the parameter history.
type HistoryEntry struct {
	Date    string
	Changes string
	Comment string
}

// History returns the parameter history of a swarm, oldest first.
func (s *Store) History(swarm string) ([]HistoryEntry, error) {
	f, err := os.Open(filepath.Join(s.SwarmDir(swarm), HistoryFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read parameter history: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read parameter history: %w", err)
	}
	var out []HistoryEntry
	for i, rec := range records {
		if i == 0 || len(rec) != 3 {
			continue
		}
		out = append(out, HistoryEntry{Date: rec[0], Changes: rec[1], Comment: rec[2]})
	}
	return out, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func appendHistory(path string, changes ir.ParameterSet, comment string, now time.Time) error {
	_, statErr := os.Stat(path)
	writeHeader := errors.Is(statErr, fs.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open parameter history: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write([]string{"date", "parameters", "comments"}); err != nil {
			return err
		}
	}
	pairs := make([]string, 0, len(changes))
	for _, k := range changes.Keys() {
		pairs = append(pairs, k+"="+changes[k])
	}
	sort.Strings(pairs)
	if err := w.Write([]string{now.Format(ir.TimeLayout), strings.Join(pairs, " "), comment}); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}
