package params

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/quakerun/internal/ir"
)

// Parse reads key=value lines from r.
func Parse(r io.Reader) (ir.ParameterSet, error) {
	params := ir.ParameterSet{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		params[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read parameters: %w", err)
	}
	return params, nil
}

// parseLine splits one line at its first '='.
func parseLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	key = norm.NFC.String(strings.TrimSpace(key))
	if key == "" {
		return "", "", false
	}
	return key, norm.NFC.String(strings.TrimSpace(value)), true
}

// LoadFile parses the parameter file at path.
// A missing file returns an error wrapping os.ErrNotExist.
func LoadFile(path string) (ir.ParameterSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parameter file: %w", err)
	}
	defer f.Close()

	params, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return params, nil
}
