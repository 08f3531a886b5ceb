package depurate

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Delimiter starts a block header line.
const Delimiter = '#'

// Measurement is one differential-time estimate for a station and phase.
type Measurement struct {
	Station     string
	TimeLag     float64
	Correlation float64
	Phase       string
}

// String formats m as a dt.cc measurement line.
func (m Measurement) String() string {
	return fmt.Sprintf("%s %.3f %.4f %s", m.Station, m.TimeLag, m.Correlation, m.Phase)
}

// Block is an event-pair header and its measurements.
type Block struct {
	Header       string
	Measurements []Measurement
}

// ParseStats counts what Parse discarded.
type ParseStats struct {
	// Malformed counts measurement lines with the wrong number of fields
	// or non-numeric values.
	Malformed int
	// Orphaned counts lines before the first header.
	Orphaned int
}

// Parse reads a block-structured file. Headers are kept verbatim apart
// from surrounding whitespace. Malformed measurement lines are dropped.
func Parse(r io.Reader) ([]Block, ParseStats, error) {
	var (
		blocks []Block
		stats  ParseStats
		cur    *Block
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if len(line) > 0 && line[0] == Delimiter {
			blocks = append(blocks, Block{Header: strings.TrimSpace(line)})
			cur = &blocks[len(blocks)-1]
			continue
		}
		if cur == nil {
			if strings.TrimSpace(line) != "" {
				stats.Orphaned++
			}
			continue
		}
		m, ok := parseMeasurement(line)
		if !ok {
			if strings.TrimSpace(line) != "" {
				stats.Malformed++
			}
			continue
		}
		cur.Measurements = append(cur.Measurements, m)
	}
	if err := sc.Err(); err != nil {
		return nil, stats, fmt.Errorf("parse correlation file: %w", err)
	}
	return blocks, stats, nil
}

func parseMeasurement(line string) (Measurement, bool) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return Measurement{}, false
	}
	lag, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Measurement{}, false
	}
	cc, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Measurement{}, false
	}
	return Measurement{Station: fields[0], TimeLag: lag, Correlation: cc, Phase: fields[3]}, true
}

// Format renders blocks in dt.cc layout: newline separated with a
// trailing newline.
func Format(blocks []Block) []byte {
	var b strings.Builder
	for _, blk := range blocks {
		b.WriteString(blk.Header)
		b.WriteByte('\n')
		for _, m := range blk.Measurements {
			b.WriteString(m.String())
			b.WriteByte('\n')
		}
	}
	if b.Len() == 0 {
		return []byte("\n")
	}
	return []byte(b.String())
}
