package engine

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/roach88/quakerun/internal/ir"
)

// EventFile is the relocation event list inside the run directory.
const EventFile = "event_file.txt"

// FormatEventFile renders c in the relocation event list format:
//
//	year month day hour minute second id lat lon depth mag
//
// Event ids are positions 1..N in c, so c must already be in origin time
// order. Events without a magnitude are skipped but keep their id. The
// file has no header line; the relocator rejects one.
func FormatEventFile(c ir.Catalog, logger *slog.Logger) []byte {
	var buf bytes.Buffer
	for i, ev := range c.Events {
		if ev.Magnitude == nil {
			if logger != nil {
				logger.Warn("no magnitude for event, left out of event file", "event", ev.ID)
			}
			continue
		}
		t := ev.OriginTime.UTC()
		second := float64(t.Second()) + float64(t.Nanosecond()/1000)/1e6
		fmt.Fprintf(&buf, "%d %02d %02d %02d %02d %06.3f %d %.4f %.4f %.2f %.3f\n",
			t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), second,
			i+1, ev.Latitude, ev.Longitude, ev.Depth, ev.Magnitude.Value)
	}
	return buf.Bytes()
}
