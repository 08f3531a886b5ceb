package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/quakerun/internal/ir"
)

// timeFormat is the storage format of timestamps. Sub-second precision is
// kept so durations survive a round trip.
const timeFormat = time.RFC3339Nano

// marshalParameters converts a ParameterSet to canonical JSON TEXT.
func marshalParameters(p ir.ParameterSet) (string, error) {
	if p == nil {
		p = ir.ParameterSet{}
	}
	data, err := ir.MarshalCanonical(p)
	if err != nil {
		return "", fmt.Errorf("marshal parameters: %w", err)
	}
	return string(data), nil
}

// marshalCounts converts Counts to canonical JSON TEXT.
func marshalCounts(c ir.Counts) (string, error) {
	if c == nil {
		c = ir.Counts{}
	}
	data, err := ir.MarshalCanonical(c)
	if err != nil {
		return "", fmt.Errorf("marshal counts: %w", err)
	}
	return string(data), nil
}

func unmarshalParameters(data string) (ir.ParameterSet, error) {
	p := ir.ParameterSet{}
	if data == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	return p, nil
}

func unmarshalCounts(data string) (ir.Counts, error) {
	c := ir.Counts{}
	if data == "" {
		return c, nil
	}
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("unmarshal counts: %w", err)
	}
	return c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
