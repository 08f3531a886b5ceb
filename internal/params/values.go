package params

import (
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/quakerun/internal/ir"
)

// timeLayouts are the accepted forms of time-valued parameters.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// String returns the value of key or a MissingKeyError.
func String(p ir.ParameterSet, key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", &MissingKeyError{Keys: []string{key}}
	}
	return v, nil
}

// Float parses key as a float64.
func Float(p ir.ParameterSet, key string) (float64, error) {
	v, err := String(p, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", key, err)
	}
	return f, nil
}

// Int parses key as an int. Integral floats ("3.0") are accepted because
// older parameter files store counts that way.
func Int(p ir.ParameterSet, key string) (int, error) {
	v, err := String(p, key)
	if err != nil {
		return 0, err
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("parameter %s: %q is not an integer", key, v)
	}
	return int(f), nil
}

// Time parses key as a UTC timestamp.
func Time(p ir.ParameterSet, key string) (time.Time, error) {
	v, err := String(p, key)
	if err != nil {
		return time.Time{}, err
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parameter %s: cannot parse %q as time", key, v)
}

// StringOr returns the value of key, or def when absent.
func StringOr(p ir.ParameterSet, key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}
