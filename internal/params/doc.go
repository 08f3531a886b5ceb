// Package params loads, validates and diffs the per-run parameter set.
//
// A parameter file is plain text, one key=value per line. Lines starting
// with '#' or lacking '=' are ignored and the last occurrence of a key wins.
// Keys and values are trimmed and NFC-normalized so that files edited on
// different systems compare equal.
//
// Format checking of known keys is declared in an embedded CUE schema
// (schema.cue). Presence checking is per step: each step lists the keys it
// reads, and a missing key is fatal when that step starts.
package params
