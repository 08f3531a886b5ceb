// Package depurate cleans the differential-time correlation file (dt.cc)
// before relocation.
//
// The file is block structured. A line starting with '#' is the header of
// an event-pair block; the lines after it, up to the next header, are
// measurements of the form
//
//	STATION TIME_LAG CORRELATION PHASE
//
// Per block the filter keeps measurements with correlation >= min_cc^2
// (stored correlations are already squared) and time_lag <= shift_len,
// keeps only the highest-correlation measurement per (station, phase), and
// drops the block entirely when fewer than min_link measurements remain.
//
// The unfiltered file is moved to dtcc.backup the first time the filter
// runs. Every run reads the backup, so rerunning with different thresholds
// starts from the unfiltered data.
package depurate
