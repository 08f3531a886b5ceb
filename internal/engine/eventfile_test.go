package engine

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/quakerun/internal/ir"
)

func TestFormatEventFile(t *testing.T) {
	catalog := ir.Catalog{Events: []ir.Event{
		{
			ID:         "ev-a",
			OriginTime: time.Date(2024, 1, 1, 1, 0, 0, 123456000, time.UTC),
			Latitude:   64.1234,
			Longitude:  -17.25,
			Depth:      5.5,
			Magnitude:  &ir.Magnitude{Value: 1.25},
		},
		{
			ID:         "ev-b",
			OriginTime: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:         "ev-c",
			OriginTime: time.Date(2024, 2, 10, 13, 45, 59, 500000000, time.UTC),
			Latitude:   -0.5,
			Longitude:  170,
			Depth:      12.25,
			Magnitude:  &ir.Magnitude{Value: 3},
		},
	}}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "event_file", FormatEventFile(catalog, nil))
}
