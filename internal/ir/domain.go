package ir

import "time"

// Pick is a phase arrival on one channel.
type Pick struct {
	Station string    `json:"station" cbor:"station"`
	Channel string    `json:"channel" cbor:"channel"`
	Phase   string    `json:"phase" cbor:"phase"`
	Time    time.Time `json:"time" cbor:"time"`
}

// Magnitude is an event magnitude with its uncertainty.
type Magnitude struct {
	Value       float64 `json:"value" cbor:"value"`
	Uncertainty float64 `json:"uncertainty,omitempty" cbor:"uncertainty,omitempty"`
	Type        string  `json:"type,omitempty" cbor:"type,omitempty"`
}

// Event is a located seismic event.
type Event struct {
	ID         string     `json:"id" cbor:"id"`
	OriginTime time.Time  `json:"origin_time" cbor:"origin_time"`
	Latitude   float64    `json:"latitude" cbor:"latitude"`
	Longitude  float64    `json:"longitude" cbor:"longitude"`
	Depth      float64    `json:"depth" cbor:"depth"`
	Magnitude  *Magnitude `json:"magnitude,omitempty" cbor:"magnitude,omitempty"`
	Picks      []Pick     `json:"picks,omitempty" cbor:"picks,omitempty"`

	// Template names the template whose detection produced this event.
	// Empty for catalog events.
	Template string `json:"template,omitempty" cbor:"template,omitempty"`
}

// Template is a reference waveform signature built from a catalog event.
// Waveform data stays with the external template builder; the pipeline
// only tracks identity and metadata.
type Template struct {
	Name          string   `json:"name" cbor:"name"`
	EventID       string   `json:"event_id" cbor:"event_id"`
	Stations      []string `json:"stations" cbor:"stations"`
	ProcessLength float64  `json:"process_length" cbor:"process_length"`
}

// Tribe is the output of template construction: the catalog the templates
// were built from and the templates themselves.
type Tribe struct {
	Catalog   []Event    `json:"catalog" cbor:"catalog"`
	Templates []Template `json:"templates" cbor:"templates"`
}

// DetectionRecord is a candidate match between a template and continuous data.
type DetectionRecord struct {
	Template string    `json:"template" cbor:"template"`
	EventID  string    `json:"event_id" cbor:"event_id"`
	Time     time.Time `json:"time" cbor:"time"`
	Score    float64   `json:"score" cbor:"score"`
	Channels int       `json:"channels" cbor:"channels"`
	Picks    []Pick    `json:"picks,omitempty" cbor:"picks,omitempty"`
}

// DetectionKey is the value identity of a detection: the underlying event,
// its time and its score. Two detections with equal keys are the same
// detection regardless of where they are stored.
type DetectionKey struct {
	EventID string
	Time    int64 // UnixNano
	Score   float64
}

// Key returns the value identity of d.
func (d DetectionRecord) Key() DetectionKey {
	return DetectionKey{EventID: d.EventID, Time: d.Time.UnixNano(), Score: d.Score}
}

// Family is the set of detections made by one template.
type Family struct {
	Template   string            `json:"template" cbor:"template"`
	Detections []DetectionRecord `json:"detections" cbor:"detections"`
}

// Party is the set of families produced by detection.
type Party struct {
	Families []Family `json:"families" cbor:"families"`
}

// DetectionCount returns the total number of detections in the party.
func (p Party) DetectionCount() int {
	n := 0
	for _, f := range p.Families {
		n += len(f.Detections)
	}
	return n
}

// NonEmptyFamilies returns the number of families with at least one detection.
func (p Party) NonEmptyFamilies() int {
	n := 0
	for _, f := range p.Families {
		if len(f.Detections) > 0 {
			n++
		}
	}
	return n
}

// Catalog is an ordered set of events.
type Catalog struct {
	Events []Event `json:"events" cbor:"events"`
}
