package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/roach88/quakerun/internal/collab"
	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/lineage"
)

// CatalogStart is the origin time of the first fake catalog event.
var CatalogStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultCorrelations is the dt.cc a fake Correlator writes. Under
// BaseParams the first block survives depuration and the second does not.
const DefaultCorrelations = `# 1 2 0.000
STA1 0.100 0.9000 P
STA2 0.200 0.8500 S
STA3 0.150 0.7000 P
# 1 3 0.000
STA1 0.100 0.3000 P
STA2 0.200 0.2000 S
`

// Pipeline is an in-memory fake of every collaborator.
//
// Template construction yields one template per catalog event. Detection
// gives every template Detections detections, the first of which is the
// self-detection (the template's own event, highest score). Declustering
// drops detections below MinChans and the self-detection of templates in
// DropSelf. Lag-calc picks every detection, except for templates in
// Overflow, which fail with a window overflow. Magnitudes turns every
// picked detection into an event, newest first.
//
// Thread-safety: safe for concurrent use via internal mutex.
type Pipeline struct {
	mu sync.Mutex

	Events       int
	Detections   int
	DropSelf     map[string]bool
	Overflow     map[string]bool
	Fail         map[string]error
	Pairs        int
	Correlations string
	Relocated    int

	calls        []string
	lastMinChans int
	lagSelf      map[string]bool
}

// NewPipeline returns a Pipeline with three events, three detections per
// family and DefaultCorrelations.
func NewPipeline() *Pipeline {
	return &Pipeline{
		Events:       3,
		Detections:   3,
		DropSelf:     map[string]bool{},
		Overflow:     map[string]bool{},
		Fail:         map[string]error{},
		Pairs:        2,
		Correlations: DefaultCorrelations,
		Relocated:    3,
		lagSelf:      map[string]bool{},
	}
}

// Set returns p as every collaborator of a pipeline.
func (p *Pipeline) Set() collab.Set {
	return collab.Set{
		Templates:  p,
		Detector:   p,
		Declusters: p,
		Lags:       p,
		Magnitudes: p,
		Correlator: p,
		Relocator:  p,
	}
}

// Calls returns the operations invoked so far, in order.
func (p *Pipeline) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

// ResetCalls forgets recorded operations.
func (p *Pipeline) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

// LastMinChans returns the min_chans of the last decluster call.
func (p *Pipeline) LastMinChans() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastMinChans
}

// LagCalcHadSelf reports whether lag-calc received a self-detection for
// template.
func (p *Pipeline) LagCalcHadSelf(template string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lagSelf[template]
}

func (p *Pipeline) enter(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, op)
	return p.Fail[op]
}

// TemplateName is the fake template built from catalog event i (1-based).
func TemplateName(i int) string { return fmt.Sprintf("tpl-%d", i) }

func (p *Pipeline) BuildTemplates(ctx context.Context, req collab.TemplateRequest) (ir.Tribe, error) {
	if err := p.enter(collab.OpBuildTemplates); err != nil {
		return ir.Tribe{}, err
	}
	tribe := ir.Tribe{}
	for i := 1; i <= p.Events; i++ {
		ev := ir.Event{
			ID:         fmt.Sprintf("ev-%d", i),
			OriginTime: CatalogStart.Add(time.Duration(i) * time.Hour),
			Latitude:   64.0 + float64(i)/100,
			Longitude:  -17.0 - float64(i)/100,
			Depth:      5.0 + float64(i),
		}
		tribe.Catalog = append(tribe.Catalog, ev)
		tribe.Templates = append(tribe.Templates, ir.Template{
			Name:          TemplateName(i),
			EventID:       ev.ID,
			Stations:      []string{"STA1", "STA2", "STA3"},
			ProcessLength: 86400,
		})
	}
	return tribe, nil
}

func (p *Pipeline) Detect(ctx context.Context, req collab.DetectRequest) (ir.Party, error) {
	if err := p.enter(collab.OpDetect); err != nil {
		return ir.Party{}, err
	}
	origins := make(map[string]time.Time, len(req.Tribe.Catalog))
	for _, ev := range req.Tribe.Catalog {
		origins[ev.ID] = ev.OriginTime
	}
	party := ir.Party{}
	for _, tpl := range req.Tribe.Templates {
		f := ir.Family{Template: tpl.Name, Detections: []ir.DetectionRecord{}}
		for j := 0; j < p.Detections; j++ {
			d := ir.DetectionRecord{
				Template: tpl.Name,
				EventID:  tpl.EventID,
				Time:     origins[tpl.EventID],
				Score:    10,
				Channels: 6,
			}
			if j > 0 {
				d.EventID = fmt.Sprintf("%s-det-%d", tpl.Name, j)
				d.Time = d.Time.Add(time.Duration(j) * 24 * time.Hour)
				d.Score = 10 - float64(j)
				d.Channels = 6 - 2*j
			}
			f.Detections = append(f.Detections, d)
		}
		party.Families = append(party.Families, f)
	}
	return party, nil
}

func (p *Pipeline) Decluster(ctx context.Context, req collab.DeclusterRequest) (ir.Party, error) {
	if err := p.enter(collab.OpDecluster); err != nil {
		return ir.Party{}, err
	}
	p.mu.Lock()
	p.lastMinChans = req.MinChans
	p.mu.Unlock()

	out := ir.Party{}
	for _, f := range req.Party.Families {
		self, hasSelf := lineage.SelfDetection(f)
		kept := ir.Family{Template: f.Template, Detections: []ir.DetectionRecord{}}
		for _, d := range f.Detections {
			if d.Channels < req.MinChans {
				continue
			}
			if hasSelf && p.DropSelf[f.Template] && d.Key() == self.Key() {
				continue
			}
			kept.Detections = append(kept.Detections, d)
		}
		out.Families = append(out.Families, kept)
	}
	return out, nil
}

func (p *Pipeline) LagCalc(ctx context.Context, req collab.LagCalcRequest) (ir.Family, error) {
	if err := p.enter(collab.OpLagCalc); err != nil {
		return ir.Family{}, err
	}
	p.mu.Lock()
	p.lagSelf[req.Family.Template] = req.SelfDetection != nil
	overflow := p.Overflow[req.Family.Template]
	p.mu.Unlock()

	if overflow {
		return ir.Family{}, &collab.WindowOverflowError{
			Template: req.Family.Template,
			Span:     48 * time.Hour,
			Window:   24 * time.Hour,
		}
	}
	out := ir.Family{Template: req.Family.Template}
	for _, d := range req.Family.Detections {
		d.Picks = []ir.Pick{
			{Station: "STA1", Channel: "HHZ", Phase: "P", Time: d.Time.Add(2 * time.Second)},
			{Station: "STA1", Channel: "HHN", Phase: "S", Time: d.Time.Add(4 * time.Second)},
			{Station: "STA2", Channel: "HHZ", Phase: "P", Time: d.Time.Add(3 * time.Second)},
		}
		out.Detections = append(out.Detections, d)
	}
	return out, nil
}

func (p *Pipeline) Magnitudes(ctx context.Context, req collab.MagnitudeRequest) (collab.MagnitudeResult, error) {
	if err := p.enter(collab.OpMagnitudes); err != nil {
		return collab.MagnitudeResult{}, err
	}
	var events []ir.Event
	for _, f := range req.Party.Families {
		for _, d := range f.Detections {
			if len(d.Picks) == 0 {
				continue
			}
			events = append(events, ir.Event{
				ID:         d.EventID,
				OriginTime: d.Time,
				Latitude:   64.5,
				Longitude:  -17.5,
				Depth:      6.25,
				Magnitude:  &ir.Magnitude{Value: d.Score / 10, Type: "ML"},
				Picks:      d.Picks,
				Template:   f.Template,
			})
		}
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return collab.MagnitudeResult{Catalog: ir.Catalog{Events: events}}, nil
}

func (p *Pipeline) Correlate(ctx context.Context, req collab.CorrelateRequest) (collab.CorrelateResult, error) {
	if err := p.enter(collab.OpCorrelate); err != nil {
		return collab.CorrelateResult{}, err
	}
	if err := os.WriteFile(req.OutFile, []byte(p.Correlations), 0o644); err != nil {
		return collab.CorrelateResult{}, err
	}
	return collab.CorrelateResult{Pairs: p.Pairs}, nil
}

func (p *Pipeline) Relocate(ctx context.Context, req collab.RelocateRequest) (collab.RelocateResult, error) {
	if err := p.enter(collab.OpRelocate); err != nil {
		return collab.RelocateResult{}, err
	}
	return collab.RelocateResult{EventsRelocated: p.Relocated}, nil
}
