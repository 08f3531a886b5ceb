package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/roach88/quakerun/internal/artifact"
	"github.com/roach88/quakerun/internal/collab"
	"github.com/roach88/quakerun/internal/depurate"
	"github.com/roach88/quakerun/internal/fsutil"
	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/lineage"
	"github.com/roach88/quakerun/internal/params"
)

// stageFunc runs the work of one step and returns its ledger counts.
type stageFunc func(ctx context.Context) (ir.Counts, error)

// errNoCollaborator is returned when a stage's collaborator is not set.
var errNoCollaborator = errors.New("no collaborator configured")

func (r *run) stage(step ir.StepName) stageFunc {
	switch step {
	case ir.TribeConstruction:
		return r.constructTribe
	case ir.Detection:
		return r.detect
	case ir.Declustering:
		return r.decluster
	case ir.LagCalc:
		return r.lagCalc
	case ir.Magnitudes:
		return r.magnitudes
	case ir.Correlations:
		return r.correlate
	case ir.DepurateCorrelations:
		return r.depurate
	}
	return nil
}

func (r *run) constructTribe(ctx context.Context) (ir.Counts, error) {
	if r.e.collab.Templates == nil {
		return nil, fmt.Errorf("%s: %w", collab.OpBuildTemplates, errNoCollaborator)
	}
	tribe, err := r.e.collab.Templates.BuildTemplates(ctx, collab.TemplateRequest{
		Params:     r.stageParams(ir.TribeConstruction),
		RunDir:     r.dir,
		ArchiveDir: r.e.cfg.ArchiveDir,
	})
	if err != nil {
		return nil, err
	}
	if err := r.artifacts.Save(artifact.Tribe, tribe); err != nil {
		return nil, err
	}
	r.tribe = &tribe
	return tribeCounts(tribe), nil
}

func (r *run) detect(ctx context.Context) (ir.Counts, error) {
	if r.e.collab.Detector == nil {
		return nil, fmt.Errorf("%s: %w", collab.OpDetect, errNoCollaborator)
	}
	tribe, err := r.loadTribe()
	if err != nil {
		return nil, err
	}
	party, err := r.e.collab.Detector.Detect(ctx, collab.DetectRequest{
		Params:     r.stageParams(ir.Detection),
		Tribe:      tribe,
		ArchiveDir: r.e.cfg.ArchiveDir,
	})
	if err != nil {
		return nil, err
	}
	if err := r.saveParty(artifact.PartyPreDecluster, party); err != nil {
		return nil, err
	}
	return partyCounts(party), nil
}

func (r *run) decluster(ctx context.Context) (ir.Counts, error) {
	if r.e.collab.Declusters == nil {
		return nil, fmt.Errorf("%s: %w", collab.OpDecluster, errNoCollaborator)
	}
	party, err := r.loadParty(artifact.PartyPreDecluster)
	if err != nil {
		return nil, err
	}
	minChans, err := r.minChans()
	if err != nil {
		return nil, err
	}

	tracker := lineage.NewTracker(r.logger)
	tracker.Before(party)
	out, err := r.e.collab.Declusters.Decluster(ctx, collab.DeclusterRequest{
		Params:   r.stageParams(ir.Declustering),
		Party:    party,
		MinChans: minChans,
	})
	if err != nil {
		return nil, err
	}
	records := tracker.After(out)

	if err := r.saveParty(artifact.PartyDeclustered, out); err != nil {
		return nil, err
	}
	if err := r.artifacts.Save(artifact.SelfDetections, records); err != nil {
		return nil, err
	}
	r.self = records
	r.report.Lineage = records
	return declusterCounts(out, records.LostCount()), nil
}

// minChans returns the declustering channel floor: the min_chans
// parameter when set, otherwise the configured default.
func (r *run) minChans() (int, error) {
	if _, ok := r.params.Get("min_chans"); ok {
		return params.Int(r.params, "min_chans")
	}
	n := r.e.cfg.Declustering.MinChansDefault
	r.logger.Warn("min_chans not set, using configured default", "min_chans", n)
	return n, nil
}

func (r *run) lagCalc(ctx context.Context) (ir.Counts, error) {
	if r.e.collab.Lags == nil {
		return nil, fmt.Errorf("%s: %w", collab.OpLagCalc, errNoCollaborator)
	}
	party, err := r.loadParty(artifact.PartyDeclustered)
	if err != nil {
		return nil, err
	}
	self, err := r.loadSelfDetections()
	if err != nil {
		return nil, err
	}

	stageParams := r.stageParams(ir.LagCalc)
	out := ir.Party{Families: []ir.Family{}}
	skipped := 0
	for _, f := range party.Families {
		if len(f.Detections) == 0 {
			continue
		}
		req := collab.LagCalcRequest{
			Params:     stageParams,
			Family:     f,
			ArchiveDir: r.e.cfg.ArchiveDir,
		}
		if rec, ok := self[f.Template]; ok {
			req.SelfDetection = &rec
		}

		picked, err := r.e.collab.Lags.LagCalc(ctx, req)
		var overflow *collab.WindowOverflowError
		if errors.As(err, &overflow) {
			r.logger.Warn("family does not fit the lag-calc window, skipped",
				"template", f.Template,
				"span", overflow.Span,
				"window", overflow.Window,
			)
			if pe, ok := classify(ir.LagCalc, err).(*PipelineError); ok {
				r.warn(pe)
			}
			skipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("family %s: %w", f.Template, err)
		}
		out.Families = append(out.Families, picked)
	}

	if err := r.saveParty(artifact.PartyWithPicks, out); err != nil {
		return nil, err
	}
	return lagCalcCounts(out, skipped), nil
}

func (r *run) magnitudes(ctx context.Context) (ir.Counts, error) {
	if r.e.collab.Magnitudes == nil {
		return nil, fmt.Errorf("%s: %w", collab.OpMagnitudes, errNoCollaborator)
	}
	tribe, err := r.loadTribe()
	if err != nil {
		return nil, err
	}
	party, err := r.loadParty(artifact.PartyWithPicks)
	if err != nil {
		return nil, err
	}
	res, err := r.e.collab.Magnitudes.Magnitudes(ctx, collab.MagnitudeRequest{
		Params:     r.stageParams(ir.Magnitudes),
		Tribe:      tribe,
		Party:      party,
		ArchiveDir: r.e.cfg.ArchiveDir,
	})
	if err != nil {
		return nil, err
	}

	catalog := res.Catalog
	sort.SliceStable(catalog.Events, func(i, j int) bool {
		return catalog.Events[i].OriginTime.Before(catalog.Events[j].OriginTime)
	})
	if err := r.artifacts.Save(artifact.CatalogWithMagnitudes, catalog); err != nil {
		return nil, err
	}
	r.catalog = &catalog

	path := filepath.Join(r.dir, EventFile)
	if err := fsutil.WriteFileAtomic(path, FormatEventFile(catalog, r.logger), 0o644); err != nil {
		return nil, fmt.Errorf("write event file: %w", err)
	}
	r.logger.Info("wrote event file", "path", path, "events", len(catalog.Events))
	return magnitudeCounts(catalog, res.Failed), nil
}

func (r *run) correlate(ctx context.Context) (ir.Counts, error) {
	if r.e.collab.Correlator == nil {
		return nil, fmt.Errorf("%s: %w", collab.OpCorrelate, errNoCollaborator)
	}
	catalog, err := r.loadCatalog()
	if err != nil {
		return nil, err
	}
	retired, err := depurate.RetireBackup(r.dir, r.e.clock.Now())
	if err != nil {
		return nil, err
	}
	if retired != "" {
		r.logger.Info("retired correlation backup of a previous run", "path", retired)
	}

	outFile := filepath.Join(r.dir, depurate.CorrelationFile)
	res, err := r.e.collab.Correlator.Correlate(ctx, collab.CorrelateRequest{
		Params:     r.stageParams(ir.Correlations),
		Catalog:    catalog,
		OutFile:    outFile,
		ArchiveDir: r.e.cfg.ArchiveDir,
	})
	if err != nil {
		return nil, err
	}
	ok, err := fsutil.Exists(outFile)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("correlator wrote no %s: %w", outFile, depurate.ErrNoCorrelations)
	}
	return ir.Counts{"pairs": int64(res.Pairs)}, nil
}

func (r *run) depurate(ctx context.Context) (ir.Counts, error) {
	o, err := depurate.OptionsFromParams(r.params)
	if err != nil {
		return nil, err
	}
	res, err := depurate.Run(r.dir, o, r.logger)
	if err != nil {
		return nil, err
	}
	r.report.Depurate = &DepurationReport{
		BelowThreshold: res.BelowThreshold,
		Duplicates:     res.Duplicates,
		Malformed:      res.Malformed,
		DroppedHeaders: res.DroppedHeaders,
	}
	return res.Counts(), nil
}

func (r *run) loadTribe() (ir.Tribe, error) {
	if r.tribe != nil {
		return *r.tribe, nil
	}
	var t ir.Tribe
	if _, err := r.artifacts.Load(artifact.Tribe, &t); err != nil {
		return ir.Tribe{}, err
	}
	r.tribe = &t
	return t, nil
}

// loadParty returns the party stored as name. The in-memory party is
// used only when it is that same artifact.
func (r *run) loadParty(name artifact.Name) (ir.Party, error) {
	if r.party != nil && r.partyName == name {
		return *r.party, nil
	}
	var p ir.Party
	if _, err := r.artifacts.Load(name, &p); err != nil {
		return ir.Party{}, err
	}
	r.party, r.partyName = &p, name
	return p, nil
}

func (r *run) saveParty(name artifact.Name, p ir.Party) error {
	if err := r.artifacts.Save(name, p); err != nil {
		return err
	}
	r.party, r.partyName = &p, name
	return nil
}

func (r *run) loadSelfDetections() (lineage.Records, error) {
	if r.self != nil {
		return r.self, nil
	}
	var recs lineage.Records
	if _, err := r.artifacts.Load(artifact.SelfDetections, &recs); err != nil {
		return nil, err
	}
	r.self = recs
	return recs, nil
}

func (r *run) loadCatalog() (ir.Catalog, error) {
	if r.catalog != nil {
		return *r.catalog, nil
	}
	var c ir.Catalog
	if _, err := r.artifacts.Load(artifact.CatalogWithMagnitudes, &c); err != nil {
		return ir.Catalog{}, err
	}
	r.catalog = &c
	return c, nil
}
