// Package pipeline wires the whole run together: volume scoring, reference
// construction, mask hierarchy, the per-slice registration state machine,
// reassembly and quality reporting.
package pipeline

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/assembly"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/config"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/engine"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/mask"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/reference"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/registration"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/report"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/scoring"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/voxel"
)

// Params holds everything a run needs. The timeseries and brain mask are
// immutable inputs; Prebuilt, when non-nil, bypasses reference
// construction entirely.
type Params struct {
	Config  *config.Config
	Profile config.QualityProfile

	Timeseries *models.Timeseries
	BrainMask  *models.Mask
	Prebuilt   *models.Volume

	Registrar engine.Registrar
}

// Results collects the run's artifacts.
type Results struct {
	Output    *models.Timeseries
	Fields    []*models.Volume
	Scoring   *scoring.Result
	Reference *models.Volume
	Hierarchy *mask.Hierarchy
	Assess    *report.Assessment

	// StateCounts tallies how slices left the state machine.
	StateCounts map[registration.FinalState]int

	// Units records each slice's final state and linear attempt count,
	// without retaining the per-slice image artifacts.
	Units map[models.Key]UnitSummary
}

// UnitSummary is the lightweight per-(volume, slice) registration record.
type UnitSummary struct {
	State    registration.FinalState
	Attempts int
}

// Pipeline runs the distortion-correction protocol end to end.
type Pipeline struct {
	params *Params
}

// New creates a pipeline instance with the provided parameters.
func New(params *Params) *Pipeline {
	return &Pipeline{params: params}
}

// Process runs the complete pipeline. Only input-validation failures abort
// the run; registration failures degrade per slice inside the state
// machine.
func (p *Pipeline) Process() (*Results, error) {
	ts := p.params.Timeseries
	cfg := p.params.Config
	if ts == nil || ts.Len() == 0 {
		return nil, fmt.Errorf("pipeline: empty input timeseries")
	}
	if p.params.BrainMask == nil {
		return nil, fmt.Errorf("pipeline: brain mask is required")
	}

	res := &Results{
		StateCounts: make(map[registration.FinalState]int),
		Units:       make(map[models.Key]UnitSummary),
	}

	// Step 1: rank volumes by quality.
	fmt.Println("Step 1: Scoring timeseries volumes...")
	scorer := scoring.NewScorer(cfg.Scoring.LiberalFrac, cfg.Scoring.StrictFrac)
	sc, err := scorer.Score(ts)
	if err != nil {
		return nil, fmt.Errorf("pipeline: volume scoring failed: %w", err)
	}
	if sc.QualityWarning {
		logrus.Warnf("pipeline: only %d volumes available, reference quality may suffer", ts.Len())
	}
	res.Scoring = sc

	// Step 2: build the reference volume.
	fmt.Println("Step 2: Building reference volume...")
	refBuilder := reference.NewBuilder(p.params.Registrar)
	ref, err := refBuilder.Build(ts, sc.Strict, p.params.Prebuilt)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reference construction failed: %w", err)
	}
	res.Reference = ref

	// Step 3: derive the mask hierarchy.
	fmt.Println("Step 3: Building mask hierarchy...")
	maskBuilder := mask.NewBuilder(cfg.Mask.LateralMode)
	maskBuilder.RegularDilation = cfg.Mask.RegularDilation
	maskBuilder.LiberalDilation = cfg.Mask.LiberalDilation
	maskBuilder.BackgroundDilation = cfg.Mask.BackgroundDilation
	h, err := maskBuilder.Build(ref, p.params.BrainMask)
	if err != nil {
		return nil, fmt.Errorf("pipeline: mask hierarchy failed: %w", err)
	}
	res.Hierarchy = h

	// Step 4: register every slice of every volume.
	fmt.Println("Step 4: Registering slices...")
	preds := registration.BuildPredecessorIndex(ts.Len(), ts.Geom.NZ, cfg.Registration.Interleaved)
	machine := registration.NewMachine(p.params.Registrar, p.params.Profile, h, ref, preds)
	machine.ZeroMasking = cfg.Registration.ZeroMasking
	machine.NonLinear = cfg.Registration.NonLinear
	machine.KnotIntervals = cfg.Registration.KnotIntervals

	streams, err := report.OpenStreams(cfg.Output.ReportDir)
	if err != nil {
		return nil, err
	}
	defer streams.Close()

	reassembler := assembly.NewReassembler(ts.Geom)
	aligned := make([]*models.Volume, ts.Len())
	var fieldVols []*models.Volume

	for v := 0; v < ts.Len(); v++ {
		outcomes := make([]*registration.Outcome, ts.Geom.NZ)
		slices := make([]*models.Slice, ts.Geom.NZ)
		fields := make([]*models.DeformationField, ts.Geom.NZ)
		for z := 0; z < ts.Geom.NZ; z++ {
			k := models.Key{Volume: v, Slice: z}
			out, err := machine.Run(k, ts.Volumes[v].ExtractSlice(z))
			if err != nil {
				return nil, fmt.Errorf("pipeline: unit %s: %w", k, err)
			}
			outcomes[z] = out
			slices[z] = out.Aligned
			fields[z] = out.Field
			res.StateCounts[out.State]++
			res.Units[k] = UnitSummary{State: out.State, Attempts: len(out.Attempts)}
		}

		// Merge this volume immediately so per-slice artifacts can be
		// released; disk/memory use stays O(1) volumes.
		vol, err := reassembler.AssembleVolume(slices)
		if err != nil {
			return nil, fmt.Errorf("pipeline: volume %d reassembly: %w", v, err)
		}
		reassembler.ResetGeometry(vol)
		aligned[v] = vol

		if cfg.Output.SaveFields {
			fv, err := reassembler.AssembleFieldVolume(fields)
			if err != nil {
				return nil, fmt.Errorf("pipeline: volume %d field reassembly: %w", v, err)
			}
			fieldVols = append(fieldVols, fv)
		}

		if err := streams.WriteVolume(v, outcomes); err != nil {
			return nil, err
		}
		fmt.Printf("\rRegistering slices: %.1f%% complete", float64(v+1)/float64(ts.Len())*100)
	}
	fmt.Println()

	// Step 5: merge volumes into the output timeseries.
	fmt.Println("Step 5: Merging aligned volumes...")
	out, err := reassembler.MergeTimeseries(aligned)
	if err != nil {
		return nil, fmt.Errorf("pipeline: timeseries merge failed: %w", err)
	}
	srcMin, _ := minMaxTimeseries(ts)
	reassembler.ClampRinging(out, srcMin)
	res.Output = out
	res.Fields = fieldVols

	// Step 6: volume quality assessment.
	fmt.Println("Step 6: Assessing volume quality...")
	reporter := &report.Reporter{Detrend: true}
	assess, err := reporter.Assess(out)
	if err != nil {
		return nil, fmt.Errorf("pipeline: quality assessment failed: %w", err)
	}
	res.Assess = assess

	if cfg.Output.SaveSnapshots {
		fmt.Println("Saving QC snapshots...")
		if err := p.saveSnapshots(res); err != nil {
			logrus.WithError(err).Warn("pipeline: snapshot saving failed")
		}
	}

	return res, nil
}

func minMaxTimeseries(ts *models.Timeseries) (float64, float64) {
	min, max := voxel.MinMax(ts.Volumes[0].Data)
	for _, v := range ts.Volumes[1:] {
		lo, hi := voxel.MinMax(v.Data)
		if lo < min {
			min = lo
		}
		if hi > max {
			max = hi
		}
	}
	return min, max
}
