package pipeline

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/config"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/engine"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/registration"
)

// syntheticRun builds a small functional timeseries: a bright block "head"
// with a nested brain mask, one volume with a distorted slice.
func syntheticRun(t *testing.T, nVol int) (*models.Timeseries, *models.Mask) {
	t.Helper()
	geom := models.Geometry{NX: 12, NY: 16, NZ: 4, VoxelSize: [3]float64{1, 1, 1}}

	base := models.NewVolume(geom)
	for z := 0; z < geom.NZ; z++ {
		for y := 0; y < geom.NY; y++ {
			for x := 0; x < geom.NX; x++ {
				dx, dy := float64(x)-6, float64(y)-8
				base.Set(x, y, z, 100*math.Exp(-(dx*dx+dy*dy)/12))
			}
		}
	}

	vols := make([]*models.Volume, nVol)
	for v := range vols {
		vols[v] = base.Clone()
	}
	// Distort one slice of the last volume: content moved 2 rows posterior.
	distorted := vols[nVol-1]
	src := distorted.ExtractSlice(2)
	moved := models.NewSlice(geom.NX, geom.NY)
	for y := 2; y < geom.NY; y++ {
		for x := 0; x < geom.NX; x++ {
			moved.Set(x, y, src.At(x, y-2))
		}
	}
	distorted.InsertSlice(2, moved)

	ts, err := models.NewTimeseries(geom, vols)
	if err != nil {
		t.Fatalf("Failed to build timeseries: %v", err)
	}

	brain := models.NewMask(geom.NX, geom.NY, geom.NZ)
	for z := 0; z < geom.NZ; z++ {
		for y := 5; y <= 11; y++ {
			for x := 3; x <= 9; x++ {
				brain.Set(x, y, z, true)
			}
		}
	}
	return ts, brain
}

func TestPipelineEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ts, brain := syntheticRun(t, 6)
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Mask.LateralMode = 0
	cfg.Output.ReportDir = filepath.Join(tmpDir, "reports")
	profile, err := config.ResolveQuality(0)
	if err != nil {
		t.Fatalf("Failed to resolve quality profile: %v", err)
	}

	res, err := New(&Params{
		Config:     cfg,
		Profile:    profile,
		Timeseries: ts,
		BrainMask:  brain,
		Registrar:  engine.NewSolver(),
	}).Process()
	if err != nil {
		t.Fatalf("Pipeline failed: %v", err)
	}

	t.Run("Output", func(t *testing.T) {
		if res.Output.Len() != ts.Len() {
			t.Fatalf("Output holds %d volumes, expected %d", res.Output.Len(), ts.Len())
		}
		for v, vol := range res.Output.Volumes {
			if !vol.Geom.Equal(ts.Geom) {
				t.Errorf("Output volume %d geometry %+v, expected %+v", v, vol.Geom, ts.Geom)
			}
		}
	})

	t.Run("StateCounts", func(t *testing.T) {
		total := 0
		for _, n := range res.StateCounts {
			total += n
		}
		if want := ts.Len() * ts.Geom.NZ; total != want {
			t.Errorf("State counts cover %d units, expected %d", total, want)
		}
	})

	t.Run("Reference", func(t *testing.T) {
		if res.Reference == nil || !res.Reference.Geom.Equal(ts.Geom) {
			t.Error("Reference volume missing or on the wrong grid")
		}
		if res.Scoring == nil || len(res.Scoring.Strict) == 0 {
			t.Error("Scoring result missing a strict selection")
		}
	})

	t.Run("Hierarchy", func(t *testing.T) {
		h := res.Hierarchy
		if h == nil {
			t.Fatal("Mask hierarchy missing")
		}
		if !h.Strict.SubsetOf(h.Regular) || !h.Regular.SubsetOf(h.Liberal) {
			t.Error("Mask tiers are not nested")
		}
		if !brain.SubsetOf(h.Strict) {
			t.Error("Brain mask is not contained in the strict tier")
		}
	})

	t.Run("DistortedSliceRetries", func(t *testing.T) {
		u, ok := res.Units[models.Key{Volume: ts.Len() - 1, Slice: 2}]
		if !ok {
			t.Fatal("No registration record for the distorted slice")
		}
		if u.State == registration.AcceptedOriginal {
			t.Error("Distorted slice was accepted without re-registration")
		}
		if u.Attempts < 1 {
			t.Errorf("Distorted slice ran %d linear attempts, expected at least 1", u.Attempts)
		}
		// An undistorted slice of the same run must pass the original check
		// untouched.
		if u, ok := res.Units[models.Key{Volume: 0, Slice: 0}]; !ok || u.State != registration.AcceptedOriginal || u.Attempts != 0 {
			t.Errorf("Undistorted slice record %+v, expected accepted-original with no attempts", u)
		}
	})

	t.Run("Reports", func(t *testing.T) {
		for _, name := range []string{"original_match", "linear_match", "final_match", "scale", "translation"} {
			if _, err := os.Stat(filepath.Join(cfg.Output.ReportDir, name+".tsv")); err != nil {
				t.Errorf("Missing report stream %s: %v", name, err)
			}
		}
		if res.Assess == nil || res.Assess.Stage2 == nil {
			t.Error("Quality assessment missing")
		}
	})
}

func TestPipelinePrebuiltReference(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ts, brain := syntheticRun(t, 5)
	prebuilt := ts.Volumes[0].Clone()

	cfg := config.DefaultConfig()
	cfg.Mask.LateralMode = 0
	cfg.Registration.NonLinear = false
	cfg.Output.ReportDir = filepath.Join(t.TempDir(), "reports")
	profile, err := config.ResolveQuality(0)
	if err != nil {
		t.Fatalf("Failed to resolve quality profile: %v", err)
	}

	res, err := New(&Params{
		Config:     cfg,
		Profile:    profile,
		Timeseries: ts,
		BrainMask:  brain,
		Prebuilt:   prebuilt,
		Registrar:  engine.NewSolver(),
	}).Process()
	if err != nil {
		t.Fatalf("Pipeline failed: %v", err)
	}
	if res.Reference != prebuilt {
		t.Error("Prebuilt reference was not adopted verbatim")
	}
}

func TestPipelineRejectsBadInput(t *testing.T) {
	cfg := config.DefaultConfig()
	profile, _ := config.ResolveQuality(1)

	t.Run("EmptyTimeseries", func(t *testing.T) {
		geom := models.Geometry{NX: 2, NY: 2, NZ: 2}
		ts, _ := models.NewTimeseries(geom, nil)
		_, err := New(&Params{Config: cfg, Profile: profile, Timeseries: ts,
			BrainMask: models.NewMask(2, 2, 2), Registrar: engine.NewSolver()}).Process()
		if err == nil {
			t.Error("Expected error for empty timeseries")
		}
	})

	t.Run("MissingBrainMask", func(t *testing.T) {
		ts, _ := syntheticRun(t, 5)
		_, err := New(&Params{Config: cfg, Profile: profile, Timeseries: ts,
			Registrar: engine.NewSolver()}).Process()
		if err == nil {
			t.Error("Expected error for missing brain mask")
		}
	})
}
