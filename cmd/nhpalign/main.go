package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/config"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/engine"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/nifti"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/pipeline"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "4-D functional timeseries (.nii)")
	brainPath := flag.String("brain-mask", "", "3-D brain mask on the reference grid (.nii)")
	refPath := flag.String("reference", "", "Optional prebuilt reference volume (.nii); skips reference construction")
	outputPath := flag.String("output", "aligned.nii", "Output aligned timeseries filename")
	fieldsPath := flag.String("fields", "", "Optional output path for the 4-D distortion fields")
	quality := flag.Int("quality", 1, "Quality level (0-2)")
	lateralMode := flag.Int("lateral-mode", 1, "Lateral restriction mode (0=off, 1=fixed corridor, 2=per-slice scaled)")
	nonLinear := flag.Bool("nonlinear", true, "Enable B-spline refinement after linear registration")
	zeroMask := flag.Bool("zero-mask", true, "Suppress background voxels in the registration cost")
	interleaved := flag.Bool("interleaved", true, "Interleaved slice acquisition")
	reportDir := flag.String("report-dir", "reports", "Directory for similarity/transform report streams")
	configPath := flag.String("config", "", "Optional YAML configuration file")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	// Validate inputs
	if *inputPath == "" || *brainPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.Registration.Quality = *quality
	cfg.Registration.NonLinear = *nonLinear
	cfg.Registration.ZeroMasking = *zeroMask
	cfg.Registration.Interleaved = *interleaved
	cfg.Mask.LateralMode = *lateralMode
	cfg.Output.ReportDir = *reportDir
	cfg.Output.SaveFields = *fieldsPath != ""

	profile, err := config.ResolveQuality(cfg.Registration.Quality)
	if err != nil {
		log.Fatalf("Invalid quality level: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("SLICE-WISE DISTORTION CORRECTION FOR MACAQUE fMRI TIMESERIES")
	fmt.Println("================================")

	ts, err := nifti.ReadTimeseries(*inputPath)
	if err != nil {
		log.Fatalf("Failed to load timeseries: %v", err)
	}
	brain, err := nifti.ReadMask(*brainPath)
	if err != nil {
		log.Fatalf("Failed to load brain mask: %v", err)
	}
	var prebuilt *models.Volume
	if *refPath != "" {
		prebuilt, err = nifti.ReadVolume(*refPath)
		if err != nil {
			log.Fatalf("Failed to load prebuilt reference: %v", err)
		}
	}

	params := &pipeline.Params{
		Config:     cfg,
		Profile:    profile,
		Timeseries: ts,
		BrainMask:  brain,
		Prebuilt:   prebuilt,
		Registrar:  engine.NewSolver(),
	}

	fmt.Printf("Loaded %d volumes of %dx%dx%d voxels\n", ts.Len(), ts.Geom.NX, ts.Geom.NY, ts.Geom.NZ)
	fmt.Printf("Quality level %d: perfect threshold %.2f\n", profile.Level, profile.PerfectThreshold)

	startTime := time.Now()
	res, err := pipeline.New(params).Process()
	if err != nil {
		log.Fatalf("Distortion correction failed: %v", err)
	}
	processingTime := time.Since(startTime)

	if err := nifti.WriteTimeseries(*outputPath, ts.Geom, res.Output.Volumes); err != nil {
		log.Fatalf("Failed to write output timeseries: %v", err)
	}
	if *fieldsPath != "" {
		if err := nifti.WriteTimeseries(*fieldsPath, ts.Geom, res.Fields); err != nil {
			log.Fatalf("Failed to write distortion fields: %v", err)
		}
	}

	fmt.Printf("\nCorrection completed in %.2f seconds\n", processingTime.Seconds())
	fmt.Printf("Output timeseries saved to: %s\n\n", *outputPath)

	fmt.Printf("Slice outcomes:\n")
	fmt.Printf("===============\n")
	for state, count := range res.StateCounts {
		fmt.Printf("%-20s %d\n", state.String()+":", count)
	}

	fmt.Printf("\nVolume quality (stage 1 / stage 2):\n")
	fmt.Printf("good: %d / %d\n", len(res.Assess.Stage1.Good), len(res.Assess.Stage2.Good))
	fmt.Printf("bad:  %d / %d\n", len(res.Assess.Stage1.Bad), len(res.Assess.Stage2.Bad))
	if len(res.Assess.Stage2.Bad) > 0 {
		fmt.Printf("flagged volumes: %v\n", res.Assess.Stage2.Bad)
	}
	fmt.Printf("\nReports written to: %s\n", cfg.Output.ReportDir)
}
