package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/registration"
)

func TestStreamsWriteVolume(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	streams, err := OpenStreams(dir)
	if err != nil {
		t.Fatalf("Failed to open streams: %v", err)
	}

	outcomes := []*registration.Outcome{
		{Key: models.Key{Volume: 0, Slice: 0}, OriginalScore: -0.5, LinearScore: -0.8, FinalScore: -0.9,
			Transform: models.LinearTransform{Scale: 1.02, Translate: -1.5}},
		{Key: models.Key{Volume: 0, Slice: 1}, OriginalScore: -0.99, LinearScore: -0.99, FinalScore: -0.99,
			Transform: models.IdentityTransform()},
		{Key: models.Key{Volume: 0, Slice: 2}, OriginalScore: 0, LinearScore: -0.4, FinalScore: -0.6,
			Transform: models.LinearTransform{Scale: 0.98, Translate: 2}},
	}
	if err := streams.WriteVolume(0, outcomes); err != nil {
		t.Fatalf("Failed to write volume row: %v", err)
	}
	if err := streams.Close(); err != nil {
		t.Fatalf("Failed to close streams: %v", err)
	}

	for _, name := range []string{"original_match", "linear_match", "final_match", "scale", "translation"} {
		path := filepath.Join(dir, name+".tsv")
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Missing %s stream: %v", name, err)
		}
		lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
		if len(lines) != 1 {
			t.Fatalf("%s holds %d rows, expected 1", name, len(lines))
		}
		fields := strings.Split(lines[0], "\t")
		if len(fields) != 4 {
			t.Fatalf("%s row holds %d fields, expected volume index plus 3 slices", name, len(fields))
		}
		if fields[0] != "0" {
			t.Errorf("%s row starts with %q, expected volume index 0", name, fields[0])
		}
	}

	raw, _ := os.ReadFile(filepath.Join(dir, "translation.tsv"))
	if got := strings.TrimRight(string(raw), "\n"); got != "0\t-1.500000\t0.000000\t2.000000" {
		t.Errorf("Translation row = %q, expected %q", got, "0\t-1.500000\t0.000000\t2.000000")
	}
}

func TestStreamsIncrementalRows(t *testing.T) {
	dir := t.TempDir()
	streams, err := OpenStreams(dir)
	if err != nil {
		t.Fatalf("Failed to open streams: %v", err)
	}
	defer streams.Close()

	outcomes := []*registration.Outcome{{Transform: models.IdentityTransform()}}
	for v := 0; v < 3; v++ {
		if err := streams.WriteVolume(v, outcomes); err != nil {
			t.Fatalf("Failed to write volume %d: %v", v, err)
		}
	}

	// Rows are flushed per volume: readable before Close.
	raw, err := os.ReadFile(filepath.Join(dir, "scale.tsv"))
	if err != nil {
		t.Fatalf("Failed to read stream mid-run: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) != 3 {
		t.Errorf("Stream holds %d rows mid-run, expected 3", len(lines))
	}
}
