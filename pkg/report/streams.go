// Package report writes the per-slice similarity and transform-parameter
// report streams and runs the post-reassembly volume quality assessment.
package report

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charbiso/NHP-fMRI-analysis/pkg/registration"
)

// Streams holds the five incremental report files: original-match,
// linear-match and final-match similarity (one tab-separated row per
// volume, one column per slice) plus per-slice scale and translation
// parameters. Rows are flushed as they are written so a partial run stays
// diagnosable.
type Streams struct {
	files   []*os.File
	writers map[string]*bufio.Writer
}

var streamNames = []string{"original_match", "linear_match", "final_match", "scale", "translation"}

// OpenStreams creates the report directory and opens all five streams.
func OpenStreams(dir string) (*Streams, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("report: failed to create report directory: %w", err)
	}
	s := &Streams{writers: make(map[string]*bufio.Writer)}
	for _, name := range streamNames {
		f, err := os.Create(filepath.Join(dir, name+".tsv"))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("report: failed to create %s stream: %w", name, err)
		}
		s.files = append(s.files, f)
		s.writers[name] = bufio.NewWriter(f)
	}
	return s, nil
}

// WriteVolume appends one row per stream for a finished volume, ordered by
// slice index, and flushes.
func (s *Streams) WriteVolume(vol int, outcomes []*registration.Outcome) error {
	row := func(name string, value func(*registration.Outcome) float64) error {
		w := s.writers[name]
		if _, err := fmt.Fprintf(w, "%d", vol); err != nil {
			return err
		}
		for _, o := range outcomes {
			if _, err := fmt.Fprintf(w, "\t%.6f", value(o)); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
		return w.Flush()
	}

	if err := row("original_match", func(o *registration.Outcome) float64 { return o.OriginalScore }); err != nil {
		return fmt.Errorf("report: write failed: %w", err)
	}
	if err := row("linear_match", func(o *registration.Outcome) float64 { return o.LinearScore }); err != nil {
		return fmt.Errorf("report: write failed: %w", err)
	}
	if err := row("final_match", func(o *registration.Outcome) float64 { return o.FinalScore }); err != nil {
		return fmt.Errorf("report: write failed: %w", err)
	}
	if err := row("scale", func(o *registration.Outcome) float64 { return o.Transform.Scale }); err != nil {
		return fmt.Errorf("report: write failed: %w", err)
	}
	if err := row("translation", func(o *registration.Outcome) float64 { return o.Transform.Translate }); err != nil {
		return fmt.Errorf("report: write failed: %w", err)
	}
	return nil
}

// Close flushes and closes every stream.
func (s *Streams) Close() error {
	var firstErr error
	for _, w := range s.writers {
		if err := w.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
