package config

import "testing"

func TestResolveQualityLevels(t *testing.T) {
	p0, err := ResolveQuality(0)
	if err != nil {
		t.Fatalf("Failed to resolve level 0: %v", err)
	}
	p1, err := ResolveQuality(1)
	if err != nil {
		t.Fatalf("Failed to resolve level 1: %v", err)
	}
	p2, err := ResolveQuality(2)
	if err != nil {
		t.Fatalf("Failed to resolve level 2: %v", err)
	}

	t.Run("PerfectThresholds", func(t *testing.T) {
		if p0.PerfectThreshold != -0.95 {
			t.Errorf("Level 0 perfect threshold = %v, expected -0.95", p0.PerfectThreshold)
		}
		if p1.PerfectThreshold != -0.97 {
			t.Errorf("Level 1 perfect threshold = %v, expected -0.97", p1.PerfectThreshold)
		}
		if p2.PerfectThreshold != -1 {
			t.Errorf("Level 2 perfect threshold = %v, expected -1", p2.PerfectThreshold)
		}
	})

	t.Run("IterationsGrowWithLevel", func(t *testing.T) {
		for i := range p0.Iterations {
			if !(p0.Iterations[i] < p1.Iterations[i] && p1.Iterations[i] < p2.Iterations[i]) {
				t.Errorf("Iteration budgets at level index %d are not monotone: %d, %d, %d",
					i, p0.Iterations[i], p1.Iterations[i], p2.Iterations[i])
			}
		}
		if !(p0.NonLinearIterations < p1.NonLinearIterations && p1.NonLinearIterations < p2.NonLinearIterations) {
			t.Error("Non-linear iteration budgets are not monotone across levels")
		}
	})

	t.Run("SharedGates", func(t *testing.T) {
		for _, p := range []QualityProfile{p0, p1, p2} {
			if p.GoodThreshold != -0.85 || p.OkayThreshold != -0.65 {
				t.Errorf("Level %d tier thresholds = (%v, %v), expected (-0.85, -0.65)",
					p.Level, p.GoodThreshold, p.OkayThreshold)
			}
			if p.LinearFloor != -0.3 {
				t.Errorf("Level %d linear floor = %v, expected -0.3", p.Level, p.LinearFloor)
			}
			if p.MaxLinearAttempts != 5 {
				t.Errorf("Level %d max attempts = %d, expected 5", p.Level, p.MaxLinearAttempts)
			}
		}
	})
}

func TestResolveQualityOutOfRange(t *testing.T) {
	for _, level := range []int{-1, 3, 10} {
		if _, err := ResolveQuality(level); err == nil {
			t.Errorf("Expected error for quality level %d", level)
		}
	}
}
