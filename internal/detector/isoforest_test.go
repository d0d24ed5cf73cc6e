package detector

import (
	"math/rand"
	"testing"
)

// clusteredMatrix generates n rows jittered around a center point.
func clusteredMatrix(n int, center []float64, jitter float64, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	matrix := make([][]float64, n)
	for i := range matrix {
		row := make([]float64, len(center))
		for j, c := range center {
			row[j] = c + (rng.Float64()*2-1)*jitter
		}
		matrix[i] = row
	}
	return matrix
}

func TestFitEmptyMatrix(t *testing.T) {
	f := NewForest(DefaultConfig())
	if err := f.Fit(nil); err == nil {
		t.Error("expected error fitting empty matrix")
	}
}

func TestUnfittedForestScoresNeutral(t *testing.T) {
	f := NewForest(DefaultConfig())
	if got := f.Score([]float64{1, 2, 3, 4}); got != 0.5 {
		t.Errorf("expected neutral 0.5 from unfitted forest, got %v", got)
	}
}

func TestScoreRange(t *testing.T) {
	matrix := clusteredMatrix(100, []float64{0, 0, 0, 0}, 1.0, 1)
	f := NewForest(DefaultConfig())
	if err := f.Fit(matrix); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	probes := [][]float64{
		{0, 0, 0, 0},
		{100, 100, 100, 100},
		{-50, 3, 0.5, 2},
	}
	for _, p := range probes {
		s := f.Score(p)
		if s <= 0 || s >= 1 {
			t.Errorf("score %v out of (0,1) for %v", s, p)
		}
	}
}

func TestOutlierScoresHigherThanInlier(t *testing.T) {
	matrix := clusteredMatrix(200, []float64{5, 5, 5, 5}, 0.5, 2)
	f := NewForest(DefaultConfig())
	if err := f.Fit(matrix); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	inlier := f.Score([]float64{5, 5, 5, 5})
	outlier := f.Score([]float64{50, 50, 50, 50})

	if outlier <= inlier {
		t.Errorf("expected outlier score (%v) > inlier score (%v)", outlier, inlier)
	}
	if outlier <= 0.5 {
		t.Errorf("expected clear outlier above 0.5 boundary, got %v", outlier)
	}
	if inlier >= 0.5 {
		t.Errorf("expected cluster center below 0.5 boundary, got %v", inlier)
	}
}

func TestFitIsReproducible(t *testing.T) {
	matrix := clusteredMatrix(150, []float64{1, 2, 3, 4}, 0.8, 3)

	cfg := DefaultConfig()
	f1 := NewForest(cfg)
	f2 := NewForest(cfg)
	if err := f1.Fit(matrix); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if err := f2.Fit(matrix); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	probes := clusteredMatrix(20, []float64{1, 2, 3, 4}, 5.0, 4)
	for _, p := range probes {
		if f1.Score(p) != f2.Score(p) {
			t.Fatalf("same seed produced diverging scores for %v", p)
		}
	}

	// A different seed should build a different ensemble.
	cfg.Seed = 1234
	f3 := NewForest(cfg)
	if err := f3.Fit(matrix); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	diverged := false
	for _, p := range probes {
		if f1.Score(p) != f3.Score(p) {
			diverged = true
			break
		}
	}
	if !diverged {
		t.Error("expected different seeds to produce different ensembles")
	}
}

func TestCutoffCalibration(t *testing.T) {
	matrix := clusteredMatrix(100, []float64{0, 0, 0, 0}, 1.0, 5)
	cfg := DefaultConfig()
	cfg.Contamination = 0.1
	f := NewForest(cfg)
	if err := f.Fit(matrix); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	if f.Cutoff <= 0 || f.Cutoff >= 1 {
		t.Fatalf("cutoff %v out of (0,1)", f.Cutoff)
	}

	// Roughly the contamination fraction of training rows scores above
	// the cutoff.
	above := 0
	for _, row := range matrix {
		if f.Score(row) > f.Cutoff {
			above++
		}
	}
	if above > 15 {
		t.Errorf("expected <=~10%% of training rows above cutoff, got %d/100", above)
	}
}

func TestSubsampleCappedAtMatrixSize(t *testing.T) {
	matrix := clusteredMatrix(30, []float64{0, 0, 0, 0}, 1.0, 6)
	cfg := DefaultConfig()
	cfg.SubsampleSize = 256
	f := NewForest(cfg)
	if err := f.Fit(matrix); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if f.Psi != 30 {
		t.Errorf("expected psi capped at 30, got %d", f.Psi)
	}
}

func TestAvgPathBaseline(t *testing.T) {
	if avgPathBaseline(0) != 0 || avgPathBaseline(1) != 0 {
		t.Error("expected c(n)=0 for n<=1")
	}
	if avgPathBaseline(2) != 1 {
		t.Error("expected c(2)=1")
	}
	if c := avgPathBaseline(256); c < 7 || c > 12 {
		t.Errorf("c(256) out of expected range: %v", c)
	}
}
