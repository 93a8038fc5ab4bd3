package preempt

import (
	"math"
	"sort"
	"testing"
)

func TestQuantileMarker_ConvergesOnUniformData(t *testing.T) {
	m := newQuantileMarker(0.5)
	data := make([]float64, 0, 2001)
	for i := 0; i <= 2000; i++ {
		data = append(data, float64(i))
	}
	for _, v := range data {
		m.Observe(v)
	}

	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	want := sorted[len(sorted)/2]

	got := m.Value()
	if math.Abs(got-want) > float64(len(sorted))*0.05 {
		t.Fatalf("P50 estimate %v too far from true median %v", got, want)
	}
}

func TestQuantileMarker_FewerThanFiveSamplesFallsBackToExact(t *testing.T) {
	m := newQuantileMarker(0.5)
	m.Observe(3)
	m.Observe(1)
	m.Observe(2)
	if m.Samples() != 3 {
		t.Fatalf("expected sample count 3, got %d", m.Samples())
	}
	// With < 5 samples the estimator sorts the buffer directly; the
	// result must be one of the observed values.
	got := m.Value()
	if got != 1 && got != 2 && got != 3 {
		t.Fatalf("expected value to be one of the observed values, got %v", got)
	}
}

func TestQuantileMarker_PeakTracksTrueMaximum(t *testing.T) {
	m := newQuantileMarker(0.99)
	vals := []float64{5, 1, 9, 3, 7, 2, 8, 100, 4}
	for _, v := range vals {
		m.Observe(v)
	}
	if m.Peak() != 100 {
		t.Fatalf("expected peak 100, got %v", m.Peak())
	}
}

func TestQuantileMarker_EmptyIsZero(t *testing.T) {
	m := newQuantileMarker(0.9)
	if m.Value() != 0 {
		t.Fatalf("expected 0 for an empty estimator")
	}
	if m.Peak() != 0 {
		t.Fatalf("expected peak 0 for an empty estimator")
	}
}

func TestQuantileMarker_ClampsOutOfRangeTarget(t *testing.T) {
	lo := newQuantileMarker(-1)
	hi := newQuantileMarker(2)
	if lo.target != 0 {
		t.Fatalf("expected negative target clamped to 0, got %v", lo.target)
	}
	if hi.target != 1 {
		t.Fatalf("expected target > 1 clamped to 1, got %v", hi.target)
	}
}

func TestPSquareMultiQuantile_TracksMeanSumCount(t *testing.T) {
	m := newPSquareMultiQuantile(0.5, 0.9, 0.99)
	for i := 1; i <= 10; i++ {
		m.Update(float64(i))
	}
	if m.Count() != 10 {
		t.Fatalf("expected count 10, got %d", m.Count())
	}
	if m.Sum() != 55 {
		t.Fatalf("expected sum 55, got %v", m.Sum())
	}
	if m.Mean() != 5.5 {
		t.Fatalf("expected mean 5.5, got %v", m.Mean())
	}
	if m.Max() != 10 {
		t.Fatalf("expected max 10, got %v", m.Max())
	}
}

func TestPSquareMultiQuantile_QuantileOutOfRangeIsZero(t *testing.T) {
	m := newPSquareMultiQuantile(0.5)
	if got := m.Quantile(5); got != 0 {
		t.Fatalf("expected 0 for out-of-range index, got %v", got)
	}
	if got := m.Quantile(-1); got != 0 {
		t.Fatalf("expected 0 for negative index, got %v", got)
	}
}

func TestPSquareMultiQuantile_ResetClearsState(t *testing.T) {
	m := newPSquareMultiQuantile(0.5)
	for i := 1; i <= 10; i++ {
		m.Update(float64(i))
	}
	m.Reset()
	if m.Count() != 0 || m.Sum() != 0 {
		t.Fatalf("expected Reset to zero count/sum, got count=%d sum=%v", m.Count(), m.Sum())
	}
	if m.Max() != 0 {
		t.Fatalf("expected Max() == 0 immediately after Reset, got %v", m.Max())
	}
}
