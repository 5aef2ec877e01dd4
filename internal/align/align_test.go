package align

import (
	"math"
	"testing"
)

func TestOffset(t *testing.T) {
	native := []float64{10.5, 11, 12.25}
	got := Offset(native, 10.5)
	want := []float64{0, 0.5, 1.75}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			break
		}
	}
	if native[0] != 10.5 {
		t.Errorf("Expected input to be left untouched, got %v", native)
	}
}

func TestFirstFinite(t *testing.T) {
	v, ok := FirstFinite([]float64{math.NaN(), 3, 4})
	if !ok || v != 3 {
		t.Errorf("Expected 3, got %v (%v)", v, ok)
	}
	if _, ok := FirstFinite([]float64{math.NaN()}); ok {
		t.Errorf("Expected no finite value")
	}
}

func TestInterpolator_BoundaryExactness(t *testing.T) {
	samples := CumulativeSum([]float64{0, 19200, 19200, 19200})
	ttl := []float64{2.5, 2.6, 2.70001, 2.8}
	ip, err := NewInterpolator(samples, ttl)
	if err != nil {
		t.Fatalf("NewInterpolator failed: %v", err)
	}
	for i := range samples {
		if got := ip.At(samples[i]); got != ttl[i] {
			t.Errorf("Expected anchor %d to map exactly to %v, got %v", i, ttl[i], got)
		}
	}
	if got := ip.At(9600); math.Abs(got-2.55) > 1e-9 {
		t.Errorf("Expected midpoint 2.55, got %v", got)
	}
	if got := ip.At(samples[3] + 1); !math.IsNaN(got) {
		t.Errorf("Expected NaN past the last anchor, got %v", got)
	}
	if got := ip.At(-1); !math.IsNaN(got) {
		t.Errorf("Expected NaN before the first anchor, got %v", got)
	}
}

func TestInterpolator_Errors(t *testing.T) {
	if _, err := NewInterpolator(nil, nil); err == nil {
		t.Errorf("Expected error for empty anchors")
	}
	if _, err := NewInterpolator([]float64{0, 1}, []float64{0}); err == nil {
		t.Errorf("Expected error for mismatched anchors")
	}
}

func TestInterpolator_RepeatedAnchors(t *testing.T) {
	// A pulse that recorded no samples repeats the running total.
	samples := CumulativeSum([]float64{0, 100, 0, 100})
	ip, err := NewInterpolator(samples, []float64{10, 11, 12, 13})
	if err != nil {
		t.Fatalf("Expected repeated anchors to be dropped, got %v", err)
	}
	if ip.Dropped() != 1 {
		t.Errorf("Expected 1 dropped anchor, got %d", ip.Dropped())
	}
	if got := ip.At(100); got != 11 {
		t.Errorf("Expected the first anchor at 100 to win, got %v", got)
	}
	if got := ip.At(150); got != 12 {
		t.Errorf("Expected 12 halfway to the last anchor, got %v", got)
	}
}

func TestInterpolator_SingleAnchor(t *testing.T) {
	ip, err := NewInterpolator([]float64{5}, []float64{1.25})
	if err != nil {
		t.Fatal(err)
	}
	if got := ip.At(5); got != 1.25 {
		t.Errorf("Expected 1.25, got %v", got)
	}
	if got := ip.At(6); !math.IsNaN(got) {
		t.Errorf("Expected NaN, got %v", got)
	}
}

func TestInterpolatedTimestamps(t *testing.T) {
	ip, _ := NewInterpolator([]float64{0, 10}, []float64{1, 2})
	ts := NewInterpolatedTimestamps(ip, 12)
	if s := ts.Shape(); len(s) != 1 || s[0] != 12 {
		t.Fatalf("Expected shape [12], got %v", s)
	}
	rows, err := ts.Slice(9, 12)
	if err != nil {
		t.Fatal(err)
	}
	got := rows.([]float64)
	if math.Abs(got[0]-1.9) > 1e-12 || got[1] != 2 || !math.IsNaN(got[2]) {
		t.Errorf("Expected [1.9 2 NaN], got %v", got)
	}
	if _, err := ts.Slice(0, 13); err == nil {
		t.Errorf("Expected out-of-range error")
	}
}

func TestRisingEdges(t *testing.T) {
	got, err := RisingEdges([]float64{1, 1.5, 2, 2.5}, []float64{1, -1, 1, -1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("Expected [1 2], got %v", got)
	}
}

func TestIsMonotonic(t *testing.T) {
	if !IsMonotonic([]float64{0, 0, 1, math.NaN(), 2}) {
		t.Errorf("Expected non-decreasing series to be monotonic")
	}
	if IsMonotonic([]float64{0, 2, 1}) {
		t.Errorf("Expected decreasing series to fail")
	}
	if got := SampleTimes(3, 2, 1); got[2] != 2 {
		t.Errorf("Expected last sample at 2, got %v", got)
	}
}
