// Package align rebases independently clocked streams onto one session clock.
package align

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// ErrNoAnchors is returned when an interpolator is built from empty anchors.
var ErrNoAnchors = errors.New("no alignment anchors")

// Offset returns a copy of ts with ref subtracted from every element.
func Offset(ts []float64, ref float64) []float64 {
	out := make([]float64, len(ts))
	copy(out, ts)
	floats.AddConst(-ref, out)
	return out
}

// FirstFinite returns the first non-NaN value of ts.
func FirstFinite(ts []float64) (float64, bool) {
	for _, v := range ts {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v, true
		}
	}
	return 0, false
}

// SampleTimes is the clock of n samples taken at rate Hz from start.
func SampleTimes(n int, rate, start float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)/rate
	}
	return out
}

// CumulativeSum returns the running totals of counts.
func CumulativeSum(counts []float64) []float64 {
	out := make([]float64, len(counts))
	if len(counts) == 0 {
		return out
	}
	return floats.CumSum(out, counts)
}

// RisingEdges returns the times whose state is positive, the convention for
// TTL lines that record +line on rising and -line on falling edges.
func RisingEdges(times, states []float64) ([]float64, error) {
	if len(times) != len(states) {
		return nil, fmt.Errorf("%d event times for %d states", len(times), len(states))
	}
	var out []float64
	for i, s := range states {
		if s > 0 {
			out = append(out, times[i])
		}
	}
	return out, nil
}

// IsMonotonic reports whether ts never decreases, ignoring NaN.
func IsMonotonic(ts []float64) bool {
	prev := math.Inf(-1)
	for _, v := range ts {
		if math.IsNaN(v) {
			continue
		}
		if v < prev {
			return false
		}
		prev = v
	}
	return true
}

// Interpolator maps a native index onto the reference clock by linear
// interpolation between anchors. Outside the anchor range it yields NaN.
type Interpolator struct {
	xs, ys []float64
	pl     interp.PiecewiseLinear

	dropped int
}

// NewInterpolator fits anchors (x[i], y[i]). Anchors are sorted by x. When
// an x repeats, the first anchor in input order is kept and the others are
// counted by Dropped.
func NewInterpolator(x, y []float64) (*Interpolator, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("%d anchor positions for %d anchor times", len(x), len(y))
	}
	if len(x) == 0 {
		return nil, ErrNoAnchors
	}
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })
	xs := make([]float64, 0, len(x))
	ys := make([]float64, 0, len(y))
	dropped := 0
	for _, j := range idx {
		if n := len(xs); n > 0 && x[j] == xs[n-1] {
			dropped++
			continue
		}
		xs = append(xs, x[j])
		ys = append(ys, y[j])
	}
	ip := &Interpolator{xs: xs, ys: ys, dropped: dropped}
	if len(xs) > 1 {
		if err := ip.pl.Fit(xs, ys); err != nil {
			return nil, err
		}
	}
	return ip, nil
}

// At returns the reference time for native position x.
func (ip *Interpolator) At(x float64) float64 {
	n := len(ip.xs)
	if math.IsNaN(x) || x < ip.xs[0] || x > ip.xs[n-1] {
		return math.NaN()
	}
	if n == 1 {
		return ip.ys[0]
	}
	return ip.pl.Predict(x)
}

// Dropped is the number of anchors discarded because their position
// repeated an earlier one.
func (ip *Interpolator) Dropped() int { return ip.dropped }

// InterpolatedTimestamps is a lazy timestamps dataset: sample i maps to
// At(i). Rows are computed when a writer asks for them.
type InterpolatedTimestamps struct {
	ip *Interpolator
	n  int
}

// NewInterpolatedTimestamps returns timestamps for n samples.
func NewInterpolatedTimestamps(ip *Interpolator, n int) *InterpolatedTimestamps {
	return &InterpolatedTimestamps{ip: ip, n: n}
}

func (t *InterpolatedTimestamps) DType() nwb.DType { return nwb.Float64 }
func (t *InterpolatedTimestamps) Shape() []int     { return []int{t.n} }

func (t *InterpolatedTimestamps) Slice(start, end int) (any, error) {
	if start < 0 || end > t.n || start > end {
		return nil, fmt.Errorf("rows [%d, %d) out of range for %d rows", start, end, t.n)
	}
	out := make([]float64, end-start)
	for i := range out {
		out[i] = t.ip.At(float64(start + i))
	}
	return out, nil
}
