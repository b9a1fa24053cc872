package iabstat

// distribution.go has the reductions applied to the value lists the aggregators produce

import (
	"fmt"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"math"
)

// Distribution is a list of values of one metric, ascending
type Distribution []float64

// Downsample keeps every stride-th element of the sorted values, starting with the
// smallest.  Percentiles of the result may be off by up to one stride.
// A stride below 2 returns the whole sorted copy.
func Downsample(values []float64, stride int) []float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	if stride < 2 {
		return sorted
	}

	kept := make([]float64, 0, (len(sorted)+stride-1)/stride)
	for idx := 0; idx < len(sorted); idx += stride {
		kept = append(kept, sorted[idx])
	}
	return kept
}

// Mean is the arithmetic mean of the distribution
func Mean(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptyDistribution
	}
	return stat.Mean(values, nil), nil
}

// Percentile returns the p-th percentile (0 <= p <= 100) of an ascending list by
// linear interpolation between the two closest order statistics, at rank (n-1)p/100.
func Percentile(sorted []float64, p float64) (float64, error) {
	if len(sorted) == 0 {
		return 0, ErrEmptyDistribution
	}
	if p < 0 || p > 100 || math.IsNaN(p) {
		return 0, fmt.Errorf("percentile %v outside [0,100]", p)
	}

	rank := float64(len(sorted)-1) * p / 100
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo], nil
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac, nil
}

// Summary collects the usual statistics of a distribution
type Summary struct {
	Count  int     `json:"count" yaml:"count"`
	Mean   float64 `json:"mean" yaml:"mean"`
	StdDev float64 `json:"stddev" yaml:"stddev"`
	Min    float64 `json:"min" yaml:"min"`
	P25    float64 `json:"p25" yaml:"p25"`
	P50    float64 `json:"p50" yaml:"p50"`
	P75    float64 `json:"p75" yaml:"p75"`
	Max    float64 `json:"max" yaml:"max"`
}

// Summarize computes a Summary.  The input need not be sorted.
func Summarize(values []float64) (Summary, error) {
	if len(values) == 0 {
		return Summary{}, ErrEmptyDistribution
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	sm := Summary{Count: len(sorted), Min: floats.Min(sorted), Max: floats.Max(sorted)}
	if len(sorted) > 1 {
		sm.Mean, sm.StdDev = stat.MeanStdDev(sorted, nil)
	} else {
		sm.Mean = sorted[0]
	}
	sm.P25, _ = Percentile(sorted, 25)
	sm.P50, _ = Percentile(sorted, 50)
	sm.P75, _ = Percentile(sorted, 75)
	return sm, nil
}

// ECDF returns the points of the empirical distribution function of the values,
// x ascending and y = i/n
func ECDF(values []float64) ([]float64, []float64) {
	xs := slices.Clone(values)
	slices.Sort(xs)
	ys := make([]float64, len(xs))
	for idx := range xs {
		ys[idx] = float64(idx) / float64(len(xs))
	}
	return xs, ys
}
