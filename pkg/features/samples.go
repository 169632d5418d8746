package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Intensity statistics over the masked sample multiset. Every function
// expects at least one sample; the engine never calls them on an empty mask.

func mean(x []float64) (float64, error) {
	return stat.Mean(x, nil), nil
}

func geometricMean(x []float64) (float64, error) {
	return stat.GeometricMean(x, nil), nil
}

func harmonicMean(x []float64) (float64, error) {
	return stat.HarmonicMean(x, nil), nil
}

// stdDev is the sample standard deviation, 0 for a single sample
func stdDev(x []float64) (float64, error) {
	if len(x) < 2 {
		return 0, nil
	}
	return stat.StdDev(x, nil), nil
}

func median(x []float64) (float64, error) {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2], nil
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2, nil
}

func sum(x []float64) (float64, error) {
	return floats.Sum(x), nil
}

func minimum(x []float64) (float64, error) {
	return floats.Min(x), nil
}

func maximum(x []float64) (float64, error) {
	return floats.Max(x), nil
}

// skewness is the third central moment over the cubed sample standard
// deviation, m3 / s³, with m3 averaged over n and s over n-1. A sample
// without spread has skewness 0.
func skewness(x []float64) (float64, error) {
	s, ok := spread(x)
	if !ok {
		return 0, nil
	}
	return stat.Moment(3, x, nil) / (s * s * s), nil
}

// kurtosis is the non-excess kurtosis m4 / s⁴, with m4 averaged over n and
// s the sample standard deviation. A sample without spread has kurtosis 0.
func kurtosis(x []float64) (float64, error) {
	s, ok := spread(x)
	if !ok {
		return 0, nil
	}
	return stat.Moment(4, x, nil) / (s * s * s * s), nil
}

// spread returns the sample standard deviation and whether it is non-zero
func spread(x []float64) (float64, bool) {
	if len(x) < 2 {
		return 0, false
	}
	s := stat.StdDev(x, nil)
	return s, s > 0
}

func moment3AboutMean(x []float64) (float64, error) {
	return stat.Moment(3, x, nil), nil
}

// meanAbsoluteDeviation is the mean distance to the sample mean
func meanAbsoluteDeviation(x []float64) (float64, error) {
	mu := stat.Mean(x, nil)
	var total float64
	for _, v := range x {
		total += math.Abs(v - mu)
	}
	return total / float64(len(x)), nil
}
