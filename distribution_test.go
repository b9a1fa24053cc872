package iabstat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownsample(t *testing.T) {
	values := make([]float64, 640)
	for idx := range values {
		values[idx] = float64(639 - idx)
	}

	kept := Downsample(values, 64)
	require.Len(t, kept, 10)
	for idx, v := range kept {
		assert.Equal(t, float64(64*idx), v)
	}

	// the input is left alone
	assert.Equal(t, 639.0, values[0])

	assert.Equal(t, []float64{1, 2, 3}, Downsample([]float64{3, 1, 2}, 1))
	assert.Equal(t, []float64{1, 3}, Downsample([]float64{3, 1, 2}, 2))
	assert.Empty(t, Downsample(nil, 8))
}

func TestPercentileMatchesLinearInterpolation(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}

	cases := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{25, 1.75},
		{50, 2.5},
		{75, 3.25},
		{100, 4},
	}
	for _, tc := range cases {
		got, err := Percentile(sorted, tc.p)
		require.NoError(t, err)
		assert.InDelta(t, tc.want, got, 1e-12, "p%v", tc.p)
	}

	got, err := Percentile([]float64{7}, 90)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got)

	_, err = Percentile(sorted, 101)
	assert.Error(t, err)
	_, err = Percentile(nil, 50)
	assert.ErrorIs(t, err, ErrEmptyDistribution)
}

func TestMean(t *testing.T) {
	mean, err := Mean([]float64{1, 2, 6})
	require.NoError(t, err)
	assert.Equal(t, 3.0, mean)

	_, err = Mean(nil)
	assert.ErrorIs(t, err, ErrEmptyDistribution)
}

func TestSummarize(t *testing.T) {
	sm, err := Summarize([]float64{4, 1, 3, 2})
	require.NoError(t, err)
	assert.Equal(t, 4, sm.Count)
	assert.Equal(t, 2.5, sm.Mean)
	assert.Equal(t, 1.0, sm.Min)
	assert.Equal(t, 4.0, sm.Max)
	assert.InDelta(t, 1.75, sm.P25, 1e-12)
	assert.InDelta(t, 2.5, sm.P50, 1e-12)
	assert.InDelta(t, 3.25, sm.P75, 1e-12)
	assert.InDelta(t, 1.2909944487358056, sm.StdDev, 1e-12)

	single, err := Summarize([]float64{5})
	require.NoError(t, err)
	assert.Equal(t, 5.0, single.Mean)
	assert.Equal(t, 0.0, single.StdDev)
}

func TestECDF(t *testing.T) {
	xs, ys := ECDF([]float64{3, 1, 2, 4})
	assert.Equal(t, []float64{1, 2, 3, 4}, xs)
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75}, ys)
}
