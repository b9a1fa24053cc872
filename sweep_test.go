package iabstat

import (
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSource serves a fixed list of results and keeps every filter it was asked
type recordingSource struct {
	results []RunResult
	filters []Grid
}

func (rs *recordingSource) Results(filter Grid) ([]RunResult, error) {
	rs.filters = append(rs.filters, filter)
	selected := make([]RunResult, 0)
	for _, res := range rs.results {
		if filter.Matches(res.Params) {
			selected = append(selected, res)
		}
	}
	return selected, nil
}

// policyRuns builds one run per (policy, period) whose application trace has the
// given delay in ms
func policyRuns(t *testing.T, delay func(policy, period int) int) []RunResult {
	fixtures := make([]runFixture, 0)
	params := make(map[string]Combination)
	for _, policy := range []int{1, 2} {
		for _, period := range []int{1, 4} {
			id := fmt.Sprintf("w%d-a%d", policy, period)
			d := delay(policy, period)
			fixtures = append(fixtures, runFixture{id: id, traces: map[string]string{AppRxTraceFile: appTrace(
				[4]int64{1000, 1, ms(900), ms(float64(d))},
				[4]int64{1000, 2, ms(1800), ms(float64(d))},
			)}})
			params[id] = CreateCombination(WeightPolicyParam, policy, AllocationPeriodParam, period,
				CentralizedSchedParam, true, PacketSizeParam, 512)
		}
	}
	results, _ := makeRuns(t, fixtures...)
	for idx := range results {
		results[idx].Params = params[results[idx].ID]
	}
	return results
}

func periodSweep() Sweep {
	return Sweep{
		Name: "period",
		Base: CreateGrid(map[string]any{
			WeightPolicyParam:     []int{1, 2},
			AllocationPeriodParam: []int{1, 4},
			CentralizedSchedParam: true,
			PacketSizeParam:       512,
		}),
		SeriesAxis: WeightPolicyParam,
		Axis:       AllocationPeriodParam,
		Metrics: []MetricSpec{
			{Name: "delay", Aggregate: E2EAvgLatencyAgg, Stat: MeanStat},
			{Name: "delay75", Aggregate: E2EAvgLatencyAgg, Stat: PercentileStat, Percentile: 75},
		},
	}
}

func TestSweepQueriesEachPointOnceWithFreshFilter(t *testing.T) {
	source := &recordingSource{results: policyRuns(t, func(policy, period int) int { return 10*policy + period })}
	ag, _ := testAggregator()
	drv := CreateDriver(source, ag, nil)
	sw := periodSweep()
	base := sw.Base.Clone()

	results, err := drv.Run(sw)
	require.NoError(t, err)

	// 2 series x 2 periods, one query each
	require.Len(t, source.filters, 4)
	for _, filter := range source.filters {
		for key, values := range base {
			if key == WeightPolicyParam || key == AllocationPeriodParam {
				assert.Len(t, filter[key], 1)
				continue
			}
			assert.Equal(t, values, filter[key], key)
		}
		assert.Len(t, filter, len(base))
	}
	assert.Equal(t, base, sw.Base)

	require.Len(t, results, 8)
	for _, res := range results {
		policy, _ := strconv.Atoi(res.Series[len(res.Series)-1:])
		period, _ := strconv.Atoi(res.X)
		assert.Equal(t, float64(10*policy+period), res.Value, "%s %s", res.Series, res.X)
		assert.Equal(t, 1, res.Tally.Runs)
	}
	assert.Equal(t, "weightPolicy=1", results[0].Series)
	assert.Equal(t, "mean", results[0].Stat)
	assert.Equal(t, "p75", results[1].Stat)
}

func TestSweepSurvivesCorruptRun(t *testing.T) {
	runs := policyRuns(t, func(policy, period int) int { return 10*policy + period })
	for _, res := range runs {
		if res.ID == "w2-a4" {
			corrupt := "packet_size address rx_time delay\n1000 1 9x0 5\n"
			require.NoError(t, os.WriteFile(res.Files[AppRxTraceFile], []byte(corrupt), 0o644))
		}
	}
	source := &recordingSource{results: runs}
	ag, _ := testAggregator()
	drv := CreateDriver(source, ag, nil)

	results, err := drv.Run(periodSweep())
	require.NoError(t, err)

	// the point whose only run is unreadable has no value, the other three keep theirs
	require.Len(t, results, 6)
	for _, res := range results {
		assert.False(t, res.Series == "weightPolicy=2" && res.X == "4", res)
	}

	dist, tally, err := ag.E2EAvgLatency(runs, AppRxTraceFile)
	require.NoError(t, err)
	assert.Equal(t, Distribution{11, 14, 21}, dist)
	assert.Equal(t, 1, tally.UnreadableTraces)
	assert.ErrorContains(t, tally.Err(), "run w2-a4")
}

func TestSweepExplicitSeries(t *testing.T) {
	runs := policyRuns(t, func(policy, period int) int { return period })
	baseline := CreateCombination(WeightPolicyParam, 1, CentralizedSchedParam, false)
	runs[0].Params = runs[0].Params.Clone()
	runs[0].Params[CentralizedSchedParam] = "false"

	source := &recordingSource{results: runs}
	ag, _ := testAggregator()
	drv := CreateDriver(source, ag, nil)

	sw := periodSweep()
	sw.Base[CentralizedSchedParam] = []string{"true", "false"}
	sw.SeriesAxis = ""
	sw.Series = []SeriesSpec{{Label: "Non cen", Overrides: baseline}}

	results, err := drv.Run(sw)
	require.NoError(t, err)

	// only the period-1 point has a baseline run; the period-4 point is skipped
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, "Non cen", res.Series)
		assert.Equal(t, "1", res.X)
		assert.Equal(t, 1.0, res.Value)
	}
	for _, filter := range source.filters {
		assert.Equal(t, []string{"false"}, filter[CentralizedSchedParam])
	}
}

func TestSweepValidate(t *testing.T) {
	sw := periodSweep()
	require.NoError(t, sw.Validate())

	sw.Axis = "missing"
	sw.Metrics = append(sw.Metrics, MetricSpec{Name: "x", Aggregate: "nope", Stat: "median"})
	err := sw.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "axis missing")
	assert.Contains(t, err.Error(), "unknown aggregate nope")
	assert.Contains(t, err.Error(), "unknown statistic median")
}

func TestSeriesDistributions(t *testing.T) {
	source := &recordingSource{results: policyRuns(t, func(policy, period int) int { return policy })}
	ag, _ := testAggregator()
	drv := CreateDriver(source, ag, nil)
	sw := periodSweep()

	dists, err := drv.SeriesDistributions(sw, sw.Metrics[0])
	require.NoError(t, err)
	assert.Equal(t, map[string]Distribution{
		"weightPolicy=1": {1, 1},
		"weightPolicy=2": {2, 2},
	}, dists)
}

func TestMetricReduce(t *testing.T) {
	dist := Distribution{4, 1, 3, 2}
	ms := MetricSpec{Name: "x", Stat: PercentileStat, Percentile: 25}
	v, err := ms.Reduce(dist)
	require.NoError(t, err)
	assert.InDelta(t, 1.75, v, 1e-12)
	assert.Equal(t, "p25", ms.StatName())

	_, err = (&MetricSpec{Stat: MeanStat}).Reduce(nil)
	assert.ErrorIs(t, err, ErrEmptyDistribution)
}
