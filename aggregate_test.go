package iabstat

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"
)

func TestE2EAvgThroughput(t *testing.T) {
	results, _ := makeRuns(t,
		runFixture{id: "r1", traces: map[string]string{AppRxTraceFile: appTrace(
			[4]int64{100, 1, ms(700), ms(1)},
			[4]int64{100, 1, ms(900), ms(5)},
			[4]int64{300, 2, ms(1000), ms(3)},
		)}},
		runFixture{id: "r2", traces: map[string]string{AppRxTraceFile: appTrace(
			[4]int64{500, 1, ms(1800), ms(2)},
		)}},
	)
	ag, _ := testAggregator()

	dist, tally, err := ag.E2EAvgThroughput(results, AppRxTraceFile)
	require.NoError(t, err)
	require.Len(t, dist, 2)
	assert.InDelta(t, 0.004, dist[0], 1e-12)
	assert.InDelta(t, 0.016, dist[1], 1e-12)
	assert.Equal(t, Tally{Runs: 2}, tally)
}

func TestE2EAvgThroughputDegenerateWindow(t *testing.T) {
	results, _ := makeRuns(t,
		runFixture{id: "edge", traces: map[string]string{AppRxTraceFile: appTrace(
			[4]int64{100, 1, ms(800), ms(1)},
		)}},
	)
	ag, _ := testAggregator()

	dist, tally, err := ag.E2EAvgThroughput(results, AppRxTraceFile)
	require.NoError(t, err)
	assert.Empty(t, dist)
	assert.Equal(t, 1, tally.DegenerateWindows)
}

func TestE2EClientThroughputSkipsClientNotRun(t *testing.T) {
	results, _ := makeRuns(t,
		runFixture{id: "r1", traces: map[string]string{AppRxTraceFile: appTrace(
			[4]int64{100, 1, ms(900), ms(5)},
			[4]int64{300, 2, ms(1000), ms(3)},
			[4]int64{700, 3, ms(800), ms(3)},
		)}},
	)
	ag, _ := testAggregator()

	dist, tally, err := ag.E2EClientThroughput(results, AppRxTraceFile)
	require.NoError(t, err)
	require.Len(t, dist, 2)
	assert.InDelta(t, 0.008, dist[0], 1e-12)
	assert.InDelta(t, 0.012, dist[1], 1e-12)
	assert.Equal(t, 1, tally.DegenerateWindows)
}

func TestE2EAvgLatency(t *testing.T) {
	results, _ := makeRuns(t,
		runFixture{id: "r1", traces: map[string]string{AppRxTraceFile: appTrace(
			[4]int64{100, 1, ms(700), ms(50)},
			[4]int64{100, 1, ms(900), ms(5)},
			[4]int64{300, 2, ms(1000), ms(3)},
		)}},
		runFixture{id: "r2", traces: map[string]string{AppRxTraceFile: appTrace(
			[4]int64{500, 1, ms(1800), ms(2)},
		)}},
	)
	ag, _ := testAggregator()

	dist, _, err := ag.E2EAvgLatency(results, AppRxTraceFile)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 4}, []float64(dist), 1e-12)
}

func TestE2EClientLatencyDownsamplesPerRun(t *testing.T) {
	rows := make([][4]int64, 0, 640)
	for idx := 640; idx >= 1; idx-- {
		rows = append(rows, [4]int64{100, 1, ms(900) + int64(idx), ms(float64(idx))})
	}
	results, _ := makeRuns(t, runFixture{id: "big", traces: map[string]string{AppRxTraceFile: appTrace(rows...)}})
	ag, _ := testAggregator()

	dist, _, err := ag.E2EClientLatency(results, AppRxTraceFile)
	require.NoError(t, err)
	require.Len(t, dist, 80)
	assert.Equal(t, 1.0, dist[0])
	assert.Equal(t, 9.0, dist[1])
	assert.Equal(t, 633.0, dist[79])
}

func TestRadioThroughputTwoSidedWindow(t *testing.T) {
	results, _ := makeRuns(t,
		runFixture{id: "r1", traces: map[string]string{RadioTraceFile: radioTrace(1000, 700, 800, 3799, 3800)}},
	)
	ag, _ := testAggregator()

	dist, tally, err := ag.RadioThroughput(results)
	require.NoError(t, err)
	require.Len(t, dist, 1)
	assert.InDelta(t, 2000.0/3.0, dist[0], 1e-9)
	assert.Equal(t, 1, tally.Runs)
}

func TestBufferStatusSplitsByTarget(t *testing.T) {
	results, _ := makeRuns(t,
		runFixture{id: "r1", traces: map[string]string{BsrTraceFile: bsrTrace(
			[5]int64{ms(700), 0, 5, 99, 1},
			[5]int64{ms(900), 0, 5, 10, 1},
			[5]int64{ms(900), 1, 201, 20, 1},
			[5]int64{ms(900), 1, 200, 30, 1},
		)}},
	)
	ag, _ := testAggregator()

	relay, client, tally, err := ag.BufferStatus(results)
	require.NoError(t, err)
	assert.Equal(t, Distribution{10}, relay)
	assert.Equal(t, Distribution{20}, client)
	assert.Equal(t, Tally{Runs: 1}, tally)
}

func TestBufferStatusDownsample(t *testing.T) {
	rows := make([][5]int64, 0, 640)
	for idx := 639; idx >= 0; idx-- {
		rows = append(rows, [5]int64{ms(900), 1, 201, int64(idx), 1})
	}
	results, _ := makeRuns(t, runFixture{id: "r1", traces: map[string]string{BsrTraceFile: bsrTrace(rows...)}})
	ag, _ := testAggregator()

	relay, client, _, err := ag.BufferStatus(results)
	require.NoError(t, err)
	assert.Empty(t, relay)
	require.Len(t, client, 10)
	for idx, v := range client {
		assert.Equal(t, float64(64*idx), v)
	}
}

func TestBufferStatusByDepth(t *testing.T) {
	results, _ := makeRuns(t,
		runFixture{id: "r1", traces: map[string]string{BsrTraceFile: bsrTrace(
			[5]int64{ms(900), 0, 201, 10, 0},
			[5]int64{ms(900), 0, 202, 20, 0},
			[5]int64{ms(900), 2, 5, 30, 2},
			[5]int64{ms(900), 2, 6, 50, 2},
			[5]int64{ms(900), 2, 7, 40, 2},
			[5]int64{ms(100), 3, 8, 1000, 3},
		)}},
	)
	ag, _ := testAggregator()
	ag.BsrStride = 1

	points, _, err := ag.BufferStatusByDepth(results, 50)
	require.NoError(t, err)
	assert.Equal(t, []DepthPoint{{Depth: 0, Value: 15}, {Depth: 2, Value: 40}}, points)
}

func TestBufferStatusByDepthOutOfRange(t *testing.T) {
	results, _ := makeRuns(t,
		runFixture{id: "deep", traces: map[string]string{BsrTraceFile: bsrTrace(
			[5]int64{ms(900), 0, 201, 10, 0},
			[5]int64{ms(900), 4, 9, 10, 4},
		)}},
	)
	ag, _ := testAggregator()

	_, _, err := ag.BufferStatusByDepth(results, 50)
	var de *DepthRangeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, int64(4), de.Depth)
	assert.Equal(t, 3, de.Line)
	assert.Contains(t, err.Error(), "run deep")
}

// traceOf names the trace each aggregate kind reads
var traceOf = map[string]string{
	E2EAvgThroughputAgg:    AppRxTraceFile,
	E2EClientThroughputAgg: AppRxTraceFile,
	E2EAvgLatencyAgg:       AppRxTraceFile,
	E2EClientLatencyAgg:    AppRxTraceFile,
	RadioThroughputAgg:     RadioTraceFile,
	BsrRelayAgg:            BsrTraceFile,
	BsrClientAgg:           BsrTraceFile,
}

// allTraces holds one windowed row in each of the three traces
func allTraces() map[string]string {
	return map[string]string{
		AppRxTraceFile: appTrace([4]int64{100, 1, ms(900), ms(5)}),
		RadioTraceFile: radioTrace(100, 900),
		BsrTraceFile:   bsrTrace([5]int64{ms(900), 0, 5, 40, 1}, [5]int64{ms(900), 5, 250, 10, 1}),
	}
}

// headerOnly holds the three traces with their header rows and no data
func headerOnly() map[string]string {
	return map[string]string{
		AppRxTraceFile: appTrace(),
		RadioTraceFile: radioTrace(100),
		BsrTraceFile:   bsrTrace(),
	}
}

// reduceAll runs the named aggregate, or the depth profile for "depth"
func reduceAll(ag *Aggregator, kind string, results []RunResult) (int, Tally, error) {
	if kind == "depth" {
		points, tally, err := ag.BufferStatusByDepth(results, 50)
		return len(points), tally, err
	}
	dist, tally, err := ag.Distribution(kind, results, "")
	return len(dist), tally, err
}

func TestRunErrorsAreNeverRead(t *testing.T) {
	results, _ := makeRuns(t,
		runFixture{id: "bad", stderr: "segmentation fault\n", traces: allTraces()},
		runFixture{id: "nocapture", noErr: true, traces: allTraces()},
		runFixture{id: "good", traces: allTraces()},
	)

	for _, kind := range append(slices.Clone(AggregateKinds), "depth") {
		t.Run(kind, func(t *testing.T) {
			ag, co := testAggregator()
			n, tally, err := reduceAll(ag, kind, results)
			require.NoError(t, err)
			assert.NotZero(t, n)
			assert.Equal(t, Tally{Runs: 3, RunErrors: 2}, tally)

			trace, present := traceOf[kind]
			if !present {
				trace = BsrTraceFile
			}
			assert.Equal(t, 0, co.count(results[0].Files[trace]))
			assert.Equal(t, 0, co.count(results[1].Files[trace]))
			assert.Equal(t, 1, co.count(results[2].Files[trace]))
		})
	}
}

func TestEmptyTraceIsCounted(t *testing.T) {
	results, _ := makeRuns(t,
		runFixture{id: "empty", traces: headerOnly()},
		runFixture{id: "full", traces: allTraces()},
	)

	for _, kind := range append(slices.Clone(AggregateKinds), "depth") {
		t.Run(kind, func(t *testing.T) {
			ag, _ := testAggregator()
			n, tally, err := reduceAll(ag, kind, results)
			require.NoError(t, err)
			assert.NotZero(t, n)
			assert.Equal(t, Tally{Runs: 2, EmptyTraces: 1}, tally)
		})
	}
}

func TestUnreadableTraceLeavesRunOut(t *testing.T) {
	good := appTrace([4]int64{100, 1, ms(900), ms(4)})
	corrupt := "packet_size address rx_time delay\n100 1 900000000 5\n100 1 later 5\n"
	results, _ := makeRuns(t,
		runFixture{id: "good1", traces: map[string]string{AppRxTraceFile: good}},
		runFixture{id: "broken", traces: map[string]string{AppRxTraceFile: corrupt}},
		runFixture{id: "notrace", traces: map[string]string{}},
		runFixture{id: "good2", traces: map[string]string{AppRxTraceFile: good}},
	)
	ag, _ := testAggregator()

	dist, tally, err := ag.E2EAvgLatency(results, AppRxTraceFile)
	require.NoError(t, err)
	assert.Equal(t, Distribution{4, 4}, dist)
	assert.Equal(t, 4, tally.Runs)
	assert.Equal(t, 2, tally.UnreadableTraces)
	require.Len(t, tally.Errs, 2)

	var pe *ParseError
	require.True(t, errors.As(tally.Errs[0], &pe))
	assert.Equal(t, "rx_time", pe.Column)
	assert.Equal(t, 3, pe.Line)
	assert.True(t, strings.HasPrefix(tally.Errs[0].Error(), "run broken"))
	assert.True(t, strings.HasPrefix(tally.Errs[1].Error(), "run notrace"))
	assert.ErrorAs(t, tally.Err(), &pe)
}

func TestAggregationIsRepeatable(t *testing.T) {
	fixtures := make([]runFixture, 0, 4)
	for run := 0; run < 4; run++ {
		rows := make([][4]int64, 0, 50)
		for idx := 0; idx < 50; idx++ {
			rows = append(rows, [4]int64{int64(100 + run), int64(idx % 5), ms(850) + int64(idx*run*1000+idx), int64(idx*7919%1000 + 1)})
		}
		fixtures = append(fixtures, runFixture{id: fmt.Sprintf("r%d", run), traces: map[string]string{AppRxTraceFile: appTrace(rows...)}})
	}
	results, _ := makeRuns(t, fixtures...)
	ag, _ := testAggregator()

	for _, kind := range []string{E2EAvgThroughputAgg, E2EClientThroughputAgg, E2EAvgLatencyAgg, E2EClientLatencyAgg} {
		first, tally1, err := ag.Distribution(kind, results, "")
		require.NoError(t, err, kind)
		second, tally2, err := ag.Distribution(kind, results, "")
		require.NoError(t, err, kind)
		assert.Equal(t, first, second, kind)
		assert.Equal(t, tally1, tally2, kind)
		assert.IsNonDecreasing(t, []float64(first), kind)
	}
}

func TestDistributionUnknownKind(t *testing.T) {
	ag, _ := testAggregator()
	_, _, err := ag.Distribution("goodput", nil, "")
	assert.Error(t, err)
}

type mapLookup map[string]map[string]string

func (ml mapLookup) ResultFiles(runID string) (map[string]string, error) {
	files, present := ml[runID]
	if !present {
		return nil, fmt.Errorf("no run %s", runID)
	}
	return files, nil
}

func TestAggregatorUsesLookupWhenResultHasNoFiles(t *testing.T) {
	results, _ := makeRuns(t, runFixture{id: "r1", traces: map[string]string{AppRxTraceFile: appTrace([4]int64{100, 1, ms(900), ms(5)})}})
	lookup := mapLookup{"r1": results[0].Files}
	bare := []RunResult{{ID: "r1", Params: results[0].Params}}

	ag, _ := testAggregator()
	ag.Files = lookup
	dist, _, err := ag.E2EAvgLatency(bare, AppRxTraceFile)
	require.NoError(t, err)
	assert.Equal(t, Distribution{5}, dist)

	ag.Files = nil
	_, _, err = ag.E2EAvgLatency(bare, AppRxTraceFile)
	assert.Error(t, err)
}
