package iabstat

// export.go hands sweep results to the outside: result tables as yaml, json or
// csv, and line plots whose format is picked by file extension

import (
	"encoding/csv"
	"fmt"
	"golang.org/x/exp/slices"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"os"
	"path"
	"strconv"
)

// resultTable is the serialized form of a list of sweep results
type resultTable struct {
	Results []SweepResult `json:"results" yaml:"results"`
}

var csvHeader = []string{"sweep", "series", "axis", "x", "metric", "stat", "value",
	"runs", "runerrors", "emptytraces", "degenerate", "unreadable"}

// WriteResults stores sweep results in the named file.  The extension selects
// yaml, json, or csv.
func WriteResults(filename string, results []SweepResult) error {
	pathExt := path.Ext(filename)
	if pathExt != ".csv" && pathExt != ".CSV" {
		return writeByExt(filename, resultTable{Results: results})
	}

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	rows := [][]string{csvHeader}
	for _, res := range results {
		rows = append(rows, []string{res.Sweep, res.Series, res.Axis, res.X, res.Metric, res.Stat,
			strconv.FormatFloat(res.Value, 'g', -1, 64),
			strconv.Itoa(res.Tally.Runs), strconv.Itoa(res.Tally.RunErrors),
			strconv.Itoa(res.Tally.EmptyTraces), strconv.Itoa(res.Tally.DegenerateWindows),
			strconv.Itoa(res.Tally.UnreadableTraces)})
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadResults recovers sweep results written by WriteResults
func ReadResults(filename string) ([]SweepResult, error) {
	pathExt := path.Ext(filename)
	if pathExt != ".csv" && pathExt != ".CSV" {
		table := resultTable{}
		if err := readByExt(filename, isYAML(filename), nil, &table); err != nil {
			return nil, err
		}
		return table.Results, nil
	}

	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || !slices.Equal(rows[0], csvHeader) {
		return nil, fmt.Errorf("%s: missing result header", filename)
	}

	results := make([]SweepResult, 0, len(rows)-1)
	for idx, row := range rows[1:] {
		res := SweepResult{Sweep: row[0], Series: row[1], Axis: row[2], X: row[3], Metric: row[4], Stat: row[5]}
		nums := make([]int, 5)
		errs := make([]error, 0)
		var err error
		res.Value, err = strconv.ParseFloat(row[6], 64)
		errs = append(errs, err)
		for n := range nums {
			nums[n], err = strconv.Atoi(row[7+n])
			errs = append(errs, err)
		}
		if err := ReportErrs(errs); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filename, idx+2, err)
		}
		res.Tally = Tally{Runs: nums[0], RunErrors: nums[1], EmptyTraces: nums[2], DegenerateWindows: nums[3],
			UnreadableTraces: nums[4]}
		results = append(results, res)
	}
	return results, nil
}

// figure size
var (
	plotWidth  = 6 * vg.Inch
	plotHeight = 4 * vg.Inch
)

// SeriesXY arranges the results of one metric by series, each series ordered by x.
// Results whose x is not numeric are left out.
func SeriesXY(results []SweepResult, metric string) (map[string]plotter.XYs, []string) {
	bySeries := make(map[string]plotter.XYs)
	labels := make([]string, 0)
	for _, res := range results {
		if res.Metric != metric {
			continue
		}
		x, err := res.XValue()
		if err != nil {
			continue
		}
		if _, present := bySeries[res.Series]; !present {
			labels = append(labels, res.Series)
		}
		bySeries[res.Series] = append(bySeries[res.Series], plotter.XY{X: x, Y: res.Value})
	}
	for _, label := range labels {
		slices.SortFunc(bySeries[label], func(a, b plotter.XY) int {
			if a.X < b.X {
				return -1
			} else if a.X > b.X {
				return 1
			}
			return 0
		})
	}
	return bySeries, labels
}

// addSeries draws one line with points per label, in label order
func addSeries(p *plot.Plot, bySeries map[string]plotter.XYs, labels []string) error {
	args := make([]any, 0, 2*len(labels))
	for _, label := range labels {
		args = append(args, label, bySeries[label])
	}
	return plotutil.AddLinePoints(p, args...)
}

// PlotSweep draws one line per series of the named metric against the sweep axis
func PlotSweep(filename, title, xlabel, ylabel string, results []SweepResult, metric string) error {
	bySeries, labels := SeriesXY(results, metric)
	if len(labels) == 0 {
		return fmt.Errorf("no numeric results for metric %s", metric)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	if err := addSeries(p, bySeries, labels); err != nil {
		return err
	}
	p.Legend.Top = true
	return p.Save(plotWidth, plotHeight, filename)
}

// PlotECDF draws the empirical distribution function of every distribution
func PlotECDF(filename, title, xlabel string, dists map[string]Distribution) error {
	labels := make([]string, 0, len(dists))
	for label := range dists {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	if len(labels) == 0 {
		return fmt.Errorf("no distributions to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = "ECDF"

	args := make([]any, 0, 2*len(labels))
	for _, label := range labels {
		xs, ys := ECDF(dists[label])
		pts := make(plotter.XYs, len(xs))
		for idx := range xs {
			pts[idx] = plotter.XY{X: xs[idx], Y: ys[idx]}
		}
		args = append(args, label, pts)
	}
	if err := plotutil.AddLines(p, args...); err != nil {
		return err
	}
	p.Legend.Top = true
	p.Legend.Left = true
	return p.Save(plotWidth, plotHeight, filename)
}

// PlotDepth draws the buffer status percentile against relay depth
func PlotDepth(filename, title string, points []DepthPoint) error {
	if len(points) == 0 {
		return fmt.Errorf("no depth buckets to plot")
	}
	pts := make(plotter.XYs, len(points))
	for idx, dp := range points {
		pts[idx] = plotter.XY{X: float64(dp.Depth), Y: dp.Value}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "relay depth"
	p.Y.Label.Text = "buffer status [bytes]"
	if err := plotutil.AddLinePoints(p, "bsr", pts); err != nil {
		return err
	}
	return p.Save(plotWidth, plotHeight, filename)
}
