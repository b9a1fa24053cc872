package iabstat

// sweep.go varies parameters across a campaign and reduces each grid point to
// one statistic per metric.  A sweep has an x axis (a numeric parameter) and a
// set of series (plot lines), each series pinning a categorical parameter or
// a fixed set of overrides.

import (
	"errors"
	"fmt"
	"golang.org/x/exp/slices"
	"log/slog"
	"strconv"
)

// statistics a metric can be reduced with
const (
	MeanStat       = "mean"
	PercentileStat = "percentile"
)

// MetricSpec names one distribution computed at every grid point and the
// statistic it is reduced to
type MetricSpec struct {
	Name       string  `json:"name" yaml:"name"`
	Aggregate  string  `json:"aggregate" yaml:"aggregate"`
	Trace      string  `json:"trace,omitempty" yaml:"trace,omitempty"`
	Stat       string  `json:"stat" yaml:"stat"`
	Percentile float64 `json:"percentile,omitempty" yaml:"percentile,omitempty"`
}

// Reduce applies the statistic to a distribution
func (ms *MetricSpec) Reduce(dist Distribution) (float64, error) {
	switch ms.Stat {
	case MeanStat, "":
		return Mean(dist)
	case PercentileStat:
		sorted := slices.Clone(dist)
		slices.Sort(sorted)
		return Percentile(sorted, ms.Percentile)
	}
	return 0, fmt.Errorf("metric %s: unknown statistic %s", ms.Name, ms.Stat)
}

// StatName labels the statistic, e.g. mean or p25
func (ms *MetricSpec) StatName() string {
	if ms.Stat == PercentileStat {
		return "p" + strconv.FormatFloat(ms.Percentile, 'g', -1, 64)
	}
	return MeanStat
}

// SeriesSpec is a plot line holding a set of parameters fixed
type SeriesSpec struct {
	Label     string      `json:"label" yaml:"label"`
	Overrides Combination `json:"overrides" yaml:"overrides"`
}

// Sweep declares a parameter sweep.  Every value of SeriesAxis found in Base
// gives a series, and each entry of Series adds one more.  Axis is swept over
// its values in Base.
type Sweep struct {
	Name       string       `json:"name" yaml:"name"`
	Base       Grid         `json:"base,omitempty" yaml:"base,omitempty"`
	SeriesAxis string       `json:"seriesaxis,omitempty" yaml:"seriesaxis,omitempty"`
	Series     []SeriesSpec `json:"series,omitempty" yaml:"series,omitempty"`
	Axis       string       `json:"axis" yaml:"axis"`
	Metrics    []MetricSpec `json:"metrics" yaml:"metrics"`
}

// Validate checks the sweep against its base grid
func (sw *Sweep) Validate() error {
	errs := make([]error, 0)
	if _, present := sw.Base[sw.Axis]; !present {
		errs = append(errs, fmt.Errorf("sweep %s: axis %s has no values in the base grid", sw.Name, sw.Axis))
	}
	if len(sw.SeriesAxis) > 0 {
		if _, present := sw.Base[sw.SeriesAxis]; !present {
			errs = append(errs, fmt.Errorf("sweep %s: series axis %s has no values in the base grid", sw.Name, sw.SeriesAxis))
		}
	}
	if len(sw.Metrics) == 0 {
		errs = append(errs, fmt.Errorf("sweep %s has no metrics", sw.Name))
	}
	for _, ms := range sw.Metrics {
		if !slices.Contains(AggregateKinds, ms.Aggregate) {
			errs = append(errs, fmt.Errorf("sweep %s metric %s: unknown aggregate %s", sw.Name, ms.Name, ms.Aggregate))
		}
		if ms.Stat != MeanStat && ms.Stat != PercentileStat && ms.Stat != "" {
			errs = append(errs, fmt.Errorf("sweep %s metric %s: unknown statistic %s", sw.Name, ms.Name, ms.Stat))
		}
		if ms.Stat == PercentileStat && (ms.Percentile < 0 || ms.Percentile > 100) {
			errs = append(errs, fmt.Errorf("sweep %s metric %s: percentile %v outside [0,100]", sw.Name, ms.Name, ms.Percentile))
		}
	}
	return ReportErrs(errs)
}

// AllSeries lists the series of the sweep, those of SeriesAxis first
func (sw *Sweep) AllSeries() []SeriesSpec {
	series := make([]SeriesSpec, 0)
	if len(sw.SeriesAxis) > 0 {
		for _, value := range sw.Base[sw.SeriesAxis] {
			series = append(series, SeriesSpec{
				Label:     sw.SeriesAxis + "=" + value,
				Overrides: Combination{sw.SeriesAxis: value},
			})
		}
	}
	return append(series, sw.Series...)
}

// SweepPoint is one grid point: the series it belongs to, its x value, and the
// filter selecting its runs
type SweepPoint struct {
	Series string
	X      string
	Filter Grid
}

// Points expands the sweep into its grid points.  Each filter is a fresh copy of
// the base grid that differs from it only in the series overrides and the axis.
func (sw *Sweep) Points() []SweepPoint {
	points := make([]SweepPoint, 0)
	for _, series := range sw.AllSeries() {
		pinned := sw.Base.Pin(series.Overrides)
		for _, x := range sw.Base[sw.Axis] {
			points = append(points, SweepPoint{Series: series.Label, X: x, Filter: pinned.With(sw.Axis, x)})
		}
	}
	return points
}

// SweepResult is the value of one metric at one grid point
type SweepResult struct {
	Sweep  string  `json:"sweep" yaml:"sweep"`
	Series string  `json:"series" yaml:"series"`
	Axis   string  `json:"axis" yaml:"axis"`
	X      string  `json:"x" yaml:"x"`
	Metric string  `json:"metric" yaml:"metric"`
	Stat   string  `json:"stat" yaml:"stat"`
	Value  float64 `json:"value" yaml:"value"`
	Tally  Tally   `json:"tally" yaml:"tally"`
}

// XValue is X as a number, for plotting
func (sr *SweepResult) XValue() (float64, error) {
	return strconv.ParseFloat(sr.X, 64)
}

// Driver evaluates sweeps against a result source
type Driver struct {
	Source ResultSource
	Agg    *Aggregator
	Log    *slog.Logger
}

// CreateDriver is a constructor
func CreateDriver(source ResultSource, agg *Aggregator, log *slog.Logger) *Driver {
	drv := new(Driver)
	drv.Source = source
	drv.Agg = agg
	drv.Log = loggerOr(log)
	return drv
}

// Run evaluates every metric of the sweep at every grid point.  The runs of a
// point are queried once and shared by its metrics.  A point whose distribution
// turns out empty contributes no value for that metric; it is logged and skipped.
func (drv *Driver) Run(sw Sweep) ([]SweepResult, error) {
	if err := sw.Validate(); err != nil {
		return nil, err
	}
	log := loggerOr(drv.Log)

	results := make([]SweepResult, 0)
	for _, pt := range sw.Points() {
		runs, err := drv.Source.Results(pt.Filter)
		if err != nil {
			return nil, fmt.Errorf("sweep %s point %s %s=%s: %w", sw.Name, pt.Series, sw.Axis, pt.X, err)
		}

		type distKey struct{ kind, trace string }
		cache := make(map[distKey]Distribution)
		tallies := make(map[distKey]Tally)

		for _, ms := range sw.Metrics {
			key := distKey{ms.Aggregate, ms.Trace}
			dist, present := cache[key]
			if !present {
				var tally Tally
				dist, tally, err = drv.Agg.Distribution(ms.Aggregate, runs, ms.Trace)
				if err != nil {
					return nil, fmt.Errorf("sweep %s point %s %s=%s: %w", sw.Name, pt.Series, sw.Axis, pt.X, err)
				}
				cache[key] = dist
				tallies[key] = tally
			}

			value, err := ms.Reduce(dist)
			if errors.Is(err, ErrEmptyDistribution) {
				log.Warn("no data at sweep point", "sweep", sw.Name, "series", pt.Series,
					"axis", sw.Axis, "x", pt.X, "metric", ms.Name, "runs", len(runs))
				continue
			}
			if err != nil {
				return nil, err
			}
			results = append(results, SweepResult{Sweep: sw.Name, Series: pt.Series, Axis: sw.Axis, X: pt.X,
				Metric: ms.Name, Stat: ms.StatName(), Value: value, Tally: tallies[key]})
		}
	}
	return results, nil
}

// Collect gathers the runs selected by filter and reduces them to one distribution
func (drv *Driver) Collect(filter Grid, kind, trace string) (Distribution, Tally, error) {
	runs, err := drv.Source.Results(filter)
	if err != nil {
		return nil, Tally{}, err
	}
	return drv.Agg.Distribution(kind, runs, trace)
}

// SeriesDistributions collects one distribution of the metric per series of the
// sweep, the axis left at all its values.  These are the inputs of ECDF plots.
func (drv *Driver) SeriesDistributions(sw Sweep, ms MetricSpec) (map[string]Distribution, error) {
	dists := make(map[string]Distribution)
	for _, series := range sw.AllSeries() {
		dist, tally, err := drv.Collect(sw.Base.Pin(series.Overrides), ms.Aggregate, ms.Trace)
		if err != nil {
			return nil, fmt.Errorf("sweep %s series %s: %w", sw.Name, series.Label, err)
		}
		if len(dist) == 0 {
			loggerOr(drv.Log).Warn("series has no data", "sweep", sw.Name, "series", series.Label, "tally", tally.String())
			continue
		}
		dists[series.Label] = dist
	}
	return dists, nil
}
