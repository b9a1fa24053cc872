package main

// iabstat runs the simulations a campaign is missing and evaluates its sweeps.
//
//	iabstat -config campaign.yaml -run -out sweeps.csv -plots figures
//
// Without -config the file named by IABSTAT_CONFIG (possibly set in .env) is used.

import (
	"context"
	"fmt"
	"github.com/iti/cmdline"
	"github.com/iti/iabstat"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
)

// cmdlineParameters define variables that may appear on the command line
func cmdlineParameters() *cmdline.CmdParser {
	cp := cmdline.NewCmdParser()
	cp.AddFlag(cmdline.StringFlag, "config", false)  // campaign configuration file
	cp.AddFlag(cmdline.StringFlag, "results", false) // overrides the results directory
	cp.AddFlag(cmdline.BoolFlag, "run", false)       // simulate the missing combinations first
	cp.AddFlag(cmdline.StringFlag, "sweep", false)   // comma-separated sweep names, default all
	cp.AddFlag(cmdline.StringFlag, "out", false)     // file receiving the sweep results (.yaml, .json, .csv)
	cp.AddFlag(cmdline.StringFlag, "plots", false)   // directory receiving the figures
	cp.AddFlag(cmdline.StringFlag, "depth", false)   // percentile of buffer status reported per relay depth
	cp.AddFlag(cmdline.BoolFlag, "v", false)         // debug logging
	return cp
}

func main() {
	cp := cmdlineParameters()
	cp.Parse()

	verbose := cp.IsLoaded("v") && cp.GetVar("v").(bool)
	slog.SetDefault(iabstat.NewLogger(os.Stderr, verbose))

	if err := run(cp); err != nil {
		slog.Error("iabstat failed", "error", err)
		os.Exit(1)
	}
}

func stringVar(cp *cmdline.CmdParser, name string) string {
	if !cp.IsLoaded(name) {
		return ""
	}
	return cp.GetVar(name).(string)
}

func run(cp *cmdline.CmdParser) error {
	envConfig, envResults, err := iabstat.LoadEnv(".env")
	if err != nil {
		return err
	}

	cfgFile := stringVar(cp, "config")
	if len(cfgFile) == 0 {
		cfgFile = envConfig
	}
	if len(cfgFile) == 0 {
		return fmt.Errorf("no configuration: give -config or set %s", iabstat.ConfigEnv)
	}
	if valid, err := iabstat.CheckReadableFiles([]string{cfgFile}); !valid {
		return err
	}
	cfg, err := iabstat.ReadConfig(cfgFile, strings.HasSuffix(cfgFile, ".yaml") || strings.HasSuffix(cfgFile, ".yml"), nil)
	if err != nil {
		return err
	}
	if results := stringVar(cp, "results"); len(results) > 0 {
		cfg.ResultsDir = results
	} else if len(envResults) > 0 {
		cfg.ResultsDir = envResults
	}

	sim, err := cfg.NewSimulator()
	if err != nil {
		return err
	}
	db, err := iabstat.OpenResultDB(cfg.ResultsDir, sim, slog.Default())
	if err != nil {
		return err
	}
	db.MaxParallel = cfg.MaxParallel

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if cp.IsLoaded("run") && cp.GetVar("run").(bool) {
		combos := iabstat.ListCombinations(cfg.Grid)
		if err := db.RunMissing(ctx, combos); err != nil {
			return err
		}
	}

	all, err := db.Results(cfg.Grid)
	if err != nil {
		return err
	}
	errs, total, err := iabstat.CountErrors(all, db, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Overall, we have %d errors out of %d simulations\n", errs, total)

	agg := cfg.NewAggregator(db)
	agg.Log = slog.Default()
	drv := iabstat.CreateDriver(db, agg, slog.Default())

	plotDir := stringVar(cp, "plots")
	if len(plotDir) > 0 {
		if err := os.MkdirAll(plotDir, 0o755); err != nil {
			return err
		}
	}

	results, err := runSweeps(cfg, drv, stringVar(cp, "sweep"), plotDir)
	if err != nil {
		return err
	}
	if out := stringVar(cp, "out"); len(out) > 0 {
		if valid, err := iabstat.CheckOutputFiles([]string{out}); !valid {
			return err
		}
		if err := iabstat.WriteResults(out, results); err != nil {
			return err
		}
		slog.Info("sweep results written", "file", out, "values", len(results))
	}

	if pctText := stringVar(cp, "depth"); len(pctText) > 0 {
		pct, err := strconv.ParseFloat(pctText, 64)
		if err != nil {
			return fmt.Errorf("depth percentile %q: %w", pctText, err)
		}
		return depthProfile(cfg, agg, all, pct, plotDir)
	}
	return nil
}

// runSweeps evaluates the selected sweeps, printing every value and drawing the figures
func runSweeps(cfg *iabstat.Config, drv *iabstat.Driver, selected, plotDir string) ([]iabstat.SweepResult, error) {
	sweeps := make([]iabstat.Sweep, 0)
	if len(selected) == 0 {
		for idx := range cfg.Sweeps {
			sweeps = append(sweeps, cfg.SweepWithBase(idx))
		}
	} else {
		for _, name := range strings.Split(selected, ",") {
			sw, present := cfg.Sweep(strings.TrimSpace(name))
			if !present {
				return nil, fmt.Errorf("no sweep named %s", name)
			}
			sweeps = append(sweeps, sw)
		}
	}

	all := make([]iabstat.SweepResult, 0)
	for _, sw := range sweeps {
		results, err := drv.Run(sw)
		if err != nil {
			return nil, err
		}
		for _, res := range results {
			fmt.Printf("%s %s %s=%s %s %s: %g\n", res.Sweep, res.Series, res.Axis, res.X, res.Metric, res.Stat, res.Value)
		}
		all = append(all, results...)

		if len(plotDir) == 0 {
			continue
		}
		for _, ms := range sw.Metrics {
			dists, err := drv.SeriesDistributions(sw, ms)
			if err != nil {
				return nil, err
			}
			base := filepath.Join(plotDir, sw.Name+"_"+ms.Name)
			title := fmt.Sprintf("%s %s", ms.Name, ms.StatName())
			for _, format := range cfg.PlotFormats {
				if err := iabstat.PlotSweep(base+"."+format, title, sw.Axis, ms.Name, results, ms.Name); err != nil {
					slog.Warn("sweep figure skipped", "sweep", sw.Name, "metric", ms.Name, "error", err)
				}
				if err := iabstat.PlotECDF(base+"_ecdf."+format, ms.Name, ms.Name, dists); err != nil {
					slog.Warn("ECDF figure skipped", "sweep", sw.Name, "metric", ms.Name, "error", err)
				}
			}
		}
	}
	return all, nil
}

// depthProfile reports the buffer status percentile per relay depth over all runs
func depthProfile(cfg *iabstat.Config, agg *iabstat.Aggregator, results []iabstat.RunResult, pct float64, plotDir string) error {
	points, tally, err := agg.BufferStatusByDepth(results, pct)
	if err != nil {
		return err
	}
	for _, dp := range points {
		fmt.Printf("depth %d: p%g buffer status %g\n", dp.Depth, pct, dp.Value)
	}
	slog.Info("buffer status by depth", "tally", tally.String())

	if len(plotDir) == 0 || len(points) == 0 {
		return nil
	}
	for _, format := range cfg.PlotFormats {
		name := filepath.Join(plotDir, fmt.Sprintf("bsr_depth_p%g.%s", pct, format))
		if err := iabstat.PlotDepth(name, fmt.Sprintf("buffer status p%g", pct), points); err != nil {
			return err
		}
	}
	return nil
}
