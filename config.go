package iabstat

// config.go holds the description of a campaign: where its results live, how
// trials are run, the parameter grid, and the sweeps evaluated over it

import (
	"fmt"
	"github.com/joho/godotenv"
	"golang.org/x/exp/slices"
	"os"
	"path/filepath"
)

// environment variables consulted for defaults
const (
	ConfigEnv  = "IABSTAT_CONFIG"
	ResultsEnv = "IABSTAT_RESULTS"
)

// Config describes a campaign
type Config struct {
	Name string `json:"name" yaml:"name"`

	// ResultsDir roots the result database
	ResultsDir string `json:"resultsdir" yaml:"resultsdir"`

	// Script is the simulator binary.  Empty selects the synthetic simulator.
	Script     string   `json:"script,omitempty" yaml:"script,omitempty"`
	ScriptArgs []string `json:"scriptargs,omitempty" yaml:"scriptargs,omitempty"`

	MaxParallel int `json:"maxparallel" yaml:"maxparallel"`

	// WarmupMs is the warm-up boundary and AppRunTimeMs the nominal application run time
	WarmupMs     float64 `json:"warmupms" yaml:"warmupms"`
	AppRunTimeMs float64 `json:"appruntimems" yaml:"appruntimems"`

	LatencyStride   int   `json:"latencystride" yaml:"latencystride"`
	BsrStride       int   `json:"bsrstride" yaml:"bsrstride"`
	ClientThreshold int64 `json:"clientthreshold" yaml:"clientthreshold"`

	// Grid is the parameter space simulated; sweeps without a base use it
	Grid   Grid    `json:"grid" yaml:"grid"`
	Sweeps []Sweep `json:"sweeps,omitempty" yaml:"sweeps,omitempty"`

	// Topology optionally names a topology file for the synthetic simulator
	Topology string `json:"topology,omitempty" yaml:"topology,omitempty"`

	// PlotFormats lists the figure file extensions produced, e.g. png and pdf
	PlotFormats []string `json:"plotformats,omitempty" yaml:"plotformats,omitempty"`
}

// DefaultConfig is a constructor filling in the values earlier campaigns used
func DefaultConfig(name string) *Config {
	cfg := new(Config)
	cfg.Name = name
	cfg.ResultsDir = "results"
	cfg.MaxParallel = 4
	cfg.WarmupMs = 800
	cfg.AppRunTimeMs = 3000
	cfg.LatencyStride = DefaultLatencyStride
	cfg.BsrStride = DefaultBsrStride
	cfg.ClientThreshold = DefaultClientThreshold
	cfg.Grid = make(Grid)
	cfg.PlotFormats = []string{"png"}
	return cfg
}

// Validate checks the configuration, reporting every problem found
func (cfg *Config) Validate() error {
	errs := make([]error, 0)
	if len(cfg.ResultsDir) == 0 {
		errs = append(errs, fmt.Errorf("no results directory"))
	}
	if cfg.MaxParallel < 1 {
		errs = append(errs, fmt.Errorf("maxparallel %d below 1", cfg.MaxParallel))
	}
	if cfg.WarmupMs < 0 {
		errs = append(errs, fmt.Errorf("negative warm-up %v", cfg.WarmupMs))
	}
	if !(cfg.AppRunTimeMs > 0) {
		errs = append(errs, fmt.Errorf("app run time %v not positive", cfg.AppRunTimeMs))
	}
	if cfg.LatencyStride < 1 || cfg.BsrStride < 1 {
		errs = append(errs, fmt.Errorf("strides must be at least 1"))
	}
	names := make([]string, 0, len(cfg.Sweeps))
	for idx := range cfg.Sweeps {
		sw := cfg.SweepWithBase(idx)
		if slices.Contains(names, sw.Name) {
			errs = append(errs, fmt.Errorf("sweep name %s used twice", sw.Name))
		}
		names = append(names, sw.Name)
		errs = append(errs, sw.Validate())
	}
	return ReportErrs(errs)
}

// SweepWithBase returns the idx-th sweep with the campaign grid as its base when
// it declares none
func (cfg *Config) SweepWithBase(idx int) Sweep {
	sw := cfg.Sweeps[idx]
	if len(sw.Base) == 0 {
		sw.Base = cfg.Grid.Clone()
	}
	return sw
}

// Sweep finds a sweep by name
func (cfg *Config) Sweep(name string) (Sweep, bool) {
	for idx := range cfg.Sweeps {
		if cfg.Sweeps[idx].Name == name {
			return cfg.SweepWithBase(idx), true
		}
	}
	return Sweep{}, false
}

// Window is the measurement window of the campaign
func (cfg *Config) Window() Window {
	return CreateWindow(cfg.WarmupMs, cfg.AppRunTimeMs)
}

// NewAggregator builds the aggregator the configuration describes
func (cfg *Config) NewAggregator(files FileLookup) *Aggregator {
	ag := CreateAggregator(files, cfg.Window())
	ag.LatencyStride = cfg.LatencyStride
	ag.BsrStride = cfg.BsrStride
	ag.ClientThreshold = cfg.ClientThreshold
	return ag
}

// NewSimulator builds the trial runner: the configured script, or the synthetic
// simulator when there is none
func (cfg *Config) NewSimulator() (Simulator, error) {
	if len(cfg.Script) > 0 {
		return CreateExecSimulator(cfg.Script, cfg.ScriptArgs...), nil
	}
	var topo *Topology
	if len(cfg.Topology) > 0 {
		var err error
		topo, err = ReadTopology(cfg.Topology, isYAML(cfg.Topology), nil)
		if err != nil {
			return nil, err
		}
	}
	return CreateSyntheticSimulator(topo, cfg.WarmupMs), nil
}

// WriteToFile stores the Config to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (cfg *Config) WriteToFile(filename string) error {
	return writeByExt(filename, *cfg)
}

// ReadConfig deserializes a byte slice holding a representation of a Config,
// over the defaults.  If dict is empty, the file whose name is given is read.
// Relative paths in the configuration are taken relative to the file's directory.
func ReadConfig(filename string, useYAML bool, dict []byte) (*Config, error) {
	cfg := DefaultConfig("")
	if err := readByExt(filename, useYAML, dict, cfg); err != nil {
		return nil, err
	}
	if len(cfg.Name) == 0 {
		cfg.Name = filepath.Base(filename)
	}

	if len(filename) > 0 {
		dir := filepath.Dir(filename)
		if len(cfg.ResultsDir) > 0 && !filepath.IsAbs(cfg.ResultsDir) {
			cfg.ResultsDir = filepath.Join(dir, cfg.ResultsDir)
		}
		if len(cfg.Topology) > 0 && !filepath.IsAbs(cfg.Topology) {
			cfg.Topology = filepath.Join(dir, cfg.Topology)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return cfg, nil
}

// LoadEnv reads the named .env files when they exist, without overriding
// variables already set, and returns the configuration file and results directory
// they point to
func LoadEnv(envfiles ...string) (string, string, error) {
	present := make([]string, 0, len(envfiles))
	for _, name := range envfiles {
		if _, err := os.Stat(name); err == nil {
			present = append(present, name)
		}
	}
	if len(present) > 0 {
		if err := godotenv.Load(present...); err != nil {
			return "", "", err
		}
	}
	return os.Getenv(ConfigEnv), os.Getenv(ResultsEnv), nil
}
