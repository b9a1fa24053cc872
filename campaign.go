package iabstat

// campaign.go is the file-backed result database a campaign keeps its runs in.
// The layout is an index file at the root, listing every run with its parameters,
// and one data directory per run holding the files the simulator left there.
//
//	<root>/results.yaml
//	<root>/data/<run id>/UdpServerRxAdress.txt
//	<root>/data/<run id>/stderr
//	...

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// RunResult describes one completed trial.  Files maps logical file names to paths
// and is filled in only when the result did not come from a database query.
type RunResult struct {
	ID       string            `json:"id" yaml:"id"`
	Params   Combination       `json:"params" yaml:"params"`
	Files    map[string]string `json:"-" yaml:"-"`
	ExitCode int               `json:"exitcode" yaml:"exitcode"`
	Elapsed  time.Duration     `json:"elapsed" yaml:"elapsed"`
	Started  time.Time         `json:"started" yaml:"started"`
}

// ResultSource answers result queries.  A Grid used as a filter selects the results
// whose parameters match it.
type ResultSource interface {
	Results(filter Grid) ([]RunResult, error)
}

// Campaign is everything the statistics pipeline needs from the run store
type Campaign interface {
	ResultSource
	FileLookup
	RunMissing(ctx context.Context, combos []Combination) error
}

// resultIndex is the serialized content of the index file
type resultIndex struct {
	Name    string      `json:"name" yaml:"name"`
	Results []RunResult `json:"results" yaml:"results"`
}

// index file names, looked for in this order
var indexNames = []string{"results.yaml", "results.json"}

// DataDir is the directory under the root holding the per-run directories
const DataDir = "data"

// ResultDB is a Campaign kept in a directory
type ResultDB struct {
	Root      string
	IndexFile string
	Simulator Simulator

	// MaxParallel bounds the simulations RunMissing keeps in flight
	MaxParallel int

	Log *slog.Logger

	mu    sync.Mutex
	index resultIndex
}

// OpenResultDB opens the database rooted at root, creating the directory when it does
// not exist yet.  An existing results.json is used in preference to a missing
// results.yaml; a new database gets a yaml index.
func OpenResultDB(root string, sim Simulator, log *slog.Logger) (*ResultDB, error) {
	if err := os.MkdirAll(filepath.Join(root, DataDir), 0o755); err != nil {
		return nil, err
	}

	db := new(ResultDB)
	db.Root = root
	db.Simulator = sim
	db.MaxParallel = 1
	db.Log = loggerOr(log)
	db.IndexFile = filepath.Join(root, indexNames[0])
	db.index.Name = filepath.Base(root)

	for _, name := range indexNames {
		candidate := filepath.Join(root, name)
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		db.IndexFile = candidate
		if err := readByExt(candidate, isYAML(candidate), nil, &db.index); err != nil {
			return nil, fmt.Errorf("index %s: %w", candidate, err)
		}
		break
	}
	return db, nil
}

// WriteToFile saves the index
func (db *ResultDB) WriteToFile(filename string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return writeByExt(filename, &db.index)
}

// saveLocked writes the index; the caller holds mu
func (db *ResultDB) saveLocked() error {
	return writeByExt(db.IndexFile, &db.index)
}

// Len is the number of runs recorded
func (db *ResultDB) Len() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.index.Results)
}

// Results returns the runs matching filter, ordered by parameters and then id.
// The Files field of the returned results is left empty; ResultFiles gives them.
func (db *ResultDB) Results(filter Grid) ([]RunResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	selected := make([]RunResult, 0)
	for _, res := range db.index.Results {
		if filter.Matches(res.Params) {
			res.Params = res.Params.Clone()
			selected = append(selected, res)
		}
	}
	slices.SortFunc(selected, func(a, b RunResult) int {
		ak, bk := a.Params.Key(), b.Params.Key()
		if ak != bk {
			if ak < bk {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		} else if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return selected, nil
}

// ResultFiles maps the names of the files in a run's data directory to their paths
func (db *ResultDB) ResultFiles(runID string) (map[string]string, error) {
	dir := db.runDir(runID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	files := make(map[string]string)
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files[entry.Name()] = filepath.Join(dir, entry.Name())
		}
	}
	return files, nil
}

func (db *ResultDB) runDir(runID string) string {
	return filepath.Join(db.Root, DataDir, runID)
}

// Missing returns the combinations of combos that have no run recorded yet.  A
// combination listed k times needs k runs, so repetitions are kept.
func (db *ResultDB) Missing(combos []Combination) []Combination {
	db.mu.Lock()
	have := make(map[string]int)
	for _, res := range db.index.Results {
		have[res.Params.Key()] += 1
	}
	db.mu.Unlock()

	missing := make([]Combination, 0)
	for _, combo := range combos {
		key := combo.Key()
		if have[key] > 0 {
			have[key] -= 1
			continue
		}
		missing = append(missing, combo)
	}
	return missing
}

// RunMissing simulates every combination that is not in the database yet, up to
// MaxParallel at a time.  A run whose simulator exits with a non-zero status is
// still recorded, its stderr capture marking it unusable.  Any other failure stops
// the campaign; runs already finished stay recorded.
func (db *ResultDB) RunMissing(ctx context.Context, combos []Combination) error {
	if db.Simulator == nil {
		return errors.New("result database has no simulator")
	}
	missing := db.Missing(combos)
	if len(missing) == 0 {
		db.Log.Info("nothing to run", "requested", len(combos))
		return nil
	}
	db.Log.Info("running missing simulations", "missing", len(missing), "requested", len(combos))

	grp, gctx := errgroup.WithContext(ctx)
	limit := db.MaxParallel
	if limit < 1 {
		limit = 1
	}
	grp.SetLimit(limit)

	for _, combo := range missing {
		combo := combo
		grp.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return db.runOne(gctx, combo)
		})
	}
	return grp.Wait()
}

// runOne runs a single simulation into a fresh data directory and records it
func (db *ResultDB) runOne(ctx context.Context, combo Combination) error {
	res := RunResult{ID: uuid.NewString(), Params: combo.Clone(), Started: time.Now()}
	dir := db.runDir(res.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	err := db.Simulator.Run(ctx, combo, dir)
	res.Elapsed = time.Since(res.Started)
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			os.RemoveAll(dir)
			return fmt.Errorf("simulate %s: %w", combo.Key(), err)
		}
		res.ExitCode = exitErr.ExitCode()
		db.Log.Warn("simulation exited with status", "id", res.ID, "status", res.ExitCode, "params", combo.Key())
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.index.Results = append(db.index.Results, res)
	db.Log.Debug("simulation recorded", "id", res.ID, "elapsed", res.Elapsed, "params", combo.Key())
	return db.saveLocked()
}
