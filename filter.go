package iabstat

// filter.go decides whether a completed run may contribute to the statistics,
// and keeps the counters of what was left out

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Tally counts the runs seen by one aggregation pass and the reasons some of
// them, or some of their clients, were left out
type Tally struct {
	Runs              int `json:"runs" yaml:"runs"`
	RunErrors         int `json:"runerrors" yaml:"runerrors"`
	EmptyTraces       int `json:"emptytraces" yaml:"emptytraces"`
	DegenerateWindows int `json:"degenerate" yaml:"degenerate"`

	// UnreadableTraces counts usable runs whose trace was missing, could not be
	// opened, or held a row that failed to parse.  Errs keeps those failures,
	// each naming its run.
	UnreadableTraces int     `json:"unreadable" yaml:"unreadable"`
	Errs             []error `json:"-" yaml:"-"`
}

// Add accumulates the counters of another pass
func (t *Tally) Add(other Tally) {
	t.Runs += other.Runs
	t.RunErrors += other.RunErrors
	t.EmptyTraces += other.EmptyTraces
	t.DegenerateWindows += other.DegenerateWindows
	t.UnreadableTraces += other.UnreadableTraces
	t.Errs = append(t.Errs, other.Errs...)
}

// Err joins the recorded trace failures, nil when there are none
func (t Tally) Err() error {
	return errors.Join(t.Errs...)
}

func (t Tally) String() string {
	return fmt.Sprintf("%d run errors out of %d runs, %d empty traces, %d degenerate windows, %d unreadable traces",
		t.RunErrors, t.Runs, t.EmptyTraces, t.DegenerateWindows, t.UnreadableTraces)
}

// Opener gives access to result files.  Aggregators only read through it.
type Opener interface {
	Open(name string) (io.ReadCloser, error)
}

// OSOpener opens files on the local file system
type OSOpener struct{}

func (OSOpener) Open(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

// CheckErrors reports whether the run whose files are given is usable.  A run is
// not usable when its stderr capture holds even one byte; the content is not
// inspected.  A run without a readable stderr capture is not usable either.
// The return wraps ErrRunFailed, or is nil for a clean run.
func CheckErrors(files map[string]string, op Opener) error {
	stderrPath, present := files[StderrFile]
	if !present {
		return fmt.Errorf("%w: no stderr capture", ErrRunFailed)
	}
	f, err := op.Open(stderrPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRunFailed, err)
	}
	defer f.Close()

	// one byte decides it
	buf := make([]byte, 1)
	n, err := f.Read(buf)
	if n > 0 {
		return ErrRunFailed
	}
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: %v", ErrRunFailed, err)
	}
	return nil
}

// CountErrors checks every run and returns how many are not usable, out of how many
func CountErrors(results []RunResult, lookup FileLookup, op Opener) (int, int, error) {
	if op == nil {
		op = OSOpener{}
	}
	errs := 0
	for _, res := range results {
		files, err := filesOf(res, lookup)
		if err != nil {
			return errs, len(results), err
		}
		if CheckErrors(files, op) != nil {
			errs += 1
		}
	}
	return errs, len(results), nil
}

// filesOf returns the trace files of a run, from the result itself when it carries
// them, otherwise from the lookup
func filesOf(res RunResult, lookup FileLookup) (map[string]string, error) {
	if res.Files != nil {
		return res.Files, nil
	}
	if lookup == nil {
		return nil, fmt.Errorf("run %s: no file lookup available", res.ID)
	}
	return lookup.ResultFiles(res.ID)
}
