package iabstat

// errors.go holds the error values that classify why a run, a trace, or a
// client is left out of an aggregation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRunFailed marks a run whose captured stderr holds any content at all.
	ErrRunFailed = errors.New("run reported errors on stderr")

	// ErrEmptyTrace is the soft condition of a trace with no data rows
	ErrEmptyTrace = errors.New("empty trace")

	// ErrDegenerateWindow is reported when the measured time span of a run or of a
	// client is zero, so no rate can be computed from it
	ErrDegenerateWindow = errors.New("zero-length measurement window")

	// ErrEmptyDistribution is returned by reductions asked to summarize nothing
	ErrEmptyDistribution = errors.New("empty distribution")
)

// ParseError reports a trace row that could not be coerced to the declared
// column types.  It is fatal for the aggregation that hit it.
type ParseError struct {
	File   string // trace file name, as opened
	Line   int    // 1-based line number in the file
	Column string // declared column name
	Value  string // offending text
	Err    error
}

func (pe *ParseError) Error() string {
	if len(pe.Value) == 0 {
		return fmt.Sprintf("%s:%d: column %s: %v", pe.File, pe.Line, pe.Column, pe.Err)
	}
	return fmt.Sprintf("%s:%d: column %s: cannot parse %q: %v", pe.File, pe.Line, pe.Column, pe.Value, pe.Err)
}

func (pe *ParseError) Unwrap() error {
	return pe.Err
}

// DepthRangeError is returned when a buffer-status record carries a relay depth
// outside of the known buckets
type DepthRangeError struct {
	File  string
	Line  int
	Depth int64
}

func (de *DepthRangeError) Error() string {
	return fmt.Sprintf("%s:%d: relay depth %d outside [0,%d]", de.File, de.Line, de.Depth, MaxRelayDepth)
}

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated report of all the constituent errors, and returns it.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}

	return errors.New(strings.Join(errMsg, ","))
}
