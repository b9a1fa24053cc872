package iabstat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckErrors(t *testing.T) {
	results, _ := makeRuns(t,
		runFixture{id: "clean"},
		runFixture{id: "noisy", stderr: "x"},
		runFixture{id: "whitespace", stderr: "\n"},
		runFixture{id: "nocapture", noErr: true},
	)

	assert.NoError(t, CheckErrors(results[0].Files, OSOpener{}))
	assert.ErrorIs(t, CheckErrors(results[1].Files, OSOpener{}), ErrRunFailed)
	assert.ErrorIs(t, CheckErrors(results[2].Files, OSOpener{}), ErrRunFailed)
	assert.ErrorIs(t, CheckErrors(results[3].Files, OSOpener{}), ErrRunFailed)

	// a capture that cannot be opened is an error too
	missing := map[string]string{StderrFile: results[0].Files[StderrFile] + ".gone"}
	assert.ErrorIs(t, CheckErrors(missing, OSOpener{}), ErrRunFailed)
}

func TestCountErrors(t *testing.T) {
	results, _ := makeRuns(t,
		runFixture{id: "a"},
		runFixture{id: "b", stderr: "assert failed"},
		runFixture{id: "c"},
	)

	errs, total, err := CountErrors(results, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, errs)
	assert.Equal(t, 3, total)
}

func TestTally(t *testing.T) {
	tally := Tally{Runs: 2, RunErrors: 1}
	tally.Add(Tally{Runs: 3, EmptyTraces: 1, DegenerateWindows: 2})
	assert.Equal(t, Tally{Runs: 5, RunErrors: 1, EmptyTraces: 1, DegenerateWindows: 2}, tally)
	assert.Equal(t, "1 run errors out of 5 runs, 1 empty traces, 2 degenerate windows, 0 unreadable traces", tally.String())
}
