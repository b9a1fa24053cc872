package iabstat

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"gotest.tools/v3/fs"
)

// runFixture describes the files of one run on disk
type runFixture struct {
	id     string
	stderr string
	noErr  bool // leave the stderr capture out
	traces map[string]string
}

// makeRuns lays the fixtures out under a temporary directory, one directory per
// run, and returns results carrying their file maps
func makeRuns(t *testing.T, fixtures ...runFixture) ([]RunResult, *fs.Dir) {
	t.Helper()
	ops := make([]fs.PathOp, 0, len(fixtures))
	for _, fx := range fixtures {
		fileOps := make([]fs.PathOp, 0)
		if !fx.noErr {
			fileOps = append(fileOps, fs.WithFile(StderrFile, fx.stderr))
		}
		for name, content := range fx.traces {
			fileOps = append(fileOps, fs.WithFile(name, content))
		}
		ops = append(ops, fs.WithDir(fx.id, fileOps...))
	}
	dir := fs.NewDir(t, "runs", ops...)

	results := make([]RunResult, 0, len(fixtures))
	for _, fx := range fixtures {
		files := make(map[string]string)
		if !fx.noErr {
			files[StderrFile] = dir.Join(fx.id, StderrFile)
		}
		for name := range fx.traces {
			files[name] = dir.Join(fx.id, name)
		}
		results = append(results, RunResult{ID: fx.id, Params: Combination{RunParam: fx.id}, Files: files})
	}
	return results, dir
}

// appTrace builds an application-receive trace from (size, address, rx, delay) rows
func appTrace(rows ...[4]int64) string {
	var sb strings.Builder
	sb.WriteString("packet_size address rx_time delay\n")
	for _, row := range rows {
		fmt.Fprintf(&sb, "%d %d %d %d\n", row[0], row[1], row[2], row[3])
	}
	return sb.String()
}

// bsrTrace builds a buffer-status trace from (time, src, target, bsr, depth) rows
func bsrTrace(rows ...[5]int64) string {
	var sb strings.Builder
	sb.WriteString("time srcImsi targetImsi bsr depth\n")
	for _, row := range rows {
		fmt.Fprintf(&sb, "%d %d %d %d %d\n", row[0], row[1], row[2], row[3], row[4])
	}
	return sb.String()
}

// radioTrace builds a radio trace with the given frames, each carrying tbSize bytes
func radioTrace(tbSize int, frames ...int) string {
	var sb strings.Builder
	sb.WriteString("frame\tsubF\t1stSym\tsymbol#\tcellId\trnti\ttbSize\tmcs\trv\tSINR(dB)\tcorrupt\tTBler\n")
	for _, frame := range frames {
		fmt.Fprintf(&sb, "%d\t0\t0\t14\t1\t201\t%d\t20\t0\t15.5\t0\t0.01\n", frame, tbSize)
	}
	return sb.String()
}

// countingOpener records every file opened through it
type countingOpener struct {
	mu     sync.Mutex
	opened []string
}

func (co *countingOpener) Open(name string) (io.ReadCloser, error) {
	co.mu.Lock()
	co.opened = append(co.opened, name)
	co.mu.Unlock()
	return OSOpener{}.Open(name)
}

func (co *countingOpener) count(name string) int {
	co.mu.Lock()
	defer co.mu.Unlock()
	n := 0
	for _, opened := range co.opened {
		if opened == name {
			n += 1
		}
	}
	return n
}

// ms converts ms to the ns used in traces
func ms(v float64) int64 {
	return int64(v * NsPerMs)
}

// testAggregator uses the historical window: warm-up 800 ms, run time 3000 ms
func testAggregator() (*Aggregator, *countingOpener) {
	ag := CreateAggregator(nil, CreateWindow(800, 3000))
	co := &countingOpener{}
	ag.Opener = co
	return ag, co
}
