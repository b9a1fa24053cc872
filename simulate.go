package iabstat

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Simulator runs one trial with the given parameters, leaving its trace files and
// the stdout/stderr captures in outDir.  A process that exits with a non-zero status
// is reported as an *exec.ExitError.
type Simulator interface {
	Run(ctx context.Context, params Combination, outDir string) error
}

// ExecSimulator runs an external simulator binary, passing every parameter as
// --name=value after the fixed Args
type ExecSimulator struct {
	Binary string
	Args   []string
}

// CreateExecSimulator is a constructor
func CreateExecSimulator(binary string, args ...string) *ExecSimulator {
	es := new(ExecSimulator)
	es.Binary = binary
	es.Args = args
	return es
}

// CommandLine returns the arguments the binary receives for params, in name order
func (es *ExecSimulator) CommandLine(params Combination) []string {
	args := make([]string, 0, len(es.Args)+len(params))
	args = append(args, es.Args...)
	for _, key := range params.Keys() {
		args = append(args, fmt.Sprintf("--%s=%s", key, params[key]))
	}
	return args
}

// Run starts the binary with outDir as its working directory, so the traces it
// writes there by relative name land in the run's data directory
func (es *ExecSimulator) Run(ctx context.Context, params Combination, outDir string) error {
	binary := es.Binary
	if !filepath.IsAbs(binary) && filepath.Base(binary) != binary {
		abs, err := filepath.Abs(binary)
		if err != nil {
			return err
		}
		binary = abs
	}

	stdout, err := os.Create(filepath.Join(outDir, StdoutFile))
	if err != nil {
		return err
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(outDir, StderrFile))
	if err != nil {
		return err
	}
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, binary, es.CommandLine(params)...)
	cmd.Dir = outDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}
