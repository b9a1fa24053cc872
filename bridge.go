package iabstat

// bridge.go connects a simulator to a policy through files in a shared directory.
// For a client named c the simulator writes the state, one float per line, to
// c_req and then creates c_req_flag.  The bridge reads and removes both, asks the
// policy for an action, writes the action to c_resp and then creates c_resp_flag.
// The bridge keeps polling for as long as c_listening exists.

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"github.com/iti/rngstream"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultPollInterval is the time between two looks at the request files
const DefaultPollInterval = 100 * time.Microsecond

// dimensions of the policy the bridge was built for
const (
	PolicyInputs  = 9
	PolicyClasses = 8
)

// Policy maps a state to one of a fixed number of actions
type Policy interface {
	Action(state []float64) (int, error)
}

// BridgeFiles are the paths of the files exchanged for one client
type BridgeFiles struct {
	Req, ReqFlag, Resp, RespFlag, Listening string
}

// CreateBridgeFiles is a constructor, naming the files of client in dir
func CreateBridgeFiles(dir, client string) BridgeFiles {
	base := filepath.Join(dir, client)
	return BridgeFiles{
		Req:       base + "_req",
		ReqFlag:   base + "_req_flag",
		Resp:      base + "_resp",
		RespFlag:  base + "_resp_flag",
		Listening: base + "_listening",
	}
}

func exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// touch creates an empty file
func touch(name string) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	return f.Close()
}

// Bridge serves the requests of one client
type Bridge struct {
	Client       string
	Files        BridgeFiles
	Policy       Policy
	PollInterval time.Duration
	Log          *slog.Logger

	// Served counts the requests answered
	Served int
}

// CreateBridge is a constructor
func CreateBridge(dir, client string, policy Policy, log *slog.Logger) *Bridge {
	br := new(Bridge)
	br.Client = client
	br.Files = CreateBridgeFiles(dir, client)
	br.Policy = policy
	br.PollInterval = DefaultPollInterval
	br.Log = loggerOr(log)
	return br
}

// Serve answers requests until the listening file disappears or ctx is done.
// A request that cannot be read or evaluated ends the loop with an error.
func (br *Bridge) Serve(ctx context.Context) error {
	interval := br.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for exists(br.Files.Listening) {
		if exists(br.Files.ReqFlag) && exists(br.Files.Req) {
			if err := br.answer(); err != nil {
				return fmt.Errorf("client %s: %w", br.Client, err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	br.Log.Info("client closed", "client", br.Client, "served", br.Served)
	return nil
}

// answer handles one pending request
func (br *Bridge) answer() error {
	state, err := ReadState(br.Files.Req)
	if err != nil {
		return err
	}
	if err := errors.Join(os.Remove(br.Files.Req), os.Remove(br.Files.ReqFlag)); err != nil {
		return err
	}

	action, err := br.Policy.Action(state)
	if err != nil {
		return err
	}
	br.Log.Debug("received state", "client", br.Client, "state", state, "action", action)

	if err := os.WriteFile(br.Files.Resp, []byte(strconv.Itoa(action)), 0o644); err != nil {
		return err
	}
	br.Served += 1
	return touch(br.Files.RespFlag)
}

// ReadState reads a state file, one float per line.  Blank lines are ignored.
func ReadState(filename string) ([]float64, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	state := make([]float64, 0, PolicyInputs)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo += 1
		text := strings.TrimSpace(scanner.Text())
		if len(text) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, &ParseError{File: filename, Line: lineNo, Column: "state", Value: text, Err: unwrapNum(err)}
		}
		state = append(state, v)
	}
	return state, scanner.Err()
}

// Request is the simulator side of the exchange: it posts state for client and
// waits for the action
func Request(ctx context.Context, dir, client string, state []float64, poll time.Duration) (int, error) {
	files := CreateBridgeFiles(dir, client)
	lines := make([]string, len(state))
	for idx, v := range state {
		lines[idx] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	if err := os.WriteFile(files.Req, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return 0, err
	}
	if err := touch(files.ReqFlag); err != nil {
		return 0, err
	}

	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for !(exists(files.RespFlag) && exists(files.Resp)) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}

	resp, err := os.ReadFile(files.Resp)
	if err != nil {
		return 0, err
	}
	if err := errors.Join(os.Remove(files.Resp), os.Remove(files.RespFlag)); err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(resp)))
}

// LinearPolicy scores every action as a linear function of the state and picks
// one by sampling the softmax of the scores at the given temperature.  A
// temperature of 0 always picks the best score.
type LinearPolicy struct {
	Weights     [][]float64 `json:"weights" yaml:"weights"` // one row per action
	Bias        []float64   `json:"bias" yaml:"bias"`
	Temperature float64     `json:"temperature" yaml:"temperature"`

	rng *rngstream.RngStream
}

// CreateLinearPolicy is a constructor with all weights zero
func CreateLinearPolicy(classes, inputs int, temperature float64) *LinearPolicy {
	lp := new(LinearPolicy)
	lp.Weights = make([][]float64, classes)
	for idx := range lp.Weights {
		lp.Weights[idx] = make([]float64, inputs)
	}
	lp.Bias = make([]float64, classes)
	lp.Temperature = temperature
	return lp
}

// Validate checks the weight matrix is rectangular and matches the bias
func (lp *LinearPolicy) Validate() error {
	if len(lp.Weights) == 0 {
		return errors.New("policy has no weights")
	}
	inputs := len(lp.Weights[0])
	errs := make([]error, 0)
	for idx, row := range lp.Weights {
		if len(row) != inputs {
			errs = append(errs, fmt.Errorf("weight row %d has %d entries, expected %d", idx, len(row), inputs))
		}
	}
	if len(lp.Bias) != 0 && len(lp.Bias) != len(lp.Weights) {
		errs = append(errs, fmt.Errorf("bias has %d entries for %d actions", len(lp.Bias), len(lp.Weights)))
	}
	if lp.Temperature < 0 {
		errs = append(errs, fmt.Errorf("negative temperature %v", lp.Temperature))
	}
	return ReportErrs(errs)
}

// Scores computes the action scores for state
func (lp *LinearPolicy) Scores(state []float64) ([]float64, error) {
	classes := len(lp.Weights)
	if classes == 0 {
		return nil, errors.New("policy has no weights")
	}
	inputs := len(lp.Weights[0])
	if len(state) != inputs {
		return nil, fmt.Errorf("state has %d values, policy expects %d", len(state), inputs)
	}

	flat := make([]float64, 0, classes*inputs)
	for _, row := range lp.Weights {
		flat = append(flat, row...)
	}
	w := mat.NewDense(classes, inputs, flat)
	var out mat.VecDense
	out.MulVec(w, mat.NewVecDense(inputs, state))
	if len(lp.Bias) == classes {
		out.AddVec(&out, mat.NewVecDense(classes, lp.Bias))
	}
	return out.RawVector().Data, nil
}

// Softmax turns scores into probabilities at temperature t > 0
func Softmax(scores []float64, t float64) []float64 {
	probs := make([]float64, len(scores))
	top := floats.Max(scores)
	for idx, s := range scores {
		probs[idx] = math.Exp((s - top) / t)
	}
	floats.Scale(1/floats.Sum(probs), probs)
	return probs
}

// Action implements Policy
func (lp *LinearPolicy) Action(state []float64) (int, error) {
	scores, err := lp.Scores(state)
	if err != nil {
		return 0, err
	}
	if lp.Temperature == 0 {
		return floats.MaxIdx(scores), nil
	}
	if lp.rng == nil {
		lp.rng = newRngStream("policy")
	}

	probs := Softmax(scores, lp.Temperature)
	u := lp.rng.RandU01()
	cum := 0.0
	for idx, p := range probs {
		cum += p
		if u < cum {
			return idx, nil
		}
	}
	return len(probs) - 1, nil
}

// WriteToFile stores the policy to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (lp *LinearPolicy) WriteToFile(filename string) error {
	return writeByExt(filename, *lp)
}

// ReadLinearPolicy deserializes a byte slice holding a representation of a LinearPolicy.
// If dict is empty, the file whose name is given is read to acquire the bytes.
func ReadLinearPolicy(filename string, useYAML bool, dict []byte) (*LinearPolicy, error) {
	lp := LinearPolicy{}
	if err := readByExt(filename, useYAML, dict, &lp); err != nil {
		return nil, err
	}
	if err := lp.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &lp, nil
}

// LoadPolicy reads the trained policy when its file exists and the pretrained
// one otherwise, returning the policy and the file it came from
func LoadPolicy(trained, pretrained string) (*LinearPolicy, string, error) {
	chosen := pretrained
	if len(trained) > 0 && exists(trained) {
		chosen = trained
	}
	lp, err := ReadLinearPolicy(chosen, isYAML(chosen), nil)
	return lp, chosen, err
}
