package iabstat

import (
	"encoding/json"
	"fmt"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
	"os"
	"path"
	"strconv"
	"strings"
)

// Simulation parameters a campaign is usually swept over.  Any other name is
// passed through to the simulator unchanged.
const (
	RunParam              = "run"
	RngRunParam           = "RngRun"
	CentralizedSchedParam = "centralizedSched"
	AppRunTimeParam       = "appRunTime"
	CooldownPeriodParam   = "cooldownPeriod"
	NumIabsParam          = "numIabs"
	HarqOnParam           = "harqOn"
	UesPerBsParam         = "uesPerBs"
	WeightPolicyParam     = "weightPolicy"
	PacketSizeParam       = "packetSize"
	AllocationPeriodParam = "allocationPeriod"
	EtaParam              = "eta"
	KParam                = "k"
	MuThresholdParam      = "muThreshold"
)

// SimParams lists the parameter names above
var SimParams = []string{RunParam, RngRunParam, CentralizedSchedParam, AppRunTimeParam, CooldownPeriodParam,
	NumIabsParam, HarqOnParam, UesPerBsParam, WeightPolicyParam, PacketSizeParam, AllocationPeriodParam,
	EtaParam, KParam, MuThresholdParam}

// CanonicalValue turns a parameter value into the string form used for matching.
// Booleans become true/false and numbers their shortest decimal form, so that 2, 2.0
// and "2" all match.
func CanonicalValue(v any) string {
	switch val := v.(type) {
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil && !strings.ContainsAny(val, "xXpP_") {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		if lower := strings.ToLower(val); lower == "true" || lower == "false" {
			return lower
		}
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}

// Combination assigns one canonical value to each of a set of parameters.  It is
// the identity of a trial as far as a campaign is concerned.
type Combination map[string]string

// CreateCombination is a constructor, from name/value pairs
func CreateCombination(pairs ...any) Combination {
	if len(pairs)%2 != 0 {
		panic(fmt.Errorf("CreateCombination needs name/value pairs"))
	}
	combo := make(Combination)
	for idx := 0; idx < len(pairs); idx += 2 {
		combo[fmt.Sprint(pairs[idx])] = CanonicalValue(pairs[idx+1])
	}
	return combo
}

// Keys returns the parameter names in ascending order
func (combo Combination) Keys() []string {
	keys := make([]string, 0, len(combo))
	for key := range combo {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Key is a string that is equal for equal combinations
func (combo Combination) Key() string {
	var sb strings.Builder
	for idx, key := range combo.Keys() {
		if idx > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(key)
		sb.WriteString("=")
		sb.WriteString(combo[key])
	}
	return sb.String()
}

// Eq determines whether the two combinations assign the same values to the same names
func (combo Combination) Eq(other Combination) bool {
	if len(combo) != len(other) {
		return false
	}
	for key, value := range combo {
		otherValue, present := other[key]
		if !present || otherValue != value {
			return false
		}
	}
	return true
}

// Clone returns an independent copy
func (combo Combination) Clone() Combination {
	cpy := make(Combination, len(combo))
	for key, value := range combo {
		cpy[key] = value
	}
	return cpy
}

// Int returns the named value as an integer, or dflt when it is absent
func (combo Combination) Int(name string, dflt int) (int, error) {
	value, present := combo[name]
	if !present {
		return dflt, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return dflt, fmt.Errorf("parameter %s=%s is not a number", name, value)
	}
	return int(f), nil
}

// Float returns the named value as a float64, or dflt when it is absent
func (combo Combination) Float(name string, dflt float64) (float64, error) {
	value, present := combo[name]
	if !present {
		return dflt, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return dflt, fmt.Errorf("parameter %s=%s is not a number", name, value)
	}
	return f, nil
}

// Bool returns the named value as a boolean, or dflt when it is absent
func (combo Combination) Bool(name string, dflt bool) (bool, error) {
	value, present := combo[name]
	if !present {
		return dflt, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return dflt, fmt.Errorf("parameter %s=%s is not a boolean", name, value)
	}
	return b, nil
}

// Grid declares the candidate values of every parameter of a campaign, or, used as
// a filter, the values a result must have to be selected.  A parameter with a
// single candidate is pinned.
type Grid map[string][]string

// CreateGrid is a constructor.  Each value may be a scalar or a slice of scalars.
func CreateGrid(params map[string]any) Grid {
	grid := make(Grid)
	for name, v := range params {
		grid[name] = canonicalList(v)
	}
	return grid
}

func canonicalList(v any) []string {
	switch vals := v.(type) {
	case []string:
		out := make([]string, len(vals))
		for idx, val := range vals {
			out[idx] = CanonicalValue(val)
		}
		return out
	case []any:
		out := make([]string, len(vals))
		for idx, val := range vals {
			out[idx] = CanonicalValue(val)
		}
		return out
	case []int:
		out := make([]string, len(vals))
		for idx, val := range vals {
			out[idx] = CanonicalValue(val)
		}
		return out
	case []float64:
		out := make([]string, len(vals))
		for idx, val := range vals {
			out[idx] = CanonicalValue(val)
		}
		return out
	case []bool:
		out := make([]string, len(vals))
		for idx, val := range vals {
			out[idx] = CanonicalValue(val)
		}
		return out
	}
	return []string{CanonicalValue(v)}
}

// UnmarshalYAML accepts a scalar or a sequence for every parameter
func (grid *Grid) UnmarshalYAML(node *yaml.Node) error {
	raw := make(map[string]any)
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*grid = CreateGrid(raw)
	return nil
}

// UnmarshalJSON accepts a scalar or an array for every parameter
func (grid *Grid) UnmarshalJSON(data []byte) error {
	raw := make(map[string]any)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*grid = CreateGrid(raw)
	return nil
}

// Keys returns the parameter names in ascending order
func (grid Grid) Keys() []string {
	keys := make([]string, 0, len(grid))
	for key := range grid {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Clone returns an independent copy
func (grid Grid) Clone() Grid {
	cpy := make(Grid, len(grid))
	for key, values := range grid {
		cpy[key] = slices.Clone(values)
	}
	return cpy
}

// With returns a copy of the grid where the named parameter takes the given values
func (grid Grid) With(name string, values ...any) Grid {
	cpy := grid.Clone()
	cpy[name] = canonicalList(values)
	return cpy
}

// Pin returns a copy of the grid with every parameter of combo pinned to its value
func (grid Grid) Pin(combo Combination) Grid {
	cpy := grid.Clone()
	for key, value := range combo {
		cpy[key] = []string{value}
	}
	return cpy
}

// Matches determines whether the combination is selected by the grid used as a
// filter: every parameter the grid names must be present with one of its values
func (grid Grid) Matches(combo Combination) bool {
	for key, values := range grid {
		value, present := combo[key]
		if !present || !slices.Contains(values, value) {
			return false
		}
	}
	return true
}

// Size is the number of combinations the grid expands to
func (grid Grid) Size() int {
	size := 1
	for _, values := range grid {
		size *= len(values)
	}
	return size
}

// ListCombinations expands the grid into every combination of its values.  The
// order is deterministic: the last parameter by name varies fastest.
func ListCombinations(grid Grid) []Combination {
	keys := grid.Keys()
	combos := []Combination{make(Combination)}
	for _, key := range keys {
		values := grid[key]
		next := make([]Combination, 0, len(combos)*len(values))
		for _, combo := range combos {
			for _, value := range values {
				extended := combo.Clone()
				extended[key] = value
				next = append(next, extended)
			}
		}
		combos = next
	}
	return combos
}

// isYAML selects the serialization by the extension of a file name
func isYAML(filename string) bool {
	pathExt := path.Ext(filename)
	return pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml"
}

// marshalByExt serializes v to json or to yaml as selected by the extension of filename
func marshalByExt(filename string, v any) ([]byte, error) {
	pathExt := path.Ext(filename)
	if isYAML(filename) {
		return yaml.Marshal(v)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		return json.MarshalIndent(v, "", "\t")
	}
	return nil, fmt.Errorf("file %s: extension %q is neither yaml nor json", filename, pathExt)
}

// writeByExt stores v in the named file, serialized according to its extension
func writeByExt(filename string, v any) error {
	bytes, err := marshalByExt(filename, v)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, bytes, 0o644)
}

// readByExt fills v from dict, or from the named file when dict is empty
func readByExt(filename string, useYAML bool, dict []byte, v any) error {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return err
		}
	}
	if useYAML {
		return yaml.Unmarshal(dict, v)
	}
	return json.Unmarshal(dict, v)
}

// WriteToFile stores the Grid to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (grid Grid) WriteToFile(filename string) error {
	return writeByExt(filename, grid)
}

// ReadGrid deserializes a byte slice holding a representation of a Grid.
// If dict is empty, the file whose name is given is read to acquire the bytes.
func ReadGrid(filename string, useYAML bool, dict []byte) (Grid, error) {
	grid := make(Grid)
	if err := readByExt(filename, useYAML, dict, &grid); err != nil {
		return nil, err
	}
	return grid, nil
}
