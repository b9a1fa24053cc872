package iabstat

// trace.go reads the per-run trace files written by the simulator.  Files are
// scanned row by row, every declared column is coerced to its type, and the
// typed record is handed to a callback, so no trace is held in memory whole.

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// TraceKind identifies the format of a trace file
type TraceKind int

const (
	AppRxKind TraceKind = iota
	RadioKind
	BsrKind
)

// logical names of the files a run produces, as recorded by the result database
const (
	AppRxTraceFile = "UdpServerRxAdress.txt"
	RadioTraceFile = "RxPacketTrace.txt"
	BsrTraceFile   = "BsrStatsTrace.txt"
	StderrFile     = "stderr"
	StdoutFile     = "stdout"
)

// MaxRelayDepth is the deepest relay in the meshes we analyze
const MaxRelayDepth = 3

// ColumnKind gives the type a trace column is coerced to
type ColumnKind int

const (
	Int32Col ColumnKind = iota
	Int64Col
	FloatCol
)

// Column declares one typed trace column.  Aliases are accepted in place of Name
// when column positions are taken from a header row.
type Column struct {
	Name    string
	Kind    ColumnKind
	Aliases []string
}

// Layout describes how the rows of a trace file are delimited and typed
type Layout struct {
	// Delim separates fields.  Empty means any run of blanks or tabs.
	Delim string

	// Columns lists the typed columns.  Without HeaderNames they are positional.
	Columns []Column

	// SkipRows is the number of leading lines ignored before data (or the header)
	SkipRows int

	// HeaderNames says the first line after SkipRows names the columns
	HeaderNames bool
}

// AppRxLayout is the application-receive trace: one header line, then
// packet size, client address, receive time [ns] and delay [ns]
var AppRxLayout = Layout{
	SkipRows: 1,
	Columns: []Column{
		{Name: "packet_size", Kind: Int32Col},
		{Name: "address", Kind: Int32Col},
		{Name: "rx_time", Kind: Int64Col},
		{Name: "delay", Kind: Int64Col},
	},
}

// RadioLayout is the tab-delimited radio-layer packet trace with its 12 fixed columns
var RadioLayout = Layout{
	Delim:    "\t",
	SkipRows: 1,
	Columns: []Column{
		{Name: "frame", Kind: Int32Col},
		{Name: "subf", Kind: Int32Col},
		{Name: "firstSim", Kind: FloatCol},
		{Name: "simNum", Kind: FloatCol},
		{Name: "cid", Kind: Int64Col},
		{Name: "rnti", Kind: Int64Col},
		{Name: "tb", Kind: Int32Col},
		{Name: "mcs", Kind: FloatCol},
		{Name: "rv", Kind: FloatCol},
		{Name: "sinr", Kind: FloatCol},
		{Name: "corr", Kind: FloatCol},
		{Name: "tbler", Kind: FloatCol},
	},
}

// BsrLayout is the buffer-status trace.  Column positions come from its header,
// "time srcImsi targetImsi bsr depth" as written by the IAB controller.
var BsrLayout = Layout{
	Delim:       " ",
	HeaderNames: true,
	Columns: []Column{
		{Name: "time", Kind: Int64Col},
		{Name: "srcImsi", Kind: Int64Col, Aliases: []string{"sourceId", "srcId"}},
		{Name: "targetImsi", Kind: Int64Col, Aliases: []string{"targetId"}},
		{Name: "bsr", Kind: FloatCol, Aliases: []string{"bufferSize"}},
		{Name: "depth", Kind: Int64Col},
	},
}

// Row is one typed trace row.  Values are indexed by the position of the
// column in Layout.Columns.
type Row struct {
	Line   int
	ints   []int64
	floats []float64
}

// Int returns the integer value of the idx-th declared column
func (row *Row) Int(idx int) int64 {
	return row.ints[idx]
}

// Float returns the value of the idx-th declared column as a float64, whatever its kind
func (row *Row) Float(idx int) float64 {
	return row.floats[idx]
}

// splitFields breaks a line by the layout delimiter
func (lo *Layout) splitFields(line string) []string {
	if len(lo.Delim) == 0 || lo.Delim == " " {
		return strings.Fields(line)
	}
	return strings.Split(line, lo.Delim)
}

// resolvePositions maps each declared column to a field position, either by
// declaration order or by matching names in the header fields
func (lo *Layout) resolvePositions(header []string) ([]int, error) {
	pos := make([]int, len(lo.Columns))
	if !lo.HeaderNames {
		for idx := range lo.Columns {
			pos[idx] = idx
		}
		return pos, nil
	}

	byName := make(map[string]int)
	for idx, name := range header {
		byName[strings.TrimSpace(name)] = idx
	}

	for idx, col := range lo.Columns {
		at, present := byName[col.Name]
		for _, alias := range col.Aliases {
			if present {
				break
			}
			at, present = byName[alias]
		}
		if !present {
			return nil, fmt.Errorf("column %s not found in header", col.Name)
		}
		pos[idx] = at
	}
	return pos, nil
}

// ScanTrace reads a trace laid out as described by lo, calling fn on every data row.
// It returns the number of data rows seen.  A trace with no data rows returns 0 and a
// nil error; a field that does not parse stops the scan with a *ParseError.
func ScanTrace(r io.Reader, name string, lo Layout, fn func(*Row) error) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	rows := 0
	var pos []int
	row := &Row{ints: make([]int64, len(lo.Columns)), floats: make([]float64, len(lo.Columns))}

	for scanner.Scan() {
		lineNo += 1
		if lineNo <= lo.SkipRows {
			continue
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		if len(strings.TrimSpace(line)) == 0 {
			continue
		}
		fields := lo.splitFields(line)

		// first non-skipped line either names the columns or is already data
		if pos == nil {
			var err error
			if lo.HeaderNames {
				pos, err = lo.resolvePositions(fields)
				if err != nil {
					return rows, &ParseError{File: name, Line: lineNo, Column: "header", Err: err}
				}
				continue
			}
			pos, _ = lo.resolvePositions(nil)
		}

		for idx, col := range lo.Columns {
			at := pos[idx]
			if at >= len(fields) {
				return rows, &ParseError{File: name, Line: lineNo, Column: col.Name,
					Err: fmt.Errorf("row has %d fields", len(fields))}
			}
			text := strings.TrimSpace(fields[at])
			switch col.Kind {
			case Int32Col, Int64Col:
				bits := 64
				if col.Kind == Int32Col {
					bits = 32
				}
				v, err := strconv.ParseInt(text, 10, bits)
				if err != nil {
					return rows, &ParseError{File: name, Line: lineNo, Column: col.Name, Value: text, Err: unwrapNum(err)}
				}
				row.ints[idx] = v
				row.floats[idx] = float64(v)
			case FloatCol:
				v, err := strconv.ParseFloat(text, 64)
				if err != nil {
					return rows, &ParseError{File: name, Line: lineNo, Column: col.Name, Value: text, Err: unwrapNum(err)}
				}
				row.ints[idx] = int64(v)
				row.floats[idx] = v
			}
		}
		row.Line = lineNo
		rows += 1

		if err := fn(row); err != nil {
			return rows, err
		}
	}
	if err := scanner.Err(); err != nil {
		return rows, fmt.Errorf("%s: %w", name, err)
	}
	return rows, nil
}

// unwrapNum strips the strconv wrapper, whose message repeats the offending text
func unwrapNum(err error) error {
	var ne *strconv.NumError
	if errors.As(err, &ne) {
		return ne.Err
	}
	return err
}

// AppRxRecord is one packet received by a client application
type AppRxRecord struct {
	PacketSize int32 // [bytes]
	Address    int32 // client address
	RxTime     int64 // [ns]
	Delay      int64 // [ns]
}

// ReadAppRx scans an application-receive trace
func ReadAppRx(r io.Reader, name string, fn func(AppRxRecord) error) (int, error) {
	return ScanTrace(r, name, AppRxLayout, func(row *Row) error {
		return fn(AppRxRecord{
			PacketSize: int32(row.Int(0)),
			Address:    int32(row.Int(1)),
			RxTime:     row.Int(2),
			Delay:      row.Int(3),
		})
	})
}

// RadioRecord is one transport block seen by the radio layer
type RadioRecord struct {
	Frame    int32
	Subframe int32
	FirstSim float64
	SimNum   float64
	CellID   int64
	RNTI     int64
	TBSize   int32 // [bytes]
	MCS      float64
	RV       float64
	SINR     float64
	Correct  float64
	TBLER    float64
}

// ReadRadio scans a radio-layer packet trace
func ReadRadio(r io.Reader, name string, fn func(RadioRecord) error) (int, error) {
	return ScanTrace(r, name, RadioLayout, func(row *Row) error {
		return fn(RadioRecord{
			Frame:    int32(row.Int(0)),
			Subframe: int32(row.Int(1)),
			FirstSim: row.Float(2),
			SimNum:   row.Float(3),
			CellID:   row.Int(4),
			RNTI:     row.Int(5),
			TBSize:   int32(row.Int(6)),
			MCS:      row.Float(7),
			RV:       row.Float(8),
			SINR:     row.Float(9),
			Correct:  row.Float(10),
			TBLER:    row.Float(11),
		})
	})
}

// BsrRecord is one buffer status report between a source node and a target
type BsrRecord struct {
	Time   int64 // [ns]
	Source int64
	Target int64
	Bsr    float64 // [bytes]
	Depth  int64
	Line   int
}

// ReadBsr scans a buffer-status trace
func ReadBsr(r io.Reader, name string, fn func(BsrRecord) error) (int, error) {
	return ScanTrace(r, name, BsrLayout, func(row *Row) error {
		return fn(BsrRecord{
			Time:   row.Int(0),
			Source: row.Int(1),
			Target: row.Int(2),
			Bsr:    row.Float(3),
			Depth:  row.Int(4),
			Line:   row.Line,
		})
	})
}
