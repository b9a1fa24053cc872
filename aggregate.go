package iabstat

// aggregate.go reduces the traces of a set of runs to flat distributions:
// end-to-end throughput and latency, radio-layer throughput, and buffer
// occupancy.  Every reducer goes through the same steps for each run: the stderr
// check, the trace scan, the window test, then its own reduction.

import (
	"errors"
	"fmt"
	"golang.org/x/exp/slices"
	"io"
	"log/slog"
)

// default reduction parameters
const (
	DefaultLatencyStride   = 8
	DefaultBsrStride       = 64
	DefaultClientThreshold = 200
)

// FileLookup maps a run identifier to its trace files
type FileLookup interface {
	ResultFiles(runID string) (map[string]string, error)
}

// Aggregator holds what the reducers need besides the runs themselves.  It keeps
// no state between calls.
type Aggregator struct {
	// Files finds the trace files of runs that do not carry them
	Files FileLookup

	// Opener reads the files; nil means the local file system
	Opener Opener

	// Window is the warm-up boundary and nominal run time
	Window Window

	// LatencyStride and BsrStride set the downsampling of the large distributions
	LatencyStride int
	BsrStride     int

	// ClientThreshold splits target ids: above it is a client link, below it a relay link
	ClientThreshold int64

	Log *slog.Logger
}

// CreateAggregator is a constructor that fills in the historical defaults
func CreateAggregator(files FileLookup, window Window) *Aggregator {
	ag := new(Aggregator)
	ag.Files = files
	ag.Opener = OSOpener{}
	ag.Window = window
	ag.LatencyStride = DefaultLatencyStride
	ag.BsrStride = DefaultBsrStride
	ag.ClientThreshold = DefaultClientThreshold
	return ag
}

func (ag *Aggregator) opener() Opener {
	if ag.Opener == nil {
		return OSOpener{}
	}
	return ag.Opener
}

func (ag *Aggregator) logger() *slog.Logger {
	return loggerOr(ag.Log)
}

// scanFunc reads one run's trace.  It returns the number of data rows.
type scanFunc func(r io.Reader, name string) (int, error)

// eachRun applies scan to the named trace of every usable run.  Unusable runs and
// empty traces are counted in tally.  A trace that is missing, cannot be opened, or
// fails to parse leaves its run out: the failure, wrapped with the run identifier,
// is logged and kept in tally.Errs while the other runs go on.  Only a failed file
// lookup or an out-of-range relay depth ends the pass with an error.
func (ag *Aggregator) eachRun(results []RunResult, trace string, tally *Tally, scan scanFunc) error {
	op := ag.opener()
	for _, res := range results {
		tally.Runs += 1

		files, err := filesOf(res, ag.Files)
		if err != nil {
			return err
		}

		// stderr decides before any trace is touched
		if CheckErrors(files, op) != nil {
			tally.RunErrors += 1
			continue
		}

		rows, err := ag.scanRun(files, trace, scan)
		if err != nil {
			err = fmt.Errorf("run %s: %w", res.ID, err)
			var de *DepthRangeError
			if errors.As(err, &de) {
				return err
			}
			tally.UnreadableTraces += 1
			tally.Errs = append(tally.Errs, err)
			ag.logger().Error("run left out", "run", res.ID, "trace", trace, "error", err)
			continue
		}
		if rows == 0 {
			tally.EmptyTraces += 1
		}
	}

	if tally.EmptyTraces > 0 {
		ag.logger().Warn("empty traces skipped", "trace", trace, "empty", tally.EmptyTraces, "runs", tally.Runs)
	}
	if tally.RunErrors > 0 {
		ag.logger().Warn("runs with errors skipped", "trace", trace, "errors", tally.RunErrors, "runs", tally.Runs)
	}
	return nil
}

// scanRun opens the named trace of one run and scans it
func (ag *Aggregator) scanRun(files map[string]string, trace string, scan scanFunc) (int, error) {
	tracePath, present := files[trace]
	if !present {
		return 0, fmt.Errorf("trace %s not recorded", trace)
	}
	f, err := ag.opener().Open(tracePath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return scan(f, tracePath)
}

// E2EAvgThroughput gives one value per run: the bytes received after the warm-up
// boundary over the time from the boundary to the last packet received, in Mbit/s.
// A run whose last packet arrives at the boundary itself is skipped.
func (ag *Aggregator) E2EAvgThroughput(results []RunResult, trace string) (Distribution, Tally, error) {
	var tally Tally
	dist := make(Distribution, 0, len(results))

	err := ag.eachRun(results, trace, &tally, func(r io.Reader, name string) (int, error) {
		var bytes int64
		var lastRx int64
		seen := false

		rows, err := ReadAppRx(r, name, func(rec AppRxRecord) error {
			if !ag.Window.Contains(rec.RxTime) {
				return nil
			}
			bytes += int64(rec.PacketSize)
			lastRx = rec.RxTime
			seen = true
			return nil
		})
		if err != nil || rows == 0 {
			return rows, err
		}

		span := float64(lastRx) - ag.Window.StartNs()
		if !seen || span == 0 {
			tally.DegenerateWindows += 1
			return rows, nil
		}
		dist = append(dist, MbitPerSec(bytes, span))
		return rows, nil
	})
	if err != nil {
		return nil, tally, err
	}
	slices.Sort(dist)
	return dist, tally, nil
}

// clientAcc accumulates the packets of one client
type clientAcc struct {
	bytes int64
	maxRx int64
}

// E2EClientThroughput gives one value per client per run: the client's bytes over
// the time from the warm-up boundary to its latest packet, in Mbit/s.  A client whose
// latest packet arrives at the boundary is skipped, the rest of the run is kept.
func (ag *Aggregator) E2EClientThroughput(results []RunResult, trace string) (Distribution, Tally, error) {
	var tally Tally
	dist := make(Distribution, 0)

	err := ag.eachRun(results, trace, &tally, func(r io.Reader, name string) (int, error) {
		clients := make(map[int32]*clientAcc)

		rows, err := ReadAppRx(r, name, func(rec AppRxRecord) error {
			if !ag.Window.Contains(rec.RxTime) {
				return nil
			}
			acc, present := clients[rec.Address]
			if !present {
				acc = &clientAcc{maxRx: rec.RxTime}
				clients[rec.Address] = acc
			}
			acc.bytes += int64(rec.PacketSize)
			if rec.RxTime > acc.maxRx {
				acc.maxRx = rec.RxTime
			}
			return nil
		})
		if err != nil {
			return rows, err
		}

		// visit clients in address order so repeated passes agree exactly
		addrs := make([]int32, 0, len(clients))
		for addr := range clients {
			addrs = append(addrs, addr)
		}
		slices.Sort(addrs)

		for _, addr := range addrs {
			acc := clients[addr]
			span := float64(acc.maxRx) - ag.Window.StartNs()
			if span == 0 {
				tally.DegenerateWindows += 1
				continue
			}
			dist = append(dist, MbitPerSec(acc.bytes, span))
		}
		return rows, nil
	})
	if err != nil {
		return nil, tally, err
	}
	slices.Sort(dist)
	return dist, tally, nil
}

// E2EAvgLatency gives the mean packet delay of each run, in ms
func (ag *Aggregator) E2EAvgLatency(results []RunResult, trace string) (Distribution, Tally, error) {
	var tally Tally
	dist := make(Distribution, 0, len(results))

	err := ag.eachRun(results, trace, &tally, func(r io.Reader, name string) (int, error) {
		var sum float64
		count := 0
		rows, err := ReadAppRx(r, name, func(rec AppRxRecord) error {
			if !ag.Window.Contains(rec.RxTime) {
				return nil
			}
			sum += float64(rec.Delay)
			count += 1
			return nil
		})
		if err != nil || rows == 0 {
			return rows, err
		}
		if count == 0 {
			tally.DegenerateWindows += 1
			return rows, nil
		}
		dist = append(dist, sum/float64(count)/NsPerMs)
		return rows, nil
	})
	if err != nil {
		return nil, tally, err
	}
	slices.Sort(dist)
	return dist, tally, nil
}

// E2EClientLatency gives the per-packet delays of all runs, in ms.  Each run's
// delays are downsampled by LatencyStride before they are merged.
func (ag *Aggregator) E2EClientLatency(results []RunResult, trace string) (Distribution, Tally, error) {
	var tally Tally
	dist := make(Distribution, 0)

	err := ag.eachRun(results, trace, &tally, func(r io.Reader, name string) (int, error) {
		delays := make([]float64, 0)
		rows, err := ReadAppRx(r, name, func(rec AppRxRecord) error {
			if ag.Window.Contains(rec.RxTime) {
				delays = append(delays, NsToMs(rec.Delay))
			}
			return nil
		})
		if err != nil {
			return rows, err
		}
		dist = append(dist, Downsample(delays, ag.LatencyStride)...)
		return rows, nil
	})
	if err != nil {
		return nil, tally, err
	}
	slices.Sort(dist)
	return dist, tally, nil
}

// RadioThroughput gives, per run, the transport-block bytes decoded inside the
// measurement window divided by the nominal run time, in bytes/s.  Unlike the
// end-to-end reducers the denominator is the nominal duration, not the last arrival.
func (ag *Aggregator) RadioThroughput(results []RunResult) (Distribution, Tally, error) {
	var tally Tally
	dist := make(Distribution, 0, len(results))
	seconds := ag.Window.Seconds()
	if !(seconds > 0) {
		return nil, tally, fmt.Errorf("radio throughput needs a positive run time: %w", ErrDegenerateWindow)
	}

	err := ag.eachRun(results, RadioTraceFile, &tally, func(r io.Reader, name string) (int, error) {
		var bytes int64
		rows, err := ReadRadio(r, name, func(rec RadioRecord) error {
			if ag.Window.ContainsFrame(rec.Frame) {
				bytes += int64(rec.TBSize)
			}
			return nil
		})
		if err != nil || rows == 0 {
			return rows, err
		}
		dist = append(dist, float64(bytes)/seconds)
		return rows, nil
	})
	if err != nil {
		return nil, tally, err
	}
	slices.Sort(dist)
	return dist, tally, nil
}

// BufferStatus splits the buffer status reports after the warm-up boundary by link
// type and returns the relay-link and the client-link distributions, each run
// downsampled by BsrStride.  Reports whose target id equals the threshold belong
// to neither.
func (ag *Aggregator) BufferStatus(results []RunResult) (Distribution, Distribution, Tally, error) {
	var tally Tally
	relay := make(Distribution, 0)
	client := make(Distribution, 0)

	err := ag.eachRun(results, BsrTraceFile, &tally, func(r io.Reader, name string) (int, error) {
		relayRun := make([]float64, 0)
		clientRun := make([]float64, 0)
		rows, err := ReadBsr(r, name, func(rec BsrRecord) error {
			if !ag.Window.Contains(rec.Time) {
				return nil
			}
			if rec.Target > ag.ClientThreshold {
				clientRun = append(clientRun, rec.Bsr)
			} else if rec.Target < ag.ClientThreshold {
				relayRun = append(relayRun, rec.Bsr)
			}
			return nil
		})
		if err != nil {
			return rows, err
		}
		relay = append(relay, Downsample(relayRun, ag.BsrStride)...)
		client = append(client, Downsample(clientRun, ag.BsrStride)...)
		return rows, nil
	})
	if err != nil {
		return nil, nil, tally, err
	}
	slices.Sort(relay)
	slices.Sort(client)
	return relay, client, tally, nil
}

// DepthPoint is a percentile of the buffer status reported at one relay depth
type DepthPoint struct {
	Depth int     `json:"depth" yaml:"depth"`
	Value float64 `json:"value" yaml:"value"`
}

// BufferStatusByDepth buckets the buffer status reports after the warm-up boundary
// by relay depth and returns the pct-th percentile of every bucket that received
// samples, shallowest first.  Empty buckets are left out.  A depth outside
// [0, MaxRelayDepth] is an error.
func (ag *Aggregator) BufferStatusByDepth(results []RunResult, pct float64) ([]DepthPoint, Tally, error) {
	var tally Tally
	var buckets [MaxRelayDepth + 1][]float64

	err := ag.eachRun(results, BsrTraceFile, &tally, func(r io.Reader, name string) (int, error) {
		var runBuckets [MaxRelayDepth + 1][]float64
		rows, err := ReadBsr(r, name, func(rec BsrRecord) error {
			if rec.Depth < 0 || rec.Depth > MaxRelayDepth {
				return &DepthRangeError{File: name, Line: rec.Line, Depth: rec.Depth}
			}
			if ag.Window.Contains(rec.Time) {
				runBuckets[rec.Depth] = append(runBuckets[rec.Depth], rec.Bsr)
			}
			return nil
		})
		if err != nil {
			return rows, err
		}
		for depth := range runBuckets {
			if len(runBuckets[depth]) > 0 {
				buckets[depth] = append(buckets[depth], Downsample(runBuckets[depth], ag.BsrStride)...)
			}
		}
		return rows, nil
	})
	if err != nil {
		return nil, tally, err
	}

	points := make([]DepthPoint, 0, len(buckets))
	for depth, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		slices.Sort(bucket)
		value, err := Percentile(bucket, pct)
		if err != nil {
			return nil, tally, err
		}
		points = append(points, DepthPoint{Depth: depth, Value: value})
	}
	return points, tally, nil
}

// aggregate kinds that reduce to a single distribution, as named in sweep metrics
const (
	E2EAvgThroughputAgg    = "e2e-avg-throughput"
	E2EClientThroughputAgg = "e2e-client-throughput"
	E2EAvgLatencyAgg       = "e2e-avg-latency"
	E2EClientLatencyAgg    = "e2e-client-latency"
	RadioThroughputAgg     = "radio-throughput"
	BsrRelayAgg            = "bsr-relay"
	BsrClientAgg           = "bsr-client"
)

// AggregateKinds lists the names accepted by Distribution
var AggregateKinds = []string{E2EAvgThroughputAgg, E2EClientThroughputAgg, E2EAvgLatencyAgg,
	E2EClientLatencyAgg, RadioThroughputAgg, BsrRelayAgg, BsrClientAgg}

// Distribution dispatches to the reducer named by kind.  trace names the
// application trace for the end-to-end reducers and is ignored by the others.
func (ag *Aggregator) Distribution(kind string, results []RunResult, trace string) (Distribution, Tally, error) {
	if len(trace) == 0 {
		trace = AppRxTraceFile
	}
	switch kind {
	case E2EAvgThroughputAgg:
		return ag.E2EAvgThroughput(results, trace)
	case E2EClientThroughputAgg:
		return ag.E2EClientThroughput(results, trace)
	case E2EAvgLatencyAgg:
		return ag.E2EAvgLatency(results, trace)
	case E2EClientLatencyAgg:
		return ag.E2EClientLatency(results, trace)
	case RadioThroughputAgg:
		return ag.RadioThroughput(results)
	case BsrRelayAgg, BsrClientAgg:
		relay, client, tally, err := ag.BufferStatus(results)
		if kind == BsrRelayAgg {
			return relay, tally, err
		}
		return client, tally, err
	}
	return nil, Tally{}, errors.New("unknown aggregate " + kind)
}
