package iabstat

// window.go restricts trace records to the steady-state measurement window
// and holds the unit conversions applied to the reduced values

// unit conversions
const (
	BitsPerByte = 8
	NsPerMs     = 1e6
	NsPerSec    = 1e9
	MsPerSec    = 1e3
)

// Window is the validity window of a run.  Start is the warm-up boundary and
// Duration the nominal application run time, both in ns.
type Window struct {
	Start    int64
	Duration int64
}

// CreateWindow is a constructor, taking the warm-up boundary and the application run time in ms
func CreateWindow(warmupMs, runTimeMs float64) Window {
	return Window{Start: int64(warmupMs * NsPerMs), Duration: int64(runTimeMs * NsPerMs)}
}

// Contains is the one-sided test applied to application and buffer traces
func (w Window) Contains(t int64) bool {
	return t >= w.Start
}

// ContainsFrame is the two-sided test applied to the radio trace, whose frame
// counter runs in ms
func (w Window) ContainsFrame(frame int32) bool {
	startMs := float64(w.Start) / NsPerMs
	f := float64(frame)
	return f >= startMs && f < startMs+float64(w.Duration)/NsPerMs
}

// Seconds is the nominal run duration in seconds
func (w Window) Seconds() float64 {
	return float64(w.Duration) / NsPerMs / MsPerSec
}

// StartNs is the warm-up boundary as a float, the way throughput denominators use it
func (w Window) StartNs() float64 {
	return float64(w.Start)
}

// NsToMs converts a trace time or delay to ms
func NsToMs(ns int64) float64 {
	return float64(ns) / NsPerMs
}

// MbitPerSec turns a byte count received over spanNs nanoseconds into Mbit/s.
// The operation order follows the historical formula bytes/ns*1e9*8/1e6.
func MbitPerSec(bytes int64, spanNs float64) float64 {
	return float64(bytes) / spanNs * NsPerSec * BitsPerByte / 1e6
}
