package iabstat

// synth.go is a trace generator standing in for the full network simulator.
// It runs a small discrete-event model of the mesh: every client sends packets
// up the relay chain to the donor, each wireless hop adds a random service delay,
// and every allocation period each link reports the bytes still queued for it.
// It writes the three traces and the stderr capture in the formats the
// aggregators read, so whole campaigns can be exercised without the simulator.

import (
	"bufio"
	"context"
	"fmt"
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/iti/rngstream"
	"math"
	"os"
	"path/filepath"
	"sync"
)

// rngMu serializes stream creation, which advances package-level seed state
var rngMu sync.Mutex

// newRngStream creates a named random number stream
func newRngStream(name string) *rngstream.RngStream {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rngstream.New(name)
}

// expon samples an exponential variate with the given mean
func expon(rng *rngstream.RngStream, mean float64) float64 {
	return -math.Log(1.0-rng.RandU01()) * mean
}

// defaults for parameters a combination leaves out
const (
	synthAppRunTimeMs  = 3000.0
	synthPacketSize    = 512
	synthUesPerBs      = 2
	synthNumIabs       = 2
	synthAllocPeriodMs = 1.0
	synthInterarrival  = 1e-3 // [s]
	synthHopService    = 2e-4 // [s]
	synthHeaderBytes   = 28
)

// SyntheticSimulator generates traces from a discrete-event model instead of
// running the simulator binary
type SyntheticSimulator struct {
	// Topology, when set, replaces the tree built from numIabs and uesPerBs
	Topology *Topology

	// WarmupMs is the warm-up boundary; clients start sending at ClientStartMs
	WarmupMs      float64
	ClientStartMs float64
}

// CreateSyntheticSimulator is a constructor
func CreateSyntheticSimulator(topo *Topology, warmupMs float64) *SyntheticSimulator {
	ss := new(SyntheticSimulator)
	ss.Topology = topo
	ss.WarmupMs = warmupMs
	ss.ClientStartMs = warmupMs / 2
	return ss
}

// synthParams holds the values the model reads from a combination
type synthParams struct {
	appRunTimeMs float64
	packetSize   int
	uesPerBs     int
	numIabs      int
	rngRun       int
	weightPolicy int
	allocPeriod  float64 // [ms]
}

func readSynthParams(params Combination) (synthParams, error) {
	var sp synthParams
	errs := make([]error, 0)
	var err error

	sp.appRunTimeMs, err = params.Float(AppRunTimeParam, synthAppRunTimeMs)
	errs = append(errs, err)
	sp.packetSize, err = params.Int(PacketSizeParam, synthPacketSize)
	errs = append(errs, err)
	sp.uesPerBs, err = params.Int(UesPerBsParam, synthUesPerBs)
	errs = append(errs, err)
	sp.numIabs, err = params.Int(NumIabsParam, synthNumIabs)
	errs = append(errs, err)
	sp.rngRun, err = params.Int(RngRunParam, 1)
	errs = append(errs, err)
	sp.weightPolicy, err = params.Int(WeightPolicyParam, 1)
	errs = append(errs, err)
	sp.allocPeriod, err = params.Float(AllocationPeriodParam, synthAllocPeriodMs)
	errs = append(errs, err)

	if err := ReportErrs(errs); err != nil {
		return sp, err
	}
	if sp.appRunTimeMs <= 0 {
		return sp, fmt.Errorf("%s must be positive", AppRunTimeParam)
	}
	if sp.packetSize <= 0 {
		return sp, fmt.Errorf("%s must be positive", PacketSizeParam)
	}
	if sp.allocPeriod <= 0 {
		sp.allocPeriod = synthAllocPeriodMs
	}
	return sp, nil
}

// synthPacket is one packet in flight
type synthPacket struct {
	client int
	sentAt float64   // [s]
	hopAt  []float64 // time each hop finished service [s]
}

// synthRun is the state of one generated run, passed as context to the event handlers
type synthRun struct {
	ctx    context.Context
	params synthParams
	rng    *rngstream.RngStream
	endSec float64

	clients []Attachment
	relays  []RelayDesc
	depth   map[string]int
	parent  map[string]string
	imsi    map[string]int64

	// bytes sent but not yet received, by client and by relay
	clientQueued []int64
	relayQueued  map[string]int64

	app, radio, bsr *bufio.Writer
	err             error
	sent, received  int
}

func secondsToNs(s float64) int64 {
	return int64(math.Round(s * NsPerSec))
}

// chain lists the nodes a packet from the client crosses, the serving node first
func (sr *synthRun) chain(client int) []string {
	nodes := []string{}
	node := sr.clients[client].Node
	for {
		nodes = append(nodes, node)
		up, present := sr.parent[node]
		if !present {
			break
		}
		node = up
	}
	return nodes
}

// clientSend is the event handler for a client emitting a packet
func clientSend(evtMgr *evtm.EventManager, context any, data any) any {
	sr := context.(*synthRun)
	client := data.(int)
	now := evtMgr.CurrentSeconds()
	if sr.ctx.Err() != nil || now >= sr.endSec {
		return nil
	}

	// the access hop plus one hop per relay between the serving node and the donor
	pckt := &synthPacket{client: client, sentAt: now}
	nodes := sr.chain(client)
	hopMean := synthHopService * sr.params.allocPeriod / float64(1+sr.params.weightPolicy%4)
	at := now
	for hop := 0; hop < len(nodes); hop++ {
		at += synthHopService/2 + expon(sr.rng, hopMean*float64(1+hop))
		pckt.hopAt = append(pckt.hopAt, at)
	}

	size := int64(sr.params.packetSize)
	sr.clientQueued[client] += size
	for _, node := range nodes {
		if _, isRelay := sr.parent[node]; isRelay {
			sr.relayQueued[node] += size
		}
	}
	sr.sent += 1

	evtMgr.Schedule(sr, pckt, packetArrival, vrtime.SecondsToTime(at-now))
	evtMgr.Schedule(sr, client, clientSend, vrtime.SecondsToTime(expon(sr.rng, synthInterarrival)))
	return nil
}

// packetArrival is the event handler for a packet reaching the server
func packetArrival(evtMgr *evtm.EventManager, context any, data any) any {
	sr := context.(*synthRun)
	pckt := data.(*synthPacket)
	if sr.err != nil {
		return nil
	}
	now := evtMgr.CurrentSeconds()
	client := sr.clients[pckt.client]
	size := int64(sr.params.packetSize)

	sr.clientQueued[pckt.client] -= size
	for _, node := range sr.chain(pckt.client) {
		if _, isRelay := sr.parent[node]; isRelay {
			sr.relayQueued[node] -= size
		}
	}
	sr.received += 1

	_, sr.err = fmt.Fprintf(sr.app, "%d %d %d %d\n", size, client.Address, secondsToNs(now), secondsToNs(now-pckt.sentAt))
	if sr.err != nil {
		return nil
	}

	// one transport block per hop
	for _, hopAt := range pckt.hopAt {
		ms := hopAt * MsPerSec
		sinr := 10 + 20*sr.rng.RandU01()
		_, sr.err = fmt.Fprintf(sr.radio, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%.3f\t%d\t%.4f\n",
			int(ms), int(ms*10)%10, 0, 14, 1, client.IMSI, size+synthHeaderBytes,
			sr.rng.RandInt(10, 28), 0, sinr, 1, 0.0)
		if sr.err != nil {
			return nil
		}
	}
	return nil
}

// bsrTick is the event handler reporting queued bytes on every link
func bsrTick(evtMgr *evtm.EventManager, context any, data any) any {
	sr := context.(*synthRun)
	now := evtMgr.CurrentSeconds()
	if sr.ctx.Err() != nil || sr.err != nil || now >= sr.endSec {
		return nil
	}
	t := secondsToNs(now)

	for _, relay := range sr.relays {
		src := sr.imsi[relay.Parent]
		_, sr.err = fmt.Fprintf(sr.bsr, "%d %d %d %d %d\n", t, src, relay.IMSI, sr.relayQueued[relay.Name], sr.depth[relay.Name])
		if sr.err != nil {
			return nil
		}
	}
	for idx, client := range sr.clients {
		_, sr.err = fmt.Fprintf(sr.bsr, "%d %d %d %d %d\n", t, sr.imsi[client.Node], client.IMSI, sr.clientQueued[idx], client.Depth)
		if sr.err != nil {
			return nil
		}
	}

	evtMgr.Schedule(sr, nil, bsrTick, vrtime.SecondsToTime(sr.params.allocPeriod/MsPerSec))
	return nil
}

// Run generates the traces of one trial into outDir
func (ss *SyntheticSimulator) Run(ctx context.Context, params Combination, outDir string) error {
	sp, err := readSynthParams(params)
	if err != nil {
		return err
	}

	topo := ss.Topology
	if topo == nil {
		topo, err = NewTreeTopology(sp.numIabs, sp.uesPerBs)
		if err != nil {
			return err
		}
	}
	clients, err := topo.Attachments()
	if err != nil {
		return err
	}
	depths, err := topo.Depths()
	if err != nil {
		return err
	}

	sr := new(synthRun)
	sr.ctx = ctx
	sr.params = sp
	sr.endSec = (ss.WarmupMs + sp.appRunTimeMs) / MsPerSec
	sr.clients = clients
	sr.relays = topo.Relays
	sr.depth = depths
	sr.parent = make(map[string]string)
	sr.imsi = make(map[string]int64)
	for _, relay := range topo.Relays {
		sr.parent[relay.Name] = relay.Parent
		sr.imsi[relay.Name] = relay.IMSI
	}
	sr.clientQueued = make([]int64, len(clients))
	sr.relayQueued = make(map[string]int64)

	// the stream sequence depends on creation order, so RngRun moves the run to its own offset
	sr.rng = newRngStream("synth-" + params.Key())
	for skip := 0; skip < sp.rngRun; skip++ {
		sr.rng.RandU01()
	}

	files := make([]*os.File, 0, 4)
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	create := func(name, header string) (*bufio.Writer, error) {
		f, err := os.Create(filepath.Join(outDir, name))
		if err != nil {
			return nil, err
		}
		files = append(files, f)
		w := bufio.NewWriter(f)
		_, err = w.WriteString(header)
		return w, err
	}
	writers := []struct {
		name, header string
		dst          **bufio.Writer
	}{
		{AppRxTraceFile, "packet_size address rx_time delay\n", &sr.app},
		{RadioTraceFile, "frame\tsubF\t1stSym\tsymbol#\tcellId\trnti\ttbSize\tmcs\trv\tSINR(dB)\tcorrupt\tTBler\n", &sr.radio},
		{BsrTraceFile, "time srcImsi targetImsi bsr depth\n", &sr.bsr},
	}
	for _, wr := range writers {
		if *wr.dst, err = create(wr.name, wr.header); err != nil {
			return err
		}
	}

	evtMgr := evtm.New()
	start := ss.ClientStartMs / MsPerSec
	for idx := range clients {
		evtMgr.Schedule(sr, idx, clientSend, vrtime.SecondsToTime(start+expon(sr.rng, synthInterarrival)))
	}
	evtMgr.Schedule(sr, nil, bsrTick, vrtime.SecondsToTime(sp.allocPeriod/MsPerSec))
	evtMgr.Run(sr.endSec)

	if err := ctx.Err(); err != nil {
		return err
	}
	if sr.err != nil {
		return sr.err
	}
	for _, wr := range writers {
		if err := (*wr.dst).Flush(); err != nil {
			return err
		}
	}

	// a clean run leaves stderr empty
	stderr, err := os.Create(filepath.Join(outDir, StderrFile))
	if err != nil {
		return err
	}
	files = append(files, stderr)

	summary := fmt.Sprintf("synthetic run %s: %d clients, %d packets sent, %d received\n",
		params.Key(), len(clients), sr.sent, sr.received)
	return os.WriteFile(filepath.Join(outDir, StdoutFile), []byte(summary), 0o644)
}
