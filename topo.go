package iabstat

// topo.go describes the IAB mesh a campaign simulates: donors wired to the core,
// relays hanging off donors or other relays over the air, and clients attached to
// every node.  The depth of a relay is the number of wireless hops back to a donor.
//
// Depths are found by converting the description into a gonum graph and
// computing shortest-path trees rooted in every donor.  Each edge carries
// weight 1, so a shortest path counts hops.

import (
	"fmt"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"math"
)

// RelayDesc describes one IAB relay node
type RelayDesc struct {
	Name string `json:"name" yaml:"name"`

	// Parent is the donor or relay this relay takes its backhaul from
	Parent string `json:"parent" yaml:"parent"`

	// IMSI identifies the relay in buffer status reports; always below ClientIMSIBase
	IMSI int64 `json:"imsi" yaml:"imsi"`
}

// Topology is the serializable description of an IAB mesh
type Topology struct {
	Name   string      `json:"name" yaml:"name"`
	Donors []string    `json:"donors" yaml:"donors"`
	Relays []RelayDesc `json:"relays" yaml:"relays"`

	// ClientsPerNode is the number of clients served by every donor and relay
	ClientsPerNode int `json:"clientspernode" yaml:"clientspernode"`
}

// ClientIMSIBase is the first client IMSI; relay IMSIs stay below it
const ClientIMSIBase = 201

// Attachment is one client and the node serving it
type Attachment struct {
	IMSI    int64  // client IMSI, ClientIMSIBase and up
	Address int32  // client address as it appears in the application trace
	Node    string // serving donor or relay
	Depth   int    // depth of the serving node
}

// CreateTopology is a constructor
func CreateTopology(name string) *Topology {
	topo := new(Topology)
	topo.Name = name
	topo.Donors = make([]string, 0)
	topo.Relays = make([]RelayDesc, 0)
	return topo
}

// AddDonor includes a donor node
func (topo *Topology) AddDonor(name string) {
	topo.Donors = append(topo.Donors, name)
}

// AddRelay includes a relay node taking backhaul from parent
func (topo *Topology) AddRelay(name, parent string, imsi int64) {
	topo.Relays = append(topo.Relays, RelayDesc{Name: name, Parent: parent, IMSI: imsi})
}

// NewTreeTopology builds the mesh the synthetic simulator uses for numIabs relays:
// one donor, and relays filling a binary tree under it breadth first.  At most 14
// relays fit within MaxRelayDepth.
func NewTreeTopology(numIabs, uesPerBs int) (*Topology, error) {
	maxRelays := (1 << (MaxRelayDepth + 1)) - 2
	if numIabs < 0 || numIabs > maxRelays {
		return nil, fmt.Errorf("%d relays do not fit in a tree of depth %d", numIabs, MaxRelayDepth)
	}
	topo := CreateTopology(fmt.Sprintf("tree-%d-%d", numIabs, uesPerBs))
	topo.ClientsPerNode = uesPerBs
	topo.AddDonor("donor")

	// heap numbering: node 0 is the donor, the parent of node i is (i-1)/2
	names := []string{"donor"}
	for idx := 1; idx <= numIabs; idx++ {
		name := fmt.Sprintf("iab%d", idx)
		names = append(names, name)
		topo.AddRelay(name, names[(idx-1)/2], int64(idx))
	}
	return topo, nil
}

// Nodes lists the donors and then the relays, in declaration order
func (topo *Topology) Nodes() []string {
	nodes := make([]string, 0, len(topo.Donors)+len(topo.Relays))
	nodes = append(nodes, topo.Donors...)
	for _, relay := range topo.Relays {
		nodes = append(nodes, relay.Name)
	}
	return nodes
}

// Validate checks that names are unique, that every parent exists, and that relay
// IMSIs are unique and below the client range
func (topo *Topology) Validate() error {
	errs := make([]error, 0)
	if len(topo.Donors) == 0 {
		errs = append(errs, fmt.Errorf("topology %s has no donor", topo.Name))
	}
	seen := make(map[string]bool)
	for _, name := range topo.Nodes() {
		if seen[name] {
			errs = append(errs, fmt.Errorf("node name %s used twice", name))
		}
		seen[name] = true
	}
	imsis := make(map[int64]bool)
	for _, relay := range topo.Relays {
		if relay.Parent == relay.Name {
			errs = append(errs, fmt.Errorf("relay %s is its own parent", relay.Name))
		} else if !seen[relay.Parent] {
			errs = append(errs, fmt.Errorf("relay %s has unknown parent %s", relay.Name, relay.Parent))
		}
		if relay.IMSI <= 0 || relay.IMSI >= ClientIMSIBase-1 {
			errs = append(errs, fmt.Errorf("relay %s IMSI %d outside (0,%d)", relay.Name, relay.IMSI, ClientIMSIBase-1))
		}
		if imsis[relay.IMSI] {
			errs = append(errs, fmt.Errorf("relay IMSI %d used twice", relay.IMSI))
		}
		imsis[relay.IMSI] = true
	}
	if topo.ClientsPerNode < 0 {
		errs = append(errs, fmt.Errorf("negative clients per node"))
	}
	return ReportErrs(errs)
}

// Depths returns the depth of every node, donors at 0.  A relay that cannot reach
// a donor, or sits deeper than MaxRelayDepth, is an error.
func (topo *Topology) Depths() (map[string]int, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}

	// give every node a graph id by its position in Nodes
	nodes := topo.Nodes()
	nameToID := make(map[string]int64)
	for idx, name := range nodes {
		nameToID[name] = int64(idx)
	}

	connGraph := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for _, id := range nameToID {
		connGraph.AddNode(simple.Node(id))
	}
	for _, relay := range topo.Relays {
		edge := simple.WeightedEdge{F: simple.Node(nameToID[relay.Name]), T: simple.Node(nameToID[relay.Parent]), W: 1.0}
		connGraph.SetWeightedEdge(edge)
	}

	// hop count to the nearest donor
	hops := make(map[string]float64)
	for _, name := range nodes {
		hops[name] = math.Inf(1)
	}
	for _, donor := range topo.Donors {
		spTree := path.DijkstraFrom(simple.Node(nameToID[donor]), connGraph)
		for _, name := range nodes {
			hops[name] = math.Min(hops[name], spTree.WeightTo(nameToID[name]))
		}
	}

	depths := make(map[string]int)
	errs := make([]error, 0)
	for _, name := range nodes {
		h := hops[name]
		switch {
		case math.IsInf(h, 1):
			errs = append(errs, fmt.Errorf("relay %s is not connected to a donor", name))
		case h > MaxRelayDepth:
			errs = append(errs, fmt.Errorf("relay %s at depth %d, deeper than %d", name, int(h), MaxRelayDepth))
		default:
			depths[name] = int(h)
		}
	}
	if err := ReportErrs(errs); err != nil {
		return nil, err
	}
	return depths, nil
}

// Attachments lists every client with its serving node, numbering client IMSIs
// from ClientIMSIBase and addresses from 0 in node order
func (topo *Topology) Attachments() ([]Attachment, error) {
	depths, err := topo.Depths()
	if err != nil {
		return nil, err
	}
	atts := make([]Attachment, 0, topo.ClientsPerNode*len(depths))
	for _, node := range topo.Nodes() {
		for c := 0; c < topo.ClientsPerNode; c++ {
			n := len(atts)
			atts = append(atts, Attachment{IMSI: int64(ClientIMSIBase + n), Address: int32(n), Node: node, Depth: depths[node]})
		}
	}
	return atts, nil
}

// RelayIMSI returns the IMSI of the named relay, or 0 for a donor
func (topo *Topology) RelayIMSI(name string) int64 {
	for _, relay := range topo.Relays {
		if relay.Name == name {
			return relay.IMSI
		}
	}
	return 0
}

// WriteToFile stores the Topology to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (topo *Topology) WriteToFile(filename string) error {
	return writeByExt(filename, *topo)
}

// ReadTopology deserializes a byte slice holding a representation of a Topology.
// If dict is empty, the file whose name is given is read to acquire the bytes.
func ReadTopology(filename string, useYAML bool, dict []byte) (*Topology, error) {
	topo := Topology{}
	if err := readByExt(filename, useYAML, dict, &topo); err != nil {
		return nil, err
	}
	return &topo, nil
}
