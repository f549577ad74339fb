package xlayer

// topology.go holds the two-layer network model: optical nodes connected by directed
// fiber links with a wavelength capacity, and IP routers each hosted on exactly one
// optical node and equipped with a number of transceivers.

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// parameter keys recognized in a Topology's parameter map
const (
	ParamLightpathCapacity = "lightpath_capacity"
	ParamLinkUtilization   = "ip_link_utilization"
)

var (
	ErrDuplicateNode = errors.New("duplicate node")
	ErrDuplicateLink = errors.New("duplicate link")
	ErrNodeNotFound  = errors.New("node not found")
	ErrNoRoute       = errors.New("no optical route")
)

// OpticalNode is a site of the optical layer
type OpticalNode struct {
	ID string

	// IPNodes lists the routers hosted on this site, in insertion order
	IPNodes []*IPNode

	gid int64
}

// IPNode is a router.  PeeringHub marks routers that exchange traffic with other networks;
// background traffic may leave such a router but never transits it.
type IPNode struct {
	ID           string
	Optical      *OpticalNode
	Transceivers int
	PeeringHub   bool
}

// OpticalLink is a directed fiber with a capacity counted in lightpaths
type OpticalLink struct {
	From, To *OpticalNode
	Capacity int
	Weight   float64
}

// LinkKey identifies an ordered pair of nodes by id
type LinkKey struct {
	From, To string
}

func (lk LinkKey) String() string {
	return LinkName(lk.From, lk.To)
}

// LinkName is the serialized form of an ordered node pair
func LinkName(from, to string) string {
	return from + "<->" + to
}

// ParseLinkName inverts LinkName
func ParseLinkName(name string) (LinkKey, error) {
	for idx := 0; idx+3 <= len(name); idx++ {
		if name[idx:idx+3] == "<->" {
			return LinkKey{From: name[:idx], To: name[idx+3:]}, nil
		}
	}
	return LinkKey{}, errors.Errorf("malformed link name %q", name)
}

// Topology is the network.  It is not safe for concurrent use; concurrent scenarios each
// build their own.
type Topology struct {
	Name      string
	Parameter map[string]float64

	opticalNodes []*OpticalNode
	ipNodes      []*IPNode
	optByID      map[string]*OpticalNode
	ipByID       map[string]*IPNode

	links     map[LinkKey]*OpticalLink
	linkOrder []LinkKey

	graph    *simple.WeightedUndirectedGraph
	nodeAt   map[int64]*OpticalNode
	cachedSP map[int64]path.ShortestAlts

	// paths holds the candidate paths found so far for each ordered IP pair, and
	// pathsOnLink the reverse index from a directed optical hop to the candidates crossing it
	paths       map[LinkKey][][]string
	pathsOnLink map[LinkKey][]PathRef
	pathRefSeen map[LinkKey]map[PathRef]bool

	logger *zap.Logger
}

// PathRef names candidate path Index of the IP pair (Src, Dst)
type PathRef struct {
	Src, Dst string
	Index    int
}

// CreateTopology is a constructor
func CreateTopology(name string, params map[string]float64) *Topology {
	topo := new(Topology)
	topo.Name = name
	topo.Parameter = make(map[string]float64)
	for key, val := range params {
		topo.Parameter[key] = val
	}
	topo.opticalNodes = make([]*OpticalNode, 0)
	topo.ipNodes = make([]*IPNode, 0)
	topo.optByID = make(map[string]*OpticalNode)
	topo.ipByID = make(map[string]*IPNode)
	topo.links = make(map[LinkKey]*OpticalLink)
	topo.linkOrder = make([]LinkKey, 0)
	topo.graph = simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	topo.nodeAt = make(map[int64]*OpticalNode)
	topo.cachedSP = make(map[int64]path.ShortestAlts)
	topo.paths = make(map[LinkKey][][]string)
	topo.pathsOnLink = make(map[LinkKey][]PathRef)
	topo.pathRefSeen = make(map[LinkKey]map[PathRef]bool)
	topo.logger = zap.L().Named("topology")
	return topo
}

// SetLogger replaces the logger
func (topo *Topology) SetLogger(logger *zap.Logger) {
	topo.logger = logger.Named("topology")
}

// LightpathCapacity is the traffic volume one trunk carries
func (topo *Topology) LightpathCapacity() float64 {
	return topo.Parameter[ParamLightpathCapacity]
}

// LinkUtilization returns the maximum IP link utilization, and whether one is configured
func (topo *Topology) LinkUtilization() (float64, bool) {
	util, present := topo.Parameter[ParamLinkUtilization]
	return util, present
}

// RequiredTrunks is the number of trunks needed to carry volume, honoring the
// utilization limit when one is configured
func (topo *Topology) RequiredTrunks(volume float64) int {
	capacity := topo.LightpathCapacity()
	if util, present := topo.LinkUtilization(); present && util > 0 {
		capacity *= util
	}
	if capacity <= 0 {
		panic(fmt.Errorf("topology %s has no positive lightpath capacity", topo.Name))
	}
	return int(math.Ceil(volume/capacity - 1e-9))
}

func (topo *Topology) idTaken(id string) bool {
	_, opt := topo.optByID[id]
	_, ip := topo.ipByID[id]
	return opt || ip
}

// AddOpticalNode creates and adds an optical node
func (topo *Topology) AddOpticalNode(id string) (*OpticalNode, error) {
	if topo.idTaken(id) {
		return nil, errors.Wrapf(ErrDuplicateNode, "node %s in topology %s", id, topo.Name)
	}
	on := &OpticalNode{ID: id, IPNodes: make([]*IPNode, 0), gid: int64(len(topo.opticalNodes))}
	topo.opticalNodes = append(topo.opticalNodes, on)
	topo.optByID[id] = on
	topo.nodeAt[on.gid] = on
	topo.graph.AddNode(simple.Node(on.gid))
	return on, nil
}

// AddIPNode creates a router hosted on the named optical node
func (topo *Topology) AddIPNode(id, opticalID string, transceivers int, peeringHub bool) (*IPNode, error) {
	if topo.idTaken(id) {
		return nil, errors.Wrapf(ErrDuplicateNode, "node %s in topology %s", id, topo.Name)
	}
	on, present := topo.optByID[opticalID]
	if !present {
		return nil, errors.Wrapf(ErrNodeNotFound, "optical node %s hosting %s", opticalID, id)
	}
	if transceivers < 0 {
		return nil, errors.Errorf("IP node %s has negative transceiver count %d", id, transceivers)
	}
	ipn := &IPNode{ID: id, Optical: on, Transceivers: transceivers, PeeringHub: peeringHub}
	on.IPNodes = append(on.IPNodes, ipn)
	topo.ipNodes = append(topo.ipNodes, ipn)
	topo.ipByID[id] = ipn
	return ipn, nil
}

// AddOpticalLink adds the directed fiber from -> to.  Both directions of a fiber are
// separate links, and share one edge of the routing graph.
func (topo *Topology) AddOpticalLink(from, to string, capacity int, weight float64) (*OpticalLink, error) {
	fn, present := topo.optByID[from]
	if !present {
		return nil, errors.Wrapf(ErrNodeNotFound, "optical node %s", from)
	}
	tn, present := topo.optByID[to]
	if !present {
		return nil, errors.Wrapf(ErrNodeNotFound, "optical node %s", to)
	}
	if from == to {
		return nil, errors.Errorf("optical link %s loops on itself", LinkName(from, to))
	}
	key := LinkKey{From: from, To: to}
	_, present = topo.links[key]
	if present {
		return nil, errors.Wrapf(ErrDuplicateLink, "%s", key)
	}
	link := &OpticalLink{From: fn, To: tn, Capacity: capacity, Weight: weight}
	topo.links[key] = link
	topo.linkOrder = append(topo.linkOrder, key)
	topo.graph.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(fn.gid), T: simple.Node(tn.gid), W: weight})

	// shortest path trees computed before the insertion may miss paths through the new link
	topo.cachedSP = make(map[int64]path.ShortestAlts)
	return link, nil
}

// AddFiber adds both directions of a fiber
func (topo *Topology) AddFiber(a, b string, capacity int, weight float64) error {
	if _, err := topo.AddOpticalLink(a, b, capacity, weight); err != nil {
		return err
	}
	_, err := topo.AddOpticalLink(b, a, capacity, weight)
	return err
}

// OpticalNodes returns the optical nodes in insertion order
func (topo *Topology) OpticalNodes() []*OpticalNode {
	return topo.opticalNodes
}

// IPNodes returns the routers in insertion order
func (topo *Topology) IPNodes() []*IPNode {
	return topo.ipNodes
}

// OpticalLinks returns the directed links in insertion order
func (topo *Topology) OpticalLinks() []*OpticalLink {
	rtn := make([]*OpticalLink, len(topo.linkOrder))
	for idx, key := range topo.linkOrder {
		rtn[idx] = topo.links[key]
	}
	return rtn
}

// OpticalLink looks up the directed link from -> to
func (topo *Topology) OpticalLink(from, to string) (*OpticalLink, bool) {
	link, present := topo.links[LinkKey{From: from, To: to}]
	return link, present
}

// IPNode looks up a router by id
func (topo *Topology) IPNode(id string) (*IPNode, error) {
	ipn, present := topo.ipByID[id]
	if !present {
		return nil, errors.Wrapf(ErrNodeNotFound, "IP node %s in topology %s", id, topo.Name)
	}
	return ipn, nil
}

// OpticalNode looks up an optical node by id
func (topo *Topology) OpticalNode(id string) (*OpticalNode, error) {
	on, present := topo.optByID[id]
	if !present {
		return nil, errors.Wrapf(ErrNodeNotFound, "optical node %s in topology %s", id, topo.Name)
	}
	return on, nil
}

// GetNodeByID looks up a node of either layer.  The result is an *OpticalNode or an *IPNode.
func (topo *Topology) GetNodeByID(id string) (any, error) {
	if on, present := topo.optByID[id]; present {
		return on, nil
	}
	if ipn, present := topo.ipByID[id]; present {
		return ipn, nil
	}
	return nil, errors.Wrapf(ErrNodeNotFound, "%s in topology %s", id, topo.Name)
}

// MaxTransceivers is the largest transceiver count of any router
func (topo *Topology) MaxTransceivers() int {
	rtn := 0
	for _, ipn := range topo.ipNodes {
		if ipn.Transceivers > rtn {
			rtn = ipn.Transceivers
		}
	}
	return rtn
}
