package xlayer

// solution.go holds the result of a planning run: the IP links and the optical hops they use,
// the peering assignment and routing of every CDN end user, the routing of background
// demands, and a write-once table of metrics.  The serialized shape is
//
//	ip_links:       [{node1, node2, num_trunks, opt_links: [[o1, o2, trunks, path], ...]}]
//	cdn_assignment: [{name, user_nodes: [{node_id, peering_nodes: [[id, frac]], routes: [[n1, n2, frac]]}]}]
//	e2e_routing:    [{node1, node2, paths: [[[n1, n2], volume]]}]
//	metrics:        {name: value}

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// OptHop is one directed optical hop of an IP link, carrying Trunks lightpaths of candidate
// path Path.  A link between routers on the same site is represented by a hop from the site
// to itself.
type OptHop struct {
	From, To string
	Trunks   float64
	Path     int
}

func (oh OptHop) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{oh.From, oh.To, oh.Trunks, oh.Path})
}

func (oh *OptHop) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 3 || len(raw) > 4 {
		return errors.Errorf("optical hop needs 3 or 4 entries, got %d", len(raw))
	}
	dst := []any{&oh.From, &oh.To, &oh.Trunks, &oh.Path}
	for idx := range raw {
		if err := json.Unmarshal(raw[idx], dst[idx]); err != nil {
			return errors.Wrap(err, "optical hop")
		}
	}
	return nil
}

// IPLink is the aggregate of trunks from Node1 to Node2
type IPLink struct {
	Node1     string   `json:"node1"`
	Node2     string   `json:"node2"`
	NumTrunks float64  `json:"num_trunks"`
	OptLinks  []OptHop `json:"opt_links"`
}

// PathTrunks returns the trunk count of each candidate path index used by the link
func (ipl *IPLink) PathTrunks() map[int]float64 {
	rtn := make(map[int]float64)
	seen := make(map[int]bool)
	for _, hop := range ipl.OptLinks {
		if seen[hop.Path] {
			continue
		}
		seen[hop.Path] = true
		rtn[hop.Path] = hop.Trunks
	}
	return rtn
}

// PathSequences returns, per candidate path index, the optical nodes the link's hops visit
func (ipl *IPLink) PathSequences() map[int][]string {
	rtn := make(map[int][]string)
	for _, hop := range ipl.OptLinks {
		seq, present := rtn[hop.Path]
		if !present {
			if hop.From == hop.To {
				rtn[hop.Path] = []string{hop.From}
				continue
			}
			seq = []string{hop.From}
		}
		rtn[hop.Path] = append(seq, hop.To)
	}
	return rtn
}

// Allocation is traffic on the IP link From -> To
type Allocation struct {
	From, To string
	Value    float64
}

func (al Allocation) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{al.From, al.To, al.Value})
}

func (al *Allocation) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return errors.Errorf("allocation needs 3 entries, got %d", len(raw))
	}
	dst := []any{&al.From, &al.To, &al.Value}
	for idx := range raw {
		if err := json.Unmarshal(raw[idx], dst[idx]); err != nil {
			return errors.Wrap(err, "allocation")
		}
	}
	return nil
}

// peeringJSON is the serialized [id, fraction] form of a PeeringShare
type peeringJSON PeeringShare

func (ps peeringJSON) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{ps.Peering, ps.Fraction})
}

func (ps *peeringJSON) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return errors.Errorf("peering share needs 2 entries, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &ps.Peering); err != nil {
		return errors.Wrap(err, "peering share")
	}
	return errors.Wrap(json.Unmarshal(raw[1], &ps.Fraction), "peering share")
}

// UserAssignment is the peering assignment and IP routing of one end user.
// Routes carry the fraction of the user's volume on each IP link.
type UserAssignment struct {
	NodeID  string
	Peering []PeeringShare
	Routes  []Allocation
}

type userAssignmentJSON struct {
	NodeID  string        `json:"node_id"`
	Peering []peeringJSON `json:"peering_nodes"`
	Routes  []Allocation  `json:"routes"`
}

func (ua UserAssignment) MarshalJSON() ([]byte, error) {
	out := userAssignmentJSON{NodeID: ua.NodeID, Peering: make([]peeringJSON, len(ua.Peering)), Routes: ua.Routes}
	for idx, ps := range ua.Peering {
		out.Peering[idx] = peeringJSON(ps)
	}
	if out.Routes == nil {
		out.Routes = []Allocation{}
	}
	return json.Marshal(out)
}

func (ua *UserAssignment) UnmarshalJSON(data []byte) error {
	in := userAssignmentJSON{}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	ua.NodeID = in.NodeID
	ua.Routes = in.Routes
	ua.Peering = make([]PeeringShare, len(in.Peering))
	for idx, ps := range in.Peering {
		ua.Peering[idx] = PeeringShare(ps)
	}
	return nil
}

// CDNAssignment collects the user assignments of one CDN
type CDNAssignment struct {
	Name  string           `json:"name"`
	Users []UserAssignment `json:"user_nodes"`
}

// PathShare is the volume of a background demand on the IP link Link[0] -> Link[1]
type PathShare struct {
	Link   [2]string
	Volume float64
}

func (ps PathShare) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{ps.Link, ps.Volume})
}

func (ps *PathShare) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return errors.Errorf("path share needs 2 entries, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &ps.Link); err != nil {
		return errors.Wrap(err, "path share")
	}
	return errors.Wrap(json.Unmarshal(raw[1], &ps.Volume), "path share")
}

// RoutedDemand is the routing of one background demand
type RoutedDemand struct {
	Node1 string      `json:"node1"`
	Node2 string      `json:"node2"`
	Paths []PathShare `json:"paths"`
}

// SolutionInstance is the outcome of a planning run
type SolutionInstance struct {
	IPLinks       []IPLink        `json:"ip_links"`
	CDNAssignment []CDNAssignment `json:"cdn_assignment"`
	E2ERouting    []RoutedDemand  `json:"e2e_routing"`
	Metrics       map[string]any  `json:"metrics"`
}

// CreateSolutionInstance is a constructor
func CreateSolutionInstance(ipLinks []IPLink, cdn []CDNAssignment, e2e []RoutedDemand) *SolutionInstance {
	sol := new(SolutionInstance)
	sol.IPLinks = ipLinks
	sol.CDNAssignment = cdn
	sol.E2ERouting = e2e
	if sol.IPLinks == nil {
		sol.IPLinks = []IPLink{}
	}
	if sol.CDNAssignment == nil {
		sol.CDNAssignment = []CDNAssignment{}
	}
	if sol.E2ERouting == nil {
		sol.E2ERouting = []RoutedDemand{}
	}
	sol.Metrics = make(map[string]any)
	return sol
}

// AddMetric records a metric.  Metrics are write-once; recording a name twice is a
// programming error and panics.
func (sol *SolutionInstance) AddMetric(name string, value any) {
	_, present := sol.Metrics[name]
	if present {
		panic(fmt.Errorf("metric %s already recorded", name))
	}
	sol.Metrics[name] = value
}

// Metric returns a recorded metric
func (sol *SolutionInstance) Metric(name string) (any, bool) {
	val, present := sol.Metrics[name]
	return val, present
}

// IsEmpty is true for the solution of an infeasible or aborted run
func (sol *SolutionInstance) IsEmpty() bool {
	return len(sol.IPLinks) == 0 && len(sol.CDNAssignment) == 0 && len(sol.E2ERouting) == 0
}

// IPLink returns the link from node1 to node2
func (sol *SolutionInstance) IPLink(node1, node2 string) (*IPLink, bool) {
	for idx := range sol.IPLinks {
		if sol.IPLinks[idx].Node1 == node1 && sol.IPLinks[idx].Node2 == node2 {
			return &sol.IPLinks[idx], true
		}
	}
	return nil, false
}

// TrunkMatrix returns the number of trunks per ordered router pair
func (sol *SolutionInstance) TrunkMatrix() map[LinkKey]float64 {
	rtn := make(map[LinkKey]float64)
	for _, ipl := range sol.IPLinks {
		rtn[LinkKey{From: ipl.Node1, To: ipl.Node2}] += ipl.NumTrunks
	}
	return rtn
}

// ToDict returns the generic map form of the solution
func (sol *SolutionInstance) ToDict() (map[string]any, error) {
	bytes, err := json.Marshal(sol)
	if err != nil {
		return nil, errors.Wrap(err, "marshal solution")
	}
	rtn := make(map[string]any)
	return rtn, errors.Wrap(json.Unmarshal(bytes, &rtn), "unmarshal solution")
}

// WriteToFile stores the solution in the named file, as yaml or json depending on its extension
func (sol *SolutionInstance) WriteToFile(filename string) error {
	var bytes []byte
	var err error
	switch filepath.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		// yaml has no notion of the tuple forms, go through the generic map
		var dict map[string]any
		dict, err = sol.ToDict()
		if err == nil {
			bytes, err = yaml.Marshal(dict)
		}
	default:
		bytes, err = json.MarshalIndent(sol, "", "\t")
	}
	if err != nil {
		return errors.Wrapf(err, "serialize solution for %s", filename)
	}
	return errors.Wrapf(os.WriteFile(filename, bytes, 0o644), "write %s", filename)
}

// ReadSolution deserializes a json solution.  If dict is empty the named file is read.
func ReadSolution(filename string, dict []byte) (*SolutionInstance, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, errors.Wrapf(err, "read solution %s", filename)
		}
	}
	sol := CreateSolutionInstance(nil, nil, nil)
	if err := json.Unmarshal(dict, sol); err != nil {
		return nil, errors.Wrapf(err, "parse solution %s", filename)
	}
	if sol.Metrics == nil {
		sol.Metrics = make(map[string]any)
	}
	return sol, nil
}

// ReconfigurationDiff compares the trunk counts of two solutions per ordered router pair
type ReconfigurationDiff struct {
	Increased  []LinkKey
	Decreased  []LinkKey
	TrunkDelta float64
}

// Changed is the number of pairs whose trunk count differs
func (rd *ReconfigurationDiff) Changed() int {
	return len(rd.Increased) + len(rd.Decreased)
}

// CompareSolutions reports which router pairs change trunk count from before to after
func CompareSolutions(before, after *SolutionInstance) *ReconfigurationDiff {
	prior := before.TrunkMatrix()
	next := after.TrunkMatrix()
	keys := make(map[LinkKey]bool)
	for key := range prior {
		keys[key] = true
	}
	for key := range next {
		keys[key] = true
	}
	rd := &ReconfigurationDiff{Increased: []LinkKey{}, Decreased: []LinkKey{}}
	for _, key := range sortedLinkKeys(keys) {
		delta := next[key] - prior[key]
		switch {
		case delta > 1e-6:
			rd.Increased = append(rd.Increased, key)
		case delta < -1e-6:
			rd.Decreased = append(rd.Decreased, key)
		}
		rd.TrunkDelta += delta
	}
	return rd
}
