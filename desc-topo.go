package xlayer

// desc-topo.go holds the serializable descriptions of topologies and demands.  A description is
// written to and read from json or yaml files, selected by the file extension, and built into
// the Topology, DemandSet and DemandMatrix the planning algorithms consume.

import (
	"encoding/json"
	"os"
	"path"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FiberDesc describes a fiber between two optical nodes.  Both directions are created with
// the same capacity and weight unless OneWay is set.
type FiberDesc struct {
	From string `json:"from" yaml:"from" validate:"required"`
	To   string `json:"to" yaml:"to" validate:"required,nefield=From"`

	// Capacity in lightpaths, the topology's FiberCapacity when nil
	Capacity *int `json:"capacity,omitempty" yaml:"capacity,omitempty" validate:"omitempty,gte=0"`

	// Weight used in shortest path computations, 1 when zero
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty" validate:"gte=0"`

	OneWay bool `json:"oneway,omitempty" yaml:"oneway,omitempty"`
}

// IPNodeDesc describes a router
type IPNodeDesc struct {
	ID      string `json:"id" yaml:"id" validate:"required"`
	Optical string `json:"optical" yaml:"optical" validate:"required"`

	// Transceivers of the router, the topology's Transceivers when nil
	Transceivers *int `json:"transceivers,omitempty" yaml:"transceivers,omitempty" validate:"omitempty,gte=0"`

	PeeringHub bool `json:"peeringhub,omitempty" yaml:"peeringhub,omitempty"`
}

// TopologyDesc describes a two-layer topology
type TopologyDesc struct {
	Name string `json:"name" yaml:"name" validate:"required"`

	// defaults applied to fibers and routers that do not state their own
	FiberCapacity int `json:"fibercapacity" yaml:"fibercapacity" validate:"gte=0"`
	Transceivers  int `json:"transceivers" yaml:"transceivers" validate:"gte=0"`

	OpticalNodes []string     `json:"opticalnodes" yaml:"opticalnodes" validate:"dive,required"`
	Fibers       []FiberDesc  `json:"fibers" yaml:"fibers" validate:"dive"`
	IPNodes      []IPNodeDesc `json:"ipnodes" yaml:"ipnodes" validate:"dive"`

	// FailedLinks names fibers, by LinkName in either orientation, whose capacity drops to 0.
	// The fibers stay in the routing graph so candidate paths match those of the intact network.
	FailedLinks []string `json:"failedlinks,omitempty" yaml:"failedlinks,omitempty"`

	Parameter map[string]float64 `json:"parameter" yaml:"parameter"`
}

// CreateTopologyDesc is a constructor
func CreateTopologyDesc(name string, fiberCapacity, transceivers int) *TopologyDesc {
	td := new(TopologyDesc)
	td.Name = name
	td.FiberCapacity = fiberCapacity
	td.Transceivers = transceivers
	td.OpticalNodes = make([]string, 0)
	td.Fibers = make([]FiberDesc, 0)
	td.IPNodes = make([]IPNodeDesc, 0)
	td.FailedLinks = make([]string, 0)
	td.Parameter = make(map[string]float64)
	return td
}

// AddOpticalNode appends an optical node
func (td *TopologyDesc) AddOpticalNode(id string) {
	td.OpticalNodes = append(td.OpticalNodes, id)
}

// AddFiber appends a bidirectional fiber with the default capacity
func (td *TopologyDesc) AddFiber(from, to string, weight float64) {
	td.Fibers = append(td.Fibers, FiberDesc{From: from, To: to, Weight: weight})
}

// AddIPNode appends a router with the default transceiver count
func (td *TopologyDesc) AddIPNode(id, optical string, peeringHub bool) {
	td.IPNodes = append(td.IPNodes, IPNodeDesc{ID: id, Optical: optical, PeeringHub: peeringHub})
}

// FailLink marks the fiber between a and b as failed
func (td *TopologyDesc) FailLink(a, b string) {
	td.FailedLinks = append(td.FailedLinks, LinkName(a, b))
}

// Build creates the Topology described
func (td *TopologyDesc) Build() (*Topology, error) {
	if err := validate.Struct(td); err != nil {
		return nil, errors.Wrapf(err, "topology description %s", td.Name)
	}
	failed := make(map[LinkKey]bool)
	for _, name := range td.FailedLinks {
		key, err := ParseLinkName(name)
		if err != nil {
			return nil, err
		}
		failed[key] = true
		failed[LinkKey{From: key.To, To: key.From}] = true
	}

	topo := CreateTopology(td.Name, td.Parameter)
	for _, id := range td.OpticalNodes {
		if _, err := topo.AddOpticalNode(id); err != nil {
			return nil, err
		}
	}
	matched := make(map[LinkKey]bool)
	for _, fd := range td.Fibers {
		capacity := td.FiberCapacity
		if fd.Capacity != nil {
			capacity = *fd.Capacity
		}
		key := LinkKey{From: fd.From, To: fd.To}
		if failed[key] {
			capacity = 0
			matched[key] = true
			matched[LinkKey{From: fd.To, To: fd.From}] = true
		}
		weight := fd.Weight
		if weight == 0 {
			weight = 1.0
		}
		var err error
		if fd.OneWay {
			_, err = topo.AddOpticalLink(fd.From, fd.To, capacity, weight)
		} else {
			err = topo.AddFiber(fd.From, fd.To, capacity, weight)
		}
		if err != nil {
			return nil, err
		}
	}
	for key := range failed {
		if !matched[key] {
			return nil, errors.Wrapf(ErrNodeNotFound, "failed fiber %s", key)
		}
	}
	for _, ipd := range td.IPNodes {
		transceivers := td.Transceivers
		if ipd.Transceivers != nil {
			transceivers = *ipd.Transceivers
		}
		if _, err := topo.AddIPNode(ipd.ID, ipd.Optical, transceivers, ipd.PeeringHub); err != nil {
			return nil, err
		}
	}
	return topo, nil
}

// WriteToFile stores the description in the named file, as yaml or json depending on its extension
func (td *TopologyDesc) WriteToFile(filename string) error {
	return writeDesc(filename, td)
}

// ReadTopologyDesc deserializes a topology description.  If dict is empty the named file is read.
func ReadTopologyDesc(filename string, useYAML bool, dict []byte) (*TopologyDesc, error) {
	td := CreateTopologyDesc("", 0, 0)
	if err := readDesc(filename, useYAML, dict, td); err != nil {
		return nil, err
	}
	return td, nil
}

// PeeringDesc describes a peering node of a CDN
type PeeringDesc struct {
	ID       string  `json:"id" yaml:"id" validate:"required"`
	IPNode   string  `json:"ipnode" yaml:"ipnode" validate:"required"`
	Capacity float64 `json:"capacity" yaml:"capacity" validate:"gte=0"`
}

// EndUserDesc describes an end-user population of a CDN
type EndUserDesc struct {
	ID         string         `json:"id" yaml:"id" validate:"required"`
	IPNode     string         `json:"ipnode" yaml:"ipnode" validate:"required"`
	Volume     float64        `json:"volume" yaml:"volume" validate:"gte=0"`
	PrePeering []PeeringShare `json:"prepeering,omitempty" yaml:"prepeering,omitempty"`
}

// CDNDesc describes one CDN
type CDNDesc struct {
	Name      string             `json:"name" yaml:"name" validate:"required"`
	Peering   []PeeringDesc      `json:"peering" yaml:"peering" validate:"dive"`
	Users     []EndUserDesc      `json:"users" yaml:"users" validate:"dive"`
	Parameter map[string]float64 `json:"parameter,omitempty" yaml:"parameter,omitempty"`
}

// BackgroundDesc describes a background demand
type BackgroundDesc struct {
	Src    string   `json:"src" yaml:"src" validate:"required"`
	Dst    string   `json:"dst" yaml:"dst" validate:"required"`
	Volume float64  `json:"volume" yaml:"volume" validate:"gte=0"`
	Groups []string `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// DemandDesc describes the CDN demand set and the background demand matrix
type DemandDesc struct {
	Name       string           `json:"name" yaml:"name"`
	CDNs       []CDNDesc        `json:"cdns" yaml:"cdns" validate:"dive"`
	Background []BackgroundDesc `json:"background" yaml:"background" validate:"dive"`
}

// CreateDemandDesc is a constructor
func CreateDemandDesc(name string) *DemandDesc {
	return &DemandDesc{Name: name, CDNs: make([]CDNDesc, 0), Background: make([]BackgroundDesc, 0)}
}

// Build creates the demands described on the routers of topo.  Background demands for the
// same router pair are merged.
func (dd *DemandDesc) Build(topo *Topology) (DemandSet, DemandMatrix, error) {
	if err := validate.Struct(dd); err != nil {
		return nil, nil, errors.Wrapf(err, "demand description %s", dd.Name)
	}
	ds := make(DemandSet, 0, len(dd.CDNs))
	for _, cd := range dd.CDNs {
		if _, err := ds.Hypergiant(cd.Name); err == nil {
			return nil, nil, errors.Wrapf(ErrDuplicateNode, "CDN %s", cd.Name)
		}
		hg := CreateHypergiant(cd.Name)
		for key, val := range cd.Parameter {
			hg.Parameter[key] = val
		}
		for _, pd := range cd.Peering {
			ipn, err := topo.IPNode(pd.IPNode)
			if err != nil {
				return nil, nil, err
			}
			if _, err := hg.AddPeeringNode(pd.ID, ipn, pd.Capacity); err != nil {
				return nil, nil, err
			}
		}
		for _, ud := range cd.Users {
			ipn, err := topo.IPNode(ud.IPNode)
			if err != nil {
				return nil, nil, err
			}
			if _, err := hg.AddEndUser(ud.ID, ipn, ud.Volume, ud.PrePeering...); err != nil {
				return nil, nil, err
			}
		}
		ds = append(ds, hg)
	}

	dm := CreateDemandMatrix()
	for _, bd := range dd.Background {
		src, err := topo.IPNode(bd.Src)
		if err != nil {
			return nil, nil, err
		}
		dst, err := topo.IPNode(bd.Dst)
		if err != nil {
			return nil, nil, err
		}
		dm.Add(&EndToEndDemand{Src: src, Dst: dst, Volume: bd.Volume, Groups: bd.Groups})
	}
	return ds, dm, nil
}

// DescribeDemands builds the description of a demand set and a background matrix
func DescribeDemands(name string, ds DemandSet, dm DemandMatrix) *DemandDesc {
	dd := CreateDemandDesc(name)
	for _, hg := range ds {
		cd := CDNDesc{Name: hg.Name, Peering: make([]PeeringDesc, 0, len(hg.Peering)), Users: make([]EndUserDesc, 0, len(hg.Users))}
		if len(hg.Parameter) > 0 {
			cd.Parameter = hg.Parameter
		}
		for _, pn := range hg.Peering {
			cd.Peering = append(cd.Peering, PeeringDesc{ID: pn.ID, IPNode: pn.IP.ID, Capacity: pn.Capacity})
		}
		for _, un := range hg.Users {
			cd.Users = append(cd.Users, EndUserDesc{ID: un.ID, IPNode: un.IP.ID, Volume: un.Volume, PrePeering: un.PrePeering})
		}
		dd.CDNs = append(dd.CDNs, cd)
	}
	for _, e2e := range dm.Demands() {
		dd.Background = append(dd.Background, BackgroundDesc{Src: e2e.Src.ID, Dst: e2e.Dst.ID, Volume: e2e.Volume, Groups: e2e.Groups})
	}
	return dd
}

// WriteToFile stores the description in the named file, as yaml or json depending on its extension
func (dd *DemandDesc) WriteToFile(filename string) error {
	return writeDesc(filename, dd)
}

// ReadDemandDesc deserializes a demand description.  If dict is empty the named file is read.
func ReadDemandDesc(filename string, useYAML bool, dict []byte) (*DemandDesc, error) {
	dd := CreateDemandDesc("")
	if err := readDesc(filename, useYAML, dict, dd); err != nil {
		return nil, err
	}
	return dd, nil
}

// isYAML tells from the file extension whether a description is serialized as yaml
func isYAML(filename string) bool {
	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		return true
	}
	return false
}

func writeDesc(filename string, desc any) error {
	var bytes []byte
	var merr error
	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(desc)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(desc, "", "\t")
	default:
		return errors.Errorf("description file %s needs a yaml or json extension", filename)
	}
	if merr != nil {
		return errors.Wrapf(merr, "serialize %s", filename)
	}
	return errors.Wrapf(os.WriteFile(filename, bytes, 0o644), "write %s", filename)
}

func readDesc(filename string, useYAML bool, dict []byte, desc any) error {
	// read from the file only if the byte slice is empty
	if len(dict) == 0 {
		fileInfo, err := os.Stat(filename)
		if err != nil || fileInfo.IsDir() {
			return errors.Errorf("description %s does not exist or cannot be read", filename)
		}
		dict, err = os.ReadFile(filename)
		if err != nil {
			return errors.Wrapf(err, "read %s", filename)
		}
	}
	var err error
	if useYAML {
		err = yaml.Unmarshal(dict, desc)
	} else {
		err = json.Unmarshal(dict, desc)
	}
	return errors.Wrapf(err, "parse %s", filename)
}
