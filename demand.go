package xlayer

// demand.go describes content-delivery traffic: each CDN (hypergiant) owns peering points where
// its traffic enters the network and end-user populations that consume it.  Every end user
// receives its whole volume from exactly one peering point.

import (
	"github.com/pkg/errors"
)

// PeeringNode is where a CDN hands traffic to the network.  Capacity bounds the total volume
// assigned to it.
type PeeringNode struct {
	ID       string
	IP       *IPNode
	Capacity float64
}

// PeeringShare is a fraction of a user's volume served by a named peering node
type PeeringShare struct {
	Peering  string  `json:"peering" yaml:"peering"`
	Fraction float64 `json:"fraction" yaml:"fraction"`
}

// EndUserNode is a population of users attached to one router
type EndUserNode struct {
	ID     string
	IP     *IPNode
	Volume float64

	// PrePeering optionally pins the user to peering nodes
	PrePeering []PeeringShare
}

// Hypergiant is one CDN
type Hypergiant struct {
	Name      string
	Peering   []*PeeringNode
	Users     []*EndUserNode
	Parameter map[string]float64

	peeringByID map[string]*PeeringNode
	userByID    map[string]*EndUserNode
}

// CreateHypergiant is a constructor
func CreateHypergiant(name string) *Hypergiant {
	hg := new(Hypergiant)
	hg.Name = name
	hg.Peering = make([]*PeeringNode, 0)
	hg.Users = make([]*EndUserNode, 0)
	hg.Parameter = make(map[string]float64)
	hg.peeringByID = make(map[string]*PeeringNode)
	hg.userByID = make(map[string]*EndUserNode)
	return hg
}

// AddPeeringNode attaches a peering node to router ipn
func (hg *Hypergiant) AddPeeringNode(id string, ipn *IPNode, capacity float64) (*PeeringNode, error) {
	_, present := hg.peeringByID[id]
	if present {
		return nil, errors.Wrapf(ErrDuplicateNode, "peering node %s of %s", id, hg.Name)
	}
	if capacity < 0 {
		return nil, errors.Errorf("peering node %s of %s has negative capacity", id, hg.Name)
	}
	pn := &PeeringNode{ID: id, IP: ipn, Capacity: capacity}
	hg.Peering = append(hg.Peering, pn)
	hg.peeringByID[id] = pn
	return pn, nil
}

// AddEndUser attaches an end-user population to router ipn
func (hg *Hypergiant) AddEndUser(id string, ipn *IPNode, volume float64, prePeering ...PeeringShare) (*EndUserNode, error) {
	_, present := hg.userByID[id]
	if present {
		return nil, errors.Wrapf(ErrDuplicateNode, "end user %s of %s", id, hg.Name)
	}
	if volume < 0 {
		return nil, errors.Errorf("end user %s of %s has negative volume", id, hg.Name)
	}
	for _, share := range prePeering {
		if _, present := hg.peeringByID[share.Peering]; !present {
			return nil, errors.Wrapf(ErrNodeNotFound, "peering node %s pinned by user %s of %s", share.Peering, id, hg.Name)
		}
	}
	un := &EndUserNode{ID: id, IP: ipn, Volume: volume, PrePeering: prePeering}
	hg.Users = append(hg.Users, un)
	hg.userByID[id] = un
	return un, nil
}

// PeeringNode looks up a peering node by id
func (hg *Hypergiant) PeeringNode(id string) (*PeeringNode, error) {
	pn, present := hg.peeringByID[id]
	if !present {
		return nil, errors.Wrapf(ErrNodeNotFound, "peering node %s of %s", id, hg.Name)
	}
	return pn, nil
}

// EndUser looks up an end user by id
func (hg *Hypergiant) EndUser(id string) (*EndUserNode, error) {
	un, present := hg.userByID[id]
	if !present {
		return nil, errors.Wrapf(ErrNodeNotFound, "end user %s of %s", id, hg.Name)
	}
	return un, nil
}

// TotalVolume sums the volume of all end users
func (hg *Hypergiant) TotalVolume() float64 {
	total := 0.0
	for _, un := range hg.Users {
		total += un.Volume
	}
	return total
}

// peersAt reports whether one of the CDN's peering nodes is attached to ipn
func (hg *Hypergiant) peersAt(ipn *IPNode) bool {
	for _, pn := range hg.Peering {
		if pn.IP == ipn {
			return true
		}
	}
	return false
}

// DemandSet is the collection of CDNs
type DemandSet []*Hypergiant

// Hypergiant looks up a CDN by name
func (ds DemandSet) Hypergiant(name string) (*Hypergiant, error) {
	for _, hg := range ds {
		if hg.Name == name {
			return hg, nil
		}
	}
	return nil, errors.Wrapf(ErrNodeNotFound, "CDN %s", name)
}
