package xlayer

// input.go bundles what a planning run consumes: the topology, the CDN demand set, the
// background demand matrix, and the layers fixed by an earlier plan.

import (
	"github.com/pkg/errors"
)

// keys of the serialized fixed-layer record
const (
	KeyCDNAssignmentLayer   = "cdn_assignment_layer"
	KeyIPLinkLayer          = "ip_link_layer"
	KeyIPLinkLayerFull      = "ip_link_layer_full"
	KeyIPConnectivity       = "ip_connectivity"
	KeyReconfFractionIP     = "reconf_fraction_ip"
	KeyReconfFractionIPWOpt = "reconf_fraction_ip_w_opt"
)

// ErrConflictingFixedLayers reports fixed layers that cannot be applied together
var ErrConflictingFixedLayers = errors.New("conflicting fixed layers")

// IPLinkPin is the trunk count of an ordered router pair in an earlier plan.  PathTrunks
// optionally splits it per candidate path index.
type IPLinkPin struct {
	NumTrunks  float64   `json:"num_trunks" yaml:"num_trunks"`
	PathTrunks []float64 `json:"path_trunks,omitempty" yaml:"path_trunks,omitempty"`
}

// FixedLayers lists the parts of an earlier plan that constrain a new one.  Router pairs are
// keyed by LinkName(e, f).
//
//   - CDNAssignment pins end users (by CDN, then user id) to peering nodes.
//   - IPLinks is a lower bound on the trunks per pair, or, when one of the reconfiguration
//     fractions is set, the baseline against which changes are counted.
//   - FullIPLinks pins the trunks per pair exactly; unlisted pairs get no trunks.
//   - IPConnectivity pins which pairs may have trunks, leaving the count free.
//   - ReconfFractionIP bounds the share of the N*N router pairs whose trunk count changes.
//   - ReconfFractionIPWithOpt bounds the share of pairs whose per-path trunks change.
type FixedLayers struct {
	CDNAssignment           map[string]map[string][]PeeringShare `json:"cdn_assignment_layer,omitempty" yaml:"cdn_assignment_layer,omitempty"`
	IPLinks                 map[string]IPLinkPin                 `json:"ip_link_layer,omitempty" yaml:"ip_link_layer,omitempty"`
	FullIPLinks             map[string]float64                   `json:"ip_link_layer_full,omitempty" yaml:"ip_link_layer_full,omitempty"`
	IPConnectivity          []string                             `json:"ip_connectivity,omitempty" yaml:"ip_connectivity,omitempty"`
	ReconfFractionIP        *float64                             `json:"reconf_fraction_ip,omitempty" yaml:"reconf_fraction_ip,omitempty"`
	ReconfFractionIPWithOpt *float64                             `json:"reconf_fraction_ip_w_opt,omitempty" yaml:"reconf_fraction_ip_w_opt,omitempty"`
}

// CreateFixedLayers is a constructor
func CreateFixedLayers() *FixedLayers {
	return new(FixedLayers)
}

// PinUser records that user of CDN cdn is served by the given peering shares.
// Existing pins of the user are kept.  The return is false when the user was already pinned.
func (fl *FixedLayers) PinUser(cdn, user string, shares []PeeringShare) bool {
	if fl.CDNAssignment == nil {
		fl.CDNAssignment = make(map[string]map[string][]PeeringShare)
	}
	users, present := fl.CDNAssignment[cdn]
	if !present {
		users = make(map[string][]PeeringShare)
		fl.CDNAssignment[cdn] = users
	}
	_, present = users[user]
	if present {
		return false
	}
	users[user] = shares
	return true
}

// IPLinkMode is the way a planning run treats FixedLayers.IPLinks
type IPLinkMode int

const (
	IPLinksFree IPLinkMode = iota
	IPLinksLowerBound
	IPLinksReconfCapacity
	IPLinksReconfPath
)

// Validate checks that the layers can be applied together, and returns how IPLinks is used
func (fl *FixedLayers) Validate() (IPLinkMode, error) {
	if fl == nil {
		return IPLinksFree, nil
	}
	for _, r := range []*float64{fl.ReconfFractionIP, fl.ReconfFractionIPWithOpt} {
		if r != nil && (*r < 0 || *r > 1) {
			return IPLinksFree, errors.Wrapf(ErrConflictingFixedLayers, "reconfiguration fraction %g outside [0, 1]", *r)
		}
	}
	if fl.ReconfFractionIP != nil && fl.ReconfFractionIPWithOpt != nil {
		return IPLinksFree, errors.Wrapf(ErrConflictingFixedLayers, "both %s and %s are set", KeyReconfFractionIP, KeyReconfFractionIPWOpt)
	}
	for name := range fl.FullIPLinks {
		if _, err := ParseLinkName(name); err != nil {
			return IPLinksFree, err
		}
	}
	for _, name := range fl.IPConnectivity {
		if _, err := ParseLinkName(name); err != nil {
			return IPLinksFree, err
		}
	}
	if fl.IPLinks == nil {
		if fl.ReconfFractionIP != nil || fl.ReconfFractionIPWithOpt != nil {
			return IPLinksFree, errors.Wrapf(ErrConflictingFixedLayers, "reconfiguration fraction without an %s baseline", KeyIPLinkLayer)
		}
		return IPLinksFree, nil
	}
	for name := range fl.IPLinks {
		if _, err := ParseLinkName(name); err != nil {
			return IPLinksFree, err
		}
	}
	switch {
	case fl.ReconfFractionIP != nil:
		return IPLinksReconfCapacity, nil
	case fl.ReconfFractionIPWithOpt != nil:
		return IPLinksReconfPath, nil
	}
	return IPLinksLowerBound, nil
}

// InputInstance is everything a planning run needs
type InputInstance struct {
	Topology   *Topology
	Demands    DemandSet
	Background DemandMatrix
	Fixed      *FixedLayers
}

// CreateInputInstance is a constructor.  Nil demands become empty ones.
func CreateInputInstance(topo *Topology, demands DemandSet, background DemandMatrix, fixed *FixedLayers) *InputInstance {
	if demands == nil {
		demands = DemandSet{}
	}
	if background == nil {
		background = CreateDemandMatrix()
	}
	return &InputInstance{Topology: topo, Demands: demands, Background: background, Fixed: fixed}
}
