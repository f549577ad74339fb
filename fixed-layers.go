package xlayer

// fixed-layers.go derives FixedLayers from an earlier plan, either in memory or from the
// plan's json file.

import (
	"golang.org/x/exp/slices"
)

// FixedLayersConfig selects what of an earlier plan constrains a new one.  It is part of the
// scenario record, so a later run can find out which plan its own was derived from.
type FixedLayersConfig struct {
	// SolutionFile holds the earlier plan, as written by SolutionInstance.WriteToFile
	SolutionFile string `json:"path_to_solution_file,omitempty" yaml:"path_to_solution_file,omitempty"`

	// IPLinks keeps the trunks of the earlier plan, as a lower bound unless Strict
	IPLinks bool `json:"fix_ip_links" yaml:"fix_ip_links"`

	// IPConnectivity keeps which router pairs are linked; ignored when IPLinks is set
	IPConnectivity bool `json:"fix_ip_connectivity" yaml:"fix_ip_connectivity"`

	// CDNAssignment keeps the peering node of every user
	CDNAssignment bool `json:"fix_cdn_assignment" yaml:"fix_cdn_assignment"`

	// Strict pins the trunks exactly, and forbids every other link
	Strict bool `json:"strict" yaml:"strict"`

	// ReconfFraction turns the IP link layer into a baseline from which at most this fraction of
	// the router pairs may change.  With ReconfWithPath a move between candidate paths counts too.
	ReconfFraction *float64 `json:"reconf_fraction_ip,omitempty" yaml:"reconf_fraction_ip,omitempty" validate:"omitempty,gte=0,lte=1"`
	ReconfWithPath bool     `json:"reconf_with_opt_path,omitempty" yaml:"reconf_with_opt_path,omitempty"`
}

// Produce reads the configured solution file and derives the fixed layers from it
func (fc *FixedLayersConfig) Produce() (*FixedLayers, error) {
	if fc == nil {
		return nil, nil
	}
	sol, err := ReadSolution(fc.SolutionFile, nil)
	if err != nil {
		return nil, err
	}
	return FixedLayersFromSolution(sol, *fc)
}

// FixedLayersFromSolution derives the fixed layers cfg asks for from sol
func FixedLayersFromSolution(sol *SolutionInstance, cfg FixedLayersConfig) (*FixedLayers, error) {
	fl := CreateFixedLayers()
	switch {
	case cfg.IPLinks && cfg.ReconfFraction != nil:
		fl.IPLinks = ipLinkPins(sol)
		frac := *cfg.ReconfFraction
		if cfg.ReconfWithPath {
			fl.ReconfFractionIPWithOpt = &frac
		} else {
			fl.ReconfFractionIP = &frac
		}
	case cfg.IPLinks && cfg.Strict:
		fl.FullIPLinks = make(map[string]float64)
		for _, ipl := range sol.IPLinks {
			fl.FullIPLinks[LinkName(ipl.Node1, ipl.Node2)] = ipl.NumTrunks
		}
	case cfg.IPLinks:
		fl.IPLinks = ipLinkPins(sol)
	case cfg.IPConnectivity:
		fl.IPConnectivity = make([]string, 0, len(sol.IPLinks))
		for _, ipl := range sol.IPLinks {
			fl.IPConnectivity = append(fl.IPConnectivity, LinkName(ipl.Node1, ipl.Node2))
		}
	}
	if cfg.CDNAssignment {
		for _, assign := range sol.CDNAssignment {
			for _, ua := range assign.Users {
				fl.PinUser(assign.Name, ua.NodeID, slices.Clone(ua.Peering))
			}
		}
	}
	if _, err := fl.Validate(); err != nil {
		return nil, err
	}
	return fl, nil
}

// ipLinkPins turns the links of sol into pins carrying the per-path trunk counts
func ipLinkPins(sol *SolutionInstance) map[string]IPLinkPin {
	rtn := make(map[string]IPLinkPin)
	for _, ipl := range sol.IPLinks {
		perPath := ipl.PathTrunks()
		width := 0
		for idx := range perPath {
			width = max(width, idx+1)
		}
		pin := IPLinkPin{NumTrunks: ipl.NumTrunks, PathTrunks: make([]float64, width)}
		for idx, trunks := range perPath {
			pin.PathTrunks[idx] = trunks
		}
		rtn[LinkName(ipl.Node1, ipl.Node2)] = pin
	}
	return rtn
}
