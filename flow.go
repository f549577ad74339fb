package xlayer

// flow.go holds background traffic: end-to-end demands between pairs of routers, collected
// into a demand matrix.  Unlike CDN traffic a background demand may be split over several
// routes.

import (
	"golang.org/x/exp/slices"
)

// DemandKey identifies a background demand by its end routers
type DemandKey struct {
	Src, Dst string
}

// EndToEndDemand is a volume of traffic from Src to Dst.  Groups are free-form labels
// used to select demands, e.g. for scaling.
type EndToEndDemand struct {
	Src, Dst *IPNode
	Volume   float64
	Groups   []string
}

// Key returns the DemandKey of the demand
func (e2e *EndToEndDemand) Key() DemandKey {
	return DemandKey{Src: e2e.Src.ID, Dst: e2e.Dst.ID}
}

// matchParam reports whether the demand carries attribute attrbName with value attrbValue
func (e2e *EndToEndDemand) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "group":
		return slices.Contains(e2e.Groups, attrbValue)
	case "srcdev":
		return e2e.Src.ID == attrbValue
	case "dstdev":
		return e2e.Dst.ID == attrbValue
	case "*":
		return true
	}
	return false
}

// DemandMatrix maps router pairs to background demands
type DemandMatrix map[DemandKey]*EndToEndDemand

// CreateDemandMatrix is a constructor
func CreateDemandMatrix() DemandMatrix {
	return make(DemandMatrix)
}

// Add inserts a demand.  Demands for a pair already present are merged by adding volumes.
func (dm DemandMatrix) Add(e2e *EndToEndDemand) {
	key := e2e.Key()
	prior, present := dm[key]
	if !present {
		dm[key] = &EndToEndDemand{Src: e2e.Src, Dst: e2e.Dst, Volume: e2e.Volume, Groups: slices.Clone(e2e.Groups)}
		return
	}
	prior.Volume += e2e.Volume
	for _, group := range e2e.Groups {
		if !slices.Contains(prior.Groups, group) {
			prior.Groups = append(prior.Groups, group)
		}
	}
}

// Merge adds every demand of other into dm
func (dm DemandMatrix) Merge(other DemandMatrix) {
	for _, key := range other.Keys() {
		dm.Add(other[key])
	}
}

// Keys returns the demand keys in sorted order
func (dm DemandMatrix) Keys() []DemandKey {
	keys := make([]DemandKey, 0, len(dm))
	for key := range dm {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b DemandKey) int {
		if a.Src != b.Src {
			if a.Src < b.Src {
				return -1
			}
			return 1
		}
		if a.Dst < b.Dst {
			return -1
		}
		if a.Dst > b.Dst {
			return 1
		}
		return 0
	})
	return keys
}

// Demands returns the demands ordered by key
func (dm DemandMatrix) Demands() []*EndToEndDemand {
	rtn := make([]*EndToEndDemand, 0, len(dm))
	for _, key := range dm.Keys() {
		rtn = append(rtn, dm[key])
	}
	return rtn
}

// Select returns the demands, ordered by key, that carry attribute attrbName with value
// attrbValue.  Attributes are "group", "srcdev", "dstdev", and "*" which matches everything.
func (dm DemandMatrix) Select(attrbName, attrbValue string) []*EndToEndDemand {
	rtn := make([]*EndToEndDemand, 0)
	for _, e2e := range dm.Demands() {
		if e2e.matchParam(attrbName, attrbValue) {
			rtn = append(rtn, e2e)
		}
	}
	return rtn
}

// TotalVolume sums all demand volumes
func (dm DemandMatrix) TotalVolume() float64 {
	total := 0.0
	for _, e2e := range dm {
		total += e2e.Volume
	}
	return total
}

// Clone returns a deep copy
func (dm DemandMatrix) Clone() DemandMatrix {
	rtn := CreateDemandMatrix()
	rtn.Merge(dm)
	return rtn
}
