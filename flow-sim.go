package xlayer

// flow-sim.go produces randomized variants of a demand set, used to study how sensitive a plan
// is to the traffic it was computed for.  Randomness comes from a named rngstream, so a variant
// can be reproduced.

import (
	"math"

	"github.com/iti/rngstream"
	"github.com/pkg/errors"
)

// PerturbConfig describes a randomized variant of the demands
type PerturbConfig struct {
	// Stream names the random number stream
	Stream string `json:"stream" yaml:"stream" validate:"required"`

	// Spread scales every volume by a factor drawn uniformly from [1-Spread, 1+Spread]
	Spread float64 `json:"spread" yaml:"spread" validate:"gte=0,lte=1"`

	// ShuffleUsers moves the volumes of a CDN's users to a random permutation of their routers
	ShuffleUsers bool `json:"shuffle_users,omitempty" yaml:"shuffle_users,omitempty"`

	// MinVolume drops users and background demands whose perturbed volume falls below it
	MinVolume float64 `json:"min_volume,omitempty" yaml:"min_volume,omitempty" validate:"gte=0"`
}

// PerturbDemands returns perturbed copies of ds and dm; the inputs are left unchanged
func PerturbDemands(ds DemandSet, dm DemandMatrix, cfg PerturbConfig) (DemandSet, DemandMatrix, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, nil, errors.Wrap(err, "demand perturbation")
	}
	rng := rngstream.New(cfg.Stream)

	rtnDS := make(DemandSet, 0, len(ds))
	for _, hg := range ds {
		copyHG := CreateHypergiant(hg.Name)
		for key, val := range hg.Parameter {
			copyHG.Parameter[key] = val
		}
		for _, pn := range hg.Peering {
			if _, err := copyHG.AddPeeringNode(pn.ID, pn.IP, pn.Capacity); err != nil {
				return nil, nil, err
			}
		}

		sites := make([]*IPNode, len(hg.Users))
		for idx, un := range hg.Users {
			sites[idx] = un.IP
		}
		if cfg.ShuffleUsers {
			shuffle(rng, sites)
		}
		for idx, un := range hg.Users {
			volume := scaleVolume(rng, un.Volume, cfg.Spread)
			if volume < cfg.MinVolume {
				continue
			}
			if _, err := copyHG.AddEndUser(un.ID, sites[idx], volume, un.PrePeering...); err != nil {
				return nil, nil, err
			}
		}
		rtnDS = append(rtnDS, copyHG)
	}

	rtnDM := CreateDemandMatrix()
	for _, e2e := range dm.Demands() {
		volume := scaleVolume(rng, e2e.Volume, cfg.Spread)
		if volume < cfg.MinVolume {
			continue
		}
		rtnDM.Add(&EndToEndDemand{Src: e2e.Src, Dst: e2e.Dst, Volume: volume, Groups: e2e.Groups})
	}
	return rtnDS, rtnDM, nil
}

// scaleVolume multiplies volume by a factor drawn from [1-spread, 1+spread]
func scaleVolume(rng *rngstream.RngStream, volume, spread float64) float64 {
	if spread == 0 {
		return volume
	}
	factor := 1.0 + spread*(2.0*rng.RandU01()-1.0)
	return roundFloat(volume*factor, 6)
}

// shuffle permutes sites in place (Fisher-Yates)
func shuffle(rng *rngstream.RngStream, sites []*IPNode) {
	for idx := len(sites) - 1; idx > 0; idx-- {
		jdx := rng.RandInt(0, idx)
		sites[idx], sites[jdx] = sites[jdx], sites[idx]
	}
}

// roundFloat rounds num to prec decimal places
func roundFloat(num float64, prec int) float64 {
	ratio := math.Pow(10, float64(prec))
	return math.Round(num*ratio) / ratio
}
