package xlayer

// greedy.go assigns every CDN user to the closest peering node with room left, pins that
// assignment, and lets the path-based MIP size and route the IP layer around it.

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// AlgorithmGreedy names the greedy CDN assignment in configuration records
const AlgorithmGreedy = "greedy_cdn"

// ErrUnassignableDemand matches an *UnassignableDemandError
var ErrUnassignableDemand = errors.New("no feasible peering node")

// UnassignableDemandError reports a user that no peering node of its CDN can serve
type UnassignableDemandError struct {
	CDN    string
	User   string
	Volume float64
}

func (ude *UnassignableDemandError) Error() string {
	return fmt.Sprintf("user %s of %s with volume %g: %s", ude.User, ude.CDN, ude.Volume, ErrUnassignableDemand)
}

// Is lets errors.Is match ErrUnassignableDemand
func (ude *UnassignableDemandError) Is(target error) bool {
	return target == ErrUnassignableDemand
}

// GreedyCDN is the greedy CDN assignment followed by a path-based MIP
type GreedyCDN struct {
	input  *InputInstance
	cfg    MIPConfig
	opts   []MIPOption
	logger *zap.Logger

	mip *PathMIP
}

// CreateGreedyCDN is a constructor.  cfg and opts configure the MIP run after the assignment.
func CreateGreedyCDN(input *InputInstance, cfg MIPConfig, opts ...MIPOption) *GreedyCDN {
	scratch := mipBase{logger: zap.L()}
	for _, opt := range opts {
		opt(&scratch)
	}
	return &GreedyCDN{input: input, cfg: cfg, opts: opts, logger: scratch.logger.Named("greedy")}
}

func (gc *GreedyCDN) Name() string {
	return AlgorithmGreedy
}

// Assign computes the greedy assignment, CDN name -> user id -> peering share.  Users are taken
// in decreasing order of volume; each goes to the peering node at the shortest optical distance
// whose capacity, and whose router's transceivers, still accommodate it.  Users already pinned
// in the fixed layers keep their pin and use up capacity on the pinned nodes.
func (gc *GreedyCDN) Assign() (map[string]map[string][]PeeringShare, error) {
	topo := gc.input.Topology
	var pinned map[string]map[string][]PeeringShare
	if gc.input.Fixed != nil {
		pinned = gc.input.Fixed.CDNAssignment
	}
	rtn := make(map[string]map[string][]PeeringShare)
	for _, hg := range gc.input.Demands {
		assignment := make(map[string][]PeeringShare)
		rtn[hg.Name] = assignment
		allocated := make(map[string]float64)

		users := slices.Clone(hg.Users)
		slices.SortStableFunc(users, func(a, b *EndUserNode) int {
			switch {
			case a.Volume > b.Volume:
				return -1
			case a.Volume < b.Volume:
				return 1
			}
			return 0
		})

		free := make([]*EndUserNode, 0, len(users))
		for _, un := range users {
			shares, present := pinned[hg.Name][un.ID]
			if !present && len(un.PrePeering) > 0 {
				shares, present = un.PrePeering, true
			}
			if !present {
				free = append(free, un)
				continue
			}
			for _, share := range shares {
				allocated[share.Peering] += share.Fraction * un.Volume
			}
		}

		for _, un := range free {
			var best *PeeringNode
			bestLength := math.Inf(1)
			for _, pn := range hg.Peering {
				load := allocated[pn.ID] + un.Volume
				if load > pn.Capacity || topo.RequiredTrunks(load) > pn.IP.Transceivers/2 {
					continue
				}
				length := topo.PathLength(un.IP, pn.IP)
				if length < bestLength {
					best = pn
					bestLength = length
				}
			}
			if best == nil {
				return nil, &UnassignableDemandError{CDN: hg.Name, User: un.ID, Volume: un.Volume}
			}
			allocated[best.ID] += un.Volume
			assignment[un.ID] = []PeeringShare{{Peering: best.ID, Fraction: 1.0}}
			gc.logger.Debug("assigned user",
				zap.String("cdn", hg.Name), zap.String("user", un.ID), zap.String("peering", best.ID))
		}
	}
	return rtn, nil
}

// Run pins the greedy assignment into the input's fixed layers and solves the MIP
func (gc *GreedyCDN) Run(ctx context.Context) error {
	if gc.input.Topology.LightpathCapacity() <= 0 {
		return errors.Errorf("topology %s needs a positive %s", gc.input.Topology.Name, ParamLightpathCapacity)
	}
	assignment, err := gc.Assign()
	if err != nil {
		return err
	}
	if gc.input.Fixed == nil {
		gc.input.Fixed = CreateFixedLayers()
	}
	pins := 0
	for cdn, users := range assignment {
		for user, shares := range users {
			if gc.input.Fixed.PinUser(cdn, user, shares) {
				pins++
			}
		}
	}
	gc.logger.Info("greedy assignment pinned", zap.Int("users", pins))

	gc.mip = CreatePathMIP(gc.input, gc.cfg, gc.opts...)
	return gc.mip.Run(ctx)
}

// Solution returns the plan of the MIP run
func (gc *GreedyCDN) Solution() (*SolutionInstance, error) {
	if gc.mip == nil {
		return nil, errors.Wrap(ErrBadState, "greedy assignment has not run")
	}
	return gc.mip.Solution()
}
