package xlayer

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoPeeringDemands has peering nodes at both ends of the line and users at B and C
func twoPeeringDemands(t *testing.T, topo *Topology, capA, capD float64) DemandSet {
	t.Helper()
	hg := CreateHypergiant("cdn")
	_, err := hg.AddPeeringNode("pA", mustIP(t, topo, "A"), capA)
	require.NoError(t, err)
	_, err = hg.AddPeeringNode("pD", mustIP(t, topo, "D"), capD)
	require.NoError(t, err)
	_, err = hg.AddEndUser("uB", mustIP(t, topo, "B"), 3)
	require.NoError(t, err)
	_, err = hg.AddEndUser("uC", mustIP(t, topo, "C"), 3)
	require.NoError(t, err)
	return DemandSet{hg}
}

func TestGreedyNearestPeering(t *testing.T) {
	topo := lineTopology(t, 4, 8, 2)
	input := CreateInputInstance(topo, twoPeeringDemands(t, topo, 10, 10), nil, nil)
	gc := CreateGreedyCDN(input, MIPConfig{})

	assignment, err := gc.Assign()
	require.NoError(t, err)
	assert.Equal(t, []PeeringShare{{Peering: "pA", Fraction: 1}}, assignment["cdn"]["uB"])
	assert.Equal(t, []PeeringShare{{Peering: "pD", Fraction: 1}}, assignment["cdn"]["uC"])

	require.NoError(t, gc.Run(context.Background()))
	assert.Equal(t, AlgorithmGreedy, gc.Name())
	sol, err := gc.Solution()
	require.NoError(t, err)
	require.False(t, sol.IsEmpty())
	checkPlan(t, input, sol)

	peering := make(map[string]string)
	for _, ua := range sol.CDNAssignment[0].Users {
		peering[ua.NodeID] = ua.Peering[0].Peering
	}
	assert.Equal(t, map[string]string{"uB": "pA", "uC": "pD"}, peering)
	objective, _ := sol.Metric(MetricObjective)
	assert.InDelta(t, 8.0, objective, 1e-6)
	assert.InDelta(t, 2.0, trunksOf(sol, "A", "B"), 1e-9)
	assert.InDelta(t, 2.0, trunksOf(sol, "D", "C"), 1e-9)
}

func TestGreedyPeeringCapacity(t *testing.T) {
	topo := lineTopology(t, 4, 8, 2)
	ds := twoPeeringDemands(t, topo, 4, 10)
	_, err := ds[0].AddEndUser("uB2", mustIP(t, topo, "B"), 2)
	require.NoError(t, err)
	gc := CreateGreedyCDN(CreateInputInstance(topo, ds, nil, nil), MIPConfig{})

	// uB is larger and is placed first, leaving no room at pA for uB2
	assignment, err := gc.Assign()
	require.NoError(t, err)
	assert.Equal(t, "pA", assignment["cdn"]["uB"][0].Peering)
	assert.Equal(t, "pD", assignment["cdn"]["uB2"][0].Peering)
}

func TestGreedyKeepsPins(t *testing.T) {
	topo := lineTopology(t, 4, 8, 2)
	fixed := CreateFixedLayers()
	fixed.PinUser("cdn", "uB", []PeeringShare{{Peering: "pD", Fraction: 1}})
	input := CreateInputInstance(topo, twoPeeringDemands(t, topo, 10, 5), nil, fixed)
	gc := CreateGreedyCDN(input, MIPConfig{})

	// uB uses 3 of the 5 units at pD, so uC goes to the farther pA
	assignment, err := gc.Assign()
	require.NoError(t, err)
	_, present := assignment["cdn"]["uB"]
	assert.False(t, present)
	assert.Equal(t, "pA", assignment["cdn"]["uC"][0].Peering)

	require.NoError(t, gc.Run(context.Background()))
	assert.Equal(t, []PeeringShare{{Peering: "pD", Fraction: 1}}, input.Fixed.CDNAssignment["cdn"]["uB"])
	assert.Equal(t, []PeeringShare{{Peering: "pA", Fraction: 1}}, input.Fixed.CDNAssignment["cdn"]["uC"])
}

func TestGreedyUnassignable(t *testing.T) {
	t.Run("peering capacity", func(t *testing.T) {
		topo := lineTopology(t, 4, 8, 2)
		input := CreateInputInstance(topo, lineDemands(t, topo, 2), nil, nil)
		gc := CreateGreedyCDN(input, MIPConfig{})

		err := gc.Run(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnassignableDemand))
		var ude *UnassignableDemandError
		require.ErrorAs(t, err, &ude)
		assert.Equal(t, "cdn", ude.CDN)
		assert.InDelta(t, 3.0, ude.Volume, 1e-12)

		_, err = gc.Solution()
		assert.True(t, errors.Is(err, ErrBadState), "no MIP was built")
	})

	t.Run("transceivers", func(t *testing.T) {
		// each user needs two trunks, the peering router may use half of its two transceivers
		topo := lineTopology(t, 4, 2, 2)
		_, err := CreateGreedyCDN(CreateInputInstance(topo, lineDemands(t, topo, 10), nil, nil), MIPConfig{}).Assign()
		assert.True(t, errors.Is(err, ErrUnassignableDemand))
	})
}
