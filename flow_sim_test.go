package xlayer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleDemands puts a CDN user on every router of the line and two background demands
func sampleDemands(t *testing.T, topo *Topology) (DemandSet, DemandMatrix) {
	t.Helper()
	hg := CreateHypergiant("cdn")
	_, err := hg.AddPeeringNode("pD", mustIP(t, topo, "D"), 20)
	require.NoError(t, err)
	for idx, id := range []string{"A", "B", "C", "D"} {
		_, err := hg.AddEndUser("u"+id, mustIP(t, topo, id), float64(idx+1))
		require.NoError(t, err)
	}
	dm := CreateDemandMatrix()
	dm.Add(&EndToEndDemand{Src: mustIP(t, topo, "A"), Dst: mustIP(t, topo, "C"), Volume: 2, Groups: []string{"bulk"}})
	dm.Add(&EndToEndDemand{Src: mustIP(t, topo, "B"), Dst: mustIP(t, topo, "D"), Volume: 0.5})
	return DemandSet{hg}, dm
}

func TestPerturbNoSpread(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	ds, dm := sampleDemands(t, topo)

	pds, pdm, err := PerturbDemands(ds, dm, PerturbConfig{Stream: "same"})
	require.NoError(t, err)
	require.Len(t, pds, 1)
	require.Len(t, pds[0].Users, 4)
	for idx, un := range pds[0].Users {
		assert.Equal(t, ds[0].Users[idx].ID, un.ID)
		assert.Same(t, ds[0].Users[idx].IP, un.IP)
		assert.InDelta(t, ds[0].Users[idx].Volume, un.Volume, 1e-12)
	}
	pn, err := pds[0].PeeringNode("pD")
	require.NoError(t, err)
	assert.InDelta(t, 20.0, pn.Capacity, 1e-12)
	assert.InDelta(t, dm.TotalVolume(), pdm.TotalVolume(), 1e-12)
	assert.Equal(t, []string{"bulk"}, pdm[DemandKey{Src: "A", Dst: "C"}].Groups)
}

func TestPerturbSpread(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	ds, dm := sampleDemands(t, topo)
	cfg := PerturbConfig{Stream: "spread", Spread: 0.2}

	pds, pdm, err := PerturbDemands(ds, dm, cfg)
	require.NoError(t, err)
	for idx, un := range pds[0].Users {
		orig := ds[0].Users[idx].Volume
		assert.GreaterOrEqual(t, un.Volume, orig*0.8-1e-6)
		assert.LessOrEqual(t, un.Volume, orig*1.2+1e-6)
	}
	for key, e2e := range pdm {
		assert.GreaterOrEqual(t, e2e.Volume, dm[key].Volume*0.8-1e-6)
		assert.LessOrEqual(t, e2e.Volume, dm[key].Volume*1.2+1e-6)
	}

	// the inputs are left alone
	assert.InDelta(t, 10.0, ds[0].TotalVolume(), 1e-12)
	assert.InDelta(t, 2.5, dm.TotalVolume(), 1e-12)
}

func TestPerturbShuffle(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	ds, dm := sampleDemands(t, topo)

	pds, _, err := PerturbDemands(ds, dm, PerturbConfig{Stream: "shuffle", ShuffleUsers: true})
	require.NoError(t, err)
	before := make([]string, 0)
	after := make([]string, 0)
	for idx, un := range pds[0].Users {
		before = append(before, ds[0].Users[idx].IP.ID)
		after = append(after, un.IP.ID)
		assert.InDelta(t, ds[0].Users[idx].Volume, un.Volume, 1e-12, "volumes stay with the user")
	}
	assert.ElementsMatch(t, before, after)
}

func TestPerturbMinVolume(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	ds, dm := sampleDemands(t, topo)

	pds, pdm, err := PerturbDemands(ds, dm, PerturbConfig{Stream: "drop", MinVolume: 1.5})
	require.NoError(t, err)
	assert.Len(t, pds[0].Users, 3)
	_, err = pds[0].EndUser("uA")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.Len(t, pdm, 1)

	_, _, err = PerturbDemands(ds, dm, PerturbConfig{Stream: "bad", Spread: 2})
	assert.Error(t, err)
	_, _, err = PerturbDemands(ds, dm, PerturbConfig{})
	assert.Error(t, err, "a stream name is required")
}
