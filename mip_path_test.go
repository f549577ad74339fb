package xlayer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineDemands is one CDN peering at D, with users of volume 3 at B and at C
func lineDemands(t *testing.T, topo *Topology, peeringCap float64) DemandSet {
	t.Helper()
	hg := CreateHypergiant("cdn")
	_, err := hg.AddPeeringNode("pD", mustIP(t, topo, "D"), peeringCap)
	require.NoError(t, err)
	_, err = hg.AddEndUser("uB", mustIP(t, topo, "B"), 3)
	require.NoError(t, err)
	_, err = hg.AddEndUser("uC", mustIP(t, topo, "C"), 3)
	require.NoError(t, err)
	return DemandSet{hg}
}

func solvePath(t *testing.T, input *InputInstance) (*PathMIP, *SolutionInstance) {
	t.Helper()
	pm := CreatePathMIP(input, MIPConfig{DebugDir: t.TempDir()})
	require.NoError(t, pm.Run(context.Background()))
	sol, err := pm.Solution()
	require.NoError(t, err)
	return pm, sol
}

func trunksOf(sol *SolutionInstance, from, to string) float64 {
	ipl, present := sol.IPLink(from, to)
	if !present {
		return 0
	}
	return ipl.NumTrunks
}

// checkPlan verifies the structural properties every extracted plan has
func checkPlan(t *testing.T, input *InputInstance, sol *SolutionInstance) {
	t.Helper()
	topo := input.Topology
	trunks := sol.TrunkMatrix()

	// symmetry
	for key, val := range trunks {
		assert.InDelta(t, val, trunks[LinkKey{From: key.To, To: key.From}], 1e-9, "symmetry of %s", key)
	}

	// degree
	degree := make(map[string]float64)
	for key, val := range trunks {
		degree[key.From] += val
		degree[key.To] += val
	}
	for _, ipn := range topo.IPNodes() {
		assert.LessOrEqual(t, degree[ipn.ID], float64(2*ipn.Transceivers), "degree of %s", ipn.ID)
	}

	// fiber capacity
	waves := make(map[LinkKey]float64)
	for _, ipl := range sol.IPLinks {
		for _, hop := range ipl.OptLinks {
			waves[LinkKey{From: hop.From, To: hop.To}] += hop.Trunks
		}
	}
	for key, val := range waves {
		if key.From == key.To {
			continue
		}
		link, present := topo.OpticalLink(key.From, key.To)
		require.True(t, present, "hop %s is a fiber", key)
		assert.LessOrEqual(t, val, float64(link.Capacity), "fiber %s", key)
	}

	// trunk capacity, and unsplit CDN users with a single peering node
	load := make(map[LinkKey]float64)
	for _, assign := range sol.CDNAssignment {
		hg, err := input.Demands.Hypergiant(assign.Name)
		require.NoError(t, err)
		for _, ua := range assign.Users {
			un, err := hg.EndUser(ua.NodeID)
			require.NoError(t, err)
			require.Len(t, ua.Peering, 1, "user %s has one peering node", ua.NodeID)
			assert.InDelta(t, 1.0, ua.Peering[0].Fraction, 1e-9)
			for _, al := range ua.Routes {
				assert.InDelta(t, 1.0, al.Value, 1e-9, "user %s is not split", ua.NodeID)
				load[LinkKey{From: al.From, To: al.To}] += al.Value * un.Volume
			}
		}
	}
	for _, rd := range sol.E2ERouting {
		for _, ps := range rd.Paths {
			load[LinkKey{From: ps.Link[0], To: ps.Link[1]}] += ps.Volume
		}
	}
	for key, val := range load {
		assert.LessOrEqual(t, val, trunks[key]*topo.LightpathCapacity()+1e-6, "capacity of %s", key)
	}
}

func TestPathMIPLine(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	input := CreateInputInstance(topo, lineDemands(t, topo, 6), nil, nil)
	pm, sol := solvePath(t, input)

	assert.Equal(t, StateExtracted, pm.State())
	require.False(t, sol.IsEmpty())
	checkPlan(t, input, sol)

	// each user router needs two trunks, and only D can feed both without exceeding a fiber
	objective, present := sol.Metric(MetricObjective)
	require.True(t, present)
	assert.InDelta(t, 8.0, objective, 1e-6)
	assert.InDelta(t, 2.0, trunksOf(sol, "D", "B"), 1e-9)
	assert.InDelta(t, 2.0, trunksOf(sol, "D", "C"), 1e-9)
	assert.InDelta(t, 2.0, trunksOf(sol, "B", "D"), 1e-9)
	assert.InDelta(t, 2.0, trunksOf(sol, "C", "D"), 1e-9)
	assert.Len(t, sol.IPLinks, 4)

	ipl, _ := sol.IPLink("D", "B")
	assert.Equal(t, []OptHop{{From: "oD", To: "oC", Trunks: 2, Path: 0}, {From: "oC", To: "oB", Trunks: 2, Path: 0}}, ipl.OptLinks)

	require.Len(t, sol.CDNAssignment, 1)
	for _, ua := range sol.CDNAssignment[0].Users {
		assert.Equal(t, "pD", ua.Peering[0].Peering)
		require.Len(t, ua.Routes, 1)
		assert.Equal(t, "D", ua.Routes[0].From)
	}

	deployed, _ := sol.Metric("deployed_ip_trunks")
	assert.InDelta(t, 8.0, deployed, 1e-9)
	_, present = pm.Model().VarByName("ip_capacity(D,B,0)")
	assert.True(t, present)

	// extraction can be repeated and gives the same plan
	again, err := pm.Solution()
	require.NoError(t, err)
	assert.Equal(t, sol.IPLinks, again.IPLinks)
	assert.Equal(t, sol.CDNAssignment, again.CDNAssignment)
	assert.Equal(t, StateExtracted, pm.State())
}

func TestPathMIPBackground(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	dm := CreateDemandMatrix()
	dm.Add(&EndToEndDemand{Src: mustIP(t, topo, "A"), Dst: mustIP(t, topo, "B"), Volume: 1.5})
	dm.Add(&EndToEndDemand{Src: mustIP(t, topo, "C"), Dst: mustIP(t, topo, "C"), Volume: 1})
	input := CreateInputInstance(topo, nil, dm, nil)
	_, sol := solvePath(t, input)

	checkPlan(t, input, sol)
	require.Len(t, sol.E2ERouting, 2)
	routed := sol.E2ERouting[0]
	assert.Equal(t, "A", routed.Node1)
	assert.Equal(t, "B", routed.Node2)
	require.Len(t, routed.Paths, 1)
	assert.Equal(t, [2]string{"A", "B"}, routed.Paths[0].Link)
	assert.InDelta(t, 1.5, routed.Paths[0].Volume, 1e-6)
	assert.Empty(t, sol.E2ERouting[1].Paths, "a demand within one router is not routed")

	// one trunk each way between A and B
	assert.InDelta(t, 1.0, trunksOf(sol, "A", "B"), 1e-9)
	assert.InDelta(t, 1.0, trunksOf(sol, "B", "A"), 1e-9)
	_, present := sol.Metric("max_ip_utilization")
	assert.True(t, present)
}

func TestPathMIPPeeringHubNoTransit(t *testing.T) {
	// B is a peering hub: A to C traffic has to bypass it on the IP layer
	topo := CreateTopology("hub", map[string]float64{ParamLightpathCapacity: 2})
	for _, id := range []string{"oA", "oB", "oC"} {
		_, err := topo.AddOpticalNode(id)
		require.NoError(t, err)
	}
	require.NoError(t, topo.AddFiber("oA", "oB", 4, 1.0))
	require.NoError(t, topo.AddFiber("oB", "oC", 4, 1.0))
	_, err := topo.AddIPNode("A", "oA", 4, false)
	require.NoError(t, err)
	_, err = topo.AddIPNode("B", "oB", 4, true)
	require.NoError(t, err)
	_, err = topo.AddIPNode("C", "oC", 4, false)
	require.NoError(t, err)

	dm := CreateDemandMatrix()
	dm.Add(&EndToEndDemand{Src: mustIP(t, topo, "A"), Dst: mustIP(t, topo, "C"), Volume: 1})
	input := CreateInputInstance(topo, nil, dm, nil)
	_, sol := solvePath(t, input)

	require.Len(t, sol.E2ERouting, 1)
	for _, ps := range sol.E2ERouting[0].Paths {
		assert.NotEqual(t, "B", ps.Link[1], "traffic enters the peering hub")
	}
	assert.InDelta(t, 1.0, trunksOf(sol, "A", "C"), 1e-9)
}

func TestPathMIPInfeasible(t *testing.T) {
	topo := lineTopology(t, 1, 4, 1)
	input := CreateInputInstance(topo, lineDemands(t, topo, 6), nil, nil)
	debugDir := t.TempDir()
	pm := CreatePathMIP(input, MIPConfig{DebugDir: debugDir})
	require.NoError(t, pm.Run(context.Background()))

	sol, err := pm.Solution()
	require.NoError(t, err)
	assert.True(t, sol.IsEmpty())
	assert.Len(t, sol.Metrics, 1)
	_, present := sol.Metric(MetricSolverTime)
	assert.True(t, present)
	assert.Equal(t, StateInfeasible, pm.State())
	assert.False(t, pm.Status().HasSolution())

	_, err = os.Stat(filepath.Join(debugDir, debugModelFile))
	assert.NoError(t, err, "infeasible model is dumped")
}

func TestPathMIPLifecycle(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	input := CreateInputInstance(topo, lineDemands(t, topo, 6), nil, nil)
	pm := CreatePathMIP(input, MIPConfig{})

	_, err := pm.Solution()
	assert.True(t, errors.Is(err, ErrBadState))
	assert.True(t, errors.Is(pm.SetSolutionHint(CreateSolutionInstance(nil, nil, nil)), ErrBadState))
	assert.True(t, errors.Is(pm.Solve(context.Background()), ErrBadState))

	require.NoError(t, pm.Build())
	assert.Equal(t, StateObjectiveBuilt, pm.State())
	assert.True(t, errors.Is(pm.Build(), ErrBadState))
	assert.Len(t, pm.CandidatePathsOf("A", "D"), 1)

	bad := CreatePathMIP(input, MIPConfig{Backend: "cplex"})
	assert.Error(t, bad.Build())

	noCap := lineTopology(t, 4, 4, 0)
	assert.Error(t, CreatePathMIP(CreateInputInstance(noCap, nil, nil, nil), MIPConfig{}).Build())
}

func TestPathMIPRelaxed(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	input := CreateInputInstance(topo, lineDemands(t, topo, 6), nil, nil)
	pm := CreatePathMIP(input, MIPConfig{Relaxed: true})
	require.NoError(t, pm.Run(context.Background()))
	sol, err := pm.Solution()
	require.NoError(t, err)

	// the trunk lower bound still holds in the relaxation
	objective, _ := sol.Metric(MetricObjective)
	assert.InDelta(t, 8.0, objective, 1e-6)
}

func TestPathMIPFixedIPLinks(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	_, base := solvePath(t, CreateInputInstance(topo, lineDemands(t, topo, 6), nil, nil))

	fixed, err := FixedLayersFromSolution(base, FixedLayersConfig{IPLinks: true})
	require.NoError(t, err)
	input := CreateInputInstance(topo, lineDemands(t, topo, 6), nil, fixed)
	pm := CreatePathMIP(input, MIPConfig{})
	require.NoError(t, pm.Build())
	require.NoError(t, pm.SetSolutionHint(base))
	require.NoError(t, pm.Solve(context.Background()))
	sol, err := pm.Solution()
	require.NoError(t, err)

	checkPlan(t, input, sol)
	for _, ipl := range base.IPLinks {
		assert.GreaterOrEqual(t, trunksOf(sol, ipl.Node1, ipl.Node2), ipl.NumTrunks, "pinned link %s<->%s", ipl.Node1, ipl.Node2)
	}
	objective, _ := sol.Metric(MetricObjective)
	assert.InDelta(t, 8.0, objective, 1e-6)
}

func TestPathMIPStrictIPLinks(t *testing.T) {
	topo := lineTopology(t, 8, 8, 2)
	fixed := CreateFixedLayers()
	fixed.FullIPLinks = map[string]float64{
		LinkName("D", "B"): 3, LinkName("B", "D"): 3,
		LinkName("B", "C"): 2, LinkName("C", "B"): 2,
	}
	input := CreateInputInstance(topo, lineDemands(t, topo, 6), nil, fixed)
	_, sol := solvePath(t, input)

	// C gets its volume through B
	require.False(t, sol.IsEmpty())
	checkPlan(t, input, sol)
	assert.InDelta(t, 3.0, trunksOf(sol, "D", "B"), 1e-9)
	assert.InDelta(t, 2.0, trunksOf(sol, "B", "C"), 1e-9)
	assert.Zero(t, trunksOf(sol, "D", "C"))
	assert.Len(t, sol.IPLinks, 4)
	for _, ua := range sol.CDNAssignment[0].Users {
		if ua.NodeID == "uC" {
			assert.Equal(t, []Allocation{{From: "B", To: "C", Value: 1}, {From: "D", To: "B", Value: 1}}, ua.Routes)
		}
	}
}

func TestPathMIPReconfiguration(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	_, base := solvePath(t, CreateInputInstance(topo, lineDemands(t, topo, 6), nil, nil))

	// a new user at A is served through B, changing the two pairs between A and B
	grown := func() DemandSet {
		ds := lineDemands(t, topo, 10)
		_, err := ds[0].AddEndUser("uA", mustIP(t, topo, "A"), 1)
		require.NoError(t, err)
		return ds
	}

	for _, tc := range []struct {
		name     string
		fraction float64
		withPath bool
	}{
		{name: "capacity", fraction: 0.25},
		{name: "path", fraction: 0.25, withPath: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fraction := tc.fraction
			fixed, err := FixedLayersFromSolution(base, FixedLayersConfig{IPLinks: true, ReconfFraction: &fraction, ReconfWithPath: tc.withPath})
			require.NoError(t, err)
			input := CreateInputInstance(topo, grown(), nil, fixed)
			_, sol := solvePath(t, input)

			require.False(t, sol.IsEmpty())
			checkPlan(t, input, sol)
			diff := CompareSolutions(base, sol)
			assert.LessOrEqual(t, float64(diff.Changed()), fraction*16)
			objective, _ := sol.Metric(MetricObjective)
			assert.InDelta(t, 10.0, objective, 1e-6)
		})
	}
}

func TestPathMIPPathMoves(t *testing.T) {
	// the diamond with a failed fiber oA-oB, whose baseline routes A<->D over oB
	failed := func(t *testing.T) *Topology {
		topo := CreateTopology("diamond", map[string]float64{ParamLightpathCapacity: 10})
		for _, id := range []string{"oA", "oB", "oC", "oD"} {
			_, err := topo.AddOpticalNode(id)
			require.NoError(t, err)
		}
		require.NoError(t, topo.AddFiber("oA", "oB", 0, 1.0))
		require.NoError(t, topo.AddFiber("oA", "oC", 8, 1.0))
		require.NoError(t, topo.AddFiber("oB", "oD", 8, 1.0))
		require.NoError(t, topo.AddFiber("oC", "oD", 8, 1.0))
		for _, id := range []string{"A", "D"} {
			_, err := topo.AddIPNode(id, "o"+id, 4, false)
			require.NoError(t, err)
		}
		return topo
	}
	pinned := func(fraction float64, withPath bool) *FixedLayers {
		fixed := CreateFixedLayers()
		pin := IPLinkPin{NumTrunks: 2, PathTrunks: []float64{2, 0}}
		fixed.IPLinks = map[string]IPLinkPin{LinkName("A", "D"): pin, LinkName("D", "A"): pin}
		if withPath {
			fixed.ReconfFractionIPWithOpt = &fraction
		} else {
			fixed.ReconfFractionIP = &fraction
		}
		return fixed
	}

	t.Run("trunk count kept", func(t *testing.T) {
		topo := failed(t)
		input := CreateInputInstance(topo, nil, nil, pinned(0, false))
		_, sol := solvePath(t, input)

		require.False(t, sol.IsEmpty(), "moving trunks to the other path is not a change")
		checkPlan(t, input, sol)
		ipl, present := sol.IPLink("A", "D")
		require.True(t, present)
		assert.Equal(t, map[int]float64{1: 2}, ipl.PathTrunks())
		assert.InDelta(t, 2.0, trunksOf(sol, "D", "A"), 1e-9)
	})

	t.Run("path move counted", func(t *testing.T) {
		topo := failed(t)
		_, sol := solvePath(t, CreateInputInstance(topo, nil, nil, pinned(0, true)))
		assert.True(t, sol.IsEmpty())
		_, present := sol.Metric(MetricObjective)
		assert.False(t, present)
	})

	t.Run("path move allowed", func(t *testing.T) {
		topo := failed(t)
		input := CreateInputInstance(topo, nil, nil, pinned(1, true))
		_, sol := solvePath(t, input)

		// without demand the cheapest plan drops the pinned trunks
		objective, present := sol.Metric(MetricObjective)
		require.True(t, present)
		assert.InDelta(t, 0.0, objective, 1e-6)
		checkPlan(t, input, sol)
	})
}

func TestPathMIPColocatedUser(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	hg := CreateHypergiant("cdn")
	for _, id := range []string{"B", "D"} {
		_, err := hg.AddPeeringNode("p"+id, mustIP(t, topo, id), 3)
		require.NoError(t, err)
	}
	for _, id := range []string{"B", "C"} {
		_, err := hg.AddEndUser("u"+id, mustIP(t, topo, id), 3)
		require.NoError(t, err)
	}
	input := CreateInputInstance(topo, DemandSet{hg}, nil, nil)
	_, sol := solvePath(t, input)

	checkPlan(t, input, sol)
	require.Len(t, sol.CDNAssignment, 1)
	users := make(map[string]UserAssignment)
	for _, ua := range sol.CDNAssignment[0].Users {
		users[ua.NodeID] = ua
	}

	// uB is served on its own router and needs no trunk
	require.Len(t, users["uB"].Peering, 1)
	assert.Equal(t, "pB", users["uB"].Peering[0].Peering)
	assert.Empty(t, users["uB"].Routes)
	require.Len(t, users["uC"].Peering, 1)
	assert.Equal(t, "pD", users["uC"].Peering[0].Peering)
	assert.Equal(t, []Allocation{{From: "D", To: "C", Value: 1}}, users["uC"].Routes)

	// only uC contributes to the trunk lower bound
	objective, _ := sol.Metric(MetricObjective)
	assert.InDelta(t, 4.0, objective, 1e-6)
	assert.InDelta(t, 2.0, trunksOf(sol, "D", "C"), 1e-9)
	assert.InDelta(t, 2.0, trunksOf(sol, "C", "D"), 1e-9)
}

func TestPathMIPConflictingLayers(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	r := 0.5
	fixed := CreateFixedLayers()
	fixed.ReconfFractionIP = &r
	input := CreateInputInstance(topo, lineDemands(t, topo, 6), nil, fixed)
	err := CreatePathMIP(input, MIPConfig{}).Build()
	assert.True(t, errors.Is(err, ErrConflictingFixedLayers))

	// per-path reconfiguration needs the per-path trunks of the baseline
	fixed = CreateFixedLayers()
	fixed.IPLinks = map[string]IPLinkPin{LinkName("D", "B"): {NumTrunks: 2}}
	fixed.ReconfFractionIPWithOpt = &r
	input = CreateInputInstance(topo, lineDemands(t, topo, 6), nil, fixed)
	err = CreatePathMIP(input, MIPConfig{}).Build()
	assert.True(t, errors.Is(err, ErrConflictingFixedLayers))
}

func TestPathMIPPinnedCDN(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	ds := lineDemands(t, topo, 6)
	_, err := ds[0].AddPeeringNode("pA", mustIP(t, topo, "A"), 6)
	require.NoError(t, err)

	fixed := CreateFixedLayers()
	fixed.PinUser("cdn", "uC", []PeeringShare{{Peering: "pA", Fraction: 1}})
	input := CreateInputInstance(topo, ds, nil, fixed)
	_, sol := solvePath(t, input)

	checkPlan(t, input, sol)
	for _, ua := range sol.CDNAssignment[0].Users {
		if ua.NodeID == "uC" {
			assert.Equal(t, "pA", ua.Peering[0].Peering)
		}
	}

	fixed = CreateFixedLayers()
	fixed.PinUser("cdn", "uC", []PeeringShare{{Peering: "pX", Fraction: 1}})
	err = CreatePathMIP(CreateInputInstance(topo, ds, nil, fixed), MIPConfig{}).Build()
	assert.True(t, errors.Is(err, ErrNodeNotFound))
}
