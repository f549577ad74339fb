package xlayer

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// lineTopology is the optical line oA-oB-oC-oD with router X on site oX
func lineTopology(t *testing.T, fiberCap, transceivers int, lpCap float64) *Topology {
	t.Helper()
	topo := CreateTopology("line", map[string]float64{ParamLightpathCapacity: lpCap})
	for _, id := range []string{"oA", "oB", "oC", "oD"} {
		_, err := topo.AddOpticalNode(id)
		require.NoError(t, err)
	}
	require.NoError(t, topo.AddFiber("oA", "oB", fiberCap, 1.0))
	require.NoError(t, topo.AddFiber("oB", "oC", fiberCap, 1.0))
	require.NoError(t, topo.AddFiber("oC", "oD", fiberCap, 1.0))
	for _, id := range []string{"A", "B", "C", "D"} {
		_, err := topo.AddIPNode(id, "o"+id, transceivers, false)
		require.NoError(t, err)
	}
	return topo
}

// diamondTopology has two tied shortest paths between oA and oD, through oB and through oC
func diamondTopology(t *testing.T) *Topology {
	t.Helper()
	topo := CreateTopology("diamond", map[string]float64{ParamLightpathCapacity: 10})
	for _, id := range []string{"oA", "oB", "oC", "oD"} {
		_, err := topo.AddOpticalNode(id)
		require.NoError(t, err)
	}
	require.NoError(t, topo.AddFiber("oA", "oB", 8, 1.0))
	require.NoError(t, topo.AddFiber("oA", "oC", 8, 1.0))
	require.NoError(t, topo.AddFiber("oB", "oD", 8, 1.0))
	require.NoError(t, topo.AddFiber("oC", "oD", 8, 1.0))
	for _, id := range []string{"A", "D"} {
		_, err := topo.AddIPNode(id, "o"+id, 4, false)
		require.NoError(t, err)
	}
	return topo
}

func mustIP(t *testing.T, topo *Topology, id string) *IPNode {
	t.Helper()
	ipn, err := topo.IPNode(id)
	require.NoError(t, err)
	return ipn
}

func TestCandidatePathsTied(t *testing.T) {
	topo := diamondTopology(t)
	a, d := mustIP(t, topo, "A"), mustIP(t, topo, "D")

	fwd, err := topo.CandidatePaths(a, d)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"oA", "oB", "oD"}, {"oA", "oC", "oD"}}, fwd)

	bwd, err := topo.CandidatePaths(d, a)
	require.NoError(t, err)
	require.Len(t, bwd, len(fwd))
	for idx := range fwd {
		assert.Equal(t, reversed(fwd[idx]), bwd[idx], "path %d of the reverse pair", idx)
	}

	known, present := topo.KnownPaths("D", "A")
	require.True(t, present)
	assert.Equal(t, bwd, known)
	assert.InDelta(t, 2.0, topo.PathLength(a, d), 1e-12)
}

func TestCandidatePathsLogged(t *testing.T) {
	topo := diamondTopology(t)
	core, logs := observer.New(zapcore.DebugLevel)
	topo.SetLogger(zap.New(core))
	_, err := topo.CandidatePaths(mustIP(t, topo, "A"), mustIP(t, topo, "D"))
	require.NoError(t, err)

	entries := logs.FilterMessage("candidate paths").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "A", entries[0].ContextMap()["src"])
	assert.Equal(t, []any{"oA,oB,oD", "oA,oC,oD"}, entries[0].ContextMap()["paths"])
	assert.Equal(t, "oB", ShowPath([]string{"oB"}))

	// nothing is rendered above debug level
	core, logs = observer.New(zapcore.InfoLevel)
	topo.SetLogger(zap.New(core))
	_, err = topo.CandidatePaths(mustIP(t, topo, "D"), mustIP(t, topo, "A"))
	require.NoError(t, err)
	assert.Zero(t, logs.Len())
}

func TestPathsOnLink(t *testing.T) {
	topo := diamondTopology(t)
	a, d := mustIP(t, topo, "A"), mustIP(t, topo, "D")
	_, err := topo.CandidatePaths(a, d)
	require.NoError(t, err)
	_, err = topo.CandidatePaths(d, a)
	require.NoError(t, err)
	// a second query must not duplicate index entries
	_, err = topo.CandidatePaths(a, d)
	require.NoError(t, err)

	assert.Equal(t, []PathRef{{Src: "A", Dst: "D", Index: 0}}, topo.PathsOnLink("oA", "oB"))
	assert.Equal(t, []PathRef{{Src: "D", Dst: "A", Index: 0}}, topo.PathsOnLink("oB", "oA"))
	assert.Equal(t, []PathRef{{Src: "A", Dst: "D", Index: 1}}, topo.PathsOnLink("oC", "oD"))
	assert.Equal(t, []PathRef{{Src: "D", Dst: "A", Index: 1}}, topo.PathsOnLink("oD", "oC"))
	assert.Empty(t, topo.PathsOnLink("oB", "oC"))
}

func TestCandidatePathsSameSite(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	_, err := topo.AddIPNode("B2", "oB", 4, false)
	require.NoError(t, err)

	paths, err := topo.CandidatePaths(mustIP(t, topo, "B"), mustIP(t, topo, "B2"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"oB"}}, paths)
	assert.Zero(t, topo.PathLength(mustIP(t, topo, "B"), mustIP(t, topo, "B2")))
}

func TestCandidatePathsNoRoute(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	_, err := topo.AddOpticalNode("oE")
	require.NoError(t, err)
	e, err := topo.AddIPNode("E", "oE", 4, false)
	require.NoError(t, err)

	_, err = topo.CandidatePaths(mustIP(t, topo, "A"), e)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoRoute))
}

func TestTopologyDuplicates(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)

	_, err := topo.AddOpticalNode("oA")
	assert.True(t, errors.Is(err, ErrDuplicateNode))
	_, err = topo.AddIPNode("oB", "oA", 4, false)
	assert.True(t, errors.Is(err, ErrDuplicateNode), "ids are shared between layers")
	assert.True(t, errors.Is(topo.AddFiber("oA", "oB", 4, 1.0), ErrDuplicateLink))
	_, err = topo.AddIPNode("X", "oX", 4, false)
	assert.True(t, errors.Is(err, ErrNodeNotFound))
	_, err = topo.AddOpticalLink("oA", "oA", 4, 1.0)
	assert.Error(t, err)

	node, err := topo.GetNodeByID("oC")
	require.NoError(t, err)
	assert.IsType(t, &OpticalNode{}, node)
	node, err = topo.GetNodeByID("C")
	require.NoError(t, err)
	assert.IsType(t, &IPNode{}, node)
}

func TestRequiredTrunks(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	assert.Equal(t, 0, topo.RequiredTrunks(0))
	assert.Equal(t, 2, topo.RequiredTrunks(3))
	assert.Equal(t, 2, topo.RequiredTrunks(4))
	assert.Equal(t, 3, topo.RequiredTrunks(4.5))

	topo.Parameter[ParamLinkUtilization] = 0.5
	assert.Equal(t, 3, topo.RequiredTrunks(3))

	delete(topo.Parameter, ParamLightpathCapacity)
	assert.Panics(t, func() { topo.RequiredTrunks(1) })
}

func TestLinkName(t *testing.T) {
	key, err := ParseLinkName(LinkName("B", "C"))
	require.NoError(t, err)
	assert.Equal(t, LinkKey{From: "B", To: "C"}, key)
	assert.Equal(t, "B<->C", key.String())

	_, err = ParseLinkName("B-C")
	assert.Error(t, err)
}
