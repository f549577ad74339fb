package xlayer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInputInstance(t *testing.T) {
	dir := t.TempDir()
	topoFile, demandFile := writeLineFiles(t, dir)

	input, err := BuildInputInstance(topoFile, demandFile, nil)
	require.NoError(t, err)
	assert.Nil(t, input.Fixed)
	require.Len(t, input.Demands, 1)
	assert.InDelta(t, 6.0, input.Demands[0].TotalVolume(), 1e-12)
	assert.Empty(t, input.Background)

	// plan once, then derive the fixed layers of a second run from the stored plan
	alg, err := AlgorithmConfig{Name: AlgorithmPathMIP}.Create(input)
	require.NoError(t, err)
	require.NoError(t, alg.Run(context.Background()))
	sol, err := alg.Solution()
	require.NoError(t, err)
	solFile := filepath.Join(dir, "plan.json")
	require.NoError(t, sol.WriteToFile(solFile))

	input, err = BuildInputInstance(topoFile, demandFile, &FixedLayersConfig{SolutionFile: solFile, IPLinks: true})
	require.NoError(t, err)
	require.NotNil(t, input.Fixed)
	assert.Len(t, input.Fixed.IPLinks, len(sol.IPLinks))

	input, err = BuildInputInstance(topoFile, demandFile, &FixedLayersConfig{IPLinks: true})
	require.NoError(t, err)
	assert.Nil(t, input.Fixed, "no solution file, nothing to fix")

	_, err = BuildInputInstance(topoFile, filepath.Join(dir, "absent.json"), nil)
	assert.Error(t, err)
}

func TestAlgorithmConfig(t *testing.T) {
	topo := lineTopology(t, 4, 4, 2)
	input := CreateInputInstance(topo, lineDemands(t, topo, 6), nil, nil)

	alg, err := AlgorithmConfig{Name: AlgorithmPathMIP}.Create(input)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmPathMIP, alg.Name())
	assert.IsType(t, &PathMIP{}, alg)

	alg, err = AlgorithmConfig{Name: AlgorithmGreedy}.Create(input)
	require.NoError(t, err)
	assert.IsType(t, &GreedyCDN{}, alg)

	_, err = AlgorithmConfig{Name: "simplex"}.Create(input)
	assert.Error(t, err)
	_, err = AlgorithmConfig{Name: AlgorithmPathMIP, MIP: MIPConfig{Backend: "cplex"}}.Create(input)
	assert.Error(t, err)
	_, err = AlgorithmConfig{Name: AlgorithmPathMIP, MIP: MIPConfig{Threads: -1}}.Create(input)
	assert.Error(t, err)
}
