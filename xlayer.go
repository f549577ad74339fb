package xlayer

// xlayer.go has code that assembles a planning run from its description files, and selects
// the algorithm that solves it

import (
	"github.com/pkg/errors"
)

// ErrUnknownAlgorithm is returned for an algorithm name that has no implementation
var ErrUnknownAlgorithm = errors.New("unknown algorithm")

// AlgorithmConfig names the planning algorithm and parameterizes its solver
type AlgorithmConfig struct {
	Name string    `json:"name" yaml:"name" validate:"required,oneof=mip_path greedy_cdn"`
	MIP  MIPConfig `json:"mip" yaml:"mip"`
}

// Create returns the configured algorithm, ready to Run on input
func (ac AlgorithmConfig) Create(input *InputInstance, opts ...MIPOption) (Algorithm, error) {
	if err := validate.Struct(ac); err != nil {
		return nil, errors.Wrap(err, "algorithm configuration")
	}
	switch ac.Name {
	case AlgorithmPathMIP:
		return CreatePathMIP(input, ac.MIP, opts...), nil
	case AlgorithmGreedy:
		return CreateGreedyCDN(input, ac.MIP, opts...), nil
	}
	return nil, errors.Wrap(ErrUnknownAlgorithm, ac.Name)
}

// BuildInputInstance is called from the module that runs a scenario.  Its inputs name the
// topology and demand description files, serialized as yaml or json depending on their
// extension, and optionally the fixed layers taken from an earlier plan.
func BuildInputInstance(topoFile, demandFile string, fixed *FixedLayersConfig) (*InputInstance, error) {
	td, err := ReadTopologyDesc(topoFile, isYAML(topoFile), nil)
	if err != nil {
		return nil, err
	}
	topo, err := td.Build()
	if err != nil {
		return nil, errors.Wrapf(err, "topology %s", topoFile)
	}

	dd, err := ReadDemandDesc(demandFile, isYAML(demandFile), nil)
	if err != nil {
		return nil, err
	}
	ds, dm, err := dd.Build(topo)
	if err != nil {
		return nil, errors.Wrapf(err, "demands %s", demandFile)
	}

	var fl *FixedLayers
	if fixed != nil && fixed.SolutionFile != "" {
		fl, err = fixed.Produce()
		if err != nil {
			return nil, errors.Wrap(err, "fixed layers")
		}
	}
	return CreateInputInstance(topo, ds, dm, fl), nil
}
