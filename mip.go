package xlayer

// mip.go holds what every mixed-integer planning algorithm shares: the lifecycle of the model,
// the solver configuration, the solve call and the classification of its outcome.

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/iti/evt/vrtime"
	"github.com/iti/xlayer/lp"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ModelState is the lifecycle position of a MIP
type ModelState int

const (
	StateCreated ModelState = iota
	StateVariablesBuilt
	StateConstraintsBuilt
	StateObjectiveBuilt
	StateSolved
	StateExtracted
	StateInfeasible
)

var stateNames = map[ModelState]string{
	StateCreated:          "created",
	StateVariablesBuilt:   "variables-built",
	StateConstraintsBuilt: "constraints-built",
	StateObjectiveBuilt:   "objective-built",
	StateSolved:           "solved",
	StateExtracted:        "extracted",
	StateInfeasible:       "infeasible",
}

func (ms ModelState) String() string {
	name, present := stateNames[ms]
	if !present {
		return "unknown"
	}
	return name
}

// ErrBadState is returned when a lifecycle step is called out of order
var ErrBadState = errors.New("operation not allowed in this model state")

// metrics recorded by every MIP run
const (
	MetricObjective  = "objective"
	MetricSolverTime = "solver_time"
	MetricBestBound  = "best_bound"
)

// debugModelFile is the name of the model dump written after an infeasible solve
const debugModelFile = "debug_inf_model.lp"

// MIPConfig selects and parameterizes the solver
type MIPConfig struct {
	// Backend names the lp backend, empty for the default
	Backend string `json:"backend" yaml:"backend" validate:"omitempty,oneof=bnb gonum"`

	// Threads is the solver's thread count, 0 meaning 1
	Threads int `json:"threads" yaml:"threads" validate:"gte=0"`

	// TimeLimit is the wall-clock limit in seconds, 0 for none
	TimeLimit float64 `json:"time_limit" yaml:"time_limit" validate:"gte=0"`

	// Relaxed drops integrality of the flow and trunk variables
	Relaxed bool `json:"relaxed" yaml:"relaxed"`

	// DebugDir receives the model dump of infeasible solves, the temp dir when empty
	DebugDir string `json:"debug_dir,omitempty" yaml:"debug_dir,omitempty"`
}

var validate = validator.New()

// Validate checks the field constraints of the configuration
func (cfg *MIPConfig) Validate() error {
	return errors.Wrap(validate.Struct(cfg), "solver configuration")
}

// Algorithm is a planning algorithm run on an InputInstance
type Algorithm interface {
	// Name identifies the algorithm in configuration records
	Name() string

	// Run builds and solves the model
	Run(ctx context.Context) error

	// Solution extracts the plan.  An infeasible run yields an empty solution, not an error.
	Solution() (*SolutionInstance, error)
}

// MIPOption configures a MIP algorithm
type MIPOption func(*mipBase)

// WithLogger sets the logger of the algorithm and its solver
func WithLogger(logger *zap.Logger) MIPOption {
	return func(mb *mipBase) {
		mb.logger = logger
	}
}

// WithTrace records lifecycle stages of the run under runID
func WithTrace(tm *TraceManager, runID string) MIPOption {
	return func(mb *mipBase) {
		mb.trace = tm
		mb.runID = runID
	}
}

// WithSolverMetrics attaches prometheus collectors to the solver
func WithSolverMetrics(metrics *lp.Metrics) MIPOption {
	return func(mb *mipBase) {
		mb.solverMetrics = metrics
	}
}

// mipBase carries the lifecycle shared by the MIP formulations
type mipBase struct {
	input  *InputInstance
	cfg    MIPConfig
	model  *lp.Model
	result *lp.Result
	state  ModelState

	logger        *zap.Logger
	trace         *TraceManager
	runID         string
	solverMetrics *lp.Metrics
	started       time.Time
}

func createMIPBase(name string, input *InputInstance, cfg MIPConfig, opts ...MIPOption) mipBase {
	mb := mipBase{input: input, cfg: cfg, model: lp.CreateModel(name), state: StateCreated, logger: zap.L()}
	for _, opt := range opts {
		opt(&mb)
	}
	mb.logger = mb.logger.Named("mip")
	mb.started = time.Now()
	return mb
}

// State returns the lifecycle position
func (mb *mipBase) State() ModelState {
	return mb.state
}

// Model exposes the underlying lp model
func (mb *mipBase) Model() *lp.Model {
	return mb.model
}

// advance moves the lifecycle from one state to the next
func (mb *mipBase) advance(from, to ModelState) error {
	if mb.state != from {
		return errors.Wrapf(ErrBadState, "cannot move to %s from %s, expected %s", to, mb.state, from)
	}
	mb.state = to
	mb.stage(to.String())
	return nil
}

// stage adds a trace record stamped with the time elapsed since the algorithm was created
func (mb *mipBase) stage(name string) {
	if !mb.trace.Active() {
		return
	}
	elapsed := vrtime.SecondsToTime(time.Since(mb.started).Seconds())
	mb.trace.AddTrace(elapsed, mb.runID, name, mb.model.Name)
}

// solve hands the model to the configured backend
func (mb *mipBase) solve(ctx context.Context) error {
	if mb.state != StateObjectiveBuilt {
		return errors.Wrapf(ErrBadState, "solve in state %s", mb.state)
	}
	opts := []lp.Option{lp.WithLogger(mb.logger)}
	if mb.solverMetrics != nil {
		opts = append(opts, lp.WithMetrics(mb.solverMetrics))
	}
	solver, err := lp.New(mb.cfg.Backend, opts...)
	if err != nil {
		return err
	}
	if err := solver.SetThreadCount(max(1, mb.cfg.Threads)); err != nil {
		return err
	}
	if mb.cfg.TimeLimit > 0 {
		solver.SetTimeLimit(time.Duration(mb.cfg.TimeLimit * float64(time.Second)))
	}
	mb.logger.Debug("model size",
		zap.Int("variables", mb.model.NumVars()), zap.Int("constraints", mb.model.NumConstraints()))

	result, err := solver.Solve(ctx, mb.model)
	if err != nil {
		return errors.Wrapf(err, "solve %s", mb.model.Name)
	}
	mb.result = result
	mb.logger.Info("solver finished",
		zap.String("backend", solver.Name()), zap.Stringer("status", result.Status),
		zap.Duration("wall", result.WallTime))
	return mb.advance(StateObjectiveBuilt, StateSolved)
}

// Status is the solver's verdict, NotSolved before the solve
func (mb *mipBase) Status() lp.Status {
	if mb.result == nil {
		return lp.NotSolved
	}
	return mb.result.Status
}

// classify decides whether the solved model can be extracted.  A model without a solution
// is dumped for inspection and moves to StateInfeasible; a reported solution that violates the
// model is an internal failure and panics.
func (mb *mipBase) classify() (bool, error) {
	switch mb.state {
	case StateSolved, StateExtracted:
	case StateInfeasible:
		return false, nil
	default:
		return false, errors.Wrapf(ErrBadState, "solution requested in state %s", mb.state)
	}
	if !mb.result.Status.HasSolution() {
		mb.logger.Warn("problem instance has no solution", zap.Stringer("status", mb.result.Status))
		mb.dumpModel()
		mb.state = StateInfeasible
		mb.stage(StateInfeasible.String())
		return false, nil
	}
	if err := mb.model.Verify(mb.result.Values, 1e-6); err != nil {
		panic(errors.Wrapf(err, "solver returned an invalid %s point", mb.result.Status))
	}
	return true, nil
}

func (mb *mipBase) dumpModel() {
	dir := mb.cfg.DebugDir
	if dir == "" {
		dir = os.TempDir()
	}
	filename := filepath.Join(dir, debugModelFile)
	if err := mb.model.WriteLPFile(filename); err != nil {
		mb.logger.Warn("could not dump model", zap.String("file", filename), zap.Error(err))
		return
	}
	mb.logger.Info("wrote model", zap.String("file", filename))
}

// emptySolution is the result of an infeasible or aborted run
func (mb *mipBase) emptySolution() *SolutionInstance {
	sol := CreateSolutionInstance(nil, nil, nil)
	sol.AddMetric(MetricSolverTime, mb.wallSeconds())
	return sol
}

// annotate records the solver's figures on an extracted solution
func (mb *mipBase) annotate(sol *SolutionInstance) {
	sol.AddMetric(MetricObjective, mb.result.Objective)
	sol.AddMetric(MetricSolverTime, mb.wallSeconds())
	sol.AddMetric(MetricBestBound, mb.result.BestBound)
}

func (mb *mipBase) wallSeconds() float64 {
	if mb.result == nil {
		return 0.0
	}
	return mb.result.WallTime.Seconds()
}

// value is the solved value of v
func (mb *mipBase) value(v lp.Var) float64 {
	return mb.result.Value(v)
}
