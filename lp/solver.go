package lp

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Status reports the outcome of a solve
type Status int

const (
	NotSolved Status = iota
	Optimal
	Feasible
	Infeasible
	Unbounded
	Abnormal
)

var statusNames = map[Status]string{
	NotSolved:  "NOT_SOLVED",
	Optimal:    "OPTIMAL",
	Feasible:   "FEASIBLE",
	Infeasible: "INFEASIBLE",
	Unbounded:  "UNBOUNDED",
	Abnormal:   "ABNORMAL",
}

func (s Status) String() string {
	name, present := statusNames[s]
	if !present {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return name
}

// HasSolution is true when the result carries a point that satisfies the model
func (s Status) HasSolution() bool {
	return s == Optimal || s == Feasible
}

// Result is what a Solver returns.  Values is indexed by Var.
type Result struct {
	Status    Status
	Objective float64
	BestBound float64
	Values    []float64
	WallTime  time.Duration
	Nodes     int
}

// Value returns the value of v in the result
func (r *Result) Value(v Var) float64 {
	if r.Values == nil {
		return 0.0
	}
	return r.Values[v]
}

// Solver is the uniform interface to a MIP backend
type Solver interface {
	// Name identifies the backend
	Name() string

	// SetThreadCount sets the number of parallel workers used by the search
	SetThreadCount(n int) error

	// SetTimeLimit bounds the wall-clock time of Solve. Zero means no limit.
	SetTimeLimit(d time.Duration)

	// Solve optimizes the model.  Infeasible and abnormal terminations are reported through
	// the Status of the result; the error is reserved for misuse and cancelled contexts.
	Solve(ctx context.Context, m *Model) (*Result, error)
}

// backend names accepted by New
const (
	BackendBnB   = "bnb"
	BackendGonum = "gonum"
)

// Backends lists the backend names accepted by New
var Backends = []string{BackendBnB, BackendGonum}

// Option configures a solver built by New
type Option func(*BranchAndBound)

// WithLogger sets the logger of the solver
func WithLogger(logger *zap.Logger) Option {
	return func(bb *BranchAndBound) {
		bb.logger = logger
	}
}

// WithMetrics attaches prometheus collectors to the solver
func WithMetrics(metrics *Metrics) Option {
	return func(bb *BranchAndBound) {
		bb.metrics = metrics
	}
}

// WithNodeLimit bounds the number of branch-and-bound nodes explored
func WithNodeLimit(n int) Option {
	return func(bb *BranchAndBound) {
		bb.nodeLimit = n
	}
}

// WithDiving turns the dive for a first incumbent on or off
func WithDiving(enabled bool) Option {
	return func(bb *BranchAndBound) {
		bb.diving = enabled
	}
}

// WithRelativeGap sets the relative optimality gap at which the search stops
func WithRelativeGap(gap float64) Option {
	return func(bb *BranchAndBound) {
		bb.relGap = gap
	}
}

// ErrUnknownBackend is returned by New for a name it does not know
var ErrUnknownBackend = errors.New("unknown solver backend")

// New creates the solver named by backend
func New(backend string, opts ...Option) (Solver, error) {
	switch backend {
	case BackendBnB, "":
		return NewBranchAndBound(opts...), nil
	case BackendGonum:
		return NewGonumSolver(opts...), nil
	}
	return nil, errors.Wrapf(ErrUnknownBackend, "%q", backend)
}
