package lp

// bnb.go implements best-first branch-and-bound over linear relaxations.
// Open nodes are kept in a priority queue ordered by relaxation bound, with ties going to the
// deeper node so the search dives towards integral points.  Each round pops up to 'threads'
// nodes, branches on their most fractional integer variable, and solves the children's
// relaxations concurrently.  Children are merged back in creation order, so for a fixed
// thread count the search is deterministic.
//
// Before the search, a dive from the root relaxation fixes integer variables one at a time
// at their rounded values.  The point it ends in, if any, is the first incumbent, which lets
// the search prune from its first round on.

import (
	"container/heap"
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BranchAndBound is the default Solver
type BranchAndBound struct {
	name      string
	threads   int
	timeLimit time.Duration
	nodeLimit int
	relGap    float64
	intTol    float64
	diving    bool
	relax     relaxFunc
	logger    *zap.Logger
	metrics   *Metrics
}

// NewBranchAndBound is a constructor.  Options set logger, metrics and search limits.
func NewBranchAndBound(opts ...Option) *BranchAndBound {
	bb := &BranchAndBound{
		name:      BackendBnB,
		threads:   1,
		nodeLimit: 1000000,
		relGap:    1e-9,
		intTol:    1e-6,
		diving:    true,
		relax:     simplexRelaxation,
		logger:    zap.L(),
	}
	for _, opt := range opts {
		opt(bb)
	}
	bb.logger = bb.logger.Named("lp")
	return bb
}

func (bb *BranchAndBound) Name() string {
	return bb.name
}

// SetThreadCount sets how many relaxations are solved concurrently
func (bb *BranchAndBound) SetThreadCount(n int) error {
	if n < 1 {
		return errors.Errorf("thread count must be positive, got %d", n)
	}
	bb.threads = n
	return nil
}

func (bb *BranchAndBound) SetTimeLimit(d time.Duration) {
	bb.timeLimit = d
}

// Threads returns the configured thread count
func (bb *BranchAndBound) Threads() int {
	return bb.threads
}

// TimeLimit returns the configured time limit
func (bb *BranchAndBound) TimeLimit() time.Duration {
	return bb.timeLimit
}

type bbNode struct {
	id     int
	depth  int
	lb, ub []float64
	bound  float64
	x      []float64
}

type nodeQueue []*bbNode

func (q nodeQueue) Len() int { return len(q) }
func (q nodeQueue) Less(i, j int) bool {
	if math.Abs(q[i].bound-q[j].bound) > 1e-9 {
		return q[i].bound < q[j].bound
	}
	if q[i].depth != q[j].depth {
		return q[i].depth > q[j].depth
	}
	return q[i].id < q[j].id
}
func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x any) {
	*q = append(*q, x.(*bbNode))
}
func (q *nodeQueue) Pop() any {
	old := *q
	n := len(old)
	nd := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return nd
}

// Solve runs branch-and-bound on m.  Expiry of the time limit ends the search with the best
// point found so far (status Feasible) or with status Abnormal when there is none.
// Cancellation of ctx itself is reported as an error.
func (bb *BranchAndBound) Solve(ctx context.Context, m *Model) (*Result, error) {
	start := time.Now()
	sctx := ctx
	if bb.timeLimit > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, bb.timeLimit)
		defer cancel()
	}

	res := bb.search(sctx, m)
	res.WallTime = time.Since(start)
	bb.metrics.observe(bb.name, res)
	bb.logger.Info("solve finished",
		zap.String("model", m.Name),
		zap.String("backend", bb.name),
		zap.Stringer("status", res.Status),
		zap.Float64("objective", res.Objective),
		zap.Float64("best_bound", res.BestBound),
		zap.Int("nodes", res.Nodes),
		zap.Duration("wall_time", res.WallTime))

	if err := ctx.Err(); err != nil {
		return res, errors.Wrap(err, "solve interrupted")
	}
	return res, nil
}

// objectiveIntegral is true when every feasible point has an integral objective value,
// which lets a node be pruned once the ceiling of its bound reaches the incumbent
func objectiveIntegral(m *Model) bool {
	if m.obj.Constant != math.Trunc(m.obj.Constant) {
		return false
	}
	for _, t := range m.obj.Terms {
		if !m.vars[t.Var].integer || t.Coef != math.Trunc(t.Coef) {
			return false
		}
	}
	return true
}

func (bb *BranchAndBound) prunable(bound, incumbent float64, integral bool) bool {
	if math.IsInf(incumbent, 1) {
		return false
	}
	if integral && math.Ceil(bound-bb.intTol) >= incumbent-1e-9 {
		return true
	}
	return bound >= incumbent-math.Max(1e-9, bb.relGap*math.Abs(incumbent))
}

// branchVar returns the integer variable whose value is farthest from integrality, or -1
func (bb *BranchAndBound) branchVar(x []float64, ints []Var) Var {
	best := bb.intTol
	rtn := Var(-1)
	for _, v := range ints {
		f := x[v] - math.Floor(x[v])
		dist := math.Min(f, 1.0-f)
		if dist > best+1e-12 {
			best = dist
			rtn = v
		}
	}
	return rtn
}

func roundIntegers(x []float64, ints []Var) []float64 {
	rtn := make([]float64, len(x))
	copy(rtn, x)
	for _, v := range ints {
		rtn[v] = math.Round(rtn[v])
	}
	return rtn
}

func (bb *BranchAndBound) search(ctx context.Context, m *Model) *Result {
	res := &Result{Status: NotSolved, Objective: math.NaN(), BestBound: math.Inf(-1)}

	ints := make([]Var, 0)
	for idx, vd := range m.vars {
		if vd.integer {
			ints = append(ints, Var(idx))
		}
	}
	integral := objectiveIntegral(m)

	var incumbent []float64
	incVal := math.Inf(1)
	accept := func(x []float64) {
		xr := roundIntegers(x, ints)
		val := m.obj.Eval(xr)
		if val < incVal-1e-9 {
			incumbent = xr
			incVal = val
			bb.logger.Debug("new incumbent", zap.Float64("objective", val), zap.Int("nodes", res.Nodes))
		}
	}

	if hx, ok := m.Hint(); ok {
		hx = roundIntegers(hx, ints)
		if err := m.Verify(hx, 1e-6); err == nil {
			accept(hx)
		} else {
			bb.logger.Debug("solution hint rejected", zap.Error(err))
		}
	}

	rootLB, rootUB := m.lowerBounds(), m.upperBounds()
	root, err := bb.relax(ctx, m, rootLB, rootUB)
	res.Nodes = 1
	if err != nil {
		return bb.finish(res, incumbent, incVal, nil, true, false)
	}
	switch root.status {
	case Infeasible:
		res.Status = Infeasible
		return res
	case Unbounded:
		res.Status = Unbounded
		return res
	case Abnormal:
		return bb.finish(res, incumbent, incVal, nil, true, false)
	}

	if bb.diving && bb.branchVar(root.x, ints) >= 0 && !bb.prunable(root.obj, incVal, integral) {
		x, solved := bb.dive(ctx, m, ints, rootLB, rootUB, root.x)
		res.Nodes += solved
		if x != nil {
			accept(x)
		}
	}

	queue := &nodeQueue{}
	heap.Push(queue, &bbNode{id: 0, lb: rootLB, ub: rootUB, bound: root.obj, x: root.x})
	nextID := 1
	interrupted := false
	lost := false

	for queue.Len() > 0 {
		if ctx.Err() != nil || res.Nodes >= bb.nodeLimit {
			interrupted = true
			break
		}
		if bb.prunable((*queue)[0].bound, incVal, integral) {
			*queue = (*queue)[:0]
			break
		}

		batch := make([]*bbNode, 0, bb.threads)
		for queue.Len() > 0 && len(batch) < bb.threads {
			nd := heap.Pop(queue).(*bbNode)
			if bb.prunable(nd.bound, incVal, integral) {
				continue
			}
			batch = append(batch, nd)
		}

		children := make([]*bbNode, 0, 2*len(batch))
		parents := make([]*bbNode, 0, len(batch))
		for _, nd := range batch {
			j := bb.branchVar(nd.x, ints)
			if j < 0 {
				accept(nd.x)
				continue
			}
			parents = append(parents, nd)
			down := &bbNode{id: nextID, depth: nd.depth + 1, lb: nd.lb, ub: append([]float64(nil), nd.ub...)}
			down.ub[j] = math.Floor(nd.x[j])
			up := &bbNode{id: nextID + 1, depth: nd.depth + 1, lb: append([]float64(nil), nd.lb...), ub: nd.ub}
			up.lb[j] = math.Ceil(nd.x[j])
			nextID += 2
			children = append(children, down, up)
		}

		results := make([]relaxResult, len(children))
		var g errgroup.Group
		g.SetLimit(bb.threads)
		for idx, child := range children {
			idx, child := idx, child
			g.Go(func() error {
				r, err := bb.relax(ctx, m, child.lb, child.ub)
				results[idx] = r
				return err
			})
		}
		if err := g.Wait(); err != nil {
			for _, nd := range parents {
				heap.Push(queue, nd)
			}
			interrupted = true
			break
		}
		res.Nodes += len(children)

		for idx, child := range children {
			r := results[idx]
			switch r.status {
			case Optimal:
			case Infeasible:
				continue
			default:
				lost = true
				continue
			}
			child.bound = r.obj
			child.x = r.x
			if bb.prunable(child.bound, incVal, integral) {
				continue
			}
			if bb.branchVar(child.x, ints) < 0 {
				accept(child.x)
				continue
			}
			heap.Push(queue, child)
		}
	}
	return bb.finish(res, incumbent, incVal, *queue, interrupted, lost)
}

// diveVar returns the fractional integer variable closest to integrality, or -1
func (bb *BranchAndBound) diveVar(x []float64, ints []Var) Var {
	best := 1.0
	rtn := Var(-1)
	for _, v := range ints {
		f := x[v] - math.Floor(x[v])
		dist := math.Min(f, 1.0-f)
		if dist > bb.intTol && dist < best-1e-12 {
			best = dist
			rtn = v
		}
	}
	return rtn
}

// dive fixes fractional integer variables at their rounded value, trying the other side
// when that is infeasible, until the relaxation is integral.  It returns the integral point,
// nil when the dive runs into infeasibility or ctx expires, and the number of relaxations solved.
func (bb *BranchAndBound) dive(ctx context.Context, m *Model, ints []Var, lb, ub, x []float64) ([]float64, int) {
	lb = append([]float64(nil), lb...)
	ub = append([]float64(nil), ub...)
	solved := 0
	for {
		j := bb.diveVar(x, ints)
		if j < 0 {
			return x, solved
		}
		near := math.Round(x[j])
		far := math.Floor(x[j])
		if far == near {
			far = math.Ceil(x[j])
		}
		found := false
		for _, val := range []float64{near, far} {
			if val < lb[j] || val > ub[j] {
				continue
			}
			saveLB, saveUB := lb[j], ub[j]
			lb[j], ub[j] = val, val
			r, err := bb.relax(ctx, m, lb, ub)
			solved++
			if err != nil {
				return nil, solved
			}
			if r.status == Optimal {
				x = r.x
				found = true
				break
			}
			lb[j], ub[j] = saveLB, saveUB
		}
		if !found {
			bb.logger.Debug("dive failed", zap.Int("relaxations", solved))
			return nil, solved
		}
	}
}

// finish fills in status, point and bound once the search stops
func (bb *BranchAndBound) finish(res *Result, incumbent []float64, incVal float64, open nodeQueue,
	interrupted, lost bool) *Result {

	bound := incVal
	if interrupted {
		for _, nd := range open {
			bound = math.Min(bound, nd.bound)
		}
		if len(open) == 0 && incumbent == nil {
			bound = math.Inf(-1)
		}
	}

	if incumbent == nil {
		if interrupted || lost {
			res.Status = Abnormal
		} else {
			res.Status = Infeasible
		}
		res.BestBound = bound
		return res
	}

	res.Status = Optimal
	if interrupted || lost {
		res.Status = Feasible
	}
	res.Values = incumbent
	res.Objective = incVal
	res.BestBound = bound
	return res
}
