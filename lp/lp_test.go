package lp

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allBackends(t *testing.T) []Solver {
	rtn := make([]Solver, 0)
	for _, name := range Backends {
		s, err := New(name)
		require.NoError(t, err)
		rtn = append(rtn, s)
	}
	return rtn
}

// min -x - y, x + 2y <= 4, 3x + y <= 6, x, y >= 0 has optimum (1.6, 1.2)
func TestContinuousLP(t *testing.T) {
	for _, s := range allBackends(t) {
		t.Run(s.Name(), func(t *testing.T) {
			m := CreateModel("lp")
			x := m.NewNumVar(0, Inf, "x")
			y := m.NewNumVar(0, Inf, "y")
			m.Add("c1", NewExpr().AddTerm(x, 1).AddTerm(y, 2), LessEq, Const(4))
			m.Add("c2", NewExpr().AddTerm(x, 3).AddTerm(y, 1), LessEq, Const(6))
			m.Minimize(NewExpr().AddTerm(x, -1).AddTerm(y, -1))

			res, err := s.Solve(context.Background(), m)
			require.NoError(t, err)
			require.Equal(t, Optimal, res.Status)
			assert.InDelta(t, -2.8, res.Objective, 1e-7)
			assert.InDelta(t, 1.6, res.Value(x), 1e-7)
			assert.InDelta(t, 1.2, res.Value(y), 1e-7)
			assert.NoError(t, m.Verify(res.Values, 1e-6))
		})
	}
}

// equality rows that repeat each other exercise redundant-row handling
func TestRedundantEqualities(t *testing.T) {
	for _, s := range allBackends(t) {
		t.Run(s.Name(), func(t *testing.T) {
			m := CreateModel("redundant")
			a := m.NewNumVar(0, 10, "a")
			b := m.NewNumVar(0, 10, "b")
			c := m.NewNumVar(0, 10, "c")
			m.Add("e1", Sum(a, b), Equal, Const(5))
			m.Add("e2", NewExpr().AddTerm(a, 2).AddTerm(b, 2), Equal, Const(10))
			m.Add("e3", Sum(b, c), Equal, Const(3))
			m.Add("unused", NewExpr(), LessEq, Const(1))
			m.Minimize(NewExpr().AddTerm(a, 1).AddTerm(c, 2))

			res, err := s.Solve(context.Background(), m)
			require.NoError(t, err)
			require.Equal(t, Optimal, res.Status)
			// b = 3, c = 0, a = 2
			assert.InDelta(t, 2.0, res.Objective, 1e-7)
			assert.NoError(t, m.Verify(res.Values, 1e-6))
		})
	}
}

func TestInfeasible(t *testing.T) {
	for _, s := range allBackends(t) {
		t.Run(s.Name(), func(t *testing.T) {
			m := CreateModel("infeasible")
			x := m.NewIntVar(0, 3, "x")
			m.Add("low", Sum(x), GreaterEq, Const(5))
			m.Minimize(Sum(x))

			res, err := s.Solve(context.Background(), m)
			require.NoError(t, err)
			assert.Equal(t, Infeasible, res.Status)
			assert.False(t, res.Status.HasSolution())
			assert.Nil(t, res.Values)
		})
	}
}

func TestUnbounded(t *testing.T) {
	m := CreateModel("unbounded")
	x := m.NewNumVar(0, Inf, "x")
	y := m.NewNumVar(0, Inf, "y")
	m.Add("c", NewExpr().AddTerm(x, 1).AddTerm(y, -1), LessEq, Const(1))
	m.Minimize(NewExpr().AddTerm(y, -1))

	res, err := NewBranchAndBound().Solve(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, Unbounded, res.Status)
}

// knapsack: max 10a + 13b + 7c + 8d with weights 4, 6, 3, 5 and capacity 10.
// The LP relaxation is fractional, the best integral pick is {a, b}.
func knapsack() (*Model, []Var) {
	m := CreateModel("knapsack")
	vals := []float64{10, 13, 7, 8}
	wts := []float64{4, 6, 3, 5}
	vars := make([]Var, len(vals))
	w := NewExpr()
	obj := NewExpr()
	for idx := range vals {
		vars[idx] = m.NewBoolVar("pick" + string(rune('a'+idx)))
		w.AddTerm(vars[idx], wts[idx])
		obj.AddTerm(vars[idx], -vals[idx])
	}
	m.Add("weight", w, LessEq, Const(10))
	m.Minimize(obj)
	return m, vars
}

func TestKnapsack(t *testing.T) {
	for _, threads := range []int{1, 4} {
		for _, s := range allBackends(t) {
			require.NoError(t, s.SetThreadCount(threads))
			m, vars := knapsack()
			res, err := s.Solve(context.Background(), m)
			require.NoError(t, err)
			require.Equal(t, Optimal, res.Status, s.Name())
			assert.InDelta(t, -23.0, res.Objective, 1e-7)
			assert.Equal(t, 1.0, res.Value(vars[0]))
			assert.Equal(t, 1.0, res.Value(vars[1]))
			assert.Equal(t, 0.0, res.Value(vars[2]))
			assert.Equal(t, 0.0, res.Value(vars[3]))
			assert.InDelta(t, res.Objective, res.BestBound, 1e-7)
			assert.Greater(t, res.Nodes, 1)
		}
	}
}

func TestDiveFindsIncumbent(t *testing.T) {
	for _, s := range allBackends(t) {
		t.Run(s.Name(), func(t *testing.T) {
			m, vars := knapsack()
			bb, err := New(s.Name(), WithNodeLimit(1))
			require.NoError(t, err)
			res, err := bb.Solve(context.Background(), m)
			require.NoError(t, err)
			require.Equal(t, Feasible, res.Status, "the search stops at the root, the dive already found a point")
			assert.InDelta(t, -23.0, res.Objective, 1e-7)
			assert.Equal(t, 1.0, res.Value(vars[1]))
			assert.NoError(t, m.Verify(res.Values, 1e-6))
			assert.Less(t, res.BestBound, res.Objective)

			bb, err = New(s.Name(), WithNodeLimit(1), WithDiving(false))
			require.NoError(t, err)
			res, err = bb.Solve(context.Background(), m)
			require.NoError(t, err)
			assert.Equal(t, Abnormal, res.Status)
		})
	}
}

func TestDiveShortensSearch(t *testing.T) {
	m, _ := knapsack()
	plain, err := NewBranchAndBound(WithDiving(false)).Solve(context.Background(), m)
	require.NoError(t, err)
	m, _ = knapsack()
	dived, err := NewBranchAndBound().Solve(context.Background(), m)
	require.NoError(t, err)

	require.Equal(t, Optimal, dived.Status)
	assert.Equal(t, plain.Values, dived.Values)
	assert.Less(t, dived.Nodes, plain.Nodes)
}

func TestSearchIsDeterministic(t *testing.T) {
	var first *Result
	for run := 0; run < 3; run++ {
		s := NewBranchAndBound()
		require.NoError(t, s.SetThreadCount(3))
		m, _ := knapsack()
		res, err := s.Solve(context.Background(), m)
		require.NoError(t, err)
		if first == nil {
			first = res
			continue
		}
		assert.Equal(t, first.Values, res.Values)
		assert.Equal(t, first.Nodes, res.Nodes)
	}
}

func TestHintBecomesIncumbent(t *testing.T) {
	m, vars := knapsack()
	m.SetHint(vars, []float64{1, 1, 0, 0})
	hx, ok := m.Hint()
	require.True(t, ok)
	require.NoError(t, m.Verify(hx, 1e-6))

	res, err := NewBranchAndBound().Solve(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, Optimal, res.Status)
	assert.InDelta(t, -23.0, res.Objective, 1e-7)
}

func TestFixedBoundsAndIntegerObjective(t *testing.T) {
	m := CreateModel("fixed")
	x := m.NewIntVar(0, 10, "x")
	y := m.NewIntVar(0, 10, "y")
	m.SetBounds(y, 2, 2)
	m.Add("half", NewExpr().AddTerm(x, 2).AddTerm(y, 2), GreaterEq, Const(7))
	m.Minimize(Sum(x, y))

	res, err := NewBranchAndBound().Solve(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, Optimal, res.Status)
	assert.Equal(t, 2.0, res.Value(y))
	assert.Equal(t, 2.0, res.Value(x))
	assert.Equal(t, 4.0, res.Objective)
}

func TestRelaxDropsIntegrality(t *testing.T) {
	m, _ := knapsack()
	m.Relax()
	res, err := NewBranchAndBound().Solve(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, Optimal, res.Status)
	assert.Less(t, res.Objective, -23.0)
	assert.Equal(t, 1, res.Nodes)
}

func TestVerify(t *testing.T) {
	m, _ := knapsack()
	assert.NoError(t, m.Verify([]float64{0, 0, 1, 1}, 1e-6))
	assert.ErrorIs(t, m.Verify([]float64{1, 1, 1, 0}, 1e-6), ErrInfeasiblePoint)
	assert.ErrorIs(t, m.Verify([]float64{0.5, 0, 0, 0}, 1e-6), ErrInfeasiblePoint)
	assert.ErrorIs(t, m.Verify([]float64{2, 0, 0, 0}, 1e-6), ErrInfeasiblePoint)
	assert.Error(t, m.Verify([]float64{0}, 1e-6))
}

func TestCancelledContext(t *testing.T) {
	m, _ := knapsack()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewBranchAndBound().Solve(ctx, m)
	require.Error(t, err)
	assert.False(t, res.Status == Optimal)
}

func TestGonumParameters(t *testing.T) {
	gs := NewGonumSolver()
	require.NoError(t, gs.SetParameters("Threads 3, TimeLimit 2s\nRelativeGap 0.01"))
	assert.Equal(t, 3, gs.Threads())
	assert.Equal(t, 2*time.Second, gs.TimeLimit())
	require.NoError(t, gs.SetThreadCount(5))
	assert.Equal(t, 5, gs.Threads())
	assert.Contains(t, gs.Parameters(), "Threads 5")
	assert.Error(t, gs.SetParameters("Colour blue"))
	assert.Error(t, gs.SetParameters("Threads"))
	assert.Error(t, gs.SetThreadCount(0))
}

func TestUnknownBackend(t *testing.T) {
	_, err := New("cplex")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestWriteLP(t *testing.T) {
	m, _ := knapsack()
	var buf bytes.Buffer
	require.NoError(t, m.WriteLP(&buf))
	out := buf.String()
	assert.Contains(t, out, "Minimize")
	assert.Contains(t, out, "weight: 4 picka + 6 pickb + 3 pickc + 5 pickd <= 10")
	assert.Contains(t, out, "Generals")
	assert.Contains(t, out, "0 <= picka <= 1")
	assert.Equal(t, "ip_capacity(A,B,0)", lpName("ip_capacity(A,B,0)"))
	assert.Equal(t, "x_1_", lpName("x[1]"))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	s, err := New(BackendBnB, WithMetrics(metrics))
	require.NoError(t, err)
	m, _ := knapsack()
	_, err = s.Solve(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Solves.WithLabelValues(BackendBnB, "OPTIMAL")))
	assert.Greater(t, testutil.ToFloat64(metrics.Nodes.WithLabelValues(BackendBnB)), 1.0)
}
