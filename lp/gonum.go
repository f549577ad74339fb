package lp

// gonum.go provides the "gonum" backend: the same branch-and-bound search, with node
// relaxations solved by gonum's simplex.  That routine requires an equality system of full
// row rank without empty columns, so the standard form is reduced before the call.
// Its settings are passed as a parameter string, one "Key value" pair per line or
// separated by commas, e.g. "Threads 4, TimeLimit 30s".

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	convexlp "gonum.org/v1/gonum/optimize/convex/lp"
)

// GonumSolver is a BranchAndBound whose relaxations go through gonum
type GonumSolver struct {
	*BranchAndBound
	params string
}

// NewGonumSolver is a constructor
func NewGonumSolver(opts ...Option) *GonumSolver {
	bb := NewBranchAndBound(opts...)
	bb.name = BackendGonum
	bb.relax = gonumRelaxation
	return &GonumSolver{BranchAndBound: bb}
}

// SetThreadCount is expressed through the parameter string
func (gs *GonumSolver) SetThreadCount(n int) error {
	return gs.SetParameters("Threads " + strconv.Itoa(n))
}

// Parameters returns the parameter string applied so far
func (gs *GonumSolver) Parameters() string {
	return gs.params
}

// SetParameters parses and applies a parameter string.  Known keys are Threads, TimeLimit
// (a duration or a number of seconds), NodeLimit and RelativeGap.
func (gs *GonumSolver) SetParameters(params string) error {
	fields := strings.FieldsFunc(params, func(r rune) bool { return r == '\n' || r == ',' || r == ';' })
	for _, field := range fields {
		kv := strings.Fields(field)
		if len(kv) == 0 {
			continue
		}
		if len(kv) != 2 {
			return errors.Errorf("malformed solver parameter %q", field)
		}
		key, val := kv[0], kv[1]
		switch strings.ToLower(key) {
		case "threads":
			n, err := strconv.Atoi(val)
			if err != nil {
				return errors.Wrapf(err, "solver parameter %s", key)
			}
			if err := gs.BranchAndBound.SetThreadCount(n); err != nil {
				return err
			}
		case "timelimit":
			d, err := time.ParseDuration(val)
			if err != nil {
				secs, ferr := strconv.ParseFloat(val, 64)
				if ferr != nil {
					return errors.Wrapf(err, "solver parameter %s", key)
				}
				d = time.Duration(secs * float64(time.Second))
			}
			gs.SetTimeLimit(d)
		case "nodelimit":
			n, err := strconv.Atoi(val)
			if err != nil {
				return errors.Wrapf(err, "solver parameter %s", key)
			}
			gs.nodeLimit = n
		case "relativegap":
			gap, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return errors.Wrapf(err, "solver parameter %s", key)
			}
			gs.relGap = gap
		default:
			return errors.Errorf("unknown solver parameter %q", key)
		}
	}
	if len(gs.params) > 0 {
		gs.params += ", "
	}
	gs.params += strings.TrimSpace(params)
	return nil
}

// independentRows returns the indices of a maximal set of linearly independent rows of [A|b].
// The boolean is false when a dependent row contradicts the others.
func independentRows(a [][]float64, b []float64) ([]int, bool) {
	type reduced struct {
		row []float64
		piv int
	}
	keep := make([]int, 0, len(a))
	basis := make([]reduced, 0, len(a))
	for i := range a {
		n := len(a[i])
		r := make([]float64, n+1)
		copy(r, a[i])
		r[n] = b[i]
		for _, p := range basis {
			f := r[p.piv]
			if f != 0.0 {
				floats.AddScaled(r, -f, p.row)
			}
		}
		piv := -1
		best := pivotTol
		for j := 0; j < n; j++ {
			if math.Abs(r[j]) > best {
				best = math.Abs(r[j])
				piv = j
			}
		}
		if piv < 0 {
			if math.Abs(r[n]) > feasTol {
				return nil, false
			}
			continue
		}
		floats.Scale(1.0/r[piv], r)
		basis = append(basis, reduced{row: r, piv: piv})
		keep = append(keep, i)
	}
	return keep, true
}

func gonumRelaxation(ctx context.Context, m *Model, lb, ub []float64) (rr relaxResult, err error) {
	if err := ctx.Err(); err != nil {
		return relaxResult{status: Abnormal}, err
	}
	sf := buildStandardForm(m, lb, ub)
	if sf.infeasible {
		return relaxResult{status: Infeasible}, nil
	}
	rows, ok := independentRows(sf.a, sf.b)
	if !ok {
		return relaxResult{status: Infeasible}, nil
	}

	n := len(sf.c)
	cols := make([]int, 0, n)
	for j := 0; j < n; j++ {
		used := false
		for _, i := range rows {
			if sf.a[i][j] != 0.0 {
				used = true
				break
			}
		}
		if used {
			cols = append(cols, j)
			continue
		}
		if sf.c[j] < -costTol {
			return relaxResult{status: Unbounded}, nil
		}
	}

	y := make([]float64, n)
	if len(rows) > 0 {
		A := mat.NewDense(len(rows), len(cols), nil)
		b := make([]float64, len(rows))
		c := make([]float64, len(cols))
		for r, i := range rows {
			for k, j := range cols {
				A.Set(r, k, sf.a[i][j])
			}
			b[r] = sf.b[i]
		}
		for k, j := range cols {
			c[k] = sf.c[j]
		}

		// gonum panics on inputs it considers malformed
		defer func() {
			if p := recover(); p != nil {
				rr = relaxResult{status: Abnormal}
				err = nil
			}
		}()
		_, xs, serr := convexlp.Simplex(c, A, b, 1e-10, nil)
		switch {
		case serr == nil:
		case errors.Is(serr, convexlp.ErrInfeasible):
			return relaxResult{status: Infeasible}, nil
		case errors.Is(serr, convexlp.ErrUnbounded):
			return relaxResult{status: Unbounded}, nil
		default:
			return relaxResult{status: Abnormal}, nil
		}
		for k, j := range cols {
			y[j] = math.Max(xs[k], 0.0)
		}
	}
	x := sf.recover(y)
	return relaxResult{status: Optimal, obj: m.obj.Eval(x), x: x}, nil
}
