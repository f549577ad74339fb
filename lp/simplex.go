package lp

// simplex.go solves the linear relaxation of a Model restricted to a box of variable bounds.
// The relaxation is brought to standard form (min c.y, A y = b, y >= 0, b >= 0) and solved
// with a dense two-phase tableau simplex.  Dantzig pricing is used until the method stalls on
// degenerate pivots, after which Bland's rule takes over and guarantees termination.

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	pivotTol   = 1e-9
	costTol    = 1e-9
	feasTol    = 1e-7
	ratioTol   = 1e-12
	maxPivots  = 200000
	stallLimit = 50
)

// relaxResult is the outcome of one relaxation solve
type relaxResult struct {
	status Status
	obj    float64
	x      []float64
}

// relaxFunc solves the relaxation of m with variable bounds lb, ub.  A non-nil error
// is returned only when ctx expires.
type relaxFunc func(ctx context.Context, m *Model, lb, ub []float64) (relaxResult, error)

// standardForm is the relaxation of a Model in the form min c.y s.t. A y = b, y >= 0, b >= 0.
// Model variable j maps to column colOf[j] after shifting by its lower bound; fixed
// variables have no column.
type standardForm struct {
	colOf      []int
	shift      []float64
	nStruct    int
	c          []float64
	a          [][]float64
	b          []float64
	unit       []int
	infeasible bool
}

type sparseRow struct {
	cols  []int
	coefs []float64
	sense Sense
	rhs   float64
}

func senseHolds(lhs float64, sense Sense, rhs float64) bool {
	switch sense {
	case LessEq:
		return lhs <= rhs+feasTol
	case GreaterEq:
		return lhs >= rhs-feasTol
	}
	return math.Abs(lhs-rhs) <= feasTol
}

// buildStandardForm transforms the relaxation of m under bounds lb, ub
func buildStandardForm(m *Model, lb, ub []float64) *standardForm {
	nv := len(lb)
	sf := &standardForm{colOf: make([]int, nv), shift: make([]float64, nv)}
	for j := 0; j < nv; j++ {
		if lb[j] > ub[j]+feasTol {
			sf.infeasible = true
			return sf
		}
		sf.shift[j] = lb[j]
		if ub[j]-lb[j] <= feasTol {
			sf.colOf[j] = -1
			continue
		}
		sf.colOf[j] = sf.nStruct
		sf.nStruct++
	}

	rows := make([]sparseRow, 0, len(m.cons))
	for _, con := range m.cons {
		r := sparseRow{sense: con.Sense, rhs: con.Rhs}
		for _, t := range con.Terms {
			r.rhs -= t.Coef * sf.shift[t.Var]
			col := sf.colOf[t.Var]
			if col < 0 {
				continue
			}
			r.cols = append(r.cols, col)
			r.coefs = append(r.coefs, t.Coef)
		}
		if len(r.cols) == 0 {
			if !senseHolds(0.0, r.sense, r.rhs) {
				sf.infeasible = true
				return sf
			}
			continue
		}
		rows = append(rows, r)
	}
	for j := 0; j < nv; j++ {
		col := sf.colOf[j]
		if col >= 0 && !math.IsInf(ub[j], 1) {
			rows = append(rows, sparseRow{cols: []int{col}, coefs: []float64{1.0}, sense: LessEq, rhs: ub[j] - lb[j]})
		}
	}

	nSlack := 0
	for _, r := range rows {
		if r.sense != Equal {
			nSlack++
		}
	}
	width := sf.nStruct + nSlack
	sf.a = make([][]float64, len(rows))
	sf.b = make([]float64, len(rows))
	sf.unit = make([]int, len(rows))
	slack := sf.nStruct
	for i, r := range rows {
		a := make([]float64, width)
		for k, col := range r.cols {
			a[col] += r.coefs[k]
		}
		sc := -1
		switch r.sense {
		case LessEq:
			a[slack] = 1.0
			sc = slack
			slack++
		case GreaterEq:
			a[slack] = -1.0
			sc = slack
			slack++
		}
		b := r.rhs
		if b < 0 {
			floats.Scale(-1.0, a)
			b = -b
		}
		sf.unit[i] = -1
		if sc >= 0 && a[sc] > 0 {
			sf.unit[i] = sc
		}
		sf.a[i] = a
		sf.b[i] = b
	}

	sf.c = make([]float64, width)
	for _, t := range m.obj.Terms {
		col := sf.colOf[t.Var]
		if col >= 0 {
			sf.c[col] += t.Coef
		}
	}
	return sf
}

// recover maps a standard form point back to model variables
func (sf *standardForm) recover(y []float64) []float64 {
	x := make([]float64, len(sf.colOf))
	for j, col := range sf.colOf {
		x[j] = sf.shift[j]
		if col >= 0 {
			x[j] += y[col]
		}
	}
	return x
}

// pivot makes column c basic in row r
func pivot(t *mat.Dense, r, c int, basis []int) {
	rows, _ := t.Dims()
	prow := t.RawRowView(r)
	floats.Scale(1.0/prow[c], prow)
	prow[c] = 1.0
	for i := 0; i < rows; i++ {
		if i == r {
			continue
		}
		row := t.RawRowView(i)
		f := row[c]
		if f != 0.0 {
			floats.AddScaled(row, -f, prow)
			row[c] = 0.0
		}
	}
	basis[r] = c
}

// iterate runs simplex pivots on tableau t until no column among the first ncols has a
// negative reduced cost.  The last row of t holds reduced costs, its last entry is -z.
func iterate(ctx context.Context, t *mat.Dense, basis []int, ncols int) (Status, error) {
	m := len(basis)
	_, width := t.Dims()
	rhs := width - 1
	obj := t.RawRowView(m)
	bland := false
	stalled := 0

	for iter := 0; ; iter++ {
		if iter > maxPivots {
			return Abnormal, nil
		}
		if iter%128 == 0 && ctx.Err() != nil {
			return Abnormal, ctx.Err()
		}

		enter := -1
		if bland {
			for j := 0; j < ncols; j++ {
				if obj[j] < -costTol {
					enter = j
					break
				}
			}
		} else {
			best := -costTol
			for j := 0; j < ncols; j++ {
				if obj[j] < best {
					best = obj[j]
					enter = j
				}
			}
		}
		if enter < 0 {
			return Optimal, nil
		}

		leave := -1
		minRatio := math.Inf(1)
		for i := 0; i < m; i++ {
			row := t.RawRowView(i)
			a := row[enter]
			if a <= pivotTol {
				continue
			}
			ratio := math.Max(row[rhs], 0.0) / a
			if ratio < minRatio-ratioTol || (math.Abs(ratio-minRatio) <= ratioTol && basis[i] < basis[leave]) {
				minRatio = ratio
				leave = i
			}
		}
		if leave < 0 {
			return Unbounded, nil
		}
		if minRatio <= ratioTol {
			stalled++
			if stalled > stallLimit {
				bland = true
			}
		} else {
			stalled = 0
		}
		pivot(t, leave, enter, basis)
	}
}

// solveTableau runs the two-phase simplex on the standard form and returns the optimal y
func (sf *standardForm) solveTableau(ctx context.Context) (Status, []float64, error) {
	m := len(sf.a)
	n := len(sf.c)
	if m == 0 {
		for j := 0; j < n; j++ {
			if sf.c[j] < -costTol {
				return Unbounded, nil, nil
			}
		}
		return Optimal, make([]float64, n), nil
	}

	art := 0
	for _, u := range sf.unit {
		if u < 0 {
			art++
		}
	}
	width := n + art
	t := mat.NewDense(m+1, width+1, nil)
	basis := make([]int, m)
	next := n
	for i := 0; i < m; i++ {
		row := t.RawRowView(i)
		copy(row, sf.a[i])
		row[width] = sf.b[i]
		if sf.unit[i] >= 0 {
			basis[i] = sf.unit[i]
		} else {
			row[next] = 1.0
			basis[i] = next
			next++
		}
	}
	obj := t.RawRowView(m)

	// phase 1 minimizes the sum of the artificial variables
	if art > 0 {
		for j := n; j < width; j++ {
			obj[j] = 1.0
		}
		for i := 0; i < m; i++ {
			if basis[i] >= n {
				floats.Sub(obj, t.RawRowView(i))
			}
		}
		status, err := iterate(ctx, t, basis, width)
		if err != nil {
			return Abnormal, nil, err
		}
		if status != Optimal {
			return Abnormal, nil, nil
		}
		if -obj[width] > feasTol*(1.0+floats.Sum(sf.b)) {
			return Infeasible, nil, nil
		}

		// drive the artificials out of the basis, rows where that is impossible are redundant
		for i := 0; i < m; i++ {
			if basis[i] < n {
				continue
			}
			row := t.RawRowView(i)
			row[width] = 0.0
			enter := -1
			for j := 0; j < n; j++ {
				if math.Abs(row[j]) > pivotTol {
					enter = j
					break
				}
			}
			if enter >= 0 {
				pivot(t, i, enter, basis)
				continue
			}
			for j := 0; j < n; j++ {
				row[j] = 0.0
			}
		}
	}

	// phase 2 prices the original costs against the current basis
	for j := range obj {
		obj[j] = 0.0
	}
	copy(obj[:n], sf.c)
	for i := 0; i < m; i++ {
		if basis[i] >= n {
			continue
		}
		cb := sf.c[basis[i]]
		if cb != 0.0 {
			floats.AddScaled(obj, -cb, t.RawRowView(i))
		}
	}
	status, err := iterate(ctx, t, basis, n)
	if err != nil {
		return Abnormal, nil, err
	}
	if status != Optimal {
		return status, nil, nil
	}

	y := make([]float64, n)
	for i := 0; i < m; i++ {
		if basis[i] < n {
			y[basis[i]] = math.Max(t.At(i, width), 0.0)
		}
	}
	return Optimal, y, nil
}

// simplexRelaxation is the relaxFunc of the bnb backend
func simplexRelaxation(ctx context.Context, m *Model, lb, ub []float64) (relaxResult, error) {
	sf := buildStandardForm(m, lb, ub)
	if sf.infeasible {
		return relaxResult{status: Infeasible}, nil
	}
	status, y, err := sf.solveTableau(ctx)
	if err != nil {
		return relaxResult{status: Abnormal}, err
	}
	if status != Optimal {
		return relaxResult{status: status}, nil
	}
	x := sf.recover(y)
	return relaxResult{status: Optimal, obj: m.obj.Eval(x), x: x}, nil
}
