package lp

// model.go holds the in-memory representation of a mixed-integer linear program:
// variables with bounds and integrality, linear expressions, named constraints,
// a minimization objective and an optional solution hint.

import (
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"
)

// Inf is the bound used for variables without an upper limit
var Inf = math.Inf(1)

// Var identifies a variable of a Model.  It is the index of the variable in
// creation order.
type Var int

// Sense is the relation of a linear constraint
type Sense int

const (
	LessEq Sense = iota
	GreaterEq
	Equal
)

func (s Sense) String() string {
	switch s {
	case LessEq:
		return "<="
	case GreaterEq:
		return ">="
	case Equal:
		return "="
	}
	return "?"
}

// Term is one coefficient-variable product of an Expr
type Term struct {
	Var  Var
	Coef float64
}

// Expr is a linear expression sum(coef*var) + constant.  The methods that modify
// an Expr return it so that construction can be chained.
type Expr struct {
	Terms    []Term
	Constant float64
}

// NewExpr returns an empty expression
func NewExpr() *Expr {
	return &Expr{Terms: make([]Term, 0)}
}

// Sum returns the expression summing the given variables with coefficient 1
func Sum(vars ...Var) *Expr {
	return NewExpr().AddVars(vars, 1.0)
}

// Const returns an expression holding only a constant
func Const(c float64) *Expr {
	return &Expr{Terms: make([]Term, 0), Constant: c}
}

// AddTerm adds coef*v
func (e *Expr) AddTerm(v Var, coef float64) *Expr {
	e.Terms = append(e.Terms, Term{Var: v, Coef: coef})
	return e
}

// AddVars adds coef*v for every v in vars
func (e *Expr) AddVars(vars []Var, coef float64) *Expr {
	for _, v := range vars {
		e.Terms = append(e.Terms, Term{Var: v, Coef: coef})
	}
	return e
}

// AddExpr adds scale*other
func (e *Expr) AddExpr(other *Expr, scale float64) *Expr {
	for _, t := range other.Terms {
		e.Terms = append(e.Terms, Term{Var: t.Var, Coef: scale * t.Coef})
	}
	e.Constant += scale * other.Constant
	return e
}

// AddConst adds a constant
func (e *Expr) AddConst(c float64) *Expr {
	e.Constant += c
	return e
}

// Eval computes the value of the expression at point x
func (e *Expr) Eval(x []float64) float64 {
	val := e.Constant
	for _, t := range e.Terms {
		val += t.Coef * x[t.Var]
	}
	return val
}

// normalized returns the terms with duplicate variables combined and zero coefficients
// removed, ordered by variable
func (e *Expr) normalized() []Term {
	acc := make(map[Var]float64)
	for _, t := range e.Terms {
		acc[t.Var] += t.Coef
	}
	rtn := make([]Term, 0, len(acc))
	for v, c := range acc {
		if c != 0.0 {
			rtn = append(rtn, Term{Var: v, Coef: c})
		}
	}
	sort.Slice(rtn, func(i, j int) bool { return rtn[i].Var < rtn[j].Var })
	return rtn
}

// Constraint is the normalized linear row sum(Terms) Sense Rhs
type Constraint struct {
	Name  string
	Terms []Term
	Sense Sense
	Rhs   float64
}

// Activity computes the left-hand side of the constraint at point x
func (c *Constraint) Activity(x []float64) float64 {
	val := 0.0
	for _, t := range c.Terms {
		val += t.Coef * x[t.Var]
	}
	return val
}

type varData struct {
	name    string
	lb, ub  float64
	integer bool
}

// Model is a minimization mixed-integer linear program
type Model struct {
	Name  string
	vars  []varData
	cons  []*Constraint
	names map[string]Var
	obj   *Expr
	hint  map[Var]float64
}

// CreateModel is a constructor
func CreateModel(name string) *Model {
	m := new(Model)
	m.Name = name
	m.vars = make([]varData, 0)
	m.cons = make([]*Constraint, 0)
	m.names = make(map[string]Var)
	m.obj = NewExpr()
	m.hint = make(map[Var]float64)
	return m
}

// NewVar creates a variable with the given bounds.  Lower bounds must be finite.
// The name must be unique in the model, as it identifies the variable in LP dumps.
func (m *Model) NewVar(lb, ub float64, integer bool, name string) Var {
	if math.IsInf(lb, 0) || math.IsNaN(lb) {
		panic(fmt.Errorf("variable %s needs a finite lower bound", name))
	}
	_, present := m.names[name]
	if present {
		panic(fmt.Errorf("duplicated variable name %s", name))
	}
	v := Var(len(m.vars))
	m.vars = append(m.vars, varData{name: name, lb: lb, ub: ub, integer: integer})
	m.names[name] = v
	return v
}

// NewIntVar creates an integer variable
func (m *Model) NewIntVar(lb, ub float64, name string) Var {
	return m.NewVar(lb, ub, true, name)
}

// NewNumVar creates a continuous variable
func (m *Model) NewNumVar(lb, ub float64, name string) Var {
	return m.NewVar(lb, ub, false, name)
}

// NewBoolVar creates a 0/1 integer variable
func (m *Model) NewBoolVar(name string) Var {
	return m.NewVar(0, 1, true, name)
}

// VarByName looks up a variable
func (m *Model) VarByName(name string) (Var, bool) {
	v, present := m.names[name]
	return v, present
}

func (m *Model) VarName(v Var) string { return m.vars[v].name }
func (m *Model) IsInteger(v Var) bool { return m.vars[v].integer }
func (m *Model) NumVars() int { return len(m.vars) }
func (m *Model) NumConstraints() int { return len(m.cons) }
func (m *Model) Constraints() []*Constraint { return m.cons }
func (m *Model) Objective() *Expr { return m.obj }

// Bounds returns the lower and upper bound of v
func (m *Model) Bounds(v Var) (float64, float64) {
	return m.vars[v].lb, m.vars[v].ub
}

// SetBounds replaces both bounds of v
func (m *Model) SetBounds(v Var, lb, ub float64) {
	m.vars[v].lb = lb
	m.vars[v].ub = ub
}

// SetLB replaces the lower bound of v
func (m *Model) SetLB(v Var, lb float64) {
	m.vars[v].lb = lb
}

// SetUB replaces the upper bound of v
func (m *Model) SetUB(v Var, ub float64) {
	m.vars[v].ub = ub
}

// Relax drops the integrality of every variable
func (m *Model) Relax() {
	for idx := range m.vars {
		m.vars[idx].integer = false
	}
}

// Add adds the constraint lhs sense rhs.  Both sides are moved into a single
// normalized row.
func (m *Model) Add(name string, lhs *Expr, sense Sense, rhs *Expr) *Constraint {
	row := NewExpr().AddExpr(lhs, 1.0).AddExpr(rhs, -1.0)
	c := &Constraint{Name: name, Terms: row.normalized(), Sense: sense, Rhs: -row.Constant}
	m.cons = append(m.cons, c)
	return c
}

// Minimize sets the objective
func (m *Model) Minimize(obj *Expr) {
	m.obj = &Expr{Terms: obj.normalized(), Constant: obj.Constant}
}

// SetHint records a suggested value for each listed variable
func (m *Model) SetHint(vars []Var, vals []float64) {
	if len(vars) != len(vals) {
		panic(fmt.Errorf("hint has %d variables but %d values", len(vars), len(vals)))
	}
	for idx, v := range vars {
		m.hint[v] = vals[idx]
	}
}

// Hint returns a full point built from the recorded hint, with unhinted variables at their lower bound.
// The boolean is false when no hint was given.
func (m *Model) Hint() ([]float64, bool) {
	if len(m.hint) == 0 {
		return nil, false
	}
	x := make([]float64, len(m.vars))
	for idx, vd := range m.vars {
		x[idx] = vd.lb
	}
	for v, val := range m.hint {
		x[v] = val
	}
	return x, true
}

func (m *Model) lowerBounds() []float64 {
	lb := make([]float64, len(m.vars))
	for idx, vd := range m.vars {
		lb[idx] = vd.lb
	}
	return lb
}

func (m *Model) upperBounds() []float64 {
	ub := make([]float64, len(m.vars))
	for idx, vd := range m.vars {
		ub[idx] = vd.ub
	}
	return ub
}

// ErrInfeasiblePoint is returned by Verify when a point violates the model
var ErrInfeasiblePoint = errors.New("point violates the model")

// Verify checks that x satisfies every bound, integrality requirement and constraint
// of the model within tolerance tol, scaled by the magnitude of the row.
func (m *Model) Verify(x []float64, tol float64) error {
	if len(x) != len(m.vars) {
		return errors.Errorf("point has %d entries, model has %d variables", len(x), len(m.vars))
	}
	for idx, vd := range m.vars {
		if x[idx] < vd.lb-tol || x[idx] > vd.ub+tol {
			return errors.Wrapf(ErrInfeasiblePoint, "variable %s = %g outside [%g, %g]", vd.name, x[idx], vd.lb, vd.ub)
		}
		if vd.integer && math.Abs(x[idx]-math.Round(x[idx])) > tol {
			return errors.Wrapf(ErrInfeasiblePoint, "variable %s = %g is not integral", vd.name, x[idx])
		}
	}
	for _, c := range m.cons {
		act := c.Activity(x)
		scale := math.Max(1.0, math.Abs(c.Rhs))
		for _, t := range c.Terms {
			scale = math.Max(scale, math.Abs(t.Coef*x[t.Var]))
		}
		viol := 0.0
		switch c.Sense {
		case LessEq:
			viol = act - c.Rhs
		case GreaterEq:
			viol = c.Rhs - act
		case Equal:
			viol = math.Abs(act - c.Rhs)
		}
		if viol > tol*scale {
			return errors.Wrapf(ErrInfeasiblePoint, "constraint %s: %g %s %g violated by %g", c.Name, act, c.Sense, c.Rhs, viol)
		}
	}
	return nil
}
