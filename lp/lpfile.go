package lp

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// lpName maps a variable or constraint name onto the characters the LP file format accepts
func lpName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case strings.ContainsRune("_.()!\"#$%&/,;?@'{}|~", r):
			return r
		}
		return '_'
	}, name)
}

func fmtNum(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (m *Model) writeTerms(w *bufio.Writer, terms []Term) {
	if len(terms) == 0 {
		w.WriteString(" 0 " + lpName(m.vars[0].name))
		return
	}
	for idx, t := range terms {
		coef := t.Coef
		switch {
		case coef < 0:
			w.WriteString(" - ")
			coef = -coef
		case idx > 0:
			w.WriteString(" + ")
		default:
			w.WriteString(" ")
		}
		if coef != 1.0 {
			w.WriteString(fmtNum(coef) + " ")
		}
		w.WriteString(lpName(m.vars[t.Var].name))
	}
}

// WriteLP writes the model in CPLEX LP format
func (m *Model) WriteLP(out io.Writer) error {
	w := bufio.NewWriter(out)
	w.WriteString("\\ Model " + m.Name + "\n")
	w.WriteString("Minimize\n obj:")
	if len(m.vars) > 0 {
		m.writeTerms(w, m.obj.Terms)
	}
	if m.obj.Constant != 0.0 {
		w.WriteString(" + " + fmtNum(m.obj.Constant) + " constant")
	}
	w.WriteString("\nSubject To\n")
	for _, c := range m.cons {
		if len(c.Terms) == 0 {
			continue
		}
		w.WriteString(" " + lpName(c.Name) + ":")
		m.writeTerms(w, c.Terms)
		w.WriteString(" " + c.Sense.String() + " " + fmtNum(c.Rhs) + "\n")
	}
	w.WriteString("Bounds\n")
	for _, vd := range m.vars {
		name := lpName(vd.name)
		switch {
		case vd.lb == vd.ub:
			w.WriteString(" " + name + " = " + fmtNum(vd.lb) + "\n")
		case math.IsInf(vd.ub, 1):
			w.WriteString(" " + name + " >= " + fmtNum(vd.lb) + "\n")
		default:
			w.WriteString(" " + fmtNum(vd.lb) + " <= " + name + " <= " + fmtNum(vd.ub) + "\n")
		}
	}
	generals := make([]string, 0)
	for _, vd := range m.vars {
		if vd.integer {
			generals = append(generals, lpName(vd.name))
		}
	}
	if len(generals) > 0 {
		w.WriteString("Generals\n")
		for _, name := range generals {
			w.WriteString(" " + name + "\n")
		}
	}
	w.WriteString("End\n")
	return errors.Wrap(w.Flush(), "write LP model")
}

// WriteLPFile writes the model in LP format to the named file
func (m *Model) WriteLPFile(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "create %s", filename)
	}
	if err := m.WriteLP(f); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "close %s", filename)
}
