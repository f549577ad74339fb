package xlayer

// vardict.go holds the dictionaries of MIP variables.  Variables are keyed by explicit tuples
// (structs of node ids), remember their insertion order, and carry secondary indices that
// group them by a projection of the key, e.g. all flow variables leaving a router.  Indices
// are built once after all variables of a family have been created.

import (
	"fmt"
	"strings"

	"github.com/iti/xlayer/lp"
	"golang.org/x/exp/slices"
)

// varDict maps tuple keys to variables
type varDict[K comparable] struct {
	order []K
	vars  map[K]lp.Var
	index map[string]map[string][]lp.Var
}

func createVarDict[K comparable]() *varDict[K] {
	return &varDict[K]{
		order: make([]K, 0),
		vars:  make(map[K]lp.Var),
		index: make(map[string]map[string][]lp.Var),
	}
}

func (vd *varDict[K]) add(key K, v lp.Var) {
	_, present := vd.vars[key]
	if present {
		panic(fmt.Errorf("variable key %v added twice", key))
	}
	vd.order = append(vd.order, key)
	vd.vars[key] = v
}

func (vd *varDict[K]) get(key K) (lp.Var, bool) {
	v, present := vd.vars[key]
	return v, present
}

func (vd *varDict[K]) all() []lp.Var {
	rtn := make([]lp.Var, len(vd.order))
	for idx, key := range vd.order {
		rtn[idx] = vd.vars[key]
	}
	return rtn
}

func (vd *varDict[K]) len() int {
	return len(vd.order)
}

// buildIndex groups the variables under name by the projection proj of their keys,
// keeping insertion order within each group
func (vd *varDict[K]) buildIndex(name string, proj func(K) string) {
	idx := make(map[string][]lp.Var)
	for _, key := range vd.order {
		p := proj(key)
		idx[p] = append(idx[p], vd.vars[key])
	}
	vd.index[name] = idx
}

// selectBy returns the variables in group value of index name
func (vd *varDict[K]) selectBy(name string, value ...string) []lp.Var {
	idx, present := vd.index[name]
	if !present {
		panic(fmt.Errorf("variable index %s was never built", name))
	}
	return idx[tupleKey(value...)]
}

// tupleKey joins key parts into a single index key
func tupleKey(parts ...string) string {
	return strings.Join(parts, "\x00")
}

// cdnFlowKey is a CDN flow of end user User on IP link (E, F)
type cdnFlowKey struct {
	User, E, F string
}

// superKey links end user User to peering node Peering
type superKey struct {
	User, Peering string
}

// e2eKey is a background flow of demand (Src, Dst) on IP link (E, F)
type e2eKey struct {
	Src, Dst, E, F string
}

// capKey is the trunk count from E to F over candidate path Path
type capKey struct {
	E, F string
	Path int
}

func sortedLinkKeys(keys map[LinkKey]bool) []LinkKey {
	rtn := make([]LinkKey, 0, len(keys))
	for key := range keys {
		rtn = append(rtn, key)
	}
	slices.SortFunc(rtn, func(a, b LinkKey) int {
		return strings.Compare(a.String(), b.String())
	})
	return rtn
}
