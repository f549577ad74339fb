package xlayer

// routes.go provides the candidate optical paths between routers, and the reverse index from
// each directed optical hop to the candidate paths that use it.
//
// The optical layer is converted into a weighted undirected gonum graph whose node ids are
// assigned at insertion.  For a source site we compute, once, the tree of all tied shortest
// paths with path.DijkstraAllFrom and cache it; every query from the same source reads the
// cached tree.  Adding a fiber clears the cache.  The graph package returns tied paths in no
// particular order, so they are sorted by their sequence of node ids, which makes the path
// index stable from run to run.  For the pair (e, f) with e.ID > f.ID the sort key is the
// reversed sequence, so that candidate path i of (e, f) and of (f, e) is the same fiber route.

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
)

// getSPTree returns the tree of all shortest paths rooted in from, computing and caching it if needed
func (topo *Topology) getSPTree(from *OpticalNode) path.ShortestAlts {
	spTree, present := topo.cachedSP[from.gid]
	if present {
		return spTree
	}
	spTree = path.DijkstraAllFrom(topo.graph.Node(from.gid), topo.graph)
	topo.cachedSP[from.gid] = spTree
	return spTree
}

// convertNodeSeq maps a sequence of graph nodes to optical node ids
func (topo *Topology) convertNodeSeq(nsQ []graph.Node) []string {
	rtn := make([]string, len(nsQ))
	for idx, node := range nsQ {
		rtn[idx] = topo.nodeAt[node.ID()].ID
	}
	return rtn
}

// CandidatePaths returns every minimum-weight optical path between the sites hosting src and dst,
// each as the sequence of optical node ids visited.  Routers on the same site get the single
// path holding that site.  Each hop (m, n) of path i is recorded in the reverse index under
// PathRef{src, dst, i}.  An error wrapping ErrNoRoute is returned when the sites are not connected.
func (topo *Topology) CandidatePaths(src, dst *IPNode) ([][]string, error) {
	var paths [][]string
	if src.Optical == dst.Optical {
		paths = [][]string{{src.Optical.ID}}
	} else {
		spTree := topo.getSPTree(src.Optical)
		nodeSeqs, weight := spTree.AllTo(dst.Optical.gid)
		if math.IsInf(weight, 1) || len(nodeSeqs) == 0 {
			return nil, errors.Wrapf(ErrNoRoute, "between %s and %s", src.ID, dst.ID)
		}
		paths = make([][]string, len(nodeSeqs))
		for idx, nodeSeq := range nodeSeqs {
			paths[idx] = topo.convertNodeSeq(nodeSeq)
		}
		if src.ID <= dst.ID {
			slices.SortFunc(paths, func(a, b []string) int { return slices.Compare(a, b) })
		} else {
			slices.SortFunc(paths, func(a, b []string) int { return slices.Compare(reversed(a), reversed(b)) })
		}
	}

	pair := LinkKey{From: src.ID, To: dst.ID}
	topo.paths[pair] = paths
	for idx, optPath := range paths {
		ref := PathRef{Src: src.ID, Dst: dst.ID, Index: idx}
		for hop := 0; hop+1 < len(optPath); hop++ {
			topo.recordPathOnLink(LinkKey{From: optPath[hop], To: optPath[hop+1]}, ref)
		}
	}
	if ce := topo.logger.Check(zap.DebugLevel, "candidate paths"); ce != nil {
		shown := make([]string, len(paths))
		for idx, optPath := range paths {
			shown[idx] = ShowPath(optPath)
		}
		ce.Write(zap.String("src", src.ID), zap.String("dst", dst.ID), zap.Strings("paths", shown))
	}
	return paths, nil
}

func (topo *Topology) recordPathOnLink(hop LinkKey, ref PathRef) {
	seen, present := topo.pathRefSeen[hop]
	if !present {
		seen = make(map[PathRef]bool)
		topo.pathRefSeen[hop] = seen
	}
	if seen[ref] {
		return
	}
	seen[ref] = true
	topo.pathsOnLink[hop] = append(topo.pathsOnLink[hop], ref)
}

// PathsOnLink returns the candidate paths recorded as crossing the directed optical hop from -> to,
// in the order they were discovered
func (topo *Topology) PathsOnLink(from, to string) []PathRef {
	return topo.pathsOnLink[LinkKey{From: from, To: to}]
}

// KnownPaths returns the candidate paths last computed for the ordered pair (src, dst)
func (topo *Topology) KnownPaths(src, dst string) ([][]string, bool) {
	paths, present := topo.paths[LinkKey{From: src, To: dst}]
	return paths, present
}

// PathLength is the weight of the shortest optical path between the sites of src and dst,
// +Inf when they are not connected
func (topo *Topology) PathLength(src, dst *IPNode) float64 {
	if src.Optical == dst.Optical {
		return 0.0
	}
	return topo.getSPTree(src.Optical).WeightTo(dst.Optical.gid)
}

func reversed(seq []string) []string {
	rtn := slices.Clone(seq)
	slices.Reverse(rtn)
	return rtn
}

// ShowPath renders an optical path as a comma separated list of node ids
func ShowPath(optPath []string) string {
	return strings.Join(optPath, ",")
}
