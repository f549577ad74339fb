package xlayer

// mip-path.go is the path-based formulation of the planning problem.  Trunks between two
// routers are sized per candidate optical path, CDN users are routed unsplit from exactly one
// peering node, and background demands are routed as (possibly split) flows over the
// resulting IP links.  The model minimizes the number of deployed trunks.
//
// Variables, all indexed by ordered router pairs (e, f) with e != f:
//
//	flow_cdn   (h, u, e, f)  share of user u of CDN h carried on (e, f)
//	flow_super (h, u, p)     share of user u of CDN h served by peering node p
//	flow_e2e   (s, d, e, f)  share of background demand (s, d) carried on (e, f)
//	ip_capacity (e, f, i)    trunks from e to f riding candidate path i

import (
	"context"
	"fmt"
	"math"

	"github.com/iti/xlayer/lp"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// AlgorithmPathMIP names the path-based formulation in configuration records
const AlgorithmPathMIP = "mip_path"

// valueTol is the magnitude below which solved values count as zero
const valueTol = 1e-6

// PathMIP is the path-based mixed-integer program
type PathMIP struct {
	mipBase

	mode    IPLinkMode
	ipNodes []*IPNode
	pairs   []LinkKey
	paths   map[LinkKey][][]string

	flowCDN   map[string]*varDict[cdnFlowKey]
	flowSuper map[string]*varDict[superKey]
	flowE2E   *varDict[e2eKey]
	capacity  *varDict[capKey]

	// reconfiguration indicators, present only when a reconfiguration fraction is set
	increase *varDict[capKey]
	decrease *varDict[capKey]
}

// CreatePathMIP is a constructor
func CreatePathMIP(input *InputInstance, cfg MIPConfig, opts ...MIPOption) *PathMIP {
	pm := new(PathMIP)
	pm.mipBase = createMIPBase("linearized_model", input, cfg, opts...)
	pm.paths = make(map[LinkKey][][]string)
	pm.flowCDN = make(map[string]*varDict[cdnFlowKey])
	pm.flowSuper = make(map[string]*varDict[superKey])
	pm.flowE2E = createVarDict[e2eKey]()
	pm.capacity = createVarDict[capKey]()
	return pm
}

func (pm *PathMIP) Name() string {
	return AlgorithmPathMIP
}

// Run builds and solves the model
func (pm *PathMIP) Run(ctx context.Context) error {
	if err := pm.Build(); err != nil {
		return err
	}
	return pm.Solve(ctx)
}

// Build creates variables and constraints, applies the fixed layers and sets the objective
func (pm *PathMIP) Build() error {
	if pm.state != StateCreated {
		return errors.Wrapf(ErrBadState, "build in state %s", pm.state)
	}
	if err := pm.cfg.Validate(); err != nil {
		return err
	}
	mode, err := pm.input.Fixed.Validate()
	if err != nil {
		return err
	}
	pm.mode = mode
	if pm.input.Topology.LightpathCapacity() <= 0 {
		return errors.Errorf("topology %s needs a positive %s", pm.input.Topology.Name, ParamLightpathCapacity)
	}

	if err := pm.buildVariables(); err != nil {
		return err
	}
	if err := pm.advance(StateCreated, StateVariablesBuilt); err != nil {
		return err
	}
	pm.buildConstraints()
	if err := pm.advance(StateVariablesBuilt, StateConstraintsBuilt); err != nil {
		return err
	}
	if err := pm.fixLayers(); err != nil {
		return err
	}
	pm.buildObjective()
	return pm.advance(StateConstraintsBuilt, StateObjectiveBuilt)
}

// Solve hands the built model to the solver
func (pm *PathMIP) Solve(ctx context.Context) error {
	return pm.solve(ctx)
}

func (pm *PathMIP) buildVariables() error {
	topo := pm.input.Topology
	integral := !pm.cfg.Relaxed
	pm.ipNodes = topo.IPNodes()
	pm.pairs = make([]LinkKey, 0, len(pm.ipNodes)*len(pm.ipNodes))
	for _, e := range pm.ipNodes {
		for _, f := range pm.ipNodes {
			if e == f {
				continue
			}
			key := LinkKey{From: e.ID, To: f.ID}
			paths, err := topo.CandidatePaths(e, f)
			if err != nil {
				return err
			}
			pm.pairs = append(pm.pairs, key)
			pm.paths[key] = paths
			for idx := range paths {
				v := pm.model.NewVar(0.0, math.Inf(1), integral, fmt.Sprintf("ip_capacity(%s,%s,%d)", e.ID, f.ID, idx))
				pm.capacity.add(capKey{E: e.ID, F: f.ID, Path: idx}, v)
			}
		}
	}
	pm.capacity.buildIndex("pair", func(k capKey) string { return tupleKey(k.E, k.F) })
	pm.capacity.buildIndex("out", func(k capKey) string { return tupleKey(k.E) })
	pm.capacity.buildIndex("in", func(k capKey) string { return tupleKey(k.F) })
	pm.logger.Debug("added trunk capacity variables", zap.Int("count", pm.capacity.len()))

	for _, hg := range pm.input.Demands {
		flows := createVarDict[cdnFlowKey]()
		super := createVarDict[superKey]()
		for _, un := range hg.Users {
			for _, pair := range pm.pairs {
				v := pm.model.NewVar(0.0, 1.0, integral, fmt.Sprintf("flow_%s(%s,%s,%s)", hg.Name, un.ID, pair.From, pair.To))
				flows.add(cdnFlowKey{User: un.ID, E: pair.From, F: pair.To}, v)
			}
		}
		for _, un := range hg.Users {
			for _, pn := range hg.Peering {
				v := pm.model.NewVar(0.0, 1.0, integral, fmt.Sprintf("flow_super_%s(%s,%s)", hg.Name, un.ID, pn.ID))
				super.add(superKey{User: un.ID, Peering: pn.ID}, v)
			}
			for _, share := range un.PrePeering {
				v, _ := super.get(superKey{User: un.ID, Peering: share.Peering})
				pm.model.SetBounds(v, share.Fraction, share.Fraction)
			}
		}
		flows.buildIndex("out", func(k cdnFlowKey) string { return tupleKey(k.User, k.E) })
		flows.buildIndex("in", func(k cdnFlowKey) string { return tupleKey(k.User, k.F) })
		super.buildIndex("user", func(k superKey) string { return tupleKey(k.User) })
		pm.flowCDN[hg.Name] = flows
		pm.flowSuper[hg.Name] = super
		pm.logger.Debug("added CDN flow variables",
			zap.String("cdn", hg.Name), zap.Int("flows", flows.len()), zap.Int("super", super.len()))
	}

	for _, dem := range pm.input.Background.Demands() {
		if dem.Src == dem.Dst {
			continue
		}
		for _, pair := range pm.pairs {
			v := pm.model.NewVar(0.0, 1.0, integral, fmt.Sprintf("flow_e2e(%s,%s,%s,%s)", dem.Src.ID, dem.Dst.ID, pair.From, pair.To))
			pm.flowE2E.add(e2eKey{Src: dem.Src.ID, Dst: dem.Dst.ID, E: pair.From, F: pair.To}, v)
		}
	}
	pm.flowE2E.buildIndex("out", func(k e2eKey) string { return tupleKey(k.Src, k.Dst, k.E) })
	pm.flowE2E.buildIndex("in", func(k e2eKey) string { return tupleKey(k.Src, k.Dst, k.F) })
	pm.logger.Debug("added e2e flow variables", zap.Int("count", pm.flowE2E.len()))
	return nil
}

// pairTrunks is the total trunk count of pair over all candidate paths
func (pm *PathMIP) pairTrunks(pair LinkKey) *lp.Expr {
	return lp.Sum(pm.capacity.selectBy("pair", pair.From, pair.To)...)
}

// traffic is the volume carried on pair by CDN and background flows
func (pm *PathMIP) traffic(pair LinkKey) *lp.Expr {
	expr := lp.NewExpr()
	for _, hg := range pm.input.Demands {
		flows := pm.flowCDN[hg.Name]
		for _, un := range hg.Users {
			v, _ := flows.get(cdnFlowKey{User: un.ID, E: pair.From, F: pair.To})
			expr.AddTerm(v, un.Volume)
		}
	}
	for _, dem := range pm.input.Background.Demands() {
		v, present := pm.flowE2E.get(e2eKey{Src: dem.Src.ID, Dst: dem.Dst.ID, E: pair.From, F: pair.To})
		if present {
			expr.AddTerm(v, dem.Volume)
		}
	}
	return expr
}

func (pm *PathMIP) buildConstraints() {
	topo := pm.input.Topology
	lpCap := topo.LightpathCapacity()
	util, limited := topo.LinkUtilization()

	for _, pair := range pm.pairs {
		load := pm.traffic(pair)
		pm.model.Add(fmt.Sprintf("trunk_capacity(%s,%s)", pair.From, pair.To),
			load, lp.LessEq, lp.NewExpr().AddExpr(pm.pairTrunks(pair), lpCap))
		if limited {
			pm.model.Add(fmt.Sprintf("max_utilization(%s,%s)", pair.From, pair.To),
				load, lp.LessEq, lp.NewExpr().AddExpr(pm.pairTrunks(pair), util*lpCap))
		}
	}

	// symmetry, once per unordered pair
	for i, e := range pm.ipNodes {
		for _, f := range pm.ipNodes[i+1:] {
			for idx := range pm.paths[LinkKey{From: e.ID, To: f.ID}] {
				fwd, _ := pm.capacity.get(capKey{E: e.ID, F: f.ID, Path: idx})
				bwd, present := pm.capacity.get(capKey{E: f.ID, F: e.ID, Path: idx})
				if !present {
					panic(fmt.Errorf("candidate paths of %s and %s differ in number", e.ID, f.ID))
				}
				pm.model.Add(fmt.Sprintf("symmetry(%s,%s,%d)", e.ID, f.ID, idx), lp.Sum(fwd), lp.Equal, lp.Sum(bwd))
			}
		}
	}

	for _, e := range pm.ipNodes {
		degree := lp.Sum(pm.capacity.selectBy("out", e.ID)...).AddVars(pm.capacity.selectBy("in", e.ID), 1.0)
		pm.model.Add(fmt.Sprintf("degree(%s)", e.ID), degree, lp.LessEq, lp.Const(float64(2*e.Transceivers)))
	}

	for _, link := range topo.OpticalLinks() {
		refs := topo.PathsOnLink(link.From.ID, link.To.ID)
		usage := lp.NewExpr()
		for _, ref := range refs {
			v, present := pm.capacity.get(capKey{E: ref.Src, F: ref.Dst, Path: ref.Index})
			if present {
				usage.AddTerm(v, 1.0)
			}
		}
		if len(usage.Terms) == 0 {
			continue
		}
		pm.model.Add(fmt.Sprintf("fiber_capacity(%s,%s)", link.From.ID, link.To.ID),
			usage, lp.LessEq, lp.Const(float64(link.Capacity)))
	}

	pm.buildCDNConstraints()
	pm.buildE2EConstraints()
}

func (pm *PathMIP) buildCDNConstraints() {
	for _, hg := range pm.input.Demands {
		flows := pm.flowCDN[hg.Name]
		super := pm.flowSuper[hg.Name]

		for _, pn := range hg.Peering {
			load := lp.NewExpr()
			for _, un := range hg.Users {
				v, _ := super.get(superKey{User: un.ID, Peering: pn.ID})
				load.AddTerm(v, un.Volume)
			}
			pm.model.Add(fmt.Sprintf("peering_capacity(%s,%s)", hg.Name, pn.ID), load, lp.LessEq, lp.Const(pn.Capacity))
		}

		// super-source linkage per router hosting peering nodes of the CDN
		peersAt := make(map[string][]*PeeringNode)
		for _, pn := range hg.Peering {
			peersAt[pn.IP.ID] = append(peersAt[pn.IP.ID], pn)
		}

		for _, un := range hg.Users {
			for _, e := range pm.ipNodes {
				out := flows.selectBy("out", un.ID, e.ID)
				in := flows.selectBy("in", un.ID, e.ID)
				supply := lp.NewExpr()
				for _, pn := range peersAt[e.ID] {
					v, _ := super.get(superKey{User: un.ID, Peering: pn.ID})
					supply.AddTerm(v, 1.0)
				}
				name := fmt.Sprintf("conservation_%s(%s,%s)", hg.Name, un.ID, e.ID)
				switch {
				case e == un.IP:
					pm.model.Add(name, lp.Sum(out...).AddVars(in, -1.0), lp.Equal, supply.AddConst(-1.0))
				case len(peersAt[e.ID]) > 0:
					pm.model.Add(name, lp.Sum(out...), lp.Equal, supply)
				default:
					pm.model.Add(name, lp.Sum(out...).AddVars(in, -1.0), lp.Equal, lp.Const(0.0))
				}
			}
			pm.model.Add(fmt.Sprintf("single_peering_%s(%s)", hg.Name, un.ID),
				lp.Sum(super.selectBy("user", un.ID)...), lp.Equal, lp.Const(1.0))
		}
	}
}

func (pm *PathMIP) buildE2EConstraints() {
	for _, dem := range pm.input.Background.Demands() {
		if dem.Src == dem.Dst {
			continue
		}
		for _, e := range pm.ipNodes {
			out := pm.flowE2E.selectBy("out", dem.Src.ID, dem.Dst.ID, e.ID)
			in := pm.flowE2E.selectBy("in", dem.Src.ID, dem.Dst.ID, e.ID)
			rhs := 0.0
			switch e {
			case dem.Src:
				rhs = 1.0
			case dem.Dst:
				rhs = -1.0
			}
			name := fmt.Sprintf("conservation_e2e(%s,%s,%s)", dem.Src.ID, dem.Dst.ID, e.ID)
			if e.PeeringHub && e != dem.Dst {
				// peering hubs originate traffic but never take it in
				pm.model.Add(name, lp.Sum(out...), lp.Equal, lp.Const(rhs))
				pm.model.Add(fmt.Sprintf("no_transit_e2e(%s,%s,%s)", dem.Src.ID, dem.Dst.ID, e.ID),
					lp.Sum(in...), lp.Equal, lp.Const(0.0))
			} else {
				pm.model.Add(name, lp.Sum(out...).AddVars(in, -1.0), lp.Equal, lp.Const(rhs))
			}
			pm.model.Add(fmt.Sprintf("loop_out_e2e(%s,%s,%s)", dem.Src.ID, dem.Dst.ID, e.ID),
				lp.Sum(out...), lp.LessEq, lp.Const(1.0))
			pm.model.Add(fmt.Sprintf("loop_in_e2e(%s,%s,%s)", dem.Src.ID, dem.Dst.ID, e.ID),
				lp.Sum(in...), lp.LessEq, lp.Const(1.0))
		}
	}
}

// buildObjective minimizes the trunk count and adds the lower bound on it implied by the
// volume each user router has to receive.  Users served by a peering node on their own
// router need no trunks and are left out of the bound.
func (pm *PathMIP) buildObjective() {
	total := lp.Sum(pm.capacity.all()...)
	pm.model.Minimize(total)

	inbound := make(map[string]float64)
	order := make([]string, 0)
	for _, hg := range pm.input.Demands {
		for _, un := range hg.Users {
			if hg.peersAt(un.IP) {
				continue
			}
			if _, present := inbound[un.IP.ID]; !present {
				order = append(order, un.IP.ID)
			}
			inbound[un.IP.ID] += un.Volume
		}
	}
	bound := 0
	for _, id := range order {
		bound += pm.input.Topology.RequiredTrunks(inbound[id])
	}
	if bound > 0 {
		pm.model.Add("trunk_lower_bound", lp.Sum(pm.capacity.all()...), lp.GreaterEq, lp.Const(float64(2*bound)))
	}
}

// resolvePins parses router pair names and checks that both routers exist
func (pm *PathMIP) resolvePins(names []string) (map[LinkKey]bool, map[string]bool, error) {
	pinned := make(map[LinkKey]bool)
	nodes := make(map[string]bool)
	for _, name := range names {
		key, err := ParseLinkName(name)
		if err != nil {
			return nil, nil, err
		}
		for _, id := range []string{key.From, key.To} {
			if _, err := pm.input.Topology.IPNode(id); err != nil {
				return nil, nil, errors.Wrapf(err, "fixed IP link %s", name)
			}
			nodes[id] = true
		}
		pinned[key] = true
	}
	return pinned, nodes, nil
}

func (pm *PathMIP) fixLayers() error {
	fixed := pm.input.Fixed
	if fixed == nil {
		return nil
	}
	if err := pm.fixCDNLayer(); err != nil {
		return err
	}
	if pm.mode == IPLinksLowerBound {
		if err := pm.fixIPLinks(); err != nil {
			return err
		}
	}
	if len(fixed.FullIPLinks) > 0 {
		if err := pm.fixFullIPLinks(); err != nil {
			return err
		}
	}
	if len(fixed.IPConnectivity) > 0 {
		if err := pm.fixIPConnectivity(); err != nil {
			return err
		}
	}
	switch pm.mode {
	case IPLinksReconfCapacity:
		return pm.limitReconfiguration(*fixed.ReconfFractionIP)
	case IPLinksReconfPath:
		return pm.limitPathReconfiguration(*fixed.ReconfFractionIPWithOpt)
	}
	return nil
}

// fixCDNLayer pins the peering shares of the users listed in the fixed CDN assignment
func (pm *PathMIP) fixCDNLayer() error {
	assignment := pm.input.Fixed.CDNAssignment
	if len(assignment) == 0 {
		return nil
	}
	pm.logger.Info("fixing CDN assignment layer")
	for _, hg := range pm.input.Demands {
		users, present := assignment[hg.Name]
		if !present {
			continue
		}
		super := pm.flowSuper[hg.Name]
		for _, un := range hg.Users {
			shares, present := users[un.ID]
			if !present {
				continue
			}
			for _, share := range shares {
				v, present := super.get(superKey{User: un.ID, Peering: share.Peering})
				if !present {
					return errors.Wrapf(ErrNodeNotFound, "peering node %s assigned to user %s of %s", share.Peering, un.ID, hg.Name)
				}
				pm.model.SetBounds(v, share.Fraction, share.Fraction)
			}
		}
	}
	return nil
}

// fixIPLinks keeps at least the pinned trunks of every pinned pair, and forbids new links
// between routers that were all part of the pinned layer
func (pm *PathMIP) fixIPLinks() error {
	pins := pm.input.Fixed.IPLinks
	names := make([]string, 0, len(pins))
	for name := range pins {
		names = append(names, name)
	}
	pinned, nodes, err := pm.resolvePins(names)
	if err != nil {
		return err
	}
	pm.logger.Info("fixing IP links", zap.Int("pinned", len(pinned)))
	for _, pair := range pm.pairs {
		name := LinkName(pair.From, pair.To)
		if pinned[pair] {
			pm.model.Add("fix_ip_link("+name+")", pm.pairTrunks(pair), lp.GreaterEq, lp.Const(pins[name].NumTrunks))
		} else if nodes[pair.From] && nodes[pair.To] {
			pm.model.Add("fix_ip_link("+name+")", pm.pairTrunks(pair), lp.Equal, lp.Const(0.0))
		}
	}
	return nil
}

// fixFullIPLinks pins the trunk count of every pair
func (pm *PathMIP) fixFullIPLinks() error {
	pins := pm.input.Fixed.FullIPLinks
	names := make([]string, 0, len(pins))
	for name := range pins {
		names = append(names, name)
	}
	pinned, _, err := pm.resolvePins(names)
	if err != nil {
		return err
	}
	pm.logger.Info("fixing all IP links", zap.Int("pinned", len(pinned)))
	for _, pair := range pm.pairs {
		name := LinkName(pair.From, pair.To)
		trunks := 0.0
		if pinned[pair] {
			trunks = pins[name]
		}
		pm.model.Add("fix_full_ip_link("+name+")", pm.pairTrunks(pair), lp.Equal, lp.Const(trunks))
	}
	return nil
}

// fixIPConnectivity keeps the pinned adjacencies and forbids new ones among pinned routers;
// trunk counts stay free
func (pm *PathMIP) fixIPConnectivity() error {
	pinned, nodes, err := pm.resolvePins(pm.input.Fixed.IPConnectivity)
	if err != nil {
		return err
	}
	pm.logger.Info("fixing IP connectivity", zap.Int("pinned", len(pinned)))
	for _, pair := range pm.pairs {
		name := LinkName(pair.From, pair.To)
		if pinned[pair] {
			pm.model.Add("fix_ip_connectivity("+name+")", pm.pairTrunks(pair), lp.GreaterEq, lp.Const(1.0))
		} else if nodes[pair.From] && nodes[pair.To] {
			pm.model.Add("fix_ip_connectivity("+name+")", pm.pairTrunks(pair), lp.Equal, lp.Const(0.0))
		}
	}
	return nil
}

// bigM bounds the change of trunks on one pair: no pair carries more than twice the largest
// transceiver count, and no decrease exceeds the largest baseline
func (pm *PathMIP) bigM() float64 {
	bigM := math.Max(1.0, float64(2*pm.input.Topology.MaxTransceivers()))
	for _, pin := range pm.input.Fixed.IPLinks {
		bigM = math.Max(bigM, pin.NumTrunks)
	}
	return bigM
}

// addChangeIndicators creates binaries inc and dec under key that are forced to 1 when
// expr exceeds, respectively falls short of, base
func (pm *PathMIP) addChangeIndicators(key capKey, label string, expr *lp.Expr, base, bigM float64) (lp.Var, lp.Var) {
	inc := pm.model.NewBoolVar(fmt.Sprintf("ip_rc_increase%s%s", label, key.name()))
	dec := pm.model.NewBoolVar(fmt.Sprintf("ip_rc_decrease%s%s", label, key.name()))
	pm.model.Add(fmt.Sprintf("reconf_increase%s%s", label, key.name()),
		lp.NewExpr().AddExpr(expr, 1.0).AddConst(-base), lp.LessEq, lp.NewExpr().AddTerm(inc, bigM))
	pm.model.Add(fmt.Sprintf("reconf_decrease%s%s", label, key.name()),
		lp.Const(base).AddExpr(expr, -1.0), lp.LessEq, lp.NewExpr().AddTerm(dec, bigM))
	return inc, dec
}

// limitChanges bounds the number of pairs marked as changed by fraction of N*N
func (pm *PathMIP) limitChanges(fraction float64) {
	n := float64(len(pm.ipNodes))
	changed := lp.Sum(pm.increase.all()...).AddVars(pm.decrease.all(), 1.0)
	pm.model.Add("reconf_limit", changed, lp.LessEq, lp.Const(fraction*n*n))
}

// limitReconfiguration bounds the share of pairs whose trunk count differs from the baseline
func (pm *PathMIP) limitReconfiguration(fraction float64) error {
	base, err := pm.baseline()
	if err != nil {
		return err
	}
	pm.logger.Info("limiting reconfiguration of IP links", zap.Float64("fraction", fraction))
	bigM := pm.bigM()
	pm.increase = createVarDict[capKey]()
	pm.decrease = createVarDict[capKey]()
	for _, pair := range pm.pairs {
		key := capKey{E: pair.From, F: pair.To, Path: -1}
		inc, dec := pm.addChangeIndicators(key, "", pm.pairTrunks(pair), base[pair].NumTrunks, bigM)
		pm.increase.add(key, inc)
		pm.decrease.add(key, dec)
	}
	pm.limitChanges(fraction)
	return nil
}

// limitPathReconfiguration is limitReconfiguration where moving trunks between candidate
// paths of a pair also counts as a change
func (pm *PathMIP) limitPathReconfiguration(fraction float64) error {
	base, err := pm.baseline()
	if err != nil {
		return err
	}
	for pair, pin := range base {
		if pin.NumTrunks > 0 && len(pin.PathTrunks) == 0 {
			return errors.Wrapf(ErrConflictingFixedLayers, "pin of %s has no per-path trunks", pair)
		}
		if len(pin.PathTrunks) > len(pm.paths[pair]) {
			return errors.Wrapf(ErrConflictingFixedLayers, "pin of %s has %d paths, the topology offers %d",
				pair, len(pin.PathTrunks), len(pm.paths[pair]))
		}
	}
	pm.logger.Info("limiting reconfiguration of IP links and optical paths", zap.Float64("fraction", fraction))
	bigM := pm.bigM()
	pm.increase = createVarDict[capKey]()
	pm.decrease = createVarDict[capKey]()
	for _, pair := range pm.pairs {
		pin := base[pair]
		pathInc := lp.NewExpr()
		pathDec := lp.NewExpr()
		for idx := range pm.paths[pair] {
			key := capKey{E: pair.From, F: pair.To, Path: idx}
			v, _ := pm.capacity.get(key)
			pinned := 0.0
			if idx < len(pin.PathTrunks) {
				pinned = pin.PathTrunks[idx]
			}
			inc, dec := pm.addChangeIndicators(key, "_opt", lp.Sum(v), pinned, bigM)
			pathInc.AddTerm(inc, 1.0)
			pathDec.AddTerm(dec, 1.0)
		}
		// a pair changes when any of its paths does
		key := capKey{E: pair.From, F: pair.To, Path: -1}
		inc := pm.model.NewBoolVar("ip_rc_increase" + key.name())
		dec := pm.model.NewBoolVar("ip_rc_decrease" + key.name())
		width := float64(len(pm.paths[pair]))
		pm.model.Add("reconf_increase"+key.name(), pathInc, lp.LessEq, lp.NewExpr().AddTerm(inc, width))
		pm.model.Add("reconf_decrease"+key.name(), pathDec, lp.LessEq, lp.NewExpr().AddTerm(dec, width))
		pm.increase.add(key, inc)
		pm.decrease.add(key, dec)
	}
	pm.limitChanges(fraction)
	return nil
}

// baseline resolves the IP link layer against which reconfigurations are counted
func (pm *PathMIP) baseline() (map[LinkKey]IPLinkPin, error) {
	pins := pm.input.Fixed.IPLinks
	names := make([]string, 0, len(pins))
	for name := range pins {
		names = append(names, name)
	}
	pinned, _, err := pm.resolvePins(names)
	if err != nil {
		return nil, err
	}
	rtn := make(map[LinkKey]IPLinkPin)
	for key := range pinned {
		rtn[key] = pins[key.String()]
	}
	return rtn, nil
}

func (k capKey) name() string {
	if k.Path < 0 {
		return fmt.Sprintf("(%s,%s)", k.E, k.F)
	}
	return fmt.Sprintf("(%s,%s,%d)", k.E, k.F, k.Path)
}

// SetSolutionHint maps a prior solution onto the model's variables as a starting point.
// Candidate paths are matched by their optical node sequence, peering assignments by node id
// and flows by their router pair; variables left unmatched are hinted at zero.
func (pm *PathMIP) SetSolutionHint(sol *SolutionInstance) error {
	if pm.state != StateObjectiveBuilt {
		return errors.Wrapf(ErrBadState, "hint in state %s", pm.state)
	}
	vars := make([]lp.Var, 0)
	vals := make([]float64, 0)
	hint := func(v lp.Var, val float64) {
		vars = append(vars, v)
		vals = append(vals, val)
	}

	for _, ipl := range sol.IPLinks {
		pair := LinkKey{From: ipl.Node1, To: ipl.Node2}
		cands, present := pm.paths[pair]
		if !present {
			pm.logger.Debug("hint for unknown IP link", zap.String("link", pair.String()))
			continue
		}
		seqs := ipl.PathSequences()
		trunks := ipl.PathTrunks()
		for idx, cand := range cands {
			v, _ := pm.capacity.get(capKey{E: pair.From, F: pair.To, Path: idx})
			val := 0.0
			for pathIdx, seq := range seqs {
				if sameSequence(seq, cand) {
					val = trunks[pathIdx]
					break
				}
			}
			hint(v, val)
		}
	}

	for _, assign := range sol.CDNAssignment {
		hg, err := pm.input.Demands.Hypergiant(assign.Name)
		if err != nil {
			pm.logger.Debug("hint for unknown CDN", zap.String("cdn", assign.Name))
			continue
		}
		flows := pm.flowCDN[hg.Name]
		super := pm.flowSuper[hg.Name]
		for _, ua := range assign.Users {
			if _, err := hg.EndUser(ua.NodeID); err != nil {
				continue
			}
			shares := make(map[string]float64)
			for _, ps := range ua.Peering {
				shares[ps.Peering] = ps.Fraction
			}
			for _, pn := range hg.Peering {
				v, _ := super.get(superKey{User: ua.NodeID, Peering: pn.ID})
				hint(v, shares[pn.ID])
			}
			routes := make(map[LinkKey]float64)
			for _, al := range ua.Routes {
				routes[LinkKey{From: al.From, To: al.To}] = al.Value
			}
			for _, pair := range pm.pairs {
				v, _ := flows.get(cdnFlowKey{User: ua.NodeID, E: pair.From, F: pair.To})
				hint(v, routes[pair])
			}
		}
	}

	for _, rd := range sol.E2ERouting {
		dem, present := pm.input.Background[DemandKey{Src: rd.Node1, Dst: rd.Node2}]
		if !present || dem.Volume <= 0 {
			continue
		}
		shares := make(map[LinkKey]float64)
		for _, ps := range rd.Paths {
			shares[LinkKey{From: ps.Link[0], To: ps.Link[1]}] += ps.Volume / dem.Volume
		}
		for _, pair := range pm.pairs {
			v, present := pm.flowE2E.get(e2eKey{Src: rd.Node1, Dst: rd.Node2, E: pair.From, F: pair.To})
			if present {
				hint(v, shares[pair])
			}
		}
	}

	pm.model.SetHint(vars, vals)
	pm.logger.Debug("solution hint set", zap.Int("variables", len(vars)))
	return nil
}

func sameSequence(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for idx := range a {
		if a[idx] != b[idx] {
			return false
		}
	}
	return true
}

// Solution extracts the plan found by the solver.  Without a solution the result is empty
// and carries only the solver time.
func (pm *PathMIP) Solution() (*SolutionInstance, error) {
	ok, err := pm.classify()
	if err != nil {
		return nil, err
	}
	if !ok {
		return pm.emptySolution(), nil
	}
	sol := CreateSolutionInstance(pm.extractIPLinks(), pm.extractCDNAssignment(), pm.extractE2ERouting())
	pm.annotate(sol)
	CalculateMetrics(sol, pm.input)
	if pm.state == StateSolved {
		if err := pm.advance(StateSolved, StateExtracted); err != nil {
			return nil, err
		}
	}
	return sol, nil
}

// solved returns the value of v, rounded when v is integral
func (pm *PathMIP) solved(v lp.Var) float64 {
	val := pm.value(v)
	if pm.model.IsInteger(v) {
		return math.Round(val)
	}
	return val
}

func (pm *PathMIP) extractIPLinks() []IPLink {
	rtn := make([]IPLink, 0)
	for _, pair := range pm.pairs {
		total := 0.0
		hops := make([]OptHop, 0)
		for idx, optPath := range pm.paths[pair] {
			v, _ := pm.capacity.get(capKey{E: pair.From, F: pair.To, Path: idx})
			trunks := pm.solved(v)
			if trunks <= valueTol {
				continue
			}
			total += trunks
			if len(optPath) == 1 {
				hops = append(hops, OptHop{From: optPath[0], To: optPath[0], Trunks: trunks, Path: idx})
				continue
			}
			for hop := 0; hop+1 < len(optPath); hop++ {
				hops = append(hops, OptHop{From: optPath[hop], To: optPath[hop+1], Trunks: trunks, Path: idx})
			}
		}
		if len(hops) == 0 {
			continue
		}
		rtn = append(rtn, IPLink{Node1: pair.From, Node2: pair.To, NumTrunks: total, OptLinks: hops})
	}
	return rtn
}

func (pm *PathMIP) extractCDNAssignment() []CDNAssignment {
	rtn := make([]CDNAssignment, 0, len(pm.input.Demands))
	for _, hg := range pm.input.Demands {
		flows := pm.flowCDN[hg.Name]
		super := pm.flowSuper[hg.Name]
		assign := CDNAssignment{Name: hg.Name, Users: make([]UserAssignment, 0, len(hg.Users))}
		for _, un := range hg.Users {
			ua := UserAssignment{NodeID: un.ID, Peering: make([]PeeringShare, 0), Routes: make([]Allocation, 0)}
			for _, pn := range hg.Peering {
				v, _ := super.get(superKey{User: un.ID, Peering: pn.ID})
				if frac := pm.solved(v); frac > valueTol {
					ua.Peering = append(ua.Peering, PeeringShare{Peering: pn.ID, Fraction: frac})
				}
			}
			for _, pair := range pm.pairs {
				v, _ := flows.get(cdnFlowKey{User: un.ID, E: pair.From, F: pair.To})
				if val := pm.solved(v); val > valueTol {
					ua.Routes = append(ua.Routes, Allocation{From: pair.From, To: pair.To, Value: val})
				}
			}
			assign.Users = append(assign.Users, ua)
		}
		rtn = append(rtn, assign)
	}
	return rtn
}

func (pm *PathMIP) extractE2ERouting() []RoutedDemand {
	rtn := make([]RoutedDemand, 0, len(pm.input.Background))
	for _, dem := range pm.input.Background.Demands() {
		rd := RoutedDemand{Node1: dem.Src.ID, Node2: dem.Dst.ID, Paths: make([]PathShare, 0)}
		for _, pair := range pm.pairs {
			v, present := pm.flowE2E.get(e2eKey{Src: dem.Src.ID, Dst: dem.Dst.ID, E: pair.From, F: pair.To})
			if !present {
				continue
			}
			if val := pm.solved(v); val > valueTol {
				rd.Paths = append(rd.Paths, PathShare{Link: [2]string{pair.From, pair.To}, Volume: val * dem.Volume})
			}
		}
		rtn = append(rtn, rd)
	}
	return rtn
}

// CandidatePathsOf returns the candidate paths the model uses for the pair (e, f)
func (pm *PathMIP) CandidatePathsOf(e, f string) [][]string {
	return pm.paths[LinkKey{From: e, To: f}]
}
