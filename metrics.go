package xlayer

// metrics.go derives key figures of a plan and records them on the solution.  Statistics
// are only recorded when there is something to compute them over, so no metric is NaN.

import (
	"math"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CalculateMetrics records every derived metric on sol.  input supplies fiber capacities and
// demand volumes and may be nil, in which case the metrics needing them are skipped.
func CalculateMetrics(sol *SolutionInstance, input *InputInstance) {
	trunkMetrics(sol, input)
	fiberMetrics(sol, input)
	degreeMetrics(sol)
	ipUtilizationMetrics(sol, input)
	ipHopMetrics(sol)
	optHopMetrics(sol, input)
}

func trunkMetrics(sol *SolutionInstance, input *InputInstance) {
	total := 0.0
	hops := 0
	weighted := 0.0
	dist := make([]int, 0, len(sol.IPLinks))
	for _, ipl := range sol.IPLinks {
		total += ipl.NumTrunks
		hops += len(ipl.OptLinks)
		weighted += float64(len(ipl.OptLinks)) * ipl.NumTrunks
		dist = append(dist, int(math.Round(ipl.NumTrunks)))
	}
	sol.AddMetric("deployed_ip_trunks", total)
	sol.AddMetric("num_ip_links", len(sol.IPLinks))
	sol.AddMetric("distribution_ip_trunks", dist)
	sol.AddMetric("total_num_lightpath_hops", hops)
	sol.AddMetric("total_weighted_lightpath_hops", weighted)

	if input == nil || input.Topology == nil {
		return
	}
	lpCap := input.Topology.LightpathCapacity()
	capacities := make([]float64, len(sol.IPLinks))
	for idx, ipl := range sol.IPLinks {
		capacities[idx] = ipl.NumTrunks * lpCap
	}
	sol.AddMetric("distribution_trunk_capacities", capacities)
}

// fiberMetrics is the share of each used fiber's capacity occupied by trunks
func fiberMetrics(sol *SolutionInstance, input *InputInstance) {
	if input == nil || input.Topology == nil {
		return
	}
	waves := make(map[LinkKey]float64)
	order := make([]LinkKey, 0)
	for _, ipl := range sol.IPLinks {
		for _, hop := range ipl.OptLinks {
			if hop.From == hop.To {
				continue
			}
			key := LinkKey{From: hop.From, To: hop.To}
			if _, present := waves[key]; !present {
				order = append(order, key)
			}
			waves[key] += hop.Trunks
		}
	}
	util := make([]float64, 0, len(order))
	for _, key := range order {
		link, present := input.Topology.OpticalLink(key.From, key.To)
		if !present || link.Capacity <= 0 {
			continue
		}
		util = append(util, waves[key]/float64(link.Capacity))
	}
	sol.AddMetric("distribution_fiber_utilization", util)
	if len(util) == 0 {
		return
	}
	sol.AddMetric("mean_fiber_utilization", stat.Mean(util, nil))
	sol.AddMetric("max_fiber_utilization", floats.Max(util))
}

// degreeMetrics counts the IP links incident to each router
func degreeMetrics(sol *SolutionInstance) {
	degree := make(map[string]int)
	order := make([]string, 0)
	bump := func(id string) {
		if _, present := degree[id]; !present {
			order = append(order, id)
		}
		degree[id]++
	}
	for _, ipl := range sol.IPLinks {
		bump(ipl.Node1)
		bump(ipl.Node2)
	}
	if len(order) == 0 {
		return
	}
	vals := make([]float64, len(order))
	for idx, id := range order {
		vals[idx] = float64(degree[id])
	}
	sol.AddMetric("max_ip_node_degree", int(floats.Max(vals)))
	sol.AddMetric("min_ip_node_degree", int(floats.Min(vals)))
	sol.AddMetric("mean_ip_node_degree", stat.Mean(vals, nil))
}

// ipUtilizationMetrics relates the traffic on each IP link to its trunk capacity
func ipUtilizationMetrics(sol *SolutionInstance, input *InputInstance) {
	if input == nil || input.Topology == nil || len(sol.E2ERouting) == 0 || len(sol.IPLinks) == 0 {
		return
	}
	lpCap := input.Topology.LightpathCapacity()
	if lpCap <= 0 {
		return
	}
	load := make(map[LinkKey]float64)
	for _, rd := range sol.E2ERouting {
		for _, ps := range rd.Paths {
			load[LinkKey{From: ps.Link[0], To: ps.Link[1]}] += ps.Volume
		}
	}
	for _, assign := range sol.CDNAssignment {
		hg, err := input.Demands.Hypergiant(assign.Name)
		if err != nil {
			continue
		}
		for _, ua := range assign.Users {
			un, err := hg.EndUser(ua.NodeID)
			if err != nil {
				continue
			}
			for _, al := range ua.Routes {
				load[LinkKey{From: al.From, To: al.To}] += al.Value * un.Volume
			}
		}
	}
	util := make([]float64, 0, len(sol.IPLinks))
	for _, ipl := range sol.IPLinks {
		if ipl.NumTrunks <= 0 {
			continue
		}
		util = append(util, load[LinkKey{From: ipl.Node1, To: ipl.Node2}]/(lpCap*ipl.NumTrunks))
	}
	if len(util) == 0 {
		return
	}
	sol.AddMetric("max_ip_utilization", floats.Max(util))
	sol.AddMetric("min_ip_utilization", floats.Min(util))
	sol.AddMetric("mean_ip_utilization", stat.Mean(util, nil))
}

// ipHopMetrics describes the number of IP links each user and background demand is routed over.
// A class without members reports -1.
func ipHopMetrics(sol *SolutionInstance) {
	cdn := make([]float64, 0)
	for _, assign := range sol.CDNAssignment {
		for _, ua := range assign.Users {
			cdn = append(cdn, float64(len(ua.Routes)))
		}
	}
	e2e := make([]float64, 0)
	for _, rd := range sol.E2ERouting {
		e2e = append(e2e, float64(len(rd.Paths)))
	}
	all := append(slices.Clone(e2e), cdn...)
	dist := make([]int, 0, len(all))
	for _, val := range cdn {
		dist = append(dist, int(val))
	}
	for _, val := range e2e {
		dist = append(dist, int(val))
	}
	sol.AddMetric("distribution_path_length_ip_hops", dist)
	if len(all) == 0 {
		return
	}
	if len(cdn) == 0 {
		cdn = []float64{-1}
	}
	if len(e2e) == 0 {
		e2e = []float64{-1}
	}
	addStats(sol, "path_length_ip_hops", all, true)
	addStats(sol, "path_length_cdn_ip_hops", cdn, true)
	addStats(sol, "path_length_e2e_ip_hops", e2e, true)
}

// optHopMetrics describes the number of optical hops each routed demand crosses and,
// when the topology is known, the summed fiber weight of those hops in km
func optHopMetrics(sol *SolutionInstance, input *InputInstance) {
	hops := make(map[LinkKey]int)
	km := make(map[LinkKey]float64)
	for _, ipl := range sol.IPLinks {
		key := LinkKey{From: ipl.Node1, To: ipl.Node2}
		hops[key] = len(ipl.OptLinks)
		if input == nil || input.Topology == nil {
			continue
		}
		// trunks on several candidate paths are averaged by their share of the link
		for _, hop := range ipl.OptLinks {
			link, present := input.Topology.OpticalLink(hop.From, hop.To)
			if !present || ipl.NumTrunks <= 0 {
				continue
			}
			km[key] += link.Weight * hop.Trunks / ipl.NumTrunks
		}
	}
	walk := func(links []LinkKey) (int, float64) {
		length, dist := 0, 0.0
		for _, key := range links {
			length += hops[key]
			dist += km[key]
		}
		return length, dist
	}
	lengths := make([]float64, 0)
	kms := make([]float64, 0)
	record := func(links []LinkKey) {
		length, dist := walk(links)
		if length > 0 {
			lengths = append(lengths, float64(length))
			kms = append(kms, dist)
		}
	}
	for _, assign := range sol.CDNAssignment {
		for _, ua := range assign.Users {
			links := make([]LinkKey, len(ua.Routes))
			for idx, al := range ua.Routes {
				links[idx] = LinkKey{From: al.From, To: al.To}
			}
			record(links)
		}
	}
	for _, rd := range sol.E2ERouting {
		links := make([]LinkKey, len(rd.Paths))
		for idx, ps := range rd.Paths {
			links[idx] = LinkKey{From: ps.Link[0], To: ps.Link[1]}
		}
		record(links)
	}
	if len(lengths) == 0 {
		return
	}
	addStats(sol, "path_length_opt_hops", lengths, true)
	if input != nil && input.Topology != nil {
		addStats(sol, "path_length_km", kms, false)
	}
}

// addStats records max, min, mean, median and standard deviation of vals under suffix.
// Extremes of counts are recorded as integers.
func addStats(sol *SolutionInstance, suffix string, vals []float64, counts bool) {
	sorted := slices.Clone(vals)
	slices.Sort(sorted)
	if counts {
		sol.AddMetric("max_"+suffix, int(sorted[len(sorted)-1]))
		sol.AddMetric("min_"+suffix, int(sorted[0]))
	} else {
		sol.AddMetric("max_"+suffix, sorted[len(sorted)-1])
		sol.AddMetric("min_"+suffix, sorted[0])
	}
	sol.AddMetric("mean_"+suffix, stat.Mean(sorted, nil))
	sol.AddMetric("median_"+suffix, median(sorted))
	sol.AddMetric("std_"+suffix, math.Sqrt(stat.PopVariance(sorted, nil)))
}

// median of sorted values, averaging the middle pair for an even count
func median(sorted []float64) float64 {
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
