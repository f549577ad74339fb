package xlayer

// scheduler.go re-plans the network as demand changes over time.  Demand snapshots are
// scheduled as events on a virtual time line.  When a snapshot's event fires the network is
// planned again, with the IP link layer of the previous plan as the baseline from which only
// a bounded fraction of the router pairs may change.  Planning failures are recorded on the
// step and do not end the time line; the next snapshot starts from the last plan that was found.

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Snapshot is the demand in force from virtual time Time on
type Snapshot struct {
	Time       float64
	Label      string
	Demands    DemandSet
	Background DemandMatrix
}

// TimelineConfig governs how far successive plans may differ
type TimelineConfig struct {
	// ReconfFraction bounds the share of router pairs whose trunks change between plans,
	// nil leaves the earlier plan as a lower bound only
	ReconfFraction *float64 `json:"reconf_fraction_ip,omitempty" yaml:"reconf_fraction_ip,omitempty" validate:"omitempty,gte=0,lte=1"`

	// ReconfWithPath counts a move between candidate paths as a change
	ReconfWithPath bool `json:"reconf_with_opt_path,omitempty" yaml:"reconf_with_opt_path,omitempty"`

	// KeepCDNAssignment carries the peering node of every user over to the next plan
	KeepCDNAssignment bool `json:"keep_cdn_assignment,omitempty" yaml:"keep_cdn_assignment,omitempty"`
}

// TimelineStep is the outcome of planning one snapshot
type TimelineStep struct {
	Time     float64
	Label    string
	Solution *SolutionInstance
	Diff     *ReconfigurationDiff
	Err      error
}

// Timeline holds the snapshots and the plans made for them
type Timeline struct {
	topo      *Topology
	algorithm AlgorithmConfig
	cfg       TimelineConfig
	opts      []MIPOption

	snapshots []Snapshot
	steps     []TimelineStep
	prior     *SolutionInstance

	// ctx is the context of the Run in progress, handed to the algorithms by the event handler
	ctx    context.Context
	logger *zap.Logger
	trace  *TraceManager
	runID  string
}

// CreateTimeline is a constructor.  Every snapshot is planned on topo with the named algorithm;
// opts are passed on to it.
func CreateTimeline(topo *Topology, algorithm AlgorithmConfig, cfg TimelineConfig, opts ...MIPOption) *Timeline {
	scratch := mipBase{logger: zap.L()}
	for _, opt := range opts {
		opt(&scratch)
	}
	tl := new(Timeline)
	tl.topo = topo
	tl.algorithm = algorithm
	tl.cfg = cfg
	tl.opts = opts
	tl.snapshots = []Snapshot{}
	tl.logger = scratch.logger.Named("timeline")
	tl.trace = scratch.trace
	tl.runID = scratch.runID
	return tl
}

// AddSnapshot appends a snapshot.  Snapshots are added in strictly increasing time order.
func (tl *Timeline) AddSnapshot(snap Snapshot) error {
	if snap.Time < 0 {
		return errors.Errorf("snapshot %s at negative time %g", snap.Label, snap.Time)
	}
	if n := len(tl.snapshots); n > 0 && snap.Time <= tl.snapshots[n-1].Time {
		return errors.Errorf("snapshot %s at %g does not follow %s at %g",
			snap.Label, snap.Time, tl.snapshots[n-1].Label, tl.snapshots[n-1].Time)
	}
	if snap.Label == "" {
		snap.Label = fmt.Sprintf("t%g", snap.Time)
	}
	tl.snapshots = append(tl.snapshots, snap)
	return nil
}

// SetBaseline makes sol the plan the first snapshot starts from
func (tl *Timeline) SetBaseline(sol *SolutionInstance) {
	tl.prior = sol
}

// Run plans every snapshot, in time order, and returns the steps
func (tl *Timeline) Run(ctx context.Context) ([]TimelineStep, error) {
	if err := validate.Struct(tl.cfg); err != nil {
		return nil, errors.Wrap(err, "timeline configuration")
	}
	if len(tl.snapshots) == 0 {
		return []TimelineStep{}, nil
	}
	tl.ctx = ctx
	tl.steps = make([]TimelineStep, 0, len(tl.snapshots))

	evtMgr := evtm.New()
	for idx, snap := range tl.snapshots {
		evtMgr.Schedule(tl, idx, replan, vrtime.SecondsToTime(snap.Time))
	}
	evtMgr.Run(tl.snapshots[len(tl.snapshots)-1].Time + 1.0)

	if err := ctx.Err(); err != nil {
		return tl.steps, err
	}
	return tl.steps, nil
}

// replan is the event handler of a snapshot.  context is the *Timeline, data the snapshot index.
func replan(evtMgr *evtm.EventManager, context any, data any) any {
	tl := context.(*Timeline)
	snap := tl.snapshots[data.(int)]
	step := TimelineStep{Time: evtMgr.CurrentSeconds(), Label: snap.Label}

	sol, err := tl.plan(snap)
	if err != nil {
		step.Err = err
		tl.logger.Warn("planning failed", zap.String("snapshot", snap.Label), zap.Error(err))
		tl.trace.AddTrace(evtMgr.CurrentTime(), tl.runID, "failed", snap.Label)
		tl.steps = append(tl.steps, step)
		return nil
	}

	step.Solution = sol
	if tl.prior != nil && !sol.IsEmpty() {
		step.Diff = CompareSolutions(tl.prior, sol)
		tl.logger.Info("replanned",
			zap.String("snapshot", snap.Label),
			zap.Int("increased", len(step.Diff.Increased)),
			zap.Int("decreased", len(step.Diff.Decreased)),
			zap.Float64("trunk_delta", step.Diff.TrunkDelta))
	}
	if !sol.IsEmpty() {
		tl.prior = sol
	}
	tl.trace.AddTrace(evtMgr.CurrentTime(), tl.runID, "replanned", snap.Label)
	tl.steps = append(tl.steps, step)
	return nil
}

// plan solves one snapshot, constrained by the prior plan if there is one
func (tl *Timeline) plan(snap Snapshot) (*SolutionInstance, error) {
	if err := tl.ctx.Err(); err != nil {
		return nil, err
	}
	var fixed *FixedLayers
	if tl.prior != nil {
		var err error
		fixed, err = FixedLayersFromSolution(tl.prior, FixedLayersConfig{
			IPLinks:        true,
			CDNAssignment:  tl.cfg.KeepCDNAssignment,
			ReconfFraction: tl.cfg.ReconfFraction,
			ReconfWithPath: tl.cfg.ReconfWithPath,
		})
		if err != nil {
			return nil, err
		}
	}
	input := CreateInputInstance(tl.topo, snap.Demands, snap.Background, fixed)
	alg, err := tl.algorithm.Create(input, tl.opts...)
	if err != nil {
		return nil, err
	}
	if err := alg.Run(tl.ctx); err != nil {
		return nil, errors.Wrapf(err, "snapshot %s", snap.Label)
	}
	return alg.Solution()
}

// SnapshotDesc names the demand file in force from Time on
type SnapshotDesc struct {
	Time   float64 `json:"time" yaml:"time" validate:"gte=0"`
	Label  string  `json:"label,omitempty" yaml:"label,omitempty"`
	Demand string  `json:"demand" yaml:"demand" validate:"required"`
}

// TimelineFile is the on-disk form of a time line
type TimelineFile struct {
	Topology  string          `json:"topology" yaml:"topology" validate:"required"`
	Algorithm AlgorithmConfig `json:"algorithm" yaml:"algorithm"`
	Config    TimelineConfig  `json:"timeline" yaml:"timeline"`

	// Baseline is an optional solution file the first snapshot starts from
	Baseline  string         `json:"baseline,omitempty" yaml:"baseline,omitempty"`
	Snapshots []SnapshotDesc `json:"snapshots" yaml:"snapshots" validate:"required,min=1,dive"`
}

// ReadTimelineFile reads a time line, yaml or json depending on its extension.  Relative file
// names are taken relative to the time line file.
func ReadTimelineFile(filename string) (*TimelineFile, error) {
	bytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "read timeline %s", filename)
	}
	tf := new(TimelineFile)
	if isYAML(filename) {
		err = yaml.Unmarshal(bytes, tf)
	} else {
		err = json.Unmarshal(bytes, tf)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse timeline %s", filename)
	}
	if err := validate.Struct(tf); err != nil {
		return nil, errors.Wrapf(err, "timeline %s", filename)
	}
	dir := filepath.Dir(filename)
	tf.Topology = relativeTo(dir, tf.Topology)
	if tf.Baseline != "" {
		tf.Baseline = relativeTo(dir, tf.Baseline)
	}
	for idx := range tf.Snapshots {
		tf.Snapshots[idx].Demand = relativeTo(dir, tf.Snapshots[idx].Demand)
	}
	return tf, nil
}

// Build reads the topology, the baseline and every snapshot's demand, and returns the time line
func (tf *TimelineFile) Build(opts ...MIPOption) (*Timeline, error) {
	td, err := ReadTopologyDesc(tf.Topology, isYAML(tf.Topology), nil)
	if err != nil {
		return nil, err
	}
	topo, err := td.Build()
	if err != nil {
		return nil, errors.Wrapf(err, "topology %s", tf.Topology)
	}
	tl := CreateTimeline(topo, tf.Algorithm, tf.Config, opts...)
	if tf.Baseline != "" {
		sol, err := ReadSolution(tf.Baseline, nil)
		if err != nil {
			return nil, err
		}
		tl.SetBaseline(sol)
	}
	for _, sd := range tf.Snapshots {
		dd, err := ReadDemandDesc(sd.Demand, isYAML(sd.Demand), nil)
		if err != nil {
			return nil, err
		}
		ds, dm, err := dd.Build(topo)
		if err != nil {
			return nil, errors.Wrapf(err, "demands %s", sd.Demand)
		}
		if err := tl.AddSnapshot(Snapshot{Time: sd.Time, Label: sd.Label, Demands: ds, Background: dm}); err != nil {
			return nil, err
		}
	}
	return tl, nil
}
