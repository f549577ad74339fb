package xlayer

// trace.go records the stages a planning run goes through (model construction, solve,
// extraction, timeline events), stamped with a vrtime.Time, so that long runs can be
// inspected afterwards.

import (
	"encoding/json"
	"os"
	"path"
	"strconv"
	"sync"

	"github.com/iti/evt/vrtime"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TraceInst is one trace record
type TraceInst struct {
	TraceTime string `json:"tracetime" yaml:"tracetime"`
	Stage     string `json:"stage" yaml:"stage"`
	TraceStr  string `json:"tracestr" yaml:"tracestr"`
}

// TraceManager gathers trace records per run.  Calls on an inactive manager return at
// once, so the calls can stay embedded everywhere they are needed.  It is safe for
// concurrent use by runners.
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// all trace records, by run
	Traces map[string][]TraceInst `json:"traces" yaml:"traces"`

	mu sync.Mutex
}

// CreateTraceManager is a constructor
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.Traces = make(map[string][]TraceInst)
	return tm
}

// Active tells the caller whether the trace manager is in use.  A nil manager is inactive.
func (tm *TraceManager) Active() bool {
	return tm != nil && tm.InUse
}

// AddTrace stores a record for run runID at time vrt
func (tm *TraceManager) AddTrace(vrt vrtime.Time, runID, stage, msg string) {
	if !tm.Active() {
		return
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	trace := TraceInst{TraceTime: strconv.FormatFloat(vrt.Seconds(), 'f', 6, 64), Stage: stage, TraceStr: msg}
	tm.Traces[runID] = append(tm.Traces[runID], trace)
}

// Stages returns the stage names recorded for runID, in order
func (tm *TraceManager) Stages(runID string) []string {
	if !tm.Active() {
		return nil
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	rtn := make([]string, 0, len(tm.Traces[runID]))
	for _, trace := range tm.Traces[runID] {
		rtn = append(rtn, trace.Stage)
	}
	return rtn
}

// WriteToFile stores the traces in the named file.  Serialization to json or to yaml is
// selected based on the extension of the name.  Nothing is written for an inactive manager.
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.Active() {
		return nil
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()

	var bytes []byte
	var merr error
	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(tm)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(tm, "", "\t")
	default:
		return errors.Errorf("trace file %s needs a yaml or json extension", filename)
	}
	if merr != nil {
		return errors.Wrap(merr, "serialize trace")
	}
	return errors.Wrapf(os.WriteFile(filename, bytes, 0o644), "write trace %s", filename)
}
