package xlayer

// scenario.go runs batches of planning scenarios.  A scenario names its topology and demand
// files, the algorithm and the fixed layers; its outputs are stored under a name derived from
// a hash of that configuration, so a batch that is run again skips what it already solved.

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// ScenarioConfig is one planning scenario
type ScenarioConfig struct {
	Topology  string             `json:"topology" yaml:"topology" validate:"required"`
	Demand    string             `json:"demand" yaml:"demand" validate:"required"`
	Algorithm AlgorithmConfig    `json:"algorithm" yaml:"algorithm"`
	Fixed     *FixedLayersConfig `json:"fixed_layers,omitempty" yaml:"fixed_layers,omitempty"`
	Comment   string             `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// ID is the hex SHA-256 of the json form of the configuration
func (sc ScenarioConfig) ID() (string, error) {
	bytes, err := json.Marshal(sc)
	if err != nil {
		return "", errors.Wrap(err, "marshal scenario")
	}
	sum := sha256.Sum256(bytes)
	return hex.EncodeToString(sum[:]), nil
}

// Validate checks the field constraints of the scenario
func (sc ScenarioConfig) Validate() error {
	return errors.Wrapf(validate.Struct(sc), "scenario %s", sc.Comment)
}

// ScenarioFile is the on-disk form of a batch
type ScenarioFile struct {
	Scenarios []ScenarioConfig `json:"scenarios" yaml:"scenarios" validate:"dive"`
}

// ReadScenarios reads a batch file, yaml or json depending on its extension.  Relative file
// names in the scenarios are taken relative to the batch file.
func ReadScenarios(filename string) ([]ScenarioConfig, error) {
	bytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "read scenarios %s", filename)
	}
	var sf ScenarioFile
	if isYAML(filename) {
		err = yaml.Unmarshal(bytes, &sf)
	} else {
		err = json.Unmarshal(bytes, &sf)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse scenarios %s", filename)
	}
	if err := validate.Struct(sf); err != nil {
		return nil, errors.Wrapf(err, "scenarios %s", filename)
	}
	dir := filepath.Dir(filename)
	for idx := range sf.Scenarios {
		sc := &sf.Scenarios[idx]
		sc.Topology = relativeTo(dir, sc.Topology)
		sc.Demand = relativeTo(dir, sc.Demand)
		if sc.Fixed != nil && sc.Fixed.SolutionFile != "" {
			sc.Fixed.SolutionFile = relativeTo(dir, sc.Fixed.SolutionFile)
		}
	}
	return sf.Scenarios, nil
}

func relativeTo(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

// Record is stored next to a solution and describes how it was obtained
type Record struct {
	ID         string         `json:"id"`
	Scenario   ScenarioConfig `json:"scenario"`
	Solution   string         `json:"solution_file"`
	Infeasible bool           `json:"infeasible"`
	SolverTime float64        `json:"solver_time"`
	Finished   time.Time      `json:"finished"`
}

// JSONWriter stores solutions and their records as json files in Dir
type JSONWriter struct {
	Dir string
}

// CreateJSONWriter is a constructor; the directory is created if needed
func CreateJSONWriter(dir string) (*JSONWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "output directory %s", dir)
	}
	return &JSONWriter{Dir: dir}, nil
}

// SolutionPath is the file the solution of scenario id is stored in
func (jw *JSONWriter) SolutionPath(id string) string {
	return filepath.Join(jw.Dir, id+".solution.json")
}

// RecordPath is the file the record of scenario id is stored in
func (jw *JSONWriter) RecordPath(id string) string {
	return filepath.Join(jw.Dir, id+".record.json")
}

// Exists reports whether scenario id has been solved before
func (jw *JSONWriter) Exists(id string) bool {
	_, err := os.Stat(jw.RecordPath(id))
	return err == nil
}

// Write stores sol and its record.  The record is written last, so its presence means the
// solution is complete.
func (jw *JSONWriter) Write(id string, sc ScenarioConfig, sol *SolutionInstance) (*Record, error) {
	rec := &Record{ID: id, Scenario: sc, Solution: jw.SolutionPath(id), Infeasible: sol.IsEmpty(), Finished: time.Now().UTC()}
	if val, present := sol.Metric(MetricSolverTime); present {
		if secs, ok := val.(float64); ok {
			rec.SolverTime = secs
		}
	}
	if err := sol.WriteToFile(rec.Solution); err != nil {
		return nil, err
	}
	bytes, err := json.MarshalIndent(rec, "", "\t")
	if err != nil {
		return nil, errors.Wrap(err, "marshal record")
	}
	return rec, errors.Wrapf(os.WriteFile(jw.RecordPath(id), bytes, 0o644), "write record %s", id)
}

// ReadRecord reads the record of scenario id
func (jw *JSONWriter) ReadRecord(id string) (*Record, error) {
	bytes, err := os.ReadFile(jw.RecordPath(id))
	if err != nil {
		return nil, errors.Wrapf(err, "read record %s", id)
	}
	rec := new(Record)
	return rec, errors.Wrapf(json.Unmarshal(bytes, rec), "parse record %s", id)
}

// RunSummary counts the outcomes of a batch
type RunSummary struct {
	Solved  int
	Skipped int
	Failed  int
}

// Runner solves a batch of scenarios
type Runner interface {
	Run(ctx context.Context, scenarios []ScenarioConfig) (RunSummary, error)
}

// runScenario solves one scenario and stores the outcome.  The return is true when the
// scenario was skipped because it had been solved before.
func runScenario(ctx context.Context, writer *JSONWriter, sc ScenarioConfig, trace *TraceManager,
	logger *zap.Logger, opts []MIPOption) (bool, error) {
	if err := sc.Validate(); err != nil {
		return false, err
	}
	id, err := sc.ID()
	if err != nil {
		return false, err
	}
	if writer.Exists(id) {
		logger.Info("scenario already solved", zap.String("id", id))
		return true, nil
	}
	input, err := BuildInputInstance(sc.Topology, sc.Demand, sc.Fixed)
	if err != nil {
		return false, err
	}
	algOpts := append([]MIPOption{WithLogger(logger.With(zap.String("id", id)))}, opts...)
	if trace.Active() {
		algOpts = append(algOpts, WithTrace(trace, id))
	}
	alg, err := sc.Algorithm.Create(input, algOpts...)
	if err != nil {
		return false, err
	}
	if err := alg.Run(ctx); err != nil {
		return false, err
	}
	sol, err := alg.Solution()
	if err != nil {
		return false, err
	}
	if _, err := writer.Write(id, sc, sol); err != nil {
		return false, err
	}
	logger.Info("scenario solved", zap.String("id", id), zap.String("algorithm", alg.Name()),
		zap.Bool("infeasible", sol.IsEmpty()))
	return false, nil
}

// SequentialRunner solves scenarios one after the other
type SequentialRunner struct {
	Writer  *JSONWriter
	Trace   *TraceManager
	Logger  *zap.Logger
	Options []MIPOption
}

// Run solves the scenarios in order.  A failed scenario is logged and counted, and the
// batch goes on; only cancellation of ctx ends it early.
func (sr *SequentialRunner) Run(ctx context.Context, scenarios []ScenarioConfig) (RunSummary, error) {
	logger := loggerOrDefault(sr.Logger).Named("scenario")
	var summary RunSummary
	for _, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		skipped, err := runScenario(ctx, sr.Writer, sc, sr.Trace, logger, sr.Options)
		summary.count(skipped, err, logger, sc)
	}
	return summary, nil
}

// ParallelRunner solves up to Jobs scenarios at a time
type ParallelRunner struct {
	Writer  *JSONWriter
	Jobs    int
	Trace   *TraceManager
	Logger  *zap.Logger
	Options []MIPOption
}

// Run solves the scenarios concurrently.  Scenarios share nothing mutable but the writer's
// directory, where each writes its own files.  A failed scenario does not stop the others.
func (pr *ParallelRunner) Run(ctx context.Context, scenarios []ScenarioConfig) (RunSummary, error) {
	logger := loggerOrDefault(pr.Logger).Named("scenario")
	var summary RunSummary
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(max(1, pr.Jobs))
	for _, sc := range scenarios {
		if ctx.Err() != nil {
			break
		}
		sc := sc
		g.Go(func() error {
			skipped, err := runScenario(ctx, pr.Writer, sc, pr.Trace, logger, pr.Options)
			mu.Lock()
			defer mu.Unlock()
			summary.count(skipped, err, logger, sc)
			return nil
		})
	}
	_ = g.Wait()
	return summary, ctx.Err()
}

func (rs *RunSummary) count(skipped bool, err error, logger *zap.Logger, sc ScenarioConfig) {
	switch {
	case err != nil:
		rs.Failed++
		logger.Error("scenario failed", zap.String("topology", sc.Topology),
			zap.String("demand", sc.Demand), zap.String("comment", sc.Comment), zap.Error(err))
	case skipped:
		rs.Skipped++
	default:
		rs.Solved++
	}
}

func loggerOrDefault(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.L()
	}
	return logger
}
