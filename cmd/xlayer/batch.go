package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/iti/xlayer"
)

var batchCmd = &cobra.Command{
	Use:   "batch <scenario-file>",
	Short: "Plan a batch of scenarios",
	Long: `'batch' solves every scenario of a yaml or json scenario file.  Solutions and their
records are stored in --out-dir under the SHA-256 of the scenario; scenarios with a record
already present are skipped, so an interrupted batch can be run again.

Solver settings given on the command line override the ones in the scenario file.
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := instrument("batch")
		if err != nil {
			return err
		}
		defer inst.sync()

		scenarios, err := xlayer.ReadScenarios(args[0])
		if err != nil {
			return err
		}
		for idx := range scenarios {
			overrideSolver(cmd, &scenarios[idx].Algorithm.MIP)
		}
		writer, err := xlayer.CreateJSONWriter(viper.GetString("out-dir"))
		if err != nil {
			return err
		}

		var runner xlayer.Runner
		if jobs := viper.GetInt("jobs"); jobs > 1 {
			runner = &xlayer.ParallelRunner{Writer: writer, Jobs: jobs, Trace: inst.trace, Logger: inst.logger,
				Options: []xlayer.MIPOption{xlayer.WithSolverMetrics(inst.metrics)}}
		} else {
			runner = &xlayer.SequentialRunner{Writer: writer, Trace: inst.trace, Logger: inst.logger,
				Options: []xlayer.MIPOption{xlayer.WithSolverMetrics(inst.metrics)}}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		summary, err := runner.Run(ctx, scenarios)
		inst.logger.Info("batch finished", zap.Int("solved", summary.Solved),
			zap.Int("skipped", summary.Skipped), zap.Int("failed", summary.Failed))
		if err != nil {
			return err
		}
		return inst.close()
	},
}

// overrideSolver replaces the settings of mc given explicitly on the command line
func overrideSolver(cmd *cobra.Command, mc *xlayer.MIPConfig) {
	cfg := mipConfig()
	flags := cmd.Flags()
	if flags.Changed("backend") {
		mc.Backend = cfg.Backend
	}
	if flags.Changed("threads") {
		mc.Threads = cfg.Threads
	}
	if flags.Changed("time-limit") {
		mc.TimeLimit = cfg.TimeLimit
	}
	if flags.Changed("relaxed") {
		mc.Relaxed = cfg.Relaxed
	}
	if flags.Changed("debug-dir") {
		mc.DebugDir = cfg.DebugDir
	}
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().String("out-dir", "results", "directory for solutions and records")
	batchCmd.Flags().IntP("jobs", "j", 1, "scenarios solved concurrently")
}
