package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/iti/xlayer"
)

var timelineCmd = &cobra.Command{
	Use:   "timeline <timeline-file>",
	Short: "Re-plan a network as its demand changes",
	Long: `'timeline' plans every demand snapshot of a yaml or json time line file, in time order.
Each plan starts from the previous one: its IP links are a lower bound, or, with a
reconfiguration fraction in the file, a baseline of which only that share of router pairs
may change.  The solution of every snapshot is written to --out-dir as <label>.json.

Solver settings given on the command line override the ones in the time line file.
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := instrument("timeline")
		if err != nil {
			return err
		}
		defer inst.sync()

		tf, err := xlayer.ReadTimelineFile(args[0])
		if err != nil {
			return err
		}
		overrideSolver(cmd, &tf.Algorithm.MIP)
		opts := append(inst.options(), xlayer.WithTrace(inst.trace, filepath.Base(args[0])))
		tl, err := tf.Build(opts...)
		if err != nil {
			return err
		}
		outDir := viper.GetString("out-dir")
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", outDir)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		steps, err := tl.Run(ctx)
		for _, step := range steps {
			if step.Err != nil {
				inst.logger.Warn("snapshot not planned", zap.String("snapshot", step.Label), zap.Error(step.Err))
				continue
			}
			filename := filepath.Join(outDir, step.Label+".json")
			if err := step.Solution.WriteToFile(filename); err != nil {
				return errors.Wrap(err, "store solution")
			}
			fields := []zap.Field{zap.String("snapshot", step.Label), zap.String("file", filename),
				zap.Bool("infeasible", step.Solution.IsEmpty())}
			if step.Diff != nil {
				fields = append(fields, zap.Int("changed", step.Diff.Changed()))
			}
			inst.logger.Info("solution written", fields...)
		}
		if err != nil {
			return err
		}
		return inst.close()
	},
}

func init() {
	rootCmd.AddCommand(timelineCmd)
	timelineCmd.Flags().String("out-dir", "timeline", "directory for the solution of every snapshot")
}
