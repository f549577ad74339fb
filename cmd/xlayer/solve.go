package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iti/xlayer"
)

var solveFlags struct {
	topology  string
	demand    string
	algorithm string
	out       string
	fixed     xlayer.FixedLayersConfig
	reconf    float64
	perturb   xlayer.PerturbConfig
}

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Plan one network",
	Long: `'solve' plans the network described by a topology and a demand file and writes the
solution, as json or yaml depending on the extension of --out.

An earlier solution can constrain the plan: its IP links as a lower bound (--fix-ip-links),
exactly (--fix-ip-links --strict), as a baseline of which only a fraction of router pairs may
change (--reconf-fraction), or only which routers are linked (--fix-ip-connectivity).
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := instrument("solve")
		if err != nil {
			return err
		}
		defer inst.sync()

		fixed := &solveFlags.fixed
		if cmd.Flags().Changed("reconf-fraction") {
			fixed.ReconfFraction = &solveFlags.reconf
		}
		input, err := xlayer.BuildInputInstance(solveFlags.topology, solveFlags.demand, fixed)
		if err != nil {
			return err
		}
		if solveFlags.perturb.Stream != "" {
			input.Demands, input.Background, err = xlayer.PerturbDemands(input.Demands, input.Background, solveFlags.perturb)
			if err != nil {
				return err
			}
		}

		algCfg := xlayer.AlgorithmConfig{Name: solveFlags.algorithm, MIP: mipConfig()}
		opts := append(inst.options(), xlayer.WithTrace(inst.trace, solveFlags.out))
		alg, err := algCfg.Create(input, opts...)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := alg.Run(ctx); err != nil {
			return err
		}
		sol, err := alg.Solution()
		if err != nil {
			return err
		}
		if sol.IsEmpty() {
			inst.logger.Warn("no feasible plan", zap.String("topology", solveFlags.topology))
		}
		if err := sol.WriteToFile(solveFlags.out); err != nil {
			return errors.Wrap(err, "store solution")
		}
		inst.logger.Info("solution written", zap.String("file", solveFlags.out), zap.Int("ip_links", len(sol.IPLinks)))
		return inst.close()
	},
}

func init() {
	rootCmd.AddCommand(solveCmd)
	fs := solveCmd.Flags()
	fs.StringVarP(&solveFlags.topology, "topology", "t", "", "topology description file")
	fs.StringVarP(&solveFlags.demand, "demand", "d", "", "demand description file")
	fs.StringVarP(&solveFlags.algorithm, "algorithm", "a", xlayer.AlgorithmPathMIP,
		"planning algorithm ("+xlayer.AlgorithmPathMIP+" or "+xlayer.AlgorithmGreedy+")")
	fs.StringVarP(&solveFlags.out, "out", "o", "solution.json", "solution file")

	fs.StringVar(&solveFlags.fixed.SolutionFile, "fixed-solution", "", "earlier solution constraining this plan")
	fs.BoolVar(&solveFlags.fixed.IPLinks, "fix-ip-links", false, "keep the IP links of the earlier solution")
	fs.BoolVar(&solveFlags.fixed.IPConnectivity, "fix-ip-connectivity", false, "keep which routers are linked")
	fs.BoolVar(&solveFlags.fixed.CDNAssignment, "fix-cdn-assignment", false, "keep the peering node of every user")
	fs.BoolVar(&solveFlags.fixed.Strict, "strict", false, "pin the IP links exactly")
	fs.Float64Var(&solveFlags.reconf, "reconf-fraction", 0, "share of router pairs that may change")
	fs.BoolVar(&solveFlags.fixed.ReconfWithPath, "reconf-with-path", false, "count moves between optical paths as changes")

	fs.StringVar(&solveFlags.perturb.Stream, "perturb-stream", "", "perturb demand volumes with this random stream")
	fs.Float64Var(&solveFlags.perturb.Spread, "perturb-spread", 0.1, "relative spread of perturbed volumes")
	fs.BoolVar(&solveFlags.perturb.ShuffleUsers, "perturb-shuffle", false, "shuffle user locations within each CDN")

	_ = solveCmd.MarkFlagRequired("topology")
	_ = solveCmd.MarkFlagRequired("demand")
}
