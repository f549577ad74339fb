package main

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/iti/xlayer"
	"github.com/iti/xlayer/lp"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "xlayer",
	Short: "Cross-layer IP-over-optical network planning",
	Long: `xlayer sizes the IP link layer of a network on top of its optical fibers, assigns
CDN users to peering points and routes background traffic, by solving a mixed-integer program.

Settings are taken from flags, from XLAYER_ environment variables (XLAYER_TIME_LIMIT, ...),
and from an optional config file, in that order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml or json)")
	addSolverFlags(rootCmd.PersistentFlags())
}

// addSolverFlags declares the flags shared by every command
func addSolverFlags(fs *pflag.FlagSet) {
	fs.String("backend", lp.BackendBnB, "solver backend, one of "+strings.Join(lp.Backends, ", "))
	fs.Int("threads", 1, "solver threads per run")
	fs.Float64("time-limit", 0, "solver wall-clock limit in seconds, 0 for none")
	fs.Bool("relaxed", false, "solve the linear relaxation")
	fs.String("debug-dir", "", "directory for model dumps of infeasible runs")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Bool("log-dev", false, "human readable development logging")
	fs.String("metrics-file", "", "write solver metrics in prometheus text format to this file")
	fs.String("trace", "", "write the lifecycle trace of the runs to this file (yaml or json)")
}

func initConfig(cmd *cobra.Command) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config %s", cfgFile)
		}
	}
	viper.SetEnvPrefix("XLAYER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return nil
}

// mipConfig assembles the solver settings
func mipConfig() xlayer.MIPConfig {
	return xlayer.MIPConfig{
		Backend:   viper.GetString("backend"),
		Threads:   viper.GetInt("threads"),
		TimeLimit: viper.GetFloat64("time-limit"),
		Relaxed:   viper.GetBool("relaxed"),
		DebugDir:  viper.GetString("debug-dir"),
	}
}

// buildLogger installs the process logger
func buildLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	cfg := zap.NewProductionConfig()
	if viper.GetBool("log-dev") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// instrumentation is what every command sets up around its runs
type instrumentation struct {
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *lp.Metrics
	trace    *xlayer.TraceManager
}

func instrument(expName string) (*instrumentation, error) {
	logger, err := buildLogger()
	if err != nil {
		return nil, err
	}
	inst := &instrumentation{logger: logger, registry: prometheus.NewRegistry()}
	inst.metrics = lp.NewMetrics(inst.registry)
	inst.trace = xlayer.CreateTraceManager(expName, viper.GetString("trace") != "")
	return inst, nil
}

func (inst *instrumentation) options() []xlayer.MIPOption {
	return []xlayer.MIPOption{xlayer.WithLogger(inst.logger), xlayer.WithSolverMetrics(inst.metrics)}
}

func (inst *instrumentation) sync() {
	_ = inst.logger.Sync()
}

// close writes the metrics and trace files that were asked for
func (inst *instrumentation) close() error {
	if file := viper.GetString("metrics-file"); file != "" {
		if err := prometheus.WriteToTextfile(file, inst.registry); err != nil {
			return errors.Wrapf(err, "write metrics %s", file)
		}
	}
	if file := viper.GetString("trace"); file != "" {
		return inst.trace.WriteToFile(file)
	}
	return nil
}
