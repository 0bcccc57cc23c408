package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/san-kum/closedloop/internal/config"
	"github.com/san-kum/closedloop/internal/experiment"
	"github.com/san-kum/closedloop/internal/telemetry"
	"github.com/san-kum/closedloop/internal/viz"
)

var version = "dev"

var (
	configFile  string
	storePath   string
	storeDriver string
	logLevel    string
	logFormat   string

	preset      string
	ticks       int
	r0          string
	order       string
	workers     int
	integrator  string
	seed        int64
	telemetryOn bool
	exporter    string
	endpoint    string
	noSave      bool

	sweepParams  []string
	sweepFrom    int
	sweepMetric  string
	sweepWorkers int

	outFile     string
	chartWidth  int
	chartHeight int
	phaseX      string
	phaseY      string
	phaseSize   int
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "closedloop",
		Short:        "closed-loop epidemic simulation lab",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			telemetry.ConfigureSlog(os.Stderr, logLevel, logFormat)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return viz.RunInteractive(experiment.NewRegistry())
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "scenario file (yaml)")
	pf.StringVar(&storePath, "store", "runs", "run store path")
	pf.StringVar(&storeDriver, "store-driver", "dir", "run store driver (dir, sqlite)")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	runCmd := &cobra.Command{
		Use:   "run [model]",
		Short: "run a scenario and store the result",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSimulation,
	}
	scenarioFlags(runCmd)
	runCmd.Flags().BoolVar(&telemetryOn, "telemetry", false, "export traces and metrics")
	runCmd.Flags().StringVar(&exporter, "exporter", "stdout", "telemetry exporter (stdout, otlp)")
	runCmd.Flags().StringVar(&endpoint, "endpoint", "", "otlp collector endpoint")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	liveCmd := &cobra.Command{
		Use:   "live [model]",
		Short: "run a scenario with live visualization",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLive,
	}
	scenarioFlags(liveCmd)

	sweepCmd := &cobra.Command{
		Use:   "sweep [model]",
		Short: "grid search channel values that minimize a metric",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSweep,
	}
	scenarioFlags(sweepCmd)
	sweepCmd.Flags().StringArrayVar(&sweepParams, "param", nil, "channel and values to sweep, e.g. r0=0.6,0.9,1.2 (repeatable)")
	sweepCmd.Flags().IntVar(&sweepFrom, "from", 0, "tick from which swept channels are held")
	sweepCmd.Flags().StringVar(&sweepMetric, "metric", "attack_rate", "metric to minimize")
	sweepCmd.Flags().IntVar(&sweepWorkers, "parallel", 4, "scenarios run at once")
	_ = sweepCmd.MarkFlagRequired("param")

	ensembleCmd := &cobra.Command{
		Use:   "ensemble [model]",
		Short: "run a Monte Carlo ensemble over an uncertain parameter",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runEnsemble,
	}
	scenarioFlags(ensembleCmd)
	ensembleCmd.Flags().StringVar(&ensembleParam, "param", "r0", "model parameter to draw")
	ensembleCmd.Flags().Float64Var(&ensembleCenter, "center", 0, "center of the draw (default: the scenario's value)")
	ensembleCmd.Flags().Float64Var(&ensembleSpread, "spread", 0.5, "half-width of the uniform draw")
	ensembleCmd.Flags().IntVar(&ensembleTrials, "trials", 50, "number of trials")
	ensembleCmd.Flags().StringVar(&ensembleMetric, "metric", "attack_rate", "metric to summarize")
	ensembleCmd.Flags().IntVar(&ensembleWorkers, "parallel", 4, "trials run at once")

	batchCmd := &cobra.Command{
		Use:   "batch [script]",
		Short: "run every step of a scenario script",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}
	batchCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the runs")

	replayCmd := &cobra.Command{
		Use:   "replay [run_id]",
		Short: "rerun the scenario of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  replayRun,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run results",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export run data to CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	exportSVGCmd := &cobra.Command{
		Use:   "export-svg [run_id]",
		Short: "export run trajectories as an SVG chart",
		Args:  cobra.ExactArgs(1),
		RunE:  exportSVG,
	}
	exportSVGCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")
	exportSVGCmd.Flags().IntVar(&chartWidth, "width", 800, "image width")
	exportSVGCmd.Flags().IntVar(&chartHeight, "height", 400, "image height")

	phaseCmd := &cobra.Command{
		Use:   "phase [run_id]",
		Short: "draw one compartment against another",
		Args:  cobra.ExactArgs(1),
		RunE:  phaseRun,
	}
	phaseCmd.Flags().StringVar(&phaseX, "x", "S", "column on the horizontal axis")
	phaseCmd.Flags().StringVar(&phaseY, "y", "I", "column on the vertical axis")
	phaseCmd.Flags().StringVarP(&outFile, "out", "o", "", "write an SVG instead of printing")
	phaseCmd.Flags().IntVar(&phaseSize, "size", 600, "SVG side length")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "summarize growth and peak of each compartment",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list available presets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			models := config.ListModels()
			if len(args) == 1 {
				models = args[:1]
			}
			for _, m := range models {
				presets := config.ListPresets(m)
				if len(presets) == 0 {
					fmt.Printf("no presets for model: %s\n", m)
					continue
				}
				fmt.Printf("presets for %s:\n", m)
				for _, p := range presets {
					fmt.Printf("  %s\n", p)
				}
			}
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "write a scenario file to start from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			if err := config.Save(args[0], cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().StringVar(&preset, "preset", "", "start from a preset")

	rootCmd.AddCommand(runCmd, liveCmd, sweepCmd, ensembleCmd, batchCmd, replayCmd, listCmd, plotCmd, exportJSONCmd, exportCSVCmd, exportSVGCmd,
		phaseCmd, analyzeCmd, presetsCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func scenarioFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&preset, "preset", "", "use preset scenario")
	f.IntVar(&ticks, "ticks", 0, "number of ticks")
	f.StringVar(&r0, "r0", "", "seir reproduction number or channel name")
	f.StringVar(&order, "order", "", "composite order (sequential, concurrent)")
	f.IntVar(&workers, "workers", 1, "composite workers")
	f.StringVar(&integrator, "integrator", "", "sidarthe integrator (euler, rk4)")
	f.Int64Var(&seed, "seed", 0, "random seed recorded with the run")
}

// loadConfig layers preset, scenario file, environment and flags, in that
// order of increasing precedence.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	base := config.DefaultConfig()
	if len(args) > 0 {
		base.Model = args[0]
	}
	if preset != "" {
		p := config.GetPreset(base.Model, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(base.Model))
		}
		base = p
	}

	cfg, err := config.LoadOver(base, configFile)
	if err != nil {
		return nil, err
	}
	if len(args) > 0 {
		cfg.Model = args[0]
	}

	f := cmd.Flags()
	if f.Changed("ticks") {
		cfg.Ticks = ticks
	}
	if f.Changed("r0") {
		cfg.SEIR.R0 = r0
	}
	if f.Changed("order") {
		cfg.Order = order
	}
	if f.Changed("workers") {
		cfg.Workers = workers
	}
	if f.Changed("integrator") {
		cfg.Integrator = integrator
	}
	if f.Changed("seed") {
		cfg.Seed = seed
	}
	if f.Changed("telemetry") {
		cfg.Telemetry.Enabled = telemetryOn
	}
	if f.Changed("exporter") {
		cfg.Telemetry.Exporter = exporter
	}
	if f.Changed("endpoint") {
		cfg.Telemetry.Endpoint = endpoint
	}
	if f.Changed("store") {
		cfg.Store.Path = storePath
	}
	if f.Changed("store-driver") {
		cfg.Store.Driver = storeDriver
	}
	if f.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
