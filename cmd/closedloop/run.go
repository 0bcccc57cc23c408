package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/closedloop/internal/automation"
	"github.com/san-kum/closedloop/internal/config"
	"github.com/san-kum/closedloop/internal/experiment"
	"github.com/san-kum/closedloop/internal/optim"
	"github.com/san-kum/closedloop/internal/storage"
	"github.com/san-kum/closedloop/internal/telemetry"
	"github.com/san-kum/closedloop/internal/viz"
)

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	return execute(cmd.Context(), cfg, !noSave)
}

func replayRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	st, err := storage.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	meta, err := st.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	scenario, err := storage.ScenarioOf(meta)
	if err != nil {
		return err
	}
	scenario.Store = cfg.Store
	scenario.Log = cfg.Log
	return execute(cmd.Context(), scenario, true)
}

func execute(parent context.Context, cfg *config.Config, save bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	var shutdown telemetry.ShutdownFunc
	if cfg.Telemetry.Enabled {
		var err error
		shutdown, err = telemetry.Init(cfg.Telemetry.ServiceName, version, telemetry.Config{
			Exporter:     cfg.Telemetry.Exporter,
			OTLPEndpoint: cfg.Telemetry.Endpoint,
			OTLPInsecure: cfg.Telemetry.Insecure,
		})
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Warn("telemetry shutdown", "error", err)
			}
		}()
	}

	exp, err := experiment.New(cfg, experiment.NewRegistry(), experiment.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	var obs *telemetry.TickObserver
	if cfg.Telemetry.Enabled {
		obs, err = telemetry.NewTickObserver(ctx, cfg.Model, exp.Model().Compartments)
		if err != nil {
			return err
		}
		exp.AddObserver(obs)
	}

	fmt.Printf("running %s simulation...\n", cfg.Model)
	result, runErr := exp.Run(ctx)
	if obs != nil {
		obs.Finish(runErr)
	}
	if result == nil {
		return runErr
	}
	if runErr != nil {
		slog.Warn("run stopped early", "steps", result.StepsTaken, "error", runErr)
	}

	if save {
		st, err := storage.Open(cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()
		// the run context may already be canceled
		runID, err := st.Save(context.Background(), cfg, result)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", runID)
	}

	fmt.Printf("completed in %v\n", result.Elapsed)
	fmt.Printf("steps: %d\n", result.StepsTaken)
	printMetrics(result.Metrics)
	return runErr
}

func printMetrics(metrics map[string]float64) {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println("\nmetrics:")
	for _, name := range names {
		fmt.Printf("  %s: %.6g\n", name, metrics[name])
	}
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	exp, err := experiment.New(cfg, experiment.NewRegistry(), experiment.WithLogger(quietLogger()))
	if err != nil {
		return err
	}
	title := cfg.Model
	if preset != "" {
		title += "/" + preset
	}
	return viz.RunLive(exp, title)
}

// parseSweepParam parses name=v1,v2,...
func parseSweepParam(s string) (string, []float64, error) {
	name, list, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("bad --param %q: want name=v1,v2", s)
	}
	var values []float64
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return "", nil, fmt.Errorf("bad --param %q: %w", s, err)
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return "", nil, fmt.Errorf("bad --param %q: no values", s)
	}
	return name, values, nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	var names []string
	var ranges [][]float64
	for _, p := range sweepParams {
		name, values, err := parseSweepParam(p)
		if err != nil {
			return err
		}
		if _, err := cfg.BindChannel(name); err != nil {
			return err
		}
		names = append(names, name)
		ranges = append(ranges, values)
	}

	grid, err := optim.NewGridSearch(names, ranges,
		optim.WithWorkers(sweepWorkers),
		optim.WithLogger(slog.Default()),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	eval := optim.HoldChannels(cfg, experiment.NewRegistry(), sweepFrom, quietLogger())
	out, searchErr := grid.Search(ctx, eval, sweepMetric)
	if searchErr != nil && !errors.Is(searchErr, optim.ErrNoFeasible) {
		return searchErr
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(names, "\t"))+"\t"+strings.ToUpper(sweepMetric)+"\tSTEPS")
	for _, p := range out.Points {
		for _, name := range names {
			fmt.Fprintf(w, "%g\t", p.Params[name])
		}
		if p.Err != nil {
			fmt.Fprintf(w, "error: %v\t-\n", p.Err)
			continue
		}
		fmt.Fprintf(w, "%.6g\t%d\n", p.Value, p.Steps)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if searchErr != nil {
		return searchErr
	}

	fmt.Printf("\nbest %s: %.6g at", sweepMetric, out.Best.Value)
	for _, name := range names {
		fmt.Printf(" %s=%g", name, out.Best.Params[name])
	}
	fmt.Println()
	return nil
}

func runEnsemble(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	e := automation.Ensemble{
		Param:   ensembleParam,
		Center:  ensembleCenter,
		Spread:  ensembleSpread,
		Trials:  ensembleTrials,
		Metric:  ensembleMetric,
		Seed:    cfg.Seed,
		Workers: ensembleWorkers,
	}
	if err := e.CenterOn(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	fmt.Printf("running %d trials of %s with %s in [%g, %g]...\n",
		e.Trials, cfg.Model, e.Param, max(0, e.Center-e.Spread), e.Center+e.Spread)
	out, err := automation.RunEnsemble(ctx, cfg, experiment.NewRegistry(), e, quietLogger())
	if err != nil {
		return err
	}
	for _, t := range out.Trials {
		if t.Err != nil {
			slog.Warn("trial failed", "trial", t.ID, e.Param, t.Value, "error", t.Err)
		}
	}

	s := out.Stats
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tTRIALS\tFAILED\tMEAN\tSTD\tMIN\tP05\tP50\tP95\tMAX")
	fmt.Fprintf(w, "%s\t%d\t%d\t%.6g\t%.6g\t%.6g\t%.6g\t%.6g\t%.6g\t%.6g\n",
		e.Metric, s.Count, s.Failed, s.Mean, s.Std, s.Min, s.P05, s.P50, s.P95, s.Max)
	return w.Flush()
}

func runBatch(cmd *cobra.Command, args []string) error {
	settings, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	script, err := automation.LoadScript(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	results, runErr := automation.Run(ctx, script, experiment.NewRegistry(), slog.Default())

	var st storage.Store
	if !noSave && len(results) > 0 {
		if st, err = storage.Open(settings.Store); err != nil {
			return err
		}
		defer st.Close()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tMODEL\tTICKS\tRUN ID\tMETRICS")
	for _, r := range results {
		runID := "-"
		if st != nil {
			if runID, err = st.Save(context.Background(), r.Config, r.Result); err != nil {
				return err
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.Name, r.Config.Model, r.Result.StepsTaken, runID, metricSummary(r.Result.Metrics))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return runErr
}

func metricSummary(metrics map[string]float64) string {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%.4g", name, metrics[name])
	}
	return strings.Join(parts, " ")
}
