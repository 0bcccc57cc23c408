package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/closedloop/internal/analysis"
	"github.com/san-kum/closedloop/internal/export"
	"github.com/san-kum/closedloop/internal/storage"
)

func openStore(cmd *cobra.Command) (storage.Store, error) {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.Store)
}

func listRuns(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tTICKS\tDONE\tORDER")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\n",
			run.ID,
			run.Model,
			run.Timestamp.Local().Format("2006-01-02 15:04:05"),
			run.Ticks,
			run.Done,
			run.Order,
		)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	meta, err := st.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	series, err := st.LoadStates(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(series.States) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("samples: %d\n\n", len(series.States))

	names := append(append([]string(nil), series.Compartments...), series.ScalarNames()...)
	for _, name := range names {
		data, ok := series.Column(name)
		if !ok || !plottable(data) {
			continue
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(name),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

// plottable reports whether data has at least one finite value; leading
// NaNs of late channels are replaced by that value's first reading.
func plottable(data []float64) bool {
	for i, v := range data {
		if !math.IsNaN(v) {
			for j := range i {
				data[j] = v
			}
			return true
		}
	}
	return false
}

func output() (io.Writer, func() error, error) {
	if outFile == "" || outFile == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(outFile)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	meta, err := st.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	series, err := st.LoadStates(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	w, closeOut, err := output()
	if err != nil {
		return err
	}
	if err := storage.ExportJSON(w, meta, series); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	series, err := st.LoadStates(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	w, closeOut, err := output()
	if err != nil {
		return err
	}
	if err := storage.WriteCSV(w, series); err != nil {
		closeOut()
		return err
	}
	if err := closeOut(); err != nil {
		return err
	}
	if outFile != "" && outFile != "-" {
		fmt.Fprintf(os.Stderr, "exported %d rows of %s to %s\n", len(series.States), strings.Join(series.Compartments, ","), outFile)
	}
	return nil
}

func loadSeries(cmd *cobra.Command, id string) (*storage.Series, error) {
	st, err := openStore(cmd)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	series, err := st.LoadStates(cmd.Context(), id)
	if err != nil {
		return nil, err
	}
	if len(series.States) == 0 {
		return nil, fmt.Errorf("run %s has no samples", id)
	}
	return series, nil
}

func exportSVG(cmd *cobra.Command, args []string) error {
	series, err := loadSeries(cmd, args[0])
	if err != nil {
		return err
	}

	var lines []export.Line
	for _, name := range series.Compartments {
		data, _ := series.Column(name)
		lines = append(lines, export.Line{Name: name, Values: data})
	}

	w, closeOut, err := output()
	if err != nil {
		return err
	}
	if err := export.Chart(w, args[0], lines, chartWidth, chartHeight); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

func phaseRun(cmd *cobra.Command, args []string) error {
	series, err := loadSeries(cmd, args[0])
	if err != nil {
		return err
	}
	x, ok := series.Column(phaseX)
	if !ok {
		return fmt.Errorf("run %s has no column %q", args[0], phaseX)
	}
	y, ok := series.Column(phaseY)
	if !ok {
		return fmt.Errorf("run %s has no column %q", args[0], phaseY)
	}
	portrait := analysis.NewPhasePortrait(phaseX, x, phaseY, y)

	if outFile == "" {
		fmt.Printf("%s vs %s\n", phaseY, phaseX)
		fmt.Print(portrait.ASCII(72, 24))
		return nil
	}
	w, closeOut, err := output()
	if err != nil {
		return err
	}
	if err := export.Phase(w, portrait, phaseSize, phaseSize); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	series, err := loadSeries(cmd, args[0])
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tPEAK\tPEAK TICK\tGROWTH\tDOUBLING\tHALF-LIFE\tABOVE HALF")
	for _, name := range series.Compartments {
		data, _ := series.Column(name)
		s := analysis.Summarize(data)
		fmt.Fprintf(tw, "%s\t%.4g\t%d\t%s\t%s\t%s\t%d\n",
			name, s.Peak, s.PeakTick, fmtFloat(s.Growth), fmtFloat(s.DoublingTime), fmtTicks(s.HalfLife), s.AboveHalf)
	}
	return tw.Flush()
}

func fmtFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}

func fmtTicks(n int) string {
	if n < 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}
