package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cognicore/notestatus/pkg/notestatus"
	"github.com/cognicore/notestatus/pkg/notestatus/annotation"
	"github.com/cognicore/notestatus/pkg/notestatus/chunk"
	"github.com/cognicore/notestatus/pkg/notestatus/config"
	"github.com/cognicore/notestatus/pkg/notestatus/source"
)

// buildEngine loads the run file and everything it references.
func buildEngine(ctx context.Context, runPath string, reg prometheus.Registerer, skipProcessed bool) (*notestatus.Engine, *config.Components, error) {
	loader := config.Loader{RunPath: runPath}
	comp, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	engine, err := notestatus.FromConfig(ctx, comp, reg)
	if err != nil {
		return nil, nil, err
	}
	if skipProcessed {
		engine.SkipProcessed()
	}
	return engine, comp, nil
}

func newRunCommand() *cobra.Command {
	var (
		runPath       string
		skipProcessed bool
		metricsPath   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline and export the status tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), runPath, skipProcessed, metricsPath)
		},
	}
	cmd.Flags().StringVar(&runPath, "config", "run.yaml", "Run configuration file")
	cmd.Flags().BoolVar(&skipProcessed, "skip-processed", false, "Skip notes the store already has results for")
	cmd.Flags().StringVar(&metricsPath, "metrics-out", "", "Write run metrics in Prometheus text format to this file")
	return cmd
}

func runPipeline(ctx context.Context, out io.Writer, runPath string, skipProcessed bool, metricsPath string) error {
	log := zerolog.Ctx(ctx)
	reg := prometheus.NewRegistry()

	engine, comp, err := buildEngine(ctx, runPath, reg, skipProcessed)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	defer engine.Close()

	docs, err := comp.LoadDocuments(ctx)
	if err != nil {
		return fmt.Errorf("load notes: %w", err)
	}
	log.Info().Int("notes", len(docs)).Str("source", comp.Path(comp.Run.Source.Path)).Msg("Loaded notes")

	start := time.Now()
	res, err := engine.Run(ctx, docs)
	if err != nil {
		return err
	}

	if metricsPath != "" {
		if err := prometheus.WriteToTextfile(metricsPath, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	s := res.Report.Stats
	fmt.Fprintf(out, "run %s: %d notes, %d segments in %s\n", res.ID, s.Documents, s.Segments, time.Since(start).Round(time.Millisecond))
	if res.Skipped > 0 {
		fmt.Fprintf(out, "skipped %d notes already processed\n", res.Skipped)
	}
	fmt.Fprintf(out, "recovered failures: %d adapter, %d malformed\n", s.AdapterFailures, s.Malformed)
	for i, l := range res.Report.Lanes {
		if l.Failures() > 0 {
			fmt.Fprintf(out, "  lane %d: %d adapter, %d malformed\n", i, l.AdapterFailures, l.Malformed)
		}
	}
	for _, f := range res.Files {
		fmt.Fprintf(out, "wrote %s\n", f)
	}
	return nil
}

func newChunkCommand() *cobra.Command {
	var (
		limit    int
		spoolDir string
	)
	cmd := &cobra.Command{
		Use:   "chunk <file>",
		Short: "Split a note file into segments and print their sizes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return chunkFile(cmd.OutOrStdout(), args[0], limit, spoolDir)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", chunk.DefaultLimit, "Segment size limit in bytes")
	cmd.Flags().StringVar(&spoolDir, "spool", "", "Write segments as <name>_<k>.txt files into this directory")
	return cmd
}

func chunkFile(out io.Writer, path string, limit int, spoolDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	segs, err := chunk.SplitText([]byte(source.ScrubXML(string(data))), limit)
	if err != nil {
		return err
	}

	base := filepath.Base(path)
	if key, err := source.ParseFileName(base); err == nil {
		base = key.Stem()
	} else {
		base = base[:len(base)-len(filepath.Ext(base))]
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEGMENT\tLINES\tBYTES")
	for _, seg := range segs {
		name := seg.Name(base)
		fmt.Fprintf(tw, "%s\t%d\t%d\n", name, len(seg.Lines), seg.Size())
		if spoolDir != "" {
			if _, err := annotation.WriteSegment(spoolDir, annotation.Request{Name: name, Text: seg.Bytes()}); err != nil {
				return err
			}
		}
	}
	return tw.Flush()
}

func newExportCommand() *cobra.Command {
	var (
		runPath string
		outDir  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the status tables from the result store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, comp, err := buildEngine(cmd.Context(), runPath, nil, false)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			defer engine.Close()

			dir := outDir
			if dir == "" {
				dir = comp.Path(comp.Run.OutputDir)
			}
			if dir == "" {
				dir = "."
			}
			files, err := engine.Export(cmd.Context(), dir)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", f)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runPath, "config", "run.yaml", "Run configuration file")
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory (defaults to output_dir from the run file)")
	return cmd
}

func newRunsCommand() *cobra.Command {
	var (
		runPath string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs recorded in the result store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, _, err := buildEngine(cmd.Context(), runPath, nil, false)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			defer engine.Close()

			runs, err := engine.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tLANES\tNOTES\tSEGMENTS\tADAPTER\tMALFORMED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n", r.ID, r.StartedAt.Local().Format(time.DateTime), r.Lanes,
					r.Stats.Documents, r.Stats.Segments, r.Stats.AdapterFailures, r.Stats.Malformed)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&runPath, "config", "run.yaml", "Run configuration file")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list")
	return cmd
}
