package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/shelfscan/internal/batch"
	"github.com/MeKo-Tech/shelfscan/internal/pipeline"
)

func newBatchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [manifest.yaml]",
		Short: "Scan every row photograph of a bookcase",
		Long: `Batch scans several row photographs concurrently. The scans are listed in a
YAML manifest, or discovered in a directory with --dir, in which case the
files are assigned consecutive rows starting at --first-row in name order.

Manifest format:
  shelf_id: 2
  scans:
    - path: row1.jpg
      row: 1
    - path: row2.jpg
      row: 2
      base_column: 0
      conf: 0.5

Examples:
  shelfscan batch bookcase.yaml --workers 4
  shelfscan batch --dir ./photos --shelf-id 2 --format csv --output shelf2.csv`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBatch(cmd, args)
		},
	}

	flags := cmd.Flags()
	flags.String("dir", "", "scan every supported image in this directory")
	flags.Bool("recursive", false, "descend into subdirectories with --dir")
	flags.StringSlice("include", nil, "glob patterns a discovered file must match")
	flags.StringSlice("exclude", nil, "glob patterns that skip a discovered file")
	flags.Int("shelf-id", 0, "shelf identifier for --dir")
	flags.Int("first-row", 1, "row assigned to the first discovered file")
	flags.IntP("workers", "w", 1, "number of concurrent scans")
	flags.Bool("continue-on-error", false, "keep scanning after a failed photograph")
	flags.StringP("format", "f", "json", "output format (json, text, csv)")
	flags.StringP("output", "o", "", "write the results to this file instead of stdout")
	flags.Bool("progress", false, "draw a progress bar on stderr")
	flags.Bool("stats", false, "print batch statistics on stderr")
	return cmd
}

func (a *app) runBatch(cmd *cobra.Command, args []string) error {
	entries, err := batchEntries(cmd, args)
	if err != nil {
		return err
	}
	if err := batch.ValidateEntries(entries); err != nil {
		return err
	}

	workers := a.cfg.Batch.Workers
	if cmd.Flags().Changed("workers") {
		workers, _ = cmd.Flags().GetInt("workers")
	}
	continueOnError := a.cfg.Batch.ContinueOnError
	if cmd.Flags().Changed("continue-on-error") {
		continueOnError, _ = cmd.Flags().GetBool("continue-on-error")
	}
	format := a.cfg.Output.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	output := a.cfg.Output.File
	if cmd.Flags().Changed("output") {
		output, _ = cmd.Flags().GetString("output")
	}
	if _, err := scanFormatter(format); err != nil {
		return err
	}

	var progress pipeline.ProgressCallback = pipeline.NewLogProgressCallback(a.logger, slog.LevelInfo)
	if bar, _ := cmd.Flags().GetBool("progress"); bar {
		progress = pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Scanning")
	}

	pCfg := a.cfg.ToPipelineConfig()
	ctx := cmd.Context()
	p, err := newScanner(ctx, pCfg, a.logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer func() { _ = p.Close() }()

	res, runErr := batch.Run(ctx, p, entries, batch.Config{
		Workers:         workers,
		ContinueOnError: continueOnError,
		Thresholds:      pCfg.Thresholds,
		Progress:        progress,
		Logger:          a.logger,
	})
	if res == nil {
		return runErr
	}

	out, err := res.FormatResults(format)
	if err != nil {
		return err
	}
	if err := writeOutput(cmd, output, out); err != nil {
		return err
	}
	if stats, _ := cmd.Flags().GetBool("stats"); stats {
		res.PrintStats(cmd.ErrOrStderr())
	}

	if runErr != nil {
		return runErr
	}
	if failures := res.Errors(); failures != nil {
		a.logger.Warn("batch finished with failures", "failed", res.Summary().Failed)
	}
	return nil
}

func batchEntries(cmd *cobra.Command, args []string) ([]batch.Entry, error) {
	dir, _ := cmd.Flags().GetString("dir")
	switch {
	case dir != "" && len(args) > 0:
		return nil, errors.New("give either a manifest or --dir, not both")
	case len(args) == 1:
		return batch.LoadManifest(args[0])
	case dir != "":
		shelfID, _ := cmd.Flags().GetInt("shelf-id")
		if shelfID < 1 {
			return nil, errors.New("--shelf-id is required with --dir")
		}
		firstRow, _ := cmd.Flags().GetInt("first-row")
		recursive, _ := cmd.Flags().GetBool("recursive")
		include, _ := cmd.Flags().GetStringSlice("include")
		exclude, _ := cmd.Flags().GetStringSlice("exclude")
		return batch.EntriesFromDir(dir, shelfID, firstRow, recursive, include, exclude)
	default:
		return nil, errors.New("a manifest file or --dir is required")
	}
}
