package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/shelfscan/internal/detector"
	"github.com/MeKo-Tech/shelfscan/internal/pipeline"
	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

func newScanCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <image>",
		Short: "Scan one photograph of a shelf row",
		Long: `Scan runs the full pipeline over one photograph: spine detection, ordering,
cropping, OCR, language-model correction and extraction, catalogue
verification and persistence. Positions are numbered from --base-column.

Examples:
  shelfscan scan row.jpg --shelf-id 1 --row 2
  shelfscan scan row.jpg --shelf-id 1 --conf 0.5 --format csv --output row.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScan(cmd, args[0])
		},
	}

	flags := cmd.Flags()
	flags.Int("shelf-id", 0, "shelf identifier (required, positive)")
	flags.Int("row", 0, "row number within the shelf")
	flags.Int("base-column", 0, "column of the left-most spine")
	defaults := detector.DefaultThresholds()
	flags.Float64("conf", defaults.Confidence, "detection confidence threshold")
	flags.Float64("iou", defaults.IoU, "non-maximum suppression IoU threshold")
	flags.StringP("format", "f", "json", "output format (json, text, csv)")
	flags.StringP("output", "o", "", "write the result to this file instead of stdout")
	flags.Bool("progress", false, "log every pipeline stage")
	_ = cmd.MarkFlagRequired("shelf-id")
	return cmd
}

func (a *app) runScan(cmd *cobra.Command, path string) error {
	shelfID, _ := cmd.Flags().GetInt("shelf-id")
	row, _ := cmd.Flags().GetInt("row")
	baseColumn, _ := cmd.Flags().GetInt("base-column")
	if shelfID < 1 {
		return fmt.Errorf("invalid shelf id %d: must be positive", shelfID)
	}

	format := a.cfg.Output.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	output := a.cfg.Output.File
	if cmd.Flags().Changed("output") {
		output, _ = cmd.Flags().GetString("output")
	}
	render, err := scanFormatter(format)
	if err != nil {
		return err
	}

	pCfg := a.cfg.ToPipelineConfig()
	th := pCfg.Thresholds
	if cmd.Flags().Changed("conf") {
		th.Confidence, _ = cmd.Flags().GetFloat64("conf")
	}
	if cmd.Flags().Changed("iou") {
		th.IoU, _ = cmd.Flags().GetFloat64("iou")
	}
	if err := th.Validate(); err != nil {
		return err
	}

	img, meta, err := utils.LoadImage(path)
	if err != nil {
		return err
	}
	a.logger.Debug("image loaded", "path", path, "width", meta.Width, "height", meta.Height, "format", meta.Format)

	ctx := cmd.Context()
	p, err := newScanner(ctx, pCfg, a.logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer func() { _ = p.Close() }()

	req := pipeline.ScanRequest{
		Image:      img,
		ShelfID:    shelfID,
		Row:        row,
		BaseColumn: baseColumn,
		Thresholds: &th,
	}
	if verbose, _ := cmd.Flags().GetBool("progress"); verbose {
		req.Progress = func(e pipeline.Event) {
			a.logger.Info("stage", "scan_id", e.ScanID, "stage", e.Stage, "region", e.Region, "total", e.Total)
		}
	}

	res, err := p.Scan(ctx, req)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidRequest) {
			return err
		}
		return fmt.Errorf("scan %s: %w", path, err)
	}

	out, err := render(res)
	if err != nil {
		return err
	}
	return writeOutput(cmd, output, out)
}

func scanFormatter(format string) (func(*pipeline.ScanResult) (string, error), error) {
	switch format {
	case "", "json":
		return pipeline.ToJSON, nil
	case "text":
		return pipeline.ToPlainText, nil
	case "csv":
		return pipeline.ToCSV, nil
	default:
		return nil, fmt.Errorf("unsupported format %q (want json, text or csv)", format)
	}
}
