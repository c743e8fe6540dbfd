// Package batch scans every row photograph of a bookcase in one run.
package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MeKo-Tech/shelfscan/internal/detector"
	"github.com/MeKo-Tech/shelfscan/internal/pipeline"
	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

// Scanner is the part of *pipeline.Pipeline a batch needs.
type Scanner interface {
	Scan(ctx context.Context, req pipeline.ScanRequest) (*pipeline.ScanResult, error)
}

// Config holds batch settings.
type Config struct {
	Workers         int
	ContinueOnError bool
	// Thresholds fills in entries that set only one of conf and iou.
	Thresholds detector.Thresholds
	Progress   pipeline.ProgressCallback
	Logger     *slog.Logger
}

// Item is the outcome of one entry.
type Item struct {
	Entry    Entry                `json:"entry"`
	Result   *pipeline.ScanResult `json:"result,omitempty"`
	Error    string               `json:"error,omitempty"`
	Duration time.Duration        `json:"duration_ns"`
	err      error
}

// Err returns the scan error, if any.
func (it Item) Err() error { return it.err }

// Result holds the outcome of a batch, with Items in entry order.
type Result struct {
	Items    []Item        `json:"items"`
	Duration time.Duration `json:"duration_ns"`
	Workers  int           `json:"workers"`
}

// Summary aggregates a batch.
type Summary struct {
	Scans     int `json:"scans"`
	Failed    int `json:"failed"`
	Regions   int `json:"regions"`
	Matched   int `json:"matched"`
	Persisted int `json:"persisted"`
}

// Summary counts scans, failures and per-region outcomes.
func (r *Result) Summary() Summary {
	var s Summary
	for _, it := range r.Items {
		s.Scans++
		if it.err != nil || it.Result == nil {
			s.Failed++
			continue
		}
		s.Regions += len(it.Result.Regions)
		s.Matched += it.Result.Matched()
		s.Persisted += it.Result.Persisted()
	}
	return s
}

// Run scans entries with up to cfg.Workers concurrent scans. Unless
// ContinueOnError is set, the first failure cancels the scans not yet
// started and is returned alongside the partial result.
func Run(ctx context.Context, scanner Scanner, entries []Entry, cfg Config) (*Result, error) {
	if err := ValidateEntries(entries); err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(entries) {
		workers = len(entries)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	progress := cfg.Progress
	if progress == nil {
		progress = pipeline.NoOpProgressCallback{}
	}
	defaults := cfg.Thresholds
	if defaults.Validate() != nil {
		defaults = detector.DefaultThresholds()
	}

	res := &Result{Items: make([]Item, len(entries)), Workers: workers}
	start := time.Now()
	progress.OnStart(len(entries))

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				res.Items[i] = Item{Entry: e, Error: err.Error(), err: err}
				return nil
			}
			item := scanEntry(gctx, scanner, e, defaults)
			res.Items[i] = item

			mu.Lock()
			done++
			current := done
			mu.Unlock()
			if item.err != nil {
				logger.Warn("batch scan failed", "path", e.Path, "error", item.err)
				progress.OnError(i, item.err)
				if !cfg.ContinueOnError {
					return fmt.Errorf("%s: %w", e.Path, item.err)
				}
				return nil
			}
			progress.OnProgress(current, len(entries))
			return nil
		})
	}
	err := g.Wait()
	res.Duration = time.Since(start)
	progress.OnComplete()
	return res, err
}

func scanEntry(ctx context.Context, scanner Scanner, e Entry, defaults detector.Thresholds) Item {
	start := time.Now()
	item := Item{Entry: e}

	img, err := loadImage(e.Path)
	if err == nil {
		item.Result, err = scanner.Scan(ctx, pipeline.ScanRequest{
			Image:      img,
			ShelfID:    e.ShelfID,
			Row:        e.Row,
			BaseColumn: e.BaseColumn,
			Thresholds: entryThresholds(e, defaults),
		})
	}
	item.Duration = time.Since(start)
	if err != nil {
		item.err = err
		item.Error = err.Error()
	}
	return item
}

func loadImage(path string) (image.Image, error) {
	if !utils.IsSupportedImage(path) {
		return nil, fmt.Errorf("unsupported image format: %s", path)
	}
	img, _, err := utils.LoadImage(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return img, nil
}

func entryThresholds(e Entry, defaults detector.Thresholds) *detector.Thresholds {
	if e.Conf == nil && e.IoU == nil {
		return nil
	}
	th := defaults
	if e.Conf != nil {
		th.Confidence = *e.Conf
	}
	if e.IoU != nil {
		th.IoU = *e.IoU
	}
	return &th
}

// Errors returns the failures of the batch joined together.
func (r *Result) Errors() error {
	var errs []error
	for _, it := range r.Items {
		if it.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", it.Entry.Path, it.err))
		}
	}
	return errors.Join(errs...)
}
