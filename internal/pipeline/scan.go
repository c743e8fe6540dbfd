package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/shelfscan/internal/artifacts"
	"github.com/MeKo-Tech/shelfscan/internal/bibliographic"
	"github.com/MeKo-Tech/shelfscan/internal/common"
	"github.com/MeKo-Tech/shelfscan/internal/golden"
	"github.com/MeKo-Tech/shelfscan/internal/recognizer"
	"github.com/MeKo-Tech/shelfscan/internal/region"
	"github.com/MeKo-Tech/shelfscan/internal/sequence"
	"github.com/MeKo-Tech/shelfscan/internal/store"
	"github.com/MeKo-Tech/shelfscan/internal/textagg"
)

var (
	// ErrInvalidRequest wraps every request validation failure.
	ErrInvalidRequest = errors.New("invalid scan request")
	// ErrNilImage is returned by Scan when the request carries no image.
	ErrNilImage = fmt.Errorf("%w: input image is nil", ErrInvalidRequest)
)

// Scan runs the full pipeline over one shelf photograph. Only an invalid
// request, a detector failure or context cancellation produce an error;
// every later stage degrades per region instead.
func (p *Pipeline) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if req.Image == nil {
		return nil, ErrNilImage
	}
	if req.ShelfID < 0 || req.Row < 0 || req.BaseColumn < 0 {
		return nil, fmt.Errorf("%w: position shelf %d row %d column %d", ErrInvalidRequest, req.ShelfID, req.Row, req.BaseColumn)
	}
	if req.Depth < DepthFull || req.Depth > DepthOCR {
		return nil, fmt.Errorf("%w: unknown depth %d", ErrInvalidRequest, int(req.Depth))
	}
	th := p.cfg.Thresholds
	if req.Thresholds != nil {
		th = *req.Thresholds
	}
	if err := th.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	total := common.NewNamedTimer("scan")
	b := req.Image.Bounds()
	res := &ScanResult{
		ScanID:  req.ScanID,
		Width:   b.Dx(),
		Height:  b.Dy(),
		Layout:  sequence.Horizontal,
		Regions: []RegionResult{},
	}
	if res.ScanID == "" {
		res.ScanID = uuid.NewString()
	}
	logger := p.logger.With("scan_id", res.ScanID)

	res.OriginalRef = p.saveArtifact(ctx, artifacts.OriginalName(res.ScanID), req.Image)

	req.Progress.emit(res.ScanID, StageDetect, -1, 0)
	detTimer := common.NewNamedTimer(StageDetect)
	dets, err := p.detector.Detect(ctx, req.Image, th)
	res.Processing.DetectionNs = detTimer.Stop().Nanoseconds()
	if err != nil {
		p.observe(StageDetect, common.Failed)
		return nil, fmt.Errorf("detect: %w", err)
	}
	p.observe(StageDetect, common.Success)
	res.DetectedCount = len(dets)
	logger.Debug("detection finished", "detections", len(dets), "duration", detTimer.Duration())

	if len(dets) == 0 {
		res.Processing.TotalNs = total.Stop().Nanoseconds()
		p.profiler.Record(res)
		return res, nil
	}

	ordered, layout := sequence.Order(dets)
	res.Layout = layout
	crops := p.extractor.Extract(req.Image, ordered)

	positions := sequence.Positions(req.ShelfID, req.Row, req.BaseColumn, len(crops))
	regTimer := common.NewNamedTimer("regions")
	for i, crop := range crops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pos := positions[i]
		if req.Depth == DepthDetect {
			res.Regions = append(res.Regions, newRegionResult(i, crop, pos))
			continue
		}
		rr := p.processRegion(ctx, res.ScanID, i, len(crops), crop, pos, req.Depth, req.Progress)
		res.Regions = append(res.Regions, rr)
	}
	res.Processing.RegionsNs = regTimer.Stop().Nanoseconds()

	req.Progress.emit(res.ScanID, StageComposite, -1, len(crops))
	res.AnnotatedImageRef = p.saveArtifact(ctx, artifacts.CompositeName(res.ScanID), RenderComposite(req.Image, res.Regions))

	res.Processing.TotalNs = total.Stop().Nanoseconds()
	p.profiler.Record(res)
	logger.Info("scan finished",
		"detected", res.DetectedCount,
		"regions", len(res.Regions),
		"matched", res.Matched(),
		"persisted", res.Persisted(),
		"layout", res.Layout,
		"depth", req.Depth,
		"duration", total.Duration())
	return res, nil
}

func newRegionResult(idx int, crop region.Crop, pos sequence.Position) RegionResult {
	return RegionResult{
		Index:     idx,
		Position:  pos,
		Detection: crop.Detection,
		Fragments: []recognizer.Fragment{},
		Stages:    make(map[string]common.Outcome, 7),
	}
}

// processRegion runs recognition through persistence for one crop, or only
// through text aggregation at DepthOCR. It never fails: each stage records
// its outcome and hands a safe value on.
func (p *Pipeline) processRegion(ctx context.Context, scanID string, idx, total int, crop region.Crop, pos sequence.Position, depth Depth, progress ProgressFunc) RegionResult {
	logger := p.logger.With("scan_id", scanID, "region", idx)
	rr := newRegionResult(idx, crop, pos)
	rr.CropRef = p.saveArtifact(ctx, artifacts.CropName(scanID, idx), crop.Image)

	progress.emit(scanID, StageRecognize, idx, total)
	frags, err := p.rec.Recognize(ctx, crop.Image)
	if err != nil {
		logger.Warn("recognition failed", "error", err)
		p.mark(&rr, StageRecognize, common.Failed)
		frags = nil
	} else {
		p.mark(&rr, StageRecognize, common.Success)
	}
	rr.Fragments = recognizer.ToAbsolute(frags, crop.Origin())
	if rr.Fragments == nil {
		rr.Fragments = []recognizer.Fragment{}
	}
	rr.OCRCropRef = p.saveArtifact(ctx, artifacts.OCRCropName(scanID, idx), RenderOCRCrop(crop.Image, rr.Fragments))

	summary := textagg.Aggregate(rr.Fragments)
	rr.OCRText = summary.Text
	rr.OCRConfidence = summary.Confidence
	rr.OCRQuality = summary.Quality
	rr.Confidence = rr.OCRConfidence
	if depth == DepthOCR {
		return rr
	}

	progress.emit(scanID, StageCorrect, idx, total)
	corrected := p.agent.Correct(ctx, rr.OCRText)
	rr.CorrectedText = corrected.Text
	p.mark(&rr, StageCorrect, corrected.Outcome)

	progress.emit(scanID, StageExtract, idx, total)
	extracted := p.agent.Extract(ctx, rr.CorrectedText)
	rr.Extracted = extracted.Metadata
	p.mark(&rr, StageExtract, extracted.Outcome)

	progress.emit(scanID, StageLookup, idx, total)
	v := bibliographic.Verify(ctx, p.books, p.agent, rr.Extracted, rr.CorrectedText)
	rr.Candidate = v.Lookup.Candidate
	rr.Validation = v.Validation.Verdict
	p.mark(&rr, StageLookup, v.Lookup.Outcome)
	p.mark(&rr, StageValidate, v.Validation.Outcome)

	if rr.Candidate != nil {
		rr.Confidence = math.Min(1.0, rr.Confidence+matchBoost)
	}

	rr.Golden = golden.Build(golden.Input{
		CleanedText:   rr.OCRText,
		CorrectedText: rr.CorrectedText,
		Extracted:     rr.Extracted,
		Candidate:     rr.Candidate,
	})

	progress.emit(scanID, StagePersist, idx, total)
	p.persist(ctx, &rr, logger)
	return rr
}

func (p *Pipeline) persist(ctx context.Context, rr *RegionResult, logger *slog.Logger) {
	if strings.TrimSpace(rr.Golden.Title) == "" {
		p.mark(rr, StagePersist, common.Skipped)
		return
	}
	action, err := p.gateway.Upsert(ctx, rr.Golden, rr.Position)
	switch {
	case err != nil:
		logger.Warn("persistence failed", "error", err)
		p.mark(rr, StagePersist, common.Degraded)
	case action == store.Noop:
		rr.Action = action
		p.mark(rr, StagePersist, common.Skipped)
	default:
		rr.Action = action
		rr.Persisted = true
		p.mark(rr, StagePersist, common.Success)
	}
}

func (p *Pipeline) mark(rr *RegionResult, stage string, o common.Outcome) {
	rr.Stages[stage] = o
	p.observe(stage, o)
}

func (p *Pipeline) observe(stage string, o common.Outcome) {
	if p.observer != nil {
		p.observer.ObserveStage(stage, o)
	}
}

// saveArtifact stores img as JPEG and returns its reference. Failures are
// logged and yield an empty reference.
func (p *Pipeline) saveArtifact(ctx context.Context, name string, img image.Image) string {
	if p.artifacts == nil || img == nil {
		return ""
	}
	ref, err := artifacts.SaveJPEG(ctx, p.artifacts, name, img)
	if err != nil {
		p.logger.Warn("saving debug image failed", "name", name, "error", err)
		return ""
	}
	return ref
}
