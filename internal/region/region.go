// Package region cuts detected spines out of the source photograph.
package region

import (
	"image"
	"log/slog"

	"github.com/MeKo-Tech/shelfscan/internal/detector"
	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

// DefaultMinSide is the smallest crop edge, in pixels, that is kept.
const DefaultMinSide = 2

// Crop is one extracted region.
type Crop struct {
	Detection detector.Detection
	Image     image.Image
	Rect      image.Rectangle // Integer rectangle in source coordinates
}

// Origin is the crop's top-left corner in the source image.
func (c Crop) Origin() image.Point { return c.Rect.Min }

// Extractor crops detections out of an image.
type Extractor struct {
	MinSide int
	logger  *slog.Logger
}

// NewExtractor returns an extractor that drops crops with an edge below
// minSide. A nil logger uses slog.Default.
func NewExtractor(minSide int, logger *slog.Logger) *Extractor {
	if minSide < 1 {
		minSide = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{MinSide: minSide, logger: logger}
}

// Extract returns one crop per usable detection, in input order. Empty or
// degenerate crops are skipped without error.
func (e *Extractor) Extract(img image.Image, dets []detector.Detection) []Crop {
	bounds := img.Bounds()
	crops := make([]Crop, 0, len(dets))
	for i, d := range dets {
		rect := d.Box.ToRect(bounds)
		if rect.Dx() < e.MinSide || rect.Dy() < e.MinSide {
			e.logger.Debug("skipping degenerate region", "index", i, "width", rect.Dx(), "height", rect.Dy())
			continue
		}
		sub := utils.Crop(img, rect)
		if sub == nil {
			continue
		}
		crops = append(crops, Crop{Detection: d, Image: sub, Rect: rect})
	}
	return crops
}
