package pipeline

import (
	"fmt"
	"image"
	"image/color"

	"github.com/MeKo-Tech/shelfscan/internal/recognizer"
	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

var (
	boxColor     = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	polygonColor = color.RGBA{R: 230, G: 40, B: 40, A: 255}
	labelBG      = color.RGBA{R: 0, G: 0, B: 0, A: 200}
	labelFG      = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// maxLabelRunes keeps labels from spilling over neighbouring spines.
const maxLabelRunes = 24

// RenderComposite draws each region's box with its index and golden title.
// The returned image is a copy rebased at the origin.
func RenderComposite(img image.Image, regions []RegionResult) *image.RGBA {
	if img == nil {
		return nil
	}
	dst := utils.ToRGBA(img)
	min := img.Bounds().Min
	for _, r := range regions {
		b := r.Detection.Box
		rect := image.Rect(
			int(b.X1+0.5)-min.X, int(b.Y1+0.5)-min.Y,
			int(b.X2+0.5)-min.X, int(b.Y2+0.5)-min.Y,
		).Intersect(dst.Bounds())
		if rect.Empty() {
			continue
		}
		utils.DrawRect(dst, rect, boxColor, 2)
		utils.DrawLabel(dst, rect.Min, label(r), labelFG, labelBG)
	}
	return dst
}

// RenderOCRCrop draws the recognized fragment polygons over a crop.
func RenderOCRCrop(crop image.Image, frags []recognizer.Fragment) *image.RGBA {
	if crop == nil {
		return nil
	}
	dst := utils.ToRGBA(crop)
	min := crop.Bounds().Min
	for _, f := range frags {
		if len(f.CropPolygon) < 2 {
			continue
		}
		utils.DrawPolygon(dst, utils.OffsetPoints(f.CropPolygon, -float64(min.X), -float64(min.Y)), polygonColor, 1)
	}
	return dst
}

func label(r RegionResult) string {
	title := []rune(r.Golden.Title)
	if len(title) > maxLabelRunes {
		title = append(title[:maxLabelRunes-1], '~')
	}
	if len(title) == 0 {
		return fmt.Sprintf("%d", r.Index)
	}
	return fmt.Sprintf("%d: %s", r.Index, string(title))
}
