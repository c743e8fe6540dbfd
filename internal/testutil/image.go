package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

// Spine is one book drawn on a synthetic shelf.
type Spine struct {
	Title string
	Width int
	Color color.RGBA
}

// ShelfConfig describes a synthetic shelf photograph.
type ShelfConfig struct {
	Width      int
	Height     int
	Margin     int
	Gap        int
	Background color.RGBA
	Spines     []Spine
	// Vertical stacks the spines top to bottom instead of left to right.
	Vertical bool
}

// DefaultShelfConfig returns three spines on a light wall.
func DefaultShelfConfig() ShelfConfig {
	return ShelfConfig{
		Width:      320,
		Height:     200,
		Margin:     10,
		Gap:        8,
		Background: color.RGBA{R: 235, G: 230, B: 220, A: 255},
		Spines: []Spine{
			{Title: "La Peau de Chagrin", Width: 40, Color: color.RGBA{R: 140, G: 30, B: 30, A: 255}},
			{Title: "Germinal", Width: 32, Color: color.RGBA{R: 30, G: 60, B: 120, A: 255}},
			{Title: "Les Faux-monnayeurs", Width: 44, Color: color.RGBA{R: 40, G: 100, B: 50, A: 255}},
		},
	}
}

// GenerateShelfImage draws the shelf and returns it with the box of every
// spine in drawing order.
func GenerateShelfImage(cfg ShelfConfig) (*image.RGBA, []utils.Box) {
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(cfg.Background), image.Point{}, draw.Src)

	boxes := make([]utils.Box, 0, len(cfg.Spines))
	offset := cfg.Margin
	for _, s := range cfg.Spines {
		var rect image.Rectangle
		if cfg.Vertical {
			rect = image.Rect(cfg.Margin, offset, cfg.Width-cfg.Margin, offset+s.Width)
		} else {
			rect = image.Rect(offset, cfg.Margin, offset+s.Width, cfg.Height-cfg.Margin)
		}
		rect = rect.Intersect(img.Bounds())
		if rect.Empty() {
			break
		}
		draw.Draw(img, rect, image.NewUniform(s.Color), image.Point{}, draw.Src)
		drawSpineTitle(img, rect, s.Title, !cfg.Vertical)
		boxes = append(boxes, utils.NewBox(float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Max.X), float64(rect.Max.Y)))
		offset += s.Width + cfg.Gap
	}
	return img, boxes
}

// drawSpineTitle renders title inside rect, rotated a quarter turn for
// upright spines.
func drawSpineTitle(dst *image.RGBA, rect image.Rectangle, title string, rotate bool) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, title).Ceil() + 4
	h := face.Metrics().Height.Ceil() + 2
	label := image.NewRGBA(image.Rect(0, 0, w, h))
	d := &font.Drawer{Dst: label, Src: image.NewUniform(color.White), Face: face}
	d.Dot = fixed.P(2, face.Metrics().Ascent.Ceil()+1)
	d.DrawString(title)

	var src image.Image = label
	if rotate {
		src = imaging.Rotate90(label)
	}
	sb := src.Bounds()
	at := image.Pt(
		rect.Min.X+(rect.Dx()-sb.Dx())/2,
		rect.Min.Y+(rect.Dy()-sb.Dy())/2,
	)
	draw.Draw(dst, image.Rectangle{Min: at, Max: at.Add(sb.Size())}.Intersect(rect), src, sb.Min, draw.Over)
}

// EncodeJPEG encodes img for upload tests.
func EncodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// EncodePNG encodes img for upload tests.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// SaveImage writes img as PNG, creating parent directories.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()
	require.NoError(t, EnsureDir(filepath.Dir(path)))
	require.NoError(t, os.WriteFile(path, EncodePNG(t, img), 0o600))
}
