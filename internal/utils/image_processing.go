package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/shelfscan/internal/mempool"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// LetterboxInfo records how a source image was mapped onto a square canvas.
type LetterboxInfo struct {
	Scale float64
	PadX  int
	PadY  int
	Size  int
}

// Unmap converts a canvas coordinate back to source pixel space.
func (l LetterboxInfo) Unmap(x, y float64) (float64, float64) {
	if l.Scale == 0 {
		return x, y
	}
	return (x - float64(l.PadX)) / l.Scale, (y - float64(l.PadY)) / l.Scale
}

// Letterbox scales img to fit a size x size canvas, preserving aspect ratio
// and centering it on a gray (114) background.
func Letterbox(img image.Image, size int) (*image.NRGBA, LetterboxInfo, error) {
	if img == nil {
		return nil, LetterboxInfo{}, &ImageProcessingError{Operation: "letterbox", Err: errors.New("input image is nil")}
	}
	if size <= 0 {
		return nil, LetterboxInfo{}, &ImageProcessingError{Operation: "letterbox", Err: fmt.Errorf("invalid size %d", size)}
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, LetterboxInfo{}, &ImageProcessingError{Operation: "letterbox", Err: errors.New("empty image")}
	}

	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))

	resized := imaging.Resize(img, nw, nh, imaging.Linear)
	canvas := imaging.New(size, size, color.NRGBA{R: 114, G: 114, B: 114, A: 255})
	padX := (size - nw) / 2
	padY := (size - nh) / 2
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	return canvas, LetterboxInfo{Scale: scale, PadX: padX, PadY: padY, Size: size}, nil
}

// NormalizeImage converts img to a planar RGB float32 buffer (CHW) with
// values scaled to [0, 1]. The buffer comes from mempool; callers may hand
// it back with mempool.PutFloat32 once the tensor is consumed.
func NormalizeImage(img image.Image) ([]float32, int, int, error) {
	if img == nil {
		return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("input image is nil")}
	}

	nrgba := imaging.Clone(img)
	width := nrgba.Bounds().Dx()
	height := nrgba.Bounds().Dy()
	plane := width * height
	data := mempool.GetFloat32(3 * plane)

	for y := range height {
		row := nrgba.Pix[y*nrgba.Stride:]
		for x := range width {
			off := x * 4
			idx := y*width + x
			data[idx] = float32(row[off]) / 255.0
			data[plane+idx] = float32(row[off+1]) / 255.0
			data[2*plane+idx] = float32(row[off+2]) / 255.0
		}
	}
	return data, width, height, nil
}

// Crop returns the part of img inside rect. Empty intersections yield nil.
func Crop(img image.Image, rect image.Rectangle) image.Image {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return nil
	}
	return imaging.Crop(img, rect)
}

// EqualizeGray converts img to grayscale and spreads its histogram over the
// full intensity range. Spines photographed under shelf lighting are often
// low-contrast, which hurts recognition.
func EqualizeGray(img image.Image) *image.Gray {
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	var hist [256]int
	for y := range b.Dy() {
		row := gray.Pix[y*gray.Stride:]
		for x := range b.Dx() {
			hist[row[x*4]]++
		}
	}

	total := b.Dx() * b.Dy()
	var cdf [256]int
	run := 0
	cdfMin := 0
	for i, n := range hist {
		run += n
		cdf[i] = run
		if cdfMin == 0 && run > 0 {
			cdfMin = run
		}
	}

	var lut [256]uint8
	denom := total - cdfMin
	for i := range lut {
		if denom <= 0 {
			lut[i] = uint8(i)
			continue
		}
		v := math.Round(float64(cdf[i]-cdfMin) / float64(denom) * 255)
		lut[i] = uint8(clampFloat(v, 0, 255))
	}

	for y := range b.Dy() {
		src := gray.Pix[y*gray.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := range b.Dx() {
			dst[x] = lut[src[x*4]]
		}
	}
	return out
}
