package utils

import (
	"image"
	"math"
)

// Point is a 2D coordinate in pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is an axis-aligned rectangle given by its top-left (X1, Y1)
// and bottom-right (X2, Y2) corners.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// NewBox constructs a Box, swapping coordinates so that X1<=X2 and Y1<=Y2.
func NewBox(x1, y1, x2, y2 float64) Box {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func (b Box) Width() float64  { return b.X2 - b.X1 }
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area, zero for inverted boxes.
func (b Box) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns the intersection-over-union of two boxes.
func IoU(a, b Box) float64 {
	ix1 := math.Max(a.X1, b.X1)
	iy1 := math.Max(a.Y1, b.Y1)
	ix2 := math.Min(a.X2, b.X2)
	iy2 := math.Min(a.Y2, b.Y2)
	inter := Box{X1: ix1, Y1: iy1, X2: ix2, Y2: iy2}.Area()
	if inter == 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Clamp restricts the box to the given bounds.
func (b Box) Clamp(bounds image.Rectangle) Box {
	return Box{
		X1: clampFloat(b.X1, float64(bounds.Min.X), float64(bounds.Max.X)),
		Y1: clampFloat(b.Y1, float64(bounds.Min.Y), float64(bounds.Max.Y)),
		X2: clampFloat(b.X2, float64(bounds.Min.X), float64(bounds.Max.X)),
		Y2: clampFloat(b.Y2, float64(bounds.Min.Y), float64(bounds.Max.Y)),
	}
}

// ToRect rounds the box to integer pixels, clamped to bounds.
func (b Box) ToRect(bounds image.Rectangle) image.Rectangle {
	x1 := clampInt(int(math.Round(b.X1)), bounds.Min.X, bounds.Max.X)
	y1 := clampInt(int(math.Round(b.Y1)), bounds.Min.Y, bounds.Max.Y)
	x2 := clampInt(int(math.Round(b.X2)), bounds.Min.X, bounds.Max.X)
	y2 := clampInt(int(math.Round(b.Y2)), bounds.Min.Y, bounds.Max.Y)
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return image.Rect(x1, y1, x2, y2)
}

// OffsetPoints returns a copy of pts translated by (dx, dy).
func OffsetPoints(pts []Point, dx, dy float64) []Point {
	if pts == nil {
		return nil
	}
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: p.X + dx, Y: p.Y + dy}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
