// Package sequence puts detected spines into shelf reading order and assigns
// their shelf positions.
package sequence

import (
	"sort"

	"github.com/MeKo-Tech/shelfscan/internal/detector"
)

// Layout is the dominant arrangement of the detections.
type Layout string

const (
	Horizontal Layout = "horizontal"
	Vertical   Layout = "vertical"
)

// Position is a slot on a physical shelf.
type Position struct {
	ShelfID int `json:"shelf_id"`
	Row     int `json:"row"`
	Column  int `json:"column"`
}

// Detect compares the spread of left edges against the spread of top edges.
// Ties, including single detections, are horizontal.
func Detect(dets []detector.Detection) Layout {
	if len(dets) < 2 {
		return Horizontal
	}
	minX, maxX := dets[0].Box.X1, dets[0].Box.X1
	minY, maxY := dets[0].Box.Y1, dets[0].Box.Y1
	for _, d := range dets[1:] {
		minX = min(minX, d.Box.X1)
		maxX = max(maxX, d.Box.X1)
		minY = min(minY, d.Box.Y1)
		maxY = max(maxY, d.Box.Y1)
	}
	if maxY-minY > maxX-minX {
		return Vertical
	}
	return Horizontal
}

// Order returns a reading-ordered copy of dets: top to bottom for vertical
// layouts, left to right otherwise. Equal keys keep their input order.
func Order(dets []detector.Detection) ([]detector.Detection, Layout) {
	out := append([]detector.Detection(nil), dets...)
	layout := Detect(out)

	key := func(d detector.Detection) float64 { return d.Box.X1 }
	if layout == Vertical {
		key = func(d detector.Detection) float64 { return d.Box.Y1 }
	}
	sort.SliceStable(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out, layout
}

// Positions assigns n contiguous columns starting at baseColumn on one row.
func Positions(shelfID, row, baseColumn, n int) []Position {
	out := make([]Position, n)
	for i := range out {
		out[i] = Position{ShelfID: shelfID, Row: row, Column: baseColumn + i}
	}
	return out
}

