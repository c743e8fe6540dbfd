// Package textagg merges recognized fragments into one cleaned string with
// an aggregate confidence and quality band.
package textagg

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/MeKo-Tech/shelfscan/internal/recognizer"
)

// Quality is a coarse band over OCR confidence.
type Quality string

const (
	Excellent Quality = "Excellent"
	Good      Quality = "Good"
	Fair      Quality = "Fair"
	Poor      Quality = "Poor"
)

// Summary is the aggregated reading of one region.
type Summary struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Quality    Quality `json:"quality"`
}

// Aggregate joins fragment texts in order, cleans the result and averages
// the fragment confidences. An empty list yields "", 0 and Poor.
func Aggregate(frags []recognizer.Fragment) Summary {
	if len(frags) == 0 {
		return Summary{Quality: QualityFor(0)}
	}
	parts := make([]string, len(frags))
	var sum float64
	for i, f := range frags {
		parts[i] = f.Text
		sum += f.Confidence
	}
	conf := sum / float64(len(frags))
	return Summary{
		Text:       Clean(strings.Join(parts, " ")),
		Confidence: conf,
		Quality:    QualityFor(conf),
	}
}

// QualityFor maps a confidence to its band. Lower bounds are inclusive.
func QualityFor(c float64) Quality {
	switch {
	case c >= 0.90:
		return Excellent
	case c >= 0.70:
		return Good
	case c >= 0.50:
		return Fair
	default:
		return Poor
	}
}

// Clean drops zero-width and control characters, applies NFC, collapses
// whitespace runs to a single space and trims. Case is preserved.
func Clean(s string) string {
	if s == "" {
		return s
	}
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case isZeroWidth(r), unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
		return true
	}
	return false
}
