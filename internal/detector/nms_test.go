package detector

import (
	"testing"

	"github.com/MeKo-Tech/shelfscan/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func det(x1, y1, x2, y2, score float64, class string) Detection {
	return Detection{Box: utils.NewBox(x1, y1, x2, y2), Score: score, Class: class}
}

func TestNonMaxSuppression(t *testing.T) {
	tests := []struct {
		name       string
		in         []Detection
		iou        float64
		wantScores []float64
	}{
		{"empty", nil, 0.5, nil},
		{"single", []Detection{det(0, 0, 10, 10, 0.9, "book")}, 0.5, []float64{0.9}},
		{
			"overlapping same class keeps best",
			[]Detection{det(0, 0, 10, 10, 0.7, "book"), det(1, 0, 11, 10, 0.9, "book")},
			0.5,
			[]float64{0.9},
		},
		{
			"overlapping different classes both kept",
			[]Detection{det(0, 0, 10, 10, 0.7, "book"), det(1, 0, 11, 10, 0.9, "box")},
			0.5,
			[]float64{0.9, 0.7},
		},
		{
			"adjacent spines both kept",
			[]Detection{det(0, 0, 10, 100, 0.8, "book"), det(10, 0, 20, 100, 0.85, "book")},
			0.5,
			[]float64{0.85, 0.8},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NonMaxSuppression(tt.in, tt.iou)
			require.Len(t, got, len(tt.wantScores))
			for i, s := range tt.wantScores {
				assert.InDelta(t, s, got[i].Score, 1e-9)
			}
		})
	}
}

func TestNonMaxSuppression_DoesNotMutateInput(t *testing.T) {
	in := []Detection{det(0, 0, 10, 10, 0.5, "book"), det(0, 0, 10, 10, 0.9, "book")}
	_ = NonMaxSuppression(in, 0.5)
	assert.InDelta(t, 0.5, in[0].Score, 1e-9)
	assert.InDelta(t, 0.9, in[1].Score, 1e-9)
}
