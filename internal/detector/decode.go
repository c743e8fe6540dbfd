package detector

import (
	"fmt"
	"image"

	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

// decodeYOLO turns a raw YOLOv8 head output into detections in source pixels.
//
// The head is either [1, 4+nc, N] (channels first, the default export) or
// [1, N, 4+nc]. Each candidate carries a center-format box followed by one
// score per class; the best class score is the detection score.
func decodeYOLO(data []float32, shape []int64, lb utils.LetterboxInfo, bounds image.Rectangle,
	th Thresholds, names []string,
) ([]Detection, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("expected output shape [1, C, N], got %v", shape)
	}

	channels, count := int(shape[1]), int(shape[2])
	channelsFirst := true
	// The transposed head is only recognised when its last axis can hold a
	// box plus one class and is the shorter of the two.
	if channels > count && count >= 5 {
		channels, count = count, channels
		channelsFirst = false
	}
	if channels < 5 {
		return nil, fmt.Errorf("output has %d channels, need at least 5", channels)
	}
	if len(data) != channels*count {
		return nil, fmt.Errorf("output length %d does not match shape %v", len(data), shape)
	}

	at := func(c, i int) float64 {
		if channelsFirst {
			return float64(data[c*count+i])
		}
		return float64(data[i*channels+c])
	}

	var out []Detection
	for i := range count {
		best, bestScore := -1, 0.0
		for c := 4; c < channels; c++ {
			if s := at(c, i); s > bestScore {
				best, bestScore = c-4, s
			}
		}
		if best < 0 || bestScore < th.Confidence {
			continue
		}

		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		x1, y1 := lb.Unmap(cx-w/2, cy-h/2)
		x2, y2 := lb.Unmap(cx+w/2, cy+h/2)
		box := utils.NewBox(x1, y1, x2, y2).Clamp(bounds)
		if box.Area() == 0 {
			continue
		}

		out = append(out, Detection{Box: box, Score: bestScore, Class: className(names, best)})
	}

	return NonMaxSuppression(out, th.IoU), nil
}
