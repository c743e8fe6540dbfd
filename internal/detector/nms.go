package detector

import (
	"sort"

	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

// NonMaxSuppression performs greedy hard NMS per class. A box is suppressed
// when its IoU with a higher-scoring kept box of the same class exceeds
// iouThreshold. The result is sorted by score, descending.
func NonMaxSuppression(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) <= 1 {
		return append([]Detection(nil), dets...)
	}

	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dets[order[a]].Score > dets[order[b]].Score
	})

	suppressed := make([]bool, len(dets))
	kept := make([]Detection, 0, len(dets))
	for i, a := range order {
		if suppressed[a] {
			continue
		}
		kept = append(kept, dets[a])
		for _, b := range order[i+1:] {
			if suppressed[b] || dets[b].Class != dets[a].Class {
				continue
			}
			if utils.IoU(dets[a].Box, dets[b].Box) > iouThreshold {
				suppressed[b] = true
			}
		}
	}
	return kept
}
