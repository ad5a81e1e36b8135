package detections

import (
	"math"
	"sort"

	"github.com/Tutortoise/freshtrack-service/models"
)

// Suppress runs greedy Non-Maximum Suppression. Candidates are visited in
// descending confidence (stable for ties); each emitted box removes every
// remaining box whose IoU with it is >= iouThreshold.
//
// Suppression is class-agnostic: overlapping boxes with different labels
// still suppress each other.
func Suppress(candidates []models.Detection, iouThreshold float64) []models.Detection {
	if len(candidates) == 0 {
		return []models.Detection{}
	}

	pool := make([]models.Detection, len(candidates))
	copy(pool, candidates)
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Confidence > pool[j].Confidence
	})

	kept := make([]models.Detection, 0, len(pool))
	for len(pool) > 0 {
		best := pool[0]
		kept = append(kept, best)

		remaining := pool[:0]
		for _, det := range pool[1:] {
			if IoU(best.BBox, det.BBox) < iouThreshold {
				remaining = append(remaining, det)
			}
		}
		pool = remaining
	}

	return kept
}

// IoU returns intersection area over union area for two top-left boxes.
func IoU(a, b models.BoundingBox) float64 {
	x1 := math.Max(a.X, b.X)
	y1 := math.Max(a.Y, b.Y)
	x2 := math.Min(a.X+a.Width, b.X+b.Width)
	y2 := math.Min(a.Y+a.Height, b.Y+b.Height)

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0.0
	}

	return intersection / union
}
