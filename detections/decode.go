package detections

import (
	"math"

	"github.com/Tutortoise/freshtrack-service/models"
)

// RawOutput is the flat model output with its [batch, slots, classes+5] shape.
type RawOutput struct {
	Data  []float32
	Shape []int64
}

type DecodeParams struct {
	// ConfThreshold gates both objectness and objectness*classScore.
	ConfThreshold float32
	// CoordScale divides box values; 1 for normalized output, the input
	// size when the model reports pixels.
	CoordScale float32
}

// Decode turns every slot [cx, cy, w, h, objectness, class_0..class_C-1]
// that passes the confidence gates into a Detection, in slot order.
func Decode(raw RawOutput, catalog Catalog, params DecodeParams) ([]models.Detection, error) {
	stride, err := slotStride(raw)
	if err != nil {
		return nil, err
	}

	scale := params.CoordScale
	if scale <= 0 {
		scale = 1
	}
	threshold := params.ConfThreshold
	numClasses := stride - boxParams
	numSlots := len(raw.Data) / stride

	detections := make([]models.Detection, 0, 16)
	for i := 0; i < numSlots; i++ {
		slot := raw.Data[i*stride : (i+1)*stride]

		objectness := slot[4]
		if !(objectness >= threshold) {
			continue
		}

		classID := 0
		maxScore := slot[boxParams]
		for k := 1; k < numClasses; k++ {
			if score := slot[boxParams+k]; score > maxScore {
				maxScore = score
				classID = k
			}
		}

		confidence := objectness * maxScore
		if !(confidence >= threshold) {
			continue
		}

		cx, cy := slot[0]/scale, slot[1]/scale
		w, h := slot[2]/scale, slot[3]/scale
		if !validExtent(w) || !validExtent(h) || !finite(cx) || !finite(cy) {
			continue
		}

		detections = append(detections, models.Detection{
			Label:      catalog.Label(classID),
			Confidence: math.Min(float64(confidence), 1),
			BBox: models.BoundingBox{
				X:      float64(cx - w/2),
				Y:      float64(cy - h/2),
				Width:  float64(w),
				Height: float64(h),
			},
		})
	}

	return detections, nil
}

// slotStride validates the shape descriptor against the buffer and returns
// the per-slot length.
func slotStride(raw RawOutput) (int, error) {
	if len(raw.Shape) != 3 {
		return 0, newError(ErrShape, StageDecode, nil, "expected rank 3 output, got shape %v", raw.Shape)
	}

	total := int64(1)
	for _, d := range raw.Shape {
		if d <= 0 {
			return 0, newError(ErrShape, StageDecode, nil, "non-positive dimension in shape %v", raw.Shape)
		}
		total *= d
	}
	if raw.Shape[0] != 1 {
		return 0, newError(ErrShape, StageDecode, nil, "expected batch size 1, got shape %v", raw.Shape)
	}
	if total != int64(len(raw.Data)) {
		return 0, newError(ErrShape, StageDecode, nil,
			"shape %v implies %d values, buffer has %d", raw.Shape, total, len(raw.Data))
	}

	stride := int(raw.Shape[2])
	if stride <= boxParams {
		return 0, newError(ErrShape, StageDecode, nil, "slot length %d leaves no class scores", stride)
	}
	if len(raw.Data)%stride != 0 {
		return 0, newError(ErrShape, StageDecode, nil,
			"slot length %d does not partition %d values", stride, len(raw.Data))
	}

	return stride, nil
}

func validExtent(v float32) bool {
	return v > 0 && finite(v)
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
