// Package postprocess - Postprocessing utilities shared by the decoders.
package postprocess

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/images"
)

// ErrShapeMismatch is returned when box and score arrays do not line up.
var ErrShapeMismatch = errors.New("postprocess: shape mismatch")

const (
	// DefaultMinimumConfidence is used when the caller does not give a confidence threshold.
	DefaultMinimumConfidence float32 = 0.01
	// DefaultIoUThreshold is the suppression threshold the decoders use.
	DefaultIoUThreshold float32 = 0.4
	// ScoreFloor is the score below which NMS discards a box outright.
	ScoreFloor float32 = 0.001
)

// Detection represents a single decoded detection.
type Detection struct {
	// The corner-form normalized box.
	Box images.BoundingBox `json:"box"`
	// The 0-indexed class of the detection.
	Label int `json:"label"`
	// The confidence score of the detection.
	Score float32 `json:"score"`
}

// FilterByConfidence keeps detections whose score lies in [minimum, 1].
//
// Arguments:
//   - detections: The detections to filter.
//   - minimum: The inclusive lower bound.
//
// Returns:
//   - []Detection: A new slice with the retained detections in input order.
func FilterByConfidence(detections []Detection, minimum float32) []Detection {
	out := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if d.Score >= minimum && d.Score <= 1.0 {
			out = append(out, d)
		}
	}
	return out
}

// EffectiveMinimumConfidence returns the threshold, or DefaultMinimumConfidence when nil.
func EffectiveMinimumConfidence(threshold *float32) float32 {
	if threshold == nil {
		return DefaultMinimumConfidence
	}
	return *threshold
}
