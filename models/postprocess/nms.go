// Package postprocess - provides per-class greedy Non-Maximum Suppression for decoded detections.
package postprocess

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"

	"github.com/nvr-ai/go-ml-eval/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"` // Overlap threshold for suppression.
	ImageSide    int     `json:"image_side" yaml:"image_side"`       // Side the normalized boxes are scaled to.
}

// DefaultNMSConfig returns the suppression settings the decoders use for a square input side.
func DefaultNMSConfig(side int) NMSConfig {
	return NMSConfig{IoUThreshold: DefaultIoUThreshold, ImageSide: side}
}

// NonMaxSuppression filters overlapping detections label by label.
//
// Detections are grouped by label and the groups are visited in ascending label order. Within a
// group, detections are sorted by descending score (ties keep their input order), detections
// scoring below ScoreFloor are discarded, and each surviving detection suppresses every
// lower-ranked detection whose IoU with it exceeds iouThreshold. IoU is computed on boxes scaled
// to imageSide pixels. Detections of different labels never suppress each other.
//
// Callers remove detections below their minimum confidence before calling.
//
// Arguments:
//   - detections: The detections to filter, with normalized boxes.
//   - imageSide: The side length used to scale boxes before computing overlaps.
//   - iouThreshold: IoU above which a lower-scoring box is suppressed.
//
// Returns:
//   - []Detection: The kept detections with their original normalized boxes.
func NonMaxSuppression(detections []Detection, imageSide int, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return nil
	}

	groups := make(map[int][]Detection)
	labels := make([]int, 0)
	for _, d := range detections {
		if _, ok := groups[d.Label]; !ok {
			labels = append(labels, d.Label)
		}
		groups[d.Label] = append(groups[d.Label], d)
	}
	sort.Ints(labels)

	side := float32(imageSide)
	if side <= 0 {
		side = 1
	}

	kept := make([]Detection, 0, len(detections))
	for _, label := range labels {
		kept = append(kept, suppressGroup(groups[label], side, iouThreshold)...)
	}
	return kept
}

// ApplyNMS runs NonMaxSuppression with the given configuration.
func ApplyNMS(detections []Detection, config NMSConfig) []Detection {
	return NonMaxSuppression(detections, config.ImageSide, config.IoUThreshold)
}

// suppressGroup runs greedy suppression over detections that share one label.
func suppressGroup(group []Detection, side, iouThreshold float32) []Detection {
	candidates := make([]Detection, 0, len(group))
	for _, d := range group {
		if d.Score >= ScoreFloor {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	scaled := make([]images.BoundingBox, len(candidates))
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(candidates))
	for i, d := range candidates {
		scaled[i] = d.Box.Normalize().Scale(side, side)
		r := d.Box.PixelRect(side)
		fb.Add(int32(r.X1), int32(r.Y1), int32(r.X2), int32(r.Y2))
	}
	fb.Finish()

	suppressed := make([]bool, len(candidates))
	kept := make([]Detection, 0, len(candidates))
	var nearby []int
	for i, d := range candidates {
		if suppressed[i] {
			continue
		}
		kept = append(kept, d)

		r := d.Box.PixelRect(side)
		nearby = fb.SearchFast(int32(r.X1), int32(r.Y1), int32(r.X2), int32(r.Y2), nearby[:0])
		for _, j := range nearby {
			if j <= i || suppressed[j] {
				continue
			}
			if scaled[i].IoU(scaled[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
