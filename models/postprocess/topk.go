// Package postprocess - Top-K extraction of (box, class) pairs with fixed-size padded output.
package postprocess

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/images"
)

// TopKFill is the sentinel value written into unused Top-K slots.
const TopKFill = -1

// DefaultMaxDetections is the per-image capacity used by the Top-K decoders.
const DefaultMaxDetections = 1000

// TopKResult holds the highest scoring (box, class) pairs of one image. Boxes are xyxy. Slots at
// and beyond NumDetections hold TopKFill.
type TopKResult struct {
	NumDetections int          `json:"num_detections"`
	Boxes         [][4]float32 `json:"boxes"`
	Confidence    []float32    `json:"confidence"`
	Classes       []int        `json:"classes"`
}

// newTopKResult returns a result of the given capacity with every slot sentinel filled.
func newTopKResult(capacity int) TopKResult {
	r := TopKResult{
		NumDetections: TopKFill,
		Boxes:         make([][4]float32, capacity),
		Confidence:    make([]float32, capacity),
		Classes:       make([]int, capacity),
	}
	for i := 0; i < capacity; i++ {
		r.Boxes[i] = [4]float32{TopKFill, TopKFill, TopKFill, TopKFill}
		r.Confidence[i] = TopKFill
		r.Classes[i] = TopKFill
	}
	return r
}

type pair struct {
	anchor int
	class  int
	score  float32
}

// TopKDetection selects the highest scoring (anchor, class) pairs of a single image.
//
// Arguments:
//   - boxes: One xyxy box per anchor.
//   - scores: One row of per-class scores per anchor.
//   - threshold: Pairs must score strictly above this value.
//   - maxDetections: The maximum number of pairs kept, which is also the result capacity.
//
// Returns:
//   - TopKResult: Pairs ordered by descending score, ties in (anchor, class) order.
//   - error: When boxes and scores do not have the same number of anchors.
func TopKDetection(boxes [][4]float32, scores [][]float32, threshold float32, maxDetections int) (TopKResult, error) {
	if len(boxes) != len(scores) {
		return TopKResult{}, errors.Wrapf(ErrShapeMismatch,
			"top-k: %d boxes but %d score rows", len(boxes), len(scores))
	}
	if maxDetections < 0 {
		return TopKResult{}, errors.Errorf("top-k: negative capacity %d", maxDetections)
	}

	var candidates []pair
	for a, row := range scores {
		for c, s := range row {
			if s > threshold {
				candidates = append(candidates, pair{anchor: a, class: c, score: s})
			}
		}
	}

	result := newTopKResult(maxDetections)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > maxDetections {
		candidates = candidates[:maxDetections]
	}

	result.NumDetections = len(candidates)
	for i, p := range candidates {
		result.Boxes[i] = boxes[p.anchor]
		result.Confidence[i] = p.score
		result.Classes[i] = p.class
	}
	return result, nil
}

// TopKResults runs TopKDetection over a batch of images.
//
// Arguments:
//   - boxes: Per image, one xyxy box per anchor.
//   - scores: Per image, one row of per-class scores per anchor.
//   - threshold: Pairs must score strictly above this value.
//   - maxDetections: The per-image capacity.
//
// Returns:
//   - []TopKResult: One fixed-capacity result per image.
//   - error: When the batch sizes differ or an image is malformed.
func TopKResults(boxes [][][4]float32, scores [][][]float32, threshold float32, maxDetections int) ([]TopKResult, error) {
	if len(boxes) != len(scores) {
		return nil, errors.Wrapf(ErrShapeMismatch,
			"top-k: batch of %d boxes but %d scores", len(boxes), len(scores))
	}
	results := make([]TopKResult, len(boxes))
	for i := range boxes {
		r, err := TopKDetection(boxes[i], scores[i], threshold, maxDetections)
		if err != nil {
			return nil, errors.Wrapf(err, "image %d", i)
		}
		results[i] = r
	}
	return results, nil
}

// Detections converts the filled slots into canonical detections.
func (r TopKResult) Detections() []Detection {
	if r.NumDetections <= 0 {
		return nil
	}
	out := make([]Detection, r.NumDetections)
	for i := 0; i < r.NumDetections; i++ {
		out[i] = Detection{
			Box:   images.ToCornerForm(r.Boxes[i], images.FormatCornerXYXY),
			Label: r.Classes[i],
			Score: r.Confidence[i],
		}
	}
	return out
}
