// Package metrics - Accuracy metrics for decoded detections.
package metrics

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/dataset"
	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

// ErrInvalidClassCount is returned when the class count is not positive.
var ErrInvalidClassCount = errors.New("metrics: number of classes must be positive")

// IoUThresholds is the COCO IoU grid 0.50:0.05:0.95.
var IoUThresholds = grid(0.5, 0.95, 0.05)

// RecallThresholds is the COCO recall grid 0.00:0.01:1.00.
var RecallThresholds = grid(0, 1, 0.01)

func grid(from, to, step float64) []float64 {
	n := int((to-from)/step+0.5) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Round((from+float64(i)*step)*1e6) / 1e6
	}
	return out
}

// ImageDetections holds the predictions and ground truth of one image.
type ImageDetections struct {
	Detections  []postprocess.Detection
	GroundTruth []dataset.GroundTruthBox
	Width       int
	Height      int
}

// truthBox is a ground truth box in normalized corner form with a 0-indexed class.
type truthBox struct {
	box   images.BoundingBox
	class int
}

func truthBoxes(gt []dataset.GroundTruthBox, width, height int) []truthBox {
	out := make([]truthBox, len(gt))
	for i, b := range gt {
		out[i] = truthBox{box: b.Box(width, height), class: b.Label - 1}
	}
	return out
}

// candidate is one prediction of a class with its overlap against the same-class truth of its
// image, visited in descending IoU order.
type candidate struct {
	image int
	score float32
	ious  []float32
	order []int
}

// classEvaluation collects the candidates and positives of one class.
type classEvaluation struct {
	candidates []candidate
	positives  int
}

// add records an image's predictions and truths of the class.
func (c *classEvaluation) add(image, class int, dets []postprocess.Detection, truth []truthBox) {
	var boxes []images.BoundingBox
	for _, t := range truth {
		if t.class == class {
			boxes = append(boxes, t.box)
		}
	}
	c.positives += len(boxes)

	for _, d := range dets {
		if d.Label != class {
			continue
		}
		ious := make([]float32, len(boxes))
		order := make([]int, len(boxes))
		for i, b := range boxes {
			ious[i] = d.Box.IoU(b)
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool {
			return ious[order[i]] > ious[order[j]]
		})
		c.candidates = append(c.candidates, candidate{image: image, score: d.Score, ious: ious, order: order})
	}
}

// averagePrecision computes the recall-interpolated AP of the class at one IoU threshold.
//
// Candidates are visited by descending confidence. Each is matched to the highest-IoU truth of
// its image that it overlaps above the threshold and that no earlier candidate has taken; a
// candidate whose best remaining overlap is not above the threshold is a false positive.
func (c *classEvaluation) averagePrecision(threshold float64) float64 {
	matched := make(map[int]map[int]bool)
	n := len(c.candidates)
	precision := make([]float64, n)
	recall := make([]float64, n)

	var tp, fp float64
	for k, cand := range c.candidates {
		if matched[cand.image] == nil {
			matched[cand.image] = make(map[int]bool)
		}
		hit := false
		for _, idx := range cand.order {
			if float64(cand.ious[idx]) <= threshold {
				break
			}
			if !matched[cand.image][idx] {
				matched[cand.image][idx] = true
				hit = true
				break
			}
		}
		if hit {
			tp++
		} else {
			fp++
		}
		recall[k] = tp / max(float64(c.positives), 1)
		precision[k] = tp / (tp + fp)
	}

	for i := n - 1; i > 0; i-- {
		precision[i-1] = max(precision[i-1], precision[i])
	}

	var sum float64
	for _, r := range RecallThresholds {
		i := sort.SearchFloat64s(recall, r)
		if i < n {
			sum += precision[i]
		}
	}
	return sum / float64(len(RecallThresholds))
}

// sortCandidates orders the candidates by descending confidence, ties in insertion order.
func (c *classEvaluation) sortCandidates() {
	sort.SliceStable(c.candidates, func(i, j int) bool {
		return c.candidates[i].score > c.candidates[j].score
	})
}

// meanOverThresholds averages the class AP over the given IoU thresholds.
func (c *classEvaluation) meanOverThresholds(thresholds []float64) float64 {
	var sum float64
	for _, t := range thresholds {
		sum += c.averagePrecision(t)
	}
	return sum / float64(len(thresholds))
}

// evaluate builds the per-class evaluations over all images.
func evaluate(imagesDets []ImageDetections, classes []int) map[int]*classEvaluation {
	evals := make(map[int]*classEvaluation, len(classes))
	for _, class := range classes {
		evals[class] = &classEvaluation{}
	}
	for i, img := range imagesDets {
		truth := truthBoxes(img.GroundTruth, img.Width, img.Height)
		for _, class := range classes {
			evals[class].add(i, class, img.Detections, truth)
		}
	}
	for _, e := range evals {
		e.sortCandidates()
	}
	return evals
}

// MeanAveragePrecision scores the detections of one image.
//
// An image without ground truth scores 1 when there are no detections and 0 otherwise. Else the
// COCO mAP (IoU 0.50:0.95, 101 recall points) is averaged over every class present in the truth
// or the detections, then scaled by the share of the label space the image's truth covers.
//
// Arguments:
//   - detections: The decoded detections with normalized boxes and 0-indexed labels.
//   - width: The image width used to normalize the ground truth.
//   - height: The image height used to normalize the ground truth.
//   - gt: The ground truth with 1-indexed labels.
//   - numClasses: The number of foreground classes.
//
// Returns:
//   - float64: The scaled mAP.
//   - error: ErrInvalidClassCount when numClasses is not positive.
func MeanAveragePrecision(detections []postprocess.Detection, width, height int, gt []dataset.GroundTruthBox, numClasses int) (float64, error) {
	if len(gt) == 0 {
		if len(detections) == 0 {
			return 1, nil
		}
		return 0, nil
	}
	if numClasses <= 0 {
		return 0, errors.Wrapf(ErrInvalidClassCount, "got %d", numClasses)
	}

	present := make(map[int]bool)
	for _, b := range gt {
		present[b.Label-1] = true
	}
	for _, d := range detections {
		present[d.Label] = true
	}
	classes := make([]int, 0, len(present))
	for c := range present {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	evals := evaluate([]ImageDetections{{Detections: detections, GroundTruth: gt, Width: width, Height: height}}, classes)
	var sum float64
	for _, c := range classes {
		sum += evals[c].meanOverThresholds(IoUThresholds)
	}
	raw := sum / float64(len(classes))

	return raw * float64(dataset.DistinctLabels(gt)) / float64(numClasses), nil
}

// DatasetMetrics is the pooled box metric of a whole run.
type DatasetMetrics struct {
	// MAP is the COCO mAP@[.50:.95].
	MAP float64 `json:"mAP"`
	// MAP50 is the mAP at IoU 0.5.
	MAP50 float64 `json:"mAP@50"`
	// MAP75 is the mAP at IoU 0.75.
	MAP75 float64 `json:"mAP@75"`
	// PerClassAP is the AP@[.50:.95] per 0-indexed class, -1 for classes without ground truth.
	PerClassAP []float64 `json:"per_class_ap"`
}

// DatasetMeanAveragePrecision pools every image into a single COCO evaluation.
//
// Matching stays within an image; precision and recall accumulate across images. Classes
// without any ground truth are left out of the means and reported as -1.
//
// Arguments:
//   - imagesDets: The per-image detections and ground truth.
//   - numClasses: The number of foreground classes.
//
// Returns:
//   - DatasetMetrics: The pooled metrics.
//   - error: ErrInvalidClassCount when numClasses is not positive.
func DatasetMeanAveragePrecision(imagesDets []ImageDetections, numClasses int) (DatasetMetrics, error) {
	if numClasses <= 0 {
		return DatasetMetrics{}, errors.Wrapf(ErrInvalidClassCount, "got %d", numClasses)
	}
	classes := make([]int, numClasses)
	for i := range classes {
		classes[i] = i
	}
	evals := evaluate(imagesDets, classes)

	m := DatasetMetrics{PerClassAP: make([]float64, numClasses)}
	var counted int
	for _, c := range classes {
		e := evals[c]
		if e.positives == 0 {
			m.PerClassAP[c] = -1
			continue
		}
		counted++
		m.PerClassAP[c] = e.meanOverThresholds(IoUThresholds)
		m.MAP += m.PerClassAP[c]
		m.MAP50 += e.averagePrecision(0.5)
		m.MAP75 += e.averagePrecision(0.75)
	}
	if counted > 0 {
		m.MAP /= float64(counted)
		m.MAP50 /= float64(counted)
		m.MAP75 /= float64(counted)
	}
	return m, nil
}
