package metrics

import (
	"sort"

	"github.com/chewxy/math32"
	jsoniter "github.com/json-iterator/go"

	"github.com/nvr-ai/go-ml-eval/dataset"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultMaxCentroidDistance is the normalized distance within which centroids may match.
const DefaultMaxCentroidDistance float32 = 0.2

// Background is the implicit "no object" label of the centroid label space.
const Background = 0

// Centroid is a box center in normalized coordinates with a 1-indexed label.
type Centroid struct {
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	Label int     `json:"label"`
}

// Assignment pairs a prediction with a ground truth centroid.
type Assignment struct {
	YP       int     `json:"yp"`
	YT       int     `json:"yt"`
	Label    int     `json:"label"`
	Distance float32 `json:"distance"`
}

// DebugInfo is the diagnostic record of one centroid match, used to draw matches.
type DebugInfo struct {
	YTrues                []Centroid   `json:"y_trues"`
	YPreds                []Centroid   `json:"y_preds"`
	Assignments           []Assignment `json:"assignments"`
	NormalisedMinDistance float32      `json:"normalised_min_distance"`
	AllPairwiseDistances  [][]float32  `json:"all_pairwise_distances"`
	UnassignedYTrueIdxs   []int        `json:"unassigned_y_true_idxs"`
	UnassignedYPredIdxs   []int        `json:"unassigned_y_pred_idxs"`
}

// JSON returns the compact JSON encoding of the record.
func (d DebugInfo) JSON() (string, error) {
	return json.MarshalToString(d)
}

// GroundTruthCentroids converts pixel boxes into centroids normalized by the input side.
func GroundTruthCentroids(gt []dataset.GroundTruthBox, inputSide int) []Centroid {
	out := make([]Centroid, len(gt))
	for i, b := range gt {
		x, y := b.Box(inputSide, inputSide).Centroid()
		out[i] = Centroid{X: x, Y: y, Label: b.Label}
	}
	return out
}

// PredictionCentroids converts detections with 0-indexed labels into 1-indexed centroids.
func PredictionCentroids(dets []postprocess.Detection) []Centroid {
	out := make([]Centroid, len(dets))
	for i, d := range dets {
		x, y := d.Box.Centroid()
		out[i] = Centroid{X: x, Y: y, Label: d.Label + 1}
	}
	return out
}

type pair struct {
	t, p     int
	distance float32
}

// MatchByNearCentroids aligns ground truth and predicted centroids into label pairs.
//
// Pairs closer than maxDistance are assigned greedily from the nearest up, first among
// same-label pairs and then among the rest, each centroid taking part in at most one
// assignment. An assigned pair contributes (true label, predicted label). An unassigned ground
// truth contributes (label, Background) and an unassigned prediction (Background, label).
//
// Arguments:
//   - yTrue: The ground truth centroids.
//   - yPred: The predicted centroids.
//   - maxDistance: The largest normalized distance at which two centroids may match.
//
// Returns:
//   - []int: The true label of every pair.
//   - []int: The predicted label of every pair.
//   - DebugInfo: The matching diagnostics.
func MatchByNearCentroids(yTrue, yPred []Centroid, maxDistance float32) ([]int, []int, DebugInfo) {
	debug := DebugInfo{
		YTrues:                yTrue,
		YPreds:                yPred,
		Assignments:           []Assignment{},
		NormalisedMinDistance: maxDistance,
		AllPairwiseDistances:  make([][]float32, len(yTrue)),
		UnassignedYTrueIdxs:   []int{},
		UnassignedYPredIdxs:   []int{},
	}

	var same, cross []pair
	for t, ct := range yTrue {
		debug.AllPairwiseDistances[t] = make([]float32, len(yPred))
		for p, cp := range yPred {
			d := math32.Hypot(ct.X-cp.X, ct.Y-cp.Y)
			debug.AllPairwiseDistances[t][p] = d
			if d > maxDistance {
				continue
			}
			if ct.Label == cp.Label {
				same = append(same, pair{t: t, p: p, distance: d})
			} else {
				cross = append(cross, pair{t: t, p: p, distance: d})
			}
		}
	}

	trueTaken := make([]bool, len(yTrue))
	predTaken := make([]bool, len(yPred))
	var yTrueLabels, yPredLabels []int
	for _, candidates := range [][]pair{same, cross} {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].distance < candidates[j].distance
		})
		for _, c := range candidates {
			if trueTaken[c.t] || predTaken[c.p] {
				continue
			}
			trueTaken[c.t], predTaken[c.p] = true, true
			yTrueLabels = append(yTrueLabels, yTrue[c.t].Label)
			yPredLabels = append(yPredLabels, yPred[c.p].Label)
			debug.Assignments = append(debug.Assignments, Assignment{
				YP: c.p, YT: c.t, Label: yTrue[c.t].Label, Distance: c.distance,
			})
		}
	}

	for t, taken := range trueTaken {
		if !taken {
			debug.UnassignedYTrueIdxs = append(debug.UnassignedYTrueIdxs, t)
			yTrueLabels = append(yTrueLabels, yTrue[t].Label)
			yPredLabels = append(yPredLabels, Background)
		}
	}
	for p, taken := range predTaken {
		if !taken {
			debug.UnassignedYPredIdxs = append(debug.UnassignedYPredIdxs, p)
			yTrueLabels = append(yTrueLabels, Background)
			yPredLabels = append(yPredLabels, yPred[p].Label)
		}
	}
	return yTrueLabels, yPredLabels, debug
}

// ClassMetrics is the precision, recall and F1 of one foreground class.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// counts is the confusion tally of one class or of all classes pooled.
type counts struct {
	tp, fp, fn float64
}

// scores turns counts into precision, recall and F1. An empty denominator counts as perfect.
func (c counts) scores() ClassMetrics {
	if c.tp+c.fp+c.fn == 0 {
		return ClassMetrics{Precision: 1, Recall: 1, F1: 1}
	}
	m := ClassMetrics{Precision: 1, Recall: 1}
	if c.tp+c.fp > 0 {
		m.Precision = c.tp / (c.tp + c.fp)
	}
	if c.tp+c.fn > 0 {
		m.Recall = c.tp / (c.tp + c.fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

// classCounts tallies every foreground class that occurs in either list.
//
// A pair of equal foreground labels is a true positive of that class. Otherwise the predicted
// foreground label gets a false positive and the true foreground label a false negative, so
// pairs involving Background still count. Labels outside the label space are ignored.
func classCounts(yTrue, yPred []int, numClassesInclBackground int) map[int]*counts {
	foreground := func(l int) bool { return l > Background && l < numClassesInclBackground }
	tally := func(m map[int]*counts, l int) *counts {
		c, ok := m[l]
		if !ok {
			c = &counts{}
			m[l] = c
		}
		return c
	}

	out := make(map[int]*counts)
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		if foreground(t) && t == p {
			tally(out, t).tp++
			continue
		}
		if foreground(p) {
			tally(out, p).fp++
		}
		if foreground(t) {
			tally(out, t).fn++
		}
	}
	return out
}

// NonBackgroundMetrics computes micro-averaged precision, recall and F1 over the foreground
// classes 1..numClassesInclBackground-1.
//
// Pairs involving Background still count: a foreground truth paired with Background is a
// missed detection and Background paired with a foreground prediction is a false alarm. Labels
// outside the label space are ignored. With nothing to score every value is 1.
//
// Arguments:
//   - yTrue: The true label of every pair.
//   - yPred: The predicted label of every pair.
//   - numClassesInclBackground: The size of the label space including Background.
//
// Returns:
//   - float64: The precision.
//   - float64: The recall.
//   - float64: The F1 score.
func NonBackgroundMetrics(yTrue, yPred []int, numClassesInclBackground int) (float64, float64, float64) {
	var total counts
	for _, c := range classCounts(yTrue, yPred, numClassesInclBackground) {
		total.tp += c.tp
		total.fp += c.fp
		total.fn += c.fn
	}
	m := total.scores()
	return m.Precision, m.Recall, m.F1
}

// NonBackgroundClassMetrics computes precision, recall and F1 for each foreground class that
// occurs in yTrue or yPred, keyed by its 1-indexed label. Counting follows NonBackgroundMetrics.
func NonBackgroundClassMetrics(yTrue, yPred []int, numClassesInclBackground int) map[int]ClassMetrics {
	tallies := classCounts(yTrue, yPred, numClassesInclBackground)
	out := make(map[int]ClassMetrics, len(tallies))
	for label, c := range tallies {
		out[label] = c.scores()
	}
	return out
}

// CentroidResult is the per-sample outcome of centroid matching.
type CentroidResult struct {
	Precision   float64
	Recall      float64
	F1          float64
	PerClass    map[int]ClassMetrics
	YTrueLabels []int
	YPredLabels []int
	Debug       DebugInfo
}

// EvaluateCentroids matches the detections of one sample against its ground truth.
//
// Arguments:
//   - dets: The detections with normalized boxes and 0-indexed labels.
//   - gt: The ground truth with 1-indexed labels in input pixels.
//   - inputSide: The square model input side.
//   - numClassesInclBackground: The number of classes of the probability map.
//
// Returns:
//   - CentroidResult: The scores, the label pairs and the diagnostics.
func EvaluateCentroids(dets []postprocess.Detection, gt []dataset.GroundTruthBox, inputSide, numClassesInclBackground int) CentroidResult {
	yTrue, yPred, debug := MatchByNearCentroids(
		GroundTruthCentroids(gt, inputSide),
		PredictionCentroids(dets),
		DefaultMaxCentroidDistance,
	)
	p, r, f1 := NonBackgroundMetrics(yTrue, yPred, numClassesInclBackground)
	return CentroidResult{
		Precision:   p,
		Recall:      r,
		F1:          f1,
		PerClass:    NonBackgroundClassMetrics(yTrue, yPred, numClassesInclBackground),
		YTrueLabels: yTrue,
		YPredLabels: yPred,
		Debug:       debug,
	}
}

// CentroidMetrics is the pooled centroid metric of a whole run.
type CentroidMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	// PerClass is keyed by the 1-indexed foreground label.
	PerClass map[int]ClassMetrics `json:"per_class"`
}

// PooledCentroidMetrics scores the label pairs of every sample together.
func PooledCentroidMetrics(yTrue, yPred [][]int, numClassesInclBackground int) CentroidMetrics {
	var t, p []int
	for i := range yTrue {
		t = append(t, yTrue[i]...)
		p = append(p, yPred[i]...)
	}
	precision, recall, f1 := NonBackgroundMetrics(t, p, numClassesInclBackground)
	return CentroidMetrics{
		Precision: precision,
		Recall:    recall,
		F1:        f1,
		PerClass:  NonBackgroundClassMetrics(t, p, numClassesInclBackground),
	}
}
