package metrics

import (
	"github.com/pkg/errors"
)

// ErrNoSamples is returned when a metric has nothing to average over.
var ErrNoSamples = errors.New("metrics: no samples to score")

// Accuracy returns the share of rows whose highest score sits at the true class.
//
// Rows with a negative true class are skipped; they carry a label the model was not trained on.
//
// Arguments:
//   - yTrue: The 0-indexed true class of every row.
//   - probs: The class scores of every row.
//
// Returns:
//   - float64: The accuracy.
//   - error: When the inputs differ in length or no row is scored.
func Accuracy(yTrue []int, probs [][]float32) (float64, error) {
	if len(yTrue) != len(probs) {
		return 0, errors.Errorf("%d labels, %d predictions", len(yTrue), len(probs))
	}
	var correct, total int
	for i, row := range probs {
		if yTrue[i] < 0 || len(row) == 0 {
			continue
		}
		best := 0
		for j, p := range row {
			if p > row[best] {
				best = j
			}
		}
		total++
		if best == yTrue[i] {
			correct++
		}
	}
	if total == 0 {
		return 0, ErrNoSamples
	}
	return float64(correct) / float64(total), nil
}

// MeanSquaredError returns the mean squared difference between targets and the first value of
// every prediction.
func MeanSquaredError(yTrue []float32, yPred [][]float32) (float64, error) {
	if len(yTrue) != len(yPred) {
		return 0, errors.Errorf("%d targets, %d predictions", len(yTrue), len(yPred))
	}
	var sum float64
	var n int
	for i, row := range yPred {
		if len(row) == 0 {
			continue
		}
		d := float64(row[0] - yTrue[i])
		sum += d * d
		n++
	}
	if n == 0 {
		return 0, ErrNoSamples
	}
	return sum / float64(n), nil
}
