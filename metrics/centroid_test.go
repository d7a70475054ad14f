package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-ml-eval/dataset"
	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

func TestMatchByNearCentroids(t *testing.T) {
	tests := []struct {
		name      string
		yTrue     []Centroid
		yPred     []Centroid
		wantTrue  []int
		wantPred  []int
		wantPairs int
	}{
		{
			name:      "close same class",
			yTrue:     []Centroid{{X: 0.5, Y: 0.5, Label: 1}},
			yPred:     []Centroid{{X: 0.55, Y: 0.5, Label: 1}},
			wantTrue:  []int{1},
			wantPred:  []int{1},
			wantPairs: 1,
		},
		{
			name:     "too far apart",
			yTrue:    []Centroid{{X: 0.1, Y: 0.1, Label: 1}},
			yPred:    []Centroid{{X: 0.9, Y: 0.9, Label: 1}},
			wantTrue: []int{1, 0},
			wantPred: []int{0, 1},
		},
		{
			name:      "close different class",
			yTrue:     []Centroid{{X: 0.5, Y: 0.5, Label: 1}},
			yPred:     []Centroid{{X: 0.5, Y: 0.6, Label: 2}},
			wantTrue:  []int{1},
			wantPred:  []int{2},
			wantPairs: 1,
		},
		{
			name: "same class wins over a nearer other class",
			yTrue: []Centroid{
				{X: 0.5, Y: 0.5, Label: 1},
			},
			yPred: []Centroid{
				{X: 0.51, Y: 0.5, Label: 2},
				{X: 0.6, Y: 0.5, Label: 1},
			},
			wantTrue:  []int{1, 0},
			wantPred:  []int{1, 2},
			wantPairs: 1,
		},
		{
			name:     "nothing at all",
			wantTrue: nil,
			wantPred: nil,
		},
		{
			name:     "only predictions",
			yPred:    []Centroid{{X: 0.2, Y: 0.2, Label: 3}},
			wantTrue: []int{0},
			wantPred: []int{3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yTrue, yPred, debug := MatchByNearCentroids(tt.yTrue, tt.yPred, DefaultMaxCentroidDistance)
			assert.Equal(t, tt.wantTrue, yTrue)
			assert.Equal(t, tt.wantPred, yPred)
			assert.Len(t, debug.Assignments, tt.wantPairs)
			assert.Len(t, debug.AllPairwiseDistances, len(tt.yTrue))
			assert.Equal(t, len(tt.yTrue)-tt.wantPairs, len(debug.UnassignedYTrueIdxs))
			assert.Equal(t, len(tt.yPred)-tt.wantPairs, len(debug.UnassignedYPredIdxs))
		})
	}
}

func TestNonBackgroundMetrics(t *testing.T) {
	tests := []struct {
		name          string
		yTrue, yPred  []int
		numClasses    int
		p, r, f1      float64
	}{
		{name: "empty", numClasses: 3, p: 1, r: 1, f1: 1},
		{name: "background only", yTrue: []int{0}, yPred: []int{0}, numClasses: 3, p: 1, r: 1, f1: 1},
		{name: "all correct", yTrue: []int{1, 2}, yPred: []int{1, 2}, numClasses: 3, p: 1, r: 1, f1: 1},
		{name: "missed", yTrue: []int{1}, yPred: []int{0}, numClasses: 3, p: 1, r: 0, f1: 0},
		{name: "false alarm", yTrue: []int{0}, yPred: []int{1}, numClasses: 3, p: 0, r: 1, f1: 0},
		{
			name:       "half right",
			yTrue:      []int{1, 1, 0},
			yPred:      []int{1, 0, 2},
			numClasses: 3,
			p:          0.5,
			r:          0.5,
			f1:         0.5,
		},
		{name: "out of range ignored", yTrue: []int{-1, 7}, yPred: []int{0, 7}, numClasses: 3, p: 1, r: 1, f1: 1},
		{name: "confused class", yTrue: []int{1}, yPred: []int{2}, numClasses: 3, p: 0, r: 0, f1: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, r, f1 := NonBackgroundMetrics(tt.yTrue, tt.yPred, tt.numClasses)
			assert.InDelta(t, tt.p, p, 1e-9)
			assert.InDelta(t, tt.r, r, 1e-9)
			assert.InDelta(t, tt.f1, f1, 1e-9)
		})
	}
}

func TestNonBackgroundClassMetrics(t *testing.T) {
	// Class 1 finds two of three objects, class 2 finds its object plus a false alarm.
	yTrue := []int{1, 1, 1, 2, 0, 0}
	yPred := []int{1, 1, 0, 2, 2, 0}

	perClass := NonBackgroundClassMetrics(yTrue, yPred, 3)
	require.Len(t, perClass, 2)

	assert.InDelta(t, 1.0, perClass[1].Precision, 1e-9)
	assert.InDelta(t, 2.0/3, perClass[1].Recall, 1e-9)
	assert.InDelta(t, 0.8, perClass[1].F1, 1e-9)

	assert.InDelta(t, 0.5, perClass[2].Precision, 1e-9)
	assert.InDelta(t, 1.0, perClass[2].Recall, 1e-9)
	assert.InDelta(t, 2.0/3, perClass[2].F1, 1e-9)

	p, r, f1 := NonBackgroundMetrics(yTrue, yPred, 3)
	assert.InDelta(t, 0.75, p, 1e-9)
	assert.InDelta(t, 0.75, r, 1e-9)
	assert.InDelta(t, 0.75, f1, 1e-9)

	assert.Empty(t, NonBackgroundClassMetrics([]int{0, 9}, []int{0, 9}, 3))
}

func TestEvaluateCentroids(t *testing.T) {
	gt := []dataset.GroundTruthBox{
		{X: 8, Y: 8, Width: 16, Height: 16, Label: 1},
		{X: 64, Y: 64, Width: 16, Height: 16, Label: 2},
	}
	dets := []postprocess.Detection{
		{Box: images.BoundingBox{YMin: 0.1, XMin: 0.1, YMax: 0.25, XMax: 0.25}, Label: 0, Score: 0.9},
		{Box: images.BoundingBox{YMin: 0.9, XMin: 0.1, YMax: 1, XMax: 0.2}, Label: 1, Score: 0.8},
	}

	res := EvaluateCentroids(dets, gt, 96, 3)
	assert.InDelta(t, 0.5, res.Precision, 1e-9)
	assert.InDelta(t, 0.5, res.Recall, 1e-9)
	assert.InDelta(t, 0.5, res.F1, 1e-9)
	assert.Equal(t, []int{1, 2, 0}, res.YTrueLabels)
	assert.Equal(t, []int{1, 0, 2}, res.YPredLabels)
	assert.Equal(t, map[int]ClassMetrics{
		1: {Precision: 1, Recall: 1, F1: 1},
		2: {Precision: 0, Recall: 0, F1: 0},
	}, res.PerClass)

	raw, err := res.Debug.JSON()
	require.NoError(t, err)
	for _, key := range []string{
		"y_trues", "y_preds", "assignments", "normalised_min_distance",
		"all_pairwise_distances", "unassigned_y_true_idxs", "unassigned_y_pred_idxs",
	} {
		assert.Contains(t, raw, `"`+key+`"`)
	}
}

func TestPooledCentroidMetrics(t *testing.T) {
	m := PooledCentroidMetrics([][]int{{1}, {1, 0}}, [][]int{{1}, {0, 1}}, 2)
	assert.InDelta(t, 0.5, m.Precision, 1e-9)
	assert.InDelta(t, 0.5, m.Recall, 1e-9)
	assert.InDelta(t, 0.5, m.F1, 1e-9)
	require.Contains(t, m.PerClass, 1)
	assert.InDelta(t, 0.5, m.PerClass[1].F1, 1e-9)

	raw, err := json.MarshalToString(m)
	require.NoError(t, err)
	assert.Contains(t, raw, `"per_class":{"1":`)
}
