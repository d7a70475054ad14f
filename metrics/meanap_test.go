package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-ml-eval/dataset"
	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

func TestGrids(t *testing.T) {
	require.Len(t, IoUThresholds, 10)
	assert.InDelta(t, 0.5, IoUThresholds[0], 1e-9)
	assert.InDelta(t, 0.95, IoUThresholds[9], 1e-9)
	require.Len(t, RecallThresholds, 101)
	assert.InDelta(t, 1.0, RecallThresholds[100], 1e-9)
}

func TestMeanAveragePrecision_Degenerate(t *testing.T) {
	got, err := MeanAveragePrecision(nil, 100, 100, nil, 3)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	got, err = MeanAveragePrecision([]postprocess.Detection{{Score: 0.5}}, 100, 100, nil, 3)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)

	_, err = MeanAveragePrecision(nil, 100, 100, []dataset.GroundTruthBox{{Label: 1}}, 0)
	assert.ErrorIs(t, err, ErrInvalidClassCount)
}

func TestMeanAveragePrecision(t *testing.T) {
	gt := []dataset.GroundTruthBox{
		{X: 10, Y: 10, Width: 30, Height: 30, Label: 1},
		{X: 50, Y: 50, Width: 40, Height: 20, Label: 2},
	}
	perfect := []postprocess.Detection{
		{Box: gt[0].Box(100, 100), Label: 0, Score: 0.9},
		{Box: gt[1].Box(100, 100), Label: 1, Score: 0.8},
	}

	tests := []struct {
		name       string
		detections []postprocess.Detection
		numClasses int
		want       float64
	}{
		{
			name:       "perfect match scaled by covered classes",
			detections: perfect,
			numClasses: 3,
			want:       2.0 / 3.0,
		},
		{
			name:       "perfect match over the full label space",
			detections: perfect,
			numClasses: 2,
			want:       1,
		},
		{
			name:       "no detections",
			detections: nil,
			numClasses: 2,
			want:       0,
		},
		{
			name: "wrong class",
			detections: []postprocess.Detection{
				{Box: gt[0].Box(100, 100), Label: 1, Score: 0.9},
			},
			numClasses: 2,
			want:       0,
		},
		{
			name: "one of two classes found",
			detections: []postprocess.Detection{
				{Box: gt[0].Box(100, 100), Label: 0, Score: 0.9},
			},
			numClasses: 2,
			want:       0.5,
		},
		{
			name: "duplicate detection is a false positive after the match",
			detections: []postprocess.Detection{
				{Box: gt[0].Box(100, 100), Label: 0, Score: 0.9},
				{Box: gt[0].Box(100, 100), Label: 0, Score: 0.4},
				{Box: gt[1].Box(100, 100), Label: 1, Score: 0.8},
			},
			numClasses: 2,
			want:       1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MeanAveragePrecision(tt.detections, 100, 100, gt, tt.numClasses)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

// A false positive ranked above the only true positive halves the precision at every recall.
func TestAveragePrecision_Ranking(t *testing.T) {
	gt := []dataset.GroundTruthBox{{X: 0, Y: 0, Width: 50, Height: 50, Label: 1}}
	dets := []postprocess.Detection{
		{Box: images.BoundingBox{YMin: 0.6, XMin: 0.6, YMax: 0.9, XMax: 0.9}, Label: 0, Score: 0.9},
		{Box: gt[0].Box(100, 100), Label: 0, Score: 0.5},
	}
	got, err := MeanAveragePrecision(dets, 100, 100, gt, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-9)
}

// Partial overlaps only count at the thresholds they clear.
func TestAveragePrecision_PartialOverlap(t *testing.T) {
	gt := []dataset.GroundTruthBox{{X: 0, Y: 0, Width: 100, Height: 100, Label: 1}}
	// IoU 0.72 against the full image box.
	dets := []postprocess.Detection{
		{Box: images.BoundingBox{YMin: 0, XMin: 0, YMax: 0.72, XMax: 1}, Label: 0, Score: 0.9},
	}
	got, err := MeanAveragePrecision(dets, 100, 100, gt, 1)
	require.NoError(t, err)
	// Thresholds 0.50 through 0.70 are cleared.
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestDatasetMeanAveragePrecision(t *testing.T) {
	gtA := []dataset.GroundTruthBox{{X: 10, Y: 10, Width: 20, Height: 20, Label: 1}}
	gtB := []dataset.GroundTruthBox{{X: 10, Y: 10, Width: 20, Height: 20, Label: 1}}

	imgs := []ImageDetections{
		{
			Detections:  []postprocess.Detection{{Box: gtA[0].Box(100, 100), Label: 0, Score: 0.9}},
			GroundTruth: gtA, Width: 100, Height: 100,
		},
		{
			Detections:  nil,
			GroundTruth: gtB, Width: 100, Height: 100,
		},
	}

	m, err := DatasetMeanAveragePrecision(imgs, 2)
	require.NoError(t, err)
	// One of two positives is found at precision 1: recall points 0..0.5 score 1.
	assert.InDelta(t, 51.0/101.0, m.MAP, 1e-9)
	assert.InDelta(t, 51.0/101.0, m.MAP50, 1e-9)
	assert.InDelta(t, 51.0/101.0, m.MAP75, 1e-9)
	assert.Equal(t, -1.0, m.PerClassAP[1])

	_, err = DatasetMeanAveragePrecision(imgs, 0)
	assert.ErrorIs(t, err, ErrInvalidClassCount)
}
