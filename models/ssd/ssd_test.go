package ssd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/models/model"
)

func output(t *testing.T, name string, data []float32, shape ...int) inference.RawOutputTensor {
	t.Helper()
	o, err := inference.NewRawOutputTensor(inference.TensorDetails{Name: name}, data, shape...)
	require.NoError(t, err)
	return o
}

func TestDecoder_Decode(t *testing.T) {
	boxes := []float32{
		0.1, 0.2, 0.3, 0.4,
		0.5, 0.5, 0.9, 0.9,
	}
	scores := []float32{0.8, 0.2}
	labels := []float32{3, 1}
	minimum := float32(0.5)

	tests := []struct {
		name    string
		outputs []inference.RawOutputTensor
		args    model.DecodeArgs
		want    int
	}{
		{
			name: "named outputs in any order",
			outputs: []inference.RawOutputTensor{
				output(t, LabelsTensor, labels, 2),
				output(t, BoxesTensor, boxes, 2, 4),
				output(t, ScoresTensor, scores, 2),
			},
			args: model.DecodeArgs{Width: 320, Height: 320},
			want: 2,
		},
		{
			name: "positional fallback",
			outputs: []inference.RawOutputTensor{
				output(t, "boxes", boxes, 2, 4),
				output(t, "labels", labels, 2),
				output(t, "scores", scores, 2),
			},
			args: model.DecodeArgs{Width: 320, Height: 320},
			want: 2,
		},
		{
			name: "minimum confidence filters",
			outputs: []inference.RawOutputTensor{
				output(t, BoxesTensor, boxes, 2, 4),
				output(t, LabelsTensor, labels, 2),
				output(t, ScoresTensor, scores, 2),
			},
			args: model.DecodeArgs{Width: 320, Height: 320, MinimumConfidence: &minimum},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dets, err := NewDecoder().Decode(tt.outputs, tt.args)
			require.NoError(t, err)
			require.Len(t, dets, tt.want)
			assert.Equal(t, images.BoundingBox{YMin: 0.1, XMin: 0.2, YMax: 0.3, XMax: 0.4}, dets[0].Box)
			assert.Equal(t, 3, dets[0].Label)
			assert.Equal(t, float32(0.8), dets[0].Score)
		})
	}
}

func TestDecoder_Errors(t *testing.T) {
	_, err := NewDecoder().Decode([]inference.RawOutputTensor{output(t, "x", []float32{1}, 1)}, model.DecodeArgs{})
	assert.ErrorIs(t, err, inference.ErrShapeMismatch)

	_, err = NewDecoder().Decode([]inference.RawOutputTensor{
		output(t, BoxesTensor, []float32{0, 0, 1, 1, 0, 0, 1, 1}, 2, 4),
		output(t, LabelsTensor, []float32{1}, 1),
		output(t, ScoresTensor, []float32{0.5}, 1),
	}, model.DecodeArgs{})
	assert.ErrorIs(t, err, inference.ErrShapeMismatch)
}

func TestDecoder_LastLayer(t *testing.T) {
	assert.Equal(t, model.LastLayerMobileNetSSD, NewDecoder().LastLayer())
}
