package yolov7

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/models/model"
)

func TestDecoder_Decode(t *testing.T) {
	data := []float32{
		0, 32, 64, 96, 128, 2, 0.75,
		0, 0, 0, 16, 16, 0, 0.004,
	}
	out, err := inference.NewRawOutputTensor(inference.TensorDetails{Name: "output"}, data, 2, 7)
	require.NoError(t, err)

	dets, err := NewDecoder().Decode([]inference.RawOutputTensor{out}, model.DecodeArgs{Width: 128, Height: 128})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, images.BoundingBox{YMin: 0.5, XMin: 0.25, YMax: 1, XMax: 0.75}, dets[0].Box)
	assert.Equal(t, 2, dets[0].Label)
	assert.Equal(t, float32(0.75), dets[0].Score)
}

func TestDecoder_Errors(t *testing.T) {
	out, err := inference.NewRawOutputTensor(inference.TensorDetails{Name: "output"}, make([]float32, 6), 1, 6)
	require.NoError(t, err)

	_, err = NewDecoder().Decode([]inference.RawOutputTensor{out}, model.DecodeArgs{Width: 128, Height: 96})
	assert.ErrorIs(t, err, model.ErrNonSquareInput)

	_, err = NewDecoder().Decode([]inference.RawOutputTensor{out}, model.DecodeArgs{Width: 128, Height: 128})
	assert.ErrorIs(t, err, inference.ErrShapeMismatch)

	_, err = NewDecoder().Decode(nil, model.DecodeArgs{Width: 128, Height: 128})
	assert.ErrorIs(t, err, inference.ErrShapeMismatch)
}
