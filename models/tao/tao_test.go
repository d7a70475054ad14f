package tao

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/models/model"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

type stubDecoder struct {
	dets []postprocess.Detection
	err  error
}

func (s stubDecoder) Decode([]inference.RawOutputTensor, model.DecodeArgs) ([]postprocess.Detection, error) {
	return s.dets, s.err
}

func TestNewDecoder(t *testing.T) {
	_, err := NewDecoder(model.LastLayerYOLOX, stubDecoder{})
	assert.ErrorIs(t, err, model.ErrUnsupportedLastLayer)

	_, err = NewDecoder(model.LastLayerTAOSSD, nil)
	assert.ErrorIs(t, err, model.ErrMissingCollaborator)

	d, err := NewDecoder(model.LastLayerTAOYOLOv4, stubDecoder{})
	require.NoError(t, err)
	assert.Equal(t, model.LastLayerTAOYOLOv4, d.LastLayer())
}

func TestDecoder_Decode(t *testing.T) {
	d, err := NewDecoder(model.LastLayerTAORetinaNet, stubDecoder{dets: []postprocess.Detection{
		{Box: images.BoundingBox{YMin: 0.5, XMin: 0.5, YMax: 0.1, XMax: 0.2}, Label: 0, Score: 0.6},
		{Box: images.BoundingBox{YMin: 0.1, XMin: 0.1, YMax: 0.2, XMax: 0.2}, Label: 1, Score: 0.001},
	}})
	require.NoError(t, err)

	dets, err := d.Decode(nil, model.DecodeArgs{Width: 100, Height: 100})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, images.BoundingBox{YMin: 0.1, XMin: 0.2, YMax: 0.5, XMax: 0.5}, dets[0].Box)

	d, err = NewDecoder(model.LastLayerTAOYOLOv3, stubDecoder{err: errors.New("boom")})
	require.NoError(t, err)
	_, err = d.Decode(nil, model.DecodeArgs{})
	assert.EqualError(t, err, "tao-yolov3: boom")
}
