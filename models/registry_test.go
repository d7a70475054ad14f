package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/models/akida"
	"github.com/nvr-ai/go-ml-eval/models/model"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

type collaborator struct{}

func (collaborator) LastLayer() model.LastLayer { return model.LastLayerTAOSSD }

func (collaborator) Decode([]inference.RawOutputTensor, model.DecodeArgs) ([]postprocess.Detection, error) {
	return nil, nil
}

func TestNewDecoder(t *testing.T) {
	for _, layer := range model.LastLayers {
		t.Run(string(layer), func(t *testing.T) {
			d, err := NewDecoder(model.NewDecoderArgs{
				LastLayer:    layer,
				Anchors:      akida.StaticAnchors{{Width: 1, Height: 1}},
				Collaborator: collaborator{},
			})
			require.NoError(t, err)
			assert.Equal(t, layer, d.LastLayer())
		})
	}
}

func TestNewDecoder_Errors(t *testing.T) {
	tests := []struct {
		name string
		args model.NewDecoderArgs
		want error
	}{
		{
			name: "unknown tag",
			args: model.NewDecoderArgs{LastLayer: "yolov9000"},
			want: model.ErrUnsupportedLastLayer,
		},
		{
			name: "tao without collaborator",
			args: model.NewDecoderArgs{LastLayer: model.LastLayerTAORetinaNet},
			want: model.ErrMissingCollaborator,
		},
		{
			name: "akida without anchors",
			args: model.NewDecoderArgs{LastLayer: model.LastLayerYOLOv2Akida},
			want: model.ErrMissingCollaborator,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDecoder(tt.args)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, d)
		})
	}
}

func TestNewDecoder_AnchorsPath(t *testing.T) {
	d, err := NewDecoder(model.NewDecoderArgs{LastLayer: model.LastLayerYOLOv2Akida, AnchorsPath: "anchors.json"})
	require.NoError(t, err)
	assert.Equal(t, model.LastLayerYOLOv2Akida, d.LastLayer())
}

// Two candidates at the same location with scores 0.9 and 0.05 collapse into one detection.
func TestDecode_DuplicateCandidates(t *testing.T) {
	d, err := NewDecoder(model.NewDecoderArgs{LastLayer: model.LastLayerYOLOv5})
	require.NoError(t, err)

	out, err := inference.NewRawOutputTensor(inference.TensorDetails{Name: "output0"}, []float32{
		0.5, 0.5, 0.3, 0.3, 0.9, 1,
		0.5, 0.5, 0.3, 0.3, 0.05, 1,
	}, 2, 6)
	require.NoError(t, err)

	minimum := float32(0.01)
	dets, err := d.Decode([]inference.RawOutputTensor{out}, model.DecodeArgs{Width: 320, Height: 320, MinimumConfidence: &minimum, NumClasses: 1})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, float32(0.9), dets[0].Score)
}
