package akida

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/models/model"
)

func TestParseAnchors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []model.Anchor
		wantErr bool
	}{
		{
			name: "pairs",
			raw:  `[[1.5, 2], [3, 4]]`,
			want: []model.Anchor{{Width: 1.5, Height: 2}, {Width: 3, Height: 4}},
		},
		{
			name: "objects",
			raw:  `[{"width": 1, "height": 2}]`,
			want: []model.Anchor{{Width: 1, Height: 2}},
		},
		{name: "empty", raw: `[]`, wantErr: true},
		{name: "non-positive", raw: `[[0, 1]]`, wantErr: true},
		{name: "garbage", raw: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAnchors([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileAnchorProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anchors.json")
	require.NoError(t, os.WriteFile(path, []byte(`[[2, 2]]`), 0o600))

	anchors, err := FileAnchorProvider{Path: path}.Anchors()
	require.NoError(t, err)
	assert.Equal(t, []model.Anchor{{Width: 2, Height: 2}}, anchors)

	_, err = FileAnchorProvider{Path: filepath.Join(t.TempDir(), "missing.json")}.Anchors()
	assert.Error(t, err)
}

func TestDecoder_Decode(t *testing.T) {
	// 2x2 grid, one anchor, one class: (tx, ty, tw, th, objectness, class logit).
	data := make([]float32, 2*2*6)
	for i := 0; i < 4; i++ {
		data[i*6+4] = -10
	}
	copy(data[2*6:], []float32{0, 0, 0, 0, 10, 3})

	out, err := inference.NewRawOutputTensor(inference.TensorDetails{Name: "output"}, data, 2, 2, 6)
	require.NoError(t, err)

	d, err := NewDecoder(StaticAnchors{{Width: 2, Height: 2}})
	require.NoError(t, err)
	assert.Equal(t, model.LastLayerYOLOv2Akida, d.LastLayer())

	minimum := float32(0.5)
	dets, err := d.Decode([]inference.RawOutputTensor{out}, model.DecodeArgs{Width: 64, Height: 64, NumClasses: 1, MinimumConfidence: &minimum})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.InDelta(t, 0.25, dets[0].Box.YMin, 1e-5)
	assert.InDelta(t, -0.25, dets[0].Box.XMin, 1e-5)
	assert.InDelta(t, 1.25, dets[0].Box.YMax, 1e-5)
	assert.InDelta(t, 0.75, dets[0].Box.XMax, 1e-5)
	assert.Equal(t, 0, dets[0].Label)
	assert.InDelta(t, 0.99995, dets[0].Score, 1e-4)
}

func TestDecoder_Errors(t *testing.T) {
	_, err := NewDecoder(nil)
	assert.ErrorIs(t, err, model.ErrMissingCollaborator)

	d, err := NewDecoder(StaticAnchors{{Width: 1, Height: 1}, {Width: 2, Height: 2}})
	require.NoError(t, err)

	out, err := inference.NewRawOutputTensor(inference.TensorDetails{Name: "output"}, make([]float32, 2*2*6), 2, 2, 6)
	require.NoError(t, err)
	_, err = d.Decode([]inference.RawOutputTensor{out}, model.DecodeArgs{Width: 64, Height: 64, NumClasses: 1})
	assert.ErrorIs(t, err, inference.ErrShapeMismatch)

	_, err = d.Decode([]inference.RawOutputTensor{out}, model.DecodeArgs{Width: 64, Height: 64})
	assert.ErrorIs(t, err, model.ErrMissingNumClasses)
}
