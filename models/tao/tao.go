// Package tao - routes NVIDIA TAO heads to an externally supplied box decoder.
package tao

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/models/model"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

// BoxDecoder is the external collaborator that understands the TAO output encodings.
type BoxDecoder interface {
	Decode(outputs []inference.RawOutputTensor, args model.DecodeArgs) ([]postprocess.Detection, error)
}

// Decoder wraps a BoxDecoder for one TAO tag and applies the shared confidence range.
type Decoder struct {
	layer model.LastLayer
	boxes BoxDecoder
}

// NewDecoder creates a new TAO decoder.
//
// Arguments:
//   - layer: One of the tao-* tags.
//   - boxes: The collaborator that decodes the raw outputs.
//
// Returns:
//   - *Decoder: The decoder.
//   - error: When the tag is not a TAO head or no collaborator is given.
func NewDecoder(layer model.LastLayer, boxes BoxDecoder) (*Decoder, error) {
	if !layer.IsTAO() {
		return nil, errors.Wrapf(model.ErrUnsupportedLastLayer, "tao: %q", layer)
	}
	if boxes == nil {
		return nil, errors.Wrapf(model.ErrMissingCollaborator, "tao: %q", layer)
	}
	return &Decoder{layer: layer, boxes: boxes}, nil
}

// LastLayer implements model.Decoder.
func (d *Decoder) LastLayer() model.LastLayer {
	return d.layer
}

// Decode implements model.Decoder.
func (d *Decoder) Decode(outputs []inference.RawOutputTensor, args model.DecodeArgs) ([]postprocess.Detection, error) {
	dets, err := d.boxes.Decode(outputs, args)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", d.layer)
	}
	for i := range dets {
		dets[i].Box = dets[i].Box.Normalize()
	}
	return postprocess.FilterByConfidence(dets, postprocess.EffectiveMinimumConfidence(args.MinimumConfidence)), nil
}
