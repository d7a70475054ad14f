// Package yolopro - decodes YOLO-Pro and YOLOv11 heads through the Top-K extractor.
package yolopro

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/models/model"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

// Decoder decodes a single output of boxes followed by per-class scores.
//
// YOLO-Pro rows are (xmin, ymin, xmax, ymax, scores...). YOLOv11 exports the transpose,
// (4+C, N), with center-form boxes.
type Decoder struct {
	// Transposed marks the YOLOv11 (4+C, N) center-form layout.
	Transposed bool
	// Absolute marks pixel coordinates that must be divided by the input side.
	Absolute bool
	// MaxDetections caps the Top-K extraction.
	MaxDetections int
}

// NewDecoder creates a decoder for one of the yolo-pro, yolov11 and yolov11-abs tags.
//
// Arguments:
//   - layer: The last layer tag.
//
// Returns:
//   - *Decoder: The decoder.
//   - error: When the tag is not handled by this package.
func NewDecoder(layer model.LastLayer) (*Decoder, error) {
	d := &Decoder{MaxDetections: postprocess.DefaultMaxDetections}
	switch layer {
	case model.LastLayerYOLOPro:
	case model.LastLayerYOLOv11:
		d.Transposed = true
	case model.LastLayerYOLOv11Abs:
		d.Transposed = true
		d.Absolute = true
	default:
		return nil, errors.Wrapf(model.ErrUnsupportedLastLayer, "yolopro: %q", layer)
	}
	return d, nil
}

// LastLayer implements model.Decoder.
func (d *Decoder) LastLayer() model.LastLayer {
	switch {
	case d.Absolute:
		return model.LastLayerYOLOv11Abs
	case d.Transposed:
		return model.LastLayerYOLOv11
	default:
		return model.LastLayerYOLOPro
	}
}

// Decode implements model.Decoder.
//
// Arguments:
//   - outputs: The dequantized outputs; only the first is read.
//   - args: The decode arguments. Width is the square input side.
//
// Returns:
//   - []postprocess.Detection: The suppressed detections.
//   - error: When the output is not a (N, 4+C) or (4+C, N) matrix.
func (d *Decoder) Decode(outputs []inference.RawOutputTensor, args model.DecodeArgs) ([]postprocess.Detection, error) {
	if len(outputs) == 0 {
		return nil, errors.Wrap(inference.ErrShapeMismatch, "yolopro: no outputs")
	}
	out := outputs[0]
	if d.Transposed {
		t, err := transpose(out)
		if err != nil {
			return nil, err
		}
		out = t
	}

	cols := out.LastDim()
	if cols < 5 {
		return nil, errors.Wrapf(inference.ErrShapeMismatch, "yolopro: output %v has no class columns", out.Shape())
	}
	rows, err := out.Rows(cols)
	if err != nil {
		return nil, errors.Wrap(err, "yolopro")
	}

	side := float32(args.Side())
	boxes := make([][4]float32, len(rows))
	scores := make([][]float32, len(rows))
	for i, r := range rows {
		b := [4]float32{r[0], r[1], r[2], r[3]}
		if d.Transposed {
			c := images.ToCornerForm(b, images.FormatCenterXYWH)
			b = [4]float32{c.XMin, c.YMin, c.XMax, c.YMax}
		}
		if d.Absolute {
			for k := range b {
				b[k] /= side
			}
		}
		boxes[i] = b
		scores[i] = r[4:]
	}

	limit := d.MaxDetections
	if limit <= 0 {
		limit = postprocess.DefaultMaxDetections
	}
	results, err := postprocess.TopKResults(
		[][][4]float32{boxes},
		[][][]float32{scores},
		postprocess.EffectiveMinimumConfidence(args.MinimumConfidence),
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "yolopro")
	}

	detections := results[0].Detections()
	for i := range detections {
		detections[i].Box = detections[i].Box.Normalize()
	}
	detections = postprocess.FilterByConfidence(detections, postprocess.EffectiveMinimumConfidence(args.MinimumConfidence))
	return postprocess.ApplyNMS(detections, postprocess.DefaultNMSConfig(args.Side())), nil
}

// transpose turns a (4+C, N) output into (N, 4+C).
func transpose(out inference.RawOutputTensor) (inference.RawOutputTensor, error) {
	if len(out.Shape()) != 2 {
		return out, errors.Wrapf(inference.ErrShapeMismatch, "yolov11: expected a 2D output, got %v", out.Shape())
	}
	t := out.Tensor.Clone().(*tensor.Dense)
	if err := t.T(); err != nil {
		return out, errors.Wrap(err, "yolov11: transpose")
	}
	if err := t.Transpose(); err != nil {
		return out, errors.Wrap(err, "yolov11: transpose")
	}
	return inference.RawOutputTensor{Details: out.Details, Tensor: t}, nil
}
