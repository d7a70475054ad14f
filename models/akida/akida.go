// Package akida - decodes BrainChip Akida YOLOv2 heads against an anchor table.
package akida

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/models/model"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

// Decoder decodes a (grid h, grid w, anchors * (4 + 1 + classes)) YOLOv2 output.
type Decoder struct {
	anchors model.AnchorProvider
}

// NewDecoder creates a new Akida YOLOv2 decoder.
//
// Arguments:
//   - anchors: Supplies the anchor table, in grid cells.
//
// Returns:
//   - *Decoder: The decoder.
//   - error: When no anchor provider is given.
func NewDecoder(anchors model.AnchorProvider) (*Decoder, error) {
	if anchors == nil {
		return nil, errors.Wrap(model.ErrMissingCollaborator, "yolov2-akida: anchor table")
	}
	return &Decoder{anchors: anchors}, nil
}

// LastLayer implements model.Decoder.
func (d *Decoder) LastLayer() model.LastLayer {
	return model.LastLayerYOLOv2Akida
}

// Decode implements model.Decoder.
//
// For cell (row, col) and anchor a the box center is ((col + sigmoid(tx)) / w, (row +
// sigmoid(ty)) / h) and its size is (anchor.w * exp(tw) / w, anchor.h * exp(th) / h). The score
// is sigmoid(objectness) times the best softmax class probability.
//
// Arguments:
//   - outputs: The dequantized outputs; only the first is read.
//   - args: The decode arguments. NumClasses sizes the per-anchor vector.
//
// Returns:
//   - []postprocess.Detection: The suppressed detections.
//   - error: When the anchors cannot be loaded or the output does not match them.
func (d *Decoder) Decode(outputs []inference.RawOutputTensor, args model.DecodeArgs) ([]postprocess.Detection, error) {
	anchors, err := d.anchors.Anchors()
	if err != nil {
		return nil, errors.Wrap(err, "yolov2-akida")
	}
	if len(outputs) == 0 {
		return nil, errors.Wrap(inference.ErrShapeMismatch, "yolov2-akida: no outputs")
	}
	if args.NumClasses <= 0 {
		return nil, errors.Wrap(model.ErrMissingNumClasses, "yolov2-akida")
	}

	out := outputs[0]
	shape := out.Shape()
	per := 4 + 1 + args.NumClasses
	if len(shape) != 3 || shape[2] != len(anchors)*per {
		return nil, errors.Wrapf(inference.ErrShapeMismatch,
			"yolov2-akida: output %v does not hold %d anchors of %d values", shape, len(anchors), per)
	}
	gh, gw := shape[0], shape[1]
	data := out.Float32s()

	minimum := postprocess.EffectiveMinimumConfidence(args.MinimumConfidence)
	probs := make([]float32, args.NumClasses)
	var detections []postprocess.Detection
	for row := 0; row < gh; row++ {
		for col := 0; col < gw; col++ {
			for a, anchor := range anchors {
				v := data[((row*gw+col)*len(anchors)+a)*per:][:per]

				obj := sigmoid(v[4])
				softmax(v[5:], probs)
				label := 0
				for k := 1; k < len(probs); k++ {
					if probs[k] > probs[label] {
						label = k
					}
				}
				score := obj * probs[label]
				if score < minimum || score > 1 {
					continue
				}

				cx := (float32(col) + sigmoid(v[0])) / float32(gw)
				cy := (float32(row) + sigmoid(v[1])) / float32(gh)
				w := anchor.Width * math32.Exp(v[2]) / float32(gw)
				h := anchor.Height * math32.Exp(v[3]) / float32(gh)

				detections = append(detections, postprocess.Detection{
					Box:   images.ToCornerForm([4]float32{cx, cy, w, h}, images.FormatCenterXYWH).Normalize(),
					Label: label,
					Score: score,
				})
			}
		}
	}

	return postprocess.ApplyNMS(detections, postprocess.DefaultNMSConfig(args.Side())), nil
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// softmax writes the softmax of logits into dst.
func softmax(logits, dst []float32) {
	m := logits[0]
	for _, l := range logits[1:] {
		m = math32.Max(m, l)
	}
	var sum float32
	for i, l := range logits {
		dst[i] = math32.Exp(l - m)
		sum += dst[i]
	}
	for i := range dst {
		dst[i] /= sum
	}
}
