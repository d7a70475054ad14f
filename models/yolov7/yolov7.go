// Package yolov7 - decodes YOLOv7 exports with the suppression step built into the graph.
package yolov7

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/models/model"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

// columns is the row layout: batch id, xmin, ymin, xmax, ymax, class, score.
const columns = 7

// Decoder decodes absolute corner boxes that have already been suppressed.
type Decoder struct{}

// NewDecoder creates a new YOLOv7 decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// LastLayer implements model.Decoder.
func (d *Decoder) LastLayer() model.LastLayer {
	return model.LastLayerYOLOv7
}

// Decode implements model.Decoder. Boxes are divided by the input size; NMS is not re-applied.
func (d *Decoder) Decode(outputs []inference.RawOutputTensor, args model.DecodeArgs) ([]postprocess.Detection, error) {
	if err := args.CheckSquare(); err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, errors.Wrap(inference.ErrShapeMismatch, "yolov7: no outputs")
	}
	if len(outputs[0].Float32s()) == 0 {
		return nil, nil
	}
	rows, err := outputs[0].Rows(columns)
	if err != nil {
		return nil, errors.Wrap(err, "yolov7")
	}

	w, h := float32(args.Width), float32(args.Height)
	detections := make([]postprocess.Detection, 0, len(rows))
	for _, r := range rows {
		box := images.ToCornerForm([4]float32{r[1] / w, r[2] / h, r[3] / w, r[4] / h}, images.FormatCornerXYXY)
		detections = append(detections, postprocess.Detection{
			Box:   box.Normalize(),
			Label: int(r[5]),
			Score: r[6],
		})
	}
	return postprocess.FilterByConfidence(detections, postprocess.EffectiveMinimumConfidence(args.MinimumConfidence)), nil
}
