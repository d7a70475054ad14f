// Package ssd - decodes TensorFlow MobileNet SSD heads.
package ssd

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/logger"
	"github.com/nvr-ai/go-ml-eval/models/model"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

// Output tensor names of a TensorFlow SavedModel SSD export.
const (
	ScoresTensor = "StatefulPartitionedCall:1"
	LabelsTensor = "StatefulPartitionedCall:2"
	BoxesTensor  = "StatefulPartitionedCall:3"
)

// Positional indices used when the export does not carry the expected names.
const (
	fallbackBoxes  = 0
	fallbackLabels = 1
	fallbackScores = 2
)

// Decoder decodes the scores, labels and boxes outputs of an SSD head. The head has already
// applied suppression, so no NMS runs here.
type Decoder struct {
	log *logrus.Entry
}

// NewDecoder creates a new SSD decoder.
//
// Returns:
//   - *Decoder: The decoder.
func NewDecoder() *Decoder {
	return &Decoder{log: logger.WithComponent("ssd")}
}

// LastLayer implements model.Decoder.
func (d *Decoder) LastLayer() model.LastLayer {
	return model.LastLayerMobileNetSSD
}

// Decode implements model.Decoder.
//
// Arguments:
//   - outputs: The dequantized outputs, batch dimension removed.
//   - args: The decode arguments. Scores outside [MinimumConfidence, 1] are dropped.
//
// Returns:
//   - []postprocess.Detection: Detections in output order.
//   - error: When the outputs are missing or do not line up.
func (d *Decoder) Decode(outputs []inference.RawOutputTensor, args model.DecodeArgs) ([]postprocess.Detection, error) {
	scores, labels, boxes, err := d.split(outputs)
	if err != nil {
		return nil, err
	}

	rows, err := boxes.Rows(4)
	if err != nil {
		return nil, errors.Wrap(err, "ssd boxes")
	}
	s := scores.Float32s()
	l := labels.Float32s()
	if len(s) < len(rows) || len(l) < len(rows) {
		return nil, errors.Wrapf(inference.ErrShapeMismatch,
			"ssd: %d boxes, %d scores, %d labels", len(rows), len(s), len(l))
	}

	detections := make([]postprocess.Detection, 0, len(rows))
	for i, r := range rows {
		detections = append(detections, postprocess.Detection{
			Box:   images.ToCornerForm([4]float32{r[0], r[1], r[2], r[3]}, images.FormatCornerYXYX).Normalize(),
			Label: int(l[i]),
			Score: s[i],
		})
	}
	return postprocess.FilterByConfidence(detections, postprocess.EffectiveMinimumConfidence(args.MinimumConfidence)), nil
}

// split resolves the three outputs by name, falling back to positional order.
func (d *Decoder) split(outputs []inference.RawOutputTensor) (scores, labels, boxes inference.RawOutputTensor, err error) {
	var okS, okL, okB bool
	scores, okS = inference.FindOutput(outputs, ScoresTensor)
	labels, okL = inference.FindOutput(outputs, LabelsTensor)
	boxes, okB = inference.FindOutput(outputs, BoxesTensor)
	if okS && okL && okB {
		return scores, labels, boxes, nil
	}

	if len(outputs) < 3 {
		return scores, labels, boxes, errors.Wrapf(inference.ErrShapeMismatch,
			"ssd: expected 3 outputs, got %d", len(outputs))
	}
	d.log.WithFields(logger.Fields{"outputs": outputs}).
		Warn("ssd output names not found, falling back to positional order")
	return outputs[fallbackScores], outputs[fallbackLabels], outputs[fallbackBoxes], nil
}
