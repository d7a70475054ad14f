// Package yolov5 - decodes YOLOv5 grid regression outputs.
package yolov5

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/models/model"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

// Version selects the coordinate convention of the export.
type Version int

const (
	// Version5 exports absolute pixel coordinates.
	Version5 Version = 5
	// Version6 exports coordinates already normalized to 0..1.
	Version6 Version = 6
)

// ErrUnsupportedVersion is returned for versions other than 5 and 6.
var ErrUnsupportedVersion = errors.New("yolov5: version must be 5 or 6")

// Decoder decodes rows of [cx, cy, w, h, confidence, class scores...].
type Decoder struct {
	Version Version
}

// NewDecoder creates a new YOLOv5 decoder.
//
// Arguments:
//   - version: The coordinate convention of the export.
//
// Returns:
//   - *Decoder: The decoder.
//   - error: When the version is neither 5 nor 6.
func NewDecoder(version Version) (*Decoder, error) {
	if version != Version5 && version != Version6 {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "got %d", version)
	}
	return &Decoder{Version: version}, nil
}

// LastLayer implements model.Decoder.
func (d *Decoder) LastLayer() model.LastLayer {
	if d.Version == Version5 {
		return model.LastLayerYOLOv5v5DRPAI
	}
	return model.LastLayerYOLOv5
}

// Decode implements model.Decoder.
//
// The row confidence column is the detection score and the class is the argmax over the class
// columns. Detections scoring outside [minimum, 1] are dropped before NMS.
//
// Arguments:
//   - outputs: The dequantized outputs; only the first is read.
//   - args: The decode arguments.
//
// Returns:
//   - []postprocess.Detection: The suppressed detections.
//   - error: When the output is missing or has fewer than six columns.
func (d *Decoder) Decode(outputs []inference.RawOutputTensor, args model.DecodeArgs) ([]postprocess.Detection, error) {
	if len(outputs) == 0 {
		return nil, errors.Wrap(inference.ErrShapeMismatch, "yolov5: no outputs")
	}
	out := outputs[0]
	cols := out.LastDim()
	if cols < 6 {
		return nil, errors.Wrapf(inference.ErrShapeMismatch, "yolov5: output %v has no class columns", out.Shape())
	}
	rows, err := out.Rows(cols)
	if err != nil {
		return nil, errors.Wrap(err, "yolov5")
	}

	minimum := postprocess.EffectiveMinimumConfidence(args.MinimumConfidence)
	w, h := float32(args.Width), float32(args.Height)

	detections := make([]postprocess.Detection, 0)
	for _, r := range rows {
		score := r[4]
		if score < minimum || score > 1 {
			continue
		}
		box := images.ToCornerForm([4]float32{r[0], r[1], r[2], r[3]}, images.FormatCenterXYWH)
		if d.Version == Version5 {
			box = images.BoundingBox{YMin: box.YMin / h, XMin: box.XMin / w, YMax: box.YMax / h, XMax: box.XMax / w}
		}
		detections = append(detections, postprocess.Detection{
			Box:   box.Normalize(),
			Label: argmax(r[5:]),
			Score: score,
		})
	}

	return postprocess.ApplyNMS(detections, postprocess.DefaultNMSConfig(args.Width)), nil
}

// argmax returns the index of the first maximum.
func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
