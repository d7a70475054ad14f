// Package yolox - decodes anchor-free YOLOX heads over their stride grids.
package yolox

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/models/model"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

// candidateThreshold is the class score a grid cell must exceed to become a candidate.
const candidateThreshold float32 = 0.01

var (
	strides   = []int{8, 16, 32}
	stridesP6 = []int{8, 16, 32, 64}
)

// Decoder decodes raw YOLOX predictions of [x, y, w, h, objectness, class scores...].
type Decoder struct {
	// P6 forces the additional stride 64 level. Without it the level is used when only the
	// six-stride grid matches the number of predictions.
	P6 bool
}

// NewDecoder creates a new YOLOX decoder.
//
// Arguments:
//   - p6: Whether the head always has the six-stride level.
//
// Returns:
//   - *Decoder: The decoder.
func NewDecoder(p6 bool) *Decoder {
	return &Decoder{P6: p6}
}

// LastLayer implements model.Decoder.
func (d *Decoder) LastLayer() model.LastLayer {
	return model.LastLayerYOLOX
}

// cell is one grid location together with the stride of its level.
type cell struct {
	x, y, stride float32
}

// gridSize returns the number of cells of the levels for a square input side.
func gridSize(levels []int, side int) int {
	n := 0
	for _, s := range levels {
		n += (side / s) * (side / s)
	}
	return n
}

// levels picks the stride levels of a head with n predictions.
func (d *Decoder) levels(side, n int) []int {
	if d.P6 || (gridSize(strides, side) != n && gridSize(stridesP6, side) == n) {
		return stridesP6
	}
	return strides
}

// grid returns the grid cells of every stride level in output order.
//
// Arguments:
//   - side: The square input side in pixels.
//   - n: The number of prediction rows.
//
// Returns:
//   - []cell: One entry per grid cell.
func (d *Decoder) grid(side, n int) []cell {
	var cells []cell
	for _, s := range d.levels(side, n) {
		size := side / s
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				cells = append(cells, cell{x: float32(x), y: float32(y), stride: float32(s)})
			}
		}
	}
	return cells
}

// Decode implements model.Decoder.
//
// Each row is decoded against its grid cell: the center is (offset + cell) * stride and the size
// is exp(offset) * stride. The score is objectness times the best class score. Pixel corners are
// truncated to integers before being divided by the input side.
//
// Arguments:
//   - outputs: The dequantized outputs; only the first is read.
//   - args: The decode arguments. Width is the square input side.
//
// Returns:
//   - []postprocess.Detection: The suppressed detections.
//   - error: When the row count does not match the stride grids.
func (d *Decoder) Decode(outputs []inference.RawOutputTensor, args model.DecodeArgs) ([]postprocess.Detection, error) {
	if len(outputs) == 0 {
		return nil, errors.Wrap(inference.ErrShapeMismatch, "yolox: no outputs")
	}
	out := outputs[0]
	cols := out.LastDim()
	if cols < 6 {
		return nil, errors.Wrapf(inference.ErrShapeMismatch, "yolox: output %v has no class columns", out.Shape())
	}
	rows, err := out.Rows(cols)
	if err != nil {
		return nil, errors.Wrap(err, "yolox")
	}

	side := args.Side()
	cells := d.grid(side, len(rows))
	if len(cells) != len(rows) {
		return nil, errors.Wrapf(inference.ErrShapeMismatch,
			"yolox: %d predictions but %d grid cells for side %d", len(rows), len(cells), side)
	}

	minimum := postprocess.EffectiveMinimumConfidence(args.MinimumConfidence)
	fside := float32(side)
	detections := make([]postprocess.Detection, 0)
	for i, r := range rows {
		c := cells[i]
		label, best := 0, r[5]*r[4]
		for k := 6; k < cols; k++ {
			if s := r[k] * r[4]; s > best {
				label, best = k-5, s
			}
		}
		if best <= candidateThreshold {
			continue
		}
		if best < minimum || best > 1 {
			continue
		}

		cx := (r[0] + c.x) * c.stride
		cy := (r[1] + c.y) * c.stride
		w := math32.Exp(r[2]) * c.stride
		h := math32.Exp(r[3]) * c.stride

		box := images.ToCornerForm([4]float32{
			math32.Trunc(cx-w/2) / fside,
			math32.Trunc(cy-h/2) / fside,
			math32.Trunc(cx+w/2) / fside,
			math32.Trunc(cy+h/2) / fside,
		}, images.FormatCornerXYXY)

		detections = append(detections, postprocess.Detection{
			Box:   box.Normalize(),
			Label: label,
			Score: best,
		})
	}

	return postprocess.ApplyNMS(detections, postprocess.DefaultNMSConfig(side)), nil
}
