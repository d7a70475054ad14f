// Package fomo - converts FOMO per-cell class probability maps into detections.
package fomo

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/models/model"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

// ErrNonSquareOutput is returned when the probability map is not square.
var ErrNonSquareOutput = errors.New("only square output is supported")

// Decoder decodes a (side, side, classes including background) probability map. Detections it
// returns carry 0-indexed labels like every other decoder, so background boxes have label -1;
// the centroid evaluator shifts them back into the background-inclusive label space.
type Decoder struct{}

// NewDecoder creates a new FOMO decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// LastLayer implements model.Decoder.
func (d *Decoder) LastLayer() model.LastLayer {
	return model.LastLayerFOMO
}

// Decode implements model.Decoder.
func (d *Decoder) Decode(outputs []inference.RawOutputTensor, args model.DecodeArgs) ([]postprocess.Detection, error) {
	if err := args.CheckSquare(); err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, errors.Wrap(inference.ErrShapeMismatch, "fomo: no outputs")
	}
	if _, err := OutputSide(outputs[0]); err != nil {
		return nil, err
	}

	dets, err := SegmentationToDetections(outputs[0].Tensor, postprocess.EffectiveMinimumConfidence(args.MinimumConfidence), true)
	if err != nil {
		return nil, err
	}
	for i := range dets {
		dets[i].Label--
	}
	return dets, nil
}

// OutputSide returns the side of a square (side, side, classes) map.
//
// Arguments:
//   - out: The FOMO output with the batch dimension removed.
//
// Returns:
//   - int: The side length in cells.
//   - error: When the map is not three dimensional or not square.
func OutputSide(out inference.RawOutputTensor) (int, error) {
	shape := out.Shape()
	if len(shape) != 3 {
		return 0, errors.Wrapf(inference.ErrShapeMismatch, "fomo: expected (side, side, classes), got %v", shape)
	}
	if shape[0] != shape[1] {
		return 0, errors.Wrapf(ErrNonSquareOutput, "not %v", shape)
	}
	return shape[0], nil
}

// NumClassesIncludingBackground returns the channel count of the map.
func NumClassesIncludingBackground(out inference.RawOutputTensor) int {
	return out.LastDim()
}

// SegmentationToDetections converts a probability map into boxes.
//
// For every class c, background included, cells whose probability for c is at least minimum
// are activated. With fuse, 4-connected activated cells of the same class merge into a single
// box spanning them, scored by the highest cell probability. Without fuse every activated cell
// is its own box. Boxes are normalized by the map size. Background boxes are kept so that the
// centroid evaluator can count them as explicit misses.
//
// Arguments:
//   - probs: The (height, width, classes) probability map; class 0 is background.
//   - minimum: The activation threshold.
//   - fuse: Whether to merge adjacent cells.
//
// Returns:
//   - []postprocess.Detection: Detections with labels in the background-inclusive space (0 is
//     background), ordered by class and then by the raster position of their first cell.
//   - error: When the map is not three dimensional.
func SegmentationToDetections(probs *tensor.Dense, minimum float32, fuse bool) ([]postprocess.Detection, error) {
	if probs == nil {
		return nil, errors.Wrap(inference.ErrShapeMismatch, "fomo: nil map")
	}
	shape := probs.Shape()
	if len(shape) != 3 {
		return nil, errors.Wrapf(inference.ErrShapeMismatch, "fomo: expected (height, width, classes), got %v", shape)
	}
	data, ok := probs.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("fomo: expected float32 map, got %v", probs.Dtype())
	}

	h, w, c := shape[0], shape[1], shape[2]
	at := func(y, x, k int) float32 { return data[(y*w+x)*c+k] }

	var dets []postprocess.Detection
	visited := make([]bool, h*w)
	for k := 0; k < c; k++ {
		for i := range visited {
			visited[i] = false
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if visited[y*w+x] || at(y, x, k) < minimum {
					continue
				}
				if !fuse {
					visited[y*w+x] = true
					dets = append(dets, cellDetection(y, x, y, x, h, w, k, at(y, x, k)))
					continue
				}

				minY, minX, maxY, maxX := y, x, y, x
				best := at(y, x, k)
				queue := [][2]int{{y, x}}
				visited[y*w+x] = true
				for len(queue) > 0 {
					cy, cx := queue[0][0], queue[0][1]
					queue = queue[1:]
					minY, minX = min(minY, cy), min(minX, cx)
					maxY, maxX = max(maxY, cy), max(maxX, cx)
					if p := at(cy, cx, k); p > best {
						best = p
					}
					for _, n := range [4][2]int{{cy - 1, cx}, {cy + 1, cx}, {cy, cx - 1}, {cy, cx + 1}} {
						ny, nx := n[0], n[1]
						if ny < 0 || nx < 0 || ny >= h || nx >= w || visited[ny*w+nx] {
							continue
						}
						if at(ny, nx, k) >= minimum {
							visited[ny*w+nx] = true
							queue = append(queue, n)
						}
					}
				}
				dets = append(dets, cellDetection(minY, minX, maxY, maxX, h, w, k, best))
			}
		}
	}
	return dets, nil
}

// cellDetection builds the box covering the inclusive cell range.
func cellDetection(minY, minX, maxY, maxX, h, w, label int, score float32) postprocess.Detection {
	return postprocess.Detection{
		Box: images.BoundingBox{
			YMin: float32(minY) / float32(h),
			XMin: float32(minX) / float32(w),
			YMax: float32(maxY+1) / float32(h),
			XMax: float32(maxX+1) / float32(w),
		},
		Label: label,
		Score: score,
	}
}
