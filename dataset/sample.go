// Package dataset - Samples, ground truth boxes and their on-disk JSON formats.
package dataset

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/images"
)

// ErrNotSquare is returned when a flat feature vector cannot be viewed as a square.
var ErrNotSquare = errors.New("can't derive unflattened square shape")

// GroundTruthBox is one labelled box in source image pixels.
type GroundTruthBox struct {
	// X is the left edge in pixels.
	X float32 `json:"x"`
	// Y is the top edge in pixels.
	Y float32 `json:"y"`
	// Width in pixels.
	Width float32 `json:"width"`
	// Height in pixels.
	Height float32 `json:"height"`
	// Label is 1-indexed; 0 is the implicit background class and -1 marks a label unknown to
	// the trained model.
	Label int `json:"label"`
	// Difficult and Crowd are carried for COCO compatibility and are always false here.
	Difficult bool `json:"difficult,omitempty"`
	Crowd     bool `json:"crowd,omitempty"`
}

// groundTruthBoxJSON accepts both the w/h and width/height spellings.
type groundTruthBoxJSON struct {
	X         float32  `json:"x"`
	Y         float32  `json:"y"`
	W         *float32 `json:"w"`
	H         *float32 `json:"h"`
	Width     *float32 `json:"width"`
	Height    *float32 `json:"height"`
	Label     int      `json:"label"`
	Difficult bool     `json:"difficult"`
	Crowd     bool     `json:"crowd"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *GroundTruthBox) UnmarshalJSON(data []byte) error {
	var raw groundTruthBoxJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = GroundTruthBox{X: raw.X, Y: raw.Y, Label: raw.Label, Difficult: raw.Difficult, Crowd: raw.Crowd}
	switch {
	case raw.Width != nil:
		b.Width = *raw.Width
	case raw.W != nil:
		b.Width = *raw.W
	}
	switch {
	case raw.Height != nil:
		b.Height = *raw.Height
	case raw.H != nil:
		b.Height = *raw.H
	}
	return nil
}

// Box returns the box normalized by the image size, in (ymin, xmin, ymax, xmax) form.
//
// Arguments:
//   - width: The image width in pixels.
//   - height: The image height in pixels.
//
// Returns:
//   - images.BoundingBox: The normalized box.
func (b GroundTruthBox) Box(width, height int) images.BoundingBox {
	w, h := float32(width), float32(height)
	return images.BoundingBox{
		YMin: b.Y / h,
		XMin: b.X / w,
		YMax: (b.Y + b.Height) / h,
		XMax: (b.X + b.Width) / w,
	}
}

// GroundTruth is the structured label record of one sample.
type GroundTruth struct {
	SampleID      string           `json:"sampleId"`
	BoundingBoxes []GroundTruthBox `json:"boundingBoxes"`
	// Label is the 1-indexed class of a classification sample.
	Label int `json:"label,omitempty"`
	// Value is the target of a regression sample.
	Value float32 `json:"value,omitempty"`
}

// DistinctLabels returns the number of distinct labels among the boxes.
func DistinctLabels(boxes []GroundTruthBox) int {
	seen := make(map[int]struct{}, len(boxes))
	for _, b := range boxes {
		seen[b.Label] = struct{}{}
	}
	return len(seen)
}

// Sample is one evaluation input: its features and, for object detection, its ground truth.
//
// A nil GroundTruth means the sample carries no box labels at all, which object detection
// rejects; an empty one is an image without objects.
type Sample struct {
	SampleID    string           `json:"sampleId"`
	GroundTruth []GroundTruthBox `json:"boundingBoxes"`
	Features    []float32        `json:"features"`
	// Label is the 1-indexed class of a classification sample.
	Label int `json:"label,omitempty"`
	// Value is the target of a regression sample.
	Value float32 `json:"value,omitempty"`
}

// InferSquareSide returns the side of the square a flat vector of n values reshapes into.
//
// Arguments:
//   - n: The number of values.
//
// Returns:
//   - int: The side length.
//   - error: ErrNotSquare when n is not a perfect square.
func InferSquareSide(n int) (int, error) {
	side := int(math32.Sqrt(float32(n)))
	for _, s := range []int{side - 1, side, side + 1} {
		if s >= 0 && s*s == n {
			return s, nil
		}
	}
	return 0, errors.Wrapf(ErrNotSquare, "from %d values", n)
}
