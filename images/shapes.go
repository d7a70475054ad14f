// Package images - Box geometry shared by the decoders and evaluators.
package images

import (
	"github.com/chewxy/math32"
)

// BoxFormat identifies how the four coordinates of a raw box are laid out.
type BoxFormat int

const (
	// FormatCenterXYWH is (center x, center y, width, height).
	FormatCenterXYWH BoxFormat = iota
	// FormatCornerXYXY is (xmin, ymin, xmax, ymax).
	FormatCornerXYXY
	// FormatCornerYXYX is (ymin, xmin, ymax, xmax), the canonical layout.
	FormatCornerYXYX
)

// String returns the name of the box format.
func (f BoxFormat) String() string {
	switch f {
	case FormatCenterXYWH:
		return "cxcywh"
	case FormatCornerXYXY:
		return "xyxy"
	case FormatCornerYXYX:
		return "yxyx"
	default:
		return "unknown"
	}
}

// Rect is a lightweight pixel-space bounding box.
type Rect struct {
	X1, Y1, X2, Y2 int
}

// BoundingBox is a corner-form box in normalized coordinates, where 0..1 spans the
// model's square input side.
type BoundingBox struct {
	YMin float32 `json:"ymin"`
	XMin float32 `json:"xmin"`
	YMax float32 `json:"ymax"`
	XMax float32 `json:"xmax"`
}

// ToCornerForm converts four raw coordinates into a corner-form box.
//
// Arguments:
//   - v: The raw coordinates, laid out according to format.
//   - format: The layout of v.
//
// Returns:
//   - BoundingBox: The box in (ymin, xmin, ymax, xmax) form. The result is not normalized; call
//     Normalize when the source may produce inverted corners.
func ToCornerForm(v [4]float32, format BoxFormat) BoundingBox {
	switch format {
	case FormatCenterXYWH:
		return BoundingBox{
			YMin: v[1] - v[3]/2,
			XMin: v[0] - v[2]/2,
			YMax: v[1] + v[3]/2,
			XMax: v[0] + v[2]/2,
		}
	case FormatCornerXYXY:
		return BoundingBox{YMin: v[1], XMin: v[0], YMax: v[3], XMax: v[2]}
	default:
		return BoundingBox{YMin: v[0], XMin: v[1], YMax: v[2], XMax: v[3]}
	}
}

// Normalize returns the box with its corners ordered so that ymin<=ymax and xmin<=xmax.
func (b BoundingBox) Normalize() BoundingBox {
	if b.YMin > b.YMax {
		b.YMin, b.YMax = b.YMax, b.YMin
	}
	if b.XMin > b.XMax {
		b.XMin, b.XMax = b.XMax, b.XMin
	}
	return b
}

// Scale multiplies every coordinate by sx (x axis) and sy (y axis).
func (b BoundingBox) Scale(sx, sy float32) BoundingBox {
	return BoundingBox{
		YMin: b.YMin * sy,
		XMin: b.XMin * sx,
		YMax: b.YMax * sy,
		XMax: b.XMax * sx,
	}
}

// Area returns the area of the normalized box.
func (b BoundingBox) Area() float32 {
	n := b.Normalize()
	return (n.YMax - n.YMin) * (n.XMax - n.XMin)
}

// Centroid returns the (x, y) center of the box.
func (b BoundingBox) Centroid() (float32, float32) {
	return (b.XMin + b.XMax) / 2, (b.YMin + b.YMax) / 2
}

// Array returns the box as [ymin, xmin, ymax, xmax].
func (b BoundingBox) Array() [4]float32 {
	return [4]float32{b.YMin, b.XMin, b.YMax, b.XMax}
}

// PixelRect returns the smallest integer rectangle that covers the box after scaling it by
// side. Used to build integer spatial indexes.
func (b BoundingBox) PixelRect(side float32) Rect {
	n := b.Normalize().Scale(side, side)
	return Rect{
		X1: int(math32.Floor(n.XMin)),
		Y1: int(math32.Floor(n.YMin)),
		X2: int(math32.Ceil(n.XMax)),
		Y2: int(math32.Ceil(n.YMax)),
	}
}

// IoU computes the intersection-over-union of two corner-form boxes.
//
// Both boxes are normalized first, so inverted corners do not produce negative areas. The
// intersection is the overlap of the two boxes: its top-left corner is the maximum of the two
// top-left corners and its bottom-right corner is the minimum of the two bottom-right corners.
// When the overlap has zero or negative width or height the boxes do not intersect and the
// result is 0. The union follows inclusion-exclusion: area(a) + area(b) - intersection.
//
// Arguments:
//   - o: The other box.
//
// Returns:
//   - float32: A value in [0, 1]. Two zero-area boxes yield 0.
func (b BoundingBox) IoU(o BoundingBox) float32 {
	a := b.Normalize()
	c := o.Normalize()

	iy1 := math32.Max(a.YMin, c.YMin)
	ix1 := math32.Max(a.XMin, c.XMin)
	iy2 := math32.Min(a.YMax, c.YMax)
	ix2 := math32.Min(a.XMax, c.XMax)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH

	union := a.Area() + c.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
