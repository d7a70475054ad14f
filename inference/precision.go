// Package inference - Quantization between real values and fixed-point tensor storage.
package inference

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ElementType is the storage type of a tensor as declared by the engine.
type ElementType string

// ElementType constants are the storage types a model may declare for its inputs and outputs.
const (
	ElementTypeFloat32 ElementType = "float32"
	ElementTypeInt8    ElementType = "int8"
	ElementTypeUint8   ElementType = "uint8"
)

// Dtype returns the gorgonia dtype used to hold values of this element type.
func (e ElementType) Dtype() tensor.Dtype {
	switch e {
	case ElementTypeInt8:
		return tensor.Int8
	case ElementTypeUint8:
		return tensor.Uint8
	default:
		return tensor.Float32
	}
}

// Quantized reports whether values of this type are stored in fixed point.
func (e ElementType) Quantized() bool {
	return e == ElementTypeInt8 || e == ElementTypeUint8
}

// bounds returns the representable range of a quantized element type.
func (e ElementType) bounds() (float32, float32) {
	if e == ElementTypeInt8 {
		return -128, 127
	}
	return 0, 255
}

// QuantizationParams is the affine mapping between real values and the fixed-point
// representation of a tensor.
type QuantizationParams struct {
	Scale       float32     `json:"scale"`
	ZeroPoint   int         `json:"zero_point"`
	ElementType ElementType `json:"element_type"`
}

// Validate checks that integer element types carry a usable scale.
func (p QuantizationParams) Validate() error {
	switch p.ElementType {
	case ElementTypeFloat32, "":
		return nil
	case ElementTypeInt8, ElementTypeUint8:
		if p.Scale <= 0 || math32.IsNaN(p.Scale) {
			return errors.Errorf("quantization scale must be positive for %s, got %v", p.ElementType, p.Scale)
		}
		return nil
	default:
		return errors.Errorf("unsupported element type %q", p.ElementType)
	}
}

// Quantize maps a real value into the fixed-point domain described by p.
//
// Arguments:
//   - value: The real value.
//   - p: The quantization parameters of the destination tensor.
//
// Returns:
//   - float32: round(value/scale + zero_point), half to even, clamped to the element type's range, or value
//     unchanged for float32 tensors.
func Quantize(value float32, p QuantizationParams) float32 {
	if !p.ElementType.Quantized() {
		return value
	}
	lo, hi := p.ElementType.bounds()
	q := float32(math.RoundToEven(float64(value/p.Scale + float32(p.ZeroPoint))))
	return math32.Max(lo, math32.Min(hi, q))
}

// Dequantize maps a fixed-point value back to a real value.
//
// Arguments:
//   - value: The stored value.
//   - p: The quantization parameters of the source tensor.
//
// Returns:
//   - float32: (value - zero_point) * scale, or value unchanged for float32 tensors.
func Dequantize(value float32, p QuantizationParams) float32 {
	if !p.ElementType.Quantized() {
		return value
	}
	return (value - float32(p.ZeroPoint)) * p.Scale
}

// QuantizeTensor converts a float32 tensor into the storage type declared by p.
//
// Arguments:
//   - t: A float32 tensor.
//   - p: The quantization parameters of the destination tensor.
//
// Returns:
//   - *tensor.Dense: A new tensor of the same shape holding int8, uint8 or float32 values.
//   - error: When t is not float32 or p is invalid.
func QuantizeTensor(t *tensor.Dense, p QuantizationParams) (*tensor.Dense, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("quantize expects a float32 tensor, got %v", t.Dtype())
	}
	shape := t.Shape().Clone()

	switch p.ElementType {
	case ElementTypeInt8:
		out := make([]int8, len(data))
		for i, v := range data {
			out[i] = int8(Quantize(v, p))
		}
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out)), nil
	case ElementTypeUint8:
		out := make([]uint8, len(data))
		for i, v := range data {
			out[i] = uint8(Quantize(v, p))
		}
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out)), nil
	default:
		out := make([]float32, len(data))
		copy(out, data)
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out)), nil
	}
}

// DequantizeTensor converts a tensor of any supported storage type into float32 values.
//
// Arguments:
//   - t: The stored tensor.
//   - p: The quantization parameters of t.
//
// Returns:
//   - *tensor.Dense: A new float32 tensor of the same shape.
//   - error: When the storage type is not supported.
func DequantizeTensor(t *tensor.Dense, p QuantizationParams) (*tensor.Dense, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	shape := t.Shape().Clone()

	var out []float32
	switch data := t.Data().(type) {
	case []int8:
		out = make([]float32, len(data))
		for i, v := range data {
			out[i] = Dequantize(float32(v), p)
		}
	case []uint8:
		out = make([]float32, len(data))
		for i, v := range data {
			out[i] = Dequantize(float32(v), p)
		}
	case []float32:
		out = make([]float32, len(data))
		for i, v := range data {
			out[i] = Dequantize(v, p)
		}
	default:
		return nil, errors.Errorf("dequantize does not support dtype %v", t.Dtype())
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out)), nil
}
