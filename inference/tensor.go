// Package inference - Tensor descriptors and decoded output tensors.
package inference

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrShapeMismatch is returned when a tensor does not have the shape a caller requires.
var ErrShapeMismatch = errors.New("tensor shape mismatch")

// TensorDetails describes one input or output tensor as declared by the engine.
type TensorDetails struct {
	Name         string             `json:"name"`
	Index        int                `json:"index"`
	ElementType  ElementType        `json:"dtype"`
	Quantization QuantizationParams `json:"quantization"`
	Shape        []int              `json:"shape"`
}

// Size returns the number of elements described by the shape.
func (d TensorDetails) Size() int {
	n := 1
	for _, s := range d.Shape {
		n *= s
	}
	return n
}

// Params returns the quantization parameters with the element type filled in.
func (d TensorDetails) Params() QuantizationParams {
	p := d.Quantization
	if p.ElementType == "" {
		p.ElementType = d.ElementType
	}
	return p
}

// RawOutputTensor is a dequantized output tensor of one invocation.
type RawOutputTensor struct {
	Details TensorDetails
	Tensor  *tensor.Dense
}

// NewRawOutputTensor wraps float32 data with the given shape.
func NewRawOutputTensor(details TensorDetails, data []float32, shape ...int) (RawOutputTensor, error) {
	if len(shape) == 0 {
		shape = details.Shape
	}
	total := 1
	for _, s := range shape {
		total *= s
	}
	if total != len(data) {
		return RawOutputTensor{}, errors.Wrapf(ErrShapeMismatch,
			"output %q: %d values cannot fill shape %v", details.Name, len(data), shape)
	}
	return RawOutputTensor{
		Details: details,
		Tensor:  tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)),
	}, nil
}

// Shape returns the dimensions of the tensor.
func (r RawOutputTensor) Shape() []int {
	return []int(r.Tensor.Shape())
}

// Float32s returns the backing values in row-major order.
func (r RawOutputTensor) Float32s() []float32 {
	if r.Tensor == nil {
		return nil
	}
	switch data := r.Tensor.Data().(type) {
	case []float32:
		return data
	case float32:
		return []float32{data}
	default:
		return nil
	}
}

// WithoutBatch drops a leading batch dimension of size one.
func (r RawOutputTensor) WithoutBatch() RawOutputTensor {
	shape := r.Shape()
	if len(shape) < 2 || shape[0] != 1 {
		return r
	}
	t := r.Tensor.Clone().(*tensor.Dense)
	if err := t.Reshape(shape[1:]...); err != nil {
		return r
	}
	return RawOutputTensor{Details: r.Details, Tensor: t}
}

// Rows views the tensor as a matrix with the given number of columns. Any leading
// dimensions are flattened into rows.
//
// Arguments:
//   - cols: The number of values per row.
//
// Returns:
//   - [][]float32: Row slices that share the tensor's storage.
//   - error: When the element count is not a multiple of cols.
func (r RawOutputTensor) Rows(cols int) ([][]float32, error) {
	data := r.Float32s()
	if cols <= 0 || len(data)%cols != 0 {
		return nil, errors.Wrapf(ErrShapeMismatch,
			"output %q with shape %v cannot be split into rows of %d", r.Details.Name, r.Shape(), cols)
	}
	rows := make([][]float32, len(data)/cols)
	for i := range rows {
		rows[i] = data[i*cols : (i+1)*cols]
	}
	return rows, nil
}

// LastDim returns the size of the innermost dimension.
func (r RawOutputTensor) LastDim() int {
	shape := r.Shape()
	if len(shape) == 0 {
		return 0
	}
	return shape[len(shape)-1]
}

// String implements fmt.Stringer.
func (r RawOutputTensor) String() string {
	return fmt.Sprintf("%s%v", r.Details.Name, r.Shape())
}

// FindOutput returns the output with the given name.
func FindOutput(outputs []RawOutputTensor, name string) (RawOutputTensor, bool) {
	for _, o := range outputs {
		if o.Details.Name == name {
			return o, true
		}
	}
	return RawOutputTensor{}, false
}
