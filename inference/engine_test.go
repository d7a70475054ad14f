package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// mockEngine echoes its quantized input into a single output tensor.
type mockEngine struct {
	input     TensorDetails
	output    TensorDetails
	stored    *tensor.Dense
	invokes   int
	invokeErr error
}

func (m *mockEngine) InputDetails() []TensorDetails  { return []TensorDetails{m.input} }
func (m *mockEngine) OutputDetails() []TensorDetails { return []TensorDetails{m.output} }

func (m *mockEngine) SetInput(index int, t *tensor.Dense) error {
	m.stored = t
	return nil
}

func (m *mockEngine) Invoke(ctx context.Context) error {
	m.invokes++
	return m.invokeErr
}

func (m *mockEngine) Output(index int) (*tensor.Dense, error) {
	if m.stored == nil {
		return nil, errors.New("no input")
	}
	t := m.stored.Clone().(*tensor.Dense)
	if err := t.Reshape(m.output.Shape...); err != nil {
		return nil, err
	}
	return t, nil
}

func (m *mockEngine) Close() error { return nil }

func newMockEngine(et ElementType) *mockEngine {
	q := QuantizationParams{Scale: 0.5, ZeroPoint: 0, ElementType: et}
	return &mockEngine{
		input:  TensorDetails{Name: "input", Index: 0, ElementType: et, Quantization: q, Shape: []int{1, 4}},
		output: TensorDetails{Name: "output", Index: 0, ElementType: et, Quantization: q, Shape: []int{1, 2, 2}},
	}
}

func TestInvoke_QuantizedRoundTrip(t *testing.T) {
	engine := newMockEngine(ElementTypeUint8)

	outputs, err := Invoke(context.Background(), engine, []float32{0, 0.5, 1, 1.5}, []int{2, 2})
	require.NoError(t, err)
	require.Len(t, outputs, 1)

	assert.Equal(t, tensor.Uint8, engine.stored.Dtype())
	assert.Equal(t, []uint8{0, 1, 2, 3}, engine.stored.Data())

	out := outputs[0]
	assert.Equal(t, []int{2, 2}, out.Shape(), "batch dimension is removed")
	assert.Equal(t, []int{1, 2, 2}, out.Details.Shape)
	assert.InDeltaSlice(t, []float32{0, 0.5, 1, 1.5}, out.Float32s(), 1e-6)
}

func TestInvoke_FeatureCountMismatch(t *testing.T) {
	engine := newMockEngine(ElementTypeFloat32)

	_, err := Invoke(context.Background(), engine, []float32{1, 2, 3}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Contains(t, err.Error(), "Invalid number of features, expected 4, but got 3")

	_, err = Invoke(context.Background(), engine, []float32{1, 2, 3, 4}, []int{3, 3})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Zero(t, engine.invokes)
}

func TestInvoke_EngineError(t *testing.T) {
	engine := newMockEngine(ElementTypeFloat32)
	engine.invokeErr = errors.New("boom")

	_, err := Invoke(context.Background(), engine, []float32{1, 2, 3, 4}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRawOutputTensor_Rows(t *testing.T) {
	out, err := NewRawOutputTensor(TensorDetails{Name: "o"}, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)

	rows, err := out.Rows(3)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, rows)
	assert.Equal(t, 3, out.LastDim())

	_, err = out.Rows(4)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = NewRawOutputTensor(TensorDetails{Name: "bad"}, []float32{1, 2, 3}, 2, 2)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestEngineBuilder_Errors(t *testing.T) {
	_, err := NewEngineBuilder().Build()
	assert.EqualError(t, err, "model not configured")

	b := NewEngineBuilder().WithModel("")
	assert.True(t, b.HasError())

	b = NewEngineBuilder().
		WithModel("model.onnx").
		WithQuantization("input", QuantizationParams{Scale: 0, ElementType: ElementTypeInt8})
	assert.True(t, b.HasError())
	_, err = b.Build()
	assert.Error(t, err)
}
