package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestQuantize(t *testing.T) {
	tests := []struct {
		name   string
		value  float32
		params QuantizationParams
		want   float32
	}{
		{"float32 is identity", 0.123, QuantizationParams{ElementType: ElementTypeFloat32}, 0.123},
		{"int8 rounds", 0.5, QuantizationParams{Scale: 0.1, ZeroPoint: 0, ElementType: ElementTypeInt8}, 5},
		{"int8 zero point", 0.0, QuantizationParams{Scale: 0.1, ZeroPoint: -128, ElementType: ElementTypeInt8}, -128},
		{"int8 clamps high", 100, QuantizationParams{Scale: 0.1, ZeroPoint: 0, ElementType: ElementTypeInt8}, 127},
		{"int8 clamps low", -100, QuantizationParams{Scale: 0.1, ZeroPoint: 0, ElementType: ElementTypeInt8}, -128},
		{"uint8 clamps low", -1, QuantizationParams{Scale: 0.01, ZeroPoint: 0, ElementType: ElementTypeUint8}, 0},
		{"uint8 clamps high", 10, QuantizationParams{Scale: 0.01, ZeroPoint: 0, ElementType: ElementTypeUint8}, 255},
		{"uint8 rounds half to even", 0.625, QuantizationParams{Scale: 0.25, ZeroPoint: 0, ElementType: ElementTypeUint8}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Quantize(tt.value, tt.params), 1e-6)
		})
	}
}

func TestDequantize(t *testing.T) {
	p := QuantizationParams{Scale: 0.5, ZeroPoint: 10, ElementType: ElementTypeUint8}
	assert.InDelta(t, 5.0, Dequantize(20, p), 1e-6)
	assert.InDelta(t, 0.25, Dequantize(0.25, QuantizationParams{ElementType: ElementTypeFloat32}), 1e-6)
}

// A value survives a quantize/dequantize round trip within half a quantization step.
func TestQuantizeRoundTrip(t *testing.T) {
	p := QuantizationParams{Scale: 0.0039, ZeroPoint: -128, ElementType: ElementTypeInt8}
	for v := float32(0); v <= 0.99; v += 0.01 {
		got := Dequantize(Quantize(v, p), p)
		assert.InDelta(t, v, got, float64(p.Scale)/2+1e-6)
	}
}

func TestQuantizeTensor(t *testing.T) {
	in := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{0, 0.5, 1, 2}))

	q, err := QuantizeTensor(in, QuantizationParams{Scale: 0.1, ZeroPoint: 0, ElementType: ElementTypeInt8})
	require.NoError(t, err)
	assert.Equal(t, tensor.Int8, q.Dtype())
	assert.Equal(t, []int8{0, 5, 10, 20}, q.Data())
	assert.Equal(t, tensor.Shape{2, 2}, q.Shape())

	// The argument is left untouched.
	assert.Equal(t, []float32{0, 0.5, 1, 2}, in.Data())

	d, err := DequantizeTensor(q, QuantizationParams{Scale: 0.1, ZeroPoint: 0, ElementType: ElementTypeInt8})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0, 0.5, 1, 2}, d.Data(), 1e-5)
}

func TestQuantizationParamsValidate(t *testing.T) {
	assert.NoError(t, QuantizationParams{ElementType: ElementTypeFloat32}.Validate())
	assert.NoError(t, QuantizationParams{Scale: 1, ElementType: ElementTypeUint8}.Validate())
	assert.Error(t, QuantizationParams{Scale: 0, ElementType: ElementTypeInt8}.Validate())
	assert.Error(t, QuantizationParams{Scale: 1, ElementType: "int16"}.Validate())
}
