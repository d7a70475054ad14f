// Package inference - Engine contract and the quantize/invoke/dequantize pipeline.
package inference

import (
	"context"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ml-eval/inference/providers"
)

// Engine is the neural-network execution engine. Implementations are stateful and are not
// required to be safe for concurrent use.
type Engine interface {
	// InputDetails describes the model inputs.
	InputDetails() []TensorDetails
	// OutputDetails describes the model outputs.
	OutputDetails() []TensorDetails
	// SetInput stores the tensor for the input at index. The tensor is already quantized.
	SetInput(index int, t *tensor.Dense) error
	// Invoke runs the model on the current inputs.
	Invoke(ctx context.Context) error
	// Output returns the stored (still quantized) output at index.
	Output(index int) (*tensor.Dense, error)
	// Close releases native resources.
	Close() error
}

// Invoke quantizes one sample's features, runs the engine and dequantizes every output.
//
// Arguments:
//   - ctx: The context for the invocation.
//   - e: The engine.
//   - features: The flat input features of the sample.
//   - specificShape: Optional shape the features are validated against before being reshaped
//     to the model's declared input shape.
//
// Returns:
//   - []RawOutputTensor: Dequantized outputs in declaration order, leading batch dimension removed.
//   - error: When the feature count does not match or the engine fails.
func Invoke(ctx context.Context, e Engine, features []float32, specificShape []int) ([]RawOutputTensor, error) {
	inputs := e.InputDetails()
	if len(inputs) == 0 {
		return nil, errors.New("engine declares no inputs")
	}
	input := inputs[0]

	if len(specificShape) > 0 {
		if want := product(specificShape); want != len(features) {
			return nil, errors.Wrapf(ErrShapeMismatch,
				"Invalid number of features, expected %d, but got %d (trying to reshape into %v). "+
					"Try re-generating features and re-training your model.",
				want, len(features), specificShape)
		}
	}
	if want := input.Size(); want != len(features) {
		return nil, errors.Wrapf(ErrShapeMismatch,
			"Invalid number of features, expected %d, but got %d (trying to reshape into %v). "+
				"Try re-generating features and re-training your model.",
			want, len(features), input.Shape)
	}

	data := make([]float32, len(features))
	copy(data, features)
	raw := tensor.New(tensor.WithShape(input.Shape...), tensor.WithBacking(data))

	quantized, err := QuantizeTensor(raw, input.Params())
	if err != nil {
		return nil, errors.Wrapf(err, "quantizing input %q", input.Name)
	}
	if err := e.SetInput(input.Index, quantized); err != nil {
		return nil, errors.Wrapf(err, "setting input %q", input.Name)
	}
	if err := e.Invoke(ctx); err != nil {
		return nil, errors.Wrap(err, "invoking engine")
	}

	details := e.OutputDetails()
	outputs := make([]RawOutputTensor, 0, len(details))
	for _, d := range details {
		stored, err := e.Output(d.Index)
		if err != nil {
			return nil, errors.Wrapf(err, "reading output %q", d.Name)
		}
		deq, err := DequantizeTensor(stored, d.Params())
		if err != nil {
			return nil, errors.Wrapf(err, "dequantizing output %q", d.Name)
		}
		d.Shape = []int(deq.Shape().Clone())
		outputs = append(outputs, RawOutputTensor{Details: d, Tensor: deq}.WithoutBatch())
	}
	return outputs, nil
}

func product(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

// EngineBuilder builds an ONNX Runtime backed Engine with a fluent API.
type EngineBuilder struct {
	provider     providers.Config
	modelPath    string
	quantization map[string]QuantizationParams
	err          error
}

// NewEngineBuilder creates a new engine builder.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{
		provider:     providers.DefaultConfig(),
		quantization: make(map[string]QuantizationParams),
	}
}

// WithProvider sets the execution provider for the engine.
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithProvider(cfg providers.Config) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.provider = cfg
	return b
}

// WithModel sets the path of the model file.
//
// Arguments:
//   - path: The model path.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithModel(path string) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if path == "" {
		b.err = errors.New("model path is required")
		return b
	}
	b.modelPath = path
	return b
}

// WithQuantization declares quantization parameters for the named tensor. ONNX models do not
// carry per-tensor scale and zero point on their inputs and outputs, so they are supplied here.
//
// Arguments:
//   - name: The tensor name.
//   - params: The quantization parameters.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithQuantization(name string, params QuantizationParams) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if err := params.Validate(); err != nil {
		b.err = errors.Wrapf(err, "tensor %q", name)
		return b
	}
	b.quantization[name] = params
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// Build builds the engine.
//
// Returns:
//   - Engine: The engine.
//   - error: The error if any.
func (b *EngineBuilder) Build() (Engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.modelPath == "" {
		return nil, errors.New("model not configured")
	}
	return NewONNXEngine(b.modelPath, b.provider, b.quantization)
}
