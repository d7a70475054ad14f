// Package inference - ONNX Runtime backed engine.
package inference

import (
	"context"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ml-eval/inference/providers"
)

// ONNXEngine runs a model through ONNX Runtime. Outputs are allocated by the runtime on each
// invocation and released on the next one or on Close.
type ONNXEngine struct {
	session *ort.DynamicAdvancedSession
	inputs  []TensorDetails
	outputs []TensorDetails
	values  []ort.Value
	results []ort.Value
}

// NewONNXEngine loads a model and creates a session for it.
//
// Order of operations:
//  1. Environment setup: loads the native runtime once per process.
//  2. Model inspection: reads input and output names, shapes and element types.
//  3. Session options: threading, graph optimization and the execution provider.
//  4. Session creation: binds the model to the options.
//
// Arguments:
//   - modelPath: The path to the ONNX model file.
//   - cfg: The execution provider configuration.
//   - quantization: Per-tensor quantization parameters keyed by tensor name.
//
// Returns:
//   - *ONNXEngine: The engine.
//   - error: An error if the session creation fails.
func NewONNXEngine(
	modelPath string,
	cfg providers.Config,
	quantization map[string]QuantizationParams,
) (*ONNXEngine, error) {
	if err := providers.InitializeEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}

	inInfo, outInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading model info from %s", modelPath)
	}

	inputs, err := describe(inInfo, quantization)
	if err != nil {
		return nil, err
	}
	outputs, err := describe(outInfo, quantization)
	if err != nil {
		return nil, err
	}

	options, err := providers.NewSessionOptions(cfg)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelPath, names(inputs), names(outputs), options)
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	return &ONNXEngine{
		session: session,
		inputs:  inputs,
		outputs: outputs,
		values:  make([]ort.Value, len(inputs)),
	}, nil
}

func describe(info []ort.InputOutputInfo, quantization map[string]QuantizationParams) ([]TensorDetails, error) {
	details := make([]TensorDetails, 0, len(info))
	for i, in := range info {
		var et ElementType
		switch in.DataType {
		case ort.TensorElementDataTypeFloat:
			et = ElementTypeFloat32
		case ort.TensorElementDataTypeInt8:
			et = ElementTypeInt8
		case ort.TensorElementDataTypeUint8:
			et = ElementTypeUint8
		default:
			return nil, errors.Errorf("tensor %q has unsupported element type %v", in.Name, in.DataType)
		}

		shape := make([]int, len(in.Dimensions))
		for j, d := range in.Dimensions {
			// Dynamic dimensions are bound to one sample.
			if d < 1 {
				d = 1
			}
			shape[j] = int(d)
		}

		q := quantization[in.Name]
		q.ElementType = et
		details = append(details, TensorDetails{
			Name:         in.Name,
			Index:        i,
			ElementType:  et,
			Quantization: q,
			Shape:        shape,
		})
	}
	return details, nil
}

func names(details []TensorDetails) []string {
	out := make([]string, len(details))
	for i, d := range details {
		out[i] = d.Name
	}
	return out
}

// InputDetails implements Engine.
func (e *ONNXEngine) InputDetails() []TensorDetails { return e.inputs }

// OutputDetails implements Engine.
func (e *ONNXEngine) OutputDetails() []TensorDetails { return e.outputs }

// SetInput implements Engine.
func (e *ONNXEngine) SetInput(index int, t *tensor.Dense) error {
	if index < 0 || index >= len(e.values) {
		return errors.Errorf("input index %d out of range", index)
	}
	shape := make(ort.Shape, len(t.Shape()))
	for i, d := range t.Shape() {
		shape[i] = int64(d)
	}

	var (
		v   ort.Value
		err error
	)
	switch data := t.Data().(type) {
	case []float32:
		v, err = ort.NewTensor(shape, data)
	case []int8:
		v, err = ort.NewTensor(shape, data)
	case []uint8:
		v, err = ort.NewTensor(shape, data)
	default:
		return errors.Errorf("unsupported input dtype %v", t.Dtype())
	}
	if err != nil {
		return errors.Wrap(err, "error creating input tensor")
	}

	if old := e.values[index]; old != nil {
		old.Destroy()
	}
	e.values[index] = v
	return nil
}

// Invoke implements Engine.
func (e *ONNXEngine) Invoke(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.releaseResults()
	e.results = make([]ort.Value, len(e.outputs))
	if err := e.session.Run(e.values, e.results); err != nil {
		return errors.Wrap(err, "error running ORT session")
	}
	return nil
}

// Output implements Engine.
func (e *ONNXEngine) Output(index int) (*tensor.Dense, error) {
	if index < 0 || index >= len(e.results) || e.results[index] == nil {
		return nil, errors.Errorf("output %d is not available", index)
	}
	v := e.results[index]
	shape := make([]int, 0, len(v.GetShape()))
	for _, d := range v.GetShape() {
		shape = append(shape, int(d))
	}

	switch t := v.(type) {
	case *ort.Tensor[float32]:
		return denseCopy(t.GetData(), shape), nil
	case *ort.Tensor[int8]:
		return denseCopy(t.GetData(), shape), nil
	case *ort.Tensor[uint8]:
		return denseCopy(t.GetData(), shape), nil
	default:
		return nil, errors.Errorf("output %d has unsupported type %T", index, v)
	}
}

func denseCopy[T float32 | int8 | uint8](data []T, shape []int) *tensor.Dense {
	out := make([]T, len(data))
	copy(out, data)
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out))
}

func (e *ONNXEngine) releaseResults() {
	for _, r := range e.results {
		if r != nil {
			r.Destroy()
		}
	}
	e.results = nil
}

// Close releases the resources associated with the engine.
//
// Returns:
//   - error: An error if the session cannot be destroyed.
func (e *ONNXEngine) Close() error {
	e.releaseResults()
	for i, v := range e.values {
		if v != nil {
			v.Destroy()
			e.values[i] = nil
		}
	}
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			return errors.Wrap(err, "error destroying ORT session")
		}
		e.session = nil
	}
	return nil
}
