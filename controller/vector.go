package controller

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-ml-eval/config"
	"github.com/nvr-ai/go-ml-eval/dataset"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/profiler"
)

// RunVectors runs classification or regression samples and returns the flattened first output
// of every one.
func (c *Controller) RunVectors(ctx context.Context, samples []dataset.Sample) ([][]float32, error) {
	samples, err := c.remap(samples)
	if err != nil {
		return nil, err
	}
	return c.runVectors(ctx, samples)
}

func (c *Controller) runVectors(ctx context.Context, samples []dataset.Sample) ([][]float32, error) {
	if c.mode == config.ModeObjectDetection {
		return nil, errors.Wrap(ErrWrongMode, "vector run in object-detection mode")
	}
	if c.engine == nil {
		return nil, ErrMissingEngine
	}

	p := newProgress(len(samples), c.interval, c.now, c.log)
	out := make([][]float32, 0, len(samples))
	for i, s := range samples {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "evaluation cancelled")
		}
		done := c.prof.StartOperation(profiler.StageInference)
		outputs, err := inference.Invoke(ctx, c.engine, s.Features, c.specificShape)
		done()
		if err != nil {
			return nil, errors.Wrapf(err, "sample %s", s.SampleID)
		}
		if len(outputs) == 0 {
			return nil, errors.Wrapf(inference.ErrShapeMismatch, "sample %s: model has no outputs", s.SampleID)
		}
		out = append(out, FlattenOutput(outputs[0], i == 0, c.log))
		p.tick()
	}
	return out, nil
}

// FlattenOutput returns the values of a classification or regression output.
//
// Outputs are expected to be one dimensional. A shape of the form (1, ..., 1, n) or
// (n, 1, ..., 1) is flattened; when logWarning is set this is reported. Any other shape is
// reported as a problem and flattened anyway.
//
// Arguments:
//   - out: The output with the batch dimension removed.
//   - logWarning: Whether to report the shape, typically only for the first sample.
//   - log: The entry warnings are written to.
//
// Returns:
//   - []float32: The values in row-major order.
func FlattenOutput(out inference.RawOutputTensor, logWarning bool, log *logrus.Entry) []float32 {
	data := out.Float32s()
	shape := out.Shape()
	if len(shape) <= 1 {
		return data
	}

	if allOnes(shape[1:]) || allOnes(shape[:len(shape)-1]) {
		if logWarning {
			log.Info(fmt.Sprintf("A 1D output is expected for classification and regression models. Instead, the output shape was %v.", shape))
			log.Info("Output data will be flattened automatically.")
		}
		return data
	}

	if logWarning {
		log.Warn(fmt.Sprintf("A 1D output is expected for classification and regression models. Instead, the output shape was %v.", shape))
		log.Warn("This may result in missing metrics for this model.")
	}
	return data
}

func allOnes(dims []int) bool {
	for _, d := range dims {
		if d != 1 {
			return false
		}
	}
	return true
}
