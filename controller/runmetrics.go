package controller

import (
	"context"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/config"
	"github.com/nvr-ai/go-ml-eval/dataset"
	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/metrics"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

// RunMetrics is the pooled metric of a whole run. Only the fields of the run's mode are set.
type RunMetrics struct {
	*metrics.DatasetMetrics
	*metrics.CentroidMetrics
	Accuracy         *float64 `json:"accuracy,omitempty"`
	MeanSquaredError *float64 `json:"mse,omitempty"`
	ClassNames       []string `json:"class_names,omitempty"`
}

// ComputeRunMetrics pools the outputs of a run into its metrics.
//
// Arguments:
//   - res: The run outputs.
//   - samples: The samples of the run, already in the training label set.
//
// Returns:
//   - *RunMetrics: The metrics for the configured mode.
//   - error: When the outputs cannot be scored.
func (c *Controller) ComputeRunMetrics(res *Result, samples []dataset.Sample) (*RunMetrics, error) {
	switch c.mode {
	case config.ModeClassification:
		yTrue := make([]int, len(samples))
		for i, s := range samples {
			yTrue[i] = s.Label - 1
		}
		acc, err := metrics.Accuracy(yTrue, res.Vectors)
		if err != nil {
			return nil, errors.Wrap(err, "classification metrics")
		}
		return &RunMetrics{Accuracy: &acc, ClassNames: c.classNames()}, nil

	case config.ModeRegression:
		yTrue := make([]float32, len(samples))
		for i, s := range samples {
			yTrue[i] = s.Value
		}
		mse, err := metrics.MeanSquaredError(yTrue, res.Vectors)
		if err != nil {
			return nil, errors.Wrap(err, "regression metrics")
		}
		return &RunMetrics{MeanSquaredError: &mse}, nil
	}

	if len(res.Records) != len(samples) {
		return nil, errors.Wrapf(dataset.ErrLengthMismatch, "%d records, %d samples", len(res.Records), len(samples))
	}

	if c.centroidMatching() {
		yTrue := make([][]int, len(res.Records))
		yPred := make([][]int, len(res.Records))
		for i, r := range res.Records {
			if r.CentroidScores == nil {
				return nil, errors.Errorf("record %s has no centroid labels", r.SampleID)
			}
			yTrue[i], yPred[i] = r.YTrueLabels, r.YPredLabels
		}
		m := metrics.PooledCentroidMetrics(yTrue, yPred, c.args.NumClasses+1)
		return &RunMetrics{CentroidMetrics: &m}, nil
	}

	imgs := make([]metrics.ImageDetections, len(samples))
	for i, s := range samples {
		imgs[i] = metrics.ImageDetections{
			Detections:  recordDetections(res.Records[i]),
			GroundTruth: s.GroundTruth,
			Width:       c.args.Width,
			Height:      c.args.Height,
		}
	}
	m, err := metrics.DatasetMeanAveragePrecision(imgs, c.args.NumClasses)
	if err != nil {
		return nil, errors.Wrap(err, "object detection metrics")
	}
	return &RunMetrics{DatasetMetrics: &m, ClassNames: c.classNames()}, nil
}

// storeRunMetrics is the recoverable end of a run: failures are logged and yield nil.
func (c *Controller) storeRunMetrics(ctx context.Context, res *Result, samples []dataset.Sample) *RunMetrics {
	m, err := c.ComputeRunMetrics(res, samples)
	if err != nil {
		c.log.Errorf("%+v", err)
		c.log.Errorf("Failed to calculate metrics [%v]", err)
		return nil
	}
	if c.sink != nil {
		if err := c.sink.Write(ctx, TestSplit, c.modelVariant, m); err != nil {
			c.log.WithError(err).Error("Failed to store metrics")
		}
	}
	return m
}

func (c *Controller) classNames() []string {
	if c.trainLabels == nil {
		return nil
	}
	return c.trainLabels.Names()
}

func recordDetections(r EvaluationRecord) []postprocess.Detection {
	dets := make([]postprocess.Detection, len(r.Boxes))
	for i, b := range r.Boxes {
		dets[i] = postprocess.Detection{
			Box:   images.BoundingBox{YMin: b[0], XMin: b[1], YMax: b[2], XMax: b[3]},
			Label: r.Labels[i],
			Score: r.Scores[i],
		}
	}
	return dets
}
