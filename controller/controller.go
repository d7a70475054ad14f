// Package controller - Drives an evaluation run: invoke, decode, score and report every sample.
package controller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-ml-eval/config"
	"github.com/nvr-ai/go-ml-eval/dataset"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/logger"
	"github.com/nvr-ai/go-ml-eval/metrics"
	"github.com/nvr-ai/go-ml-eval/models/fomo"
	"github.com/nvr-ai/go-ml-eval/models/model"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
	"github.com/nvr-ai/go-ml-eval/profiler"
	"github.com/nvr-ai/go-ml-eval/storage"
)

// TestSplit is the split run metrics are stored under.
const TestSplit = "test"

var (
	// ErrMissingEngine is returned when a run needs the engine and none is configured.
	ErrMissingEngine = errors.New("controller: no inference engine configured")
	// ErrMissingDecoder is returned when object detection runs without a decoder.
	ErrMissingDecoder = errors.New("controller: no decoder configured")
	// ErrWrongMode is returned when an operation does not apply to the configured mode.
	ErrWrongMode = errors.New("controller: operation not available in this mode")
)

// Option configures a Controller.
type Option func(*Controller) error

// Controller runs the samples of one evaluation through an engine and a decoder. A Controller
// is not safe for concurrent use; ParallelRun gives every worker its own copy.
type Controller struct {
	engine        inference.Engine
	decoder       model.Decoder
	sink          storage.Sink
	log           *logrus.Entry
	mode          config.Mode
	modelVariant  string
	trainLabels   *dataset.Labels
	testLabels    *dataset.Labels
	args          model.DecodeArgs
	specificShape []int
	factory       EngineFactory
	workers       int
	interval      time.Duration
	now           func() time.Time
	prof          *profiler.Profiler
}

// New creates a controller from options.
//
// Arguments:
//   - opts: The options to apply in order.
//
// Returns:
//   - *Controller: The controller.
//   - error: When an option fails or the mode is unknown.
func New(opts ...Option) (*Controller, error) {
	c := &Controller{
		log:          logger.WithComponent("controller"),
		mode:         config.ModeObjectDetection,
		modelVariant: "float32",
		interval:     DefaultProgressInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "failed to apply option")
		}
	}
	switch c.mode {
	case config.ModeObjectDetection, config.ModeClassification, config.ModeRegression:
	default:
		return nil, errors.Errorf("unknown mode %q", c.mode)
	}
	return c, nil
}

// WithEngine sets the inference engine. The caller keeps ownership and closes it.
func WithEngine(e inference.Engine) Option {
	return func(c *Controller) error {
		c.engine = e
		return nil
	}
}

// WithDecoder sets the decoder used in object detection mode.
func WithDecoder(d model.Decoder) Option {
	return func(c *Controller) error {
		c.decoder = d
		return nil
	}
}

// WithSink sets where run metrics are persisted.
func WithSink(s storage.Sink) Option {
	return func(c *Controller) error {
		c.sink = s
		return nil
	}
}

// WithLogger replaces the controller's log entry.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Controller) error {
		if log == nil {
			return errors.New("logger is required")
		}
		c.log = log
		return nil
	}
}

// WithMode sets how model outputs are interpreted.
func WithMode(mode config.Mode) Option {
	return func(c *Controller) error {
		c.mode = mode
		return nil
	}
}

// WithModelVariant names the artifact the metrics belong to.
func WithModelVariant(variant string) Option {
	return func(c *Controller) error {
		if variant == "" {
			return errors.New("model variant is required")
		}
		c.modelVariant = variant
		return nil
	}
}

// WithLabels sets the training label set and, when the dataset uses another one, the testing
// label set ground truth is remapped from. test may be nil.
func WithLabels(train, test *dataset.Labels) Option {
	return func(c *Controller) error {
		if train == nil && test != nil {
			return errors.New("testing labels need training labels")
		}
		c.trainLabels = train
		c.testLabels = test
		return nil
	}
}

// WithDecodeArgs sets the input size, confidence threshold and class count.
func WithDecodeArgs(args model.DecodeArgs) Option {
	return func(c *Controller) error {
		c.args = args
		return nil
	}
}

// WithSpecificShape sets the shape features are validated against before invocation.
func WithSpecificShape(shape []int) Option {
	return func(c *Controller) error {
		c.specificShape = shape
		return nil
	}
}

// WithEngineFactory makes Evaluate score object detection samples on several workers, each with
// its own engine from factory.
func WithEngineFactory(factory EngineFactory, workers int) Option {
	return func(c *Controller) error {
		if factory == nil {
			return errors.New("engine factory is required")
		}
		c.factory = factory
		c.workers = workers
		return nil
	}
}

// WithProgressInterval sets the least time between progress lines.
func WithProgressInterval(d time.Duration) Option {
	return func(c *Controller) error {
		c.interval = d
		return nil
	}
}

// WithClock replaces time.Now for progress reporting.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) error {
		c.now = now
		return nil
	}
}

// Result is the outcome of Evaluate. Records is set for object detection, Vectors otherwise.
type Result struct {
	RunID   string
	Records []EvaluationRecord
	Vectors [][]float32
	// Metrics is nil when the metrics stage failed.
	Metrics *RunMetrics
	// Timings holds the duration statistics of every stage of the run.
	Timings map[string]profiler.OperationStats
}

// Evaluate runs every sample for the configured mode, then computes and stores run metrics.
//
// Configuration and decode errors abort the run. A failure in the metrics stage is logged and
// leaves Result.Metrics nil.
//
// Arguments:
//   - ctx: Cancels the run between samples.
//   - samples: The samples in output order.
//
// Returns:
//   - *Result: The per-sample outputs and the run metrics.
//   - error: The first configuration or decode error.
func (c *Controller) Evaluate(ctx context.Context, samples []dataset.Sample) (*Result, error) {
	runID := uuid.NewString()
	run := *c
	run.log = c.log.WithField(logger.RunIDKey, runID)
	run.prof = profiler.New(run.now)

	samples, err := run.remap(samples)
	if err != nil {
		return nil, err
	}
	if err := run.inferSize(samples); err != nil {
		return nil, err
	}

	res := &Result{RunID: runID}
	switch {
	case run.mode == config.ModeObjectDetection && run.factory != nil && run.workers > 1:
		res.Records, err = run.parallelRun(ctx, run.factory, run.workers, samples)
	case run.mode == config.ModeObjectDetection:
		res.Records, err = run.run(ctx, samples, newProgress(len(samples), run.interval, run.now, run.log))
	default:
		res.Vectors, err = run.runVectors(ctx, samples)
	}
	if err != nil {
		return nil, err
	}
	res.Metrics = run.storeRunMetrics(ctx, res, samples)
	res.Timings = run.prof.Stats()
	run.prof.Report(run.log)
	return res, nil
}

// Run scores every sample of an object detection dataset, strictly in order.
//
// Arguments:
//   - ctx: Cancels the run between samples.
//   - samples: The samples with features and ground truth.
//
// Returns:
//   - []EvaluationRecord: One record per sample in input order.
//   - error: The first configuration, inference or decode error.
func (c *Controller) Run(ctx context.Context, samples []dataset.Sample) ([]EvaluationRecord, error) {
	run := *c
	samples, err := run.remap(samples)
	if err != nil {
		return nil, err
	}
	if err := run.inferSize(samples); err != nil {
		return nil, err
	}
	return run.run(ctx, samples, newProgress(len(samples), run.interval, run.now, run.log))
}

func (c *Controller) run(ctx context.Context, samples []dataset.Sample, p *progress) ([]EvaluationRecord, error) {
	if c.mode != config.ModeObjectDetection {
		return nil, errors.Wrapf(ErrWrongMode, "run in %s mode", c.mode)
	}
	if c.engine == nil {
		return nil, ErrMissingEngine
	}
	if c.decoder == nil {
		return nil, ErrMissingDecoder
	}
	if err := c.checkObjectDetection(); err != nil {
		return nil, err
	}

	records := make([]EvaluationRecord, 0, len(samples))
	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "evaluation cancelled")
		}
		if s.GroundTruth == nil {
			return nil, errors.Wrapf(model.ErrMissingGroundTruth, "sample %s", s.SampleID)
		}

		done := c.prof.StartOperation(profiler.StageInference)
		outputs, err := inference.Invoke(ctx, c.engine, s.Features, c.specificShape)
		done()
		if err != nil {
			return nil, errors.Wrapf(err, "sample %s", s.SampleID)
		}
		done = c.prof.StartOperation(profiler.StageDecode)
		dets, err := c.decoder.Decode(outputs, c.args)
		done()
		if err != nil {
			return nil, errors.Wrapf(err, "decoding sample %s", s.SampleID)
		}

		numClassesInclBackground := c.args.NumClasses + 1
		if c.centroidMatching() && len(outputs) > 0 {
			numClassesInclBackground = fomo.NumClassesIncludingBackground(outputs[0])
		}
		done = c.prof.StartOperation(profiler.StageScore)
		rec, err := c.score(s, dets, numClassesInclBackground)
		done()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		p.tick()
	}
	return records, nil
}

// Rescore scores precomputed detections against the samples' ground truth.
//
// Detections below the minimum confidence are dropped first; without a configured threshold
// every detection is kept.
//
// Arguments:
//   - predictions: The detections of every sample, in sample order.
//   - samples: The samples with ground truth.
//
// Returns:
//   - []EvaluationRecord: One record per sample.
//   - error: When the inputs differ in length or a configuration error applies.
func (c *Controller) Rescore(predictions [][]postprocess.Detection, samples []dataset.Sample) ([]EvaluationRecord, error) {
	run := *c
	samples, err := run.remap(samples)
	if err != nil {
		return nil, err
	}
	return run.rescore(predictions, samples)
}

func (c *Controller) rescore(predictions [][]postprocess.Detection, samples []dataset.Sample) ([]EvaluationRecord, error) {
	if len(predictions) != len(samples) {
		return nil, errors.Wrapf(dataset.ErrLengthMismatch, "%d predictions, %d samples", len(predictions), len(samples))
	}
	if c.args.NumClasses <= 0 {
		return nil, model.ErrMissingNumClasses
	}
	if err := c.inferSize(samples); err != nil {
		return nil, err
	}

	var minimum float32
	if c.args.MinimumConfidence != nil {
		minimum = *c.args.MinimumConfidence
	}

	records := make([]EvaluationRecord, 0, len(samples))
	for i, s := range samples {
		if s.GroundTruth == nil {
			return nil, errors.Wrapf(model.ErrMissingGroundTruth, "sample %s", s.SampleID)
		}
		done := c.prof.StartOperation(profiler.StageScore)
		rec, err := c.score(s, postprocess.FilterByConfidence(predictions[i], minimum), c.args.NumClasses+1)
		done()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// EvaluatePredictions rescores precomputed detections like Rescore, then computes and stores
// the run metrics the way Evaluate does. A failure in the metrics stage leaves Result.Metrics
// nil.
//
// Arguments:
//   - ctx: Bounds the sink write.
//   - predictions: The detections of every sample, in sample order.
//   - samples: The samples with ground truth.
//
// Returns:
//   - *Result: The records and the run metrics.
//   - error: When the inputs differ in length or a configuration error applies.
func (c *Controller) EvaluatePredictions(ctx context.Context, predictions [][]postprocess.Detection, samples []dataset.Sample) (*Result, error) {
	runID := uuid.NewString()
	run := *c
	run.log = c.log.WithField(logger.RunIDKey, runID)
	run.prof = profiler.New(run.now)

	samples, err := run.remap(samples)
	if err != nil {
		return nil, err
	}
	records, err := run.rescore(predictions, samples)
	if err != nil {
		return nil, err
	}
	res := &Result{RunID: runID, Records: records}
	res.Metrics = run.storeRunMetrics(ctx, res, samples)
	res.Timings = run.prof.Stats()
	return res, nil
}

// inferSize derives a square input side from the feature count of the first sample when no
// width and height are configured. Samples without features leave the size unset.
func (c *Controller) inferSize(samples []dataset.Sample) error {
	if c.mode != config.ModeObjectDetection || c.args.Width != 0 || c.args.Height != 0 {
		return nil
	}
	if len(samples) == 0 || len(samples[0].Features) == 0 {
		return nil
	}
	side, err := dataset.InferSquareSide(len(samples[0].Features))
	if err != nil {
		return errors.Wrapf(err, "input size of sample %s", samples[0].SampleID)
	}
	c.args.Width, c.args.Height = side, side
	c.log.Debugf("Inferred a %dx%d input from the features", side, side)
	return nil
}

// checkObjectDetection returns the configuration error that would stop every sample.
func (c *Controller) checkObjectDetection() error {
	if c.args.MinimumConfidence == nil {
		return model.ErrMissingMinimumConfidence
	}
	if c.args.NumClasses <= 0 {
		return model.ErrMissingNumClasses
	}
	return nil
}

func (c *Controller) centroidMatching() bool {
	return c.decoder != nil && c.decoder.LastLayer().UsesCentroidMatching()
}

// score builds the record of one sample with its mAP or centroid scores.
func (c *Controller) score(s dataset.Sample, dets []postprocess.Detection, numClassesInclBackground int) (EvaluationRecord, error) {
	rec := newRecord(s.SampleID, dets)
	if c.centroidMatching() {
		res := metrics.EvaluateCentroids(dets, s.GroundTruth, c.args.Side(), numClassesInclBackground)
		scores, err := newCentroidScores(res)
		if err != nil {
			return EvaluationRecord{}, errors.Wrapf(err, "encoding debug info of sample %s", s.SampleID)
		}
		rec.MAP = res.F1
		rec.CentroidScores = scores
		return rec, nil
	}

	mAP, err := metrics.MeanAveragePrecision(dets, c.args.Width, c.args.Height, s.GroundTruth, c.args.NumClasses)
	if err != nil {
		return EvaluationRecord{}, errors.Wrapf(err, "scoring sample %s", s.SampleID)
	}
	rec.MAP = mAP
	return rec, nil
}

// remap converts ground truth and class labels from the testing to the training label set.
// Boxes of classes the model was not trained on are dropped.
func (c *Controller) remap(samples []dataset.Sample) ([]dataset.Sample, error) {
	if c.trainLabels == nil || c.testLabels == nil {
		return samples, nil
	}
	return dataset.RemapSamples(samples, c.trainLabels, c.testLabels, c.mode == config.ModeClassification)
}
