// Command evaluate scores a model, or a file of precomputed detections, on a labelled dataset.
//
// Configuration comes from EVAL_* variables and an optional .env file; flags override both.
// Per-sample results are printed between "Begin output" and "End output" lines unless an
// output file is given.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-ml-eval/config"
	"github.com/nvr-ai/go-ml-eval/controller"
	"github.com/nvr-ai/go-ml-eval/dataset"
	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/logger"
	"github.com/nvr-ai/go-ml-eval/models"
	"github.com/nvr-ai/go-ml-eval/models/model"
	"github.com/nvr-ai/go-ml-eval/storage"
)

func main() {
	var (
		envFile        string
		lastLayer      string
		modelPath      string
		featuresPath   string
		labelsPath     string
		predictions    string
		anchorsPath    string
		outputFile     string
		metricsFile    string
		mode           string
		variant        string
		numClasses     int
		workers        int
		minConfidence  string
		logLevel       string
		classNames     string
		testClassNames string
	)

	flag.StringVar(&envFile, "env", "", "Path to a .env file (default: ./.env when present)")
	flag.StringVar(&lastLayer, "last-layer", "", "Last layer of the model, e.g. yolov5 or fomo")
	flag.StringVar(&modelPath, "model", "", "Path to the ONNX model")
	flag.StringVar(&featuresPath, "features", "", "Path to the features JSON, or a directory of sample-<n>.json files")
	flag.StringVar(&labelsPath, "labels", "", "Path to the ground truth JSON")
	flag.StringVar(&predictions, "predictions", "", "Path to precomputed detections; skips inference")
	flag.StringVar(&anchorsPath, "anchors", "", "Path to the anchors JSON of YOLOv2 Akida models")
	flag.StringVar(&outputFile, "output", "", "Write the output JSON to this file instead of stdout")
	flag.StringVar(&metricsFile, "metrics-file", "", "Merge run metrics into this JSON file")
	flag.StringVar(&mode, "mode", "", "object-detection, classification or regression")
	flag.StringVar(&variant, "variant", "", "Model variant the metrics are stored under")
	flag.IntVar(&numClasses, "num-classes", 0, "Number of classes, excluding background")
	flag.IntVar(&workers, "workers", 0, "Number of parallel engines for object detection")
	flag.StringVar(&minConfidence, "min-confidence", "", "Minimum confidence of a detection")
	flag.StringVar(&logLevel, "log-level", "", "Log level")
	flag.StringVar(&classNames, "class-names", "", "Comma separated training class names")
	flag.StringVar(&testClassNames, "test-class-names", "", "Comma separated class names of the dataset")
	flag.Parse()

	var paths []string
	if envFile != "" {
		paths = append(paths, envFile)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags that were set win over the environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "last-layer":
			cfg.LastLayer = lastLayer
		case "model":
			cfg.ModelPath = modelPath
		case "features":
			cfg.FeaturesPath = featuresPath
		case "labels":
			cfg.LabelsPath = labelsPath
		case "predictions":
			cfg.PredictionsPath = predictions
		case "anchors":
			cfg.AnchorsPath = anchorsPath
		case "output":
			cfg.OutputFile = outputFile
		case "metrics-file":
			cfg.MetricsFile = metricsFile
		case "mode":
			cfg.Mode = config.Mode(mode)
		case "variant":
			cfg.ModelVariant = variant
		case "num-classes":
			cfg.NumClasses = numClasses
		case "workers":
			cfg.Workers = workers
		case "log-level":
			cfg.LogLevel = logLevel
		case "class-names":
			cfg.ClassNames = splitNames(classNames)
		case "test-class-names":
			cfg.TestClassNames = splitNames(testClassNames)
		case "min-confidence":
			v, perr := strconv.ParseFloat(minConfidence, 32)
			if perr != nil {
				logrus.Fatalf("Invalid -min-confidence %q: %v", minConfidence, perr)
			}
			f32 := float32(v)
			cfg.MinimumConfidence = &f32
		}
	})

	if _, err := logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, JSON: cfg.LogJSON}); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	log := logger.WithComponent("evaluate")

	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Errorf("%+v", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Entry) error {
	samples, err := loadSamples(cfg)
	if err != nil {
		return errors.Wrap(err, "loading samples")
	}
	log.Infof("Loaded %d samples", len(samples))

	sink, err := newSink(ctx, cfg)
	if err != nil {
		return err
	}

	opts := []controller.Option{
		controller.WithMode(cfg.Mode),
		controller.WithModelVariant(cfg.ModelVariant),
		controller.WithDecodeArgs(cfg.DecodeArgs()),
		controller.WithSpecificShape(cfg.SpecificShape),
	}
	if sink != nil {
		opts = append(opts, controller.WithSink(sink))
	}
	if len(cfg.ClassNames) > 0 {
		var test *dataset.Labels
		if len(cfg.TestClassNames) > 0 {
			test = dataset.NewLabels(cfg.TestClassNames...)
		}
		opts = append(opts, controller.WithLabels(dataset.NewLabels(cfg.ClassNames...), test))
	}
	if cfg.Mode == config.ModeObjectDetection && cfg.LastLayer != "" {
		decoder, err := models.NewDecoder(model.NewDecoderArgs{
			LastLayer:   model.LastLayer(cfg.LastLayer),
			AnchorsPath: cfg.AnchorsPath,
		})
		if err != nil {
			return err
		}
		opts = append(opts, controller.WithDecoder(decoder))
	}

	if cfg.PredictionsPath != "" {
		c, err := controller.New(opts...)
		if err != nil {
			return err
		}
		preds, err := dataset.LoadPredictions(cfg.PredictionsPath)
		if err != nil {
			return errors.Wrap(err, "loading predictions")
		}
		res, err := c.EvaluatePredictions(ctx, preds, samples)
		if err != nil {
			return err
		}
		log.WithField(logger.RunIDKey, res.RunID).Info("Rescoring finished")
		return controller.WriteOutput(os.Stdout, cfg.OutputFile, res.Output())
	}

	factory := func() (inference.Engine, error) {
		return inference.NewEngineBuilder().
			WithProvider(cfg.Provider).
			WithModel(cfg.ModelPath).
			Build()
	}
	if cfg.Workers > 1 && cfg.Mode == config.ModeObjectDetection {
		opts = append(opts, controller.WithEngineFactory(factory, cfg.Workers))
	} else {
		engine, err := factory()
		if err != nil {
			return errors.Wrap(err, "creating engine")
		}
		defer func() {
			if err := engine.Close(); err != nil {
				log.WithError(err).Warn("Failed to close engine")
			}
		}()
		opts = append(opts, controller.WithEngine(engine))
	}

	c, err := controller.New(opts...)
	if err != nil {
		return err
	}
	res, err := c.Evaluate(ctx, samples)
	if err != nil {
		return err
	}
	log.WithField(logger.RunIDKey, res.RunID).Info("Evaluation finished")
	return controller.WriteOutput(os.Stdout, cfg.OutputFile, res.Output())
}

func loadSamples(cfg *config.Config) ([]dataset.Sample, error) {
	info, err := os.Stat(cfg.FeaturesPath)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return dataset.LoadSampleDirectory(cfg.FeaturesPath)
	}
	return dataset.LoadSamples(cfg.FeaturesPath, cfg.LabelsPath)
}

// newSink prefers Redis over the metrics file. Nil means metrics are only logged.
func newSink(ctx context.Context, cfg *config.Config) (storage.Sink, error) {
	switch {
	case cfg.RedisAddr != "":
		sink, err := storage.NewRedisSink(ctx, storage.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, errors.Wrap(err, "connecting to redis")
		}
		return sink, nil
	case cfg.MetricsFile != "":
		return storage.NewFileSink(cfg.MetricsFile), nil
	default:
		return nil, nil
	}
}

func splitNames(s string) []string {
	var out []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
