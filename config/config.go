// Package config - Run configuration read from the environment and an optional .env file.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/inference/providers"
	"github.com/nvr-ai/go-ml-eval/models/model"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "EVAL_"

// Mode selects how the outputs of a model are interpreted.
type Mode string

const (
	// ModeObjectDetection decodes boxes and scores them against ground truth.
	ModeObjectDetection Mode = "object-detection"
	// ModeClassification flattens the first output into class scores.
	ModeClassification Mode = "classification"
	// ModeRegression flattens the first output into regression values.
	ModeRegression Mode = "regression"
)

// Config is the complete configuration of an evaluation run.
type Config struct {
	Mode      Mode   `json:"mode" validate:"required,oneof=object-detection classification regression"`
	LastLayer string `json:"last_layer" validate:"omitempty,lastlayer"`

	ModelPath       string `json:"model_path" validate:"required_without=PredictionsPath"`
	FeaturesPath    string `json:"features_path" validate:"required"`
	LabelsPath      string `json:"labels_path"`
	PredictionsPath string `json:"predictions_path"`
	AnchorsPath     string `json:"anchors_path"`
	OutputFile      string `json:"output_file"`
	MetricsFile     string `json:"metrics_file"`

	// ModelVariant names the artifact under which run metrics are stored, e.g. float32 or int8.
	ModelVariant string `json:"model_variant" validate:"required"`
	// ClassNames is the training label set.
	ClassNames []string `json:"class_names"`
	// TestClassNames is the label set of the evaluated dataset when it differs from training.
	TestClassNames []string `json:"test_class_names"`

	MinimumConfidence *float32 `json:"minimum_confidence" validate:"omitempty,min=0,max=1"`
	NumClasses        int      `json:"num_classes" validate:"min=0"`
	Width             int      `json:"width" validate:"min=0"`
	Height            int      `json:"height" validate:"min=0"`
	SpecificShape     []int    `json:"specific_shape" validate:"dive,gt=0"`
	Workers           int      `json:"workers" validate:"min=1"`

	Provider providers.Config `json:"provider"`

	RedisAddr     string `json:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redis_db" validate:"min=0"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	LogFile  string `json:"log_file"`
	LogJSON  bool   `json:"log_json"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Mode:         ModeObjectDetection,
		ModelVariant: "float32",
		Workers:      1,
		Provider:     providers.DefaultConfig(),
		LogLevel:     "info",
	}
}

// NewValidator returns a validator with the custom tags used by Config.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("lastlayer", func(fl validator.FieldLevel) bool {
		return model.LastLayer(fl.Field().String()).Valid()
	})
	return v
}

// ErrMissingLastLayer is returned when object detection is configured without a last layer.
var ErrMissingLastLayer = errors.New("last layer must be set for object detection")

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := NewValidator().Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if c.Mode == ModeObjectDetection && c.LastLayer == "" {
		return errors.Wrap(ErrMissingLastLayer, "invalid configuration")
	}
	return nil
}

// Load builds a configuration from the defaults, optional .env files and EVAL_* variables.
//
// Variables already present in the environment win over the .env files. A missing .env file is
// not an error when no path is given.
//
// Arguments:
//   - paths: The .env files to load. Empty loads ./.env when it exists.
//
// Returns:
//   - *Config: The configuration, not yet validated so flags can still override it.
//   - error: When a named file cannot be read or a variable cannot be parsed.
func Load(paths ...string) (*Config, error) {
	if len(paths) > 0 {
		if err := godotenv.Load(paths...); err != nil {
			return nil, errors.Wrap(err, "loading env files")
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, errors.Wrap(err, "loading .env")
		}
	}

	c := Default()
	e := &env{}

	e.str("MODE", (*string)(&c.Mode))
	e.str("LAST_LAYER", &c.LastLayer)
	e.str("MODEL_PATH", &c.ModelPath)
	e.str("FEATURES_PATH", &c.FeaturesPath)
	e.str("LABELS_PATH", &c.LabelsPath)
	e.str("PREDICTIONS_PATH", &c.PredictionsPath)
	e.str("ANCHORS_PATH", &c.AnchorsPath)
	e.str("OUTPUT_FILE", &c.OutputFile)
	e.str("METRICS_FILE", &c.MetricsFile)
	e.str("MODEL_VARIANT", &c.ModelVariant)
	e.list("CLASS_NAMES", &c.ClassNames)
	e.list("TEST_CLASS_NAMES", &c.TestClassNames)
	e.float32Ptr("MIN_CONFIDENCE", &c.MinimumConfidence)
	e.integer("NUM_CLASSES", &c.NumClasses)
	e.integer("WIDTH", &c.Width)
	e.integer("HEIGHT", &c.Height)
	e.integers("SPECIFIC_SHAPE", &c.SpecificShape)
	e.integer("WORKERS", &c.Workers)
	e.str("PROVIDER", (*string)(&c.Provider.Backend))
	e.integer("INTRA_OP_THREADS", &c.Provider.IntraOpThreads)
	e.integer("INTER_OP_THREADS", &c.Provider.InterOpThreads)
	e.str("ORT_LIBRARY", &c.Provider.SharedLibraryPath)
	e.str("REDIS_ADDR", &c.RedisAddr)
	e.str("REDIS_PASSWORD", &c.RedisPassword)
	e.integer("REDIS_DB", &c.RedisDB)
	e.str("LOG_LEVEL", &c.LogLevel)
	e.str("LOG_FILE", &c.LogFile)
	e.boolean("LOG_JSON", &c.LogJSON)

	if e.err != nil {
		return nil, e.err
	}
	return c, nil
}

// env reads typed EVAL_* variables, keeping the first parse error.
type env struct {
	err error
}

func (e *env) lookup(name string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *env) fail(name string, err error) {
	e.err = errors.Wrapf(err, "parsing %s%s", EnvPrefix, name)
}

func (e *env) str(name string, dst *string) {
	if v, ok := e.lookup(name); ok {
		*dst = v
	}
}

func (e *env) list(name string, dst *[]string) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func (e *env) integer(name string, dst *int) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = n
}

func (e *env) integers(name string, dst *[]int) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	var out []int
	for _, s := range strings.Split(v, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			e.fail(name, err)
			return
		}
		out = append(out, n)
	}
	*dst = out
}

func (e *env) float32Ptr(name string, dst **float32) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		e.fail(name, err)
		return
	}
	f32 := float32(f)
	*dst = &f32
}

func (e *env) boolean(name string, dst *bool) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = b
}

// DecodeArgs returns the decoder parameters of the run.
func (c *Config) DecodeArgs() model.DecodeArgs {
	return model.DecodeArgs{
		Width:             c.Width,
		Height:            c.Height,
		MinimumConfidence: c.MinimumConfidence,
		NumClasses:        c.NumClasses,
	}
}
