package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-ml-eval/inference/providers"
)

func valid() *Config {
	c := Default()
	c.LastLayer = "yolov5"
	c.ModelPath = "model.onnx"
	c.FeaturesPath = "X.json"
	return c
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, ModeObjectDetection, c.Mode)
	assert.Equal(t, "float32", c.ModelVariant)
	assert.Equal(t, 1, c.Workers)
	assert.Equal(t, providers.CPUProviderBackend, c.Provider.Backend)
	assert.Nil(t, c.MinimumConfidence)
}

func TestValidate(t *testing.T) {
	half := float32(0.5)
	tooHigh := float32(1.5)

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "valid with confidence", mutate: func(c *Config) { c.MinimumConfidence = &half }},
		{name: "confidence above one", mutate: func(c *Config) { c.MinimumConfidence = &tooHigh }, wantErr: true},
		{name: "unknown last layer", mutate: func(c *Config) { c.LastLayer = "yolov99" }, wantErr: true},
		{name: "missing last layer", mutate: func(c *Config) { c.LastLayer = "" }, wantErr: true},
		{name: "classification needs no last layer", mutate: func(c *Config) {
			c.Mode = ModeClassification
			c.LastLayer = ""
		}},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "segmentation" }, wantErr: true},
		{name: "no model and no predictions", mutate: func(c *Config) { c.ModelPath = "" }, wantErr: true},
		{name: "predictions only", mutate: func(c *Config) {
			c.ModelPath = ""
			c.PredictionsPath = "preds.json"
		}},
		{name: "no features", mutate: func(c *Config) { c.FeaturesPath = "" }, wantErr: true},
		{name: "no workers", mutate: func(c *Config) { c.Workers = 0 }, wantErr: true},
		{name: "negative class count", mutate: func(c *Config) { c.NumClasses = -1 }, wantErr: true},
		{name: "bad shape", mutate: func(c *Config) { c.SpecificShape = []int{96, 0} }, wantErr: true},
		{name: "bad provider", mutate: func(c *Config) { c.Provider.Backend = "tpu" }, wantErr: true},
		{name: "bad redis address", mutate: func(c *Config) { c.RedisAddr = "localhost" }, wantErr: true},
		{name: "redis address", mutate: func(c *Config) { c.RedisAddr = "localhost:6379" }},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("EVAL_LAST_LAYER", "fomo")
	t.Setenv("EVAL_MIN_CONFIDENCE", "0.25")
	t.Setenv("EVAL_NUM_CLASSES", "3")
	t.Setenv("EVAL_WIDTH", "96")
	t.Setenv("EVAL_HEIGHT", "96")
	t.Setenv("EVAL_SPECIFIC_SHAPE", "96, 96, 1")
	t.Setenv("EVAL_CLASS_NAMES", "cat, dog,,bird")
	t.Setenv("EVAL_LOG_JSON", "true")
	t.Setenv("EVAL_PROVIDER", "cuda")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "fomo", c.LastLayer)
	require.NotNil(t, c.MinimumConfidence)
	assert.InDelta(t, 0.25, *c.MinimumConfidence, 1e-6)
	assert.Equal(t, 3, c.NumClasses)
	assert.Equal(t, []int{96, 96, 1}, c.SpecificShape)
	assert.Equal(t, []string{"cat", "dog", "bird"}, c.ClassNames)
	assert.True(t, c.LogJSON)
	assert.Equal(t, providers.CUDAProviderBackend, c.Provider.Backend)

	args := c.DecodeArgs()
	assert.Equal(t, 96, args.Width)
	assert.Equal(t, 3, args.NumClasses)
	assert.Same(t, c.MinimumConfidence, args.MinimumConfidence)
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("EVAL_NUM_CLASSES", "three")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EVAL_NUM_CLASSES")
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eval.env")
	require.NoError(t, os.WriteFile(path, []byte("EVAL_MODEL_VARIANT=int8\nEVAL_WORKERS=4\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("EVAL_MODEL_VARIANT")
		_ = os.Unsetenv("EVAL_WORKERS")
	})

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "int8", c.ModelVariant)
	assert.Equal(t, 4, c.Workers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
