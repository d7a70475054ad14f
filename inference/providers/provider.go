// Package providers - Execution providers for the ONNX Runtime engine.
package providers

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers.
type ProviderBackend string

const (
	// CPUProviderBackend runs the graph on the default CPU provider.
	CPUProviderBackend ProviderBackend = "cpu"
	// CoreMLProviderBackend uses Apple CoreML for macOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
	// CUDAProviderBackend uses NVIDIA CUDA for GPU acceleration.
	CUDAProviderBackend ProviderBackend = "cuda"
	// OpenVINOProviderBackend uses Intel OpenVINO.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// Config selects the execution provider and threading for a session.
type Config struct {
	// Backend specifies the backend to use.
	Backend ProviderBackend `json:"backend" yaml:"backend" validate:"omitempty,oneof=cpu coreml cuda openvino"`
	// Options are passed verbatim to providers that accept key/value options (CUDA, OpenVINO).
	Options map[string]string `json:"options" yaml:"options"`
	// IntraOpThreads is the number of threads used inside a node. Zero lets the runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads" validate:"min=0"`
	// InterOpThreads is the number of threads used across independent nodes.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads" validate:"min=0"`
	// SharedLibraryPath overrides the platform default returned by GetSharedLibPath.
	SharedLibraryPath string `json:"shared_library_path" yaml:"shared_library_path"`
}

// DefaultConfig returns a CPU configuration with runtime-chosen threading.
func DefaultConfig() Config {
	return Config{Backend: CPUProviderBackend}
}

var (
	initOnce sync.Once
	initErr  error
)

// InitializeEnvironment loads the ONNX Runtime shared library once per process.
//
// Arguments:
//   - libPath: The shared library to load. Empty selects GetSharedLibPath().
//
// Returns:
//   - error: The initialization error, which is sticky for the life of the process.
func InitializeEnvironment(libPath string) error {
	initOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if libPath == "" {
			libPath, initErr = GetSharedLibPath()
			if initErr != nil {
				return
			}
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = errors.Wrapf(err, "error initializing ORT environment from %s", libPath)
		}
	})
	return initErr
}

// NewSessionOptions creates session options with the configured execution provider appended.
// The caller owns the returned options and must Destroy them.
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: The configured options.
//   - error: When the provider cannot be enabled.
func NewSessionOptions(cfg Config) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}

	if err := configure(options, cfg); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func configure(options *ort.SessionOptions, cfg Config) error {
	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return errors.Wrap(err, "error setting inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "error setting graph optimization level")
	}

	switch cfg.Backend {
	case CPUProviderBackend, "":
		return nil
	case CoreMLProviderBackend:
		var flags uint32
		if v, ok := cfg.Options["flags"]; ok {
			parsed, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return errors.Wrapf(err, "invalid CoreML flags %q", v)
			}
			flags = uint32(parsed)
		}
		if err := options.AppendExecutionProviderCoreML(flags); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
	case CUDAProviderBackend:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error creating CUDA options")
		}
		defer cuda.Destroy()
		if len(cfg.Options) > 0 {
			if err := cuda.Update(cfg.Options); err != nil {
				return errors.Wrap(err, "error converting CUDA options")
			}
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "error enabling CUDA")
		}
	case OpenVINOProviderBackend:
		// See:
		// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
		if err := options.AppendExecutionProviderOpenVINO(cfg.Options); err != nil {
			return errors.Wrap(err, "error enabling OpenVINO")
		}
	default:
		return errors.Errorf("unsupported provider backend: %s", cfg.Backend)
	}
	return nil
}
