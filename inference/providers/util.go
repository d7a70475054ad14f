// Package providers - Utility functions.
package providers

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
)

// SharedLibraryEnv overrides the platform default shared library path.
const SharedLibraryEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// GetSharedLibPath returns the path to the ONNX Runtime shared library for the current platform.
//
// Returns:
//   - string: The path to the shared library.
//   - error: When no library is known for the platform or the file is missing.
func GetSharedLibPath() (string, error) {
	path := os.Getenv(SharedLibraryEnv)
	if path == "" {
		path = platformLibPath(runtime.GOOS, runtime.GOARCH)
	}
	if path == "" {
		return "", errors.Errorf("no onnxruntime library known for %s/%s; set %s",
			runtime.GOOS, runtime.GOARCH, SharedLibraryEnv)
	}
	if _, err := os.Stat(path); err != nil {
		return "", errors.Wrapf(err, "ONNX Runtime library not found at %s", path)
	}
	return path, nil
}

func platformLibPath(goos, goarch string) string {
	switch goos {
	case "windows":
		if goarch == "amd64" {
			return "./third_party/onnxruntime.dll"
		}
	case "darwin":
		return "./third_party/libonnxruntime.1.21.0.dylib"
	case "linux":
		if goarch == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
	return ""
}
