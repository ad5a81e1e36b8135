package detections

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultLibraryDir is searched when no ONNX Runtime library path is configured.
const DefaultLibraryDir = "lib"

// libraryName returns the ONNX Runtime shared library file name for the
// running platform.
func libraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	}
	if runtime.GOARCH == "arm64" {
		return "libonnxruntime_arm64.so"
	}
	return "libonnxruntime.so"
}

// resolveLibrary returns the configured library path, or the platform
// default under DefaultLibraryDir. The file must exist.
func resolveLibrary(configured string) (string, error) {
	path := configured
	if path == "" {
		path = filepath.Join(DefaultLibraryDir, libraryName())
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve onnxruntime library path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("onnxruntime library not found: %s", abs)
	}
	return abs, nil
}

// modelExists reports whether the model file resolves to a regular file.
func modelExists(modelPath string) bool {
	if modelPath == "" {
		return false
	}
	info, err := os.Stat(modelPath)
	return err == nil && !info.IsDir()
}
