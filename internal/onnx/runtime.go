// Package onnx holds the ONNX Runtime plumbing shared by model-backed adapters:
// shared-library discovery, environment initialization and session options.
package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// LibraryEnvVar overrides shared-library discovery when set.
const LibraryEnvVar = "SHELFSCAN_ONNXRUNTIME_LIB"

// RuntimeConfig configures how sessions are created.
type RuntimeConfig struct {
	LibraryPath string // Explicit path to libonnxruntime; empty means discover
	NumThreads  int    // Intra-op threads, 0 for runtime default
	UseGPU      bool   // Append the CUDA execution provider
	DeviceID    int    // CUDA device
	GPUMemLimit uint64 // Bytes, 0 for unlimited
}

// Validate checks the runtime configuration.
func (c RuntimeConfig) Validate() error {
	if c.NumThreads < 0 {
		return fmt.Errorf("num_threads must be >= 0, got %d", c.NumThreads)
	}
	if c.UseGPU && c.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", c.DeviceID)
	}
	return nil
}

var (
	initMu   sync.Mutex
	initDone bool
)

// Initialize points onnxruntime_go at a shared library and initializes the
// process-wide environment. It is safe to call more than once; the
// environment is never torn down before process exit.
func Initialize(cfg RuntimeConfig) error {
	initMu.Lock()
	defer initMu.Unlock()

	if initDone || onnxruntime_go.IsInitialized() {
		initDone = true
		return nil
	}

	path, err := ResolveLibraryPath(cfg.LibraryPath, cfg.UseGPU)
	if err != nil {
		return err
	}
	onnxruntime_go.SetSharedLibraryPath(path)

	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	slog.Debug("ONNX Runtime initialized", "library", path, "gpu", cfg.UseGPU)
	initDone = true
	return nil
}

// ResolveLibraryPath returns the first existing candidate library path.
func ResolveLibraryPath(explicit string, useGPU bool) (string, error) {
	for _, p := range libraryCandidates(explicit, os.Getenv(LibraryEnvVar), useGPU) {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.New("ONNX Runtime shared library not found; set " + LibraryEnvVar)
}

func libraryCandidates(explicit, fromEnv string, useGPU bool) []string {
	var out []string
	if explicit != "" {
		out = append(out, explicit)
	}
	if fromEnv != "" {
		out = append(out, fromEnv)
	}

	name := libraryName()
	if useGPU {
		out = append(out, filepath.Join("/opt/onnxruntime/gpu/lib", name))
	}
	out = append(out,
		filepath.Join("/usr/local/lib", name),
		filepath.Join("/usr/lib", name),
		filepath.Join("/opt/onnxruntime/cpu/lib", name),
		filepath.Join("onnxruntime", "lib", name),
	)
	return out
}

func libraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// NewSessionOptions builds session options for cfg. The caller owns the
// returned options and must Destroy them.
func NewSessionOptions(cfg RuntimeConfig) (*onnxruntime_go.SessionOptions, error) {
	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			_ = opts.Destroy()
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	if cfg.UseGPU {
		if err := appendCUDA(opts, cfg); err != nil {
			// CPU execution still works; report and continue.
			slog.Warn("CUDA provider unavailable, using CPU", "error", err)
		}
	}
	return opts, nil
}

func appendCUDA(opts *onnxruntime_go.SessionOptions, cfg RuntimeConfig) error {
	cuda, err := onnxruntime_go.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer func() { _ = cuda.Destroy() }()

	settings := map[string]string{"device_id": strconv.Itoa(cfg.DeviceID)}
	if cfg.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(cfg.GPUMemLimit, 10)
	}
	if err := cuda.Update(settings); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	return opts.AppendExecutionProviderCUDA(cuda)
}
