// Package models locates the spine detection model on disk.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DetectorModel is the file name of the bundled spine detector.
	DetectorModel = "bookshelf.onnx"

	// DefaultModelsDir is searched relative to the working directory and
	// the project root.
	DefaultModelsDir = "models"

	// EnvModelsDir overrides the models directory.
	EnvModelsDir = "SHELFSCAN_MODELS_DIR"
)

// ErrModelNotFound is returned when no candidate path exists.
var ErrModelNotFound = errors.New("model file not found")

// findProjectRoot walks up from the working directory to the nearest go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root (go.mod not found)")
		}
		dir = parent
	}
}

// GetModelsDir returns the models directory.
// Priority: 1. explicit dir, 2. SHELFSCAN_MODELS_DIR, 3. project root + models.
func GetModelsDir(dir string) string {
	if dir != "" {
		return dir
	}
	if env := os.Getenv(EnvModelsDir); env != "" {
		return env
	}
	if root, err := findProjectRoot(); err == nil {
		return filepath.Join(root, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// Candidates lists the paths tried for a configured model path, in order.
func Candidates(path string) []string {
	if path == "" {
		path = filepath.Join(DefaultModelsDir, DetectorModel)
	}
	out := []string{path}
	if filepath.IsAbs(path) {
		return out
	}
	name := filepath.Base(path)
	if env := os.Getenv(EnvModelsDir); env != "" {
		out = append(out, filepath.Join(env, name))
	}
	if root, err := findProjectRoot(); err == nil {
		out = append(out, filepath.Join(root, path), filepath.Join(root, DefaultModelsDir, name))
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".shelfscan", DefaultModelsDir, name))
	}
	return dedupe(out)
}

// Resolve returns the first existing candidate for path.
func Resolve(path string) (string, error) {
	candidates := Candidates(path)
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s (tried %v)", ErrModelNotFound, path, candidates)
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		clean := filepath.Clean(p)
		if seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, p)
	}
	return out
}
