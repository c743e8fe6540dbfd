// Package detector locates book spines in a shelf photograph.
//
// Two backends satisfy the Detector interface: an in-process YOLO model run
// through ONNX Runtime, and a sidecar HTTP inference service. Both return
// unordered detections in source-image pixel coordinates.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/MeKo-Tech/shelfscan/internal/onnx"
	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

const (
	BackendONNX = "onnx"
	BackendHTTP = "http"
)

// Detection is one detected object.
type Detection struct {
	Box   utils.Box `json:"box"`
	Score float64   `json:"score"`
	Class string    `json:"class"`
}

// Thresholds control which candidates survive decoding.
type Thresholds struct {
	Confidence float64 `json:"conf"`
	IoU        float64 `json:"iou"`
}

// DefaultThresholds returns the thresholds used when a request sets none.
func DefaultThresholds() Thresholds {
	return Thresholds{Confidence: 0.6, IoU: 0.5}
}

// Validate checks that both thresholds lie in (0, 1].
func (t Thresholds) Validate() error {
	if t.Confidence <= 0 || t.Confidence > 1 {
		return fmt.Errorf("confidence threshold must be in (0,1], got %v", t.Confidence)
	}
	if t.IoU <= 0 || t.IoU > 1 {
		return fmt.Errorf("iou threshold must be in (0,1], got %v", t.IoU)
	}
	return nil
}

// Detector finds objects in an image. Implementations must be safe for
// concurrent use.
type Detector interface {
	Detect(ctx context.Context, img image.Image, th Thresholds) ([]Detection, error)
	Info() map[string]interface{}
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend    string
	ModelPath  string
	ImageSize  int
	ClassNames []string
	URL        string
	Timeout    time.Duration
	Runtime    onnx.RuntimeConfig
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendONNX,
		ModelPath:  "models/bookshelf.onnx",
		ImageSize:  640,
		ClassNames: []string{"book"},
		Timeout:    30 * time.Second,
	}
}

// New builds the backend named by cfg.Backend.
func New(cfg Config) (Detector, error) {
	switch cfg.Backend {
	case BackendONNX, "":
		return NewYOLODetector(cfg)
	case BackendHTTP:
		if cfg.URL == "" {
			return nil, errors.New("detector url is required for the http backend")
		}
		return NewHTTPDetector(cfg.URL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
	}
}

func className(names []string, idx int) string {
	if idx >= 0 && idx < len(names) {
		return names[idx]
	}
	return fmt.Sprintf("class_%d", idx)
}
