package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/shelfscan/internal/mempool"
	"github.com/MeKo-Tech/shelfscan/internal/models"
	"github.com/MeKo-Tech/shelfscan/internal/onnx"
	"github.com/MeKo-Tech/shelfscan/internal/utils"
	"github.com/yalue/onnxruntime_go"
)

// YOLODetector runs a YOLO object-detection model with ONNX Runtime.
type YOLODetector struct {
	config     Config
	session    *onnxruntime_go.DynamicAdvancedSession
	inputInfo  onnxruntime_go.InputOutputInfo
	outputInfo onnxruntime_go.InputOutputInfo
	mu         sync.RWMutex
}

// NewYOLODetector loads the model at cfg.ModelPath.
func NewYOLODetector(cfg Config) (*YOLODetector, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	path, err := models.Resolve(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	cfg.ModelPath = path
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = DefaultConfig().ImageSize
	}
	if len(cfg.ClassNames) == 0 {
		cfg.ClassNames = DefaultConfig().ClassNames
	}
	if err := cfg.Runtime.Validate(); err != nil {
		return nil, err
	}

	slog.Debug("Initializing detector",
		"model_path", cfg.ModelPath,
		"image_size", cfg.ImageSize,
		"gpu_enabled", cfg.Runtime.UseGPU)

	if err := onnx.Initialize(cfg.Runtime); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("expected 1 input and 1 output, got %d and %d", len(inputs), len(outputs))
	}
	if len(inputs[0].Dimensions) != 4 {
		return nil, fmt.Errorf("expected 4D input tensor, got %dD", len(inputs[0].Dimensions))
	}

	opts, err := onnx.NewSessionOptions(cfg.Runtime)
	if err != nil {
		return nil, err
	}
	defer func() { _ = opts.Destroy() }()

	session, err := onnxruntime_go.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	slog.Debug("Detector initialized successfully")
	return &YOLODetector{
		config:     cfg,
		session:    session,
		inputInfo:  inputs[0],
		outputInfo: outputs[0],
	}, nil
}

// Detect runs the model on img and returns NMS-filtered detections.
func (d *YOLODetector) Detect(ctx context.Context, img image.Image, th Thresholds) ([]Detection, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	if err := th.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	canvas, lb, err := utils.Letterbox(img, d.config.ImageSize)
	if err != nil {
		return nil, fmt.Errorf("preprocessing failed: %w", err)
	}
	data, w, h, err := utils.NormalizeImage(canvas)
	if err != nil {
		return nil, fmt.Errorf("preprocessing failed: %w", err)
	}
	defer mempool.PutFloat32(data)
	tensor, err := onnx.NewImageTensor(data, 3, h, w)
	if err != nil {
		return nil, err
	}

	out, shape, err := d.run(tensor)
	if err != nil {
		return nil, err
	}
	defer mempool.PutFloat32(out)

	dets, err := decodeYOLO(out, shape, lb, img.Bounds(), th, d.config.ClassNames)
	if err != nil {
		return nil, err
	}

	slog.Debug("Detection completed",
		"detections", len(dets),
		"duration_ms", time.Since(start).Milliseconds())
	return dets, nil
}

func (d *YOLODetector) run(t onnx.Tensor) ([]float32, []int64, error) {
	if err := t.Verify(); err != nil {
		return nil, nil, fmt.Errorf("invalid tensor: %w", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.session == nil {
		return nil, nil, errors.New("detector session is closed")
	}

	input, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(t.Shape...), t.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() { _ = input.Destroy() }()

	outputs := []onnxruntime_go.Value{nil}
	if err := d.session.Run([]onnxruntime_go.Value{input}, outputs); err != nil {
		return nil, nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() { _ = outputs[0].Destroy() }()

	ft, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("expected float32 tensor, got %T", outputs[0])
	}

	src := ft.GetData()
	data := mempool.GetFloat32(len(src))
	copy(data, src)
	shape := append([]int64(nil), ft.GetShape()...)
	return data, shape, nil
}

// Info describes the loaded model.
func (d *YOLODetector) Info() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return map[string]interface{}{
		"backend":      BackendONNX,
		"model_path":   d.config.ModelPath,
		"image_size":   d.config.ImageSize,
		"class_names":  d.config.ClassNames,
		"input_name":   d.inputInfo.Name,
		"output_name":  d.outputInfo.Name,
		"input_shape":  d.inputInfo.Dimensions,
		"output_shape": d.outputInfo.Dimensions,
		"gpu":          d.config.Runtime.UseGPU,
	}
}

// Close releases the session. The ONNX environment stays initialized for
// the life of the process.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.session = nil
	return err
}
