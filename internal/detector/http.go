package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

// HTTPDetector delegates inference to a sidecar service that accepts a
// multipart "file" upload and answers with JSON detections.
type HTTPDetector struct {
	url    string
	client *http.Client
}

type sidecarDetection struct {
	Box   []float64 `json:"box"`
	Score float64   `json:"score"`
	Class string    `json:"class"`
}

type sidecarResponse struct {
	Detections []sidecarDetection `json:"detections"`
}

// NewHTTPDetector creates a client for the inference service at url.
func NewHTTPDetector(url string, timeout time.Duration) *HTTPDetector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDetector{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// Detect uploads img and decodes the returned detections.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image, th Thresholds) ([]Detection, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	if err := th.Validate(); err != nil {
		return nil, err
	}

	payload, err := utils.JPEGBytes(img, 95)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	_ = writer.WriteField("conf", strconv.FormatFloat(th.Confidence, 'f', -1, 64))
	_ = writer.WriteField("iou", strconv.FormatFloat(th.IoU, 'f', -1, 64))
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url+"/detect", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed sidecarResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	bounds := img.Bounds()
	out := make([]Detection, 0, len(parsed.Detections))
	for i, sd := range parsed.Detections {
		if len(sd.Box) != 4 {
			return nil, fmt.Errorf("detection %d: box has %d coordinates, want 4", i, len(sd.Box))
		}
		if sd.Score < th.Confidence {
			continue
		}
		cls := sd.Class
		if cls == "" {
			cls = "book"
		}
		out = append(out, Detection{
			Box:   utils.NewBox(sd.Box[0], sd.Box[1], sd.Box[2], sd.Box[3]).Clamp(bounds),
			Score: sd.Score,
			Class: cls,
		})
	}
	return out, nil
}

// CheckHealth probes the sidecar's health endpoint.
func (d *HTTPDetector) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detector service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

// Info describes the sidecar backend.
func (d *HTTPDetector) Info() map[string]interface{} {
	return map[string]interface{}{
		"backend": BackendHTTP,
		"url":     d.url,
		"timeout": d.client.Timeout.String(),
	}
}

// Close is a no-op; the HTTP client holds no exclusive resources.
func (d *HTTPDetector) Close() error { return nil }
