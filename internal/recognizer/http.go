package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

// HTTPRecognizer posts crops to an OCR sidecar at {url}/ocr.
type HTTPRecognizer struct {
	url    string
	client *http.Client
}

type sidecarFragment struct {
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	Polygon    [][2]float64 `json:"polygon"`
}

// sidecarResponse accepts either a fragment list or PaddleOCR's parallel arrays.
type sidecarResponse struct {
	Fragments []sidecarFragment `json:"fragments"`
	RecTexts  []string          `json:"rec_texts"`
	RecScores []float64         `json:"rec_scores"`
	RecPolys  [][][2]float64    `json:"rec_polys"`
}

// NewHTTPRecognizer creates a client for the OCR service at url.
func NewHTTPRecognizer(url string, timeout time.Duration) *HTTPRecognizer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPRecognizer{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPRecognizer) Recognize(ctx context.Context, crop image.Image) ([]Fragment, error) {
	if crop == nil {
		return nil, errors.New("input image is nil")
	}
	payload, err := utils.PNGBytes(crop)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "crop.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, fmt.Errorf("copy crop data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url+"/ocr", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ocr failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed sidecarResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parsed.fragments()
}

func (r sidecarResponse) fragments() ([]Fragment, error) {
	if len(r.Fragments) > 0 {
		out := make([]Fragment, 0, len(r.Fragments))
		for _, f := range r.Fragments {
			out = append(out, Fragment{
				Text:        f.Text,
				Confidence:  f.Confidence,
				CropPolygon: toPoints(f.Polygon),
			})
		}
		return out, nil
	}

	if len(r.RecScores) != len(r.RecTexts) {
		return nil, fmt.Errorf("rec_texts has %d entries but rec_scores has %d", len(r.RecTexts), len(r.RecScores))
	}
	out := make([]Fragment, 0, len(r.RecTexts))
	for i, text := range r.RecTexts {
		f := Fragment{Text: text, Confidence: r.RecScores[i]}
		if i < len(r.RecPolys) {
			f.CropPolygon = toPoints(r.RecPolys[i])
		}
		out = append(out, f)
	}
	return out, nil
}

func toPoints(poly [][2]float64) []utils.Point {
	if len(poly) == 0 {
		return nil
	}
	pts := make([]utils.Point, len(poly))
	for i, p := range poly {
		pts[i] = utils.Point{X: p[0], Y: p[1]}
	}
	return pts
}

func (h *HTTPRecognizer) Info() map[string]interface{} {
	return map[string]interface{}{
		"backend": BackendHTTP,
		"url":     h.url,
		"timeout": h.client.Timeout.String(),
	}
}

func (h *HTTPRecognizer) Close() error { return nil }
