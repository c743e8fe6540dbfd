package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/MeKo-Tech/shelfscan/internal/artifacts"
	"github.com/MeKo-Tech/shelfscan/internal/pipeline"
	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// infoHandler returns the pipeline component description.
func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	info := s.scanner.Info()
	info["version"] = s.version
	s.writeJSON(w, http.StatusOK, info)
}

// scanHandler runs one multipart upload through the whole pipeline.
func (s *Server) scanHandler(w http.ResponseWriter, r *http.Request) {
	s.serveScan(w, r, pipeline.DepthFull)
}

// detectHandler runs detection and ordering only and returns the boxes with
// the annotated composite.
func (s *Server) detectHandler(w http.ResponseWriter, r *http.Request) {
	s.serveScan(w, r, pipeline.DepthDetect)
}

// detectAndOCRHandler stops after recognition, with no model or catalogue calls.
func (s *Server) detectAndOCRHandler(w http.ResponseWriter, r *http.Request) {
	s.serveScan(w, r, pipeline.DepthOCR)
}

func (s *Server) serveScan(w http.ResponseWriter, r *http.Request, depth pipeline.Depth) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, params, ok := s.parseScanRequest(w, r, depth == pipeline.DepthFull)
	if !ok {
		scansTotal.WithLabelValues("http", "rejected").Inc()
		return
	}
	img, _, err := utils.DecodeImage(data)
	if err != nil {
		scansTotal.WithLabelValues("http", "rejected").Inc()
		s.writeError(w, "Invalid image format", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.scanner.Scan(ctx, pipeline.ScanRequest{
		Image:      img,
		ShelfID:    params.ShelfID,
		Row:        params.Row,
		BaseColumn: params.BaseColumn,
		Thresholds: params.thresholds(s.thresholds),
		Depth:      depth,
	})
	scanDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidRequest) {
			scansTotal.WithLabelValues("http", "rejected").Inc()
			s.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		scansTotal.WithLabelValues("http", "error").Inc()
		s.logger.Error("scan failed", "error", err)
		s.writeError(w, fmt.Sprintf("Scan failed: %v", err), http.StatusInternalServerError)
		return
	}
	scansTotal.WithLabelValues("http", "success").Inc()
	scanRegions.Observe(float64(len(res.Regions)))

	format := r.FormValue("format")
	if format == "" {
		format = r.URL.Query().Get("format")
	}
	switch format {
	case "text":
		s.writeFormatted(w, "text/plain; charset=utf-8", res, pipeline.ToPlainText)
	case "csv":
		s.writeFormatted(w, "text/csv", res, pipeline.ToCSV)
	default:
		s.writeJSON(w, http.StatusOK, ScanResponse{Success: true, ScanResult: res})
	}
}

// parseScanRequest enforces the upload limit, reads the image part and
// validates the form. shelf_id may be omitted when requireShelf is false.
// On failure the response has been written.
func (s *Server) parseScanRequest(w http.ResponseWriter, r *http.Request, requireShelf bool) ([]byte, ScanParams, bool) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, "File too large", http.StatusRequestEntityTooLarge)
		} else {
			s.writeError(w, "Failed to parse form data", http.StatusBadRequest)
		}
		return nil, ScanParams{}, false
	}

	params, err := parseScanParams(r.FormValue, requireShelf)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return nil, ScanParams{}, false
	}
	validate := s.validate.Struct
	if !requireShelf && params.ShelfID == 0 {
		validate = func(v interface{}) error { return s.validate.StructExcept(v, "ShelfID") }
	}
	if err := validate(params); err != nil {
		s.writeValidationError(w, err)
		return nil, ScanParams{}, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("image")
	}
	if err != nil {
		s.writeError(w, "No image file provided", http.StatusBadRequest)
		return nil, ScanParams{}, false
	}
	defer func() { _ = file.Close() }()
	if header.Size > limit {
		s.writeError(w, "File too large", http.StatusRequestEntityTooLarge)
		return nil, ScanParams{}, false
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, "Failed to read image data", http.StatusBadRequest)
		return nil, ScanParams{}, false
	}
	uploadSizeBytes.Observe(float64(len(data)))
	if ct := utils.SniffContentType(data); !utils.AllowedUploadTypes[ct] {
		s.writeError(w, "Unsupported file type: "+ct, http.StatusBadRequest)
		return nil, ScanParams{}, false
	}
	return data, params, true
}

// artifactHandler serves debug images by name.
func (s *Server) artifactHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, artifacts.RoutePrefix)
	if err := artifacts.ValidateName(name); err != nil {
		s.writeError(w, "Invalid file name", http.StatusBadRequest)
		return
	}
	if s.artifacts == nil {
		s.writeError(w, "Not found", http.StatusNotFound)
		return
	}

	rc, err := s.artifacts.Get(r.Context(), name)
	if errors.Is(err, artifacts.ErrNotFound) {
		s.writeError(w, "Not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("artifact read failed", "name", name, "error", err)
		s.writeError(w, "Failed to read file", http.StatusInternalServerError)
		return
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		s.writeError(w, "Failed to read file", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", artifacts.ContentType(name))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
}

func (s *Server) writeFormatted(w http.ResponseWriter, contentType string, res *pipeline.ScanResult, format func(*pipeline.ScanResult) (string, error)) {
	out, err := format(res)
	if err != nil {
		s.writeError(w, fmt.Sprintf("formatting failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = io.WriteString(w, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, status int) {
	s.writeJSON(w, status, ErrorResponse{Success: false, Error: message})
}

func (s *Server) writeValidationError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Success: false, Error: "Invalid parameters"}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			resp.Fields = append(resp.Fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	s.writeJSON(w, http.StatusBadRequest, resp)
}
