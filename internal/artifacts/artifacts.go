// Package artifacts stores the debug images produced by a scan and serves
// them back by name.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"

	// RoutePrefix is the public path artifacts are served under.
	RoutePrefix = "/debug_crops/"

	jpegQuality = 90
)

var (
	ErrNotFound    = errors.New("artifact not found")
	ErrInvalidName = errors.New("invalid artifact name")

	validName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// Store persists named blobs.
type Store interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
	Get(ctx context.Context, name string) (io.ReadCloser, error)
}

// Config selects a backend.
type Config struct {
	Enabled  bool
	Backend  string
	Dir      string
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

func DefaultConfig() Config {
	return Config{Enabled: true, Backend: BackendLocal, Dir: "debug_crops"}
}

// New builds the configured store. A disabled config returns nil.
func New(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Backend {
	case BackendLocal, "":
		return NewLocal(cfg.Dir)
	case BackendS3:
		return NewS3(S3Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix, Region: cfg.Region, Endpoint: cfg.Endpoint})
	default:
		return nil, fmt.Errorf("unknown artifacts backend %q", cfg.Backend)
	}
}

// ValidateName rejects anything that could escape the artifact namespace.
func ValidateName(name string) error {
	if name == "" || strings.Contains(name, "..") || !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// ContentType guesses the MIME type from the name's extension.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Ref is the public URL path of an artifact.
func Ref(name string) string { return RoutePrefix + name }

func OriginalName(scanID string) string  { return scanID + "_original.jpg" }
func CompositeName(scanID string) string { return scanID + "_all_books_detected.jpg" }

func CropName(scanID string, i int) string {
	return fmt.Sprintf("%s_book_%d.jpg", scanID, i)
}

func OCRCropName(scanID string, i int) string {
	return fmt.Sprintf("%s_book_%d_ocr.jpg", scanID, i)
}

// SaveJPEG encodes img and stores it under name, returning its public ref.
func SaveJPEG(ctx context.Context, s Store, name string, img image.Image) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	data, err := utils.JPEGBytes(img, jpegQuality)
	if err != nil {
		return "", err
	}
	if err := s.Put(ctx, name, data, "image/jpeg"); err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	return Ref(name), nil
}
