// Package recognizer reads text from a single spine crop.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

const (
	BackendVision = "vision"
	BackendHTTP   = "http"
)

// Fragment is one piece of recognized text.
type Fragment struct {
	Text        string        `json:"text"`
	Confidence  float64       `json:"confidence"`
	CropPolygon []utils.Point `json:"polygon_crop"`
	AbsPolygon  []utils.Point `json:"polygon_absolute"`
}

// Recognizer reads text from an image region. Implementations must be safe
// for concurrent use.
type Recognizer interface {
	Recognize(ctx context.Context, crop image.Image) ([]Fragment, error)
	Info() map[string]interface{}
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend         string
	URL             string
	Timeout         time.Duration
	CredentialsFile string
	CredentialsJSON string
	LanguageHints   []string
	Equalize        bool
}

// DefaultConfig returns the recognizer defaults.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendVision,
		Timeout:       15 * time.Second,
		LanguageHints: []string{"fr", "en"},
		Equalize:      true,
	}
}

// New builds the backend named by cfg.Backend, wrapped with grayscale
// equalization when cfg.Equalize is set.
func New(ctx context.Context, cfg Config) (Recognizer, error) {
	var (
		r   Recognizer
		err error
	)
	switch cfg.Backend {
	case BackendVision, "":
		r, err = NewVisionRecognizer(ctx, cfg)
	case BackendHTTP:
		if cfg.URL == "" {
			return nil, errors.New("recognizer url is required for the http backend")
		}
		r = NewHTTPRecognizer(cfg.URL, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown recognizer backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Equalize {
		r = Equalizing(r)
	}
	return r, nil
}

// ToAbsolute fills AbsPolygon for each fragment by translating CropPolygon
// by the crop's origin in the source image.
func ToAbsolute(frags []Fragment, origin image.Point) []Fragment {
	out := make([]Fragment, len(frags))
	for i, f := range frags {
		f.AbsPolygon = utils.OffsetPoints(f.CropPolygon, float64(origin.X), float64(origin.Y))
		out[i] = f
	}
	return out
}

type equalizing struct {
	Recognizer
}

// Equalizing wraps r so every crop is converted to histogram-equalized
// grayscale before recognition.
func Equalizing(r Recognizer) Recognizer {
	if _, ok := r.(equalizing); ok {
		return r
	}
	return equalizing{Recognizer: r}
}

func (e equalizing) Recognize(ctx context.Context, crop image.Image) ([]Fragment, error) {
	if crop == nil {
		return nil, errors.New("input image is nil")
	}
	return e.Recognizer.Recognize(ctx, utils.EqualizeGray(crop))
}

func (e equalizing) Info() map[string]interface{} {
	info := e.Recognizer.Info()
	info["equalize"] = true
	return info
}
