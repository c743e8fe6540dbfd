package detector

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/shelfscan/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func TestHTTPDetector_Detect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detect", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("file")
		assert.NoError(t, err)
		assert.Equal(t, "0.3", r.FormValue("conf"))
		assert.Equal(t, "0.5", r.FormValue("iou"))

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"detections": []map[string]interface{}{
				{"box": []float64{10, 0, 30, 90}, "score": 0.8, "class": "book"},
				{"box": []float64{50, 0, 70, 120}, "score": 0.7},
				{"box": []float64{80, 0, 90, 50}, "score": 0.1, "class": "book"},
			},
		})
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL+"/", time.Second)
	got, err := d.Detect(context.Background(), testImage(100, 100), Thresholds{Confidence: 0.3, IoU: 0.5})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, utils.NewBox(10, 0, 30, 90), got[0].Box)
	assert.Equal(t, "book", got[1].Class, "missing class defaults to book")
	assert.Equal(t, utils.NewBox(50, 0, 70, 100), got[1].Box, "box is clamped to the image")
}

func TestHTTPDetector_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"bad json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		}},
		{"short box", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"detections":[{"box":[1,2,3],"score":0.9}]}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			d := NewHTTPDetector(srv.URL, time.Second)
			_, err := d.Detect(context.Background(), testImage(10, 10), DefaultThresholds())
			require.Error(t, err)
		})
	}
}

func TestHTTPDetector_CheckHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, time.Second)
	require.NoError(t, d.CheckHealth(context.Background()))
	healthy.Store(false)
	require.Error(t, d.CheckHealth(context.Background()))
	assert.Equal(t, BackendHTTP, d.Info()["backend"])
	require.NoError(t, d.Close())
}

func TestHTTPDetector_RejectsBadThresholds(t *testing.T) {
	d := NewHTTPDetector("http://127.0.0.1:1", time.Second)
	_, err := d.Detect(context.Background(), testImage(10, 10), Thresholds{Confidence: 0, IoU: 0.5})
	require.Error(t, err)
}
