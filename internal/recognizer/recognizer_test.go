package recognizer

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/MeKo-Tech/shelfscan/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRecognizer struct {
	seen image.Image
}

func (r *recordingRecognizer) Recognize(_ context.Context, crop image.Image) ([]Fragment, error) {
	r.seen = crop
	return []Fragment{{Text: "ok", Confidence: 1}}, nil
}

func (r *recordingRecognizer) Info() map[string]interface{} {
	return map[string]interface{}{"backend": "test"}
}

func (r *recordingRecognizer) Close() error { return nil }

func TestToAbsolute(t *testing.T) {
	in := []Fragment{
		{Text: "a", CropPolygon: []utils.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}},
		{Text: "b"},
	}
	out := ToAbsolute(in, image.Pt(100, 50))
	require.Len(t, out, 2)
	assert.Equal(t, []utils.Point{{X: 101, Y: 52}, {X: 103, Y: 54}}, out[0].AbsPolygon)
	assert.Equal(t, []utils.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}, out[0].CropPolygon)
	assert.Empty(t, out[1].AbsPolygon)
	assert.Nil(t, in[0].AbsPolygon, "input is not modified")
}

func TestEqualizing(t *testing.T) {
	inner := &recordingRecognizer{}
	r := Equalizing(inner)
	assert.Equal(t, r, Equalizing(r), "wrapping twice is a no-op")

	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := range 4 {
		for x := range 4 {
			src.Set(x, y, color.RGBA{R: uint8(100 + x*10), G: 50, B: 50, A: 255})
		}
	}
	frags, err := r.Recognize(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, frags, 1)

	_, isGray := inner.seen.(*image.Gray)
	assert.True(t, isGray, "crop is converted to grayscale before recognition")
	assert.Equal(t, true, r.Info()["equalize"])

	_, err = r.Recognize(context.Background(), nil)
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "tesseract"})
	assert.ErrorContains(t, err, "unknown recognizer backend")

	_, err = New(context.Background(), Config{Backend: BackendHTTP})
	assert.Error(t, err)

	r, err := New(context.Background(), Config{Backend: BackendHTTP, URL: "http://localhost:9", Equalize: true})
	require.NoError(t, err)
	assert.Equal(t, BackendHTTP, r.Info()["backend"])
	assert.Equal(t, true, r.Info()["equalize"])
}
